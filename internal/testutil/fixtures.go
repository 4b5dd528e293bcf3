//-------------------------------------------------------------------------
//
// pgEdge Project Warehouse
//
// Copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

package testutil

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/pgEdge/pgedge-pmdw/internal/model"
)

// Stamp is the updated_at of every fixture record.
var Stamp = time.Date(2024, time.March, 1, 10, 0, 0, 0, time.UTC)

// Fixture ids.
const (
	ClientID   int64 = 1
	ManagerID  int64 = 1
	DevID      int64 = 2
	QAID       int64 = 3
	TeamCore   int64 = 10
	TeamQA     int64 = 20
	ProjectID  int64 = 100
	TaskBuild  int64 = 1001
	TaskVerify int64 = 1002
)

// Day returns midnight UTC of the given date.
func Day(y int, m time.Month, d int) time.Time {
	return model.Date(y, m, d)
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}

// Dec parses a decimal literal.
func Dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// Base returns reference data with no projects: one client, a manager and
// two engineers in two teams.
func Base() *model.Snapshot {
	return &model.Snapshot{
		Clients: []model.Client{
			{ID: ClientID, Name: "Acme Corp", Industry: "Manufacturing", Country: "DE", Email: "ops@acme.test", UpdatedAt: Stamp},
		},
		Employees: []model.Employee{
			{ID: ManagerID, FirstName: "Ana", LastName: "Silva", Email: "ana@pm.test", Role: "manager",
				HireDate: Ptr(Day(2019, time.May, 6)), HourlyRate: Dec("95.00"), UpdatedAt: Stamp},
			{ID: DevID, FirstName: "Ben", LastName: "Okafor", Email: "ben@pm.test", Role: "engineer",
				HourlyRate: Dec("70.00"), UpdatedAt: Stamp},
			{ID: QAID, FirstName: "Chen", LastName: "Wu", Email: "chen@pm.test", Role: "qa",
				HourlyRate: Dec("60.50"), UpdatedAt: Stamp},
		},
		Teams: []model.Team{
			{ID: TeamCore, Name: "Core", Department: "Engineering", LeadID: Ptr(DevID), UpdatedAt: Stamp},
			{ID: TeamQA, Name: "Quality", Department: "Engineering", UpdatedAt: Stamp},
		},
		Memberships: []model.TeamMembership{
			{TeamID: TeamCore, EmployeeID: DevID},
			{TeamID: TeamCore, EmployeeID: QAID},
			{TeamID: TeamQA, EmployeeID: QAID},
		},
	}
}

// ScenarioA is one completed project planned for 30 days and finished in
// 35, budget 1000 and cost 900, with two completed tasks.
func ScenarioA() *model.Snapshot {
	s := Base()
	start := Day(2024, time.January, 1)
	s.Projects = []model.Project{{
		ID: ProjectID, Name: "Plant rollout", ClientID: ClientID, ManagerID: ManagerID,
		State:         model.StateCompleted,
		Start:         start,
		EndPlan:       start.AddDate(0, 0, 30),
		EndReal:       Ptr(start.AddDate(0, 0, 35)),
		PlannedBudget: Dec("1000"),
		ActualCost:    Dec("900"),
		UpdatedAt:     Stamp,
	}}
	s.Tasks = []model.Task{
		{
			ID: TaskBuild, ProjectID: ProjectID, Name: "Build", AssigneeID: Ptr(DevID),
			State: model.StateCompleted, Priority: "high",
			Start: start, EndPlan: start.AddDate(0, 0, 20), EndReal: Ptr(start.AddDate(0, 0, 18)),
			PlannedHours: Dec("40"), ActualHours: Dec("50"), UpdatedAt: Stamp,
		},
		{
			ID: TaskVerify, ProjectID: ProjectID, Name: "Verify", AssigneeID: Ptr(QAID),
			State: model.StateCompleted, Priority: "medium",
			Start: start.AddDate(0, 0, 20), EndPlan: start.AddDate(0, 0, 30), EndReal: Ptr(start.AddDate(0, 0, 35)),
			PlannedHours: Dec("20"), ActualHours: Dec("10"), UpdatedAt: Stamp,
		},
	}
	s.Assignments = []model.TaskTeamAssignment{
		{TaskID: TaskBuild, TeamID: TeamCore},
		{TaskID: TaskVerify, TeamID: TeamQA},
		{TaskID: TaskVerify, TeamID: TeamCore},
	}
	return s
}

// ScenarioB is ScenarioA with the project still in progress.
func ScenarioB() *model.Snapshot {
	s := ScenarioA()
	s.Projects[0].State = model.StateInProgress
	s.Projects[0].EndReal = nil
	return s
}

// ScenarioD is ScenarioA with the second task marked completed but
// missing its actual end date.
func ScenarioD() *model.Snapshot {
	s := ScenarioA()
	s.Tasks[1].EndReal = nil
	return s
}
