//-------------------------------------------------------------------------
//
// pgEdge Project Warehouse
//
// Copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

// Package model holds the typed records moved by the warehouse pipeline:
// operational source entities and the star-schema rows built from them.
package model

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pgEdge/pgedge-pmdw/internal/etlerr"
)

// State is the lifecycle state of a project or task.
type State string

// Lifecycle states as stored in the source schema.
const (
	StatePlanning   State = "planning"
	StateInProgress State = "in_progress"
	StatePaused     State = "paused"
	StateCompleted  State = "completed"
	StateCancelled  State = "cancelled"
)

// TerminalStates are the states that produce fact rows.
var TerminalStates = []State{StateCompleted, StateCancelled}

// ParseState converts source text into a State.
func ParseState(s string) (State, error) {
	switch st := State(s); st {
	case StatePlanning, StateInProgress, StatePaused, StateCompleted, StateCancelled:
		return st, nil
	default:
		return "", fmt.Errorf("unknown lifecycle state %q", s)
	}
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateCancelled
}

// Client is a customer that commissions projects.
type Client struct {
	ID        int64
	Name      string
	Industry  string
	Country   string
	Email     string
	UpdatedAt time.Time
}

// Employee is a member of staff that manages projects or works on tasks.
type Employee struct {
	ID         int64
	FirstName  string
	LastName   string
	Email      string
	Role       string
	HireDate   *time.Time
	HourlyRate decimal.Decimal
	UpdatedAt  time.Time
}

// Team groups employees.
type Team struct {
	ID         int64
	Name       string
	Department string
	LeadID     *int64
	UpdatedAt  time.Time
}

// TeamMembership links an employee to a team.
type TeamMembership struct {
	TeamID     int64
	EmployeeID int64
	JoinedAt   *time.Time
}

// Project is a unit of client work. Actual cost is tracked only here.
type Project struct {
	ID            int64
	Name          string
	ClientID      int64
	ManagerID     int64
	State         State
	Start         time.Time
	EndPlan       time.Time
	EndReal       *time.Time
	PlannedBudget decimal.Decimal
	ActualCost    decimal.Decimal
	UpdatedAt     time.Time
}

// Task is a piece of work inside a project.
type Task struct {
	ID           int64
	ProjectID    int64
	Name         string
	AssigneeID   *int64
	State        State
	Priority     string
	Start        time.Time
	EndPlan      time.Time
	EndReal      *time.Time
	PlannedHours decimal.Decimal
	ActualHours  decimal.Decimal
	UpdatedAt    time.Time
}

// TaskTeamAssignment links a task to a team working on it.
type TaskTeamAssignment struct {
	TaskID int64
	TeamID int64
}

// Snapshot is the normalized result of one extraction.
type Snapshot struct {
	Clients     []Client
	Employees   []Employee
	Teams       []Team
	Memberships []TeamMembership
	Projects    []Project
	Tasks       []Task
	Assignments []TaskTeamAssignment

	// Skipped holds rows that could not be normalized.
	Skipped []*etlerr.PartialRowError
}

// TasksByProject groups tasks by owning project, ordered by task id.
func (s *Snapshot) TasksByProject() map[int64][]Task {
	out := make(map[int64][]Task)
	for _, t := range s.Tasks {
		out[t.ProjectID] = append(out[t.ProjectID], t)
	}
	for _, tasks := range out {
		sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID < tasks[j].ID })
	}
	return out
}

// TeamByTask returns the lowest team id assigned to each task.
func (s *Snapshot) TeamByTask() map[int64]int64 {
	out := make(map[int64]int64)
	for _, a := range s.Assignments {
		if cur, ok := out[a.TaskID]; !ok || a.TeamID < cur {
			out[a.TaskID] = a.TeamID
		}
	}
	return out
}

// MaxUpdatedAt returns the latest updated_at across all entities, or nil
// when the snapshot is empty.
func (s *Snapshot) MaxUpdatedAt() *time.Time {
	var latest time.Time
	seen := false
	observe := func(t time.Time) {
		if !seen || t.After(latest) {
			latest = t
			seen = true
		}
	}
	for _, c := range s.Clients {
		observe(c.UpdatedAt)
	}
	for _, e := range s.Employees {
		observe(e.UpdatedAt)
	}
	for _, t := range s.Teams {
		observe(t.UpdatedAt)
	}
	for _, p := range s.Projects {
		observe(p.UpdatedAt)
	}
	for _, t := range s.Tasks {
		observe(t.UpdatedAt)
	}
	if !seen {
		return nil
	}
	return &latest
}

// Counts returns the number of records per entity.
func (s *Snapshot) Counts() map[string]int {
	return map[string]int{
		"client":          len(s.Clients),
		"employee":        len(s.Employees),
		"team":            len(s.Teams),
		"team_membership": len(s.Memberships),
		"project":         len(s.Projects),
		"task":            len(s.Tasks),
		"task_team":       len(s.Assignments),
	}
}

// Date returns midnight UTC of the given day.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns the whole number of calendar days from a to b.
func DaysBetween(a, b time.Time) int {
	a = Date(a.Year(), a.Month(), a.Day())
	b = Date(b.Year(), b.Month(), b.Day())
	return int(b.Sub(a).Hours() / 24)
}
