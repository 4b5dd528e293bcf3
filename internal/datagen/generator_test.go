//-------------------------------------------------------------------------
//
// pgEdge Project Warehouse
//
// Copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

package datagen

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgEdge/pgedge-pmdw/internal/model"
)

var genNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func testConfig() Config {
	return Config{Clients: 5, Employees: 20, Teams: 4, Projects: 25, TasksPerProject: 6, Now: genNow}
}

func TestGenerateDeterministic(t *testing.T) {
	a := Generate(NewFakerWithSeed(42), testConfig())
	b := Generate(NewFakerWithSeed(42), testConfig())
	assert.Equal(t, a, b)

	c := Generate(NewFakerWithSeed(43), testConfig())
	assert.NotEqual(t, a.Projects, c.Projects)
}

func TestGenerateCounts(t *testing.T) {
	snap := Generate(NewFakerWithSeed(1), testConfig())
	assert.Len(t, snap.Clients, 5)
	assert.Len(t, snap.Employees, 20)
	assert.Len(t, snap.Teams, 4)
	assert.Len(t, snap.Projects, 25)
	assert.NotEmpty(t, snap.Tasks)
	assert.NotEmpty(t, snap.Memberships)
	assert.Empty(t, snap.Skipped)
}

func TestGenerateReferentialIntegrity(t *testing.T) {
	snap := Generate(NewFakerWithSeed(3), testConfig())

	clients := make(map[int64]bool)
	for _, c := range snap.Clients {
		clients[c.ID] = true
	}
	employees := make(map[int64]bool)
	emails := make(map[string]bool)
	for _, e := range snap.Employees {
		employees[e.ID] = true
		assert.False(t, emails[e.Email], "duplicate email %s", e.Email)
		emails[e.Email] = true
		assert.True(t, e.HourlyRate.IsPositive())
	}
	teams := make(map[int64]bool)
	for _, tm := range snap.Teams {
		teams[tm.ID] = true
		if tm.LeadID != nil {
			assert.True(t, employees[*tm.LeadID])
		}
	}
	for _, m := range snap.Memberships {
		assert.True(t, teams[m.TeamID])
		assert.True(t, employees[m.EmployeeID])
	}

	projects := make(map[int64]model.Project)
	for _, p := range snap.Projects {
		projects[p.ID] = p
		assert.True(t, clients[p.ClientID], "project %d client", p.ID)
		assert.True(t, employees[p.ManagerID], "project %d manager", p.ID)
		assert.False(t, p.EndPlan.Before(p.Start))
		if p.EndReal != nil {
			assert.False(t, p.EndReal.Before(p.Start))
		}
		assert.False(t, p.PlannedBudget.IsNegative())
		assert.False(t, p.ActualCost.IsNegative())
	}

	tasks := make(map[int64]bool)
	for _, tk := range snap.Tasks {
		assert.False(t, tasks[tk.ID], "duplicate task id %d", tk.ID)
		tasks[tk.ID] = true
		_, ok := projects[tk.ProjectID]
		assert.True(t, ok)
		if tk.AssigneeID != nil {
			assert.True(t, employees[*tk.AssigneeID])
		}
		if tk.EndReal != nil {
			assert.False(t, tk.EndReal.Before(tk.Start))
		}
		assert.False(t, tk.ActualHours.IsNegative())
	}
	for _, a := range snap.Assignments {
		assert.True(t, tasks[a.TaskID])
		assert.True(t, teams[a.TeamID])
	}
}

func TestGenerateStates(t *testing.T) {
	cfg := testConfig()
	cfg.Projects = 200
	snap := Generate(NewFakerWithSeed(9), cfg)

	seen := make(map[model.State]int)
	for _, p := range snap.Projects {
		seen[p.State]++
		if p.State == model.StateCompleted {
			require.NotNil(t, p.EndReal, "completed project %d", p.ID)
		}
	}
	assert.Positive(t, seen[model.StateCompleted])
	assert.Positive(t, seen[model.StateInProgress])

	for _, tk := range snap.Tasks {
		if tk.State == model.StatePlanning {
			assert.True(t, tk.ActualHours.IsZero())
		}
	}
}

func TestGenerateNoTasks(t *testing.T) {
	cfg := testConfig()
	cfg.TasksPerProject = 0
	snap := Generate(NewFakerWithSeed(1), cfg)
	assert.Len(t, snap.Projects, 25)
	assert.Empty(t, snap.Tasks)
	assert.Empty(t, snap.Assignments)
}

func TestGenerateDefaultsNow(t *testing.T) {
	cfg := testConfig()
	cfg.Now = time.Time{}
	snap := Generate(NewFakerWithSeed(1), cfg)
	require.NotEmpty(t, snap.Clients)
	assert.False(t, snap.Clients[0].UpdatedAt.IsZero())
}
