//-------------------------------------------------------------------------
//
// pgEdge Project Warehouse
//
// Copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

// Package datagen generates fake operational project-management data for
// local development and integration tests.
//
// Generation is a pure function of the Faker and the Config: every lookup
// set it needs lives inside one Generate call, so two calls never share
// state.
package datagen

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/pgEdge/pgedge-pmdw/internal/db"
	"github.com/pgEdge/pgedge-pmdw/internal/logging"
	"github.com/pgEdge/pgedge-pmdw/internal/model"
)

// Config sizes the generated data set.
type Config struct {
	Clients         int
	Employees       int
	Teams           int
	Projects        int
	TasksPerProject int

	// Now stamps updated_at and bounds project dates.
	Now time.Time
}

var (
	industries = []string{"Manufacturing", "Finance", "Healthcare", "Retail", "Energy", "Logistics", "Public Sector"}
	roles      = []string{"engineer", "analyst", "designer", "qa", "consultant"}
	priorities = []string{"low", "medium", "high", "critical"}
	projStates = []model.State{
		model.StateCompleted, model.StateCancelled, model.StateInProgress, model.StatePlanning, model.StatePaused,
	}
	projWeights = []int{45, 10, 25, 10, 10}
)

// generator holds the per-call state of Generate.
type generator struct {
	f    *Faker
	cfg  Config
	snap *model.Snapshot

	managers []int64
	staff    []int64
	teamIDs  []int64
	emails   map[string]bool
	nextTask int64
}

// Generate builds a complete source data set.
func Generate(f *Faker, cfg Config) *model.Snapshot {
	if cfg.Now.IsZero() {
		cfg.Now = time.Now().UTC()
	}
	g := &generator{
		f:        f,
		cfg:      cfg,
		snap:     &model.Snapshot{},
		emails:   make(map[string]bool),
		nextTask: 1,
	}
	g.clients()
	g.employees()
	g.teams()
	for id := int64(1); id <= int64(cfg.Projects); id++ {
		g.project(id)
	}
	return g.snap
}

// email returns an address not yet handed out in this data set.
func (g *generator) email(first, last, domain string) string {
	base := fmt.Sprintf("%s.%s", first, last)
	addr := Truncate(base, 100) + "@" + domain
	for n := 2; g.emails[addr]; n++ {
		addr = fmt.Sprintf("%s%d@%s", Truncate(base, 100), n, domain)
	}
	g.emails[addr] = true
	return addr
}

func (g *generator) clients() {
	for id := int64(1); id <= int64(g.cfg.Clients); id++ {
		g.snap.Clients = append(g.snap.Clients, model.Client{
			ID:        id,
			Name:      Truncate(g.f.Company(), 120),
			Industry:  Choose(g.f, industries),
			Country:   Truncate(g.f.Country(), 60),
			Email:     Truncate(g.f.Email(), 120),
			UpdatedAt: g.cfg.Now,
		})
	}
}

func (g *generator) employees() {
	// Roughly one manager per five employees, at least one.
	managers := max(1, g.cfg.Employees/5)
	hireFrom := g.cfg.Now.AddDate(-10, 0, 0)

	for id := int64(1); id <= int64(g.cfg.Employees); id++ {
		first, last := g.f.FirstName(), g.f.LastName()
		role := Choose(g.f, roles)
		rate := g.f.Amount(35, 120)
		if id <= int64(managers) {
			role = "manager"
			rate = g.f.Amount(90, 180)
			g.managers = append(g.managers, id)
		} else {
			g.staff = append(g.staff, id)
		}
		hire := g.f.Date(hireFrom, g.cfg.Now)
		g.snap.Employees = append(g.snap.Employees, model.Employee{
			ID:         id,
			FirstName:  Truncate(first, 60),
			LastName:   Truncate(last, 60),
			Email:      g.email(first, last, "pm.example"),
			Role:       role,
			HireDate:   &hire,
			HourlyRate: rate,
			UpdatedAt:  g.cfg.Now,
		})
	}
	if len(g.staff) == 0 {
		g.staff = g.managers
	}
}

func (g *generator) teams() {
	for id := int64(1); id <= int64(g.cfg.Teams); id++ {
		g.teamIDs = append(g.teamIDs, id)
	}

	members := make(map[int64][]int64)
	seen := make(map[[2]int64]bool)
	join := func(team, employee int64) {
		key := [2]int64{team, employee}
		if seen[key] {
			return
		}
		seen[key] = true
		members[team] = append(members[team], employee)
		joined := g.f.Date(g.cfg.Now.AddDate(-3, 0, 0), g.cfg.Now)
		g.snap.Memberships = append(g.snap.Memberships, model.TeamMembership{
			TeamID: team, EmployeeID: employee, JoinedAt: &joined,
		})
	}
	for _, e := range g.staff {
		join(Choose(g.f, g.teamIDs), e)
		if g.f.Chance(0.25) {
			join(Choose(g.f, g.teamIDs), e)
		}
	}

	for _, id := range g.teamIDs {
		t := model.Team{
			ID:         id,
			Name:       Truncate(g.f.Title(2)+" Team", 80),
			Department: Choose(g.f, []string{"Engineering", "Delivery", "Design", "Operations"}),
			UpdatedAt:  g.cfg.Now,
		}
		if m := members[id]; len(m) > 0 {
			lead := m[0]
			t.LeadID = &lead
		}
		g.snap.Teams = append(g.snap.Teams, t)
	}
}

func (g *generator) project(id int64) {
	state := ChooseWeighted(g.f, projStates, projWeights)
	start := g.f.Date(g.cfg.Now.AddDate(-3, 0, 0), g.cfg.Now.AddDate(0, -1, 0))
	endPlan := start.AddDate(0, 0, g.f.Int(30, 180))
	budget := g.f.Amount(10000, 500000)

	p := model.Project{
		ID:            id,
		Name:          Truncate(g.f.Title(3), 160),
		ClientID:      int64(g.f.Int(1, g.cfg.Clients)),
		ManagerID:     Choose(g.f, g.managers),
		State:         state,
		Start:         start,
		EndPlan:       endPlan,
		PlannedBudget: budget,
		UpdatedAt:     g.cfg.Now,
	}
	switch state {
	case model.StateCompleted:
		end := endPlan.AddDate(0, 0, g.f.Int(-20, 45))
		if end.Before(start) {
			end = start
		}
		p.EndReal = &end
		p.ActualCost = budget.Mul(decimal.NewFromFloat(g.f.Float64(0.7, 1.35))).Round(2)
	case model.StateCancelled:
		if g.f.Chance(0.6) {
			end := start.AddDate(0, 0, g.f.Int(5, 60))
			p.EndReal = &end
		}
		p.ActualCost = budget.Mul(decimal.NewFromFloat(g.f.Float64(0.05, 0.6))).Round(2)
	case model.StateInProgress, model.StatePaused:
		p.ActualCost = budget.Mul(decimal.NewFromFloat(g.f.Float64(0.1, 0.9))).Round(2)
	}
	g.snap.Projects = append(g.snap.Projects, p)

	n := g.f.Int(1, max(1, 2*g.cfg.TasksPerProject))
	if g.cfg.TasksPerProject == 0 {
		n = 0
	}
	for range n {
		g.task(p)
	}
}

func (g *generator) taskState(p model.Project) model.State {
	switch p.State {
	case model.StateCompleted:
		return ChooseWeighted(g.f, []model.State{model.StateCompleted, model.StateCancelled}, []int{9, 1})
	case model.StateCancelled:
		return ChooseWeighted(g.f, []model.State{model.StateCancelled, model.StateCompleted}, []int{6, 4})
	case model.StatePlanning:
		return model.StatePlanning
	default:
		return ChooseWeighted(g.f, projStates, projWeights)
	}
}

func (g *generator) task(p model.Project) {
	id := g.nextTask
	g.nextTask++

	span := max(1, model.DaysBetween(p.Start, p.EndPlan))
	start := p.Start.AddDate(0, 0, g.f.Int(0, span-1))
	endPlan := start.AddDate(0, 0, g.f.Int(1, max(1, span/2)))
	planned := g.f.Amount(4, 120)
	assignee := Choose(g.f, g.staff)

	t := model.Task{
		ID:           id,
		ProjectID:    p.ID,
		Name:         Truncate(g.f.Title(2), 160),
		AssigneeID:   &assignee,
		State:        g.taskState(p),
		Priority:     Choose(g.f, priorities),
		Start:        start,
		EndPlan:      endPlan,
		PlannedHours: planned,
		UpdatedAt:    g.cfg.Now,
	}
	if g.f.Chance(0.05) {
		t.AssigneeID = nil
	}
	switch t.State {
	case model.StateCompleted:
		// A few completed tasks miss their actual end date, as in real
		// trackers.
		if !g.f.Chance(0.03) {
			end := endPlan.AddDate(0, 0, g.f.Int(-3, 10))
			if end.Before(start) {
				end = start
			}
			t.EndReal = &end
		}
		t.ActualHours = planned.Mul(decimal.NewFromFloat(g.f.Float64(0.6, 1.6))).Round(2)
	case model.StateCancelled, model.StateInProgress, model.StatePaused:
		t.ActualHours = planned.Mul(decimal.NewFromFloat(g.f.Float64(0, 0.8))).Round(2)
	}
	g.snap.Tasks = append(g.snap.Tasks, t)

	teams := []int64{Choose(g.f, g.teamIDs)}
	if g.f.Chance(0.2) {
		if other := Choose(g.f, g.teamIDs); other != teams[0] {
			teams = append(teams, other)
		}
	}
	for _, team := range teams {
		g.snap.Assignments = append(g.snap.Assignments, model.TaskTeamAssignment{TaskID: id, TeamID: team})
	}
}

// ProgressReporter logs per-table insert counts.
type ProgressReporter struct {
	start time.Time
	total int64
}

// NewProgressReporter creates a new progress reporter.
func NewProgressReporter() *ProgressReporter {
	return &ProgressReporter{start: time.Now()}
}

// Table logs completion of one table.
func (p *ProgressReporter) Table(name string, rows int64) {
	p.total += rows
	logging.Info().
		Str("table", name).
		Int64("rows", rows).
		Msg("Table complete")
}

// Done logs completion of the whole data set.
func (p *ProgressReporter) Done() {
	logging.Info().
		Int64("rows", p.total).
		Dur("elapsed", time.Since(p.start)).
		Msg("Source data generated")
}

// Write copies the data set into the operational schema in one
// transaction.
func Write(ctx context.Context, conn db.DB, snap *model.Snapshot) error {
	tx, err := conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin: %w", err)
	}
	defer func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }()

	progress := NewProgressReporter()
	tables := []struct {
		name    string
		columns []string
		rows    [][]any
	}{
		{"client", []string{"id", "name", "industry", "country", "email", "updated_at"}, clientRows(snap)},
		{"employee", []string{"id", "first_name", "last_name", "email", "role", "hire_date", "hourly_rate", "updated_at"}, employeeRows(snap)},
		{"team", []string{"id", "name", "department", "lead_id", "updated_at"}, teamRows(snap)},
		{"team_membership", []string{"team_id", "employee_id", "joined_at"}, membershipRows(snap)},
		{"project", []string{"id", "name", "client_id", "manager_id", "state", "start_date", "end_plan", "end_real",
			"planned_budget", "actual_cost", "updated_at"}, projectRows(snap)},
		{"task", []string{"id", "project_id", "name", "assignee_id", "state", "priority", "start_date", "end_plan",
			"end_real", "planned_hours", "actual_hours", "updated_at"}, taskRows(snap)},
		{"task_team", []string{"task_id", "team_id"}, assignmentRows(snap)},
	}
	for _, t := range tables {
		n, err := tx.CopyFrom(ctx, pgx.Identifier{t.name}, t.columns, pgx.CopyFromRows(t.rows))
		if err != nil {
			return fmt.Errorf("failed to copy %s: %w", t.name, err)
		}
		progress.Table(t.name, n)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	progress.Done()
	return nil
}

func clientRows(s *model.Snapshot) [][]any {
	rows := make([][]any, 0, len(s.Clients))
	for _, c := range s.Clients {
		rows = append(rows, []any{c.ID, c.Name, c.Industry, c.Country, c.Email, c.UpdatedAt})
	}
	return rows
}

func employeeRows(s *model.Snapshot) [][]any {
	rows := make([][]any, 0, len(s.Employees))
	for _, e := range s.Employees {
		rows = append(rows, []any{e.ID, e.FirstName, e.LastName, e.Email, e.Role, e.HireDate, e.HourlyRate, e.UpdatedAt})
	}
	return rows
}

func teamRows(s *model.Snapshot) [][]any {
	rows := make([][]any, 0, len(s.Teams))
	for _, t := range s.Teams {
		rows = append(rows, []any{t.ID, t.Name, t.Department, t.LeadID, t.UpdatedAt})
	}
	return rows
}

func membershipRows(s *model.Snapshot) [][]any {
	rows := make([][]any, 0, len(s.Memberships))
	for _, m := range s.Memberships {
		rows = append(rows, []any{m.TeamID, m.EmployeeID, m.JoinedAt})
	}
	return rows
}

func projectRows(s *model.Snapshot) [][]any {
	rows := make([][]any, 0, len(s.Projects))
	for _, p := range s.Projects {
		rows = append(rows, []any{p.ID, p.Name, p.ClientID, p.ManagerID, string(p.State), p.Start, p.EndPlan, p.EndReal,
			p.PlannedBudget, p.ActualCost, p.UpdatedAt})
	}
	return rows
}

func taskRows(s *model.Snapshot) [][]any {
	rows := make([][]any, 0, len(s.Tasks))
	for _, t := range s.Tasks {
		rows = append(rows, []any{t.ID, t.ProjectID, t.Name, t.AssigneeID, string(t.State), t.Priority, t.Start, t.EndPlan,
			t.EndReal, t.PlannedHours, t.ActualHours, t.UpdatedAt})
	}
	return rows
}

func assignmentRows(s *model.Snapshot) [][]any {
	rows := make([][]any, 0, len(s.Assignments))
	for _, a := range s.Assignments {
		rows = append(rows, []any{a.TaskID, a.TeamID})
	}
	return rows
}
