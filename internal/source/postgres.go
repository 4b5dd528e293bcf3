//-------------------------------------------------------------------------
//
// pgEdge Project Warehouse
//
// Copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

package source

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/pgEdge/pgedge-pmdw/internal/db"
	"github.com/pgEdge/pgedge-pmdw/internal/etlerr"
	"github.com/pgEdge/pgedge-pmdw/internal/logging"
	"github.com/pgEdge/pgedge-pmdw/internal/model"
)

const verifySQL = `
SELECT table_name, column_name
FROM information_schema.columns
WHERE table_schema = current_schema()
  AND table_name = ANY($1)`

const clientsSQL = `
SELECT id, name, industry, country, email, updated_at
FROM client
WHERE ($1::timestamptz IS NULL OR updated_at >= $1)
ORDER BY id`

// Team and member counts derive from the whole membership table, so an
// incremental run also re-reads every employee and team that appears in
// it. Malformed employees are always re-read so their skips are reported.
const employeesSQL = `
SELECT id, first_name, last_name, email, role, hire_date, hourly_rate, updated_at
FROM employee
WHERE $1::timestamptz IS NULL
   OR updated_at >= $1
   OR hourly_rate < 0
   OR id IN (SELECT employee_id FROM team_membership)
ORDER BY id`

const teamsSQL = `
SELECT id, name, department, lead_id, updated_at
FROM team
WHERE $1::timestamptz IS NULL
   OR updated_at >= $1
   OR id IN (SELECT team_id FROM team_membership)
ORDER BY id`

const membershipsSQL = `
SELECT team_id, employee_id, joined_at
FROM team_membership
ORDER BY team_id, employee_id`

const projectsSQL = `
SELECT p.id, p.name, p.client_id, p.manager_id, p.state, p.start_date, p.end_plan, p.end_real,
       p.planned_budget, p.actual_cost, p.updated_at
FROM project p
WHERE $1::timestamptz IS NULL
   OR p.updated_at >= $1
   OR EXISTS (SELECT 1 FROM task t WHERE t.project_id = p.id AND t.updated_at >= $1)
ORDER BY p.id`

const tasksSQL = `
SELECT id, project_id, name, assignee_id, state, priority, start_date, end_plan, end_real,
       planned_hours, actual_hours, updated_at
FROM task
WHERE project_id = ANY($1)
ORDER BY id`

const assignmentsSQL = `
SELECT task_id, team_id
FROM task_team
WHERE task_id = ANY($1)
ORDER BY task_id, team_id`

// PostgresReader extracts from the operational PostgreSQL schema.
type PostgresReader struct {
	conn db.DB
}

// NewPostgresReader returns a reader over conn.
func NewPostgresReader(conn db.DB) *PostgresReader {
	return &PostgresReader{conn: conn}
}

// classify turns transport failures into ConnectivityError and adds
// context to everything else.
func classify(ctx context.Context, err error, what string) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return errors.Wrap(ctx.Err(), what)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return errors.Wrap(err, what)
	}
	return &etlerr.ConnectivityError{Endpoint: "source", Err: errors.Wrap(err, what)}
}

// Verify checks the schema through information_schema.
func (r *PostgresReader) Verify(ctx context.Context) error {
	tables := make([]string, 0, len(requiredColumns))
	for t := range requiredColumns {
		tables = append(tables, t)
	}
	sort.Strings(tables)

	rows, err := r.conn.Query(ctx, verifySQL, tables)
	if err != nil {
		return classify(ctx, err, "read source catalog")
	}
	present := make(map[string]map[string]bool)
	var table, column string
	_, err = pgx.ForEachRow(rows, []any{&table, &column}, func() error {
		if present[table] == nil {
			present[table] = make(map[string]bool)
		}
		present[table][column] = true
		return nil
	})
	if err != nil {
		return classify(ctx, err, "read source catalog")
	}

	var missing []string
	for _, t := range tables {
		cols, ok := present[t]
		if !ok {
			missing = append(missing, t)
			continue
		}
		for _, c := range requiredColumns[t] {
			if !cols[c] {
				missing = append(missing, t+"."+c)
			}
		}
	}
	if len(missing) > 0 {
		return &etlerr.SchemaMismatchError{Missing: missing}
	}
	return nil
}

// Extract reads a snapshot. All queries run in one repeatable-read,
// read-only transaction so the snapshot is consistent.
func (r *PostgresReader) Extract(ctx context.Context, f Filter) (*model.Snapshot, error) {
	start := time.Now()
	tx, err := r.conn.Begin(ctx)
	if err != nil {
		return nil, classify(ctx, err, "begin source transaction")
	}
	defer func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }()
	if _, err := tx.Exec(ctx, "SET TRANSACTION ISOLATION LEVEL REPEATABLE READ READ ONLY"); err != nil {
		return nil, classify(ctx, err, "set source isolation")
	}

	snap := &model.Snapshot{}
	steps := []struct {
		name string
		fn   func(context.Context, pgx.Tx, Filter, *model.Snapshot) error
	}{
		{"client", readClients},
		{"employee", readEmployees},
		{"team", readTeams},
		{"team_membership", readMemberships},
		{"project", readProjects},
		{"task", readTasks},
		{"task_team", readAssignments},
	}
	for _, s := range steps {
		if err := s.fn(ctx, tx, f, snap); err != nil {
			return nil, classify(ctx, err, fmt.Sprintf("extract %s", s.name))
		}
	}

	logging.Debug().
		Bool("incremental", f.Incremental()).
		Int("projects", len(snap.Projects)).
		Int("tasks", len(snap.Tasks)).
		Int("skipped", len(snap.Skipped)).
		Dur("elapsed", time.Since(start)).
		Msg("Extracted source snapshot")

	return snap, nil
}

func readClients(ctx context.Context, tx pgx.Tx, f Filter, snap *model.Snapshot) error {
	rows, err := tx.Query(ctx, clientsSQL, f.Since)
	if err != nil {
		return err
	}
	var c model.Client
	_, err = pgx.ForEachRow(rows, []any{&c.ID, &c.Name, &c.Industry, &c.Country, &c.Email, &c.UpdatedAt}, func() error {
		snap.Clients = append(snap.Clients, c)
		return nil
	})
	return err
}

func readEmployees(ctx context.Context, tx pgx.Tx, f Filter, snap *model.Snapshot) error {
	rows, err := tx.Query(ctx, employeesSQL, f.Since)
	if err != nil {
		return err
	}
	var (
		e    model.Employee
		hire *time.Time
	)
	scans := []any{&e.ID, &e.FirstName, &e.LastName, &e.Email, &e.Role, &hire, &e.HourlyRate, &e.UpdatedAt}
	_, err = pgx.ForEachRow(rows, scans, func() error {
		row := e
		row.HireDate = clonePtr(hire)
		if bad := checkEmployee(row); bad != nil {
			snap.Skipped = append(snap.Skipped, bad)
			return nil
		}
		snap.Employees = append(snap.Employees, row)
		return nil
	})
	return err
}

func readTeams(ctx context.Context, tx pgx.Tx, f Filter, snap *model.Snapshot) error {
	rows, err := tx.Query(ctx, teamsSQL, f.Since)
	if err != nil {
		return err
	}
	var (
		t    model.Team
		lead *int64
	)
	_, err = pgx.ForEachRow(rows, []any{&t.ID, &t.Name, &t.Department, &lead, &t.UpdatedAt}, func() error {
		row := t
		row.LeadID = clonePtr(lead)
		snap.Teams = append(snap.Teams, row)
		return nil
	})
	return err
}

func readMemberships(ctx context.Context, tx pgx.Tx, _ Filter, snap *model.Snapshot) error {
	rows, err := tx.Query(ctx, membershipsSQL)
	if err != nil {
		return err
	}
	var (
		m      model.TeamMembership
		joined *time.Time
	)
	_, err = pgx.ForEachRow(rows, []any{&m.TeamID, &m.EmployeeID, &joined}, func() error {
		row := m
		row.JoinedAt = clonePtr(joined)
		snap.Memberships = append(snap.Memberships, row)
		return nil
	})
	return err
}

// nullableSchedule holds the date columns that may arrive NULL.
type nullableSchedule struct {
	start, endPlan, endReal *time.Time
}

func (n nullableSchedule) apply(start, endPlan *time.Time, endReal **time.Time) {
	if n.start != nil {
		*start = *n.start
	}
	if n.endPlan != nil {
		*endPlan = *n.endPlan
	}
	*endReal = clonePtr(n.endReal)
}

func readProjects(ctx context.Context, tx pgx.Tx, f Filter, snap *model.Snapshot) error {
	rows, err := tx.Query(ctx, projectsSQL, f.Since)
	if err != nil {
		return err
	}
	var (
		p     model.Project
		state string
		dates nullableSchedule
	)
	scans := []any{&p.ID, &p.Name, &p.ClientID, &p.ManagerID, &state, &dates.start, &dates.endPlan, &dates.endReal,
		&p.PlannedBudget, &p.ActualCost, &p.UpdatedAt}
	_, err = pgx.ForEachRow(rows, scans, func() error {
		row := p
		row.State = model.State(state)
		row.Start, row.EndPlan = time.Time{}, time.Time{}
		dates.apply(&row.Start, &row.EndPlan, &row.EndReal)
		if bad := checkProject(row); bad != nil {
			snap.Skipped = append(snap.Skipped, bad)
			return nil
		}
		if f.stateAllowed(row.State) {
			snap.Projects = append(snap.Projects, row)
		}
		return nil
	})
	return err
}

func readTasks(ctx context.Context, tx pgx.Tx, f Filter, snap *model.Snapshot) error {
	ids := make([]int64, len(snap.Projects))
	for i, p := range snap.Projects {
		ids[i] = p.ID
	}
	if len(ids) == 0 {
		return nil
	}
	rows, err := tx.Query(ctx, tasksSQL, ids)
	if err != nil {
		return err
	}
	var (
		t        model.Task
		assignee *int64
		state    string
		dates    nullableSchedule
	)
	scans := []any{&t.ID, &t.ProjectID, &t.Name, &assignee, &state, &t.Priority, &dates.start, &dates.endPlan,
		&dates.endReal, &t.PlannedHours, &t.ActualHours, &t.UpdatedAt}
	_, err = pgx.ForEachRow(rows, scans, func() error {
		row := t
		row.AssigneeID = clonePtr(assignee)
		row.State = model.State(state)
		row.Start, row.EndPlan = time.Time{}, time.Time{}
		dates.apply(&row.Start, &row.EndPlan, &row.EndReal)
		if bad := checkTask(row); bad != nil {
			snap.Skipped = append(snap.Skipped, bad)
			return nil
		}
		if f.stateAllowed(row.State) {
			snap.Tasks = append(snap.Tasks, row)
		}
		return nil
	})
	return err
}

func readAssignments(ctx context.Context, tx pgx.Tx, _ Filter, snap *model.Snapshot) error {
	ids := make([]int64, len(snap.Tasks))
	for i, t := range snap.Tasks {
		ids[i] = t.ID
	}
	if len(ids) == 0 {
		return nil
	}
	rows, err := tx.Query(ctx, assignmentsSQL, ids)
	if err != nil {
		return err
	}
	var a model.TaskTeamAssignment
	_, err = pgx.ForEachRow(rows, []any{&a.TaskID, &a.TeamID}, func() error {
		snap.Assignments = append(snap.Assignments, a)
		return nil
	})
	return err
}

// clonePtr detaches a scanned nullable value from the scan target.
func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

var (
	_ Reader = (*PostgresReader)(nil)
	_ Reader = (*StaticReader)(nil)
)
