//-------------------------------------------------------------------------
//
// pgEdge Project Warehouse
//
// Portions copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

package warehouse

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pgEdge/pgedge-pmdw/internal/db"
	"github.com/pgEdge/pgedge-pmdw/internal/etlerr"
	"github.com/pgEdge/pgedge-pmdw/internal/logging"
	"github.com/pgEdge/pgedge-pmdw/internal/model"
)

// DefaultBatchSize is the number of rows queued per pgx batch.
const DefaultBatchSize = 1000

// Postgres is a warehouse in a PostgreSQL database.
type Postgres struct {
	pool      *pgxpool.Pool
	name      string
	batchSize int
}

// NewPostgres wraps a destination pool.
func NewPostgres(pool *pgxpool.Pool, name string) *Postgres {
	return &Postgres{pool: pool, name: name, batchSize: DefaultBatchSize}
}

// Name identifies the destination.
func (p *Postgres) Name() string {
	return p.name
}

// EnsureSchema creates the star schema if it does not exist.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, createSchemaSQL); err != nil {
		return errors.Wrap(err, "create warehouse schema")
	}
	return nil
}

// DropSchema drops the star schema and pipeline state.
func (p *Postgres) DropSchema(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, dropSchemaSQL)
	return err
}

// Lock takes the run-level advisory lock.
func (p *Postgres) Lock(ctx context.Context) (func(), error) {
	lock, err := db.TryAdvisoryLock(ctx, p.pool, db.RunLockKey)
	if err != nil {
		return nil, &etlerr.ConnectivityError{Endpoint: "destination", Err: err}
	}
	if lock == nil {
		return nil, &etlerr.RunInProgressError{Destination: p.name}
	}
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		lock.Release(ctx)
	}, nil
}

// Watermark returns the committed incremental bound.
func (p *Postgres) Watermark(ctx context.Context) (*time.Time, error) {
	var value string
	err := p.pool.QueryRow(ctx, `
        SELECT value FROM etl_watermark WHERE key = $1
    `, WatermarkKey).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "read watermark")
	}
	wm, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return nil, errors.Wrapf(err, "parse watermark %q", value)
	}
	return &wm, nil
}

// Begin starts the run transaction.
func (p *Postgres) Begin(ctx context.Context) (Tx, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "begin warehouse transaction")
	}
	return &pgTx{tx: tx, batchSize: p.batchSize}, nil
}

// RecordRun appends to the run log.
func (p *Postgres) RecordRun(ctx context.Context, rec RunRecord) error {
	_, err := p.pool.Exec(ctx, `
        INSERT INTO etl_run (run_id, mode, strategy, state, dry_run, started_at,
                             finished_at, rows_processed, rows_skipped, error)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
        ON CONFLICT (run_id) DO UPDATE SET
            state = EXCLUDED.state,
            finished_at = EXCLUDED.finished_at,
            rows_processed = EXCLUDED.rows_processed,
            rows_skipped = EXCLUDED.rows_skipped,
            error = EXCLUDED.error
    `, rec.RunID, rec.Mode, rec.Strategy, rec.State, rec.DryRun, rec.StartedAt,
		rec.FinishedAt, rec.Processed, rec.Skipped, rec.Error)
	if err != nil {
		return errors.Wrap(err, "record run")
	}
	return nil
}

// Counts returns committed row counts per warehouse table.
func (p *Postgres) Counts(ctx context.Context) (map[string]int64, error) {
	counts := make(map[string]int64, len(clearOrder))
	for _, table := range clearOrder {
		var n int64
		if err := p.pool.QueryRow(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&n); err != nil {
			return nil, errors.Wrapf(err, "count %s", table)
		}
		counts[table] = n
	}
	return counts, nil
}

type pgTx struct {
	tx        pgx.Tx
	batchSize int
}

func (t *pgTx) Clear(ctx context.Context) error {
	// DELETE rather than TRUNCATE: readers keep seeing the last committed
	// run instead of blocking on an exclusive lock.
	for _, table := range clearOrder {
		if _, err := t.tx.Exec(ctx, fmt.Sprintf("DELETE FROM %s", table)); err != nil {
			return errors.Wrapf(err, "clear %s", table)
		}
	}
	return nil
}

func (t *pgTx) Checkpoint(ctx context.Context, phase string) error {
	name := pgx.Identifier{"phase_" + phase}.Sanitize()
	if _, err := t.tx.Exec(ctx, "SAVEPOINT "+name); err != nil {
		return errors.Wrapf(err, "checkpoint %s", phase)
	}
	return nil
}

// sendBatch queues one statement per row in chunks and sums rows affected.
func sendBatch[T any](ctx context.Context, tx pgx.Tx, size int, query string, rows []T, args func(T) []any) (int64, error) {
	var affected int64
	for start := 0; start < len(rows); start += size {
		end := min(start+size, len(rows))

		batch := &pgx.Batch{}
		for _, r := range rows[start:end] {
			batch.Queue(query, args(r)...)
		}

		results := tx.SendBatch(ctx, batch)
		for range rows[start:end] {
			tag, err := results.Exec()
			if err != nil {
				_ = results.Close()
				return affected, err
			}
			affected += tag.RowsAffected()
		}
		if err := results.Close(); err != nil {
			return affected, err
		}
	}
	return affected, nil
}

const upsertClientSQL = `
INSERT INTO dim_client (client_id, name, industry, country, email, loaded_at)
VALUES ($1, $2, $3, $4, $5, now())
ON CONFLICT (client_id) DO UPDATE SET
    name = EXCLUDED.name,
    industry = EXCLUDED.industry,
    country = EXCLUDED.country,
    email = EXCLUDED.email,
    loaded_at = EXCLUDED.loaded_at`

func (t *pgTx) UpsertClients(ctx context.Context, rows []model.DimClient) (int64, error) {
	n, err := sendBatch(ctx, t.tx, t.batchSize, upsertClientSQL, rows, func(r model.DimClient) []any {
		return []any{r.ClientID, r.Name, r.Industry, r.Country, r.Email}
	})
	return n, errors.Wrap(err, "upsert dim_client")
}

const upsertEmployeeSQL = `
INSERT INTO dim_employee (employee_id, full_name, email, role, hire_date, hourly_rate, team_count, loaded_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, now())
ON CONFLICT (employee_id) DO UPDATE SET
    full_name = EXCLUDED.full_name,
    email = EXCLUDED.email,
    role = EXCLUDED.role,
    hire_date = EXCLUDED.hire_date,
    hourly_rate = EXCLUDED.hourly_rate,
    team_count = EXCLUDED.team_count,
    loaded_at = EXCLUDED.loaded_at`

func (t *pgTx) UpsertEmployees(ctx context.Context, rows []model.DimEmployee) (int64, error) {
	n, err := sendBatch(ctx, t.tx, t.batchSize, upsertEmployeeSQL, rows, func(r model.DimEmployee) []any {
		return []any{r.EmployeeID, r.FullName, r.Email, r.Role, r.HireDate, r.HourlyRate, r.TeamCount}
	})
	return n, errors.Wrap(err, "upsert dim_employee")
}

const upsertTeamSQL = `
INSERT INTO dim_team (team_id, name, department, lead_id, member_count, loaded_at)
VALUES ($1, $2, $3, $4, $5, now())
ON CONFLICT (team_id) DO UPDATE SET
    name = EXCLUDED.name,
    department = EXCLUDED.department,
    lead_id = EXCLUDED.lead_id,
    member_count = EXCLUDED.member_count,
    loaded_at = EXCLUDED.loaded_at`

func (t *pgTx) UpsertTeams(ctx context.Context, rows []model.DimTeam) (int64, error) {
	n, err := sendBatch(ctx, t.tx, t.batchSize, upsertTeamSQL, rows, func(r model.DimTeam) []any {
		return []any{r.TeamID, r.Name, r.Department, r.LeadID, r.MemberCount}
	})
	return n, errors.Wrap(err, "upsert dim_team")
}

const upsertProjectSQL = `
INSERT INTO dim_project (project_id, name, client_id, manager_id, state, is_terminal,
                         start_date, end_plan, end_real, loaded_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
ON CONFLICT (project_id) DO UPDATE SET
    name = EXCLUDED.name,
    client_id = EXCLUDED.client_id,
    manager_id = EXCLUDED.manager_id,
    state = EXCLUDED.state,
    is_terminal = EXCLUDED.is_terminal,
    start_date = EXCLUDED.start_date,
    end_plan = EXCLUDED.end_plan,
    end_real = EXCLUDED.end_real,
    loaded_at = EXCLUDED.loaded_at`

func (t *pgTx) UpsertProjects(ctx context.Context, rows []model.DimProject) (int64, error) {
	n, err := sendBatch(ctx, t.tx, t.batchSize, upsertProjectSQL, rows, func(r model.DimProject) []any {
		return []any{r.ProjectID, r.Name, r.ClientID, r.ManagerID, string(r.State), r.IsTerminal,
			r.Start, r.EndPlan, r.EndReal}
	})
	return n, errors.Wrap(err, "upsert dim_project")
}

const insertTimeSQL = `
INSERT INTO dim_time (time_key, full_date, year, half, quarter, month, month_name, day,
                      day_of_week, day_name, week_of_year, is_weekend, is_holiday, holiday_name)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
ON CONFLICT (time_key) DO NOTHING`

func (t *pgTx) InsertTimes(ctx context.Context, rows []model.DimTime) (int64, error) {
	n, err := sendBatch(ctx, t.tx, t.batchSize, insertTimeSQL, rows, func(r model.DimTime) []any {
		return []any{r.TimeKey, r.FullDate, r.Year, r.Half, r.Quarter, r.Month, r.MonthName, r.Day,
			r.DayOfWeek, r.DayName, r.WeekOfYear, r.IsWeekend, r.IsHoliday, r.HolidayName}
	})
	return n, errors.Wrap(err, "insert dim_time")
}

func (t *pgTx) Keys(ctx context.Context) (*KeySet, error) {
	keys := NewKeySet()
	targets := []struct {
		query string
		into  map[int64]struct{}
	}{
		{"SELECT client_id FROM dim_client", keys.Clients},
		{"SELECT employee_id FROM dim_employee", keys.Employees},
		{"SELECT team_id FROM dim_team", keys.Teams},
		{"SELECT project_id FROM dim_project", keys.Projects},
	}
	for _, target := range targets {
		ids, err := collectKeys[int64](ctx, t.tx, target.query)
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			target.into[id] = struct{}{}
		}
	}

	times, err := collectKeys[int32](ctx, t.tx, "SELECT time_key FROM dim_time")
	if err != nil {
		return nil, err
	}
	for _, k := range times {
		keys.Times[k] = struct{}{}
	}
	return keys, nil
}

func collectKeys[K int32 | int64](ctx context.Context, tx pgx.Tx, query string) ([]K, error) {
	rows, err := tx.Query(ctx, query)
	if err != nil {
		return nil, errors.Wrapf(err, "read keys: %s", query)
	}
	keys, err := pgx.CollectRows(rows, pgx.RowTo[K])
	return keys, errors.Wrapf(err, "read keys: %s", query)
}

const upsertTaskFactSQL = `
INSERT INTO fact_task (task_id, project_id, employee_id, team_id, start_key, end_plan_key,
                       end_real_key, state, priority, duration_planned, duration_actual,
                       schedule_variance, on_time, planned_hours, actual_hours,
                       hours_variance, efficiency, loaded_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, now())
ON CONFLICT (task_id) DO UPDATE SET
    project_id = EXCLUDED.project_id,
    employee_id = EXCLUDED.employee_id,
    team_id = EXCLUDED.team_id,
    start_key = EXCLUDED.start_key,
    end_plan_key = EXCLUDED.end_plan_key,
    end_real_key = EXCLUDED.end_real_key,
    state = EXCLUDED.state,
    priority = EXCLUDED.priority,
    duration_planned = EXCLUDED.duration_planned,
    duration_actual = EXCLUDED.duration_actual,
    schedule_variance = EXCLUDED.schedule_variance,
    on_time = EXCLUDED.on_time,
    planned_hours = EXCLUDED.planned_hours,
    actual_hours = EXCLUDED.actual_hours,
    hours_variance = EXCLUDED.hours_variance,
    efficiency = EXCLUDED.efficiency,
    loaded_at = EXCLUDED.loaded_at`

func (t *pgTx) UpsertTaskFacts(ctx context.Context, rows []model.FactTask) (int64, error) {
	n, err := sendBatch(ctx, t.tx, t.batchSize, upsertTaskFactSQL, rows, func(r model.FactTask) []any {
		return []any{r.TaskID, r.ProjectID, r.EmployeeID, r.TeamID, r.StartKey, r.EndPlanKey,
			r.EndRealKey, string(r.State), r.Priority, r.DurationPlanned, r.DurationActual,
			r.ScheduleVariance, flag(r.OnTime), r.PlannedHours, r.ActualHours,
			r.HoursVariance, r.Efficiency}
	})
	return n, errors.Wrap(err, "upsert fact_task")
}

const upsertProjectFactSQL = `
INSERT INTO fact_project (project_id, client_id, manager_id, start_key, end_plan_key, end_real_key,
                          state, duration_planned, duration_actual, schedule_variance, on_time,
                          planned_budget, actual_cost, budget_variance, budget_met,
                          total_tasks, completed_tasks, completion_ratio,
                          planned_hours, actual_hours, hours_variance, efficiency, loaded_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18,
        $19, $20, $21, $22, now())
ON CONFLICT (project_id) DO UPDATE SET
    client_id = EXCLUDED.client_id,
    manager_id = EXCLUDED.manager_id,
    start_key = EXCLUDED.start_key,
    end_plan_key = EXCLUDED.end_plan_key,
    end_real_key = EXCLUDED.end_real_key,
    state = EXCLUDED.state,
    duration_planned = EXCLUDED.duration_planned,
    duration_actual = EXCLUDED.duration_actual,
    schedule_variance = EXCLUDED.schedule_variance,
    on_time = EXCLUDED.on_time,
    planned_budget = EXCLUDED.planned_budget,
    actual_cost = EXCLUDED.actual_cost,
    budget_variance = EXCLUDED.budget_variance,
    budget_met = EXCLUDED.budget_met,
    total_tasks = EXCLUDED.total_tasks,
    completed_tasks = EXCLUDED.completed_tasks,
    completion_ratio = EXCLUDED.completion_ratio,
    planned_hours = EXCLUDED.planned_hours,
    actual_hours = EXCLUDED.actual_hours,
    hours_variance = EXCLUDED.hours_variance,
    efficiency = EXCLUDED.efficiency,
    loaded_at = EXCLUDED.loaded_at`

func (t *pgTx) UpsertProjectFacts(ctx context.Context, rows []model.FactProject) (int64, error) {
	n, err := sendBatch(ctx, t.tx, t.batchSize, upsertProjectFactSQL, rows, func(r model.FactProject) []any {
		return []any{r.ProjectID, r.ClientID, r.ManagerID, r.StartKey, r.EndPlanKey, r.EndRealKey,
			string(r.State), r.DurationPlanned, r.DurationActual, r.ScheduleVariance, flag(r.OnTime),
			r.PlannedBudget, r.ActualCost, r.BudgetVariance, flag(r.BudgetMet),
			r.TotalTasks, r.CompletedTasks, r.CompletionRatio,
			r.PlannedHours, r.ActualHours, r.HoursVariance, r.Efficiency}
	})
	return n, errors.Wrap(err, "upsert fact_project")
}

func (t *pgTx) PruneTaskFacts(ctx context.Context, projectID int64, keep []int64) (int64, error) {
	if keep == nil {
		keep = []int64{}
	}
	tag, err := t.tx.Exec(ctx, `
        DELETE FROM fact_task WHERE project_id = $1 AND NOT (task_id = ANY($2))
    `, projectID, keep)
	if err != nil {
		return 0, errors.Wrapf(err, "prune task facts of project %d", projectID)
	}
	return tag.RowsAffected(), nil
}

func (t *pgTx) DeleteFacts(ctx context.Context, projectIDs []int64) (int64, error) {
	if len(projectIDs) == 0 {
		return 0, nil
	}
	tasks, err := t.tx.Exec(ctx, `DELETE FROM fact_task WHERE project_id = ANY($1)`, projectIDs)
	if err != nil {
		return 0, errors.Wrap(err, "delete task facts")
	}
	projects, err := t.tx.Exec(ctx, `DELETE FROM fact_project WHERE project_id = ANY($1)`, projectIDs)
	if err != nil {
		return 0, errors.Wrap(err, "delete project facts")
	}
	return tasks.RowsAffected() + projects.RowsAffected(), nil
}

func (t *pgTx) SetWatermark(ctx context.Context, wm time.Time) error {
	entries := map[string]string{
		WatermarkKey: wm.UTC().Format(time.RFC3339Nano),
		"loaded_at":  time.Now().UTC().Format(time.RFC3339),
	}
	for key, value := range entries {
		_, err := t.tx.Exec(ctx, `
            INSERT INTO etl_watermark (key, value) VALUES ($1, $2)
            ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value
        `, key, value)
		if err != nil {
			return errors.Wrapf(err, "save watermark %s", key)
		}
	}

	logging.Debug().
		Time("watermark", wm).
		Msg("Saved watermark")

	return nil
}

func (t *pgTx) Commit(ctx context.Context) error {
	return t.tx.Commit(ctx)
}

func (t *pgTx) Rollback(ctx context.Context) error {
	return t.tx.Rollback(ctx)
}
