package transform

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/pgEdge/pgedge-pmdw/internal/model"
)

// DatabaseName is the registry name of the database-delegated strategy.
const DatabaseName = "database"

const databaseDescription = "Compute per-row measures in the source database"

// Per-row measure arithmetic executed by the source database over the
// extracted values, which are sent as parallel arrays. The live source
// tables are never read, so every measure matches the snapshot. Date
// subtraction yields whole days; efficiency rounds half away from zero as
// decimal.DivRound does.
const (
	projectMeasuresSQL = `
WITH p AS (
    SELECT id, start_date, end_plan, end_real,
           planned_budget::numeric AS planned_budget,
           actual_cost::numeric    AS actual_cost
    FROM unnest($1::bigint[], $2::date[], $3::date[], $4::date[], $5::text[], $6::text[])
         AS u(id, start_date, end_plan, end_real, planned_budget, actual_cost)
)
SELECT p.id,
       (p.end_plan - p.start_date)                                  AS duration_planned,
       COALESCE(p.end_real - p.start_date, 0)                       AS duration_actual,
       COALESCE(p.end_real - p.start_date, 0)
           - (p.end_plan - p.start_date)                            AS schedule_variance,
       COALESCE(p.end_real <= p.end_plan, false)                    AS on_time,
       p.actual_cost - p.planned_budget                             AS budget_variance,
       p.actual_cost <= p.planned_budget                            AS budget_met
FROM p`

	taskMeasuresSQL = `
WITH t AS (
    SELECT id, start_date, end_plan, end_real, state,
           planned_hours::numeric AS planned_hours,
           actual_hours::numeric  AS actual_hours
    FROM unnest($1::bigint[], $2::date[], $3::date[], $4::date[], $5::text[], $6::text[], $7::text[])
         AS u(id, start_date, end_plan, end_real, planned_hours, actual_hours, state)
)
SELECT t.id,
       (t.end_plan - t.start_date)                                  AS duration_planned,
       COALESCE(t.end_real - t.start_date, 0)                       AS duration_actual,
       COALESCE(t.end_real - t.start_date, 0)
           - (t.end_plan - t.start_date)                            AS schedule_variance,
       COALESCE(t.end_real <= t.end_plan, false)                    AS on_time,
       t.actual_hours - t.planned_hours                             AS hours_variance,
       CASE WHEN t.actual_hours > 0
            THEN ROUND(t.planned_hours * 100 / t.actual_hours, 2)
            ELSE 0 END                                              AS efficiency,
       (t.state = 'completed' AND t.end_real IS NOT NULL)           AS completed
FROM t`
)

// projectArgs lays out the extracted project values as the parallel array
// parameters of projectMeasuresSQL.
func projectArgs(projects []model.Project) []any {
	var (
		ids              = make([]int64, len(projects))
		starts, endPlans = make([]time.Time, len(projects)), make([]time.Time, len(projects))
		endReals         = make([]*time.Time, len(projects))
		budgets, costs   = make([]string, len(projects)), make([]string, len(projects))
	)
	for i, p := range projects {
		ids[i] = p.ID
		starts[i], endPlans[i], endReals[i] = p.Start, p.EndPlan, p.EndReal
		budgets[i], costs[i] = p.PlannedBudget.String(), p.ActualCost.String()
	}
	return []any{ids, starts, endPlans, endReals, budgets, costs}
}

// taskArgs lays out the extracted task values as the parallel array
// parameters of taskMeasuresSQL.
func taskArgs(tasks []model.Task) []any {
	var (
		ids              = make([]int64, len(tasks))
		starts, endPlans = make([]time.Time, len(tasks)), make([]time.Time, len(tasks))
		endReals         = make([]*time.Time, len(tasks))
		planned, actual  = make([]string, len(tasks)), make([]string, len(tasks))
		states           = make([]string, len(tasks))
	)
	for i, t := range tasks {
		ids[i] = t.ID
		starts[i], endPlans[i], endReals[i] = t.Start, t.EndPlan, t.EndReal
		planned[i], actual[i] = t.PlannedHours.String(), t.ActualHours.String()
		states[i] = string(t.State)
	}
	return []any{ids, starts, endPlans, endReals, planned, actual, states}
}

// Database delegates per-row arithmetic to the source database and only
// aggregates in process.
type Database struct {
	deps Deps
}

// NewDatabase returns the database-delegated strategy.
func NewDatabase(deps Deps) (Strategy, error) {
	if deps.Source == nil {
		return nil, errors.New("database strategy requires a source connection")
	}
	return &Database{deps: deps}, nil
}

// Name returns the strategy name.
func (s *Database) Name() string {
	return DatabaseName
}

// Description returns a human-readable description.
func (s *Database) Description() string {
	return databaseDescription
}

// Transform computes facts for the terminal projects of the snapshot.
func (s *Database) Transform(ctx context.Context, snap *model.Snapshot) (*Result, error) {
	sel := selectTerminal(snap)
	res := &Result{Strategy: DatabaseName}
	if len(sel.projects) == 0 {
		return res, nil
	}

	var tasks []model.Task
	for _, p := range sel.projects {
		tasks = append(tasks, sel.tasks[p.ID]...)
	}

	projectRows, err := s.projectMeasures(ctx, sel.projects)
	if err != nil {
		return nil, errors.Wrap(err, "project measures")
	}
	taskRows, err := s.taskMeasures(ctx, tasks)
	if err != nil {
		return nil, errors.Wrap(err, "task measures")
	}

	for _, p := range sel.projects {
		pm, ok := projectRows[p.ID]
		if !ok {
			return nil, fmt.Errorf("no measures returned for project %d", p.ID)
		}
		pm.PlannedBudget = p.PlannedBudget
		pm.ActualCost = p.ActualCost

		tasks := make([]TaskFact, 0, len(sel.tasks[p.ID]))
		for _, t := range sel.tasks[p.ID] {
			tm, ok := taskRows[t.ID]
			if !ok {
				return nil, fmt.Errorf("no measures returned for task %d", t.ID)
			}
			tm.PlannedHours = t.PlannedHours
			tm.ActualHours = t.ActualHours
			tasks = append(tasks, TaskFact{
				Task:     t,
				TeamID:   sel.teamOf(t.ID),
				Measures: tm,
			})
		}

		res.Projects = append(res.Projects, ProjectFact{
			Project:  p,
			Measures: Aggregate(pm, tasks),
			Tasks:    tasks,
		})
	}

	return res, nil
}

func (s *Database) projectMeasures(ctx context.Context, projects []model.Project) (map[int64]ProjectMeasures, error) {
	rows, err := s.deps.Source.Query(ctx, projectMeasuresSQL, projectArgs(projects)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int64]ProjectMeasures, len(projects))
	for rows.Next() {
		var (
			id int64
			pm ProjectMeasures
		)
		if err := rows.Scan(&id,
			&pm.DurationPlanned, &pm.DurationActual, &pm.ScheduleVariance, &pm.OnTime,
			&pm.BudgetVariance, &pm.BudgetMet,
		); err != nil {
			return nil, err
		}
		out[id] = pm
	}
	return out, rows.Err()
}

func (s *Database) taskMeasures(ctx context.Context, tasks []model.Task) (map[int64]TaskMeasures, error) {
	out := make(map[int64]TaskMeasures, len(tasks))
	if len(tasks) == 0 {
		return out, nil
	}

	rows, err := s.deps.Source.Query(ctx, taskMeasuresSQL, taskArgs(tasks)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id         int64
			tm         TaskMeasures
			efficiency decimal.Decimal
		)
		if err := rows.Scan(&id,
			&tm.DurationPlanned, &tm.DurationActual, &tm.ScheduleVariance, &tm.OnTime,
			&tm.HoursVariance, &efficiency, &tm.Completed,
		); err != nil {
			return nil, err
		}
		tm.Efficiency = efficiency
		out[id] = tm
	}
	return out, rows.Err()
}
