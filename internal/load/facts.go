//-------------------------------------------------------------------------
//
// pgEdge Project Warehouse
//
// Copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

package load

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/rs/zerolog"

	"github.com/pgEdge/pgedge-pmdw/internal/etlerr"
	"github.com/pgEdge/pgedge-pmdw/internal/model"
	"github.com/pgEdge/pgedge-pmdw/internal/timedim"
	"github.com/pgEdge/pgedge-pmdw/internal/transform"
	"github.com/pgEdge/pgedge-pmdw/internal/warehouse"
)

// FactLoader resolves dimension keys and upserts fact rows.
type FactLoader struct {
	log zerolog.Logger
}

// NewFactLoader returns a loader that logs through log.
func NewFactLoader(log zerolog.Logger) *FactLoader {
	return &FactLoader{log: log.With().Str("component", "facts").Logger()}
}

// rowEntity names the source entity behind each fact table.
var rowEntity = map[string]string{
	model.TableFactTask:    "task",
	model.TableFactProject: "project",
}

// dimEntity names the source entity behind each entity dimension.
var dimEntity = map[string]string{
	model.TableDimClient:   "client",
	model.TableDimEmployee: "employee",
	model.TableDimTeam:     "team",
	model.TableDimProject:  "project",
}

// resolver checks references against the key set of the transaction.
type resolver struct {
	keys *warehouse.KeySet

	// skipped holds the ids of source rows dropped during extraction,
	// by entity.
	skipped map[string]map[int64]bool
}

func newResolver(keys *warehouse.KeySet, skipped []*etlerr.PartialRowError) resolver {
	r := resolver{keys: keys, skipped: make(map[string]map[int64]bool)}
	for _, s := range skipped {
		if r.skipped[s.Entity] == nil {
			r.skipped[s.Entity] = make(map[int64]bool)
		}
		r.skipped[s.Entity][s.ID] = true
	}
	return r
}

// entity resolves one natural-key reference. A reference to a row that
// was itself skipped skips the referencing fact instead of failing the
// run.
func (r resolver) entity(set map[int64]struct{}, table string, rowKey int64, dim string, key int64) error {
	if _, ok := set[key]; ok {
		return nil
	}
	if name := dimEntity[dim]; r.skipped[name][key] {
		return &etlerr.PartialRowError{
			Entity: rowEntity[table],
			ID:     rowKey,
			Reason: fmt.Sprintf("references skipped %s %d", name, key),
		}
	}
	return &etlerr.MissingDimensionKeyError{Table: table, RowKey: rowKey, Dimension: dim, Key: key}
}

func (r resolver) time(table string, rowKey int64, key int32) error {
	if _, ok := r.keys.Times[key]; !ok {
		return &etlerr.MissingDimensionKeyError{Table: table, RowKey: rowKey, Dimension: model.TableDimTime, Key: int64(key)}
	}
	return nil
}

func (r resolver) times(table string, rowKey int64, keys ...*int32) error {
	for _, k := range keys {
		if k == nil {
			continue
		}
		if err := r.time(table, rowKey, *k); err != nil {
			return err
		}
	}
	return nil
}

func (r resolver) taskFact(tf transform.TaskFact) (model.FactTask, error) {
	t := tf.Task
	row := model.FactTask{
		TaskID:           t.ID,
		ProjectID:        t.ProjectID,
		EmployeeID:       t.AssigneeID,
		TeamID:           tf.TeamID,
		StartKey:         timedim.Key(t.Start),
		EndPlanKey:       timedim.Key(t.EndPlan),
		EndRealKey:       timedim.KeyPtr(t.EndReal),
		State:            t.State,
		Priority:         t.Priority,
		DurationPlanned:  tf.Measures.DurationPlanned,
		DurationActual:   tf.Measures.DurationActual,
		ScheduleVariance: tf.Measures.ScheduleVariance,
		OnTime:           tf.Measures.OnTime,
		PlannedHours:     tf.Measures.PlannedHours,
		ActualHours:      tf.Measures.ActualHours,
		HoursVariance:    tf.Measures.HoursVariance,
		Efficiency:       tf.Measures.Efficiency,
	}

	const table = model.TableFactTask
	if err := r.entity(r.keys.Projects, table, t.ID, model.TableDimProject, t.ProjectID); err != nil {
		return row, err
	}
	if t.AssigneeID != nil {
		if err := r.entity(r.keys.Employees, table, t.ID, model.TableDimEmployee, *t.AssigneeID); err != nil {
			return row, err
		}
	}
	if tf.TeamID != nil {
		if err := r.entity(r.keys.Teams, table, t.ID, model.TableDimTeam, *tf.TeamID); err != nil {
			return row, err
		}
	}
	return row, r.times(table, t.ID, &row.StartKey, &row.EndPlanKey, row.EndRealKey)
}

func (r resolver) projectFact(p model.Project, m transform.ProjectMeasures) (model.FactProject, error) {
	row := model.FactProject{
		ProjectID:        p.ID,
		ClientID:         p.ClientID,
		ManagerID:        p.ManagerID,
		StartKey:         timedim.Key(p.Start),
		EndPlanKey:       timedim.Key(p.EndPlan),
		EndRealKey:       timedim.KeyPtr(p.EndReal),
		State:            p.State,
		DurationPlanned:  m.DurationPlanned,
		DurationActual:   m.DurationActual,
		ScheduleVariance: m.ScheduleVariance,
		OnTime:           m.OnTime,
		PlannedBudget:    m.PlannedBudget,
		ActualCost:       m.ActualCost,
		BudgetVariance:   m.BudgetVariance,
		BudgetMet:        m.BudgetMet,
		TotalTasks:       m.TotalTasks,
		CompletedTasks:   m.CompletedTasks,
		CompletionRatio:  m.CompletionRatio,
		PlannedHours:     m.PlannedHours,
		ActualHours:      m.ActualHours,
		HoursVariance:    m.HoursVariance,
		Efficiency:       m.Efficiency,
	}

	const table = model.TableFactProject
	if err := r.entity(r.keys.Projects, table, p.ID, model.TableDimProject, p.ID); err != nil {
		return row, err
	}
	if err := r.entity(r.keys.Clients, table, p.ID, model.TableDimClient, p.ClientID); err != nil {
		return row, err
	}
	if err := r.entity(r.keys.Employees, table, p.ID, model.TableDimEmployee, p.ManagerID); err != nil {
		return row, err
	}
	return row, r.times(table, p.ID, &row.StartKey, &row.EndPlanKey, row.EndRealKey)
}

// Load writes the facts of res. Every reference is resolved before the
// first write, so a MissingDimensionKeyError leaves the transaction
// untouched by this call.
//
// Facts that reference a row skipped during extraction are not written;
// they are returned as PartialRowErrors. Task facts are written first and
// each project's task aggregates are recomputed from the task facts
// written for it. When incremental is set, facts of re-extracted projects
// that are no longer terminal or no longer loadable are removed, as are
// task facts of loaded projects that were not written this run.
func (l *FactLoader) Load(ctx context.Context, tx warehouse.Tx, res *transform.Result, snap *model.Snapshot, incremental bool) (Counts, []*etlerr.PartialRowError, error) {
	keys, err := tx.Keys(ctx)
	if err != nil {
		return nil, nil, errors.Wrap(err, "read dimension keys")
	}
	r := newResolver(keys, snap.Skipped)

	type pending struct {
		project model.Project
		written []transform.TaskFact
		taskIDs []int64
	}
	var (
		taskRows []model.FactTask
		projects []pending
		skipped  []*etlerr.PartialRowError
	)
	// drop keeps err when it is a cascaded skip and reports whether the
	// caller may continue.
	drop := func(err error) bool {
		var partial *etlerr.PartialRowError
		if !errors.As(err, &partial) {
			return false
		}
		skipped = append(skipped, partial)
		l.log.Warn().Str("entity", partial.Entity).Int64("id", partial.ID).Str("reason", partial.Reason).
			Msg("Skipped fact")
		return true
	}

	for _, pf := range res.Projects {
		pd := pending{project: pf.Project}
		for _, tf := range pf.Tasks {
			row, err := r.taskFact(tf)
			if err != nil {
				if drop(err) {
					continue
				}
				return nil, nil, err
			}
			taskRows = append(taskRows, row)
			pd.written = append(pd.written, tf)
			pd.taskIDs = append(pd.taskIDs, tf.Task.ID)
		}
		projects = append(projects, pd)
	}

	var (
		projectRows []model.FactProject
		unloadable  []int64
	)
	for i, pd := range projects {
		m := transform.Aggregate(res.Projects[i].Measures, pd.written)
		row, err := r.projectFact(pd.project, m)
		if err != nil {
			if drop(err) {
				unloadable = append(unloadable, pd.project.ID)
				continue
			}
			return nil, nil, err
		}
		projectRows = append(projectRows, row)
	}

	counts := make(Counts)
	if incremental {
		stale := unloadable
		for _, p := range snap.Projects {
			if !p.State.Terminal() {
				stale = append(stale, p.ID)
			}
		}
		for _, s := range snap.Skipped {
			if s.Entity == "project" {
				stale = append(stale, s.ID)
			}
		}
		if len(stale) > 0 {
			n, err := tx.DeleteFacts(ctx, stale)
			if err != nil {
				return nil, nil, errors.Wrap(err, "delete facts of stale projects")
			}
			l.log.Debug().Int("projects", len(stale)).Int64("rows", n).Msg("Removed facts of projects without a current fact")
		}
	}

	n, err := tx.UpsertTaskFacts(ctx, taskRows)
	if err != nil {
		return nil, nil, errors.Wrap(err, "load fact_task")
	}
	counts[model.TableFactTask] = n

	if incremental {
		for _, pd := range projects {
			if _, err := tx.PruneTaskFacts(ctx, pd.project.ID, pd.taskIDs); err != nil {
				return nil, nil, errors.Wrapf(err, "prune task facts of project %d", pd.project.ID)
			}
		}
	}

	n, err = tx.UpsertProjectFacts(ctx, projectRows)
	if err != nil {
		return nil, nil, errors.Wrap(err, "load fact_project")
	}
	counts[model.TableFactProject] = n

	l.log.Debug().
		Int64(model.TableFactTask, counts[model.TableFactTask]).
		Int64(model.TableFactProject, counts[model.TableFactProject]).
		Int("skipped", len(skipped)).
		Msg("Loaded facts")
	return counts, skipped, nil
}
