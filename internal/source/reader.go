//-------------------------------------------------------------------------
//
// pgEdge Project Warehouse
//
// Copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

// Package source extracts the operational project-management records that
// feed the warehouse.
package source

import (
	"context"
	"slices"
	"time"

	"github.com/pgEdge/pgedge-pmdw/internal/etlerr"
	"github.com/pgEdge/pgedge-pmdw/internal/model"
)

// Filter narrows an extraction.
type Filter struct {
	// States restricts projects and tasks to the given lifecycle states.
	// Empty means all states.
	States []model.State

	// Since selects records changed at or after the watermark. A project
	// is also selected when any of its tasks changed, and all tasks of a
	// selected project are returned so its aggregates stay complete.
	Since *time.Time
}

// Incremental reports whether the filter carries a watermark.
func (f Filter) Incremental() bool {
	return f.Since != nil
}

func (f Filter) stateAllowed(s model.State) bool {
	return len(f.States) == 0 || slices.Contains(f.States, s)
}

func (f Filter) changed(t time.Time) bool {
	return f.Since == nil || !t.Before(*f.Since)
}

// Reader extracts a snapshot of the operational schema.
type Reader interface {
	// Verify checks that every table and column the reader needs exists.
	// It fails with etlerr.SchemaMismatchError or etlerr.ConnectivityError.
	Verify(ctx context.Context) error

	// Extract reads all records matching the filter. Malformed rows are
	// reported in Snapshot.Skipped and do not fail the extraction.
	Extract(ctx context.Context, f Filter) (*model.Snapshot, error)
}

func skip(entity string, id int64, reason string) *etlerr.PartialRowError {
	return &etlerr.PartialRowError{Entity: entity, ID: id, Reason: reason}
}

func checkEmployee(e model.Employee) *etlerr.PartialRowError {
	if e.HourlyRate.IsNegative() {
		return skip("employee", e.ID, "negative hourly_rate")
	}
	return nil
}

func checkProject(p model.Project) *etlerr.PartialRowError {
	if _, err := model.ParseState(string(p.State)); err != nil {
		return skip("project", p.ID, err.Error())
	}
	switch {
	case p.Start.IsZero():
		return skip("project", p.ID, "start_date is NULL")
	case p.EndPlan.IsZero():
		return skip("project", p.ID, "end_plan is NULL")
	case p.PlannedBudget.IsNegative():
		return skip("project", p.ID, "negative planned_budget")
	case p.ActualCost.IsNegative():
		return skip("project", p.ID, "negative actual_cost")
	}
	return nil
}

func checkTask(t model.Task) *etlerr.PartialRowError {
	if _, err := model.ParseState(string(t.State)); err != nil {
		return skip("task", t.ID, err.Error())
	}
	switch {
	case t.Start.IsZero():
		return skip("task", t.ID, "start_date is NULL")
	case t.EndPlan.IsZero():
		return skip("task", t.ID, "end_plan is NULL")
	case t.PlannedHours.IsNegative():
		return skip("task", t.ID, "negative planned_hours")
	case t.ActualHours.IsNegative():
		return skip("task", t.ID, "negative actual_hours")
	}
	return nil
}
