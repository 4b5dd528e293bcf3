//-------------------------------------------------------------------------
//
// pgEdge Project Warehouse
//
// Copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

// Package transform derives schedule, budget and efficiency measures for
// terminal projects and their tasks.
//
// The arithmetic here is pure. Zero denominators yield zero rather than an
// error or NaN so warehouse aggregates never see undefined values.
package transform

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/pgEdge/pgedge-pmdw/internal/model"
)

var hundred = decimal.NewFromInt(100)

// ScheduleMeasures are the date-derived measures shared by projects and
// tasks. Durations are in days.
type ScheduleMeasures struct {
	DurationPlanned  int
	DurationActual   int
	ScheduleVariance int
	OnTime           bool
}

// HoursMeasures compare planned and actual effort.
type HoursMeasures struct {
	PlannedHours  decimal.Decimal
	ActualHours   decimal.Decimal
	HoursVariance decimal.Decimal
	Efficiency    decimal.Decimal
}

// TaskMeasures are the measures of one task fact.
type TaskMeasures struct {
	ScheduleMeasures
	HoursMeasures

	// Completed is set when the task finished: state completed and an
	// actual end date recorded.
	Completed bool
}

// ProjectMeasures are the measures of one project fact.
type ProjectMeasures struct {
	ScheduleMeasures
	HoursMeasures

	PlannedBudget  decimal.Decimal
	ActualCost     decimal.Decimal
	BudgetVariance decimal.Decimal
	BudgetMet      bool

	TotalTasks      int
	CompletedTasks  int
	CompletionRatio float64
}

// Schedule computes durations and on-time status. A missing actual end
// gives an actual duration of zero and is never on time.
func Schedule(start, endPlan time.Time, endReal *time.Time) ScheduleMeasures {
	m := ScheduleMeasures{
		DurationPlanned: model.DaysBetween(start, endPlan),
	}
	if endReal != nil {
		m.DurationActual = model.DaysBetween(start, *endReal)
		m.OnTime = !endReal.After(endPlan)
	}
	m.ScheduleVariance = m.DurationActual - m.DurationPlanned
	return m
}

// Hours computes the effort variance and efficiency percentage.
func Hours(planned, actual decimal.Decimal) HoursMeasures {
	return HoursMeasures{
		PlannedHours:  planned,
		ActualHours:   actual,
		HoursVariance: actual.Sub(planned),
		Efficiency:    Efficiency(planned, actual),
	}
}

// Efficiency is planned/actual as a percentage rounded to two places, or
// zero when no actual hours were booked.
func Efficiency(planned, actual decimal.Decimal) decimal.Decimal {
	if !actual.IsPositive() {
		return decimal.Zero
	}
	return planned.Mul(hundred).DivRound(actual, 2)
}

// CompletionRatio is completed/total, zero for an empty project.
func CompletionRatio(completed, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(completed) / float64(total)
}

// TaskCompleted reports whether a task counts towards completed tasks.
func TaskCompleted(t model.Task) bool {
	return t.State == model.StateCompleted && t.EndReal != nil
}

// MeasureTask computes all measures of a single task.
func MeasureTask(t model.Task) TaskMeasures {
	return TaskMeasures{
		ScheduleMeasures: Schedule(t.Start, t.EndPlan, t.EndReal),
		HoursMeasures:    Hours(t.PlannedHours, t.ActualHours),
		Completed:        TaskCompleted(t),
	}
}

// MeasureProjectRow computes the measures that depend on the project row
// alone. Task aggregates are left zero; see Aggregate.
func MeasureProjectRow(p model.Project) ProjectMeasures {
	return ProjectMeasures{
		ScheduleMeasures: Schedule(p.Start, p.EndPlan, p.EndReal),
		PlannedBudget:    p.PlannedBudget,
		ActualCost:       p.ActualCost,
		BudgetVariance:   p.ActualCost.Sub(p.PlannedBudget),
		BudgetMet:        p.ActualCost.LessThanOrEqual(p.PlannedBudget),
		HoursMeasures:    Hours(decimal.Zero, decimal.Zero),
	}
}

// Aggregate fills the task-derived project measures from the given task
// facts. It replaces any previous aggregate values, so it can be applied
// again once the set of loaded tasks is known.
func Aggregate(pm ProjectMeasures, tasks []TaskFact) ProjectMeasures {
	planned, actual := decimal.Zero, decimal.Zero
	completed := 0
	for _, t := range tasks {
		planned = planned.Add(t.Measures.PlannedHours)
		actual = actual.Add(t.Measures.ActualHours)
		if t.Measures.Completed {
			completed++
		}
	}
	pm.TotalTasks = len(tasks)
	pm.CompletedTasks = completed
	pm.CompletionRatio = CompletionRatio(completed, len(tasks))
	pm.HoursMeasures = Hours(planned, actual)
	return pm
}

// ComputeProject computes all project measures given its task facts.
func ComputeProject(p model.Project, tasks []TaskFact) ProjectMeasures {
	return Aggregate(MeasureProjectRow(p), tasks)
}
