package transform

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgEdge/pgedge-pmdw/internal/model"
)

func day(y int, m time.Month, d int) time.Time { return model.Date(y, m, d) }

func ptr[T any](v T) *T { return &v }

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestScheduleLateProject(t *testing.T) {
	start := day(2024, time.January, 1)
	m := Schedule(start, start.AddDate(0, 0, 30), ptr(start.AddDate(0, 0, 35)))

	assert.Equal(t, 30, m.DurationPlanned)
	assert.Equal(t, 35, m.DurationActual)
	assert.Equal(t, 5, m.ScheduleVariance)
	assert.False(t, m.OnTime)
}

func TestScheduleOnTimeBoundary(t *testing.T) {
	start := day(2024, time.March, 1)
	end := day(2024, time.March, 20)

	m := Schedule(start, end, ptr(end))
	assert.True(t, m.OnTime, "finishing on the planned day is on time")
	assert.Equal(t, 0, m.ScheduleVariance)
}

func TestScheduleMissingActualEnd(t *testing.T) {
	start := day(2024, time.March, 1)
	m := Schedule(start, day(2024, time.March, 11), nil)

	assert.Equal(t, 10, m.DurationPlanned)
	assert.Equal(t, 0, m.DurationActual)
	assert.Equal(t, -10, m.ScheduleVariance)
	assert.False(t, m.OnTime)
}

func TestEfficiency(t *testing.T) {
	tests := []struct {
		name    string
		planned string
		actual  string
		want    string
	}{
		{"exact", "10", "10", "100"},
		{"overrun", "10", "12", "83.33"},
		{"underrun", "12", "10", "120"},
		{"no actual hours", "10", "0", "0"},
		{"negative actual hours", "10", "-1", "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Efficiency(dec(tt.planned), dec(tt.actual))
			assert.True(t, got.Equal(dec(tt.want)), "got %s want %s", got, tt.want)
		})
	}
}

func TestCompletionRatioZeroTasks(t *testing.T) {
	assert.Equal(t, 0.0, CompletionRatio(0, 0))
	assert.Equal(t, 0.5, CompletionRatio(1, 2))
}

func TestComputeProjectScenarioA(t *testing.T) {
	start := day(2024, time.January, 1)
	p := model.Project{
		ID: 1, ClientID: 1, ManagerID: 1,
		State:         model.StateCompleted,
		Start:         start,
		EndPlan:       start.AddDate(0, 0, 30),
		EndReal:       ptr(start.AddDate(0, 0, 35)),
		PlannedBudget: dec("1000"),
		ActualCost:    dec("900"),
	}
	tasks := []TaskFact{
		{Task: model.Task{ID: 1}, Measures: TaskMeasures{Completed: true, HoursMeasures: Hours(dec("8"), dec("10"))}},
		{Task: model.Task{ID: 2}, Measures: TaskMeasures{Completed: true, HoursMeasures: Hours(dec("12"), dec("10"))}},
	}

	m := ComputeProject(p, tasks)

	assert.Equal(t, 5, m.ScheduleVariance)
	assert.False(t, m.OnTime)
	assert.True(t, m.BudgetVariance.Equal(dec("-100")), "budget variance %s", m.BudgetVariance)
	assert.True(t, m.BudgetMet)
	assert.Equal(t, 1.0, m.CompletionRatio)
	assert.Equal(t, 2, m.TotalTasks)
	assert.True(t, m.PlannedHours.Equal(dec("20")))
	assert.True(t, m.ActualHours.Equal(dec("20")))
	assert.True(t, m.Efficiency.Equal(dec("100")))
}

func TestMeasureProjectRowVarianceIdentities(t *testing.T) {
	start := day(2023, time.June, 5)
	p := model.Project{
		Start:         start,
		EndPlan:       start.AddDate(0, 2, 0),
		EndReal:       ptr(start.AddDate(0, 1, 10)),
		PlannedBudget: dec("1234.56"),
		ActualCost:    dec("2000.01"),
	}
	m := MeasureProjectRow(p)

	assert.Equal(t, m.DurationActual-m.DurationPlanned, m.ScheduleVariance)
	assert.True(t, m.BudgetVariance.Equal(p.ActualCost.Sub(p.PlannedBudget)))
	assert.False(t, m.BudgetMet)
	assert.True(t, m.OnTime)
}

func TestMeasureTaskScenarioD(t *testing.T) {
	task := model.Task{
		ID:           7,
		State:        model.StateCompleted,
		Start:        day(2024, time.May, 1),
		EndPlan:      day(2024, time.May, 4),
		PlannedHours: dec("6"),
		ActualHours:  dec("0"),
	}
	m := MeasureTask(task)

	assert.False(t, m.Completed, "no actual end date means not completed")
	assert.False(t, m.OnTime)
	assert.Equal(t, 0, m.DurationActual)
	assert.True(t, m.Efficiency.IsZero())
}

func TestAggregateReplacesPreviousCounts(t *testing.T) {
	pm := ProjectMeasures{TotalTasks: 9, CompletedTasks: 9, CompletionRatio: 1}
	pm = Aggregate(pm, []TaskFact{
		{Measures: TaskMeasures{Completed: true}},
		{Measures: TaskMeasures{Completed: false}},
	})

	require.Equal(t, 2, pm.TotalTasks)
	assert.Equal(t, 1, pm.CompletedTasks)
	assert.Equal(t, 0.5, pm.CompletionRatio)
}
