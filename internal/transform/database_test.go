package transform

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgEdge/pgedge-pmdw/internal/model"
)

func TestProjectArgsCarryExtractedValues(t *testing.T) {
	start := day(2024, time.March, 4)
	end := start.AddDate(0, 0, 30)
	args := projectArgs([]model.Project{
		{ID: 7, Start: start, EndPlan: end, EndReal: ptr(end), PlannedBudget: dec("1200.50"), ActualCost: dec("1100")},
		{ID: 8, Start: start, EndPlan: end, PlannedBudget: dec("10"), ActualCost: dec("-0.25")},
	})

	require.Len(t, args, 6)
	assert.Equal(t, []int64{7, 8}, args[0])
	assert.Equal(t, []time.Time{start, start}, args[1])
	assert.Equal(t, []time.Time{end, end}, args[2])

	endReals := args[3].([]*time.Time)
	require.Len(t, endReals, 2)
	require.NotNil(t, endReals[0])
	assert.True(t, endReals[0].Equal(end))
	assert.Nil(t, endReals[1], "open projects send a NULL end date")

	assert.Equal(t, []string{"1200.5", "10"}, args[4])
	assert.Equal(t, []string{"1100", "-0.25"}, args[5])
}

func TestTaskArgsCarryExtractedValues(t *testing.T) {
	start := day(2024, time.March, 4)
	end := start.AddDate(0, 0, 3)
	args := taskArgs([]model.Task{
		{ID: 31, State: model.StateCompleted, Start: start, EndPlan: end, EndReal: ptr(end), PlannedHours: dec("8"), ActualHours: dec("6.5")},
		{ID: 32, State: model.StatePaused, Start: start, EndPlan: end},
	})

	require.Len(t, args, 7)
	assert.Equal(t, []int64{31, 32}, args[0])
	assert.Equal(t, []string{"8", "0"}, args[4])
	assert.Equal(t, []string{"6.5", "0"}, args[5])
	assert.Equal(t, []string{"completed", "paused"}, args[6])
	assert.Nil(t, args[3].([]*time.Time)[1])
}
