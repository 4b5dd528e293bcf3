package source

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgEdge/pgedge-pmdw/internal/model"
	"github.com/pgEdge/pgedge-pmdw/internal/testutil"
)

func TestStaticExtractAll(t *testing.T) {
	r := NewStaticReader(testutil.ScenarioA())

	snap, err := r.Extract(context.Background(), Filter{})
	require.NoError(t, err)

	assert.Len(t, snap.Clients, 1)
	assert.Len(t, snap.Employees, 3)
	assert.Len(t, snap.Teams, 2)
	assert.Len(t, snap.Memberships, 3)
	assert.Len(t, snap.Projects, 1)
	assert.Len(t, snap.Tasks, 2)
	assert.Len(t, snap.Assignments, 3)
	assert.Empty(t, snap.Skipped)
}

func TestStaticExtractStateFilter(t *testing.T) {
	r := NewStaticReader(testutil.ScenarioB())

	snap, err := r.Extract(context.Background(), Filter{States: model.TerminalStates})
	require.NoError(t, err)

	assert.Empty(t, snap.Projects, "in-progress project is filtered out")
	assert.Empty(t, snap.Tasks, "tasks of unselected projects are not returned")
	assert.Empty(t, snap.Assignments)
	assert.Len(t, snap.Clients, 1, "state filter does not apply to dimensions")
}

func TestStaticExtractSkipsMalformedRows(t *testing.T) {
	data := testutil.ScenarioA()
	data.Projects = append(data.Projects,
		model.Project{ID: 200, ClientID: 1, ManagerID: 1, State: "archived",
			Start: testutil.Day(2024, time.January, 1), EndPlan: testutil.Day(2024, time.February, 1), UpdatedAt: testutil.Stamp},
		model.Project{ID: 201, ClientID: 1, ManagerID: 1, State: model.StateCompleted,
			EndPlan: testutil.Day(2024, time.February, 1), UpdatedAt: testutil.Stamp},
		model.Project{ID: 202, ClientID: 1, ManagerID: 1, State: model.StateCompleted,
			Start: testutil.Day(2024, time.January, 1), EndPlan: testutil.Day(2024, time.February, 1),
			ActualCost: testutil.Dec("-1"), UpdatedAt: testutil.Stamp},
	)
	data.Tasks[1].PlannedHours = testutil.Dec("-3")

	snap, err := NewStaticReader(data).Extract(context.Background(), Filter{})
	require.NoError(t, err)

	require.Len(t, snap.Skipped, 4)
	reasons := make(map[int64]string)
	for _, s := range snap.Skipped {
		reasons[s.ID] = s.Reason
	}
	assert.Contains(t, reasons[200], "archived")
	assert.Equal(t, "start_date is NULL", reasons[201])
	assert.Equal(t, "negative actual_cost", reasons[202])
	assert.Equal(t, "negative planned_hours", reasons[testutil.TaskVerify])

	assert.Len(t, snap.Projects, 1)
	assert.Len(t, snap.Tasks, 1)
	assert.Len(t, snap.Assignments, 1, "assignments of skipped tasks are dropped")
}

func TestStaticExtractIncremental(t *testing.T) {
	data := testutil.ScenarioA()
	later := testutil.Stamp.Add(time.Hour)
	data.Tasks[1].UpdatedAt = later

	r := NewStaticReader(data)
	snap, err := r.Extract(context.Background(), Filter{Since: &later})
	require.NoError(t, err)

	assert.Empty(t, snap.Clients)
	require.Len(t, snap.Employees, 2, "team members are re-read for their team counts")
	assert.Equal(t, testutil.DevID, snap.Employees[0].ID)
	assert.Equal(t, testutil.QAID, snap.Employees[1].ID)
	assert.Len(t, snap.Teams, 2)
	require.Len(t, snap.Projects, 1, "project is selected through its changed task")
	assert.Len(t, snap.Tasks, 2, "all tasks of a selected project are returned")

	// The watermark is inclusive.
	snap, err = r.Extract(context.Background(), Filter{Since: &testutil.Stamp})
	require.NoError(t, err)
	assert.Len(t, snap.Clients, 1)

	after := later.Add(time.Second)
	snap, err = r.Extract(context.Background(), Filter{Since: &after})
	require.NoError(t, err)
	assert.Empty(t, snap.Projects)
	assert.Empty(t, snap.Tasks)
}

func TestStaticExtractIncrementalMembershipChange(t *testing.T) {
	data := testutil.ScenarioA()
	later := testutil.Stamp.Add(time.Hour)
	data.Memberships = append(data.Memberships, model.TeamMembership{TeamID: testutil.TeamQA, EmployeeID: testutil.DevID})

	snap, err := NewStaticReader(data).Extract(context.Background(), Filter{Since: &later})
	require.NoError(t, err)

	ids := make([]int64, 0, len(snap.Employees))
	for _, e := range snap.Employees {
		ids = append(ids, e.ID)
	}
	assert.Contains(t, ids, testutil.DevID, "unchanged employee with a new membership is re-read")
	assert.NotContains(t, ids, testutil.ManagerID)
	assert.Len(t, snap.Teams, 2)
	assert.Len(t, snap.Memberships, 4)
}

func TestStaticExtractIncrementalReportsMalformedEmployee(t *testing.T) {
	data := testutil.ScenarioA()
	data.Employees[0].HourlyRate = testutil.Dec("-1")
	later := testutil.Stamp.Add(time.Hour)

	snap, err := NewStaticReader(data).Extract(context.Background(), Filter{Since: &later})
	require.NoError(t, err)

	require.Len(t, snap.Skipped, 1, "unchanged malformed rows are still reported")
	assert.Equal(t, "employee", snap.Skipped[0].Entity)
	assert.Equal(t, testutil.ManagerID, snap.Skipped[0].ID)
}

func TestStaticExtractReplace(t *testing.T) {
	r := NewStaticReader(testutil.ScenarioB())
	r.Replace(testutil.ScenarioA())

	snap, err := r.Extract(context.Background(), Filter{States: model.TerminalStates})
	require.NoError(t, err)
	assert.Len(t, snap.Projects, 1)
}

func TestStaticExtractCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewStaticReader(testutil.ScenarioA()).Extract(ctx, Filter{})
	assert.ErrorIs(t, err, context.Canceled)
}
