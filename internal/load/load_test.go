package load

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgEdge/pgedge-pmdw/internal/etlerr"
	"github.com/pgEdge/pgedge-pmdw/internal/model"
	"github.com/pgEdge/pgedge-pmdw/internal/testutil"
	"github.com/pgEdge/pgedge-pmdw/internal/timedim"
	"github.com/pgEdge/pgedge-pmdw/internal/transform"
	"github.com/pgEdge/pgedge-pmdw/internal/warehouse"
)

func transformSnapshot(t *testing.T, snap *model.Snapshot) *transform.Result {
	t.Helper()
	s, err := transform.New(transform.InProcessName, transform.Deps{})
	require.NoError(t, err)
	res, err := s.Transform(context.Background(), snap)
	require.NoError(t, err)
	return res
}

func loadSnapshot(t *testing.T, store *warehouse.Memory, snap *model.Snapshot, incremental bool) (Counts, error) {
	t.Helper()
	ctx := context.Background()
	log := zerolog.Nop()

	tx, err := store.Begin(ctx)
	require.NoError(t, err)

	counts, err := NewDimensionLoader(log).Load(ctx, tx, snap, timedim.ForSnapshot(snap, 7))
	require.NoError(t, err)

	facts, _, err := NewFactLoader(log).Load(ctx, tx, transformSnapshot(t, snap), snap, incremental)
	if err != nil {
		_ = tx.Rollback(ctx)
		return nil, err
	}
	counts.Add(facts)
	require.NoError(t, tx.Commit(ctx))
	return counts, nil
}

func TestBuildDimensionsCounts(t *testing.T) {
	d := BuildDimensions(testutil.ScenarioB())

	require.Len(t, d.Employees, 3)
	teamCount := make(map[int64]int)
	for _, e := range d.Employees {
		teamCount[e.EmployeeID] = e.TeamCount
	}
	assert.Equal(t, 0, teamCount[testutil.ManagerID])
	assert.Equal(t, 1, teamCount[testutil.DevID])
	assert.Equal(t, 2, teamCount[testutil.QAID])

	require.Len(t, d.Teams, 2)
	assert.Equal(t, 2, d.Teams[0].MemberCount)
	assert.Equal(t, 1, d.Teams[1].MemberCount)

	require.Len(t, d.Projects, 1, "non-terminal projects still get a dimension row")
	assert.False(t, d.Projects[0].IsTerminal)
	assert.Equal(t, "Ana Silva", d.Employees[0].FullName)
}

func TestLoadScenarioA(t *testing.T) {
	store := warehouse.NewMemory()

	counts, err := loadSnapshot(t, store, testutil.ScenarioA(), false)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[model.TableFactProject])
	assert.Equal(t, int64(2), counts[model.TableFactTask])
	assert.Equal(t, int64(3), counts[model.TableDimEmployee])

	facts := store.ProjectFacts()
	require.Len(t, facts, 1)
	f := facts[0]
	assert.Equal(t, 5, f.ScheduleVariance)
	assert.False(t, f.OnTime)
	assert.True(t, f.BudgetVariance.Equal(testutil.Dec("-100")))
	assert.True(t, f.BudgetMet)
	assert.Equal(t, 1.0, f.CompletionRatio)
	assert.Equal(t, int32(20240101), f.StartKey)
	require.NotNil(t, f.EndRealKey)
	assert.Equal(t, int32(20240205), *f.EndRealKey)

	tasks := store.TaskFacts()
	require.Len(t, tasks, 2)
	require.NotNil(t, tasks[1].TeamID)
	assert.Equal(t, testutil.TeamCore, *tasks[1].TeamID, "lowest assigned team wins")
}

func TestLoadScenarioD(t *testing.T) {
	store := warehouse.NewMemory()

	_, err := loadSnapshot(t, store, testutil.ScenarioD(), false)
	require.NoError(t, err)

	f := store.ProjectFacts()[0]
	assert.Equal(t, 2, f.TotalTasks)
	assert.Equal(t, 1, f.CompletedTasks)
	assert.Equal(t, 0.5, f.CompletionRatio)

	task := store.TaskFacts()[1]
	assert.Equal(t, testutil.TaskVerify, task.TaskID)
	assert.False(t, task.OnTime)
	assert.Equal(t, 0, task.DurationActual)
	assert.Nil(t, task.EndRealKey)
}

func TestLoadMissingDimensionKey(t *testing.T) {
	ctx := context.Background()
	store := warehouse.NewMemory()
	snap := testutil.ScenarioA()

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	defer func() { _ = tx.Rollback(ctx) }()

	_, _, err = NewFactLoader(zerolog.Nop()).Load(ctx, tx, transformSnapshot(t, snap), snap, false)

	var missing *etlerr.MissingDimensionKeyError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, model.TableFactTask, missing.Table)
	assert.Equal(t, model.TableDimProject, missing.Dimension)
	assert.Equal(t, testutil.ProjectID, missing.Key)
}

func TestLoadUnknownAssignee(t *testing.T) {
	store := warehouse.NewMemory()
	snap := testutil.ScenarioA()
	snap.Tasks[0].AssigneeID = testutil.Ptr(int64(99))

	_, err := loadSnapshot(t, store, snap, false)

	var missing *etlerr.MissingDimensionKeyError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, testutil.TaskBuild, missing.RowKey)
	assert.Equal(t, int64(99), missing.Key)
	assert.Empty(t, store.TaskFacts(), "nothing is committed")
}

func TestLoadSkippedAssigneeDropsTaskFact(t *testing.T) {
	ctx := context.Background()
	store := warehouse.NewMemory()
	snap := testutil.ScenarioA()
	snap.Employees = snap.Employees[:2]
	snap.Skipped = []*etlerr.PartialRowError{{Entity: "employee", ID: testutil.QAID, Reason: "negative hourly_rate"}}

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	_, err = NewDimensionLoader(zerolog.Nop()).Load(ctx, tx, snap, timedim.ForSnapshot(snap, 0))
	require.NoError(t, err)

	counts, dropped, err := NewFactLoader(zerolog.Nop()).Load(ctx, tx, transformSnapshot(t, snap), snap, false)
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))

	require.Len(t, dropped, 1)
	assert.Equal(t, "task", dropped[0].Entity)
	assert.Equal(t, testutil.TaskVerify, dropped[0].ID)
	assert.Contains(t, dropped[0].Reason, "employee 3")

	assert.Equal(t, int64(1), counts[model.TableFactTask])
	f := store.ProjectFacts()[0]
	assert.Equal(t, 1, f.TotalTasks, "aggregates cover the written task facts only")
	assert.True(t, f.PlannedHours.Equal(testutil.Dec("40")))
}

func TestLoadIncrementalReopenedProject(t *testing.T) {
	store := warehouse.NewMemory()

	_, err := loadSnapshot(t, store, testutil.ScenarioA(), false)
	require.NoError(t, err)
	require.Len(t, store.ProjectFacts(), 1)

	_, err = loadSnapshot(t, store, testutil.ScenarioB(), true)
	require.NoError(t, err)

	assert.Empty(t, store.ProjectFacts())
	assert.Empty(t, store.TaskFacts())
	require.Len(t, store.DimProjects(), 1)
	assert.Equal(t, model.StateInProgress, store.DimProjects()[0].State)
}

func TestLoadIncrementalPrunesReopenedTask(t *testing.T) {
	store := warehouse.NewMemory()

	_, err := loadSnapshot(t, store, testutil.ScenarioA(), false)
	require.NoError(t, err)

	snap := testutil.ScenarioA()
	snap.Tasks[1].State = model.StateInProgress
	snap.Tasks[1].EndReal = nil
	_, err = loadSnapshot(t, store, snap, true)
	require.NoError(t, err)

	tasks := store.TaskFacts()
	require.Len(t, tasks, 1)
	assert.Equal(t, testutil.TaskBuild, tasks[0].TaskID)

	f := store.ProjectFacts()[0]
	assert.Equal(t, 1, f.TotalTasks, "aggregates match the task facts loaded")
	assert.True(t, f.PlannedHours.Equal(testutil.Dec("40")))
}

func TestLoadRerunIsIdempotent(t *testing.T) {
	store := warehouse.NewMemory()

	for range 3 {
		_, err := loadSnapshot(t, store, testutil.ScenarioA(), false)
		require.NoError(t, err)
	}

	counts, err := store.Counts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[model.TableFactProject])
	assert.Equal(t, int64(2), counts[model.TableFactTask])
	assert.Equal(t, int64(1), counts[model.TableDimClient])
}
