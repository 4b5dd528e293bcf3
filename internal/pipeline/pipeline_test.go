package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgEdge/pgedge-pmdw/internal/etlerr"
	"github.com/pgEdge/pgedge-pmdw/internal/metrics"
	"github.com/pgEdge/pgedge-pmdw/internal/model"
	"github.com/pgEdge/pgedge-pmdw/internal/source"
	"github.com/pgEdge/pgedge-pmdw/internal/testutil"
	"github.com/pgEdge/pgedge-pmdw/internal/warehouse"
)

type harness struct {
	reader *source.StaticReader
	store  *warehouse.Memory
	p      *Pipeline
}

func newHarness(snap *model.Snapshot) *harness {
	h := &harness{
		reader: source.NewStaticReader(snap),
		store:  warehouse.NewMemory(),
	}
	h.p = New(&StaticConnector{Reader: h.reader, Warehouse: h.store})
	return h
}

func (h *harness) run(t *testing.T, mode Mode) *Summary {
	t.Helper()
	sum, err := h.p.Run(context.Background(), Options{Mode: mode, MarginDays: 10, Logger: zerolog.Nop()})
	require.NoError(t, err)
	require.Equal(t, StateDone, sum.State)
	return sum
}

func (h *harness) counts(t *testing.T) map[string]int64 {
	t.Helper()
	c, err := h.store.Counts(context.Background())
	require.NoError(t, err)
	return c
}

func TestRunScenarioA(t *testing.T) {
	h := newHarness(testutil.ScenarioA())

	sum := h.run(t, ModeFull)
	assert.Equal(t, "in-process", sum.Strategy)
	assert.Equal(t, 1, sum.Processed[model.TableFactProject])
	assert.Equal(t, 2, sum.Processed[model.TableFactTask])
	assert.Equal(t, 36+2*10, sum.Processed[model.TableDimTime], "Jan 1 to Feb 5 plus margins")
	assert.Zero(t, sum.Skipped)
	assert.Empty(t, sum.Error)

	facts := h.store.ProjectFacts()
	require.Len(t, facts, 1)
	f := facts[0]
	assert.Equal(t, 5, f.ScheduleVariance)
	assert.False(t, f.OnTime)
	assert.True(t, f.BudgetVariance.Equal(testutil.Dec("-100")))
	assert.True(t, f.BudgetMet)
	assert.Equal(t, 1.0, f.CompletionRatio)

	assert.Equal(t, []string{CheckpointDimensions, CheckpointFacts}, h.store.Checkpoints())
	assert.Equal(t, []string{"Lock", "EnsureSchema", "Begin"}, h.store.Calls()[:3])

	runs := h.store.Runs()
	require.Len(t, runs, 1)
	assert.Equal(t, sum.RunID, runs[0].RunID)
	assert.Equal(t, string(StateDone), runs[0].State)

	wm, err := h.store.Watermark(context.Background())
	require.NoError(t, err)
	require.NotNil(t, wm)
	assert.True(t, wm.Equal(testutil.Stamp))
}

func TestRunScenarioB(t *testing.T) {
	h := newHarness(testutil.ScenarioB())
	h.run(t, ModeFull)

	assert.Empty(t, h.store.ProjectFacts())
	assert.Empty(t, h.store.TaskFacts())
	require.Len(t, h.store.DimProjects(), 1)
	assert.Equal(t, testutil.ProjectID, h.store.DimProjects()[0].ProjectID)
}

func TestRunScenarioC(t *testing.T) {
	h := newHarness(testutil.ScenarioA())
	h.run(t, ModeFull)
	before := h.counts(t)
	facts := h.store.ProjectFacts()

	for range 2 {
		h.run(t, ModeIncremental)
	}

	assert.Equal(t, before, h.counts(t))
	assert.Equal(t, facts, h.store.ProjectFacts())
}

func TestRunScenarioD(t *testing.T) {
	h := newHarness(testutil.ScenarioD())
	h.run(t, ModeFull)

	f := h.store.ProjectFacts()[0]
	assert.Equal(t, 1, f.CompletedTasks)
	assert.Equal(t, 2, f.TotalTasks)

	task := h.store.TaskFacts()[1]
	assert.False(t, task.OnTime)
	assert.Equal(t, 0, task.DurationActual)
}

func TestRunFullRefreshIsIdempotent(t *testing.T) {
	h := newHarness(testutil.ScenarioA())
	h.run(t, ModeFull)
	projects, tasks, counts := h.store.ProjectFacts(), h.store.TaskFacts(), h.counts(t)

	h.run(t, ModeFull)
	assert.Equal(t, projects, h.store.ProjectFacts())
	assert.Equal(t, tasks, h.store.TaskFacts())
	assert.Equal(t, counts, h.counts(t))
}

func TestRunFullRefreshDropsVanishedRows(t *testing.T) {
	h := newHarness(testutil.ScenarioA())
	h.run(t, ModeFull)

	h.reader.Replace(testutil.Base())
	h.run(t, ModeFull)

	assert.Empty(t, h.store.ProjectFacts())
	assert.Empty(t, h.store.DimProjects())
	assert.Equal(t, int64(3), h.counts(t)[model.TableDimEmployee])
}

func TestRunIncrementalPicksUpChanges(t *testing.T) {
	mid := testutil.Stamp.Add(time.Hour)
	first := testutil.ScenarioB()
	first.Projects[0].UpdatedAt = mid
	h := newHarness(first)
	h.run(t, ModeFull)
	require.Empty(t, h.store.ProjectFacts())

	later := testutil.Stamp.Add(24 * time.Hour)
	snap := testutil.ScenarioA()
	snap.Projects[0].UpdatedAt = later
	snap.Tasks[0].ActualHours = testutil.Dec("30")
	snap.Tasks[0].UpdatedAt = later
	h.reader.Replace(snap)

	sum := h.run(t, ModeIncremental)
	assert.Equal(t, 1, sum.Processed[model.TableDimProject])
	assert.Zero(t, sum.Processed[model.TableDimClient], "unchanged dimensions are not re-read")

	facts := h.store.ProjectFacts()
	require.Len(t, facts, 1)
	assert.True(t, facts[0].ActualHours.Equal(testutil.Dec("40")))
	assert.True(t, facts[0].Efficiency.Equal(testutil.Dec("150")))

	wm, err := h.store.Watermark(context.Background())
	require.NoError(t, err)
	assert.True(t, wm.Equal(later))
}

func TestRunInProgress(t *testing.T) {
	h := newHarness(testutil.ScenarioA())
	release, err := h.store.Lock(context.Background())
	require.NoError(t, err)
	defer release()

	sum, err := h.p.Run(context.Background(), Options{Mode: ModeFull, Logger: zerolog.Nop()})

	var inProgress *etlerr.RunInProgressError
	require.True(t, errors.As(err, &inProgress))
	assert.Equal(t, StateFailed, sum.State)
	assert.NotEmpty(t, sum.Error)
	assert.Empty(t, h.store.Runs(), "a locked-out run writes nothing")
	assert.Empty(t, h.store.ProjectFacts())
	assert.NotContains(t, h.store.Calls(), "EnsureSchema")
}

// mismatchedReader reports a source schema that lacks a required column.
type mismatchedReader struct {
	source.Reader
}

func (mismatchedReader) Verify(context.Context) error {
	return &etlerr.SchemaMismatchError{Missing: []string{"task.actual_hours"}}
}

func TestRunSchemaMismatchWritesNothing(t *testing.T) {
	store := warehouse.NewMemory()
	reader := mismatchedReader{Reader: source.NewStaticReader(testutil.ScenarioA())}
	p := New(&StaticConnector{Reader: reader, Warehouse: store})

	sum, err := p.Run(context.Background(), Options{Mode: ModeFull, Logger: zerolog.Nop()})

	var mismatch *etlerr.SchemaMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, StateFailed, sum.State)
	assert.Equal(t, []string{"Lock"}, store.Calls(), "no DDL before the source is verified")
	assert.Empty(t, store.Runs())

	release, err := store.Lock(context.Background())
	require.NoError(t, err, "the lock is released")
	release()
}

func TestRunRollsBackOnFailure(t *testing.T) {
	h := newHarness(testutil.ScenarioA())
	h.run(t, ModeFull)
	before := h.store.ProjectFacts()

	boom := errors.New("disk full")
	h.store.FailOn("UpsertProjectFacts", boom)
	h.reader.Replace(testutil.ScenarioD())

	sum, err := h.p.Run(context.Background(), Options{Mode: ModeFull, Logger: zerolog.Nop()})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, StateFailed, sum.State)

	assert.Equal(t, before, h.store.ProjectFacts(), "readers keep the last committed run")
	assert.Len(t, h.store.TaskFacts(), 2)

	runs := h.store.Runs()
	require.Len(t, runs, 2)
	assert.Equal(t, string(StateFailed), runs[1].State)
	assert.Contains(t, runs[1].Error, "disk full")

	h.store.FailOn("UpsertProjectFacts", nil)
	h.run(t, ModeFull)
	assert.Equal(t, 1, h.store.ProjectFacts()[0].CompletedTasks)
}

func TestRunMissingDimensionKeyFails(t *testing.T) {
	snap := testutil.ScenarioA()
	snap.Projects[0].ManagerID = 42
	h := newHarness(snap)

	sum, err := h.p.Run(context.Background(), Options{Mode: ModeFull, Logger: zerolog.Nop()})

	var missing *etlerr.MissingDimensionKeyError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, int64(42), missing.Key)
	assert.Equal(t, StateFailed, sum.State)
	assert.Empty(t, h.store.DimProjects(), "dimensions roll back with the facts")
}

// cancellingReader cancels the run while extraction is in progress.
type cancellingReader struct {
	source.Reader
	cancel context.CancelFunc
}

func (r *cancellingReader) Extract(ctx context.Context, f source.Filter) (*model.Snapshot, error) {
	snap, err := r.Reader.Extract(ctx, f)
	r.cancel()
	return snap, err
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := warehouse.NewMemory()
	reader := &cancellingReader{Reader: source.NewStaticReader(testutil.ScenarioA()), cancel: cancel}
	p := New(&StaticConnector{Reader: reader, Warehouse: store})

	sum, err := p.Run(ctx, Options{Mode: ModeFull, Logger: zerolog.Nop()})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateFailed, sum.State)
	assert.Empty(t, store.ProjectFacts())

	runs := store.Runs()
	require.Len(t, runs, 1, "the failed run is still logged")
	assert.Equal(t, string(StateFailed), runs[0].State)

	// The lock is released after a cancelled run.
	release, err := store.Lock(context.Background())
	require.NoError(t, err)
	release()
}

func TestRunDryRun(t *testing.T) {
	h := newHarness(testutil.ScenarioA())

	sum, err := h.p.Run(context.Background(), Options{Mode: ModeFull, DryRun: true, Logger: zerolog.Nop()})
	require.NoError(t, err)
	assert.Equal(t, StateDone, sum.State)
	assert.True(t, sum.DryRun)
	assert.Equal(t, 1, sum.Processed[model.TableFactProject])
	assert.Equal(t, 2, sum.Processed[model.TableFactTask])
	assert.Equal(t, 3, sum.Processed[model.TableDimEmployee])

	for table, n := range h.counts(t) {
		assert.Zero(t, n, table)
	}
	assert.Empty(t, h.store.Runs())
}

func TestRunCountsSkippedRows(t *testing.T) {
	snap := testutil.ScenarioA()
	snap.Tasks[1].State = "blocked"
	h := newHarness(snap)

	sum := h.run(t, ModeFull)
	assert.Equal(t, 1, sum.Skipped)
	assert.Equal(t, 1, sum.Processed[model.TableFactTask])
	assert.Equal(t, 1, h.store.ProjectFacts()[0].TotalTasks)
}

func TestRunSkippedEmployeeDropsDependentFacts(t *testing.T) {
	snap := testutil.ScenarioA()
	snap.Employees[2].HourlyRate = testutil.Dec("-1")
	h := newHarness(snap)

	sum := h.run(t, ModeFull)
	assert.Equal(t, 2, sum.Skipped, "the employee and the task assigned to it")
	assert.Equal(t, 1, sum.Processed[model.TableFactTask])

	tasks := h.store.TaskFacts()
	require.Len(t, tasks, 1)
	assert.Equal(t, testutil.TaskBuild, tasks[0].TaskID)

	facts := h.store.ProjectFacts()
	require.Len(t, facts, 1)
	assert.Equal(t, 1, facts[0].TotalTasks)
	assert.Len(t, h.store.DimEmployees(), 2)
}

func TestRunSkippedManagerDropsProjectFact(t *testing.T) {
	snap := testutil.ScenarioA()
	snap.Employees[0].HourlyRate = testutil.Dec("-1")
	h := newHarness(snap)

	sum := h.run(t, ModeFull)
	assert.Equal(t, 2, sum.Skipped, "the manager and the project fact")
	assert.Empty(t, h.store.ProjectFacts())
	assert.Len(t, h.store.TaskFacts(), 2)
	assert.Len(t, h.store.DimProjects(), 1)
}

func TestRunIncrementalRemovesFactOfMalformedProject(t *testing.T) {
	h := newHarness(testutil.ScenarioA())
	h.run(t, ModeFull)
	require.Len(t, h.store.ProjectFacts(), 1)

	later := testutil.Stamp.Add(24 * time.Hour)
	snap := testutil.ScenarioA()
	snap.Projects[0].ActualCost = testutil.Dec("-5")
	snap.Projects[0].UpdatedAt = later
	h.reader.Replace(snap)

	sum := h.run(t, ModeIncremental)
	assert.Equal(t, 1, sum.Skipped)
	assert.Empty(t, h.store.ProjectFacts())
	assert.Empty(t, h.store.TaskFacts())
}

func TestRunIncrementalRefreshesTeamCounts(t *testing.T) {
	later := testutil.Stamp.Add(24 * time.Hour)
	first := testutil.ScenarioA()
	first.Projects[0].UpdatedAt = later
	h := newHarness(first)
	h.run(t, ModeFull)

	// Employees and teams are older than the watermark; only the
	// membership table changed.
	snap := testutil.ScenarioA()
	snap.Projects[0].UpdatedAt = later
	snap.Memberships = append(snap.Memberships, model.TeamMembership{TeamID: testutil.TeamQA, EmployeeID: testutil.DevID})
	h.reader.Replace(snap)
	h.run(t, ModeIncremental)

	teamCount := make(map[int64]int)
	for _, e := range h.store.DimEmployees() {
		teamCount[e.EmployeeID] = e.TeamCount
	}
	assert.Equal(t, 2, teamCount[testutil.DevID])

	memberCount := make(map[int64]int)
	for _, tm := range h.store.DimTeams() {
		memberCount[tm.TeamID] = tm.MemberCount
	}
	assert.Equal(t, 2, memberCount[testutil.TeamQA])
}

func TestRunMarginDays(t *testing.T) {
	for _, tc := range []struct {
		name   string
		margin int
		want   int
	}{
		{"zero disables padding", 0, 36},
		{"explicit", 3, 36 + 2*3},
		{"negative selects the default", -1, 36 + 2*365},
	} {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(testutil.ScenarioA())
			sum, err := h.p.Run(context.Background(), Options{Mode: ModeFull, MarginDays: tc.margin, Logger: zerolog.Nop()})
			require.NoError(t, err)
			assert.Equal(t, tc.want, sum.Processed[model.TableDimTime])
		})
	}
}

func TestRunRecordsMetrics(t *testing.T) {
	m := metrics.New()
	h := newHarness(testutil.ScenarioA())

	_, err := h.p.Run(context.Background(), Options{Mode: ModeFull, Logger: zerolog.Nop(), Metrics: m})
	require.NoError(t, err)

	families, err := m.Registry().Gather()
	require.NoError(t, err)
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["pmdw_runs_total"])
	assert.True(t, names["pmdw_phase_duration_seconds"])
	assert.True(t, names["pmdw_rows_loaded_total"])
}

func TestRunUnknownStrategy(t *testing.T) {
	p := New(&StaticConnector{
		Reader:    source.NewStaticReader(testutil.ScenarioA()),
		Warehouse: warehouse.NewMemory(),
		Strategy:  "stored-procedures",
	})

	sum, err := p.Run(context.Background(), Options{Logger: zerolog.Nop()})
	require.Error(t, err)
	assert.Equal(t, StateFailed, sum.State)
	assert.Equal(t, ModeFull, sum.Mode)
}

func TestRunUnreachableEndpoints(t *testing.T) {
	p := New(&PostgresConnector{
		SourceConn:      "postgres://%zz",
		DestinationConn: "postgres://%zz",
		MaxConns:        3,
	})

	sum, err := p.Run(context.Background(), Options{Logger: zerolog.Nop()})
	var conn *etlerr.ConnectivityError
	require.ErrorAs(t, err, &conn)
	assert.Equal(t, StateFailed, sum.State)
	assert.Empty(t, sum.Strategy)
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("incremental")
	require.NoError(t, err)
	assert.Equal(t, ModeIncremental, m)

	_, err = ParseMode("delta")
	assert.Error(t, err)
}
