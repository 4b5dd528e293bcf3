//go:build integration

// Run with: go test -tags=integration ./internal/warehouse/...
// Set PMDW_TEST_CONN to override the connection string.

package warehouse_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgEdge/pgedge-pmdw/internal/etlerr"
	"github.com/pgEdge/pgedge-pmdw/internal/model"
	"github.com/pgEdge/pgedge-pmdw/internal/testutil"
	"github.com/pgEdge/pgedge-pmdw/internal/warehouse"
)

func newStore(t *testing.T) *warehouse.Postgres {
	t.Helper()
	base := testutil.SkipIfNoPostgres(t)
	conn := testutil.CreateTestDB(t, base, "warehouse")
	cleanup := testutil.NewTestCleanup(t, base, testutil.GetDBNameFromConnStr(conn))
	t.Cleanup(cleanup.Cleanup)

	pool := testutil.ConnectTestDB(t, conn)
	cleanup.SetPool(pool)

	store := warehouse.NewPostgres(pool, "test")
	require.NoError(t, store.EnsureSchema(context.Background()))
	return store
}

var clients = []model.DimClient{
	{ClientID: 1, Name: "Acme Corp", Industry: "Manufacturing", Country: "DE", Email: "ops@acme.test"},
	{ClientID: 2, Name: "Globex", Industry: "Energy", Country: "US", Email: "it@globex.test"},
}

func TestEnsureSchemaIsRepeatable(t *testing.T) {
	store := newStore(t)
	require.NoError(t, store.EnsureSchema(context.Background()))

	counts, err := store.Counts(context.Background())
	require.NoError(t, err)
	for table, n := range counts {
		assert.Zero(t, n, table)
	}
}

func TestUpsertIsIdempotent(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	for range 2 {
		tx, err := store.Begin(ctx)
		require.NoError(t, err)
		n, err := tx.UpsertClients(ctx, clients)
		require.NoError(t, err)
		assert.EqualValues(t, 2, n)
		require.NoError(t, tx.Commit(ctx))
	}

	counts, err := store.Counts(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, counts[model.TableDimClient])
}

func TestRollbackLeavesNothing(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	_, err = tx.UpsertClients(ctx, clients)
	require.NoError(t, err)
	require.NoError(t, tx.Checkpoint(ctx, "dimensions"))
	require.NoError(t, tx.SetWatermark(ctx, testutil.Stamp))
	require.NoError(t, tx.Rollback(ctx))

	counts, err := store.Counts(ctx)
	require.NoError(t, err)
	assert.Zero(t, counts[model.TableDimClient])

	wm, err := store.Watermark(ctx)
	require.NoError(t, err)
	assert.Nil(t, wm)
}

func TestWatermarkRoundTrip(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	stamp := testutil.Stamp.Add(123456 * time.Microsecond)

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.SetWatermark(ctx, stamp))
	require.NoError(t, tx.Commit(ctx))

	wm, err := store.Watermark(ctx)
	require.NoError(t, err)
	require.NotNil(t, wm)
	assert.True(t, wm.Equal(stamp))
}

func TestLockContention(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	release, err := store.Lock(ctx)
	require.NoError(t, err)

	_, err = store.Lock(ctx)
	var busy *etlerr.RunInProgressError
	require.ErrorAs(t, err, &busy)
	assert.Equal(t, "test", busy.Destination)

	release()
	release2, err := store.Lock(ctx)
	require.NoError(t, err)
	release2()
}

func TestRecordRun(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	rec := warehouse.RunRecord{
		RunID:      uuid.New(),
		Mode:       "full",
		Strategy:   "in-process",
		State:      "done",
		StartedAt:  testutil.Stamp,
		FinishedAt: testutil.Stamp.Add(time.Second),
		Processed:  map[string]int{model.TableDimClient: 2},
	}
	require.NoError(t, store.RecordRun(ctx, rec))

	rec.State = "failed"
	rec.Error = "boom"
	require.NoError(t, store.RecordRun(ctx, rec), "rewriting a run updates it")
}

func TestTaskFactPruning(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	snap := testutil.ScenarioA()
	start, plan := int32(20240101), int32(20240131)

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	_, err = tx.UpsertClients(ctx, clients[:1])
	require.NoError(t, err)
	_, err = tx.UpsertEmployees(ctx, []model.DimEmployee{{EmployeeID: testutil.ManagerID, FullName: "Ana Silva"}})
	require.NoError(t, err)
	p := snap.Projects[0]
	_, err = tx.UpsertProjects(ctx, []model.DimProject{{
		ProjectID: p.ID, Name: p.Name, ClientID: p.ClientID, ManagerID: p.ManagerID,
		State: p.State, IsTerminal: true, Start: p.Start, EndPlan: p.EndPlan, EndReal: p.EndReal,
	}})
	require.NoError(t, err)
	_, err = tx.InsertTimes(ctx, []model.DimTime{
		{TimeKey: start, FullDate: testutil.Day(2024, 1, 1), Year: 2024, Half: 1, Quarter: 1, Month: 1,
			MonthName: "January", Day: 1, DayOfWeek: 1, DayName: "Monday", WeekOfYear: 1},
		{TimeKey: plan, FullDate: testutil.Day(2024, 1, 31), Year: 2024, Half: 1, Quarter: 1, Month: 1,
			MonthName: "January", Day: 31, DayOfWeek: 3, DayName: "Wednesday", WeekOfYear: 5},
	})
	require.NoError(t, err)

	facts := []model.FactTask{
		{TaskID: testutil.TaskBuild, ProjectID: p.ID, StartKey: start, EndPlanKey: plan, State: model.StateCompleted,
			Priority: "high", PlannedHours: testutil.Dec("1"), ActualHours: testutil.Dec("1")},
		{TaskID: testutil.TaskVerify, ProjectID: p.ID, StartKey: start, EndPlanKey: plan, State: model.StateCancelled,
			Priority: "low", PlannedHours: testutil.Dec("1"), ActualHours: testutil.Dec("0")},
	}
	_, err = tx.UpsertTaskFacts(ctx, facts)
	require.NoError(t, err)

	n, err := tx.PruneTaskFacts(ctx, p.ID, []int64{testutil.TaskBuild})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	n, err = tx.PruneTaskFacts(ctx, p.ID, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n, "an empty keep list removes every task fact")
	require.NoError(t, tx.Commit(ctx))
}
