//-------------------------------------------------------------------------
//
// pgEdge Project Warehouse
//
// Copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

package warehouse

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/go-faster/errors"

	"github.com/pgEdge/pgedge-pmdw/internal/etlerr"
	"github.com/pgEdge/pgedge-pmdw/internal/model"
)

// memState is one committed version of the in-memory warehouse.
type memState struct {
	clients      map[int64]model.DimClient
	employees    map[int64]model.DimEmployee
	teams        map[int64]model.DimTeam
	projects     map[int64]model.DimProject
	times        map[int32]model.DimTime
	projectFacts map[int64]model.FactProject
	taskFacts    map[int64]model.FactTask
	watermark    *time.Time
}

func newMemState() *memState {
	return &memState{
		clients:      make(map[int64]model.DimClient),
		employees:    make(map[int64]model.DimEmployee),
		teams:        make(map[int64]model.DimTeam),
		projects:     make(map[int64]model.DimProject),
		times:        make(map[int32]model.DimTime),
		projectFacts: make(map[int64]model.FactProject),
		taskFacts:    make(map[int64]model.FactTask),
	}
}

func (s *memState) clone() *memState {
	c := &memState{
		clients:      maps.Clone(s.clients),
		employees:    maps.Clone(s.employees),
		teams:        maps.Clone(s.teams),
		projects:     maps.Clone(s.projects),
		times:        maps.Clone(s.times),
		projectFacts: maps.Clone(s.projectFacts),
		taskFacts:    maps.Clone(s.taskFacts),
	}
	if s.watermark != nil {
		wm := *s.watermark
		c.watermark = &wm
	}
	return c
}

// Memory is an in-process warehouse. A transaction works on a private copy
// of the committed state and publishes it atomically on commit.
type Memory struct {
	mu        sync.Mutex
	runLock   sync.Mutex
	committed *memState
	runs      []RunRecord
	failures  map[string]error
	calls     []string

	// checkpoints of the most recently committed transaction
	checkpoints []string
}

// NewMemory returns an empty in-memory warehouse.
func NewMemory() *Memory {
	return &Memory{
		committed: newMemState(),
		failures:  make(map[string]error),
	}
}

// FailOn makes the named store or transaction operation return err, e.g.
// "UpsertTaskFacts". A nil err clears the failure.
func (m *Memory) FailOn(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, op)
		return
	}
	m.failures[op] = err
}

// failure logs a call to op and returns the error registered for it.
func (m *Memory) failure(op string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, op)
	return m.failures[op]
}

// Calls returns the store and transaction operations invoked so far, in
// order.
func (m *Memory) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.calls)
}

// Name identifies the destination.
func (m *Memory) Name() string {
	return "memory"
}

// EnsureSchema only records the call; tables always exist in memory.
func (m *Memory) EnsureSchema(context.Context) error {
	return m.failure("EnsureSchema")
}

// Lock takes the run lock without waiting.
func (m *Memory) Lock(context.Context) (func(), error) {
	if err := m.failure("Lock"); err != nil {
		return nil, err
	}
	if !m.runLock.TryLock() {
		return nil, &etlerr.RunInProgressError{Destination: m.Name()}
	}
	return m.runLock.Unlock, nil
}

// Watermark returns the committed incremental bound.
func (m *Memory) Watermark(context.Context) (*time.Time, error) {
	if err := m.failure("Watermark"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.committed.watermark == nil {
		return nil, nil
	}
	wm := *m.committed.watermark
	return &wm, nil
}

// Begin starts a transaction on a copy of the committed state.
func (m *Memory) Begin(context.Context) (Tx, error) {
	if err := m.failure("Begin"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return &memTx{store: m, state: m.committed.clone()}, nil
}

// RecordRun appends to the run log.
func (m *Memory) RecordRun(_ context.Context, rec RunRecord) error {
	if err := m.failure("RecordRun"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, rec)
	return nil
}

// Runs returns the run log.
func (m *Memory) Runs() []RunRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.runs)
}

// Checkpoints returns the phase checkpoints of the last committed run.
func (m *Memory) Checkpoints() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.checkpoints)
}

// Counts returns committed row counts per warehouse table.
func (m *Memory) Counts(context.Context) (map[string]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.committed
	return map[string]int64{
		model.TableDimClient:   int64(len(s.clients)),
		model.TableDimEmployee: int64(len(s.employees)),
		model.TableDimTeam:     int64(len(s.teams)),
		model.TableDimProject:  int64(len(s.projects)),
		model.TableDimTime:     int64(len(s.times)),
		model.TableFactProject: int64(len(s.projectFacts)),
		model.TableFactTask:    int64(len(s.taskFacts)),
	}, nil
}

// DimEmployees returns committed employee dimension rows ordered by key.
func (m *Memory) DimEmployees() []model.DimEmployee {
	m.mu.Lock()
	defer m.mu.Unlock()
	return sortedValues(m.committed.employees)
}

// DimTeams returns committed team dimension rows ordered by key.
func (m *Memory) DimTeams() []model.DimTeam {
	m.mu.Lock()
	defer m.mu.Unlock()
	return sortedValues(m.committed.teams)
}

// DimProjects returns committed project dimension rows ordered by key.
func (m *Memory) DimProjects() []model.DimProject {
	m.mu.Lock()
	defer m.mu.Unlock()
	return sortedValues(m.committed.projects)
}

// ProjectFacts returns committed project facts ordered by key.
func (m *Memory) ProjectFacts() []model.FactProject {
	m.mu.Lock()
	defer m.mu.Unlock()
	return sortedValues(m.committed.projectFacts)
}

// TaskFacts returns committed task facts ordered by key.
func (m *Memory) TaskFacts() []model.FactTask {
	m.mu.Lock()
	defer m.mu.Unlock()
	return sortedValues(m.committed.taskFacts)
}

func sortedValues[K int32 | int64, V any](in map[K]V) []V {
	keys := slices.Sorted(maps.Keys(in))
	out := make([]V, 0, len(keys))
	for _, k := range keys {
		out = append(out, in[k])
	}
	return out
}

type memTx struct {
	store       *Memory
	state       *memState
	checkpoints []string
	done        bool
}

func (t *memTx) check(op string) error {
	if t.done {
		return errors.Errorf("%s: transaction already closed", op)
	}
	return t.store.failure(op)
}

func (t *memTx) Clear(context.Context) error {
	if err := t.check("Clear"); err != nil {
		return err
	}
	wm := t.state.watermark
	t.state = newMemState()
	t.state.watermark = wm
	return nil
}

func (t *memTx) Checkpoint(_ context.Context, phase string) error {
	if err := t.check("Checkpoint"); err != nil {
		return err
	}
	t.checkpoints = append(t.checkpoints, phase)
	return nil
}

func upsert[K comparable, V any](op string, t *memTx, table map[K]V, rows []V, key func(V) K) (int64, error) {
	if err := t.check(op); err != nil {
		return 0, err
	}
	for _, r := range rows {
		table[key(r)] = r
	}
	return int64(len(rows)), nil
}

func (t *memTx) UpsertClients(_ context.Context, rows []model.DimClient) (int64, error) {
	return upsert("UpsertClients", t, t.state.clients, rows, func(r model.DimClient) int64 { return r.ClientID })
}

func (t *memTx) UpsertEmployees(_ context.Context, rows []model.DimEmployee) (int64, error) {
	return upsert("UpsertEmployees", t, t.state.employees, rows, func(r model.DimEmployee) int64 { return r.EmployeeID })
}

func (t *memTx) UpsertTeams(_ context.Context, rows []model.DimTeam) (int64, error) {
	return upsert("UpsertTeams", t, t.state.teams, rows, func(r model.DimTeam) int64 { return r.TeamID })
}

func (t *memTx) UpsertProjects(_ context.Context, rows []model.DimProject) (int64, error) {
	return upsert("UpsertProjects", t, t.state.projects, rows, func(r model.DimProject) int64 { return r.ProjectID })
}

func (t *memTx) InsertTimes(_ context.Context, rows []model.DimTime) (int64, error) {
	if err := t.check("InsertTimes"); err != nil {
		return 0, err
	}
	var inserted int64
	for _, r := range rows {
		if _, ok := t.state.times[r.TimeKey]; ok {
			continue
		}
		t.state.times[r.TimeKey] = r
		inserted++
	}
	return inserted, nil
}

func (t *memTx) Keys(context.Context) (*KeySet, error) {
	if err := t.check("Keys"); err != nil {
		return nil, err
	}
	keys := NewKeySet()
	for k := range t.state.clients {
		keys.Clients[k] = struct{}{}
	}
	for k := range t.state.employees {
		keys.Employees[k] = struct{}{}
	}
	for k := range t.state.teams {
		keys.Teams[k] = struct{}{}
	}
	for k := range t.state.projects {
		keys.Projects[k] = struct{}{}
	}
	for k := range t.state.times {
		keys.Times[k] = struct{}{}
	}
	return keys, nil
}

func (t *memTx) UpsertTaskFacts(_ context.Context, rows []model.FactTask) (int64, error) {
	return upsert("UpsertTaskFacts", t, t.state.taskFacts, rows, func(r model.FactTask) int64 { return r.TaskID })
}

func (t *memTx) UpsertProjectFacts(_ context.Context, rows []model.FactProject) (int64, error) {
	return upsert("UpsertProjectFacts", t, t.state.projectFacts, rows, func(r model.FactProject) int64 { return r.ProjectID })
}

func (t *memTx) PruneTaskFacts(_ context.Context, projectID int64, keep []int64) (int64, error) {
	if err := t.check("PruneTaskFacts"); err != nil {
		return 0, err
	}
	var deleted int64
	for id, f := range t.state.taskFacts {
		if f.ProjectID == projectID && !slices.Contains(keep, id) {
			delete(t.state.taskFacts, id)
			deleted++
		}
	}
	return deleted, nil
}

func (t *memTx) DeleteFacts(_ context.Context, projectIDs []int64) (int64, error) {
	if err := t.check("DeleteFacts"); err != nil {
		return 0, err
	}
	var deleted int64
	for id, f := range t.state.taskFacts {
		if slices.Contains(projectIDs, f.ProjectID) {
			delete(t.state.taskFacts, id)
			deleted++
		}
	}
	for _, id := range projectIDs {
		if _, ok := t.state.projectFacts[id]; ok {
			delete(t.state.projectFacts, id)
			deleted++
		}
	}
	return deleted, nil
}

func (t *memTx) SetWatermark(_ context.Context, wm time.Time) error {
	if err := t.check("SetWatermark"); err != nil {
		return err
	}
	t.state.watermark = &wm
	return nil
}

func (t *memTx) Commit(context.Context) error {
	if err := t.check("Commit"); err != nil {
		return err
	}
	t.done = true
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	t.store.committed = t.state
	t.store.checkpoints = t.checkpoints
	return nil
}

func (t *memTx) Rollback(context.Context) error {
	t.done = true
	return nil
}
