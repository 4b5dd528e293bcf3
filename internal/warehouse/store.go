//-------------------------------------------------------------------------
//
// pgEdge Project Warehouse
//
// Copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

// Package warehouse is the destination side of the pipeline: the star
// schema, its transactional write path and the pipeline's own state
// (watermark and run log).
//
// Two implementations exist. Postgres is used in production; Memory holds
// the same tables in process for tests and has identical upsert semantics.
package warehouse

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/pgEdge/pgedge-pmdw/internal/model"
)

// WatermarkKey is the etl_watermark entry holding the incremental bound.
const WatermarkKey = "source_updated_at"

// Store is a destination warehouse.
type Store interface {
	// Name identifies the destination in logs and errors.
	Name() string

	// EnsureSchema creates tables and natural key indexes if absent.
	EnsureSchema(ctx context.Context) error

	// Lock takes the run-level lock. It fails with
	// etlerr.RunInProgressError if another run holds it.
	Lock(ctx context.Context) (release func(), err error)

	// Watermark returns the committed incremental bound, nil if none.
	Watermark(ctx context.Context) (*time.Time, error)

	// Begin starts the run transaction.
	Begin(ctx context.Context) (Tx, error)

	// RecordRun appends to the run log outside any run transaction.
	RecordRun(ctx context.Context, rec RunRecord) error

	// Counts returns committed row counts per warehouse table.
	Counts(ctx context.Context) (map[string]int64, error)
}

// Tx is the single destination transaction of a run. Nothing written
// through it is visible to readers before Commit.
type Tx interface {
	// Clear empties all dimension and fact tables.
	Clear(ctx context.Context) error

	// Checkpoint marks the end of a phase.
	Checkpoint(ctx context.Context, phase string) error

	UpsertClients(ctx context.Context, rows []model.DimClient) (int64, error)
	UpsertEmployees(ctx context.Context, rows []model.DimEmployee) (int64, error)
	UpsertTeams(ctx context.Context, rows []model.DimTeam) (int64, error)
	UpsertProjects(ctx context.Context, rows []model.DimProject) (int64, error)

	// InsertTimes inserts days that are absent and returns how many were
	// new.
	InsertTimes(ctx context.Context, rows []model.DimTime) (int64, error)

	// Keys returns the dimension keys visible to this transaction.
	Keys(ctx context.Context) (*KeySet, error)

	UpsertTaskFacts(ctx context.Context, rows []model.FactTask) (int64, error)
	UpsertProjectFacts(ctx context.Context, rows []model.FactProject) (int64, error)

	// PruneTaskFacts deletes task facts of the project whose task id is
	// not in keep.
	PruneTaskFacts(ctx context.Context, projectID int64, keep []int64) (int64, error)

	// DeleteFacts removes project and task facts of the given projects.
	DeleteFacts(ctx context.Context, projectIDs []int64) (int64, error)

	// SetWatermark stores the incremental bound with the run.
	SetWatermark(ctx context.Context, wm time.Time) error

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// KeySet holds the dimension keys a fact may reference.
type KeySet struct {
	Clients   map[int64]struct{}
	Employees map[int64]struct{}
	Teams     map[int64]struct{}
	Projects  map[int64]struct{}
	Times     map[int32]struct{}
}

// NewKeySet returns an empty key set.
func NewKeySet() *KeySet {
	return &KeySet{
		Clients:   make(map[int64]struct{}),
		Employees: make(map[int64]struct{}),
		Teams:     make(map[int64]struct{}),
		Projects:  make(map[int64]struct{}),
		Times:     make(map[int32]struct{}),
	}
}

// RunRecord is one etl_run row.
type RunRecord struct {
	RunID      uuid.UUID
	Mode       string
	Strategy   string
	State      string
	DryRun     bool
	StartedAt  time.Time
	FinishedAt time.Time
	Processed  map[string]int
	Skipped    int
	Error      string
}

func flag(b bool) int16 {
	if b {
		return 1
	}
	return 0
}
