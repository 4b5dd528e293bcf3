//-------------------------------------------------------------------------
//
// pgEdge Project Warehouse
//
// Copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

// Package pipeline drives one warehouse run from extraction to commit.
//
// A run moves through Idle, Extracting, Transforming, LoadingDimensions,
// LoadingFacts and Done, or ends in Failed. All destination writes happen
// in one transaction with a savepoint after each load phase, so readers
// see either the previous run or the complete new one.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pgEdge/pgedge-pmdw/internal/load"
	"github.com/pgEdge/pgedge-pmdw/internal/metrics"
	"github.com/pgEdge/pgedge-pmdw/internal/model"
	"github.com/pgEdge/pgedge-pmdw/internal/source"
	"github.com/pgEdge/pgedge-pmdw/internal/timedim"
	"github.com/pgEdge/pgedge-pmdw/internal/transform"
	"github.com/pgEdge/pgedge-pmdw/internal/warehouse"
)

// Mode selects how much of the source a run reads.
type Mode string

// Run modes.
const (
	ModeFull        Mode = "full"
	ModeIncremental Mode = "incremental"
)

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeFull, ModeIncremental:
		return m, nil
	default:
		return "", fmt.Errorf("unknown mode %q (want %s or %s)", s, ModeFull, ModeIncremental)
	}
}

// Checkpoint names written at the end of each load phase.
const (
	CheckpointDimensions = "dimensions"
	CheckpointFacts      = "facts"
)

// rollbackTimeout bounds rollback and run-log writes after a failure.
const rollbackTimeout = 30 * time.Second

// Options configure one run.
type Options struct {
	Mode   Mode
	DryRun bool

	// MarginDays pads the time dimension. Zero adds no margin; a negative
	// value selects timedim.DefaultMarginDays.
	MarginDays int

	Logger  zerolog.Logger
	Metrics *metrics.Metrics
}

// Summary describes a finished run. It is returned for every run,
// successful or not.
type Summary struct {
	RunID     uuid.UUID      `json:"run_id"`
	Mode      Mode           `json:"mode"`
	Strategy  string         `json:"strategy"`
	DryRun    bool           `json:"dry_run"`
	State     State          `json:"state"`
	StartedAt time.Time      `json:"started_at"`
	Elapsed   time.Duration  `json:"elapsed"`
	Processed map[string]int `json:"processed"`
	Skipped   int            `json:"skipped"`
	Error     string         `json:"error,omitempty"`
}

// Pipeline runs the warehouse load.
type Pipeline struct {
	connector Connector
	now       func() time.Time
}

// New returns a pipeline that opens its sessions through c.
func New(c Connector) *Pipeline {
	return &Pipeline{connector: c, now: time.Now}
}

// run carries the state of a single Run call.
type run struct {
	opts    Options
	log     zerolog.Logger
	sm      *machine
	summary *Summary
	session *Session
	tx      warehouse.Tx
	release func()

	// schemaReady is set once the destination schema is known to exist.
	schemaReady bool
}

// Run executes one pipeline run. The returned summary is never nil; its
// State is Done exactly when the error is nil.
func (p *Pipeline) Run(ctx context.Context, opts Options) (*Summary, error) {
	if opts.Mode == "" {
		opts.Mode = ModeFull
	}
	if opts.MarginDays < 0 {
		opts.MarginDays = timedim.DefaultMarginDays
	}

	r := &run{
		opts: opts,
		summary: &Summary{
			RunID:     uuid.New(),
			Mode:      opts.Mode,
			DryRun:    opts.DryRun,
			State:     StateIdle,
			StartedAt: p.now(),
			Processed: make(map[string]int),
		},
	}
	r.log = opts.Logger.With().
		Str("run_id", r.summary.RunID.String()).
		Str("mode", string(opts.Mode)).
		Bool("dry_run", opts.DryRun).
		Logger()
	r.sm = newMachine(p.now, func(s State, d time.Duration) {
		if s != StateIdle {
			opts.Metrics.ObservePhase(string(s), d)
		}
	})

	err := r.execute(ctx, p.connector)
	if err != nil {
		r.fail(ctx, err)
	}
	r.summary.State = r.sm.state
	r.summary.Elapsed = p.now().Sub(r.summary.StartedAt)

	// The run log is written under the run lock once the schema is in
	// place; a run that stopped earlier leaves no trace in the destination.
	if r.release != nil {
		if r.schemaReady {
			r.record(ctx, p.now())
		}
		r.release()
	}
	r.session.Close()

	opts.Metrics.ObserveRun(string(opts.Mode), string(r.summary.State), r.summary.Elapsed,
		r.summary.Processed, r.summary.Skipped)

	var ev *zerolog.Event
	if err != nil {
		ev = r.log.Error().Err(err)
	} else {
		ev = r.log.Info()
	}
	ev.Str("state", string(r.summary.State)).
		Dur("elapsed", r.summary.Elapsed).
		Int("skipped", r.summary.Skipped).
		Interface("processed", r.summary.Processed).
		Msg("Pipeline run finished")

	return r.summary, err
}

func (r *run) enter(ctx context.Context, s State) error {
	if err := ctx.Err(); err != nil {
		return errors.Wrapf(err, "before %s", s)
	}
	r.sm.advance(s)
	r.log.Debug().Str("state", string(s)).Msg("Entering phase")
	return nil
}

func (r *run) execute(ctx context.Context, connector Connector) error {
	if err := r.enter(ctx, StateExtracting); err != nil {
		return err
	}
	session, err := connector.Connect(ctx)
	if err != nil {
		return err
	}
	r.session = session
	r.summary.Strategy = session.Strategy.Name()
	store := session.Warehouse

	// Nothing is written to the destination before the lock is held and
	// the source schema has been verified.
	if !r.opts.DryRun {
		release, err := store.Lock(ctx)
		if err != nil {
			return err
		}
		r.release = release
	}
	if err := session.Reader.Verify(ctx); err != nil {
		return err
	}
	if !r.opts.DryRun {
		if err := store.EnsureSchema(ctx); err != nil {
			return err
		}
		r.schemaReady = true
	}

	filter, err := r.filter(ctx, store)
	if err != nil {
		return err
	}
	snap, err := session.Reader.Extract(ctx, filter)
	if err != nil {
		return err
	}
	r.summary.Skipped = len(snap.Skipped)
	for _, s := range snap.Skipped {
		r.log.Warn().Str("entity", s.Entity).Int64("id", s.ID).Str("reason", s.Reason).Msg("Skipped source row")
	}
	r.log.Info().Interface("extracted", snap.Counts()).Msg("Extracted source records")

	if err := r.enter(ctx, StateTransforming); err != nil {
		return err
	}
	res, err := session.Strategy.Transform(ctx, snap)
	if err != nil {
		return errors.Wrap(err, "transform")
	}
	times := timedim.ForSnapshot(snap, r.opts.MarginDays)

	if r.opts.DryRun {
		return r.dryRun(ctx, snap, res, times)
	}

	tx, err := store.Begin(ctx)
	if err != nil {
		return err
	}
	r.tx = tx

	if r.opts.Mode == ModeFull {
		if err := tx.Clear(ctx); err != nil {
			return err
		}
	}

	if err := r.enter(ctx, StateLoadingDimensions); err != nil {
		return err
	}
	dims, err := load.NewDimensionLoader(r.log).Load(ctx, tx, snap, times)
	if err != nil {
		return err
	}
	if err := tx.Checkpoint(ctx, CheckpointDimensions); err != nil {
		return err
	}
	r.addProcessed(dims)

	if err := r.enter(ctx, StateLoadingFacts); err != nil {
		return err
	}
	facts, dropped, err := load.NewFactLoader(r.log).Load(ctx, tx, res, snap, r.opts.Mode == ModeIncremental)
	if err != nil {
		return err
	}
	r.summary.Skipped += len(dropped)
	if err := tx.Checkpoint(ctx, CheckpointFacts); err != nil {
		return err
	}
	r.addProcessed(facts)

	if wm := snap.MaxUpdatedAt(); wm != nil {
		if err := tx.SetWatermark(ctx, *wm); err != nil {
			return err
		}
	}

	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, "before commit")
	}
	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "commit run")
	}
	r.tx = nil
	r.sm.advance(StateDone)
	return nil
}

// filter reads the watermark for incremental runs. A dry run tolerates a
// destination that has never been initialized.
func (r *run) filter(ctx context.Context, store warehouse.Store) (source.Filter, error) {
	if r.opts.Mode != ModeIncremental {
		return source.Filter{}, nil
	}
	wm, err := store.Watermark(ctx)
	if err != nil {
		if !r.opts.DryRun {
			return source.Filter{}, err
		}
		r.log.Warn().Err(err).Msg("Watermark unavailable, dry run reads everything")
		wm = nil
	}
	if wm == nil {
		r.log.Info().Msg("No watermark recorded, incremental run reads everything")
	} else {
		r.log.Info().Time("since", *wm).Msg("Incremental run")
	}
	return source.Filter{Since: wm}, nil
}

// dryRun reports what a run would write without touching the destination.
func (r *run) dryRun(ctx context.Context, snap *model.Snapshot, res *transform.Result, times []model.DimTime) error {
	d := load.BuildDimensions(snap)
	if err := r.enter(ctx, StateLoadingDimensions); err != nil {
		return err
	}
	r.addProcessed(load.Counts{
		model.TableDimClient:   int64(len(d.Clients)),
		model.TableDimEmployee: int64(len(d.Employees)),
		model.TableDimTeam:     int64(len(d.Teams)),
		model.TableDimProject:  int64(len(d.Projects)),
		model.TableDimTime:     int64(len(times)),
	})
	if err := r.enter(ctx, StateLoadingFacts); err != nil {
		return err
	}
	r.addProcessed(load.Counts{
		model.TableFactProject: int64(len(res.Projects)),
		model.TableFactTask:    int64(res.TaskCount()),
	})
	r.sm.advance(StateDone)
	return nil
}

func (r *run) addProcessed(c load.Counts) {
	for table, n := range c {
		r.summary.Processed[table] += int(n)
	}
}

// fail rolls back the run transaction and moves to Failed. Rollback uses
// a context that survives cancellation of ctx.
func (r *run) fail(ctx context.Context, cause error) {
	r.summary.Error = cause.Error()
	if r.tx != nil {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rollbackTimeout)
		defer cancel()
		if err := r.tx.Rollback(rctx); err != nil {
			r.log.Error().Err(err).Msg("Rollback failed")
		}
		r.tx = nil
	}
	if !r.sm.state.Final() {
		r.sm.advance(StateFailed)
	}
}

// record appends the run to the destination run log.
func (r *run) record(ctx context.Context, finished time.Time) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rollbackTimeout)
	defer cancel()

	err := r.session.Warehouse.RecordRun(rctx, warehouse.RunRecord{
		RunID:      r.summary.RunID,
		Mode:       string(r.summary.Mode),
		Strategy:   r.summary.Strategy,
		State:      string(r.summary.State),
		DryRun:     r.summary.DryRun,
		StartedAt:  r.summary.StartedAt,
		FinishedAt: finished,
		Processed:  r.summary.Processed,
		Skipped:    r.summary.Skipped,
		Error:      r.summary.Error,
	})
	if err != nil {
		r.log.Warn().Err(err).Msg("Failed to record run")
	}
}
