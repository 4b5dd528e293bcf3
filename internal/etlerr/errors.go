//-------------------------------------------------------------------------
//
// pgEdge Project Warehouse
//
// Copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

// Package etlerr defines the error taxonomy of the warehouse pipeline.
//
// Every error here is fatal for a run except PartialRowError, which the
// source reader records against the snapshot and the run continues.
package etlerr

import (
	"fmt"
	"strings"
)

// ConnectivityError reports that a database endpoint could not be reached.
type ConnectivityError struct {
	Endpoint string // "source" or "destination"
	Err      error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("%s database unreachable: %v", e.Endpoint, e.Err)
}

func (e *ConnectivityError) Unwrap() error { return e.Err }

// SchemaMismatchError lists tables or columns the source schema lacks.
type SchemaMismatchError struct {
	Missing []string // "table" or "table.column"
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("source schema mismatch, missing: %s", strings.Join(e.Missing, ", "))
}

// MissingDimensionKeyError reports a fact row that references a dimension
// key which is not present in the destination. It always indicates that
// facts were loaded before their dimensions.
type MissingDimensionKeyError struct {
	Table     string // referencing fact table
	RowKey    int64  // natural key of the referencing fact row
	Dimension string // dimension table that should hold the key
	Key       int64
}

func (e *MissingDimensionKeyError) Error() string {
	return fmt.Sprintf("%s row %d references %s key %d which is not loaded",
		e.Table, e.RowKey, e.Dimension, e.Key)
}

// RunInProgressError is returned when another run holds the destination lock.
type RunInProgressError struct {
	Destination string
}

func (e *RunInProgressError) Error() string {
	if e.Destination == "" {
		return "another pipeline run is in progress"
	}
	return fmt.Sprintf("another pipeline run is in progress on %s", e.Destination)
}

// PartialRowError describes a single malformed source row that was skipped.
type PartialRowError struct {
	Entity string
	ID     int64
	Reason string
}

func (e *PartialRowError) Error() string {
	return fmt.Sprintf("skipped %s %d: %s", e.Entity, e.ID, e.Reason)
}
