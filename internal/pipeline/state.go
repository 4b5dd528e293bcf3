//-------------------------------------------------------------------------
//
// pgEdge Project Warehouse
//
// Copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

package pipeline

import (
	"fmt"
	"slices"
	"time"
)

// State is a pipeline run state.
type State string

// Run states.
const (
	StateIdle              State = "idle"
	StateExtracting        State = "extracting"
	StateTransforming      State = "transforming"
	StateLoadingDimensions State = "loading_dimensions"
	StateLoadingFacts      State = "loading_facts"
	StateDone              State = "done"
	StateFailed            State = "failed"
)

// transitions lists the legal successors of each state. Failed is
// reachable from every non-final state and is handled separately.
var transitions = map[State][]State{
	StateIdle:              {StateExtracting},
	StateExtracting:        {StateTransforming},
	StateTransforming:      {StateLoadingDimensions},
	StateLoadingDimensions: {StateLoadingFacts},
	StateLoadingFacts:      {StateDone},
}

// Final reports whether no further transitions are possible.
func (s State) Final() bool {
	return s == StateDone || s == StateFailed
}

// machine tracks the run state and how long each state lasted.
type machine struct {
	state   State
	entered time.Time
	now     func() time.Time
	onLeave func(s State, d time.Duration)
}

func newMachine(now func() time.Time, onLeave func(State, time.Duration)) *machine {
	return &machine{state: StateIdle, entered: now(), now: now, onLeave: onLeave}
}

// advance moves to the next state. An illegal transition is a programming
// error and panics.
func (m *machine) advance(to State) {
	if to != StateFailed && !slices.Contains(transitions[m.state], to) {
		panic(fmt.Sprintf("pipeline: illegal transition %s -> %s", m.state, to))
	}
	if to == StateFailed && m.state.Final() {
		panic(fmt.Sprintf("pipeline: illegal transition %s -> %s", m.state, to))
	}
	at := m.now()
	if m.onLeave != nil {
		m.onLeave(m.state, at.Sub(m.entered))
	}
	m.state, m.entered = to, at
}
