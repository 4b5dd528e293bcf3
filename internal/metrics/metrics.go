//-------------------------------------------------------------------------
//
// pgEdge Project Warehouse
//
// Copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

// Package metrics records pipeline run metrics. A run is a short-lived
// batch process, so metrics are pushed to a Pushgateway at the end of a
// run rather than scraped.
package metrics

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/pgEdge/pgedge-pmdw/pkg/version"
)

const namespace = "pmdw"

// Metrics holds the run collectors. A nil *Metrics discards everything.
type Metrics struct {
	registry *prometheus.Registry

	runsTotal     *prometheus.CounterVec
	rowsLoaded    *prometheus.CounterVec
	rowsSkipped   prometheus.Counter
	runDuration   *prometheus.HistogramVec
	phaseDuration *prometheus.HistogramVec
	lastSuccess   prometheus.Gauge
}

// New registers the run collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	factory.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "build_info",
		Help:      "Build version of the loader; always 1.",
	}, []string{"version"}).WithLabelValues(version.Short()).Set(1)

	return &Metrics{
		registry: reg,
		runsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Pipeline runs by mode and final state.",
		}, []string{"mode", "state"}),
		rowsLoaded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_loaded_total",
			Help:      "Rows written to the warehouse by table.",
		}, []string{"table"}),
		rowsSkipped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_skipped_total",
			Help:      "Malformed source rows skipped during extraction.",
		}),
		runDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of a pipeline run.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300, 900, 3600},
		}, []string{"mode", "state"}),
		phaseDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "phase_duration_seconds",
			Help:      "Wall time spent in each pipeline phase.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
		}, []string{"phase"}),
		lastSuccess: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last run that reached Done.",
		}),
	}
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObservePhase records how long a phase took.
func (m *Metrics) ObservePhase(phase string, d time.Duration) {
	if m == nil {
		return
	}
	m.phaseDuration.WithLabelValues(phase).Observe(d.Seconds())
}

// ObserveRun records the outcome of a finished run.
func (m *Metrics) ObserveRun(mode, state string, d time.Duration, loaded map[string]int, skipped int) {
	if m == nil {
		return
	}
	m.runsTotal.WithLabelValues(mode, state).Inc()
	m.runDuration.WithLabelValues(mode, state).Observe(d.Seconds())
	m.rowsSkipped.Add(float64(skipped))
	for table, n := range loaded {
		m.rowsLoaded.WithLabelValues(table).Add(float64(n))
	}
	if state == "done" {
		m.lastSuccess.SetToCurrentTime()
	}
}

// Push sends all collected metrics to a Pushgateway under job.
func (m *Metrics) Push(ctx context.Context, url, job string) error {
	if m == nil || url == "" {
		return nil
	}
	err := push.New(url, job).
		Gatherer(m.registry).
		Grouping("instance", "pgedge-pmdw").
		PushContext(ctx)
	return errors.Wrapf(err, "push metrics to %s", url)
}
