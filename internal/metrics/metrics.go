// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package metrics registers the ambient run-duration and mutation-count
// gauges the orchestrator and evaluators report into. There is no HTTP
// exposition endpoint here (the control plane that would serve /metrics is
// not part of this engine) — the registry exists so an embedding binary
// can wire its own exposition later without this package changing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Collector holds the registry and the gauges/counters the engine updates
// once per run and once per evaluator mutation.
type Collector struct {
	Registry *prometheus.Registry

	RunDuration      prometheus.Histogram
	RunsTotal        *prometheus.CounterVec // label: outcome (ok|error)
	LastRunTimestamp prometheus.Gauge
	MutationsTotal   *prometheus.CounterVec // labels: evaluator, action
	DryRun           prometheus.Gauge
}

// New builds a Collector and registers it (and the standard Go/process
// collectors) against a fresh registry.
func New() *Collector {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	c := &Collector{
		Registry: registry,
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "qbit_reconciler_run_duration_seconds",
			Help:    "Wall-clock duration of a reconciliation run.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "qbit_reconciler_runs_total",
			Help: "Total number of reconciliation runs, by outcome.",
		}, []string{"outcome"}),
		LastRunTimestamp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "qbit_reconciler_last_run_timestamp_seconds",
			Help: "Unix timestamp of the last completed run.",
		}),
		MutationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "qbit_reconciler_mutations_total",
			Help: "Planned or applied mutations, by evaluator and action.",
		}, []string{"evaluator", "action"}),
		DryRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "qbit_reconciler_dry_run",
			Help: "1 if the most recent run was a dry run, else 0.",
		}),
	}

	registry.MustRegister(c.RunDuration, c.RunsTotal, c.LastRunTimestamp, c.MutationsTotal, c.DryRun)
	return c
}

// RecordMutation increments the mutation counter for an evaluator/action
// pair. Counters are incremented in both dry-run and live modes so a
// dry-run summary predicts a real run.
func (c *Collector) RecordMutation(evaluator, action string) {
	if c == nil {
		return
	}
	c.MutationsTotal.WithLabelValues(evaluator, action).Inc()
}
