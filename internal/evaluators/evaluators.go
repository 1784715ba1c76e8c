// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package evaluators holds the shared dependency bundle and stats type the
// policy evaluators consume. Evaluators are independent but
// share the immutable inventory snapshot; the orchestrator invokes them in
// fixed order within a run, never concurrently with each other.
package evaluators

import (
	"sort"

	"github.com/rs/zerolog"

	"github.com/autobrr/qbit-reconciler/internal/domain"
	"github.com/autobrr/qbit-reconciler/internal/fsadapter"
	"github.com/autobrr/qbit-reconciler/internal/inventory"
	"github.com/autobrr/qbit-reconciler/internal/metrics"
	"github.com/autobrr/qbit-reconciler/internal/notifications"
	"github.com/autobrr/qbit-reconciler/internal/qbtclient"
	"github.com/autobrr/qbit-reconciler/internal/recyclebin"
)

// Deps is everything an evaluator may touch. The snapshot (Inv) is read-only
// after construction; mutations go through Client, FS, or Bin, each honoring
// DryRun at the mutation site.
type Deps struct {
	Client   qbtclient.Adapter
	FS       *fsadapter.Adapter
	Bin      *recyclebin.Bin
	Notifier notifications.Notifier
	Metrics  *metrics.Collector
	Resolver *inventory.Resolver
	Inv      *domain.Inventory
	Cfg      *domain.Config
	Log      zerolog.Logger
	DryRun   bool
}

// Stats counts planned mutations per action. Counters are incremented in
// both dry-run and live modes so a dry-run log faithfully predicts a real
// run's summary.
type Stats map[string]int

func (s Stats) Add(action string, n int) {
	s[action] += n
}

func (s Stats) Total() int {
	total := 0
	for _, n := range s {
		total += n
	}
	return total
}

// Actions returns the counted actions in stable order for summary output.
func (s Stats) Actions() []string {
	out := make([]string, 0, len(s))
	for a := range s {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

// Record bumps both the per-run stats and the process-wide metric.
func (d Deps) Record(stats Stats, evaluator, action string) {
	stats.Add(action, 1)
	d.Metrics.RecordMutation(evaluator, action)
}
