// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package evaluators

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatsAccumulates(t *testing.T) {
	s := Stats{}
	s.Add("resume", 1)
	s.Add("resume", 2)
	s.Add("recheck", 1)

	assert.Equal(t, 3, s["resume"])
	assert.Equal(t, 4, s.Total())
	assert.Equal(t, []string{"recheck", "resume"}, s.Actions())
}

func TestRecordTracksStatsAndMetrics(t *testing.T) {
	s := Stats{}
	// A Deps with nil Metrics must still count: the metric recorder is
	// nil-safe so dry-run summaries never depend on a registry.
	d := Deps{}
	d.Record(s, "recheck", "resume")
	assert.Equal(t, 1, s["resume"])
}
