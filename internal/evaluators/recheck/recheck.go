// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package recheck resumes paused completed torrents whose share limits are
// not yet reached and rechecks paused zero-progress torrents that have a
// complete sibling of the same name.
package recheck

import (
	"context"
	"sort"
	"strings"

	"github.com/autobrr/qbit-reconciler/internal/domain"
	"github.com/autobrr/qbit-reconciler/internal/evaluators"
)

const name = "recheck"

func Run(ctx context.Context, d evaluators.Deps) (evaluators.Stats, error) {
	stats := evaluators.Stats{}
	log := d.Log.With().Str("evaluator", name).Logger()

	paused := make([]domain.Torrent, 0)
	for _, t := range d.Inv.All {
		if isPaused(t.State) {
			paused = append(paused, t)
		}
	}
	sort.SliceStable(paused, func(i, j int) bool {
		return paused[i].SizeBytes < paused[j].SizeBytes
	})

	for _, t := range paused {
		switch {
		case t.Progress >= 1 && shouldResume(t):
			log.Info().Str("torrent", t.Name).Bool("dryRun", d.DryRun).Msg("resuming completed torrent")
			d.Record(stats, name, "resume")
			if !d.DryRun {
				if err := d.Client.Resume(ctx, []string{t.Hash}); err != nil {
					log.Warn().Err(err).Str("torrent", t.Name).Msg("failed to resume torrent")
				}
			}
		case t.Progress == 0 && siblingComplete(d.Inv, t) && !isChecking(t.State):
			log.Info().Str("torrent", t.Name).Bool("dryRun", d.DryRun).Msg("rechecking torrent with complete sibling")
			d.Record(stats, name, "recheck")
			if !d.DryRun {
				if err := d.Client.Recheck(ctx, []string{t.Hash}); err != nil {
					log.Warn().Err(err).Str("torrent", t.Name).Msg("failed to recheck torrent")
				}
			}
		}
	}
	return stats, nil
}

// shouldResume is the AutoTMM resume criterion: a torrent with no limits at
// all resumes; with one limit set it resumes while below that limit; with
// both set it resumes while below either of them. The three branches are not equivalent to a naive "ratio OR
// seed-time satisfied" when one limit is disabled, so they are kept distinct.
func shouldResume(t domain.Torrent) bool {
	ratioSet := t.RatioLimit.Kind == domain.LimitValue
	seedSet := t.SeedingTimeLimit.Kind == domain.LimitValue

	maxRatio := t.RatioLimit.Value
	maxSeedSecs := t.SeedingTimeLimit.Value * 60
	seedSecs := float64(t.SeedingTimeSeconds)

	switch {
	case !ratioSet && !seedSet:
		return true
	case ratioSet && !seedSet:
		return t.Ratio < maxRatio
	case seedSet && !ratioSet:
		return seedSecs < maxSeedSecs
	default:
		return t.Ratio < maxRatio || seedSecs < maxSeedSecs
	}
}

func siblingComplete(inv *domain.Inventory, t domain.Torrent) bool {
	agg, ok := inv.ByName[t.Name]
	return ok && agg.IsComplete
}

func isPaused(state string) bool {
	return strings.HasPrefix(state, "paused") || strings.HasPrefix(state, "stopped")
}

func isChecking(state string) bool {
	return strings.HasPrefix(state, "checking")
}
