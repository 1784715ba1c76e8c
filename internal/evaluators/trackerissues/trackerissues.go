// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package trackerissues walks torrents whose trackers report problems and
// either deletes the unregistered ones through the recycle bin or applies
// the configured error tag. A self-healing pass over
// the valid set removes stale error tags every cycle.
package trackerissues

import (
	"context"
	"strings"

	"github.com/autobrr/qbit-reconciler/internal/domain"
	"github.com/autobrr/qbit-reconciler/internal/evaluators"
	"github.com/autobrr/qbit-reconciler/internal/inventory"
	"github.com/autobrr/qbit-reconciler/internal/notifications"
)

const name = "trackerissues"

// Prober breaks ties for trackers whose messages alone cannot prove a
// torrent was deregistered. Applicable is false when the prober does not
// cover any of the torrent's trackers; the engine then falls back to the
// message predicate alone. Implementations own their host knowledge — the
// engine never hard-codes tracker hosts.
type Prober interface {
	Confirm(ctx context.Context, t domain.Torrent) (unregistered bool, applicable bool)
}

// Opts selects which of the two coupled functions run this cycle.
type Opts struct {
	RemoveUnregistered bool
	TagTrackerError    bool
	Prober             Prober
}

func Run(ctx context.Context, d evaluators.Deps, opts Opts) (evaluators.Stats, error) {
	stats := evaluators.Stats{}
	log := d.Log.With().Str("evaluator", name).Logger()
	errorTag := d.Cfg.Settings.TrackerErrorTag

	for _, t := range d.Inv.Issue {
		unregistered, trackerError := classify(ctx, d, opts, t)

		switch {
		case unregistered && opts.RemoveUnregistered:
			deleteContents := !siblingHealthy(d.Inv, t)
			log.Info().Str("torrent", t.Name).Bool("deleteContents", deleteContents).
				Bool("dryRun", d.DryRun).Msg("removing unregistered torrent")
			d.Record(stats, name, "remove_unregistered")
			d.Notifier.Queue(notifications.Event{
				Function: "rem_unregistered",
				Title:    "Unregistered torrent removed",
				Body:     t.Name,
				Fields: map[string]any{
					"torrent_name":    t.Name,
					"tracker":         inventory.Host(t),
					"delete_contents": deleteContents,
				},
			}, inventory.Host(t))
			if err := d.Bin.Recycle(ctx, t, deleteContents); err != nil {
				log.Warn().Err(err).Str("torrent", t.Name).Msg("failed to recycle unregistered torrent")
			}
		case trackerError && opts.TagTrackerError && errorTag != "" && !t.HasTag(errorTag):
			log.Info().Str("torrent", t.Name).Str("tag", errorTag).Bool("dryRun", d.DryRun).
				Msg("tagging torrent with tracker errors")
			d.Record(stats, name, "tag_tracker_error")
			d.Notifier.Queue(notifications.Event{
				Function: "tag_tracker_error",
				Title:    "Tracker error tagged",
				Body:     t.Name,
				Fields:   map[string]any{"torrent_name": t.Name, "tracker": inventory.Host(t)},
			}, inventory.Host(t))
			if !d.DryRun {
				if err := d.Client.AddTags(ctx, []string{t.Hash}, []string{errorTag}); err != nil {
					log.Warn().Err(err).Str("torrent", t.Name).Msg("failed to add tracker error tag")
				}
			}
		}
	}

	if opts.TagTrackerError && errorTag != "" {
		removeHealedTags(ctx, d, stats, errorTag)
	}
	return stats, nil
}

// classify decides whether the torrent is unregistered everywhere or merely
// erroring. A torrent with zero parsed HTTP/UDP trackers is a tracker error,
// never an unregistered deletion candidate.
func classify(ctx context.Context, d evaluators.Deps, opts Opts, t domain.Torrent) (unregistered, trackerError bool) {
	realTrackers := 0
	nonWorking := 0
	allUnregisteredLike := true

	for _, tr := range t.Trackers {
		if !inventory.IsRealTracker(tr.URL) {
			continue
		}
		realTrackers++
		if tr.Status == domain.TrackerStatusWorking {
			return false, false
		}
		if tr.Status == domain.TrackerStatusDisabled {
			continue
		}
		nonWorking++
		if matchesAny(tr.Msg, d.Cfg.Settings.TrackerDownMessages) ||
			!matchesAny(tr.Msg, d.Cfg.Settings.UnregisteredMessages) {
			allUnregisteredLike = false
		}
	}

	if realTrackers == 0 || nonWorking == 0 {
		return false, realTrackers == 0
	}
	if !allUnregisteredLike {
		return false, true
	}
	if opts.Prober != nil {
		if confirmed, applicable := opts.Prober.Confirm(ctx, t); applicable {
			return confirmed, !confirmed
		}
	}
	return true, false
}

// removeHealedTags strips the error tag from valid torrents still carrying
// it. This pass is unconditional per cycle so re-adding the tag after the
// tracker recovers is a no-op.
func removeHealedTags(ctx context.Context, d evaluators.Deps, stats evaluators.Stats, errorTag string) {
	log := d.Log.With().Str("evaluator", name).Logger()
	for _, t := range d.Inv.Valid {
		if !t.HasTag(errorTag) {
			continue
		}
		log.Info().Str("torrent", t.Name).Bool("dryRun", d.DryRun).Msg("removing healed tracker error tag")
		d.Record(stats, name, "untag_tracker_error")
		if !d.DryRun {
			if err := d.Client.RemoveTags(ctx, []string{t.Hash}, []string{errorTag}); err != nil {
				log.Warn().Err(err).Str("torrent", t.Name).Msg("failed to remove tracker error tag")
			}
		}
	}
}

// siblingHealthy reports whether another instance of the same name still has
// a working tracker, in which case the unregistered copy is deleted without
// its contents.
func siblingHealthy(inv *domain.Inventory, t domain.Torrent) bool {
	agg, ok := inv.ByName[t.Name]
	if !ok {
		return false
	}
	for _, entry := range agg.Entries {
		if entry.Hash == t.Hash {
			continue
		}
		for _, tr := range entry.Trackers {
			if inventory.IsRealTracker(tr.URL) && tr.Status == domain.TrackerStatusWorking {
				return true
			}
		}
	}
	return false
}

func matchesAny(msg string, patterns []string) bool {
	if msg == "" {
		return false
	}
	lower := strings.ToLower(msg)
	for _, p := range patterns {
		if p != "" && strings.Contains(lower, strings.ToLower(p)) {
			return true
		}
	}
	return false
}
