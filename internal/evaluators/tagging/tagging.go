// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package tagging applies tracker-profile tags and maintains the stalled
// tag. The stalled-tag removal is a self-healing pass
// that runs every cycle regardless of whether anything was freshly tagged.
package tagging

import (
	"context"

	"github.com/autobrr/qbit-reconciler/internal/domain"
	"github.com/autobrr/qbit-reconciler/internal/evaluators"
	"github.com/autobrr/qbit-reconciler/internal/notifications"
)

const (
	name       = "tagging"
	stalledTag = "stalledDL"
)

func Run(ctx context.Context, d evaluators.Deps) (evaluators.Stats, error) {
	stats := evaluators.Stats{}
	log := d.Log.With().Str("evaluator", name).Logger()

	for _, t := range d.Inv.All {
		profile := d.Resolver.Resolve(t)
		missing := missingTags(t, profile.Tag)
		if len(missing) > 0 {
			log.Info().Str("torrent", t.Name).Strs("tags", missing).Bool("dryRun", d.DryRun).
				Msg("adding tracker tags")
			d.Record(stats, name, "add_tags")
			d.Notifier.Queue(notifications.Event{
				Function: "tag_update",
				Title:    "Tags added",
				Body:     t.Name,
				Fields:   map[string]any{"torrent_name": t.Name, "tags": missing},
			}, firstOr(missing, ""))
			if !d.DryRun {
				if err := d.Client.AddTags(ctx, []string{t.Hash}, missing); err != nil {
					log.Warn().Err(err).Str("torrent", t.Name).Msg("failed to add tags")
				}
			}
		}

		if d.Cfg.Settings.TagStalledTorrents {
			maintainStalledTag(ctx, d, stats, t)
		}
	}
	return stats, nil
}

func maintainStalledTag(ctx context.Context, d evaluators.Deps, stats evaluators.Stats, t domain.Torrent) {
	log := d.Log.With().Str("evaluator", name).Logger()
	stalled := t.State == "stalledDL"
	tagged := t.HasTag(stalledTag)

	switch {
	case stalled && !tagged:
		log.Info().Str("torrent", t.Name).Bool("dryRun", d.DryRun).Msg("tagging stalled torrent")
		d.Record(stats, name, "tag_stalled")
		if !d.DryRun {
			if err := d.Client.AddTags(ctx, []string{t.Hash}, []string{stalledTag}); err != nil {
				log.Warn().Err(err).Str("torrent", t.Name).Msg("failed to add stalled tag")
			}
		}
	case !stalled && tagged:
		log.Info().Str("torrent", t.Name).Bool("dryRun", d.DryRun).Msg("removing stalled tag")
		d.Record(stats, name, "untag_stalled")
		if !d.DryRun {
			if err := d.Client.RemoveTags(ctx, []string{t.Hash}, []string{stalledTag}); err != nil {
				log.Warn().Err(err).Str("torrent", t.Name).Msg("failed to remove stalled tag")
			}
		}
	}
}

func missingTags(t domain.Torrent, wanted []string) []string {
	var missing []string
	for _, tag := range wanted {
		if tag != "" && !t.HasTag(tag) {
			missing = append(missing, tag)
		}
	}
	return missing
}

func firstOr(xs []string, fallback string) string {
	if len(xs) > 0 {
		return xs[0]
	}
	return fallback
}
