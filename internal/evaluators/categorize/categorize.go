// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package categorize assigns categories from tracker profiles, the
// save-path mapping, or the save-path basename, and applies the configured
// category rename map.
package categorize

import (
	"context"
	"errors"
	"path"

	"github.com/rs/zerolog"

	"github.com/autobrr/qbit-reconciler/internal/domain"
	"github.com/autobrr/qbit-reconciler/internal/errs"
	"github.com/autobrr/qbit-reconciler/internal/evaluators"
	"github.com/autobrr/qbit-reconciler/internal/notifications"
	"github.com/autobrr/qbit-reconciler/pkg/pathcmp"
)

const name = "categorize"

// uncategorized is the sentinel resolution that leaves a torrent alone.
const uncategorized = "Uncategorized"

func Run(ctx context.Context, d evaluators.Deps) (evaluators.Stats, error) {
	stats := evaluators.Stats{}
	log := d.Log.With().Str("evaluator", name).Logger()

	for _, t := range d.Inv.All {
		if t.Category != "" && !d.Cfg.Settings.CatUpdateAll {
			continue
		}
		if !t.AutoTMM && t.Category != "" {
			continue
		}
		if d.Cfg.Settings.CatFilterCompleted && t.Progress < 1 {
			continue
		}

		target := resolveCategory(d, t)
		if target == "" || target == uncategorized || target == t.Category {
			continue
		}

		log.Info().Str("torrent", t.Name).Str("category", target).Bool("dryRun", d.DryRun).
			Msg("updating category")
		d.Record(stats, name, "set_category")
		d.Notifier.Queue(notifications.Event{
			Function: "cat_update",
			Title:    "Category updated",
			Body:     t.Name + " -> " + target,
			Fields:   map[string]any{"torrent_name": t.Name, "category": target},
		}, target)
		if d.DryRun {
			continue
		}
		if err := setCategory(ctx, d, t, target); err != nil {
			log.Warn().Err(err).Str("torrent", t.Name).Msg("failed to set category")
		}
	}

	renameCategories(ctx, d, stats, log)
	return stats, nil
}

// resolveCategory picks the candidate: tracker profile category, then the
// configured save-path mapping, then the literal save-path basename.
func resolveCategory(d evaluators.Deps, t domain.Torrent) string {
	if profile := d.Resolver.Resolve(t); profile.Category != "" {
		return profile.Category
	}
	save := pathcmp.NormalizePath(t.SavePath)
	for savePath, category := range d.Cfg.Cat {
		if pathcmp.NormalizePath(savePath) == save {
			return category
		}
	}
	return path.Base(save)
}

// setCategory applies the category; an unknown category (409 conflict) is
// created with the torrent's current save path and the set is retried.
func setCategory(ctx context.Context, d evaluators.Deps, t domain.Torrent, category string) error {
	err := d.Client.SetCategory(ctx, []string{t.Hash}, category)
	if err == nil {
		return nil
	}
	if !errors.Is(err, errs.ErrConflict) {
		return err
	}
	if cerr := d.Client.CreateCategory(ctx, category, t.SavePath); cerr != nil {
		return cerr
	}
	return d.Client.SetCategory(ctx, []string{t.Hash}, category)
}

// renameCategories is the separate pass over the configured old -> new
// rename map. It runs whenever cat_change is configured, independent of
// whether any torrent was freshly categorized this run.
func renameCategories(ctx context.Context, d evaluators.Deps, stats evaluators.Stats, log zerolog.Logger) {
	if len(d.Cfg.CatChange) == 0 {
		return
	}
	for _, t := range d.Inv.All {
		target, ok := d.Cfg.CatChange[t.Category]
		if !ok || target == t.Category {
			continue
		}
		log.Info().Str("torrent", t.Name).Str("from", t.Category).Str("to", target).
			Bool("dryRun", d.DryRun).Msg("renaming category")
		d.Record(stats, name, "rename_category")
		d.Notifier.Queue(notifications.Event{
			Function: "cat_change",
			Title:    "Category renamed",
			Body:     t.Name + ": " + t.Category + " -> " + target,
			Fields:   map[string]any{"torrent_name": t.Name, "category": target},
		}, target)
		if d.DryRun {
			continue
		}
		if err := setCategory(ctx, d, t, target); err != nil {
			log.Warn().Err(err).Str("torrent", t.Name).Msg("failed to rename category")
		}
	}
}
