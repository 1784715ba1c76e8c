// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package nohardlinks tags torrents whose content has no hardlinks anywhere
// and untags them once a link appears. The scan
// short-circuits on the first file with link count >= 2.
package nohardlinks

import (
	"context"
	"path/filepath"

	"github.com/autobrr/qbit-reconciler/internal/domain"
	"github.com/autobrr/qbit-reconciler/internal/evaluators"
	"github.com/autobrr/qbit-reconciler/internal/notifications"
)

const (
	name  = "nohardlinks"
	noHLTag = "noHL"
)

func Run(ctx context.Context, d evaluators.Deps) (evaluators.Stats, error) {
	stats := evaluators.Stats{}
	log := d.Log.With().Str("evaluator", name).Logger()

	for category, opts := range d.Cfg.NoHardlinks {
		for _, t := range d.Inv.All {
			if t.Category != category {
				continue
			}
			if d.Cfg.Settings.TagNoHardlinksFilterCompleted && t.Progress < 1 {
				continue
			}
			if hasAnyTag(t, opts.ExcludeTags) {
				continue
			}

			noLinks, err := hasNoHardlinks(d, t, opts.IgnoreRootDir)
			if err != nil {
				log.Warn().Err(err).Str("torrent", t.Name).Msg("hardlink scan failed")
				continue
			}

			switch {
			case noLinks && !t.HasTag(noHLTag):
				log.Info().Str("torrent", t.Name).Bool("dryRun", d.DryRun).Msg("tagging torrent with no hardlinks")
				d.Record(stats, name, "tag_nohardlinks")
				d.Notifier.Queue(notifications.Event{
					Function: "tag_nohardlinks",
					Title:    "No hardlinks",
					Body:     t.Name,
					Fields:   map[string]any{"torrent_name": t.Name, "category": category},
				}, category)
				if !d.DryRun {
					if err := d.Client.AddTags(ctx, []string{t.Hash}, []string{noHLTag}); err != nil {
						log.Warn().Err(err).Str("torrent", t.Name).Msg("failed to add noHL tag")
					}
				}
			case !noLinks && t.HasTag(noHLTag):
				log.Info().Str("torrent", t.Name).Bool("dryRun", d.DryRun).Msg("removing noHL tag, content is linked again")
				d.Record(stats, name, "untag_nohardlinks")
				if !d.DryRun {
					if err := d.Client.RemoveTags(ctx, []string{t.Hash}, []string{noHLTag}); err != nil {
						log.Warn().Err(err).Str("torrent", t.Name).Msg("failed to remove noHL tag")
					}
				}
			}
		}
	}
	return stats, nil
}

// hasNoHardlinks holds iff every file under the torrent's content has link
// count <= 1. With ignoreRootDir the torrent's own top directory is skipped
// and each torrent file is checked at its save-path location instead.
func hasNoHardlinks(d evaluators.Deps, t domain.Torrent, ignoreRootDir bool) (bool, error) {
	if ignoreRootDir && len(t.Files) > 0 {
		savePath := d.FS.Translator.ToRemote(t.SavePath)
		for _, f := range t.Files {
			count, err := d.FS.HardlinkCount(filepath.Join(savePath, f.Name))
			if err != nil {
				return false, err
			}
			if count >= 2 {
				return false, nil
			}
		}
		return true, nil
	}

	count, err := d.FS.HardlinkCount(d.FS.Translator.ToRemote(t.ContentPath))
	if err != nil {
		return false, err
	}
	return count <= 1, nil
}

func hasAnyTag(t domain.Torrent, tags []string) bool {
	for _, tag := range tags {
		if t.HasTag(tag) {
			return true
		}
	}
	return false
}
