// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package orphans detects files under the configured root that no torrent
// references and either deletes them or stages them under the orphaned
// directory.
package orphans

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/dustin/go-humanize"

	"github.com/autobrr/qbit-reconciler/internal/domain"
	"github.com/autobrr/qbit-reconciler/internal/errs"
	"github.com/autobrr/qbit-reconciler/internal/evaluators"
	"github.com/autobrr/qbit-reconciler/internal/fsadapter"
	"github.com/autobrr/qbit-reconciler/internal/notifications"
)

const name = "orphans"

func Run(ctx context.Context, d evaluators.Deps) (evaluators.Stats, error) {
	stats := evaluators.Stats{}
	log := d.Log.With().Str("evaluator", name).Logger()

	root := d.FS.Translator.ToRemote(d.Cfg.Directory.RootDir)
	skip := map[string]bool{
		filepath.Base(d.Cfg.Directory.OrphanedDir):  true,
		filepath.Base(d.Cfg.Directory.RecycleBin):   true,
	}

	rootFiles, err := d.FS.Walk(ctx, root, skip)
	if err != nil {
		return stats, fmt.Errorf("walking root directory: %w", err)
	}

	torrentFiles, err := collectTorrentFiles(ctx, d)
	if err != nil {
		return stats, fmt.Errorf("collecting torrent file set: %w", err)
	}

	var orphaned []string
	for _, f := range rootFiles {
		if _, referenced := torrentFiles[pathKey(f)]; referenced {
			continue
		}
		if matchesAnyGlob(f, d.Cfg.Orphaned.ExcludePatterns) {
			continue
		}
		orphaned = append(orphaned, f)
	}

	if len(orphaned) == 0 {
		return stats, nil
	}

	bound := d.Cfg.Orphaned.MaxOrphanedFilesToDelete
	if bound != -1 && len(orphaned) > bound {
		log.Error().Int("orphans", len(orphaned)).Int("bound", bound).
			Msg("orphan count exceeds configured maximum, refusing to act")
		d.Notifier.Notify(ctx, notifications.KindError, notifications.Event{
			Function: "rem_orphaned",
			Title:    "Orphan threshold exceeded",
			Body:     fmt.Sprintf("%d orphaned files exceed the configured maximum of %d; nothing was deleted", len(orphaned), bound),
			Fields:   map[string]any{"orphans": len(orphaned), "max": bound},
		})
		return stats, fmt.Errorf("%d orphans over limit %d: %w", len(orphaned), bound, errs.ErrThresholdExceeded)
	}

	directDelete := d.Cfg.Orphaned.EmptyAfterXDays == 0
	orphanedDir := d.Cfg.Directory.OrphanedDir

	for _, f := range orphaned {
		size, _ := d.FS.SizeOf(f)
		log.Info().Str("file", f).Str("size", humanize.Bytes(uint64(size))).
			Bool("delete", directDelete).Bool("dryRun", d.DryRun).Msg("handling orphaned file")
		d.Notifier.Queue(notifications.Event{
			Function: "rem_orphaned",
			Title:    "Orphaned file",
			Body:     f,
			Fields:   map[string]any{"torrent_name": filepath.Base(f), "file": f},
		}, filepath.Dir(f))
	}

	if directDelete {
		for range orphaned {
			d.Record(stats, name, "delete_orphan")
		}
		if !d.DryRun {
			if err := fsadapter.ParallelForEach(orphaned, func(f string) error {
				return d.FS.Delete(f)
			}); err != nil {
				log.Warn().Err(err).Msg("failed to delete some orphaned files")
			}
		}
		return stats, nil
	}

	for range orphaned {
		d.Record(stats, name, "move_orphan")
	}
	if !d.DryRun {
		if err := fsadapter.ParallelForEach(orphaned, func(f string) error {
			rel, relErr := filepath.Rel(root, f)
			if relErr != nil {
				rel = filepath.Base(f)
			}
			return d.FS.Move(f, filepath.Join(orphanedDir, rel), true)
		}); err != nil {
			log.Warn().Err(err).Msg("failed to move some orphaned files")
		}
		protected := []string{orphanedDir, d.Cfg.Directory.RecycleBin, d.Cfg.Directory.CrossSeed}
		if err := d.FS.RemoveEmptyDirs(root, protected, d.Cfg.Orphaned.ExcludePatterns); err != nil {
			log.Warn().Err(err).Msg("failed to prune emptied directories")
		}
	}
	return stats, nil
}

// collectTorrentFiles builds the referenced-file set: every torrent's save
// path joined to each of its file names, fetched over the bounded worker
// pool. Keys are xxhash digests of the normalized absolute path so the set
// difference over large libraries stays cheap.
func collectTorrentFiles(ctx context.Context, d evaluators.Deps) (map[uint64]struct{}, error) {
	out := make(map[uint64]struct{}, len(d.Inv.All)*4)
	var mu sync.Mutex

	err := fsadapter.ParallelForEach(d.Inv.All, func(t domain.Torrent) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		files := t.Files
		if len(files) == 0 {
			fetched, err := d.Client.TorrentFiles(ctx, t.Hash)
			if err != nil {
				d.Log.Warn().Err(err).Str("torrent", t.Name).Msg("failed to enumerate torrent files")
				return nil
			}
			files = fetched
		}
		savePath := d.FS.Translator.ToRemote(t.SavePath)
		mu.Lock()
		defer mu.Unlock()
		for _, f := range files {
			out[pathKey(normalizePlatformPath(filepath.Join(savePath, f.Name)))] = struct{}{}
		}
		return nil
	})
	return out, err
}

// normalizePlatformPath flips forward slashes to backslashes when the path
// carries a Windows drive marker. Ad-hoc cross-OS hack, preserved behind
// this predicate.
func normalizePlatformPath(p string) string {
	if strings.Contains(p, `:\`) {
		return strings.ReplaceAll(p, "/", `\`)
	}
	return p
}

func pathKey(p string) uint64 {
	return xxhash.Sum64String(normalizePlatformPath(p))
}

func matchesAnyGlob(path string, globs []string) bool {
	for _, g := range globs {
		if g == "" {
			continue
		}
		if ok, _ := filepath.Match(g, path); ok {
			return true
		}
		if ok, _ := filepath.Match(g, filepath.Base(path)); ok {
			return true
		}
	}
	return false
}
