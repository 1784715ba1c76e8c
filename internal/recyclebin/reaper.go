// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package recyclebin

import (
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
)

// Reap permanently deletes any regular file under the recycle and orphaned
// roots whose modification time predates the retention window. When
// split_by_category is set, each category save path's
// per-category recycle subdirectory is also swept — including directories
// whose category was since renamed (an Open Question decided in DESIGN.md:
// stale per-category recycle dirs are still reaped once old enough).
func (b *Bin) Reap(now time.Time, savePaths []string) (reaped int) {
	days := b.cfg.EmptyAfterXDays
	if days <= 0 {
		return 0
	}
	cutoff := now.AddDate(0, 0, -days)

	roots := []string{b.dirs.RecycleBin, b.dirs.OrphanedDir}
	if b.cfg.SplitByCategory {
		base := filepath.Base(b.dirs.RecycleBin)
		for _, sp := range savePaths {
			roots = append(roots, filepath.Join(b.fs.Translator.ToRemote(sp), base))
		}
	}

	for _, root := range roots {
		if root == "" {
			continue
		}
		reaped += b.reapRoot(root, cutoff)
	}
	return reaped
}

func (b *Bin) reapRoot(root string, cutoff time.Time) (reaped int) {
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, os.ErrNotExist) || errors.Is(err, os.ErrPermission) {
				return nil
			}
			return err
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		info, ierr := d.Info()
		if ierr != nil {
			return nil
		}
		// The reaper never deletes a file whose mtime is inside the
		// retention window.
		if !info.ModTime().Before(cutoff) {
			return nil
		}

		b.log.Info().Str("file", path).
			Str("size", humanize.Bytes(uint64(info.Size()))).
			Str("age", humanize.Time(info.ModTime())).
			Bool("dryRun", b.dryRun).
			Msg("reaping expired file")
		reaped++
		if b.dryRun {
			return nil
		}
		if derr := os.Remove(path); derr != nil {
			b.log.Warn().Err(derr).Str("file", path).Msg("failed to reap file")
		}
		return nil
	})
	if err != nil {
		b.log.Warn().Err(err).Str("root", root).Msg("reaper walk failed")
		return reaped
	}

	if !b.dryRun && reaped > 0 {
		if err := b.fs.RemoveEmptyDirs(root, nil, nil); err != nil {
			b.log.Warn().Err(err).Str("root", root).Msg("failed to prune emptied recycle directories")
		}
	}
	return reaped
}
