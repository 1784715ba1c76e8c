// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package recyclebin implements deferred deletion: torrent
// content is moved into a managed staging area instead of being deleted,
// recorded in a per-name JSON manifest, and permanently reaped by age on a
// separate sweep.
package recyclebin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/autobrr/qbit-reconciler/internal/domain"
	"github.com/autobrr/qbit-reconciler/internal/fsadapter"
	"github.com/autobrr/qbit-reconciler/internal/qbtclient"
)

// Bin is the single operation evaluators see: Recycle. Manifest mutation is
// serial per torrent name; the orchestrator never runs two evaluators
// concurrently, so no locking is needed beyond that contract.
type Bin struct {
	fs     *fsadapter.Adapter
	client qbtclient.Adapter
	dirs   domain.DirectorySection
	cfg    domain.RecycleBinSection
	log    zerolog.Logger
	dryRun bool
}

func New(fs *fsadapter.Adapter, client qbtclient.Adapter, cfg *domain.Config, dryRun bool, log zerolog.Logger) *Bin {
	return &Bin{
		fs:     fs,
		client: client,
		dirs:   cfg.Directory,
		cfg:    cfg.RecycleBin,
		log:    log.With().Str("component", "recyclebin").Logger(),
		dryRun: dryRun,
	}
}

// Root returns the recycle root for a torrent: the configured single root,
// or <save_path>/<recycle_dir_basename> when split_by_category is set.
func (b *Bin) Root(t domain.Torrent) string {
	if b.cfg.SplitByCategory {
		return filepath.Join(b.fs.Translator.ToRemote(t.SavePath), filepath.Base(b.dirs.RecycleBin))
	}
	return b.dirs.RecycleBin
}

// Recycle removes a torrent, staging its content for deferred deletion when
// recycling is enabled. deleteContents=false deletes only the client's
// torrent entry, leaving files on disk for any healthy sibling.
func (b *Bin) Recycle(ctx context.Context, t domain.Torrent, deleteContents bool) error {
	if !b.cfg.Enabled {
		b.log.Info().Str("torrent", t.Name).Bool("deleteContents", deleteContents).Bool("dryRun", b.dryRun).
			Msg("recycle bin disabled, deleting via client")
		if b.dryRun {
			return nil
		}
		return b.client.DeleteTorrent(ctx, t.Hash, deleteContents)
	}

	root := b.Root(t)
	update := Manifest{
		TorrentName:         t.Name,
		Category:            t.Category,
		TrackerTorrentFiles: make(map[string][]string),
		DeletedContents:     deleteContents,
	}

	files := t.Files
	if len(files) == 0 && deleteContents {
		fetched, err := b.client.TorrentFiles(ctx, t.Hash)
		if err != nil {
			b.log.Warn().Err(err).Str("torrent", t.Name).Msg("failed to enumerate torrent files, falling back to content path")
		} else {
			files = fetched
		}
	}

	if deleteContents {
		if err := b.stageContents(t, files, root, &update); err != nil {
			return err
		}
	}

	if b.cfg.SaveTorrents {
		b.saveSidecars(t, root, &update)
	}

	if !b.dryRun {
		if err := b.writeManifest(root, update); err != nil {
			b.log.Warn().Err(err).Str("torrent", t.Name).Msg("failed to update recycle manifest")
		}
	}

	b.log.Info().Str("torrent", t.Name).Bool("deleteContents", deleteContents).Bool("dryRun", b.dryRun).
		Msg("recycling torrent")
	if b.dryRun {
		return nil
	}

	// Content was pre-moved into the recycle area, so delete_files=true
	// finds nothing to delete; it still clears the client's own copies.
	if err := b.client.DeleteTorrent(ctx, t.Hash, deleteContents); err != nil {
		return fmt.Errorf("deleting torrent %s from client: %w", t.Name, err)
	}

	if deleteContents {
		protected := []string{b.dirs.RecycleBin, b.dirs.OrphanedDir, b.dirs.CrossSeed, root}
		if err := b.fs.RemoveEmptyDirs(b.fs.Translator.ToRemote(t.SavePath), protected, nil); err != nil {
			b.log.Warn().Err(err).Str("torrent", t.Name).Msg("failed to prune emptied directories")
		}
	}
	return nil
}

// stageContents moves every file of the torrent into a mirror path under the
// recycle root, preserving the layout relative to the save path.
func (b *Bin) stageContents(t domain.Torrent, files []domain.TorrentFile, root string, update *Manifest) error {
	savePath := b.fs.Translator.ToRemote(t.SavePath)

	if len(files) == 0 {
		// No per-file listing: move the whole content path in one go.
		src := b.fs.Translator.ToRemote(t.ContentPath)
		rel, err := filepath.Rel(savePath, src)
		if err != nil || rel == "." {
			rel = filepath.Base(src)
		}
		update.Files = append(update.Files, rel)
		if b.dryRun {
			return nil
		}
		return b.fs.Move(src, filepath.Join(root, rel), true)
	}

	for _, f := range files {
		update.Files = append(update.Files, f.Name)
		if b.dryRun {
			continue
		}
		src := filepath.Join(savePath, f.Name)
		if err := b.fs.Move(src, filepath.Join(root, f.Name), true); err != nil {
			b.log.Warn().Err(err).Str("file", f.Name).Msg("failed to stage file into recycle bin")
		}
	}
	return nil
}

// saveSidecars copies the client's stored .torrent sidecar for the torrent
// into the recycle area, recorded per tracker URL in the manifest.
func (b *Bin) saveSidecars(t domain.Torrent, root string, update *Manifest) {
	if b.dirs.TorrentsDir == "" {
		return
	}
	sidecar := t.Hash + ".torrent"
	src := filepath.Join(b.dirs.TorrentsDir, sidecar)
	if _, err := os.Stat(src); err != nil {
		b.log.Debug().Str("sidecar", sidecar).Msg("no stored .torrent sidecar found")
		return
	}

	for _, tr := range t.Trackers {
		if tr.URL == "" {
			continue
		}
		update.TrackerTorrentFiles[tr.URL] = append(update.TrackerTorrentFiles[tr.URL], sidecar)
	}
	if b.dryRun {
		return
	}
	if err := b.fs.Copy(src, filepath.Join(root, "torrents", sidecar)); err != nil {
		b.log.Warn().Err(err).Str("sidecar", sidecar).Msg("failed to save .torrent sidecar")
	}
}

func (b *Bin) writeManifest(root string, update Manifest) error {
	path := manifestPath(root, update.TorrentName)
	existing, err := loadManifest(path)
	if err != nil {
		return err
	}
	if existing == nil {
		existing = &Manifest{TorrentName: update.TorrentName}
	}
	existing.merge(update)
	return saveManifest(path, existing)
}
