// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package recyclebin

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/autobrr/qbit-reconciler/pkg/pathutil"
)

// Manifest is the per-torrent-name JSON record kept under
// <recycle>/torrents_json/<name>.json.
type Manifest struct {
	TorrentName         string              `json:"torrent_name"`
	Category            string              `json:"category"`
	TrackerTorrentFiles map[string][]string `json:"tracker_torrent_files"`
	Files               []string            `json:"files"`
	DeletedContents     bool                `json:"deleted_contents"`
}

func manifestPath(recycleRoot, torrentName string) string {
	return filepath.Join(recycleRoot, "torrents_json", pathutil.SanitizePathSegment(torrentName)+".json")
}

func loadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading recycle manifest %s: %w", path, err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing recycle manifest %s: %w", path, err)
	}
	return &m, nil
}

// merge folds an update into an existing manifest. DeletedContents is
// monotonic: it may go false -> true across re-deletions of the same name
// but never back.
func (m *Manifest) merge(update Manifest) {
	if update.Category != "" {
		m.Category = update.Category
	}
	if m.TrackerTorrentFiles == nil {
		m.TrackerTorrentFiles = make(map[string][]string)
	}
	for tracker, sidecars := range update.TrackerTorrentFiles {
		m.TrackerTorrentFiles[tracker] = unionSorted(m.TrackerTorrentFiles[tracker], sidecars)
	}
	m.Files = unionSorted(m.Files, update.Files)
	if update.DeletedContents {
		m.DeletedContents = true
	}
}

func saveManifest(path string, m *Manifest) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating manifest directory: %w", err)
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("serializing recycle manifest: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing recycle manifest: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("renaming recycle manifest into place: %w", err)
	}
	return nil
}

func unionSorted(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, s := range append(append([]string{}, a...), b...) {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
