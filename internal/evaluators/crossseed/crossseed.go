// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package crossseed admits .torrent files from the configured drop
// directory against completed torrents of the same name, and tags
// cross-seed instances that arrived by other means.
package crossseed

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/anacrolix/torrent/metainfo"
	"github.com/lithammer/fuzzysearch/fuzzy"
	"github.com/moistari/rls"
	"github.com/rs/zerolog"

	"github.com/autobrr/qbit-reconciler/internal/domain"
	"github.com/autobrr/qbit-reconciler/internal/evaluators"
	"github.com/autobrr/qbit-reconciler/internal/notifications"
)

const (
	name         = "crossseed"
	crossSeedTag = "cross-seed"
)

func Run(ctx context.Context, d evaluators.Deps) (evaluators.Stats, error) {
	stats := evaluators.Stats{}
	log := d.Log.With().Str("evaluator", name).Logger()

	dropDir := d.Cfg.Directory.CrossSeed
	if dropDir != "" {
		entries, err := os.ReadDir(dropDir)
		if err != nil && !os.IsNotExist(err) {
			log.Warn().Err(err).Str("dir", dropDir).Msg("failed to read cross-seed drop directory")
		}
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".torrent") {
				continue
			}
			admit(ctx, d, stats, log, dropDir, entry.Name())
		}
	}

	tagForeignCrossSeeds(ctx, d, stats, log)
	return stats, nil
}

// parseDropName splits "[<tracker>]<name>.torrent", also accepting the
// two-section "[<prefix>][<tracker>]<name>.torrent" form some drop tools
// emit. The "]" separator is preserved bit-exactly, including its
// sensitivity to names containing "]": the name is split at most twice on
// "]", the second section is the tracker label when it is bracketed (else
// the first), and everything after it, further brackets included, is the
// lookup name.
func parseDropName(filename string) (tracker, torrentName string, ok bool) {
	base := strings.TrimSuffix(filename, ".torrent")
	if !strings.HasPrefix(base, "[") {
		return "", "", false
	}
	parts := strings.SplitN(base, "]", 3)
	switch {
	case len(parts) >= 3 && strings.HasPrefix(parts[1], "["):
		return strings.TrimPrefix(parts[1], "["), parts[2], true
	case len(parts) >= 2:
		rest := strings.Join(parts[1:], "]")
		return strings.TrimPrefix(parts[0], "["), rest, rest != ""
	default:
		return "", "", false
	}
}

func admit(ctx context.Context, d evaluators.Deps, stats evaluators.Stats, log zerolog.Logger, dropDir, filename string) {
	src := filepath.Join(dropDir, filename)

	tracker, torrentName, ok := parseDropName(filename)
	if !ok {
		rejectToError(ctx, d, stats, log, dropDir, filename, "unparseable filename")
		return
	}

	agg := lookupAggregate(d.Inv, torrentName)
	if agg == nil {
		rejectToError(ctx, d, stats, log, dropDir, filename, "no matching torrent in inventory")
		return
	}
	if !agg.IsComplete {
		log.Info().Str("file", filename).Str("match", agg.Name).Msg("matched torrent not complete yet, leaving for a later run")
		return
	}

	original := agg.Entries[0]
	category := original.Category
	if category == "" {
		category = filepath.Base(strings.TrimRight(strings.ReplaceAll(original.SavePath, "\\", "/"), "/"))
	}

	fileBytes, err := os.ReadFile(src)
	if err != nil {
		log.Warn().Err(err).Str("file", filename).Msg("failed to read .torrent file")
		return
	}

	log.Info().Str("file", filename).Str("tracker", tracker).Str("category", category).
		Bool("dryRun", d.DryRun).Msg("admitting cross-seed")
	d.Record(stats, name, "add_cross_seed")
	d.Notifier.Queue(notifications.Event{
		Function: "cross_seed",
		Title:    "Cross-seed added",
		Body:     agg.Name,
		Fields:   map[string]any{"torrent_name": agg.Name, "tracker": tracker, "category": category},
	}, category)
	if d.DryRun {
		return
	}

	if err := d.Client.AddTorrent(ctx, fileBytes, original.SavePath, category, []string{crossSeedTag}, true); err != nil {
		log.Warn().Err(err).Str("file", filename).Msg("failed to add cross-seed torrent")
		return
	}
	if err := d.FS.Move(src, filepath.Join(dropDir, "added", filename), true); err != nil {
		log.Warn().Err(err).Str("file", filename).Msg("failed to move admitted .torrent to added/")
	}

	// The aggregate is appended in memory only when the client confirms it
	// now knows the computed info-hash.
	hash := infoHash(fileBytes)
	if hash == "" {
		return
	}
	added, found, err := d.Client.GetTorrent(ctx, hash)
	if err != nil || !found {
		return
	}
	agg.Entries = append(agg.Entries, added)
	agg.Count++
}

// infoHash is the SHA-1 over the bencoded info dict.
func infoHash(fileBytes []byte) string {
	mi, err := metainfo.Load(bytes.NewReader(fileBytes))
	if err != nil {
		return ""
	}
	return mi.HashInfoBytes().HexString()
}

// lookupAggregate finds the inventory aggregate for a parsed drop-file
// name: exact, then substring, then release-identity comparison on the
// parsed name, then a fuzzy fallback for minor name drift.
func lookupAggregate(inv *domain.Inventory, torrentName string) *domain.NameAggregate {
	if agg, ok := inv.ByName[torrentName]; ok {
		return agg
	}
	for invName, agg := range inv.ByName {
		if strings.Contains(invName, torrentName) {
			return agg
		}
	}

	want := rls.ParseString(torrentName)
	if want.Title != "" {
		for invName, agg := range inv.ByName {
			if sameRelease(want, rls.ParseString(invName)) {
				return agg
			}
		}
	}

	var best *domain.NameAggregate
	bestRank := -1
	for invName, agg := range inv.ByName {
		rank := fuzzy.RankMatchNormalizedFold(torrentName, invName)
		if rank >= 0 && (bestRank == -1 || rank < bestRank) {
			best = agg
			bestRank = rank
		}
	}
	return best
}

// sameRelease compares the fields that identify a release independent of
// naming-style drift between trackers.
func sameRelease(a, b rls.Release) bool {
	return strings.EqualFold(a.Title, b.Title) &&
		a.Year == b.Year &&
		a.Series == b.Series &&
		a.Episode == b.Episode &&
		a.Resolution == b.Resolution
}

func rejectToError(ctx context.Context, d evaluators.Deps, stats evaluators.Stats, log zerolog.Logger, dropDir, filename, reason string) {
	log.Warn().Str("file", filename).Str("reason", reason).Bool("dryRun", d.DryRun).
		Msg("rejecting cross-seed file")
	d.Record(stats, name, "reject")
	d.Notifier.Notify(ctx, notifications.KindError, notifications.Event{
		Function: "cross_seed",
		Title:    "Cross-seed rejected",
		Body:     filename + ": " + reason,
		Fields:   map[string]any{"file": filename, "reason": reason},
	})
	if d.DryRun {
		return
	}
	if err := d.FS.Move(filepath.Join(dropDir, filename), filepath.Join(dropDir, "error", filename), true); err != nil {
		log.Warn().Err(err).Str("file", filename).Msg("failed to move rejected .torrent to error/")
	}
}

// tagForeignCrossSeeds tags instances that are not the earliest-added copy
// of their name and lack the cross-seed tag (cross-seeds admitted outside
// the drop directory).
func tagForeignCrossSeeds(ctx context.Context, d evaluators.Deps, stats evaluators.Stats, log zerolog.Logger) {
	for _, agg := range d.Inv.ByName {
		if agg.Count <= 1 {
			continue
		}
		for _, t := range agg.Entries {
			if t.Hash == agg.FirstHash || t.HasTag(crossSeedTag) {
				continue
			}
			log.Info().Str("torrent", t.Name).Str("hash", t.Hash).Bool("dryRun", d.DryRun).
				Msg("tagging cross-seed admitted by other means")
			d.Record(stats, name, "tag_cross_seed")
			if !d.DryRun {
				if err := d.Client.AddTags(ctx, []string{t.Hash}, []string{crossSeedTag}); err != nil {
					log.Warn().Err(err).Str("torrent", t.Name).Msg("failed to add cross-seed tag")
				}
			}
		}
	}
}
