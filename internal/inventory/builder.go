// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package inventory builds the per-run torrent snapshot and
// resolves tracker profiles against configuration. The
// snapshot is immutable after Build returns; evaluators that need
// post-mutation state re-fetch through the Client adapter.
package inventory

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/autobrr/qbit-reconciler/internal/domain"
	"github.com/autobrr/qbit-reconciler/internal/qbtclient"
)

// Builder fetches and cross-indexes the client's torrent inventory.
type Builder struct {
	client qbtclient.Adapter
	cfg    *domain.Config
	log    zerolog.Logger
	dryRun bool
}

func NewBuilder(client qbtclient.Adapter, cfg *domain.Config, dryRun bool, log zerolog.Logger) *Builder {
	return &Builder{
		client: client,
		cfg:    cfg,
		log:    log.With().Str("component", "inventory").Logger(),
		dryRun: dryRun,
	}
}

// Build fetches all torrents sorted by added_on ascending, applies the
// force_auto_tmm pass, classifies each torrent as valid / issue / neither
// based on tracker status aggregation, and groups entries by name. The
// first_hash of a name aggregate is the hash of the earliest-added instance,
// which the cross-seed evaluator treats as the original.
func (b *Builder) Build(ctx context.Context) (*domain.Inventory, error) {
	torrents, err := b.client.ListTorrents(ctx, qbtclient.ListFilter{IncludeTrackers: true})
	if err != nil {
		return nil, fmt.Errorf("fetching torrents: %w", err)
	}

	sort.SliceStable(torrents, func(i, j int) bool {
		return torrents[i].AddedOnUnix < torrents[j].AddedOnUnix
	})

	inv := &domain.Inventory{
		ByName: make(map[string]*domain.NameAggregate),
	}

	for _, t := range torrents {
		if err := b.forceAutoTMM(ctx, t); err != nil {
			b.log.Warn().Err(err).Str("torrent", t.Name).Msg("failed to enable auto management")
		}

		switch classifyTrackers(t, b.cfg.Settings.TrackerDownMessages) {
		case classValid:
			inv.Valid = append(inv.Valid, t)
		case classIssue:
			inv.Issue = append(inv.Issue, t)
		}
		inv.All = append(inv.All, t)

		agg, ok := inv.ByName[t.Name]
		if !ok {
			agg = &domain.NameAggregate{Name: t.Name, FirstHash: t.Hash}
			inv.ByName[t.Name] = agg
		}
		agg.Entries = append(agg.Entries, t)
		agg.Count++
		for _, tr := range t.Trackers {
			if !IsRealTracker(tr.URL) {
				continue
			}
			agg.Msgs = append(agg.Msgs, tr.Msg)
			agg.Statuses = append(agg.Statuses, tr.Status)
		}
		if t.Progress >= 1 {
			agg.IsComplete = true
		}
	}

	b.log.Debug().
		Int("total", len(inv.All)).
		Int("valid", len(inv.Valid)).
		Int("issue", len(inv.Issue)).
		Int("names", len(inv.ByName)).
		Msg("inventory built")
	return inv, nil
}

func (b *Builder) forceAutoTMM(ctx context.Context, t domain.Torrent) error {
	if !b.cfg.Settings.ForceAutoTMM {
		return nil
	}
	if t.AutoTMM || t.Category == "" {
		return nil
	}
	for _, ignore := range b.cfg.Settings.ForceAutoTMMIgnoreTags {
		if t.HasTag(ignore) {
			return nil
		}
	}
	b.log.Info().Str("torrent", t.Name).Bool("dryRun", b.dryRun).Msg("enabling automatic torrent management")
	if b.dryRun {
		return nil
	}
	return b.client.SetAutoManagement(ctx, []string{t.Hash}, true)
}

type trackerClass int

const (
	classNeither trackerClass = iota
	classValid
	classIssue
)

// classifyTrackers: any working HTTP/UDP tracker
// makes the torrent valid; otherwise any non-working tracker whose message
// is not down-like makes it an issue; otherwise neither.
func classifyTrackers(t domain.Torrent, downMessages []string) trackerClass {
	anyReal := false
	for _, tr := range t.Trackers {
		if !IsRealTracker(tr.URL) {
			continue
		}
		anyReal = true
		if tr.Status == domain.TrackerStatusWorking {
			return classValid
		}
	}
	if !anyReal {
		return classNeither
	}
	for _, tr := range t.Trackers {
		if !IsRealTracker(tr.URL) || tr.Status == domain.TrackerStatusWorking {
			continue
		}
		if tr.Status == domain.TrackerStatusDisabled {
			continue
		}
		if !matchesAny(tr.Msg, downMessages) {
			return classIssue
		}
	}
	return classNeither
}

// IsRealTracker filters out the client's pseudo-tracker rows (DHT, PeX,
// LSD), which are reported with "** ... **" URLs.
func IsRealTracker(url string) bool {
	return strings.HasPrefix(url, "http") || strings.HasPrefix(url, "udp")
}

func matchesAny(msg string, patterns []string) bool {
	lower := strings.ToLower(msg)
	for _, p := range patterns {
		if p == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(p)) {
			return true
		}
	}
	return false
}
