// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package inventory

import (
	"net/url"
	"strings"

	"github.com/rs/zerolog"

	"github.com/autobrr/qbit-reconciler/internal/config"
	"github.com/autobrr/qbit-reconciler/internal/domain"
)

// Resolver maps a torrent's tracker URLs to a configured tracker
// profile. Matching is substring against every tracker URL, first
// declared profile wins. When nothing matches, a default profile tagged
// with the tracker host is synthesized and persisted back into the
// configuration file so subsequent runs resolve stably.
type Resolver struct {
	cfg    *domain.Config
	log    zerolog.Logger
	dryRun bool
}

func NewResolver(cfg *domain.Config, dryRun bool, log zerolog.Logger) *Resolver {
	return &Resolver{
		cfg:    cfg,
		log:    log.With().Str("component", "tracker").Logger(),
		dryRun: dryRun,
	}
}

// Host truncates the torrent's first HTTP/UDP tracker URL to its host, for
// display and for the synthesized default tag. Empty when the torrent has
// no real trackers.
func Host(t domain.Torrent) string {
	for _, tr := range t.Trackers {
		if !IsRealTracker(tr.URL) {
			continue
		}
		if u, err := url.Parse(tr.URL); err == nil && u.Host != "" {
			return u.Hostname()
		}
	}
	return ""
}

// Resolve returns the merged tracker profile for t.
func (r *Resolver) Resolve(t domain.Torrent) domain.TrackerProfile {
	containsAny := func(substr string) bool {
		for _, tr := range t.Trackers {
			if strings.Contains(tr.URL, substr) {
				return true
			}
		}
		return false
	}

	if profile, ok := r.cfg.Tracker.Resolve(containsAny); ok {
		return profile
	}

	host := Host(t)
	if host == "" {
		return domain.TrackerProfile{}
	}

	profile := domain.TrackerProfile{
		URLSubstring: host,
		Tag:          []string{host},
	}
	r.log.Info().Str("tracker", host).Msg("no tracker profile matched, persisting synthesized default")
	if r.cfg.Tracker == nil {
		r.cfg.Tracker = &domain.OrderedTrackerMap{}
	}
	r.cfg.Tracker.Put(host, profile)
	if !r.dryRun && r.cfg.Path != "" {
		if err := config.Save(r.cfg); err != nil {
			r.log.Warn().Err(err).Msg("failed to persist synthesized tracker profile")
		}
	}
	return profile
}

// NotifiarrIndexer resolves the profile's notification indexer label, empty
// when the profile defines none.
func (r *Resolver) NotifiarrIndexer(t domain.Torrent) string {
	return r.Resolve(t).NotifiarrIndexer
}
