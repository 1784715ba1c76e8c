// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package categorize

import (
	"context"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/qbit-reconciler/internal/domain"
	"github.com/autobrr/qbit-reconciler/internal/errs"
	"github.com/autobrr/qbit-reconciler/internal/evaluators"
	"github.com/autobrr/qbit-reconciler/internal/inventory"
	"github.com/autobrr/qbit-reconciler/internal/metrics"
	"github.com/autobrr/qbit-reconciler/internal/notifications"
	"github.com/autobrr/qbit-reconciler/internal/qbtclient/qbtclienttest"
)

func makeDeps(client *qbtclienttest.MockAdapter, cfg *domain.Config, torrents ...domain.Torrent) evaluators.Deps {
	inv := &domain.Inventory{ByName: make(map[string]*domain.NameAggregate), All: torrents}
	return evaluators.Deps{
		Client:   client,
		Notifier: notifications.NewService(cfg, zerolog.Nop()),
		Metrics:  metrics.New(),
		Resolver: inventory.NewResolver(cfg, true, zerolog.Nop()),
		Inv:      inv,
		Cfg:      cfg,
		Log:      zerolog.Nop(),
	}
}

func TestCategoryFromSavePathMapping(t *testing.T) {
	cfg := &domain.Config{Cat: map[string]string{"/data/tv/": "tv"}}
	torrent := domain.Torrent{Hash: "a1", Name: "Show", SavePath: "/data/tv/", AutoTMM: true}

	client := &qbtclienttest.MockAdapter{}
	client.On("SetCategory", mock.Anything, []string{"a1"}, "tv").Return(nil).Once()

	stats, err := Run(context.Background(), makeDeps(client, cfg, torrent))
	require.NoError(t, err)
	assert.Equal(t, 1, stats["set_category"])
	client.AssertExpectations(t)
}

func TestCategoryFromTrackerProfileWins(t *testing.T) {
	trackers := &domain.OrderedTrackerMap{}
	trackers.Put("example.com", domain.TrackerProfile{Tag: []string{"ex"}, Category: "from-tracker"})
	cfg := &domain.Config{
		Cat:     map[string]string{"/data/tv/": "tv"},
		Tracker: trackers,
	}
	torrent := domain.Torrent{
		Hash: "a1", Name: "Show", SavePath: "/data/tv/", AutoTMM: true,
		Trackers: []domain.TorrentTracker{{URL: "https://example.com/announce"}},
	}

	client := &qbtclienttest.MockAdapter{}
	client.On("SetCategory", mock.Anything, []string{"a1"}, "from-tracker").Return(nil).Once()

	_, err := Run(context.Background(), makeDeps(client, cfg, torrent))
	require.NoError(t, err)
	client.AssertExpectations(t)
}

func TestCategoryFallsBackToSavePathBasename(t *testing.T) {
	cfg := &domain.Config{}
	torrent := domain.Torrent{Hash: "a1", Name: "Movie", SavePath: "/data/movies", AutoTMM: true}

	client := &qbtclienttest.MockAdapter{}
	client.On("SetCategory", mock.Anything, []string{"a1"}, "movies").Return(nil).Once()

	_, err := Run(context.Background(), makeDeps(client, cfg, torrent))
	require.NoError(t, err)
	client.AssertExpectations(t)
}

func TestSkipsManualTorrentWithCategory(t *testing.T) {
	cfg := &domain.Config{Settings: domain.SettingsSection{CatUpdateAll: true}}
	torrent := domain.Torrent{Hash: "a1", Name: "Manual", Category: "keep", SavePath: "/data/other", AutoTMM: false}

	client := &qbtclienttest.MockAdapter{}
	stats, err := Run(context.Background(), makeDeps(client, cfg, torrent))
	require.NoError(t, err)
	assert.Zero(t, stats.Total())
}

func TestConflictCreatesCategoryThenRetries(t *testing.T) {
	cfg := &domain.Config{Cat: map[string]string{"/data/tv": "tv"}}
	torrent := domain.Torrent{Hash: "a1", Name: "Show", SavePath: "/data/tv", AutoTMM: true}

	client := &qbtclienttest.MockAdapter{}
	client.On("SetCategory", mock.Anything, []string{"a1"}, "tv").
		Return(fmt.Errorf("set_category: %w", errs.ErrConflict)).Once()
	client.On("CreateCategory", mock.Anything, "tv", "/data/tv").Return(nil).Once()
	client.On("SetCategory", mock.Anything, []string{"a1"}, "tv").Return(nil).Once()

	deps := makeDeps(client, cfg, torrent)
	deps.DryRun = false
	_, err := Run(context.Background(), deps)
	require.NoError(t, err)
	client.AssertExpectations(t)
}

func TestRenamePassAppliesCatChange(t *testing.T) {
	cfg := &domain.Config{CatChange: map[string]string{"old-tv": "tv"}}
	torrent := domain.Torrent{Hash: "a1", Name: "Show", Category: "old-tv", SavePath: "/data/tv", AutoTMM: true}

	client := &qbtclienttest.MockAdapter{}
	client.On("SetCategory", mock.Anything, []string{"a1"}, "tv").Return(nil).Once()

	stats, err := Run(context.Background(), makeDeps(client, cfg, torrent))
	require.NoError(t, err)
	assert.Equal(t, 1, stats["rename_category"])
	client.AssertExpectations(t)
}

func TestSecondRunIsIdempotent(t *testing.T) {
	cfg := &domain.Config{Cat: map[string]string{"/data/tv/": "tv"}}
	// Already carries the resolved category: nothing to do.
	torrent := domain.Torrent{Hash: "a1", Name: "Show", Category: "tv", SavePath: "/data/tv/", AutoTMM: true,
	}
	cfg.Settings.CatUpdateAll = true

	client := &qbtclienttest.MockAdapter{}
	stats, err := Run(context.Background(), makeDeps(client, cfg, torrent))
	require.NoError(t, err)
	assert.Zero(t, stats.Total())
}
