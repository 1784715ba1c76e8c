// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package recheck

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/qbit-reconciler/internal/domain"
	"github.com/autobrr/qbit-reconciler/internal/evaluators"
	"github.com/autobrr/qbit-reconciler/internal/metrics"
	"github.com/autobrr/qbit-reconciler/internal/notifications"
	"github.com/autobrr/qbit-reconciler/internal/qbtclient/qbtclienttest"
)

func makeDeps(client *qbtclienttest.MockAdapter, inv *domain.Inventory) evaluators.Deps {
	cfg := &domain.Config{}
	return evaluators.Deps{
		Client:   client,
		Notifier: notifications.NewService(cfg, zerolog.Nop()),
		Metrics:  metrics.New(),
		Inv:      inv,
		Cfg:      cfg,
		Log:      zerolog.Nop(),
	}
}

func inventoryOf(torrents ...domain.Torrent) *domain.Inventory {
	inv := &domain.Inventory{ByName: make(map[string]*domain.NameAggregate)}
	for _, t := range torrents {
		inv.All = append(inv.All, t)
		agg, ok := inv.ByName[t.Name]
		if !ok {
			agg = &domain.NameAggregate{Name: t.Name, FirstHash: t.Hash}
			inv.ByName[t.Name] = agg
		}
		agg.Entries = append(agg.Entries, t)
		agg.Count++
		if t.Progress >= 1 {
			agg.IsComplete = true
		}
	}
	return inv
}

func unlimited() domain.Limit { return domain.Limit{Kind: domain.LimitUnlimited} }

func TestResumesCompletedTorrentWithoutLimits(t *testing.T) {
	torrent := domain.Torrent{
		Hash: "a1", Name: "Done", State: "pausedUP", Progress: 1,
		RatioLimit: unlimited(), SeedingTimeLimit: unlimited(),
	}

	client := &qbtclienttest.MockAdapter{}
	client.On("Resume", mock.Anything, []string{"a1"}).Return(nil).Once()

	stats, err := Run(context.Background(), makeDeps(client, inventoryOf(torrent)))
	require.NoError(t, err)
	assert.Equal(t, 1, stats["resume"])
	client.AssertExpectations(t)
}

func TestResumeHonorsPartiallySetLimits(t *testing.T) {
	below := domain.Torrent{
		Hash: "a1", Name: "Seeding", State: "pausedUP", Progress: 1, Ratio: 1.0,
		RatioLimit:       domain.Limit{Kind: domain.LimitValue, Value: 2.0},
		SeedingTimeLimit: unlimited(),
	}
	reached := domain.Torrent{
		Hash: "b2", Name: "Finished", State: "pausedUP", Progress: 1, Ratio: 2.5,
		RatioLimit:       domain.Limit{Kind: domain.LimitValue, Value: 2.0},
		SeedingTimeLimit: unlimited(),
	}

	client := &qbtclienttest.MockAdapter{}
	client.On("Resume", mock.Anything, []string{"a1"}).Return(nil).Once()

	stats, err := Run(context.Background(), makeDeps(client, inventoryOf(below, reached)))
	require.NoError(t, err)
	assert.Equal(t, 1, stats["resume"])
	client.AssertNotCalled(t, "Resume", mock.Anything, []string{"b2"})
}

func TestBothLimitsSetResumesWhileEitherBelow(t *testing.T) {
	torrent := domain.Torrent{
		Hash: "a1", Name: "Mixed", State: "pausedUP", Progress: 1,
		Ratio: 5.0, SeedingTimeSeconds: 60,
		RatioLimit:       domain.Limit{Kind: domain.LimitValue, Value: 2.0},
		SeedingTimeLimit: domain.Limit{Kind: domain.LimitValue, Value: 1000},
	}

	client := &qbtclienttest.MockAdapter{}
	client.On("Resume", mock.Anything, []string{"a1"}).Return(nil).Once()

	stats, err := Run(context.Background(), makeDeps(client, inventoryOf(torrent)))
	require.NoError(t, err)
	assert.Equal(t, 1, stats["resume"])
}

func TestRechecksZeroProgressWithCompleteSibling(t *testing.T) {
	complete := domain.Torrent{Hash: "a1", Name: "Show", State: "uploading", Progress: 1}
	fresh := domain.Torrent{
		Hash: "b2", Name: "Show", State: "pausedDL", Progress: 0,
		RatioLimit: unlimited(), SeedingTimeLimit: unlimited(),
	}

	client := &qbtclienttest.MockAdapter{}
	client.On("Recheck", mock.Anything, []string{"b2"}).Return(nil).Once()

	stats, err := Run(context.Background(), makeDeps(client, inventoryOf(complete, fresh)))
	require.NoError(t, err)
	assert.Equal(t, 1, stats["recheck"])
	client.AssertExpectations(t)
}

func TestNoSiblingNoRecheck(t *testing.T) {
	fresh := domain.Torrent{
		Hash: "b2", Name: "Lonely", State: "pausedDL", Progress: 0,
		RatioLimit: unlimited(), SeedingTimeLimit: unlimited(),
	}

	client := &qbtclienttest.MockAdapter{}
	stats, err := Run(context.Background(), makeDeps(client, inventoryOf(fresh)))
	require.NoError(t, err)
	assert.Zero(t, stats.Total())
}

func TestDryRunCountsWithoutMutating(t *testing.T) {
	torrent := domain.Torrent{
		Hash: "a1", Name: "Done", State: "pausedUP", Progress: 1,
		RatioLimit: unlimited(), SeedingTimeLimit: unlimited(),
	}

	client := &qbtclienttest.MockAdapter{}
	deps := makeDeps(client, inventoryOf(torrent))
	deps.DryRun = true

	stats, err := Run(context.Background(), deps)
	require.NoError(t, err)
	assert.Equal(t, 1, stats["resume"])
	client.AssertNotCalled(t, "Resume", mock.Anything, mock.Anything)
}
