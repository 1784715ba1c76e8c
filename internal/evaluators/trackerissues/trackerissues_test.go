// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package trackerissues

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/qbit-reconciler/internal/domain"
	"github.com/autobrr/qbit-reconciler/internal/evaluators"
	"github.com/autobrr/qbit-reconciler/internal/fsadapter"
	"github.com/autobrr/qbit-reconciler/internal/metrics"
	"github.com/autobrr/qbit-reconciler/internal/notifications"
	"github.com/autobrr/qbit-reconciler/internal/qbtclient/qbtclienttest"
	"github.com/autobrr/qbit-reconciler/internal/recyclebin"
	"github.com/autobrr/qbit-reconciler/pkg/pathutil"
)

func testConfig() *domain.Config {
	return &domain.Config{
		Settings: domain.SettingsSection{
			TrackerErrorTag:      "issue",
			TrackerDownMessages:  []string{"down", "maintenance"},
			UnregisteredMessages: []string{"unregistered", "torrent not found", "trumped"},
		},
	}
}

func makeDeps(client *qbtclienttest.MockAdapter, cfg *domain.Config, inv *domain.Inventory) evaluators.Deps {
	fs := fsadapter.New(pathutil.Translator{}, zerolog.Nop())
	return evaluators.Deps{
		Client:   client,
		FS:       fs,
		Bin:      recyclebin.New(fs, client, cfg, false, zerolog.Nop()),
		Notifier: notifications.NewService(cfg, zerolog.Nop()),
		Metrics:  metrics.New(),
		Inv:      inv,
		Cfg:      cfg,
		Log:      zerolog.Nop(),
	}
}

func aggregate(torrents ...domain.Torrent) *domain.Inventory {
	inv := &domain.Inventory{ByName: map[string]*domain.NameAggregate{}}
	for _, t := range torrents {
		agg, ok := inv.ByName[t.Name]
		if !ok {
			agg = &domain.NameAggregate{Name: t.Name, FirstHash: t.Hash}
			inv.ByName[t.Name] = agg
		}
		agg.Entries = append(agg.Entries, t)
		agg.Count++
	}
	return inv
}

func TestUnregisteredWithHealthySiblingDeletesEntryOnly(t *testing.T) {
	dead := domain.Torrent{
		Hash: "a1", Name: "X",
		Trackers: []domain.TorrentTracker{
			{URL: "https://t1.example/announce", Status: domain.TrackerStatusNotWorking, Msg: "Torrent not found"},
		},
	}
	healthy := domain.Torrent{
		Hash: "b2", Name: "X",
		Trackers: []domain.TorrentTracker{
			{URL: "https://t2.example/announce", Status: domain.TrackerStatusWorking},
		},
	}

	inv := aggregate(dead, healthy)
	inv.Issue = []domain.Torrent{dead}
	inv.Valid = []domain.Torrent{healthy}

	client := &qbtclienttest.MockAdapter{}
	client.On("DeleteTorrent", mock.Anything, "a1", false).Return(nil).Once()

	stats, err := Run(context.Background(), makeDeps(client, testConfig(), inv),
		Opts{RemoveUnregistered: true, TagTrackerError: true})
	require.NoError(t, err)
	assert.Equal(t, 1, stats["remove_unregistered"])
	client.AssertExpectations(t)
	client.AssertNotCalled(t, "DeleteTorrent", mock.Anything, "b2", mock.Anything)
}

func TestUnregisteredWithoutSiblingDeletesContents(t *testing.T) {
	dead := domain.Torrent{
		Hash: "a1", Name: "Lonely",
		Trackers: []domain.TorrentTracker{
			{URL: "https://t1.example/announce", Status: domain.TrackerStatusNotWorking, Msg: "unregistered torrent"},
		},
	}
	inv := aggregate(dead)
	inv.Issue = []domain.Torrent{dead}

	client := &qbtclienttest.MockAdapter{}
	client.On("DeleteTorrent", mock.Anything, "a1", true).Return(nil).Once()

	_, err := Run(context.Background(), makeDeps(client, testConfig(), inv),
		Opts{RemoveUnregistered: true})
	require.NoError(t, err)
	client.AssertExpectations(t)
}

func TestMixedMessagesTagInsteadOfDelete(t *testing.T) {
	torrent := domain.Torrent{
		Hash: "a1", Name: "Mixed",
		Trackers: []domain.TorrentTracker{
			{URL: "https://t1.example/announce", Status: domain.TrackerStatusNotWorking, Msg: "Torrent not found"},
			{URL: "https://t2.example/announce", Status: domain.TrackerStatusNotWorking, Msg: "internal error"},
		},
	}
	inv := aggregate(torrent)
	inv.Issue = []domain.Torrent{torrent}

	client := &qbtclienttest.MockAdapter{}
	client.On("AddTags", mock.Anything, []string{"a1"}, []string{"issue"}).Return(nil).Once()

	stats, err := Run(context.Background(), makeDeps(client, testConfig(), inv),
		Opts{RemoveUnregistered: true, TagTrackerError: true})
	require.NoError(t, err)
	assert.Equal(t, 1, stats["tag_tracker_error"])
	client.AssertNotCalled(t, "DeleteTorrent", mock.Anything, mock.Anything, mock.Anything)
}

func TestZeroTrackersIsErrorNotDeletion(t *testing.T) {
	torrent := domain.Torrent{
		Hash: "a1", Name: "NoTrackers",
		Trackers: []domain.TorrentTracker{{URL: "** [DHT] **"}},
	}
	inv := aggregate(torrent)
	inv.Issue = []domain.Torrent{torrent}

	client := &qbtclienttest.MockAdapter{}
	client.On("AddTags", mock.Anything, []string{"a1"}, []string{"issue"}).Return(nil).Once()

	_, err := Run(context.Background(), makeDeps(client, testConfig(), inv),
		Opts{RemoveUnregistered: true, TagTrackerError: true})
	require.NoError(t, err)
	client.AssertNotCalled(t, "DeleteTorrent", mock.Anything, mock.Anything, mock.Anything)
}

func TestSelfHealingRemovesErrorTag(t *testing.T) {
	healed := domain.Torrent{
		Hash: "a1", Name: "Healed", Tags: []string{"issue"},
		Trackers: []domain.TorrentTracker{
			{URL: "https://t1.example/announce", Status: domain.TrackerStatusWorking},
		},
	}
	inv := aggregate(healed)
	inv.Valid = []domain.Torrent{healed}

	client := &qbtclienttest.MockAdapter{}
	client.On("RemoveTags", mock.Anything, []string{"a1"}, []string{"issue"}).Return(nil).Once()

	stats, err := Run(context.Background(), makeDeps(client, testConfig(), inv),
		Opts{TagTrackerError: true})
	require.NoError(t, err)
	assert.Equal(t, 1, stats["untag_tracker_error"])
	client.AssertExpectations(t)
}

func TestSelfHealingIsIdempotent(t *testing.T) {
	clean := domain.Torrent{
		Hash: "a1", Name: "Clean",
		Trackers: []domain.TorrentTracker{
			{URL: "https://t1.example/announce", Status: domain.TrackerStatusWorking},
		},
	}
	inv := aggregate(clean)
	inv.Valid = []domain.Torrent{clean}

	client := &qbtclienttest.MockAdapter{}
	stats, err := Run(context.Background(), makeDeps(client, testConfig(), inv),
		Opts{TagTrackerError: true})
	require.NoError(t, err)
	assert.Zero(t, stats.Total())
}
