// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package crossseed

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/anacrolix/torrent/bencode"
	"github.com/anacrolix/torrent/metainfo"
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
	"github.com/autobrr/qbit-reconciler/pkg/pathutil"
)

func makeDeps(client *qbtclienttest.MockAdapter, cfg *domain.Config, inv *domain.Inventory) evaluators.Deps {
	return evaluators.Deps{
		Client:   client,
		FS:       fsadapter.New(pathutil.Translator{}, zerolog.Nop()),
		Notifier: notifications.NewService(cfg, zerolog.Nop()),
		Metrics:  metrics.New(),
		Inv:      inv,
		Cfg:      cfg,
		Log:      zerolog.Nop(),
	}
}

func buildTorrentBytes(t *testing.T, name string) []byte {
	t.Helper()
	tempDir := t.TempDir()
	path := filepath.Join(tempDir, name+".bin")
	require.NoError(t, os.WriteFile(path, fmt.Appendf(nil, "content for %s", name), 0o644))

	mi := metainfo.MetaInfo{
		AnnounceList: [][]string{{"http://tracker.example.com:8080/announce"}},
	}
	info := metainfo.Info{Name: name, PieceLength: 16384}
	require.NoError(t, info.BuildFromFilePath(path))
	info.Name = name

	infoBytes, err := bencode.Marshal(info)
	require.NoError(t, err)
	mi.InfoBytes = infoBytes

	var buf bytes.Buffer
	require.NoError(t, mi.Write(&buf))
	return buf.Bytes()
}

func TestParseDropName(t *testing.T) {
	tracker, name, ok := parseDropName("[qbr][SomeTracker]Show.S01.2160p.torrent")
	require.True(t, ok)
	assert.Equal(t, "SomeTracker", tracker)
	assert.Equal(t, "Show.S01.2160p", name)

	tracker, name, ok = parseDropName("[SomeTracker]Show.S01.2160p.torrent")
	require.True(t, ok)
	assert.Equal(t, "SomeTracker", tracker)
	assert.Equal(t, "Show.S01.2160p", name)

	_, _, ok = parseDropName("plain-name.torrent")
	assert.False(t, ok)

	// "]" in the torrent name is split greedily: the grammar is preserved
	// bit-exactly, bracketed names land in the name tail.
	tracker, name, ok = parseDropName("[a][b]c]d.torrent")
	require.True(t, ok)
	assert.Equal(t, "b", tracker)
	assert.Equal(t, "c]d", name)
}

func TestAdmitsCrossSeedForCompleteMatch(t *testing.T) {
	torrentBytes := buildTorrentBytes(t, "Show.S01.2160p")
	hash := infoHash(torrentBytes)
	require.NotEmpty(t, hash)

	dropDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dropDir, "[qbr][SomeTracker]Show.S01.2160p.torrent"), torrentBytes, 0o644))

	original := domain.Torrent{Hash: "orig", Name: "Show.S01.2160p", SavePath: "/data/tv/", Category: "tv", Progress: 1}
	inv := &domain.Inventory{
		ByName: map[string]*domain.NameAggregate{
			"Show.S01.2160p": {Name: "Show.S01.2160p", Entries: []domain.Torrent{original}, Count: 1, IsComplete: true, FirstHash: "orig"},
		},
		All: []domain.Torrent{original},
	}

	client := &qbtclienttest.MockAdapter{}
	client.On("AddTorrent", mock.Anything, torrentBytes, "/data/tv/", "tv", []string{"cross-seed"}, true).Return(nil).Once()
	client.On("GetTorrent", mock.Anything, hash).Return(domain.Torrent{Hash: hash, Name: "Show.S01.2160p", Tags: []string{"cross-seed"}}, true, nil)

	cfg := &domain.Config{Directory: domain.DirectorySection{CrossSeed: dropDir}}
	stats, err := Run(context.Background(), makeDeps(client, cfg, inv))
	require.NoError(t, err)

	assert.Equal(t, 1, stats["add_cross_seed"])
	client.AssertExpectations(t)

	// Source file moved to added/, aggregate extended in memory.
	_, statErr := os.Stat(filepath.Join(dropDir, "added", "[qbr][SomeTracker]Show.S01.2160p.torrent"))
	assert.NoError(t, statErr)
	assert.Equal(t, 2, inv.ByName["Show.S01.2160p"].Count)
}

func TestUnmatchedFileMovesToError(t *testing.T) {
	dropDir := t.TempDir()
	torrentBytes := buildTorrentBytes(t, "Unknown.Release")
	require.NoError(t, os.WriteFile(filepath.Join(dropDir, "[qbr][Tr]Unknown.Release.torrent"), torrentBytes, 0o644))

	inv := &domain.Inventory{ByName: map[string]*domain.NameAggregate{}}
	client := &qbtclienttest.MockAdapter{}

	cfg := &domain.Config{Directory: domain.DirectorySection{CrossSeed: dropDir}}
	stats, err := Run(context.Background(), makeDeps(client, cfg, inv))
	require.NoError(t, err)

	assert.Equal(t, 1, stats["reject"])
	_, statErr := os.Stat(filepath.Join(dropDir, "error", "[qbr][Tr]Unknown.Release.torrent"))
	assert.NoError(t, statErr)
	client.AssertNotCalled(t, "AddTorrent", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestIncompleteMatchIsLeftInPlace(t *testing.T) {
	dropDir := t.TempDir()
	torrentBytes := buildTorrentBytes(t, "Show.S02")
	require.NoError(t, os.WriteFile(filepath.Join(dropDir, "[qbr][Tr]Show.S02.torrent"), torrentBytes, 0o644))

	inv := &domain.Inventory{
		ByName: map[string]*domain.NameAggregate{
			"Show.S02": {Name: "Show.S02", Entries: []domain.Torrent{{Hash: "h", Name: "Show.S02", Progress: 0.5}}, Count: 1},
		},
	}
	client := &qbtclienttest.MockAdapter{}

	cfg := &domain.Config{Directory: domain.DirectorySection{CrossSeed: dropDir}}
	stats, err := Run(context.Background(), makeDeps(client, cfg, inv))
	require.NoError(t, err)

	assert.Zero(t, stats.Total())
	_, statErr := os.Stat(filepath.Join(dropDir, "[qbr][Tr]Show.S02.torrent"))
	assert.NoError(t, statErr)
}

func TestTagsForeignCrossSeeds(t *testing.T) {
	first := domain.Torrent{Hash: "h1", Name: "Show", Progress: 1}
	foreign := domain.Torrent{Hash: "h2", Name: "Show", Progress: 1}
	tagged := domain.Torrent{Hash: "h3", Name: "Show", Progress: 1, Tags: []string{"cross-seed"}}

	inv := &domain.Inventory{
		ByName: map[string]*domain.NameAggregate{
			"Show": {Name: "Show", Entries: []domain.Torrent{first, foreign, tagged}, Count: 3, FirstHash: "h1"},
		},
	}

	client := &qbtclienttest.MockAdapter{}
	client.On("AddTags", mock.Anything, []string{"h2"}, []string{"cross-seed"}).Return(nil).Once()

	cfg := &domain.Config{}
	stats, err := Run(context.Background(), makeDeps(client, cfg, inv))
	require.NoError(t, err)
	assert.Equal(t, 1, stats["tag_cross_seed"])
	client.AssertExpectations(t)
}

func TestInfoHashIsStable(t *testing.T) {
	torrentBytes := buildTorrentBytes(t, "Stable")
	h1 := infoHash(torrentBytes)
	h2 := infoHash(torrentBytes)
	require.Len(t, h1, 40)
	assert.Equal(t, h1, h2)
}
