// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package recyclebin

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/qbit-reconciler/internal/domain"
	"github.com/autobrr/qbit-reconciler/internal/fsadapter"
	"github.com/autobrr/qbit-reconciler/internal/qbtclient/qbtclienttest"
	"github.com/autobrr/qbit-reconciler/pkg/pathutil"
)

func makeBin(t *testing.T, client *qbtclienttest.MockAdapter, enabled bool, root string, days int) (*Bin, *domain.Config) {
	t.Helper()
	cfg := &domain.Config{
		Directory: domain.DirectorySection{
			RecycleBin: root,
		},
		RecycleBin: domain.RecycleBinSection{
			Enabled:         enabled,
			EmptyAfterXDays: days,
		},
	}
	fs := fsadapter.New(pathutil.Translator{}, zerolog.Nop())
	return New(fs, client, cfg, false, zerolog.Nop()), cfg
}

func writeAged(t *testing.T, path string, age time.Duration) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	old := time.Now().Add(-age)
	require.NoError(t, os.Chtimes(path, old, old))
}

func TestDisabledBinDelegatesToClient(t *testing.T) {
	client := &qbtclienttest.MockAdapter{}
	client.On("DeleteTorrent", mock.Anything, "a1", true).Return(nil).Once()

	bin, _ := makeBin(t, client, false, t.TempDir(), 7)
	err := bin.Recycle(context.Background(), domain.Torrent{Hash: "a1", Name: "X"}, true)
	require.NoError(t, err)
	client.AssertExpectations(t)
}

func TestRecycleStagesContentAndWritesManifest(t *testing.T) {
	saveDir := t.TempDir()
	recycleRoot := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(saveDir, "movie.mkv"), []byte("data"), 0o644))

	torrent := domain.Torrent{
		Hash: "a1", Name: "Movie", Category: "movies",
		SavePath:    saveDir,
		ContentPath: filepath.Join(saveDir, "movie.mkv"),
		Files:       []domain.TorrentFile{{Name: "movie.mkv"}},
	}

	client := &qbtclienttest.MockAdapter{}
	client.On("DeleteTorrent", mock.Anything, "a1", true).Return(nil).Once()

	bin, _ := makeBin(t, client, true, recycleRoot, 7)
	require.NoError(t, bin.Recycle(context.Background(), torrent, true))

	// Content staged into the mirror path.
	_, err := os.Stat(filepath.Join(recycleRoot, "movie.mkv"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(saveDir, "movie.mkv"))
	assert.True(t, os.IsNotExist(err))

	// Manifest records the deletion.
	data, err := os.ReadFile(filepath.Join(recycleRoot, "torrents_json", "Movie.json"))
	require.NoError(t, err)
	var m Manifest
	require.NoError(t, json.Unmarshal(data, &m))
	assert.Equal(t, "Movie", m.TorrentName)
	assert.Equal(t, "movies", m.Category)
	assert.True(t, m.DeletedContents)
	assert.Contains(t, m.Files, "movie.mkv")
	client.AssertExpectations(t)
}

func TestDeleteEntryOnlyKeepsFilesAndManifestFlag(t *testing.T) {
	saveDir := t.TempDir()
	recycleRoot := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(saveDir, "movie.mkv"), []byte("data"), 0o644))

	torrent := domain.Torrent{
		Hash: "a1", Name: "X", Category: "movies",
		SavePath: saveDir,
		Files:    []domain.TorrentFile{{Name: "movie.mkv"}},
	}

	client := &qbtclienttest.MockAdapter{}
	client.On("DeleteTorrent", mock.Anything, "a1", false).Return(nil).Once()

	bin, _ := makeBin(t, client, true, recycleRoot, 7)
	require.NoError(t, bin.Recycle(context.Background(), torrent, false))

	// Files stay for the healthy sibling.
	_, err := os.Stat(filepath.Join(saveDir, "movie.mkv"))
	assert.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(recycleRoot, "torrents_json", "X.json"))
	require.NoError(t, err)
	var m Manifest
	require.NoError(t, json.Unmarshal(data, &m))
	assert.False(t, m.DeletedContents)
}

func TestManifestDeletedContentsIsMonotonic(t *testing.T) {
	m := &Manifest{TorrentName: "X", DeletedContents: true}
	m.merge(Manifest{TorrentName: "X", DeletedContents: false})
	assert.True(t, m.DeletedContents, "deleted_contents never transitions true -> false")

	m2 := &Manifest{TorrentName: "X"}
	m2.merge(Manifest{TorrentName: "X", DeletedContents: true})
	assert.True(t, m2.DeletedContents)
}

func TestManifestMergesTrackerSidecars(t *testing.T) {
	m := &Manifest{
		TorrentName:         "X",
		TrackerTorrentFiles: map[string][]string{"https://t1/a": {"a.torrent"}},
	}
	m.merge(Manifest{
		TrackerTorrentFiles: map[string][]string{
			"https://t1/a": {"b.torrent", "a.torrent"},
			"https://t2/a": {"c.torrent"},
		},
	})
	assert.Equal(t, []string{"a.torrent", "b.torrent"}, m.TrackerTorrentFiles["https://t1/a"])
	assert.Equal(t, []string{"c.torrent"}, m.TrackerTorrentFiles["https://t2/a"])
}

func TestReaperDeletesOnlyOutsideRetentionWindow(t *testing.T) {
	recycleRoot := t.TempDir()
	oldFile := filepath.Join(recycleRoot, "old.mkv")
	freshFile := filepath.Join(recycleRoot, "fresh.mkv")
	writeAged(t, oldFile, 10*24*time.Hour)
	writeAged(t, freshFile, 1*24*time.Hour)

	client := &qbtclienttest.MockAdapter{}
	bin, _ := makeBin(t, client, true, recycleRoot, 7)

	reaped := bin.Reap(time.Now(), nil)
	assert.Equal(t, 1, reaped)

	_, err := os.Stat(oldFile)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(freshFile)
	assert.NoError(t, err)
}

func TestReaperDisabledWhenRetentionUnset(t *testing.T) {
	recycleRoot := t.TempDir()
	writeAged(t, filepath.Join(recycleRoot, "old.mkv"), 100*24*time.Hour)

	client := &qbtclienttest.MockAdapter{}
	bin, _ := makeBin(t, client, true, recycleRoot, 0)

	assert.Zero(t, bin.Reap(time.Now(), nil))
	_, err := os.Stat(filepath.Join(recycleRoot, "old.mkv"))
	assert.NoError(t, err)
}

func TestSplitByCategoryRoot(t *testing.T) {
	cfg := &domain.Config{
		Directory:  domain.DirectorySection{RecycleBin: "/mnt/recycle"},
		RecycleBin: domain.RecycleBinSection{Enabled: true, SplitByCategory: true},
	}
	fs := fsadapter.New(pathutil.Translator{}, zerolog.Nop())
	bin := New(fs, &qbtclienttest.MockAdapter{}, cfg, false, zerolog.Nop())

	torrent := domain.Torrent{Name: "X", SavePath: "/data/movies"}
	assert.Equal(t, filepath.Join("/data/movies", "recycle"), bin.Root(torrent))
}
