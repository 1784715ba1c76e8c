// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package nohardlinks

import (
	"context"
	"os"
	"path/filepath"
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
	"github.com/autobrr/qbit-reconciler/pkg/pathutil"
)

func makeDeps(client *qbtclienttest.MockAdapter, cfg *domain.Config, torrents ...domain.Torrent) evaluators.Deps {
	return evaluators.Deps{
		Client:   client,
		FS:       fsadapter.New(pathutil.Translator{}, zerolog.Nop()),
		Notifier: notifications.NewService(cfg, zerolog.Nop()),
		Metrics:  metrics.New(),
		Inv:      &domain.Inventory{ByName: map[string]*domain.NameAggregate{}, All: torrents},
		Cfg:      cfg,
		Log:      zerolog.Nop(),
	}
}

func writeFile(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("content"), 0o644))
}

func TestTagsTorrentWithoutHardlinks(t *testing.T) {
	dir := t.TempDir()
	content := filepath.Join(dir, "movie.mkv")
	writeFile(t, content)

	cfg := &domain.Config{NoHardlinks: map[string]domain.NoHardlinksEntry{"movies": {}}}
	torrent := domain.Torrent{Hash: "a1", Name: "Movie", Category: "movies", ContentPath: content, Progress: 1}

	client := &qbtclienttest.MockAdapter{}
	client.On("AddTags", mock.Anything, []string{"a1"}, []string{"noHL"}).Return(nil).Once()

	stats, err := Run(context.Background(), makeDeps(client, cfg, torrent))
	require.NoError(t, err)
	assert.Equal(t, 1, stats["tag_nohardlinks"])
	client.AssertExpectations(t)
}

func TestUntagsOnceContentIsLinked(t *testing.T) {
	dir := t.TempDir()
	content := filepath.Join(dir, "movie.mkv")
	writeFile(t, content)
	require.NoError(t, os.Link(content, filepath.Join(dir, "movie-linked.mkv")))

	cfg := &domain.Config{NoHardlinks: map[string]domain.NoHardlinksEntry{"movies": {}}}
	torrent := domain.Torrent{
		Hash: "a1", Name: "Movie", Category: "movies", ContentPath: content,
		Progress: 1, Tags: []string{"noHL"},
	}

	client := &qbtclienttest.MockAdapter{}
	client.On("RemoveTags", mock.Anything, []string{"a1"}, []string{"noHL"}).Return(nil).Once()

	stats, err := Run(context.Background(), makeDeps(client, cfg, torrent))
	require.NoError(t, err)
	assert.Equal(t, 1, stats["untag_nohardlinks"])
	client.AssertExpectations(t)
}

func TestDirectoryScanShortCircuits(t *testing.T) {
	dir := t.TempDir()
	content := filepath.Join(dir, "season")
	writeFile(t, filepath.Join(content, "e1.mkv"))
	writeFile(t, filepath.Join(content, "e2.mkv"))
	require.NoError(t, os.Link(filepath.Join(content, "e1.mkv"), filepath.Join(dir, "e1-linked.mkv")))

	cfg := &domain.Config{NoHardlinks: map[string]domain.NoHardlinksEntry{"tv": {}}}
	torrent := domain.Torrent{Hash: "a1", Name: "Season", Category: "tv", ContentPath: content, Progress: 1}

	client := &qbtclienttest.MockAdapter{}
	stats, err := Run(context.Background(), makeDeps(client, cfg, torrent))
	require.NoError(t, err)
	// One file is linked elsewhere, so the torrent is not hardlink-free.
	assert.Zero(t, stats.Total())
}

func TestExcludeTagsSkipTorrent(t *testing.T) {
	dir := t.TempDir()
	content := filepath.Join(dir, "movie.mkv")
	writeFile(t, content)

	cfg := &domain.Config{NoHardlinks: map[string]domain.NoHardlinksEntry{
		"movies": {ExcludeTags: []string{"keep"}},
	}}
	torrent := domain.Torrent{
		Hash: "a1", Name: "Movie", Category: "movies", ContentPath: content,
		Progress: 1, Tags: []string{"keep"},
	}

	client := &qbtclienttest.MockAdapter{}
	stats, err := Run(context.Background(), makeDeps(client, cfg, torrent))
	require.NoError(t, err)
	assert.Zero(t, stats.Total())
}

func TestOtherCategoriesIgnored(t *testing.T) {
	cfg := &domain.Config{NoHardlinks: map[string]domain.NoHardlinksEntry{"movies": {}}}
	torrent := domain.Torrent{Hash: "a1", Name: "Show", Category: "tv", ContentPath: "/nonexistent", Progress: 1}

	client := &qbtclienttest.MockAdapter{}
	stats, err := Run(context.Background(), makeDeps(client, cfg, torrent))
	require.NoError(t, err)
	assert.Zero(t, stats.Total())
}
