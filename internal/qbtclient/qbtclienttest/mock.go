// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package qbtclienttest provides a testify mock of the Client adapter so
// evaluator tests run without a live qBittorrent instance.
package qbtclienttest

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/autobrr/qbit-reconciler/internal/domain"
	"github.com/autobrr/qbit-reconciler/internal/qbtclient"
)

type MockAdapter struct {
	mock.Mock
}

var _ qbtclient.Adapter = (*MockAdapter)(nil)

func (m *MockAdapter) ListTorrents(ctx context.Context, filter qbtclient.ListFilter) ([]domain.Torrent, error) {
	args := m.Called(ctx, filter)
	torrents, _ := args.Get(0).([]domain.Torrent)
	return torrents, args.Error(1)
}

func (m *MockAdapter) SetCategory(ctx context.Context, hashes []string, category string) error {
	return m.Called(ctx, hashes, category).Error(0)
}

func (m *MockAdapter) CreateCategory(ctx context.Context, name, savePath string) error {
	return m.Called(ctx, name, savePath).Error(0)
}

func (m *MockAdapter) SetTags(ctx context.Context, hashes []string, tags []string) error {
	return m.Called(ctx, hashes, tags).Error(0)
}

func (m *MockAdapter) AddTags(ctx context.Context, hashes []string, tags []string) error {
	return m.Called(ctx, hashes, tags).Error(0)
}

func (m *MockAdapter) RemoveTags(ctx context.Context, hashes []string, tags []string) error {
	return m.Called(ctx, hashes, tags).Error(0)
}

func (m *MockAdapter) SetShareLimits(ctx context.Context, hashes []string, ratioLimit, seedingTimeLimit, inactiveSeedingTimeLimit float64) error {
	return m.Called(ctx, hashes, ratioLimit, seedingTimeLimit, inactiveSeedingTimeLimit).Error(0)
}

func (m *MockAdapter) SetUploadLimit(ctx context.Context, hashes []string, bytesPerSec int64) error {
	return m.Called(ctx, hashes, bytesPerSec).Error(0)
}

func (m *MockAdapter) SetAutoManagement(ctx context.Context, hashes []string, enable bool) error {
	return m.Called(ctx, hashes, enable).Error(0)
}

func (m *MockAdapter) Pause(ctx context.Context, hashes []string) error {
	return m.Called(ctx, hashes).Error(0)
}

func (m *MockAdapter) Resume(ctx context.Context, hashes []string) error {
	return m.Called(ctx, hashes).Error(0)
}

func (m *MockAdapter) Recheck(ctx context.Context, hashes []string) error {
	return m.Called(ctx, hashes).Error(0)
}

func (m *MockAdapter) AddTorrent(ctx context.Context, fileBytes []byte, savePath, category string, tags []string, paused bool) error {
	return m.Called(ctx, fileBytes, savePath, category, tags, paused).Error(0)
}

func (m *MockAdapter) DeleteTorrent(ctx context.Context, hash string, deleteFiles bool) error {
	return m.Called(ctx, hash, deleteFiles).Error(0)
}

func (m *MockAdapter) GetTorrent(ctx context.Context, hash string) (domain.Torrent, bool, error) {
	args := m.Called(ctx, hash)
	t, _ := args.Get(0).(domain.Torrent)
	return t, args.Bool(1), args.Error(2)
}

func (m *MockAdapter) TorrentFiles(ctx context.Context, hash string) ([]domain.TorrentFile, error) {
	args := m.Called(ctx, hash)
	files, _ := args.Get(0).([]domain.TorrentFile)
	return files, args.Error(1)
}

func (m *MockAdapter) GlobalShareLimits(ctx context.Context) (qbtclient.GlobalShareLimits, error) {
	args := m.Called(ctx)
	limits, _ := args.Get(0).(qbtclient.GlobalShareLimits)
	return limits, args.Error(1)
}

func (m *MockAdapter) BanPeers(ctx context.Context, peers []string) error {
	return m.Called(ctx, peers).Error(0)
}
