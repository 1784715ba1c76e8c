// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package qbtclient is the Client adapter: a thin, typed
// wrapper over github.com/autobrr/go-qbittorrent with a centralized error
// classifier and bounded retry.
package qbtclient

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	retry "github.com/avast/retry-go"
	qbt "github.com/autobrr/go-qbittorrent"
	"github.com/rs/zerolog"

	"github.com/autobrr/qbit-reconciler/internal/domain"
	"github.com/autobrr/qbit-reconciler/internal/errs"
)

// Adapter is the interface evaluators depend on. Isolating it behind an
// interface lets evaluator tests run
// against testify/mock without a live qBittorrent instance.
type Adapter interface {
	ListTorrents(ctx context.Context, filter ListFilter) ([]domain.Torrent, error)
	SetCategory(ctx context.Context, hashes []string, category string) error
	CreateCategory(ctx context.Context, name, savePath string) error
	SetTags(ctx context.Context, hashes []string, tags []string) error
	AddTags(ctx context.Context, hashes []string, tags []string) error
	RemoveTags(ctx context.Context, hashes []string, tags []string) error
	SetShareLimits(ctx context.Context, hashes []string, ratioLimit, seedingTimeLimit, inactiveSeedingTimeLimit float64) error
	SetUploadLimit(ctx context.Context, hashes []string, bytesPerSec int64) error
	SetAutoManagement(ctx context.Context, hashes []string, enable bool) error
	Pause(ctx context.Context, hashes []string) error
	Resume(ctx context.Context, hashes []string) error
	Recheck(ctx context.Context, hashes []string) error
	AddTorrent(ctx context.Context, fileBytes []byte, savePath, category string, tags []string, paused bool) error
	DeleteTorrent(ctx context.Context, hash string, deleteFiles bool) error
	GetTorrent(ctx context.Context, hash string) (domain.Torrent, bool, error)
	TorrentFiles(ctx context.Context, hash string) ([]domain.TorrentFile, error)
	GlobalShareLimits(ctx context.Context) (GlobalShareLimits, error)
	BanPeers(ctx context.Context, peers []string) error
}

// ListFilter narrows ListTorrents; zero value lists everything.
type ListFilter struct {
	IncludeTrackers bool
}

// GlobalShareLimits mirrors the client's global share-limit preferences.
type GlobalShareLimits struct {
	RatioEnabled    bool
	Ratio           float64
	SeedTimeEnabled bool
	SeedTimeMinutes int
}

// Exponential backoff, 3 attempts, 5s base, skipped entirely for errors
// the classifier marks non-retryable.
var retryOpts = []retry.Option{
	retry.Attempts(3),
	retry.Delay(5 * time.Second),
	retry.DelayType(retry.BackOffDelay),
	retry.LastErrorOnly(true),
	retry.RetryIf(func(err error) bool { return isRetryable(err) }),
}

// Client wraps qbt.Client, adding health tracking, webAPI-version gating,
// and the Adapter surface evaluators consume.
type Client struct {
	*qbt.Client
	log             zerolog.Logger
	webAPIVersion   string
	supportsSetTags bool
}

var _ Adapter = (*Client)(nil)

// New connects to a qBittorrent instance. A failed login is fatal for the
// run.
func New(ctx context.Context, cfg domain.QbtSection, skipVersionCheck bool, log zerolog.Logger) (*Client, error) {
	qbtClient := qbt.NewClient(qbt.Config{
		Host:     cfg.Host.Value(),
		Username: cfg.User.Value(),
		Password: cfg.Pass.Value(),
		Timeout:  30,
	})

	loginCtx, cancel := context.WithTimeout(ctx, 45*time.Second)
	defer cancel()
	if err := qbtClient.LoginCtx(loginCtx); err != nil {
		return nil, fmt.Errorf("%w: %w", errs.ErrAuthFailed, err)
	}

	webAPIVersion, err := qbtClient.GetWebAPIVersionCtx(loginCtx)
	if err != nil {
		webAPIVersion = ""
	}

	minVersion := semver.MustParse("2.8.3")
	supportsSetTags := true
	if webAPIVersion != "" {
		if v, verr := semver.NewVersion(webAPIVersion); verr == nil {
			supportsSetTags = !v.LessThan(minVersion)
		}
	}
	if !supportsSetTags && !skipVersionCheck {
		return nil, fmt.Errorf("webAPI version %s: %w", webAPIVersion, errs.ErrUnsupportedVersion)
	}

	c := &Client{
		Client:          qbtClient,
		log:             log.With().Str("component", "qbtclient").Logger(),
		webAPIVersion:   webAPIVersion,
		supportsSetTags: supportsSetTags,
	}
	c.log.Debug().Str("webAPIVersion", webAPIVersion).Msg("connected to qBittorrent")
	return c, nil
}

func (c *Client) do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	err := retry.Do(func() error {
		callCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
		defer cancel()
		if cerr := fn(callCtx); cerr != nil {
			return classify(cerr)
		}
		return nil
	}, retryOpts...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (c *Client) ListTorrents(ctx context.Context, filter ListFilter) ([]domain.Torrent, error) {
	var raw []qbt.Torrent
	err := c.do(ctx, "list_torrents", func(ctx context.Context) error {
		var err error
		raw, err = c.GetTorrentsCtx(ctx, qbt.TorrentFilterOptions{
			IncludeTrackers: filter.IncludeTrackers,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	out := make([]domain.Torrent, 0, len(raw))
	for _, t := range raw {
		out = append(out, convertTorrent(t))
	}
	return out, nil
}

func (c *Client) SetCategory(ctx context.Context, hashes []string, category string) error {
	return c.do(ctx, "set_category", func(ctx context.Context) error {
		return c.SetCategoryCtx(ctx, hashes, category)
	})
}

func (c *Client) CreateCategory(ctx context.Context, name, savePath string) error {
	return c.do(ctx, "create_category", func(ctx context.Context) error {
		return c.CreateCategoryCtx(ctx, name, savePath)
	})
}

func (c *Client) SetTags(ctx context.Context, hashes []string, tags []string) error {
	return c.do(ctx, "set_tags", func(ctx context.Context) error {
		if c.supportsSetTags {
			return c.Client.SetTags(ctx, hashes, joinTags(tags))
		}
		if err := c.RemoveTagsCtx(ctx, hashes, ""); err != nil {
			return err
		}
		return c.AddTagsCtx(ctx, hashes, joinTags(tags))
	})
}

func (c *Client) AddTags(ctx context.Context, hashes []string, tags []string) error {
	return c.do(ctx, "add_tags", func(ctx context.Context) error {
		return c.AddTagsCtx(ctx, hashes, joinTags(tags))
	})
}

func (c *Client) RemoveTags(ctx context.Context, hashes []string, tags []string) error {
	return c.do(ctx, "remove_tags", func(ctx context.Context) error {
		return c.RemoveTagsCtx(ctx, hashes, joinTags(tags))
	})
}

func (c *Client) SetShareLimits(ctx context.Context, hashes []string, ratioLimit, seedingTimeLimit, inactiveSeedingTimeLimit float64) error {
	return c.do(ctx, "set_share_limits", func(ctx context.Context) error {
		return c.SetTorrentShareLimitCtx(ctx, hashes, ratioLimit, int64(seedingTimeLimit), int64(inactiveSeedingTimeLimit))
	})
}

func (c *Client) SetUploadLimit(ctx context.Context, hashes []string, bytesPerSec int64) error {
	return c.do(ctx, "set_upload_limit", func(ctx context.Context) error {
		return c.SetTorrentUploadLimitCtx(ctx, hashes, bytesPerSec)
	})
}

func (c *Client) SetAutoManagement(ctx context.Context, hashes []string, enable bool) error {
	return c.do(ctx, "set_auto_management", func(ctx context.Context) error {
		return c.SetAutoManagementCtx(ctx, hashes, enable)
	})
}

func (c *Client) Pause(ctx context.Context, hashes []string) error {
	return c.do(ctx, "pause", func(ctx context.Context) error {
		return c.PauseCtx(ctx, hashes)
	})
}

func (c *Client) Resume(ctx context.Context, hashes []string) error {
	return c.do(ctx, "resume", func(ctx context.Context) error {
		return c.ResumeCtx(ctx, hashes)
	})
}

func (c *Client) Recheck(ctx context.Context, hashes []string) error {
	return c.do(ctx, "recheck", func(ctx context.Context) error {
		return c.RecheckCtx(ctx, hashes)
	})
}

func (c *Client) AddTorrent(ctx context.Context, fileBytes []byte, savePath, category string, tags []string, paused bool) error {
	return c.do(ctx, "add_torrent", func(ctx context.Context) error {
		options := map[string]string{
			"savepath": savePath,
			"category": category,
			"tags":     joinTags(tags),
			"paused":   boolString(paused),
		}
		return c.AddTorrentFromMemoryCtx(ctx, fileBytes, options)
	})
}

func (c *Client) DeleteTorrent(ctx context.Context, hash string, deleteFiles bool) error {
	return c.do(ctx, "delete_torrent", func(ctx context.Context) error {
		return c.DeleteTorrentsCtx(ctx, []string{hash}, deleteFiles)
	})
}

// GetTorrent re-fetches a single torrent by hash, producing a fresh snapshot
// entry. Evaluators call this when they depend on post-mutation state
//; the original snapshot entry is never
// mutated in place. ok is false when the client no longer knows the hash.
func (c *Client) GetTorrent(ctx context.Context, hash string) (domain.Torrent, bool, error) {
	var raw []qbt.Torrent
	err := c.do(ctx, "get_torrent", func(ctx context.Context) error {
		var err error
		raw, err = c.GetTorrentsCtx(ctx, qbt.TorrentFilterOptions{
			Hashes:          []string{hash},
			IncludeTrackers: true,
		})
		return err
	})
	if err != nil {
		return domain.Torrent{}, false, err
	}
	if len(raw) == 0 {
		return domain.Torrent{}, false, nil
	}
	return convertTorrent(raw[0]), true, nil
}

func (c *Client) TorrentFiles(ctx context.Context, hash string) ([]domain.TorrentFile, error) {
	var files *qbt.TorrentFiles
	err := c.do(ctx, "torrent_files", func(ctx context.Context) error {
		var err error
		files, err = c.GetFilesInformationCtx(ctx, hash)
		return err
	})
	if err != nil {
		return nil, err
	}
	if files == nil {
		return nil, nil
	}
	out := make([]domain.TorrentFile, 0, len(*files))
	for _, f := range *files {
		out = append(out, domain.TorrentFile{Name: f.Name, Size: f.Size})
	}
	return out, nil
}

func (c *Client) GlobalShareLimits(ctx context.Context) (GlobalShareLimits, error) {
	var out GlobalShareLimits
	err := c.do(ctx, "get_global_share_limits", func(ctx context.Context) error {
		prefs, err := c.GetAppPreferencesCtx(ctx)
		if err != nil {
			return err
		}
		out = GlobalShareLimits{
			RatioEnabled:    prefs.MaxRatioEnabled,
			Ratio:           prefs.MaxRatio,
			SeedTimeEnabled: prefs.MaxSeedingTimeEnabled,
			SeedTimeMinutes: prefs.MaxSeedingTime,
		}
		return nil
	})
	return out, err
}

func (c *Client) BanPeers(ctx context.Context, peers []string) error {
	return c.do(ctx, "ban_peers", func(ctx context.Context) error {
		return c.BanPeersCtx(ctx, peers)
	})
}

func joinTags(tags []string) string {
	return strings.Join(tags, ",")
}

func boolString(b bool) string {
	return strconv.FormatBool(b)
}
