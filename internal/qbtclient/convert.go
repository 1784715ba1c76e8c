// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package qbtclient

import (
	"strings"

	qbt "github.com/autobrr/go-qbittorrent"

	"github.com/autobrr/qbit-reconciler/internal/domain"
	"github.com/autobrr/qbit-reconciler/pkg/hashutil"
)

func convertTorrent(t qbt.Torrent) domain.Torrent {
	out := domain.Torrent{
		Hash:                   hashutil.Normalize(t.Hash),
		Name:                   t.Name,
		Category:               t.Category,
		SavePath:               t.SavePath,
		ContentPath:            t.ContentPath,
		State:                  string(t.State),
		Progress:               t.Progress,
		Ratio:                  t.Ratio,
		SeedingTimeSeconds:     int64(t.SeedingTime),
		LastActivityUnix:       t.LastActivity,
		AddedOnUnix:            t.AddedOn,
		SizeBytes:              t.Size,
		UploadLimitBytesPerSec: t.UpLimit,
		RatioLimit:             domain.LimitFromSentinel(t.RatioLimit),
		SeedingTimeLimit:       domain.LimitFromSentinel(float64(t.SeedingTimeLimit)),
		NumComplete:            int(t.NumComplete),
		AutoTMM:                t.AutoManaged,
	}

	if t.Tags != "" {
		out.Tags = splitTags(t.Tags)
	}

	for _, tr := range t.Trackers {
		out.Trackers = append(out.Trackers, domain.TorrentTracker{
			URL:    tr.Url,
			Status: convertTrackerStatus(tr.Status),
			Msg:    tr.Message,
		})
	}

	return out
}

func convertTrackerStatus(s qbt.TrackerStatus) domain.TrackerStatus {
	switch s {
	case qbt.TrackerStatusOK:
		return domain.TrackerStatusWorking
	case qbt.TrackerStatusDisabled:
		return domain.TrackerStatusDisabled
	case qbt.TrackerStatusNotWorking:
		return domain.TrackerStatusNotWorking
	default:
		return domain.TrackerStatusUnknown
	}
}

func splitTags(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if tag := strings.TrimSpace(p); tag != "" {
			out = append(out, tag)
		}
	}
	return out
}
