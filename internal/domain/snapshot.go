// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

import "time"

// TrackerStatus mirrors the client's per-tracker working/not-working state.
type TrackerStatus int

const (
	TrackerStatusUnknown TrackerStatus = iota
	TrackerStatusWorking
	TrackerStatusNotWorking
	TrackerStatusDisabled
)

// TorrentTracker is one tracker entry reported against a torrent.
type TorrentTracker struct {
	URL    string
	Status TrackerStatus
	Msg    string
}

// TorrentFile is one file within a torrent's content.
type TorrentFile struct {
	Name string
	Size int64
}

// Torrent is the per-torrent snapshot entry. It is immutable
// once constructed; evaluators that need post-mutation state re-fetch by
// hash through the Client adapter rather than mutating this value.
type Torrent struct {
	Hash                   string
	Name                   string
	Category               string
	Tags                   []string
	SavePath               string
	ContentPath            string
	Trackers               []TorrentTracker
	State                  string
	Progress               float64
	Ratio                  float64
	SeedingTimeSeconds     int64
	LastActivityUnix       int64
	AddedOnUnix            int64
	SizeBytes              int64
	UploadLimitBytesPerSec int64 // -1 = unlimited
	RatioLimit             Limit
	SeedingTimeLimit       Limit // minutes
	NumComplete            int   // seed count reported by the swarm
	Files                  []TorrentFile
	AutoTMM                bool
}

// HasTag reports whether tag is present, case-sensitive, matching the
// client's own tag comparison semantics.
func (t Torrent) HasTag(tag string) bool {
	for _, existing := range t.Tags {
		if existing == tag {
			return true
		}
	}
	return false
}

func (t Torrent) LastActivityAge(now time.Time) time.Duration {
	if t.LastActivityUnix <= 0 {
		return 0
	}
	return now.Sub(time.Unix(t.LastActivityUnix, 0))
}

// NameAggregate groups every snapshot entry sharing Name (the cross-seed
// join key: trackers re-release identical content under the same name).
type NameAggregate struct {
	Name       string
	Entries    []Torrent
	Count      int
	Msgs       []string
	Statuses   []TrackerStatus
	IsComplete bool
	FirstHash  string
}

// Inventory is the output of the inventory builder.
type Inventory struct {
	ByName map[string]*NameAggregate
	Issue  []Torrent
	Valid  []Torrent
	All    []Torrent
}
