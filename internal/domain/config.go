// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

// Config is the decoded form of a single policy configuration file.
// Field order mirrors the YAML document's top-level section
// order so a reader can trace directly back to the wire format.
type Config struct {
	Path string `yaml:"-"`

	Qbt       QbtSection                    `yaml:"qbt"`
	Settings  SettingsSection               `yaml:"settings"`
	Directory DirectorySection              `yaml:"directory"`
	Cat       map[string]string             `yaml:"cat"`        // save-path -> category
	CatChange map[string]string             `yaml:"cat_change"` // old category -> new category
	Tracker   *OrderedTrackerMap            `yaml:"tracker"`
	NoHardlinks map[string]NoHardlinksEntry `yaml:"nohardlinks"`
	ShareLimits *OrderedShareLimitMap       `yaml:"share_limits"`
	RecycleBin  RecycleBinSection           `yaml:"recyclebin"`
	Orphaned    OrphanedSection             `yaml:"orphaned"`
	Webhooks    WebhooksSection             `yaml:"webhooks"`
	Apprise     AppriseSection              `yaml:"apprise"`
	Notifiarr   NotifiarrSection            `yaml:"notifiarr"`
	BHD         BHDSection                  `yaml:"bhd"`
}

type QbtSection struct {
	Host     EnvString `yaml:"host"`
	User     EnvString `yaml:"user"`
	Pass     EnvString `yaml:"pass"`
}

type SettingsSection struct {
	ForceAutoTMM               bool   `yaml:"force_auto_tmm"`
	TrackerErrorTag            string `yaml:"tracker_error_tag"`
	ShareLimitsTag             string `yaml:"share_limits_tag"`
	CatFilterCompleted         bool   `yaml:"cat_filter_completed"`
	ShareLimitsFilterCompleted bool   `yaml:"share_limits_filter_completed"`
	TagNoHardlinksFilterCompleted bool `yaml:"tag_nohardlinks_filter_completed"`
	TagStalledTorrents         bool   `yaml:"tag_stalled_torrents"`
	CatUpdateAll               bool   `yaml:"cat_update_all"`
	ForceAutoTMMIgnoreTags     []string `yaml:"force_auto_tmm_ignore_tags"`

	// TrackerDownMessages are substrings identifying tracker messages that
	// mean "the tracker is down", not "this torrent has a problem"; torrents
	// whose only complaints match this list are classified neither valid nor
	// issue. Defaults applied at load time.
	TrackerDownMessages []string `yaml:"tracker_down_messages"`
	// UnregisteredMessages are substrings identifying tracker messages that
	// mean the torrent was removed from the tracker's index.
	UnregisteredMessages []string `yaml:"unregistered_messages"`
}

type DirectorySection struct {
	RootDir     string `yaml:"root_dir"`
	RemoteDir   string `yaml:"remote_dir"`
	CrossSeed   string `yaml:"cross_seed"`
	RecycleBin  string `yaml:"recycle_bin"`
	TorrentsDir string `yaml:"torrents_dir"`
	OrphanedDir string `yaml:"orphaned_dir"`
}

// TrackerProfile is the merged per-tracker policy.
type TrackerProfile struct {
	URLSubstring       string   `yaml:"-"`
	Tag                []string `yaml:"tag"`
	Category           string   `yaml:"category,omitempty"`
	MaxRatio           *float64 `yaml:"max_ratio,omitempty"`
	MaxSeedingTimeMin  *int     `yaml:"max_seeding_time,omitempty"`
	MinSeedingTimeMin  *int     `yaml:"min_seeding_time,omitempty"`
	LimitUploadSpeedKiB *int    `yaml:"limit_upload_speed,omitempty"`
	NotifiarrIndexer   string   `yaml:"notifiarr_indexer,omitempty"`
}

type NoHardlinksEntry struct {
	ExcludeTags    []string `yaml:"exclude_tags"`
	IgnoreRootDir  bool     `yaml:"ignore_root_dir"`
}

// ShareLimitGroup is one named entry of the share_limits section.
type ShareLimitGroup struct {
	Name     string `yaml:"-"`
	Priority int    `yaml:"priority"`

	IncludeAllTags []string `yaml:"include_all_tags"`
	IncludeAnyTags []string `yaml:"include_any_tags"`
	ExcludeAllTags []string `yaml:"exclude_all_tags"`
	ExcludeAnyTags []string `yaml:"exclude_any_tags"`
	Categories     []string `yaml:"categories"`
	MinTorrentSize int64    `yaml:"min_torrent_size"`
	MaxTorrentSize int64    `yaml:"max_torrent_size"` // 0 = no max

	MaxRatio       float64 `yaml:"max_ratio"`       // sentinel-encoded
	MaxSeedingTime float64 `yaml:"max_seeding_time"` // sentinel-encoded, minutes
	MaxLastActive  int     `yaml:"max_last_active"`  // minutes, sentinel-encoded
	MinSeedingTime int     `yaml:"min_seeding_time"` // minutes
	MinNumSeeds    int     `yaml:"min_num_seeds"`
	MinLastActive  int     `yaml:"min_last_active"` // minutes
	LimitUploadSpeed int   `yaml:"limit_upload_speed"` // KiB/s, sentinel-encoded

	Cleanup                         bool   `yaml:"cleanup"`
	ResumeTorrentAfterChange        bool   `yaml:"resume_torrent_after_change"`
	AddGroupToTag                   bool   `yaml:"add_group_to_tag"`
	CustomTag                       string `yaml:"custom_tag"`
	EnableGroupUploadSpeed          bool   `yaml:"enable_group_upload_speed"`
	ResetUploadSpeedOnUnmetMinimums bool   `yaml:"reset_upload_speed_on_unmet_minimums"`
	UploadSpeedOnLimitReached       int    `yaml:"upload_speed_on_limit_reached"` // KiB/s
}

type RecycleBinSection struct {
	Enabled         bool   `yaml:"enabled"`
	EmptyAfterXDays int    `yaml:"empty_after_x_days"`
	SplitByCategory bool   `yaml:"split_by_category"`
	SaveTorrents    bool   `yaml:"save_torrents"`
}

type OrphanedSection struct {
	EmptyAfterXDays           int      `yaml:"empty_after_x_days"`
	MaxOrphanedFilesToDelete  int      `yaml:"max_orphaned_files_to_delete"` // -1 = no bound
	ExcludePatterns           []string `yaml:"exclude_patterns"`
}

type WebhooksSection struct {
	URLsByEventKind map[string][]string `yaml:",inline"`
	GroupThreshold  int                 `yaml:"group_threshold"`
}

type AppriseSection struct {
	URLs []string `yaml:"urls"`
}

type NotifiarrSection struct {
	APIKey   EnvString `yaml:"apikey"`
	Channel  string    `yaml:"channel"`
}

type BHDSection struct {
	APIKey EnvString `yaml:"apikey"`
}
