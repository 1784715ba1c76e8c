// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package config loads and round-trips the YAML policy configuration
// file. Loading is hand-rolled struct binding via gopkg.in/yaml.v3,
// not viper — the wire format's literal !ENV tag needs a custom
// yaml.Node-level Unmarshal/Marshal pair that viper cannot express.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/autobrr/qbit-reconciler/internal/domain"
	"github.com/autobrr/qbit-reconciler/internal/errs"
)

// Load reads and decodes a single policy configuration file. The returned
// Config's Path field is set to path so later writes (tracker-profile
// persistence) know where to save.
func Load(path string) (*domain.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	var cfg domain.Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w: %w", path, errs.ErrConfigInvalid, err)
	}
	cfg.Path = path

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validating config %s: %w", path, err)
	}
	applyDefaults(&cfg)

	return &cfg, nil
}

// applyDefaults fills settings the YAML left empty. The message-pattern
// lists default to the messages trackers commonly emit, so a bare config
// still classifies tracker messages sensibly.
func applyDefaults(cfg *domain.Config) {
	if cfg.Settings.TrackerErrorTag == "" {
		cfg.Settings.TrackerErrorTag = "issue"
	}
	if cfg.Settings.ShareLimitsTag == "" {
		cfg.Settings.ShareLimitsTag = "~share_limit"
	}
	if cfg.Orphaned.MaxOrphanedFilesToDelete == 0 {
		cfg.Orphaned.MaxOrphanedFilesToDelete = 50
	}
	if len(cfg.Settings.TrackerDownMessages) == 0 {
		cfg.Settings.TrackerDownMessages = []string{
			"down",
			"unreachable",
			"bad gateway",
			"tracker unavailable",
			"maintenance",
		}
	}
	if len(cfg.Settings.UnregisteredMessages) == 0 {
		cfg.Settings.UnregisteredMessages = []string{
			"unregistered",
			"torrent not found",
			"torrent is not found",
			"not registered",
			"not exist",
			"unknown torrent",
			"trumped",
			"retitled",
			"infohash not found",
			"dead",
			"dupe",
			"complete season uploaded",
			"problem with description",
			"problem with file",
			"specifically banned",
		}
	}
}

func validate(cfg *domain.Config) error {
	if cfg.Qbt.Host.Value() == "" {
		return fmt.Errorf("qbt.host is required: %w", errs.ErrConfigInvalid)
	}
	return nil
}

// Dump serializes a Config back to YAML, preserving literal !ENV tags via
// domain.EnvString's custom MarshalYAML and declared map ordering via
// domain.OrderedTrackerMap/OrderedShareLimitMap's custom MarshalYAML. This
// is the other half of the load -> dump -> load round-trip property.
func Dump(cfg *domain.Config) ([]byte, error) {
	return yaml.Marshal(cfg)
}

// Save re-serializes cfg and writes it back to cfg.Path, atomically
// (write-temp-then-rename, matching the schedule file's write discipline).
// Used after the tracker resolver synthesizes and persists a default
// profile.
func Save(cfg *domain.Config) error {
	data, err := Dump(cfg)
	if err != nil {
		return fmt.Errorf("serializing config: %w", err)
	}
	return writeFileAtomic(cfg.Path, data, 0o644)
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, perm); err != nil {
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("renaming temp file into place: %w", err)
	}
	return nil
}
