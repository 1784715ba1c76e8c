// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ScheduleSpec is the persisted form of the scheduler's specification.
// Presence of this file on disk overrides the QBT_SCHEDULE environment
// variable; internal/scheduler owns the decision of which source wins,
// this package only owns the file's shape and I/O.
type ScheduleSpec struct {
	Type      string    `yaml:"type"` // "cron" | "interval"
	Value     FlexValue `yaml:"value"`
	UpdatedAt time.Time `yaml:"updated_at"`
	Version   int       `yaml:"version"`
}

// FlexValue accepts both string and integer YAML scalars: interval values
// are commonly hand-written unquoted (`value: 30`).
type FlexValue string

func (v *FlexValue) UnmarshalYAML(node *yaml.Node) error {
	*v = FlexValue(node.Value)
	return nil
}

// LoadSchedule reads the schedule file. A missing file is not an error: it
// returns (nil, nil) so the caller falls back to QBT_SCHEDULE.
func LoadSchedule(path string) (*ScheduleSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading schedule file %s: %w", path, err)
	}

	var spec ScheduleSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("parsing schedule file %s: %w", path, err)
	}
	return &spec, nil
}

// SaveSchedule writes the schedule file atomically, stamping UpdatedAt and
// the fixed schema Version.
func SaveSchedule(path string, scheduleType, value string, now time.Time) (*ScheduleSpec, error) {
	spec := ScheduleSpec{
		Type:      scheduleType,
		Value:     FlexValue(value),
		UpdatedAt: now,
		Version:   1,
	}
	data, err := yaml.Marshal(spec)
	if err != nil {
		return nil, fmt.Errorf("serializing schedule: %w", err)
	}
	if err := writeFileAtomic(path, data, 0o644); err != nil {
		return nil, fmt.Errorf("writing schedule file %s: %w", path, err)
	}
	return &spec, nil
}

// DeleteSchedule removes the schedule file. A missing file is not an error.
func DeleteSchedule(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing schedule file %s: %w", path, err)
	}
	return nil
}
