// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package scheduler owns the schedule specification (cron expression or
// interval) and the next-run clock. The persistent schedule
// file takes precedence over the QBT_SCHEDULE environment variable; a
// read-only scheduler answers status queries without ever mutating the
// clock.
package scheduler

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/autobrr/qbit-reconciler/internal/config"
)

const (
	TypeCron     = "cron"
	TypeInterval = "interval"
)

// Status is the scheduler's externally visible state.
type Status struct {
	Enabled   bool      `json:"enabled"`
	Type      string    `json:"type,omitempty"`
	Value     string    `json:"value,omitempty"`
	NextRun   time.Time `json:"next_run,omitempty"`
	Countdown string    `json:"countdown,omitempty"`
	FromFile  bool      `json:"from_schedule_file"`
}

// Scheduler drives single-flight runs on a cron or interval clock.
type Scheduler struct {
	mu sync.Mutex

	filePath string
	envValue string
	readOnly bool
	log      zerolog.Logger

	enabled     bool
	specType    string
	value       string
	fromFile    bool
	filePaused  bool // toggle_persistence: file present but not evaluated
	nextRun     time.Time
	cronSched   cron.Schedule
	intervalMin int

	stop chan struct{}
}

// New builds a scheduler from the schedule file (if present and not paused)
// or the environment value; with neither, the scheduler is disabled.
// readOnly schedulers serve status queries and never mutate the clock.
func New(filePath, envValue string, readOnly bool, log zerolog.Logger) (*Scheduler, error) {
	s := &Scheduler{
		filePath: filePath,
		envValue: envValue,
		readOnly: readOnly,
		log:      log.With().Str("component", "scheduler").Logger(),
		stop:     make(chan struct{}),
	}
	if err := s.reload(time.Now()); err != nil {
		return nil, err
	}
	return s, nil
}

// reload re-resolves the spec source (file over env) and recomputes the
// clock. Callers hold no lock; reload takes it.
func (s *Scheduler) reload(now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reloadLocked(now)
}

func (s *Scheduler) reloadLocked(now time.Time) error {
	s.enabled = false
	s.fromFile = false
	s.specType = ""
	s.value = ""

	if !s.filePaused && s.filePath != "" {
		spec, err := config.LoadSchedule(s.filePath)
		if err != nil {
			return err
		}
		if spec != nil {
			if err := s.applyLocked(spec.Type, string(spec.Value), now); err != nil {
				return fmt.Errorf("schedule file: %w", err)
			}
			s.fromFile = true
			return nil
		}
	}

	if s.envValue != "" {
		specType := TypeCron
		if _, err := strconv.Atoi(s.envValue); err == nil {
			specType = TypeInterval
		}
		if err := s.applyLocked(specType, s.envValue, now); err != nil {
			return fmt.Errorf("QBT_SCHEDULE: %w", err)
		}
	}
	return nil
}

func (s *Scheduler) applyLocked(specType, value string, now time.Time) error {
	switch specType {
	case TypeCron:
		sched, err := cron.ParseStandard(value)
		if err != nil {
			return fmt.Errorf("parsing cron expression %q: %w", value, err)
		}
		s.cronSched = sched
		s.intervalMin = 0
	case TypeInterval:
		minutes, err := strconv.Atoi(value)
		if err != nil || minutes <= 0 {
			return fmt.Errorf("invalid interval %q: must be a positive number of minutes", value)
		}
		s.intervalMin = minutes
		s.cronSched = nil
	default:
		return fmt.Errorf("unknown schedule type %q", specType)
	}
	s.specType = specType
	s.value = value
	s.enabled = true
	if !s.readOnly {
		s.nextRun = s.computeNextLocked(now)
	}
	return nil
}

func (s *Scheduler) computeNextLocked(now time.Time) time.Time {
	if s.cronSched != nil {
		return s.cronSched.Next(now)
	}
	return now.Add(time.Duration(s.intervalMin) * time.Minute)
}

// Reload re-resolves the spec after an external edit to the schedule file
// (the file watcher calls this).
func (s *Scheduler) Reload() error {
	return s.reload(time.Now())
}

// Save persists a new schedule specification and updates the clock.
func (s *Scheduler) Save(specType, value string) error {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.applyLocked(specType, value, now); err != nil {
		return err
	}
	if _, err := config.SaveSchedule(s.filePath, specType, value, now); err != nil {
		return err
	}
	s.fromFile = true
	s.filePaused = false
	s.log.Info().Str("type", specType).Str("value", value).Time("nextRun", s.nextRun).Msg("schedule saved")
	return nil
}

// Delete removes the schedule file and falls back to the environment
// variable, or disables the scheduler when none is set.
func (s *Scheduler) Delete() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := config.DeleteSchedule(s.filePath); err != nil {
		return err
	}
	if err := s.reloadLocked(time.Now()); err != nil {
		return err
	}
	s.log.Info().Bool("enabled", s.enabled).Msg("schedule file deleted")
	return nil
}

// TogglePersistence flips whether the schedule file is evaluated, without
// deleting it. Returns the new paused state.
func (s *Scheduler) TogglePersistence() (paused bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.filePaused = !s.filePaused
	if err := s.reloadLocked(time.Now()); err != nil {
		return s.filePaused, err
	}
	s.log.Info().Bool("paused", s.filePaused).Msg("schedule file evaluation toggled")
	return s.filePaused, nil
}

// Status reports the current spec, next-run timestamp, and a human-readable
// countdown.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		Enabled:  s.enabled,
		Type:     s.specType,
		Value:    s.value,
		FromFile: s.fromFile,
	}
	if s.enabled && !s.nextRun.IsZero() {
		st.NextRun = s.nextRun
		st.Countdown = humanize.Time(s.nextRun)
	}
	return st
}

// Loop runs the scheduler worker: on each wake, fire the callback when the
// clock has passed, otherwise sleep min(1s, next_run - now). The stop
// signal and ctx are both checked on every wake; a stop waits for an
// in-progress callback to return before Loop does.
func (s *Scheduler) Loop(ctx context.Context, callback func(ctx context.Context)) {
	if s.readOnly {
		return
	}
	for {
		s.mu.Lock()
		enabled := s.enabled
		next := s.nextRun
		s.mu.Unlock()

		now := time.Now()
		if enabled && !next.IsZero() && !now.Before(next) {
			callback(ctx)
			s.mu.Lock()
			s.nextRun = s.computeNextLocked(time.Now())
			s.mu.Unlock()
			continue
		}

		sleep := time.Second
		if enabled && !next.IsZero() {
			if until := next.Sub(now); until < sleep {
				sleep = until
			}
		}
		if sleep <= 0 {
			sleep = time.Millisecond
		}

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-s.stop:
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// Stop wakes and terminates the loop. Safe to call once.
func (s *Scheduler) Stop() {
	close(s.stop)
}
