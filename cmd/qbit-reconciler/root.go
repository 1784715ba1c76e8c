// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/autobrr/qbit-reconciler/internal/buildinfo"
	"github.com/autobrr/qbit-reconciler/internal/metrics"
	"github.com/autobrr/qbit-reconciler/internal/orchestrator"
	"github.com/autobrr/qbit-reconciler/internal/scheduler"
	"github.com/autobrr/qbit-reconciler/pkg/debounce"
)

type options struct {
	run          bool
	schedule     string
	startupDelay int
	configFile   string
	logFile      string
	logLevel     string
	debug        bool
	trace        bool
	divider      string
	width        int

	flags orchestrator.Flags
}

// RootCommand builds the engine's CLI. Every flag is also
// reachable via an uppercase QBT_-prefixed environment variable.
func RootCommand() *cobra.Command {
	var opts options
	var showVersion bool

	cmd := &cobra.Command{
		Use:   "qbit-reconciler",
		Short: "Autonomous maintenance engine for qBittorrent",
		Long: "qbit-reconciler periodically inspects a qBittorrent instance together with the\n" +
			"underlying filesystem and reconciles both toward a declarative policy.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if showVersion {
				cmd.Print(buildinfo.String())
				return nil
			}
			applyEnvOverrides(cmd)
			return runEngine(cmd.Context(), opts)
		},
	}

	fl := cmd.Flags()
	fl.BoolVar(&opts.run, "run", false, "Run once and exit instead of scheduling")
	fl.StringVar(&opts.schedule, "schedule", "", "Schedule: interval in minutes or a cron expression")
	fl.IntVar(&opts.startupDelay, "startup-delay", 0, "Seconds to wait before the first run")
	fl.StringVar(&opts.configFile, "config-file", "config/config.yml", "Configuration file path or glob")
	fl.StringVar(&opts.logFile, "log-file", "", "Write logs to this file instead of stderr")
	fl.StringVar(&opts.logLevel, "log-level", "info", "Log level (trace, debug, info, warn, error)")
	fl.BoolVar(&opts.debug, "debug", false, "Shorthand for --log-level debug")
	fl.BoolVar(&opts.trace, "trace", false, "Shorthand for --log-level trace")
	fl.StringVar(&opts.divider, "divider", "=", "Character used for log section dividers")
	fl.IntVar(&opts.width, "width", 100, "Width of log section dividers")

	fl.BoolVar(&opts.flags.DryRun, "dry-run", false, "Log planned mutations without applying them")
	fl.BoolVar(&opts.flags.Recheck, "recheck", false, "Recheck/resume paused torrents")
	fl.BoolVar(&opts.flags.CatUpdate, "cat-update", false, "Update categories from tracker profiles and save paths")
	fl.BoolVar(&opts.flags.TagUpdate, "tag-update", false, "Apply tracker-profile tags")
	fl.BoolVar(&opts.flags.RemUnregistered, "rem-unregistered", false, "Remove torrents unregistered everywhere")
	fl.BoolVar(&opts.flags.TagTrackerError, "tag-tracker-error", false, "Tag torrents whose trackers all error")
	fl.BoolVar(&opts.flags.RemOrphaned, "rem-orphaned", false, "Remove files no torrent references")
	fl.BoolVar(&opts.flags.TagNoHardlinks, "tag-nohardlinks", false, "Tag torrents whose content has no hardlinks")
	fl.BoolVar(&opts.flags.ShareLimits, "share-limits", false, "Apply share-limit groups")
	fl.BoolVar(&opts.flags.CrossSeed, "cross-seed", false, "Admit cross-seed .torrent files from the drop directory")
	fl.BoolVar(&opts.flags.SkipCleanup, "skip-cleanup", false, "Skip the recycle-bin reaper")
	fl.BoolVar(&opts.flags.SkipQbVersionCheck, "skip-qb-version-check", false, "Skip the client Web API version gate")

	fl.BoolVar(&showVersion, "version", false, "Print version and exit")

	return cmd
}

// applyEnvOverrides backfills every flag the command line left unset from
// its QBT_-prefixed environment variable (--dry-run <- QBT_DRY_RUN, ...).
func applyEnvOverrides(cmd *cobra.Command) {
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if f.Changed {
			return
		}
		envName := "QBT_" + strings.ToUpper(strings.ReplaceAll(f.Name, "-", "_"))
		if v, ok := os.LookupEnv(envName); ok && v != "" {
			_ = f.Value.Set(v)
		}
	})
}

func runEngine(ctx context.Context, opts options) error {
	logger := newLogger(opts)
	logger.Info().Str("version", buildinfo.Version).Msg("qbit-reconciler starting")
	logger.Info().Msg(strings.Repeat(opts.divider, opts.width))

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if opts.startupDelay > 0 {
		logger.Info().Int("seconds", opts.startupDelay).Msg("startup delay")
		select {
		case <-time.After(time.Duration(opts.startupDelay) * time.Second):
		case <-ctx.Done():
			return nil
		}
	}

	collector := metrics.New()
	orch := orchestrator.New(opts.configFile, collector, logger)

	if opts.run {
		orch.Submit(ctx, opts.flags)
		return nil
	}

	scheduleEnv := opts.schedule
	if scheduleEnv == "" {
		scheduleEnv = os.Getenv("QBT_SCHEDULE")
	}
	schedFile := filepath.Join(filepath.Dir(opts.configFile), "schedule.yml")
	sched, err := scheduler.New(schedFile, scheduleEnv, false, logger)
	if err != nil {
		return err
	}
	if status := sched.Status(); !status.Enabled {
		logger.Warn().Msg("no schedule configured, running once")
		orch.Submit(ctx, opts.flags)
		return nil
	}

	watchScheduleFile(ctx, schedFile, sched, logger)

	logger.Info().Interface("schedule", sched.Status()).Msg("scheduler started")
	sched.Loop(ctx, func(ctx context.Context) {
		orch.Submit(ctx, opts.flags)
	})
	logger.Info().Msg("shutdown complete")
	return nil
}

// watchScheduleFile reloads the scheduler when the schedule file is edited
// externally. Watching the parent directory survives the atomic
// write-temp-then-rename discipline the file is written with; reloads are
// debounced since editors and renames fire bursts of events.
func watchScheduleFile(ctx context.Context, path string, sched *scheduler.Scheduler, logger zerolog.Logger) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warn().Err(err).Msg("schedule file watcher unavailable")
		return
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		logger.Warn().Err(err).Msg("failed to watch schedule directory")
		watcher.Close()
		return
	}

	reload := debounce.New(500 * time.Millisecond)
	go func() {
		defer watcher.Close()
		defer reload.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(path) {
					continue
				}
				reload.Do(func() {
					if err := sched.Reload(); err != nil {
						logger.Warn().Err(err).Msg("failed to reload edited schedule file")
						return
					}
					logger.Info().Interface("schedule", sched.Status()).Msg("schedule file changed, reloaded")
				})
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn().Err(err).Msg("schedule file watcher error")
			}
		}
	}()
}

func newLogger(opts options) zerolog.Logger {
	level := opts.logLevel
	if opts.debug {
		level = "debug"
	}
	if opts.trace {
		level = "trace"
	}
	parsed, err := zerolog.ParseLevel(level)
	if err != nil {
		parsed = zerolog.InfoLevel
	}

	var out = os.Stderr
	if opts.logFile != "" {
		if f, ferr := os.OpenFile(opts.logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644); ferr == nil {
			out = f
		}
	}

	if opts.logFile == "" {
		return zerolog.New(zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}).
			Level(parsed).With().Timestamp().Logger()
	}
	return zerolog.New(out).Level(parsed).With().Timestamp().Logger()
}
