// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package orchestrator drives reconciliation runs: per-configuration-file
// execution of the evaluators in fixed order, run-exclusion with a queued
// request model, stats aggregation, and start/end events.
package orchestrator

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"

	"github.com/autobrr/qbit-reconciler/internal/config"
	"github.com/autobrr/qbit-reconciler/internal/domain"
	"github.com/autobrr/qbit-reconciler/internal/evaluators"
	"github.com/autobrr/qbit-reconciler/internal/evaluators/categorize"
	"github.com/autobrr/qbit-reconciler/internal/evaluators/crossseed"
	"github.com/autobrr/qbit-reconciler/internal/evaluators/nohardlinks"
	"github.com/autobrr/qbit-reconciler/internal/evaluators/orphans"
	"github.com/autobrr/qbit-reconciler/internal/evaluators/recheck"
	"github.com/autobrr/qbit-reconciler/internal/evaluators/sharelimits"
	"github.com/autobrr/qbit-reconciler/internal/evaluators/tagging"
	"github.com/autobrr/qbit-reconciler/internal/evaluators/trackerissues"
	"github.com/autobrr/qbit-reconciler/internal/fsadapter"
	"github.com/autobrr/qbit-reconciler/internal/inventory"
	"github.com/autobrr/qbit-reconciler/internal/metrics"
	"github.com/autobrr/qbit-reconciler/internal/notifications"
	"github.com/autobrr/qbit-reconciler/internal/qbtclient"
	"github.com/autobrr/qbit-reconciler/internal/recyclebin"
	"github.com/autobrr/qbit-reconciler/pkg/pathutil"
)

// Flags selects which evaluators a run executes and how. Every evaluator
// is individually toggleable.
type Flags struct {
	DryRun             bool
	Recheck            bool
	CatUpdate          bool
	TagUpdate          bool
	RemUnregistered    bool
	TagTrackerError    bool
	TagNoHardlinks     bool
	ShareLimits        bool
	CrossSeed          bool
	RemOrphaned        bool
	SkipCleanup        bool
	SkipQbVersionCheck bool
}

// connectFunc lets tests substitute the client constructor.
type connectFunc func(ctx context.Context, cfg domain.QbtSection, skipVersionCheck bool, log zerolog.Logger) (qbtclient.Adapter, error)

// Orchestrator fans a run across every configuration file matching the
// configured glob.
type Orchestrator struct {
	configGlob string
	metrics    *metrics.Collector
	log        zerolog.Logger
	connect    connectFunc

	flight singleFlight
}

func New(configGlob string, collector *metrics.Collector, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		configGlob: configGlob,
		metrics:    collector,
		log:        log.With().Str("component", "orchestrator").Logger(),
		connect: func(ctx context.Context, cfg domain.QbtSection, skipVersionCheck bool, log zerolog.Logger) (qbtclient.Adapter, error) {
			client, err := qbtclient.New(ctx, cfg, skipVersionCheck, log)
			if err != nil {
				return nil, err
			}
			return client, nil
		},
	}
}

// Submit requests a run. If one is already executing, the request is queued
// and drained after the current run finishes; the engine never runs two
// reconciliations concurrently.
func (o *Orchestrator) Submit(ctx context.Context, flags Flags) (queued bool) {
	if !o.flight.tryAcquire() {
		o.flight.enqueue(flags)
		o.log.Info().Msg("run in progress, request queued")
		return true
	}
	o.runAndDrain(ctx, flags)
	return false
}

// runAndDrain executes a run holding the single-flight flag, then drains
// any requests queued meanwhile. The flag is released on every exit path,
// including panics.
func (o *Orchestrator) runAndDrain(ctx context.Context, flags Flags) {
	for {
		func() {
			defer o.flight.release()
			defer func() {
				if r := recover(); r != nil {
					o.log.Error().Interface("panic", r).Msg("run panicked")
				}
			}()
			o.RunAll(ctx, flags)
		}()

		next, ok := o.flight.dequeueAndAcquire()
		if !ok {
			return
		}
		flags = next
	}
}

// ForceClear clears a single-flight flag held longer than the stuck-run
// horizon. Recovery mechanism for operators, not a correctness primitive.
func (o *Orchestrator) ForceClear() bool {
	cleared := o.flight.forceClear(time.Hour)
	if cleared {
		o.log.Warn().Msg("stuck run flag force-cleared")
	}
	return cleared
}

// IsRunning reports whether a run currently holds the flag.
func (o *Orchestrator) IsRunning() bool {
	return o.flight.isRunning()
}

// RunAll executes one reconciliation per configuration file matching the
// glob. A failed configuration is logged and the remaining files still
// run.
func (o *Orchestrator) RunAll(ctx context.Context, flags Flags) {
	paths, err := filepath.Glob(o.configGlob)
	if err != nil {
		o.log.Error().Err(err).Str("glob", o.configGlob).Msg("invalid config file glob")
		return
	}
	if len(paths) == 0 {
		o.log.Error().Str("glob", o.configGlob).Msg("no configuration files matched")
		return
	}

	for _, path := range paths {
		if err := o.runConfig(ctx, path, flags); err != nil {
			o.metrics.RunsTotal.WithLabelValues("error").Inc()
			o.log.Error().Err(err).Str("config", path).Msg("run failed for configuration file")
		}
	}
}

// runConfig is the per-configuration-file run driver: load config, connect,
// snapshot, evaluators in fixed order, reaper, stats.
func (o *Orchestrator) runConfig(ctx context.Context, path string, flags Flags) error {
	started := time.Now()
	log := o.log.With().Str("config", filepath.Base(path)).Logger()

	cfg, err := config.Load(path)
	if err != nil {
		return err
	}

	notifier := notifications.NewService(cfg, log)
	notifier.Notify(ctx, notifications.KindRunStart, notifications.Event{
		Function: "run_start",
		Title:    "Run started",
		Body:     fmt.Sprintf("reconciling %s (dry-run: %v)", filepath.Base(path), flags.DryRun),
		Fields:   map[string]any{"config": filepath.Base(path), "dry_run": flags.DryRun},
	})

	o.metrics.DryRun.Set(boolGauge(flags.DryRun))

	client, err := o.connect(ctx, cfg.Qbt, flags.SkipQbVersionCheck, log)
	if err != nil {
		notifier.Notify(ctx, notifications.KindError, notifications.Event{
			Function: "run_error",
			Title:    "Client connection failed",
			Body:     err.Error(),
		})
		return fmt.Errorf("connecting to client: %w", err)
	}

	translator := translatorFor(cfg)
	fs := fsadapter.New(translator, log)
	bin := recyclebin.New(fs, client, cfg, flags.DryRun, log)
	resolver := inventory.NewResolver(cfg, flags.DryRun, log)

	inv, err := inventory.NewBuilder(client, cfg, flags.DryRun, log).Build(ctx)
	if err != nil {
		return fmt.Errorf("building inventory: %w", err)
	}

	deps := evaluators.Deps{
		Client:   client,
		FS:       fs,
		Bin:      bin,
		Notifier: notifier,
		Metrics:  o.metrics,
		Resolver: resolver,
		Inv:      inv,
		Cfg:      cfg,
		Log:      log,
		DryRun:   flags.DryRun,
	}

	summary := make(map[string]evaluators.Stats)
	runStep := func(name string, enabled bool, fn func() (evaluators.Stats, error)) {
		if !enabled {
			return
		}
		stats, err := fn()
		if err != nil {
			log.Error().Err(err).Str("evaluator", name).Msg("evaluator failed")
		}
		if len(stats) > 0 {
			summary[name] = stats
		}
	}

	// Fixed evaluator order: recheck, categorize, tag,
	// tracker-error/unregistered, no-hardlinks, share-limits, cross-seed,
	// orphans, recycle-reaper.
	runStep("recheck", flags.Recheck, func() (evaluators.Stats, error) { return recheck.Run(ctx, deps) })
	runStep("categorize", flags.CatUpdate, func() (evaluators.Stats, error) { return categorize.Run(ctx, deps) })
	runStep("tagging", flags.TagUpdate, func() (evaluators.Stats, error) { return tagging.Run(ctx, deps) })
	runStep("trackerissues", flags.RemUnregistered || flags.TagTrackerError, func() (evaluators.Stats, error) {
		return trackerissues.Run(ctx, deps, trackerissues.Opts{
			RemoveUnregistered: flags.RemUnregistered,
			TagTrackerError:    flags.TagTrackerError,
			Prober:             trackerissues.NewBHDProber(cfg.BHD.APIKey.Value(), log),
		})
	})
	runStep("nohardlinks", flags.TagNoHardlinks, func() (evaluators.Stats, error) { return nohardlinks.Run(ctx, deps) })
	runStep("sharelimits", flags.ShareLimits, func() (evaluators.Stats, error) { return sharelimits.Run(ctx, deps) })
	runStep("crossseed", flags.CrossSeed, func() (evaluators.Stats, error) { return crossseed.Run(ctx, deps) })
	runStep("orphans", flags.RemOrphaned, func() (evaluators.Stats, error) { return orphans.Run(ctx, deps) })

	if !flags.SkipCleanup {
		reaped := bin.Reap(time.Now(), savePaths(cfg))
		if reaped > 0 {
			s := evaluators.Stats{"reaped": reaped}
			summary["recyclebin"] = s
		}
	}

	notifier.Flush(ctx)

	elapsed := time.Since(started)
	o.metrics.RunDuration.Observe(elapsed.Seconds())
	o.metrics.RunsTotal.WithLabelValues("ok").Inc()
	o.metrics.LastRunTimestamp.SetToCurrentTime()

	total := 0
	for _, stats := range summary {
		total += stats.Total()
	}
	log.Info().
		Str("duration", humanize.RelTime(started, time.Now(), "", "")).
		Int("mutations", total).
		Bool("dryRun", flags.DryRun).
		Msg("run complete")

	notifier.Notify(ctx, notifications.KindRunEnd, notifications.Event{
		Function: "run_end",
		Title:    "Run complete",
		Body:     fmt.Sprintf("%s: %d mutations in %s", filepath.Base(path), total, elapsed.Round(time.Second)),
		Fields:   runEndFields(summary, elapsed, flags.DryRun),
	})
	return nil
}

func translatorFor(cfg *domain.Config) pathutil.Translator {
	remote := cfg.Directory.RemoteDir
	if remote == "" {
		remote = cfg.Directory.RootDir
	}
	return pathutil.Translator{LocalRoot: cfg.Directory.RootDir, RemoteRoot: remote}
}

func savePaths(cfg *domain.Config) []string {
	out := make([]string, 0, len(cfg.Cat))
	for savePath := range cfg.Cat {
		out = append(out, savePath)
	}
	return out
}

func runEndFields(summary map[string]evaluators.Stats, elapsed time.Duration, dryRun bool) map[string]any {
	fields := map[string]any{
		"duration_seconds": int64(elapsed.Seconds()),
		"dry_run":          dryRun,
	}
	for evaluator, stats := range summary {
		for _, action := range stats.Actions() {
			fields[evaluator+"_"+action] = stats[action]
		}
	}
	return fields
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
