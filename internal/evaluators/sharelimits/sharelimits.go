// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package sharelimits assigns every torrent to at most one share-limit
// group, applies the group's limits and tags, enforces the minimum-unmet
// sticky-tag semantics, and handles the limit-reached branch.
package sharelimits

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/autobrr/qbit-reconciler/internal/domain"
	"github.com/autobrr/qbit-reconciler/internal/evaluators"
	"github.com/autobrr/qbit-reconciler/internal/notifications"
	"github.com/autobrr/qbit-reconciler/internal/qbtclient"
)

const name = "sharelimits"

// Sticky tags marking a torrent whose user-defined minimum is not yet met.
// While any of them is present the engine keeps the torrent's share limits
// at "no limit" so the client never pauses it.
const (
	tagMinSeedTimeNotReached    = "MinSeedTimeNotReached"
	tagMinSeedsNotMet           = "MinSeedsNotMet"
	tagLastActiveLimitNotReached = "LastActiveLimitNotReached"
)

var stickyTags = []string{tagMinSeedTimeNotReached, tagMinSeedsNotMet, tagLastActiveLimitNotReached}

func Run(ctx context.Context, d evaluators.Deps) (evaluators.Stats, error) {
	stats := evaluators.Stats{}
	log := d.Log.With().Str("evaluator", name).Logger()

	groups := d.Cfg.ShareLimits.InPriorityOrder()
	if len(groups) == 0 {
		return stats, nil
	}

	globals, err := d.Client.GlobalShareLimits(ctx)
	if err != nil {
		return stats, fmt.Errorf("fetching global share limits: %w", err)
	}

	assignments := assign(d, groups)
	allGroupTags := groupTags(d.Cfg.Settings.ShareLimitsTag, groups)

	for _, g := range groups {
		members := assignments[g.Name]
		if len(members) == 0 {
			continue
		}
		uploadSpeedKiB := effectiveUploadSpeed(g, len(members))
		for _, t := range members {
			applyGroup(ctx, d, stats, log, t, g, uploadSpeedKiB, globals, allGroupTags)
		}
	}
	return stats, nil
}

// assign maps each torrent to the first group (by priority) whose
// predicates all match. Unmatched torrents stay ungrouped.
func assign(d evaluators.Deps, groups []domain.ShareLimitGroup) map[string][]domain.Torrent {
	out := make(map[string][]domain.Torrent, len(groups))
	for _, t := range d.Inv.All {
		if d.Cfg.Settings.ShareLimitsFilterCompleted && t.Progress < 1 {
			continue
		}
		for _, g := range groups {
			if matches(t, g) {
				out[g.Name] = append(out[g.Name], t)
				break
			}
		}
	}
	return out
}

func matches(t domain.Torrent, g domain.ShareLimitGroup) bool {
	for _, tag := range g.IncludeAllTags {
		if !t.HasTag(tag) {
			return false
		}
	}
	if len(g.IncludeAnyTags) > 0 && !hasAnyTag(t, g.IncludeAnyTags) {
		return false
	}
	if len(g.ExcludeAllTags) > 0 && hasAllTags(t, g.ExcludeAllTags) {
		return false
	}
	if len(g.ExcludeAnyTags) > 0 && hasAnyTag(t, g.ExcludeAnyTags) {
		return false
	}
	if len(g.Categories) > 0 && !containsString(g.Categories, t.Category) {
		return false
	}
	if g.MinTorrentSize > 0 && t.SizeBytes < g.MinTorrentSize {
		return false
	}
	if g.MaxTorrentSize > 0 && t.SizeBytes > g.MaxTorrentSize {
		return false
	}
	return true
}

// effectiveUploadSpeed divides the group's configured speed across its
// members when enable_group_upload_speed is set, ceiling to an integer.
func effectiveUploadSpeed(g domain.ShareLimitGroup, memberCount int) int {
	speed := g.LimitUploadSpeed
	if speed <= 0 {
		return -1
	}
	if g.EnableGroupUploadSpeed && memberCount > 0 {
		return int(math.Ceil(float64(speed) / float64(memberCount)))
	}
	return speed
}

// GroupTag is the tag identifying a group on its members: custom_tag
// verbatim when set, else "<share-limits-tag>_<priority>.<name>".
func GroupTag(shareLimitsTag string, g domain.ShareLimitGroup) string {
	if g.CustomTag != "" {
		return g.CustomTag
	}
	return fmt.Sprintf("%s_%d.%s", shareLimitsTag, g.Priority, g.Name)
}

func groupTags(shareLimitsTag string, groups []domain.ShareLimitGroup) []string {
	out := make([]string, 0, len(groups))
	for _, g := range groups {
		out = append(out, GroupTag(shareLimitsTag, g))
	}
	return out
}

func applyGroup(ctx context.Context, d evaluators.Deps, stats evaluators.Stats, log zerolog.Logger,
	t domain.Torrent, g domain.ShareLimitGroup, uploadSpeedKiB int,
	globals qbtclient.GlobalShareLimits, allGroupTags []string,
) {
	retag(ctx, d, stats, log, t, g, allGroupTags)

	if unmetTag := unmetMinimum(t, g, time.Now()); unmetTag != "" {
		holdForMinimum(ctx, d, stats, log, t, g, unmetTag)
		return
	}
	releaseStickyTags(ctx, d, stats, log, t)

	applyLimits(ctx, d, stats, log, t, g, uploadSpeedKiB)

	// Limits may have just changed; the reached predicate is evaluated on
	// post-mutation state, so re-fetch by hash rather than trusting the
	// snapshot.
	current := t
	if !d.DryRun {
		fetched, ok, err := d.Client.GetTorrent(ctx, t.Hash)
		if err != nil {
			log.Warn().Err(err).Str("torrent", t.Name).Msg("failed to re-fetch torrent after applying limits")
			return
		}
		if !ok {
			return
		}
		current = fetched
	}

	if reached(current, g, globals, time.Now()) {
		handleReached(ctx, d, stats, log, current, g)
		return
	}

	if g.ResumeTorrentAfterChange && current.Progress >= 1 {
		d.Record(stats, name, "resume")
		if !d.DryRun {
			if err := d.Client.Resume(ctx, []string{t.Hash}); err != nil {
				log.Warn().Err(err).Str("torrent", t.Name).Msg("failed to resume torrent after share-limit change")
			}
		}
	}
}

// retag strips any other group's tag (global-form or custom) and applies
// this group's tag when add_group_to_tag is set.
func retag(ctx context.Context, d evaluators.Deps, stats evaluators.Stats, log zerolog.Logger,
	t domain.Torrent, g domain.ShareLimitGroup, allGroupTags []string,
) {
	ownTag := GroupTag(d.Cfg.Settings.ShareLimitsTag, g)

	var stale []string
	for _, tag := range allGroupTags {
		if tag != ownTag && t.HasTag(tag) {
			stale = append(stale, tag)
		}
	}
	if len(stale) > 0 {
		d.Record(stats, name, "strip_group_tag")
		if !d.DryRun {
			if err := d.Client.RemoveTags(ctx, []string{t.Hash}, stale); err != nil {
				log.Warn().Err(err).Str("torrent", t.Name).Msg("failed to strip stale group tags")
			}
		}
	}

	if g.AddGroupToTag && !t.HasTag(ownTag) {
		log.Info().Str("torrent", t.Name).Str("tag", ownTag).Bool("dryRun", d.DryRun).Msg("tagging share-limit group")
		d.Record(stats, name, "add_group_tag")
		if !d.DryRun {
			if err := d.Client.AddTags(ctx, []string{t.Hash}, []string{ownTag}); err != nil {
				log.Warn().Err(err).Str("torrent", t.Name).Msg("failed to add group tag")
			}
		}
	}
}

// unmetMinimum returns the sticky tag for the first unmet minimum, or ""
// when all minimums are satisfied. A minimum of 0 is always satisfied.
func unmetMinimum(t domain.Torrent, g domain.ShareLimitGroup, now time.Time) string {
	if g.MinSeedingTime > 0 && t.SeedingTimeSeconds < int64(g.MinSeedingTime)*60 {
		return tagMinSeedTimeNotReached
	}
	if g.MinNumSeeds > 0 && t.NumComplete < g.MinNumSeeds {
		return tagMinSeedsNotMet
	}
	if g.MinLastActive > 0 && t.LastActivityAge(now) < time.Duration(g.MinLastActive)*time.Minute {
		return tagLastActiveLimitNotReached
	}
	return ""
}

// holdForMinimum tags the torrent sticky and lifts its share limits so the
// client keeps seeding until the minimum is met. Share limits that would
// let the client pause the torrent are never applied while the sticky tag
// is present.
func holdForMinimum(ctx context.Context, d evaluators.Deps, stats evaluators.Stats, log zerolog.Logger,
	t domain.Torrent, g domain.ShareLimitGroup, unmetTag string,
) {
	if !t.HasTag(unmetTag) {
		log.Info().Str("torrent", t.Name).Str("tag", unmetTag).Bool("dryRun", d.DryRun).
			Msg("minimum not met, holding share limits open")
		d.Record(stats, name, "tag_min_unmet")
		if !d.DryRun {
			if err := d.Client.AddTags(ctx, []string{t.Hash}, []string{unmetTag}); err != nil {
				log.Warn().Err(err).Str("torrent", t.Name).Msg("failed to add sticky minimum tag")
			}
		}
	}

	needsLift := t.RatioLimit.Kind != domain.LimitUnlimited || t.SeedingTimeLimit.Kind != domain.LimitUnlimited
	if needsLift {
		d.Record(stats, name, "lift_limits")
		if !d.DryRun {
			if err := d.Client.SetShareLimits(ctx, []string{t.Hash}, -1, -1, -1); err != nil {
				log.Warn().Err(err).Str("torrent", t.Name).Msg("failed to lift share limits")
			}
		}
	}

	if g.ResetUploadSpeedOnUnmetMinimums && t.UploadLimitBytesPerSec > 0 {
		d.Record(stats, name, "reset_upload_limit")
		if !d.DryRun {
			if err := d.Client.SetUploadLimit(ctx, []string{t.Hash}, -1); err != nil {
				log.Warn().Err(err).Str("torrent", t.Name).Msg("failed to reset upload limit")
			}
		}
	}
}

func releaseStickyTags(ctx context.Context, d evaluators.Deps, stats evaluators.Stats, log zerolog.Logger, t domain.Torrent) {
	var present []string
	for _, tag := range stickyTags {
		if t.HasTag(tag) {
			present = append(present, tag)
		}
	}
	if len(present) == 0 {
		return
	}
	log.Info().Str("torrent", t.Name).Strs("tags", present).Bool("dryRun", d.DryRun).
		Msg("minimum met, releasing sticky tags")
	d.Record(stats, name, "untag_min_unmet")
	if !d.DryRun {
		if err := d.Client.RemoveTags(ctx, []string{t.Hash}, present); err != nil {
			log.Warn().Err(err).Str("torrent", t.Name).Msg("failed to remove sticky tags")
		}
	}
}

// applyLimits sets the group's ratio/seed-time/upload limits when they
// differ from the torrent's current ones.
func applyLimits(ctx context.Context, d evaluators.Deps, stats evaluators.Stats, log zerolog.Logger,
	t domain.Torrent, g domain.ShareLimitGroup, uploadSpeedKiB int,
) {
	wantRatio := domain.LimitFromSentinel(g.MaxRatio)
	wantSeed := domain.LimitFromSentinel(g.MaxSeedingTime)

	if t.RatioLimit != wantRatio || t.SeedingTimeLimit != wantSeed {
		log.Info().Str("torrent", t.Name).
			Float64("ratioLimit", wantRatio.Sentinel()).
			Float64("seedTimeLimit", wantSeed.Sentinel()).
			Bool("dryRun", d.DryRun).Msg("applying share limits")
		d.Record(stats, name, "set_share_limits")
		if !d.DryRun {
			if err := d.Client.SetShareLimits(ctx, []string{t.Hash}, wantRatio.Sentinel(), wantSeed.Sentinel(), -1); err != nil {
				log.Warn().Err(err).Str("torrent", t.Name).Msg("failed to set share limits")
			}
		}
	}

	wantUpload := int64(-1)
	if uploadSpeedKiB > 0 {
		wantUpload = int64(uploadSpeedKiB) * 1024
	}
	if t.UploadLimitBytesPerSec != wantUpload && (wantUpload > 0 || t.UploadLimitBytesPerSec > 0) {
		d.Record(stats, name, "set_upload_limit")
		if !d.DryRun {
			if err := d.Client.SetUploadLimit(ctx, []string{t.Hash}, wantUpload); err != nil {
				log.Warn().Err(err).Str("torrent", t.Name).Msg("failed to set upload limit")
			}
		}
	}
}

// reached implements the has-reached-seed-limit predicate, including the
// global-sentinel branches: a group limit of -2 compares against the
// client's global limit iff that global is enabled.
func reached(t domain.Torrent, g domain.ShareLimitGroup, globals qbtclient.GlobalShareLimits, now time.Time) bool {
	if ratio, enforced := domain.LimitFromSentinel(g.MaxRatio).Resolve(globals.RatioEnabled, globals.Ratio); enforced && t.Ratio >= ratio {
		return true
	}
	if minutes, enforced := domain.LimitFromSentinel(g.MaxSeedingTime).Resolve(globals.SeedTimeEnabled, float64(globals.SeedTimeMinutes)); enforced && float64(t.SeedingTimeSeconds) >= minutes*60 {
		return true
	}
	if g.MaxLastActive >= 0 && t.LastActivityAge(now) >= time.Duration(g.MaxLastActive)*time.Minute {
		return true
	}
	return false
}

// handleReached runs the limit-reached branch: cleanup groups delete
// through the recycle bin; otherwise share limits are cleared first — so
// the client cannot re-pause the torrent mid-update — and the configured
// throttle is applied in place of a pause.
func handleReached(ctx context.Context, d evaluators.Deps, stats evaluators.Stats, log zerolog.Logger,
	t domain.Torrent, g domain.ShareLimitGroup,
) {
	if g.Cleanup {
		deleteContents := !siblingHealthy(d.Inv, t)
		log.Info().Str("torrent", t.Name).Bool("deleteContents", deleteContents).Bool("dryRun", d.DryRun).
			Msg("share limit reached, cleaning up")
		d.Record(stats, name, "cleanup")
		d.Notifier.Queue(notifications.Event{
			Function: "share_limits",
			Title:    "Share limit reached, deleted",
			Body:     t.Name,
			Fields:   map[string]any{"torrent_name": t.Name, "group": g.Name, "delete_contents": deleteContents},
		}, g.Name)
		if err := d.Bin.Recycle(ctx, t, deleteContents); err != nil {
			log.Warn().Err(err).Str("torrent", t.Name).Msg("failed to clean up torrent")
		}
		return
	}

	log.Info().Str("torrent", t.Name).Str("group", g.Name).Bool("dryRun", d.DryRun).
		Msg("share limit reached, throttling instead of pausing")
	d.Record(stats, name, "limit_reached")
	if !d.DryRun {
		if err := d.Client.SetShareLimits(ctx, []string{t.Hash}, -1, -1, -1); err != nil {
			log.Warn().Err(err).Str("torrent", t.Name).Msg("failed to clear share limits")
		}
	}
	if g.UploadSpeedOnLimitReached > 0 {
		d.Record(stats, name, "throttle")
		if !d.DryRun {
			if err := d.Client.SetUploadLimit(ctx, []string{t.Hash}, int64(g.UploadSpeedOnLimitReached)*1024); err != nil {
				log.Warn().Err(err).Str("torrent", t.Name).Msg("failed to throttle upload speed")
			}
		}
	}
}

// siblingHealthy mirrors the unregistered-removal decision: contents stay
// on disk while any same-named sibling still has a working tracker.
func siblingHealthy(inv *domain.Inventory, t domain.Torrent) bool {
	agg, ok := inv.ByName[t.Name]
	if !ok {
		return false
	}
	for _, entry := range agg.Entries {
		if entry.Hash == t.Hash {
			continue
		}
		for _, tr := range entry.Trackers {
			if tr.Status == domain.TrackerStatusWorking {
				return true
			}
		}
	}
	return false
}

func hasAnyTag(t domain.Torrent, tags []string) bool {
	for _, tag := range tags {
		if t.HasTag(tag) {
			return true
		}
	}
	return false
}

func hasAllTags(t domain.Torrent, tags []string) bool {
	for _, tag := range tags {
		if !t.HasTag(tag) {
			return false
		}
	}
	return len(tags) > 0
}

func containsString(xs []string, s string) bool {
	for _, x := range xs {
		if x == s {
			return true
		}
	}
	return false
}
