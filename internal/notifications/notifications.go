// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package notifications implements the fan-out: per-operation
// events and per-run summaries formatted and dispatched to configured sinks.
// Sink failures are logged and never propagate.
package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/nicholas-fedor/shoutrrr/pkg/router"
	"github.com/nicholas-fedor/shoutrrr/pkg/types"
	"github.com/rs/zerolog"

	"github.com/autobrr/qbit-reconciler/internal/domain"
	"github.com/autobrr/qbit-reconciler/pkg/redact"
)

// Event kinds that route independently of a function name.
const (
	KindError    = "error"
	KindRunStart = "run_start"
	KindRunEnd   = "run_end"
)

// Event is the wire envelope: {function, title, body, ...fields}.
type Event struct {
	Function string         `json:"function"`
	Title    string         `json:"title"`
	Body     string         `json:"body"`
	Fields   map[string]any `json:"-"`
}

// MarshalJSON flattens Fields into the envelope so generic webhook sinks
// receive one level of keys.
func (e Event) MarshalJSON() ([]byte, error) {
	flat := make(map[string]any, len(e.Fields)+3)
	for k, v := range e.Fields {
		flat[k] = v
	}
	flat["function"] = e.Function
	flat["title"] = e.Title
	flat["body"] = e.Body
	return json.Marshal(flat)
}

// Notifier is what evaluators and the orchestrator depend on.
type Notifier interface {
	Notify(ctx context.Context, kind string, event Event)
	// Queue buffers a per-function event under a grouping key; Flush
	// dispatches queued events, collapsing any function whose event count
	// exceeds the grouping threshold into one grouped event per key.
	Queue(event Event, groupKey string)
	Flush(ctx context.Context)
}

// Service fans events out to the configured sinks.
type Service struct {
	webhooks  domain.WebhooksSection
	notifiarr *notifiarrSink
	apprise   *appriseSink
	client    *http.Client
	log       zerolog.Logger

	mu     sync.Mutex
	queued map[string][]queuedEvent // function -> events
}

type queuedEvent struct {
	event Event
	key   string
}

func NewService(cfg *domain.Config, log zerolog.Logger) *Service {
	s := &Service{
		webhooks: cfg.Webhooks,
		client:   &http.Client{Timeout: 30 * time.Second},
		log:      log.With().Str("component", "notifications").Logger(),
		queued:   make(map[string][]queuedEvent),
	}
	if key := cfg.Notifiarr.APIKey.Value(); key != "" {
		s.notifiarr = &notifiarrSink{apiKey: key, channel: cfg.Notifiarr.Channel, client: s.client, log: s.log}
	}
	if len(cfg.Apprise.URLs) > 0 {
		s.apprise = &appriseSink{urls: cfg.Apprise.URLs, log: s.log}
	}
	return s
}

var _ Notifier = (*Service)(nil)

// Notify dispatches one event to every sink configured for kind. A failing
// sink is logged and does not affect the others.
func (s *Service) Notify(ctx context.Context, kind string, event Event) {
	if s == nil {
		return
	}
	for _, sink := range s.sinksFor(kind) {
		switch sink {
		case "notifiarr":
			if s.notifiarr != nil {
				s.notifiarr.send(ctx, event)
			}
		case "apprise":
			if s.apprise != nil {
				s.apprise.send(ctx, event)
			}
		default:
			s.postWebhook(ctx, sink, event)
		}
	}
}

func (s *Service) sinksFor(kind string) []string {
	if s.webhooks.URLsByEventKind == nil {
		return nil
	}
	return s.webhooks.URLsByEventKind[kind]
}

// Queue buffers an event for threshold-based grouping.
func (s *Service) Queue(event Event, groupKey string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queued[event.Function] = append(s.queued[event.Function], queuedEvent{event: event, key: groupKey})
}

// Flush dispatches queued per-function events. When a function accumulated
// more events than the configured grouping threshold, events sharing a
// grouping key (category, tag, or group name) are collapsed into one event
// so sinks are not flooded.
func (s *Service) Flush(ctx context.Context) {
	if s == nil {
		return
	}
	s.mu.Lock()
	queued := s.queued
	s.queued = make(map[string][]queuedEvent)
	s.mu.Unlock()

	threshold := s.webhooks.GroupThreshold
	if threshold <= 0 {
		threshold = 10
	}

	for function, events := range queued {
		if len(events) <= threshold {
			for _, qe := range events {
				s.Notify(ctx, function, qe.event)
			}
			continue
		}
		for key, group := range groupByKey(events) {
			first := group[0].event
			grouped := Event{
				Function: function,
				Title:    first.Title,
				Body:     fmt.Sprintf("%d torrents: %s", len(group), key),
				Fields: map[string]any{
					"grouped_by": key,
					"count":      len(group),
					"torrents":   torrentNames(group),
				},
			}
			s.Notify(ctx, function, grouped)
		}
	}
}

func groupByKey(events []queuedEvent) map[string][]queuedEvent {
	out := make(map[string][]queuedEvent)
	for _, qe := range events {
		out[qe.key] = append(out[qe.key], qe)
	}
	return out
}

func torrentNames(events []queuedEvent) []string {
	names := make([]string, 0, len(events))
	for _, qe := range events {
		if name, ok := qe.event.Fields["torrent_name"].(string); ok {
			names = append(names, name)
		}
	}
	return names
}

func (s *Service) postWebhook(ctx context.Context, url string, event Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to serialize webhook payload")
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		s.log.Error().Err(err).Str("sink", url).Msg("failed to build webhook request")
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		s.log.Warn().Err(redact.URLError(err)).Str("sink", url).Msg("webhook dispatch failed")
		return
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		s.log.Warn().Int("status", resp.StatusCode).Str("sink", url).Msg("webhook sink returned non-2xx")
	}
}

// appriseSink dispatches through shoutrrr's multi-transport router, the
// Apprise-style {urls, body, title} model.
type appriseSink struct {
	urls []string
	log  zerolog.Logger
}

func (a *appriseSink) send(_ context.Context, event Event) {
	params := types.Params{}
	if event.Title != "" {
		params.SetTitle(event.Title)
	}
	for _, u := range a.urls {
		sender, err := router.New(nil, u)
		if err != nil {
			a.log.Warn().Err(err).Msg("invalid apprise-style sink URL")
			continue
		}
		for _, sendErr := range sender.Send(event.Body, &params) {
			if sendErr != nil {
				a.log.Warn().Err(sendErr).Msg("apprise-style sink dispatch failed")
			}
		}
	}
}
