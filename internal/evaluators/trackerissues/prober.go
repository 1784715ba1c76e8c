// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package trackerissues

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/autobrr/qbit-reconciler/internal/domain"
)

// bhdProber confirms deregistration against the Beyond-HD API for torrents
// announced there. It is one Prober implementation; the engine consults the
// interface and carries no knowledge of this host.
type bhdProber struct {
	apiKey string
	client *http.Client
	log    zerolog.Logger
}

const (
	bhdHostFragment = "beyond-hd."
	bhdEndpoint     = "https://beyond-hd.me/api/torrents/%s"
)

// NewBHDProber returns nil when no API key is configured, which callers
// treat as "no prober".
func NewBHDProber(apiKey string, log zerolog.Logger) Prober {
	if apiKey == "" {
		return nil
	}
	return &bhdProber{
		apiKey: apiKey,
		client: &http.Client{Timeout: 15 * time.Second},
		log:    log.With().Str("component", "bhd-prober").Logger(),
	}
}

func (p *bhdProber) Confirm(ctx context.Context, t domain.Torrent) (bool, bool) {
	if !p.applies(t) {
		return false, false
	}

	payload, err := json.Marshal(map[string]any{
		"action": "search",
		"search": t.Name,
	})
	if err != nil {
		return false, false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf(bhdEndpoint, p.apiKey), bytes.NewReader(payload))
	if err != nil {
		return false, false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		p.log.Warn().Err(err).Str("torrent", t.Name).Msg("deregistration probe failed, trusting tracker message")
		return false, false
	}
	defer resp.Body.Close()

	var decoded struct {
		TotalResults int `json:"total_results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return false, false
	}
	// Zero results for the exact name means the torrent is gone from the
	// index; any hit means the tracker message was a transient complaint.
	return decoded.TotalResults == 0, true
}

func (p *bhdProber) applies(t domain.Torrent) bool {
	for _, tr := range t.Trackers {
		if strings.Contains(tr.URL, bhdHostFragment) {
			return true
		}
	}
	return false
}
