// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/autobrr/qbit-reconciler/internal/buildinfo"
	"github.com/autobrr/qbit-reconciler/pkg/redact"
)

const notifiarrEndpoint = "https://notifiarr.com/api/v1/notification/qbitManage/%s"

// notifiarrPayload is the shaped envelope the hosted sink expects, wrapping
// the event with the client identity fields.
type notifiarrPayload struct {
	Function   string         `json:"function"`
	Title      string         `json:"title"`
	Body       string         `json:"body"`
	QbitClient string         `json:"qbit_client"`
	Instance   string         `json:"instance"`
	Channel    string         `json:"channel,omitempty"`
	Fields     map[string]any `json:"fields,omitempty"`
}

type notifiarrResponse struct {
	Result  string `json:"result"`
	Details struct {
		Response string `json:"response"`
	} `json:"details"`
}

type notifiarrSink struct {
	apiKey   string
	channel  string
	endpoint string // URL template with a %s for the API key
	client   *http.Client
	log      zerolog.Logger
}

// send posts the shaped payload. The API key is interpolated into the URL
// and never logged. A non-2xx whose body says the trigger is not enabled is
// a warning, not an error.
func (n *notifiarrSink) send(ctx context.Context, event Event) {
	payload := notifiarrPayload{
		Function:   event.Function,
		Title:      event.Title,
		Body:       event.Body,
		QbitClient: "qbit-reconciler",
		Instance:   buildinfo.Version,
		Channel:    n.channel,
		Fields:     event.Fields,
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		n.log.Error().Err(err).Msg("failed to serialize notifiarr payload")
		return
	}

	endpoint := n.endpoint
	if endpoint == "" {
		endpoint = notifiarrEndpoint
	}
	url := fmt.Sprintf(endpoint, n.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(encoded))
	if err != nil {
		n.log.Error().Err(err).Msg("failed to build notifiarr request")
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", buildinfo.UserAgent)

	resp, err := n.client.Do(req)
	if err != nil {
		n.log.Warn().Err(redactKey(redact.URLError(err), n.apiKey)).Msg("notifiarr dispatch failed")
		return
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var decoded notifiarrResponse
	_ = json.Unmarshal(body, &decoded)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if strings.EqualFold(decoded.Result, "success") {
			return
		}
		n.log.Warn().Str("result", decoded.Result).Msg("notifiarr accepted the request but did not report success")
		return
	}

	if strings.Contains(strings.ToLower(string(body)), "trigger is not enabled") ||
		strings.Contains(strings.ToLower(string(body)), "trigger not enabled") {
		n.log.Warn().Str("function", event.Function).Msg("notifiarr trigger not enabled for this event")
		return
	}
	n.log.Warn().Int("status", resp.StatusCode).Msg("notifiarr sink returned non-2xx")
}

// redactKey strips the API key from error text before it reaches a log line.
func redactKey(err error, key string) error {
	if err == nil || key == "" {
		return err
	}
	msg := strings.ReplaceAll(err.Error(), key, "REDACTED")
	return fmt.Errorf("%s", msg)
}
