// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package redact strips sensitive query parameters from errors before they
// reach logs, covering the hosted-notification sink's key-in-URL scheme and
// any other outbound HTTP call that carries a credential in its URL.
package redact

import (
	"errors"
	"net/url"
)

var sensitiveParams = []string{"apikey", "api_key", "token", "passkey", "password", "secret"}

// URLError returns err with any *url.Error's query parameters that look like
// credentials replaced with "REDACTED". Non-url.Error values (including
// wrapped ones that do not unwrap to a *url.Error) are returned unchanged.
// nil is returned unchanged.
func URLError(err error) error {
	if err == nil {
		return nil
	}

	var urlErr *url.Error
	if !errors.As(err, &urlErr) {
		return err
	}

	redacted := *urlErr
	redacted.URL = redactURL(urlErr.URL)
	return &redacted
}

func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}

	q := u.Query()
	changed := false
	for _, key := range sensitiveParams {
		if _, ok := q[key]; ok {
			q.Set(key, "REDACTED")
			changed = true
		}
	}
	if !changed {
		return raw
	}
	u.RawQuery = q.Encode()
	return u.String()
}
