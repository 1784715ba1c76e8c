// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package qbtclient

import (
	"errors"
	"net"
	"net/http"
	"strings"

	qbt "github.com/autobrr/go-qbittorrent"

	"github.com/autobrr/qbit-reconciler/internal/errs"
)

// classify routes a raw error from the underlying qbt.Client into one of
// the kinds the rest of the engine reasons about. It never panics: an error it cannot recognize is classified
// ErrPermanent so the caller fails the single operation instead of the run.
func classify(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, qbt.ErrUnsupportedVersion) {
		return errs.ErrUnsupportedVersion
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return errs.ErrConnectionLost
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "unauthorized") || strings.Contains(msg, "forbidden") || strings.Contains(msg, "login"):
		return errs.ErrAuthFailed
	case strings.Contains(msg, "not found") || strings.Contains(msg, "404"):
		return errs.ErrNotFound
	case strings.Contains(msg, "conflict") || strings.Contains(msg, "409"):
		return errs.ErrConflict
	case strings.Contains(msg, "connection refused") || strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "eof") || strings.Contains(msg, "timeout"):
		return errs.ErrConnectionLost
	}

	var httpErr interface{ StatusCode() int }
	if errors.As(err, &httpErr) {
		code := httpErr.StatusCode()
		switch {
		case code == http.StatusNotFound:
			return errs.ErrNotFound
		case code == http.StatusConflict:
			return errs.ErrConflict
		case code >= 500:
			return errs.ErrTransient
		case code >= 400:
			return errs.ErrPermanent
		}
	}

	return errs.ErrPermanent
}

// isRetryable reports whether the retry policy applies to a classified
// error. Non-idempotent
// failures classified permanent are never retried.
func isRetryable(classified error) bool {
	return errors.Is(classified, errs.ErrConnectionLost) || errors.Is(classified, errs.ErrTransient)
}
