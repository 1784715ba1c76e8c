// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package errs defines the error kinds the Client adapter's classifier
// routes calls into. Kinds are sentinel errors checked
// with errors.Is, wrapped with fmt.Errorf at each call site.
package errs

import "errors"

var (
	// ErrAuthFailed is fatal: abort the run.
	ErrAuthFailed = errors.New("client authentication failed")
	// ErrConnectionLost is retried up to N times before becoming fatal.
	ErrConnectionLost = errors.New("client connection lost")
	// ErrNotFound is expected and typed; callers propagate a "missing" result.
	ErrNotFound = errors.New("resource not found")
	// ErrConflict is typed; e.g. unknown category triggers create-then-retry.
	ErrConflict = errors.New("conflicting state")
	// ErrTransient covers 5xx-class failures; retried.
	ErrTransient = errors.New("transient failure")
	// ErrPermanent covers 4xx-class failures other than 404/409; the
	// operation fails but the run continues.
	ErrPermanent = errors.New("permanent failure")
	// ErrUnsupportedVersion is fatal: the client's API version predates a
	// required feature.
	ErrUnsupportedVersion = errors.New("unsupported client version")
	// ErrThresholdExceeded signals an evaluator refusing to act because a
	// configured safety bound was exceeded (e.g. orphan count).
	ErrThresholdExceeded = errors.New("threshold exceeded")
	// ErrConfigInvalid is fatal for the affected configuration file only.
	ErrConfigInvalid = errors.New("configuration invalid")
)
