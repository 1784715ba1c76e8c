// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package buildinfo exposes version/commit/date build metadata, set via
// -ldflags at link time. Used for --version, as the notification instance
// name, and in the User-Agent sent to the client and notification sinks.
package buildinfo

import (
	"encoding/json"
	"fmt"
	"runtime"
)

var (
	Version = "dev"
	Commit  = ""
	Date    = ""
)

// UserAgent identifies this engine to the qBittorrent Web API and to
// notification sinks.
var UserAgent string

func init() {
	UserAgent = fmt.Sprintf("qbit-reconciler/%s (%s; %s)", Version, runtime.GOOS, runtime.GOARCH)
}

// String renders the three build fields, one per line, for --version.
func String() string {
	return fmt.Sprintf("Version: %s\nCommit: %s\nBuild date: %s\n", Version, Commit, Date)
}

type info struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Date    string `json:"date"`
}

// JSON renders the three build fields as a JSON object.
func JSON() ([]byte, error) {
	return json.Marshal(info{Version: Version, Commit: Commit, Date: Date})
}
