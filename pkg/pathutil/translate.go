// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package pathutil

import "strings"

// Translator converts between the *local* root (seen by the qBittorrent
// client) and the *remote* root (seen by this engine, e.g. a mounted
// volume) by purely textual prefix substitution — the first exact prefix
// match wins.
type Translator struct {
	LocalRoot  string
	RemoteRoot string
}

// ToRemote rewrites a client-facing (local) path to the path this engine
// should use for filesystem operations.
func (t Translator) ToRemote(localPath string) string {
	return rewritePrefix(localPath, t.LocalRoot, t.RemoteRoot)
}

// ToLocal rewrites a remote (engine-facing) path back to the client-facing
// form, the inverse of ToRemote.
func (t Translator) ToLocal(remotePath string) string {
	return rewritePrefix(remotePath, t.RemoteRoot, t.LocalRoot)
}

func rewritePrefix(p, from, to string) string {
	if from == "" || to == "" || from == to {
		return p
	}
	if strings.HasPrefix(p, from) {
		return to + strings.TrimPrefix(p, from)
	}
	return p
}
