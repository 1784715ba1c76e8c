// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package hardlink exposes a platform file-identity primitive
// (device+inode on Unix, volume+file-index on Windows) used by the
// filesystem adapter's no-hardlinks predicate:
// a torrent "has no hardlinks" iff every file under its content path has
// link-count <= 1.
package hardlink

import "os"

func isSymlink(fi os.FileInfo) bool {
	return fi.Mode()&os.ModeSymlink != 0
}
