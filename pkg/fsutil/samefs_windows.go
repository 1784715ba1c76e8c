// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

//go:build windows

package fsutil

import (
	"path/filepath"
	"strings"
)

// On Windows, paths on the same volume share a drive letter (or UNC share
// root). Volume serial comparison needs an open handle per path; the drive
// comparison is sufficient for the move/copy decision this backs.
func sameFilesystem(path1, path2 string) (bool, error) {
	v1 := strings.ToLower(filepath.VolumeName(filepath.Clean(path1)))
	v2 := strings.ToLower(filepath.VolumeName(filepath.Clean(path2)))
	return v1 == v2, nil
}
