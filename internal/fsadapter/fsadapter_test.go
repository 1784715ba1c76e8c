// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package fsadapter

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/qbit-reconciler/pkg/pathutil"
)

func newTestAdapter() *Adapter {
	return New(pathutil.Translator{}, zerolog.Nop())
}

func TestPoolSizeHasFloorOfFour(t *testing.T) {
	assert.GreaterOrEqual(t, PoolSize(), 4)
}

func TestWalkSkipsNamedDirectories(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "keep"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".skip"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "keep", "a.txt"), []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".skip", "b.txt"), []byte("b"), 0o644))

	a := newTestAdapter()
	got, err := a.Walk(context.Background(), root, map[string]bool{".skip": true})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, filepath.Join(root, "keep", "a.txt"), got[0])
}

func TestWalkMissingRootIsNotError(t *testing.T) {
	a := newTestAdapter()
	got, err := a.Walk(context.Background(), filepath.Join(t.TempDir(), "missing"), nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestHardlinkCountSingleFile(t *testing.T) {
	root := t.TempDir()
	p := filepath.Join(root, "file.txt")
	require.NoError(t, os.WriteFile(p, []byte("data"), 0o644))

	a := newTestAdapter()
	n, err := a.HardlinkCount(p)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestHardlinkCountDetectsHardlinkedFile(t *testing.T) {
	root := t.TempDir()
	original := filepath.Join(root, "original.txt")
	linked := filepath.Join(root, "linked.txt")
	require.NoError(t, os.WriteFile(original, []byte("data"), 0o644))
	require.NoError(t, os.Link(original, linked))

	a := newTestAdapter()
	n, err := a.HardlinkCount(linked)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestMoveRelocatesFile(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "src.txt")
	dst := filepath.Join(root, "nested", "dst.txt")
	require.NoError(t, os.WriteFile(src, []byte("payload"), 0o644))

	a := newTestAdapter()
	require.NoError(t, a.Move(src, dst, false))

	_, err := os.Stat(src)
	assert.True(t, os.IsNotExist(err))
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))
}

func TestMoveMissingSourceFallsBackToDelete(t *testing.T) {
	root := t.TempDir()
	dst := filepath.Join(root, "dst.txt")
	require.NoError(t, os.WriteFile(dst, []byte("stale"), 0o644))

	a := newTestAdapter()
	err := a.Move(filepath.Join(root, "missing.txt"), dst, true)
	require.NoError(t, err)

	_, statErr := os.Stat(dst)
	assert.True(t, os.IsNotExist(statErr))
}

func TestMoveRefusesOverwriteWhenDisallowed(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "src.txt")
	dst := filepath.Join(root, "dst.txt")
	require.NoError(t, os.WriteFile(src, []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(dst, []byte("b"), 0o644))

	a := newTestAdapter()
	err := a.Move(src, dst, false)
	assert.Error(t, err)
}

func TestDeleteMissingPathIsNotError(t *testing.T) {
	a := newTestAdapter()
	err := a.Delete(filepath.Join(t.TempDir(), "nope"))
	assert.NoError(t, err)
}

func TestCopyFileDuplicatesContent(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "src.txt")
	dst := filepath.Join(root, "copy", "dst.txt")
	require.NoError(t, os.WriteFile(src, []byte("payload"), 0o644))

	a := newTestAdapter()
	require.NoError(t, a.Copy(src, dst))

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))
	_, err = os.Stat(src)
	assert.NoError(t, err)
}

func TestCopyDirPreservesStructure(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "src")
	require.NoError(t, os.MkdirAll(filepath.Join(src, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "sub", "f.txt"), []byte("x"), 0o644))

	dst := filepath.Join(root, "dst")
	a := newTestAdapter()
	require.NoError(t, a.Copy(src, dst))

	data, err := os.ReadFile(filepath.Join(dst, "sub", "f.txt"))
	require.NoError(t, err)
	assert.Equal(t, "x", string(data))
}

func TestRemoveEmptyDirsPrunesNestedEmptyDirs(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "a", "b", "c"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "keep"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "keep", "f.txt"), []byte("x"), 0o644))

	a := newTestAdapter()
	require.NoError(t, a.RemoveEmptyDirs(root, nil, nil))

	_, err := os.Stat(filepath.Join(root, "a"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(root, "keep"))
	assert.NoError(t, err)
}

func TestRemoveEmptyDirsRespectsProtectedPaths(t *testing.T) {
	root := t.TempDir()
	protected := filepath.Join(root, "protected")
	require.NoError(t, os.MkdirAll(protected, 0o755))

	a := newTestAdapter()
	require.NoError(t, a.RemoveEmptyDirs(root, []string{protected}, nil))

	_, err := os.Stat(protected)
	assert.NoError(t, err)
}

func TestSizeOfFileAndDirectory(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("12345"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "sub", "b.txt"), []byte("123"), 0o644))

	a := newTestAdapter()

	fileSize, err := a.SizeOf(filepath.Join(root, "a.txt"))
	require.NoError(t, err)
	assert.EqualValues(t, 5, fileSize)

	dirSize, err := a.SizeOf(root)
	require.NoError(t, err)
	assert.EqualValues(t, 8, dirSize)
}

func TestParallelForEachRunsEveryItem(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}
	var processed atomic.Int32
	err := ParallelForEach(items, func(n int) error {
		_ = n
		processed.Add(1)
		return nil
	})
	assert.NoError(t, err)
	assert.EqualValues(t, 5, processed.Load())
}

func TestParallelForEachPropagatesError(t *testing.T) {
	boom := assert.AnError
	err := ParallelForEach([]int{1, 2, 3}, func(n int) error {
		if n == 2 {
			return boom
		}
		return nil
	})
	assert.ErrorIs(t, err, boom)
}
