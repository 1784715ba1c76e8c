// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package fsadapter is the Filesystem adapter: directory
// walk, hardlink counting, move/delete/copy with recycle semantics,
// empty-directory pruning, size accounting, and local/remote path
// translation.
package fsadapter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/autobrr/qbit-reconciler/pkg/fsutil"
	"github.com/autobrr/qbit-reconciler/pkg/hardlink"
	"github.com/autobrr/qbit-reconciler/pkg/pathutil"
)

// PoolSize bounds the I/O worker pool at max(4, 2*CPU).
func PoolSize() int {
	n := runtime.NumCPU() * 2
	if n < 4 {
		return 4
	}
	return n
}

// Adapter is the Filesystem adapter.
type Adapter struct {
	Translator pathutil.Translator
	log        zerolog.Logger
	poolSize   int
}

func New(translator pathutil.Translator, log zerolog.Logger) *Adapter {
	return &Adapter{
		Translator: translator,
		log:        log.With().Str("component", "fsadapter").Logger(),
		poolSize:   PoolSize(),
	}
}

// Walk enumerates every regular file under root (already a remote path),
// skipping any directory whose basename appears in skipDirs. The paths are
// collected into a slice and returned once the whole walk has completed;
// nothing is yielded while the walk is in progress.
// Ordering is not guaranteed; this sequential implementation happens to
// preserve filepath.WalkDir's natural order, but callers must not depend
// on it.
func (a *Adapter) Walk(ctx context.Context, root string, skipDirs map[string]bool) ([]string, error) {
	var out []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			if errors.Is(err, os.ErrNotExist) || errors.Is(err, os.ErrPermission) {
				a.log.Warn().Err(err).Str("path", path).Msg("skipping unreadable path")
				return nil
			}
			return err
		}
		if d.IsDir() {
			if skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		out = append(out, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", root, err)
	}
	return out, nil
}

// HardlinkCount returns the link count for path. A single file returns its
// own link count. A directory is scanned recursively: the scan stops at the
// first file whose link count is >= 2 and returns that count; when no file
// has >= 2 links it returns the minimum link count over all files.
func (a *Adapter) HardlinkCount(path string) (int, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", path, err)
	}
	if !info.IsDir() {
		_, links, err := hardlink.GetFileID(info, path)
		if err != nil {
			return 0, fmt.Errorf("reading link count for %s: %w", path, err)
		}
		return int(links), nil
	}

	min := -1
	err = filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		fi, ferr := d.Info()
		if ferr != nil {
			return ferr
		}
		_, links, ferr := hardlink.GetFileID(fi, p)
		if ferr != nil {
			return ferr
		}
		n := int(links)
		if n >= 2 {
			min = n
			return errStopWalk
		}
		if min == -1 || n < min {
			min = n
		}
		return nil
	})
	if err != nil && !errors.Is(err, errStopWalk) {
		return 0, fmt.Errorf("scanning hardlinks under %s: %w", path, err)
	}
	if min == -1 {
		return 1, nil
	}
	return min, nil
}

var errStopWalk = errors.New("fsadapter: hardlink scan short-circuit")

// Move relocates src to dst, creating dst's parent directory as needed. If
// overwrite is false and dst exists, Move fails. A missing src is
// non-fatal and falls back to a delete attempt.
func (a *Adapter) Move(src, dst string, overwrite bool) error {
	if _, err := os.Stat(src); errors.Is(err, os.ErrNotExist) {
		a.log.Warn().Str("src", src).Msg("move source missing, attempting delete instead")
		return a.Delete(dst)
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("creating destination directory for %s: %w", dst, err)
	}

	if !overwrite {
		if _, err := os.Stat(dst); err == nil {
			return fmt.Errorf("move destination exists and overwrite is false: %s", dst)
		}
	}

	if same, serr := fsutil.SameFilesystem(src, filepath.Dir(dst)); serr == nil && !same {
		return a.crossDeviceMove(src, dst)
	}

	if err := os.Rename(src, dst); err != nil {
		var linkErr *os.LinkError
		if errors.As(err, &linkErr) && linkErr.Err == syscall.EXDEV {
			return a.crossDeviceMove(src, dst)
		}
		return fmt.Errorf("moving %s to %s: %w", src, dst, err)
	}
	return nil
}

func (a *Adapter) crossDeviceMove(src, dst string) error {
	if err := a.Copy(src, dst); err != nil {
		return fmt.Errorf("cross-device move (copy phase) %s to %s: %w", src, dst, err)
	}
	if err := os.Remove(src); err != nil {
		a.log.Warn().Err(err).Str("path", src).Msg("failed to remove source after cross-device move")
	}
	return nil
}

// Delete removes path. A missing path is non-fatal; a permission error is
// logged and treated as non-fatal.
func (a *Adapter) Delete(path string) error {
	if err := os.RemoveAll(path); err != nil {
		if errors.Is(err, os.ErrPermission) {
			a.log.Warn().Err(err).Str("path", path).Msg("permission denied deleting path")
			return nil
		}
		return fmt.Errorf("deleting %s: %w", path, err)
	}
	return nil
}

// Copy duplicates src to dst, preserving directory structure for directory
// sources.
func (a *Adapter) Copy(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("stat %s: %w", src, err)
	}
	if info.IsDir() {
		return a.copyDir(src, dst)
	}
	return a.copyFile(src, dst, info)
}

func (a *Adapter) copyDir(src, dst string) error {
	return filepath.WalkDir(src, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, relErr := filepath.Rel(src, p)
		if relErr != nil {
			return relErr
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		info, infoErr := d.Info()
		if infoErr != nil {
			return infoErr
		}
		return a.copyFile(p, target, info)
	})
}

func (a *Adapter) copyFile(src, dst string, info os.FileInfo) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("creating destination directory for %s: %w", dst, err)
	}
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, info.Mode())
	if err != nil {
		return fmt.Errorf("creating %s: %w", dst, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("copying %s to %s: %w", src, dst, err)
	}
	return out.Close()
}

// RemoveEmptyDirs recursively removes directories under root that become
// empty, refusing to descend into or delete any path under protectedPaths
// or matching any glob in excludeGlobs.
func (a *Adapter) RemoveEmptyDirs(root string, protectedPaths []string, excludeGlobs []string) error {
	_, err := a.pruneDir(root, root, protectedPaths, excludeGlobs)
	return err
}

func (a *Adapter) pruneDir(dir, root string, protectedPaths []string, excludeGlobs []string) (empty bool, err error) {
	if dir != root && isProtected(dir, protectedPaths, excludeGlobs) {
		return false, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return true, nil
		}
		return false, fmt.Errorf("reading directory %s: %w", dir, err)
	}

	allChildrenEmpty := true
	for _, e := range entries {
		full := filepath.Join(dir, e.Name())
		if !e.IsDir() {
			allChildrenEmpty = false
			continue
		}
		childEmpty, err := a.pruneDir(full, root, protectedPaths, excludeGlobs)
		if err != nil {
			return false, err
		}
		if !childEmpty {
			allChildrenEmpty = false
		}
	}

	if allChildrenEmpty && dir != root {
		if err := os.Remove(dir); err != nil && !errors.Is(err, os.ErrNotExist) {
			return false, fmt.Errorf("removing empty directory %s: %w", dir, err)
		}
		return true, nil
	}
	return allChildrenEmpty && dir == root, nil
}

func isProtected(dir string, protectedPaths []string, excludeGlobs []string) bool {
	for _, p := range protectedPaths {
		if dir == p {
			return true
		}
	}
	for _, g := range excludeGlobs {
		if ok, _ := filepath.Match(g, dir); ok {
			return true
		}
		if ok, _ := filepath.Match(g, filepath.Base(dir)); ok {
			return true
		}
	}
	return false
}

// DiskFree returns the bytes free on the filesystem containing path.
func (a *Adapter) DiskFree(path string) (int64, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return 0, fmt.Errorf("statfs %s: %w", path, err)
	}
	return int64(stat.Bavail) * int64(stat.Bsize), nil
}

// SizeOf returns the total size in bytes of path (a file, or the recursive
// sum for a directory).
func (a *Adapter) SizeOf(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", path, err)
	}
	if !info.IsDir() {
		return info.Size(), nil
	}

	var total int64
	err = filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		fi, ferr := d.Info()
		if ferr != nil {
			return ferr
		}
		total += fi.Size()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("summing size under %s: %w", path, err)
	}
	return total, nil
}

// ParallelForEach runs fn over items using the bounded worker pool
//, collecting the first error.
func ParallelForEach[T any](items []T, fn func(T) error) error {
	poolSize := PoolSize()
	if poolSize > len(items) {
		poolSize = len(items)
	}
	if poolSize == 0 {
		return nil
	}

	sem := make(chan struct{}, poolSize)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	for _, item := range items {
		wg.Add(1)
		sem <- struct{}{}
		go func(item T) {
			defer wg.Done()
			defer func() { <-sem }()
			if err := fn(item); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
		}(item)
	}
	wg.Wait()
	return firstErr
}
