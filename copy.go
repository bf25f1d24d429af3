package kzip

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"
)

// CopyOption configures CopyTo and CopyDir operations.
type CopyOption func(*copyConfig)

type copyConfig struct {
	overwrite     bool
	preserveTimes bool
	workers       int
}

// CopyWithOverwrite allows overwriting existing files.
// By default, existing files are skipped.
func CopyWithOverwrite(overwrite bool) CopyOption {
	return func(c *copyConfig) {
		c.overwrite = overwrite
	}
}

// CopyWithPreserveTimes restores file modification times from the archive.
// By default, extracted files carry the current time.
func CopyWithPreserveTimes(preserve bool) CopyOption {
	return func(c *copyConfig) {
		c.preserveTimes = preserve
	}
}

// CopyWithWorkers sets the number of goroutines writing files.
// Values <= 1 extract serially.
func CopyWithWorkers(n int) CopyOption {
	return func(c *copyConfig) {
		c.workers = n
	}
}

// CopyTo extracts specific files to a destination directory.
//
// Files are written atomically using temp files and renames.
// Parent directories are created as needed.
//
// By default:
//   - Existing files are skipped (use CopyWithOverwrite to overwrite)
//   - Modification times are not preserved (use CopyWithPreserveTimes)
func (a *Archive) CopyTo(destDir string, paths []string, opts ...CopyOption) error {
	if len(paths) == 0 {
		return nil
	}

	cfg := copyConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	entries := make([]Entry, 0, len(paths))
	for _, path := range paths {
		if !fs.ValidPath(path) {
			return &fs.PathError{Op: "copy", Path: path, Err: fs.ErrInvalid}
		}
		e, ok := a.catalog.Lookup(path)
		if !ok {
			return &fs.PathError{Op: "copy", Path: path, Err: fs.ErrNotExist}
		}
		entries = append(entries, e)
	}
	return a.copyEntries(destDir, entries, &cfg)
}

// CopyDir extracts all files under a directory prefix to a destination.
//
// If prefix is "" or ".", all files in the archive are extracted.
// Atomicity, overwrite, and time handling match CopyTo.
func (a *Archive) CopyDir(destDir, prefix string, opts ...CopyOption) error {
	cfg := copyConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	var dirPrefix string
	switch prefix {
	case "", ".":
		dirPrefix = ""
	default:
		if !fs.ValidPath(prefix) {
			return &fs.PathError{Op: "copy", Path: prefix, Err: fs.ErrInvalid}
		}
		dirPrefix = prefix + "/"
	}

	var entries []Entry //nolint:prealloc // size unknown until iteration
	for e := range a.entriesWithPrefix(dirPrefix) {
		entries = append(entries, e)
	}
	return a.copyEntries(destDir, entries, &cfg)
}

func (a *Archive) copyEntries(destDir string, entries []Entry, cfg *copyConfig) error {
	if len(entries) == 0 {
		return nil
	}

	if cfg.workers <= 1 {
		for _, e := range entries {
			if err := a.copyEntry(destDir, e, cfg); err != nil {
				return err
			}
		}
		return nil
	}

	var g errgroup.Group
	g.SetLimit(cfg.workers)
	for _, e := range entries {
		g.Go(func() error {
			return a.copyEntry(destDir, e, cfg)
		})
	}
	return g.Wait()
}

func (a *Archive) copyEntry(destDir string, e Entry, cfg *copyConfig) error {
	b, ok := a.store.Lookup(e.Fingerprint)
	if !ok {
		return &fs.PathError{Op: "copy", Path: e.Path, Err: fs.ErrNotExist}
	}

	dest := filepath.Join(destDir, filepath.FromSlash(e.Path))
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("creating directories for %s: %w", e.Path, err)
	}

	if !cfg.overwrite {
		if _, err := os.Lstat(dest); err == nil {
			a.log().Debug("skipping existing file", "path", e.Path)
			return nil
		}
	}

	return copyBlobAtomic(dest, b.Bytes(), e, cfg)
}

// copyBlobAtomic writes content to dest via a temp file and rename so a
// failed extraction never leaves a partially written file at the final path.
func copyBlobAtomic(dest string, content []byte, e Entry, cfg *copyConfig) error {
	dir := filepath.Dir(dest)
	tmp, err := os.CreateTemp(dir, ".kzip-")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	success := false
	defer func() {
		if !success {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(content); err != nil {
		return fmt.Errorf("writing content: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}

	if cfg.preserveTimes {
		if err := os.Chtimes(tmpPath, e.ModifiedAt, e.ModifiedAt); err != nil {
			return fmt.Errorf("setting times: %w", err)
		}
	}

	// On Windows, os.Rename fails if the destination exists. Remove it
	// first when overwrite is enabled; refuse to replace a directory.
	if cfg.overwrite {
		if info, err := os.Stat(dest); err == nil && info.IsDir() {
			return &fs.PathError{Op: "copy", Path: dest, Err: errors.New("is a directory")}
		}
		_ = os.Remove(dest) // rename will fail if removal was needed but failed
	}

	if err := os.Rename(tmpPath, dest); err != nil {
		return fmt.Errorf("renaming to destination: %w", err)
	}
	success = true
	return nil
}
