// Package pathutil provides path manipulation for slash-separated archive
// paths, including stored-path derivation from filesystem traversal paths.
package pathutil

import (
	"fmt"
	"io/fs"
	"path"
	"path/filepath"
	"strings"
)

// Normalize converts a traversal-supplied path to stored-path form:
// forward slashes, no empty or "." segments, no leading or trailing
// slashes. The result is not guaranteed to satisfy fs.ValidPath; callers
// reject paths that still carry ".." segments.
func Normalize(p string) string {
	p = strings.Trim(filepath.ToSlash(p), "/")
	if p == "" {
		return "."
	}
	return path.Clean(p)
}

// StoredPath derives the archive-relative stored path for raw, a path
// reported by a traversal rooted at root. Both arguments may be absolute
// or relative (including ".." prefixes); the result is slash-separated,
// relative to root, and free of parent-directory segments, so re-rooting
// the archive anywhere yields a valid filesystem path. A raw equal to the
// root itself yields its base name.
func StoredPath(root, raw string) (string, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}
	absRaw, err := filepath.Abs(raw)
	if err != nil {
		return "", err
	}
	if absRoot == absRaw {
		return filepath.Base(absRaw), nil
	}

	rel, err := filepath.Rel(absRoot, absRaw)
	if err != nil {
		return "", err
	}
	rel = filepath.ToSlash(rel)
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("path escapes traversal root: %s", raw)
	}
	if !fs.ValidPath(rel) {
		return "", fmt.Errorf("invalid stored path: %s", rel)
	}
	return rel, nil
}

// Base returns the last element of a slash-separated path.
// If path is empty or ".", it returns ".".
func Base(p string) string {
	if p == "" || p == "." {
		return "."
	}
	p = strings.TrimSuffix(p, "/")
	if i := strings.LastIndex(p, "/"); i >= 0 {
		return p[i+1:]
	}
	return p
}

// DirPrefix converts a path to its directory prefix form.
// For ".", returns "" (empty prefix matches all).
// For other paths, appends "/" to match children.
func DirPrefix(name string) string {
	if name == "." {
		return ""
	}
	return name + "/"
}

// Child extracts the immediate child name from a full path given a prefix.
// It reports whether the child is a subdirectory (the path has further
// components below the prefix). Behavior is undefined when path does not
// start with prefix.
func Child(p, prefix string) (name string, isSubDir bool) {
	rel := strings.TrimPrefix(p, prefix)
	if i := strings.Index(rel, "/"); i >= 0 {
		return rel[:i], true
	}
	return rel, false
}
