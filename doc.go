// Package kzip implements a directory archive format with content-addressed
// deduplication.
//
// An archive records every file discovered under a root as a catalog entry
// (stored path, timestamps, size, content fingerprint) and keeps each
// distinct content payload exactly once in a content store keyed by its
// SHA-256 fingerprint. Files with identical bytes share a single stored
// blob; every logical entry still carries its own path and timestamps and
// is reconstructed losslessly on extraction.
//
// # Quick Start
//
// Build an archive from a directory:
//
//	path, err := kzip.CreateFile(ctx, "./src", "backup")
//	// path == "backup.kzip"
//
// Open, inspect, and extract:
//
//	a, err := kzip.Open("backup.kzip")
//	if err != nil {
//	    return err
//	}
//	content, err := a.ReadFile("config.json")
//	err = a.CopyDir("./restore", ".", kzip.CopyWithPreserveTimes(true))
//
// [Archive] implements fs.FS, fs.StatFS, fs.ReadFileFS, and fs.ReadDirFS,
// so archives can be inspected with standard library tooling.
//
// # Format
//
// An archive is a single file: a fixed header (magic, format version,
// entry count, blob count), the entry catalog section in discovery order,
// and the content store section in first-insertion order. Both orders are
// fixed by the build, so archiving the same unchanged tree twice produces
// byte-identical output.
package kzip
