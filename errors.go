package kzip

import "errors"

// Sentinel errors.
var (
	// ErrPathCollision is returned when two discovered files normalize to
	// the same stored path. A collision fails the whole build; silently
	// overwriting an entry would corrupt the catalog invariant.
	ErrPathCollision = errors.New("kzip: stored path collision")

	// ErrFingerprintCollision is returned when content verification finds
	// two payloads with different bytes but the same fingerprint.
	ErrFingerprintCollision = errors.New("kzip: fingerprint collision")

	// ErrFormat is returned when an archive is malformed, truncated, or
	// carries a format version this package does not understand.
	ErrFormat = errors.New("kzip: invalid archive")

	// ErrTooManyFiles is returned when the file count exceeds the configured limit.
	ErrTooManyFiles = errors.New("kzip: too many files")

	// ErrSizeOverflow is returned when byte counts exceed supported limits.
	ErrSizeOverflow = errors.New("kzip: size overflow")
)
