package kzip

import (
	"time"

	"github.com/opencontainers/go-digest"
)

// Entry represents one logical file in the archive.
//
// Entries are immutable once appended to a catalog. Many entries may
// reference the same content blob through Fingerprint.
type Entry struct {
	// Path is the stored path: traversal-root-relative, slash-separated,
	// free of parent-directory segments. Unique within an archive.
	Path string

	// CreatedAt and ModifiedAt are origin-reported timestamps, recorded
	// with second precision. The precision is fixed by the format; values
	// round-trip bit-exact through serialization.
	CreatedAt  time.Time
	ModifiedAt time.Time

	// Size is the byte length of the file content. It duplicates the
	// referenced blob's size so the catalog can be listed without
	// touching blob storage.
	Size uint64

	// Fingerprint identifies the content blob holding this file's bytes.
	Fingerprint digest.Digest
}
