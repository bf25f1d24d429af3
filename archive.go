package kzip

import (
	"bytes"
	"io"
	"io/fs"
	"iter"
	"log/slog"
	"math"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/opencontainers/go-digest"

	"github.com/meigma/kzip/internal/pathutil"
)

// Archive is the in-memory aggregate of an entry catalog and a content
// store, either assembled by Build or parsed by Read. The archive owns
// both collections; blobs are shared by reference across every entry that
// fingerprints them.
//
// Archive implements fs.FS, fs.StatFS, fs.ReadFileFS, and fs.ReadDirFS.
// Directories are synthesized from stored paths; the format does not
// record them explicitly.
type Archive struct {
	version uint16
	catalog *Catalog
	store   *ContentStore
	sorted  []int // catalog indices ordered by stored path
	logger  *slog.Logger
}

// Interface compliance.
var (
	_ fs.FS         = (*Archive)(nil)
	_ fs.StatFS     = (*Archive)(nil)
	_ fs.ReadFileFS = (*Archive)(nil)
	_ fs.ReadDirFS  = (*Archive)(nil)
	_ io.WriterTo   = (*Archive)(nil)
)

func newArchive(version uint16, catalog *Catalog, store *ContentStore, logger *slog.Logger) *Archive {
	a := &Archive{
		version: version,
		catalog: catalog,
		store:   store,
		sorted:  make([]int, catalog.Len()),
		logger:  logger,
	}
	for i := range a.sorted {
		a.sorted[i] = i
	}
	slices.SortFunc(a.sorted, func(i, j int) int {
		return strings.Compare(catalog.entries[i].Path, catalog.entries[j].Path)
	})
	return a
}

// log returns the logger, falling back to a discard logger if nil.
func (a *Archive) log() *slog.Logger {
	if a.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return a.logger
}

// Version returns the archive format version.
func (a *Archive) Version() uint16 {
	return a.version
}

// Len returns the number of catalog entries.
func (a *Archive) Len() int {
	return a.catalog.Len()
}

// BlobCount returns the number of distinct content blobs.
func (a *Archive) BlobCount() int {
	return a.store.Len()
}

// Entries returns an iterator over catalog entries in discovery order,
// the order used for both listing and serialization. Listing touches only
// the catalog, never blob storage.
func (a *Archive) Entries() iter.Seq[Entry] {
	return a.catalog.Entries()
}

// Entry returns the catalog entry for the given stored path.
func (a *Archive) Entry(path string) (Entry, bool) {
	return a.catalog.Lookup(path)
}

// Blob returns the content blob for the given fingerprint.
func (a *Archive) Blob(fingerprint digest.Digest) (*Blob, bool) {
	return a.store.Lookup(fingerprint)
}

// Blobs returns an iterator over content blobs in first-insertion order.
func (a *Archive) Blobs() iter.Seq[*Blob] {
	return a.store.Blobs()
}

// Extract resolves the entry's content reference and returns a copy of the
// content bytes.
func (a *Archive) Extract(e Entry) ([]byte, error) {
	b, ok := a.store.Lookup(e.Fingerprint)
	if !ok {
		return nil, &fs.PathError{Op: "extract", Path: e.Path, Err: fs.ErrNotExist}
	}
	return bytes.Clone(b.Bytes()), nil
}

// Stats summarizes an archive's catalog and content store.
type Stats struct {
	// FileCount is the number of logical entries; BlobCount the number of
	// distinct content payloads actually stored.
	FileCount int
	BlobCount int

	// LogicalSize is the sum of all entry sizes. StoredSize is the sum of
	// distinct blob sizes; duplicated content counts once.
	LogicalSize uint64
	StoredSize  uint64
}

// Deduplicated returns the bytes saved by content deduplication.
func (s Stats) Deduplicated() uint64 {
	return s.LogicalSize - s.StoredSize
}

// Stats computes summary statistics from the catalog and content store.
func (a *Archive) Stats() Stats {
	st := Stats{
		FileCount:  a.catalog.Len(),
		BlobCount:  a.store.Len(),
		StoredSize: a.store.TotalSize(),
	}
	for e := range a.catalog.Entries() {
		st.LogicalSize += e.Size
	}
	return st
}

// Open implements fs.FS.
//
// Open returns an fs.File reading the named file's content from its
// content blob. The returned file also supports io.ReaderAt and io.Seeker.
func (a *Archive) Open(name string) (fs.File, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrInvalid}
	}

	if e, ok := a.catalog.Lookup(name); ok {
		b, ok := a.store.Lookup(e.Fingerprint)
		if !ok {
			return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
		}
		info, err := newFileInfo(e, pathutil.Base(name))
		if err != nil {
			return nil, &fs.PathError{Op: "open", Path: name, Err: err}
		}
		return &archiveFile{Reader: bytes.NewReader(b.Bytes()), info: info}, nil
	}

	if a.isDir(name) {
		return &openDir{a: a, name: name}, nil
	}

	return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
}

// Stat implements fs.StatFS.
//
// Stat returns file info for the named file without touching blob storage.
// For directories (paths that are prefixes of other entries), Stat returns
// synthetic directory info.
func (a *Archive) Stat(name string) (fs.FileInfo, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: fs.ErrInvalid}
	}

	if e, ok := a.catalog.Lookup(name); ok {
		info, err := newFileInfo(e, pathutil.Base(name))
		if err != nil {
			return nil, &fs.PathError{Op: "stat", Path: name, Err: err}
		}
		return info, nil
	}

	if a.isDir(name) {
		return newDirInfo(pathutil.Base(name)), nil
	}

	return nil, &fs.PathError{Op: "stat", Path: name, Err: fs.ErrNotExist}
}

// ReadFile implements fs.ReadFileFS.
//
// ReadFile resolves the named entry's content reference and returns a copy
// of the content bytes.
func (a *Archive) ReadFile(name string) ([]byte, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "readfile", Path: name, Err: fs.ErrInvalid}
	}
	e, ok := a.catalog.Lookup(name)
	if !ok {
		return nil, &fs.PathError{Op: "readfile", Path: name, Err: fs.ErrNotExist}
	}
	return a.Extract(e)
}

// ReadDir implements fs.ReadDirFS.
//
// ReadDir returns directory entries for the named directory, sorted by
// name. Subdirectories are synthesized from stored paths.
func (a *Archive) ReadDir(name string) ([]fs.DirEntry, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: fs.ErrInvalid}
	}

	it := newDirIter(a, pathutil.DirPrefix(name))
	defer it.Close()

	entries := make([]fs.DirEntry, 0)
	for {
		entry, ok := it.Next()
		if !ok {
			break
		}
		entries = append(entries, entry)
	}

	if len(entries) == 0 && name != "." {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: fs.ErrNotExist}
	}
	return entries, nil
}

// entriesWithPrefix iterates entries whose stored path starts with prefix,
// in path-sorted order.
func (a *Archive) entriesWithPrefix(prefix string) iter.Seq[Entry] {
	return func(yield func(Entry) bool) {
		start := sort.Search(len(a.sorted), func(i int) bool {
			return a.catalog.entries[a.sorted[i]].Path >= prefix
		})
		for _, idx := range a.sorted[start:] {
			e := a.catalog.entries[idx]
			if !strings.HasPrefix(e.Path, prefix) {
				return
			}
			if !yield(e) {
				return
			}
		}
	}
}

// isDir checks if name is a directory (has entries under it).
func (a *Archive) isDir(name string) bool {
	if name == "." {
		return a.catalog.Len() > 0
	}
	for range a.entriesWithPrefix(name + "/") {
		return true
	}
	return false
}

// archiveFile implements fs.File over a content blob. The bytes.Reader
// additionally provides io.ReaderAt and io.Seeker.
type archiveFile struct {
	*bytes.Reader
	info *fileInfo
}

func (f *archiveFile) Stat() (fs.FileInfo, error) { return f.info, nil }
func (f *archiveFile) Close() error               { return nil }

// openDir implements fs.File and fs.ReadDirFile for synthetic directories.
type openDir struct {
	a    *Archive
	name string
	iter *dirIter
}

func (d *openDir) Read(_ []byte) (int, error) {
	return 0, &fs.PathError{Op: "read", Path: d.name, Err: fs.ErrInvalid}
}

func (d *openDir) Stat() (fs.FileInfo, error) {
	return newDirInfo(pathutil.Base(d.name)), nil
}

func (d *openDir) Close() error {
	if d.iter != nil {
		d.iter.Close()
		d.iter = nil
	}
	return nil
}

func (d *openDir) ReadDir(n int) ([]fs.DirEntry, error) {
	if d.iter == nil {
		d.iter = newDirIter(d.a, pathutil.DirPrefix(d.name))
	}

	if n <= 0 {
		entries := make([]fs.DirEntry, 0)
		for {
			entry, ok := d.iter.Next()
			if !ok {
				return entries, nil
			}
			entries = append(entries, entry)
		}
	}

	entries := make([]fs.DirEntry, 0, n)
	for len(entries) < n {
		entry, ok := d.iter.Next()
		if !ok {
			if len(entries) == 0 {
				return nil, io.EOF
			}
			return entries, nil
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// dirIter iterates over a directory's entries, synthesizing
// subdirectories. Children are materialized up front because stored-path
// order is not child-name order: '.' sorts before '/', so a file "b.txt"
// precedes a sibling directory "b/" in the path-sorted index while
// fs.ReadDirFS requires "b" before "b.txt".
type dirIter struct {
	entries []fs.DirEntry
	pos     int
}

func newDirIter(a *Archive, prefix string) *dirIter {
	var entries []fs.DirEntry
	seen := make(map[string]struct{})
	for e := range a.entriesWithPrefix(prefix) {
		childName, isSubDir := pathutil.Child(e.Path, prefix)
		if _, ok := seen[childName]; ok {
			continue
		}
		seen[childName] = struct{}{}

		if isSubDir {
			entries = append(entries, newDirEntry(newDirInfo(childName), nil))
			continue
		}
		info, err := newFileInfo(e, childName)
		if err != nil {
			info = &fileInfo{name: childName}
		}
		entries = append(entries, newDirEntry(info, err))
	}
	slices.SortFunc(entries, func(a, b fs.DirEntry) int {
		return strings.Compare(a.Name(), b.Name())
	})
	return &dirIter{entries: entries}
}

// Next returns the next directory entry in name order.
func (it *dirIter) Next() (fs.DirEntry, bool) {
	if it.pos >= len(it.entries) {
		return nil, false
	}
	e := it.entries[it.pos]
	it.pos++
	return e, true
}

// Close releases resources held by the iterator.
func (it *dirIter) Close() {
	it.entries = nil
	it.pos = 0
}

// fileInfo implements fs.FileInfo for catalog entries. The archive does
// not record permission modes; regular entries report 0o644.
type fileInfo struct {
	entry Entry
	name  string
	size  int64
}

func newFileInfo(e Entry, name string) (*fileInfo, error) {
	if e.Size > math.MaxInt64 {
		return nil, ErrSizeOverflow
	}
	return &fileInfo{entry: e, name: name, size: int64(e.Size)}, nil
}

func (fi *fileInfo) Name() string       { return fi.name }
func (fi *fileInfo) Size() int64        { return fi.size }
func (fi *fileInfo) Mode() fs.FileMode  { return 0o644 }
func (fi *fileInfo) ModTime() time.Time { return fi.entry.ModifiedAt }
func (fi *fileInfo) IsDir() bool        { return false }
func (fi *fileInfo) Sys() any           { return nil }

// dirInfo implements fs.FileInfo for synthetic directories.
type dirInfo struct {
	name string
}

func newDirInfo(name string) *dirInfo {
	return &dirInfo{name: name}
}

func (di *dirInfo) Name() string       { return di.name }
func (di *dirInfo) Size() int64        { return 0 }
func (di *dirInfo) Mode() fs.FileMode  { return fs.ModeDir | 0o755 }
func (di *dirInfo) ModTime() time.Time { return time.Time{} }
func (di *dirInfo) IsDir() bool        { return true }
func (di *dirInfo) Sys() any           { return nil }

// dirEntry implements fs.DirEntry by wrapping fs.FileInfo.
type dirEntry struct {
	info    fs.FileInfo
	infoErr error
}

func newDirEntry(info fs.FileInfo, err error) *dirEntry {
	return &dirEntry{info: info, infoErr: err}
}

func (de *dirEntry) Name() string               { return de.info.Name() }
func (de *dirEntry) IsDir() bool                { return de.info.IsDir() }
func (de *dirEntry) Type() fs.FileMode          { return de.info.Mode().Type() }
func (de *dirEntry) Info() (fs.FileInfo, error) { return de.info, de.infoErr }
