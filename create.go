package kzip

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/opencontainers/go-digest"
	"golang.org/x/sync/errgroup"

	"github.com/meigma/kzip/internal/ioutil"
	"github.com/meigma/kzip/internal/pathutil"
)

// DefaultMaxFiles is the default limit used when no MaxFiles option is set.
const DefaultMaxFiles = 200_000

// Ext is the conventional archive file extension. CreateFile appends it
// when the target path lacks it; the core format does not depend on it.
const Ext = ".kzip"

// copyBufSize is the chunk size for the streaming read-hash path.
const copyBufSize = 32 * 1024

// CreateOption configures archive creation.
type CreateOption func(*createConfig)

type createConfig struct {
	maxFiles    int
	verify      bool
	concurrency int
	logger      *slog.Logger
}

// CreateWithMaxFiles limits the number of files included in the archive.
// Zero uses DefaultMaxFiles. Negative means no limit.
func CreateWithMaxFiles(n int) CreateOption {
	return func(c *createConfig) {
		c.maxFiles = n
	}
}

// CreateWithVerifyContent enables a defensive byte compare when two files
// hash to the same fingerprint. Without it, equal fingerprints are trusted
// to mean equal content; with it, a fingerprint collision fails the build
// with ErrFingerprintCollision instead of silently deduplicating
// mismatched payloads.
func CreateWithVerifyContent(verify bool) CreateOption {
	return func(c *createConfig) {
		c.verify = verify
	}
}

// CreateWithConcurrency sets the number of goroutines reading and hashing
// file content. Values <= 1 process files serially. Regardless of
// concurrency, content store inserts and catalog appends happen on a
// single goroutine in discovery order, so parallel builds produce the
// same archive bytes as serial ones.
func CreateWithConcurrency(n int) CreateOption {
	return func(c *createConfig) {
		c.concurrency = n
	}
}

// CreateWithLogger sets a logger for debug events during the build.
// The core emits no logs without one.
func CreateWithLogger(l *slog.Logger) CreateOption {
	return func(c *createConfig) {
		c.logger = l
	}
}

// Build assembles an Archive in memory from the files yielded by src.
//
// For each file, Build normalizes the stored path, streams the content
// through the fingerprint hasher, inserts the payload into the content
// store (a no-op when the fingerprint is already present), and appends a
// catalog entry. Any failure aborts the build: an I/O error, a stored-path
// collision (ErrPathCollision), or the file budget (ErrTooManyFiles).
func Build(ctx context.Context, src Source, opts ...CreateOption) (*Archive, error) {
	cfg := createConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	b := &builder{
		cfg:     cfg,
		catalog: NewCatalog(),
		store:   NewContentStore(StoreWithVerification(cfg.verify)),
	}
	if err := b.run(ctx, src); err != nil {
		return nil, err
	}
	return newArchive(FormatVersion, b.catalog, b.store, cfg.logger), nil
}

// Create builds an archive from the tree rooted at root and serializes it
// to w in one pass. If root names a regular file, the archive contains
// that single file under its base name.
func Create(ctx context.Context, root string, w io.Writer, opts ...CreateOption) error {
	a, err := Build(ctx, NewDirSource(root), opts...)
	if err != nil {
		return err
	}
	_, err = a.WriteTo(w)
	return err
}

// CreateFile builds an archive from the tree rooted at root and writes it
// to outPath, appending the .kzip extension when missing. The archive is
// written through a temp file and renamed into place on success, so a
// failed build never leaves a truncated file that parses as an archive.
// It returns the path actually written.
func CreateFile(ctx context.Context, root, outPath string, opts ...CreateOption) (string, error) {
	if !strings.HasSuffix(outPath, Ext) {
		outPath += Ext
	}

	a, err := Build(ctx, NewDirSource(root), opts...)
	if err != nil {
		return "", err
	}

	if err := writeFileAtomic(outPath, a); err != nil {
		return "", err
	}
	return outPath, nil
}

// writeFileAtomic serializes a to path via a temp file and rename.
func writeFileAtomic(path string, a *Archive) error {
	dir := filepath.Dir(path)
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

	if _, err := a.WriteTo(tmp); err != nil {
		return fmt.Errorf("writing archive: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("renaming to destination: %w", err)
	}
	success = true
	return nil
}

// builder accumulates catalog entries and content blobs for one build
// pass. The store and catalog are explicit state passed through the
// build, never package globals, so builds stay independently testable.
type builder struct {
	cfg     createConfig
	catalog *Catalog
	store   *ContentStore
}

func (b *builder) log() *slog.Logger {
	if b.cfg.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return b.cfg.logger
}

func (b *builder) maxFiles() int {
	if b.cfg.maxFiles == 0 {
		return DefaultMaxFiles
	}
	return b.cfg.maxFiles
}

func (b *builder) run(ctx context.Context, src Source) error {
	if b.cfg.concurrency > 1 {
		return b.runParallel(ctx, src)
	}

	buf := make([]byte, copyBufSize)
	for sf, err := range src.Files(ctx) {
		if err != nil {
			return err
		}
		entry, data, err := b.readFile(ctx, sf, buf)
		if err != nil {
			return err
		}
		if err := b.add(entry, data); err != nil {
			return err
		}
	}
	return nil
}

// runParallel hashes files concurrently while a single collector applies
// results in discovery order. Lookup+insert stays one atomic step on the
// collector goroutine, preserving the no-duplicate-fingerprint invariant
// under any interleaving of hashers.
func (b *builder) runParallel(ctx context.Context, src Source) error {
	type hashed struct {
		seq   int
		entry Entry
		data  []byte
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.cfg.concurrency)
	results := make(chan hashed, b.cfg.concurrency)

	var collectErr error
	done := make(chan struct{})
	go func() {
		defer close(done)
		pending := make(map[int]hashed)
		next := 0
		for h := range results {
			pending[h.seq] = h
			for {
				nh, ok := pending[next]
				if !ok {
					break
				}
				delete(pending, next)
				next++
				if collectErr != nil {
					continue
				}
				if err := b.add(nh.entry, nh.data); err != nil {
					collectErr = err
					cancel()
				}
			}
		}
	}()

	var iterErr error
	seq := 0
	for sf, err := range src.Files(gctx) {
		if err != nil {
			iterErr = err
			break
		}
		if gctx.Err() != nil {
			break
		}
		s := seq
		seq++
		g.Go(func() error {
			buf := make([]byte, copyBufSize)
			entry, data, err := b.readFile(gctx, sf, buf)
			if err != nil {
				return err
			}
			select {
			case results <- hashed{seq: s, entry: entry, data: data}:
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		})
	}

	workErr := g.Wait()
	close(results)
	<-done

	switch {
	case collectErr != nil:
		return collectErr
	case iterErr != nil:
		return iterErr
	default:
		return workErr
	}
}

// readFile normalizes the stored path and streams the file content through
// the fingerprint hasher while staging it in memory. Peak memory per
// concurrent reader is bounded by one file's size.
func (b *builder) readFile(ctx context.Context, sf *SourceFile, buf []byte) (Entry, []byte, error) {
	stored := pathutil.Normalize(sf.Path)
	if stored == "." || !fs.ValidPath(stored) {
		return Entry{}, nil, &fs.PathError{Op: "archive", Path: sf.Path, Err: fs.ErrInvalid}
	}

	rc, err := sf.Open()
	if err != nil {
		return Entry{}, nil, err
	}
	defer rc.Close()

	var staged bytes.Buffer
	if sf.Size > 0 && sf.Size < int64(^uint(0)>>1) {
		staged.Grow(int(sf.Size))
	}

	digester := digest.SHA256.Digester()
	n, err := ioutil.CopyWithContext(ctx, &staged, io.TeeReader(rc, digester.Hash()), buf)
	if err != nil {
		if err == ioutil.ErrOverflow {
			err = ErrSizeOverflow
		}
		return Entry{}, nil, fmt.Errorf("read %s: %w", stored, err)
	}

	return Entry{
		Path:        stored,
		CreatedAt:   truncateToSecond(sf.CreatedAt),
		ModifiedAt:  truncateToSecond(sf.ModifiedAt),
		Size:        n,
		Fingerprint: digester.Digest(),
	}, staged.Bytes(), nil
}

// add applies one hashed file to the store and catalog. Callers serialize
// invocations; see runParallel.
func (b *builder) add(entry Entry, data []byte) error {
	if mf := b.maxFiles(); mf > 0 && b.catalog.Len() >= mf {
		return ErrTooManyFiles
	}
	if _, ok := b.catalog.Lookup(entry.Path); ok {
		return fmt.Errorf("%w: %s", ErrPathCollision, entry.Path)
	}
	_, existed, err := b.store.Insert(entry.Fingerprint, data)
	if err != nil {
		return err
	}
	if err := b.catalog.Append(entry); err != nil {
		return err
	}
	if existed {
		b.log().Debug("deduplicated content", "path", entry.Path, "fingerprint", entry.Fingerprint.String())
	} else {
		b.log().Debug("stored content", "path", entry.Path, "size", entry.Size)
	}
	return nil
}

// truncateToSecond pins a timestamp to the format's second precision so
// in-memory archives compare equal to their serialized round-trip.
func truncateToSecond(t time.Time) time.Time {
	return time.Unix(t.Unix(), 0)
}
