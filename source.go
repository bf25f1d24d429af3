package kzip

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"time"

	"github.com/meigma/kzip/internal/pathutil"
)

// SourceFile describes one file yielded by a traversal: its stored-path
// candidate, origin-reported timestamps and size, and a way to open its
// content for reading.
type SourceFile struct {
	// Path is the archive-relative path for the file. The builder
	// normalizes and validates it before cataloging.
	Path string

	// CreatedAt and ModifiedAt are the origin-reported timestamps.
	CreatedAt  time.Time
	ModifiedAt time.Time

	// Size is the reported content length, or -1 when unknown. The
	// builder uses it only to presize buffers; the recorded size is the
	// byte count actually read.
	Size int64

	// Open returns a reader for the file content. It is called at most
	// once per build pass.
	Open func() (io.ReadCloser, error)
}

// A Source yields a lazy, finite sequence of files for the archive builder.
//
// The sequence must be restartable: Files may be called more than once per
// Source and must yield the same files in the same order each time, which
// is what makes repeated builds of an unchanged tree byte-identical.
type Source interface {
	Files(ctx context.Context) iter.Seq2[*SourceFile, error]
}

// DirSource traverses a directory tree (or a single regular file) rooted
// at a filesystem path.
//
// Files are yielded in lexical walk order with slash-separated paths
// relative to the root. Symbolic links are never followed and never
// archived; non-regular files are skipped. Traversal cannot escape the
// root: it runs inside an os.Root.
type DirSource struct {
	root string
}

// Interface compliance.
var _ Source = (*DirSource)(nil)

// NewDirSource returns a Source traversing the tree rooted at root.
// If root names a regular file, the source yields that single file under
// its base name.
func NewDirSource(root string) *DirSource {
	return &DirSource{root: root}
}

// Files implements Source.
func (s *DirSource) Files(ctx context.Context) iter.Seq2[*SourceFile, error] {
	return func(yield func(*SourceFile, error) bool) {
		info, err := os.Lstat(s.root)
		if err != nil {
			yield(nil, err)
			return
		}
		if info.Mode().IsRegular() {
			s.yieldSingleFile(info, yield)
			return
		}
		if !info.IsDir() {
			yield(nil, fmt.Errorf("kzip: unsupported root %s: not a regular file or directory", s.root))
			return
		}
		s.walk(ctx, yield)
	}
}

// yieldSingleFile handles a root that is itself a regular file: it
// normalizes to just its base name.
func (s *DirSource) yieldSingleFile(info fs.FileInfo, yield func(*SourceFile, error) bool) {
	stored, err := pathutil.StoredPath(s.root, s.root)
	if err != nil {
		yield(nil, err)
		return
	}
	path := s.root
	yield(&SourceFile{
		Path:       stored,
		CreatedAt:  createTime(info),
		ModifiedAt: info.ModTime(),
		Size:       info.Size(),
		Open: func() (io.ReadCloser, error) {
			return os.Open(path)
		},
	}, nil)
}

func (s *DirSource) walk(ctx context.Context, yield func(*SourceFile, error) bool) {
	root, err := os.OpenRoot(s.root)
	if err != nil {
		yield(nil, err)
		return
	}
	defer root.Close()

	walkErr := fs.WalkDir(root.FS(), ".", func(path string, d fs.DirEntry, werr error) error {
		if werr != nil {
			return werr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || !d.Type().IsRegular() {
			// Symlinks and other special files are not archived.
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		sf := &SourceFile{
			Path:       path,
			CreatedAt:  createTime(info),
			ModifiedAt: info.ModTime(),
			Size:       info.Size(),
			// Open holds its own root handle: concurrent builds may call it
			// after the walk's root has been closed.
			Open: func() (io.ReadCloser, error) {
				return openInRoot(s.root, path)
			},
		}
		if !yield(sf, nil) {
			return fs.SkipAll
		}
		return nil
	})
	if walkErr != nil && !errors.Is(walkErr, fs.SkipAll) {
		yield(nil, walkErr)
	}
}

// openInRoot opens the file at the slash-separated path inside dir without
// following symlinks out of it. The returned closer releases both the file
// and its confining root.
func openInRoot(dir, path string) (io.ReadCloser, error) {
	root, err := os.OpenRoot(dir)
	if err != nil {
		return nil, err
	}
	f, err := root.Open(filepath.FromSlash(path))
	if err != nil {
		root.Close()
		return nil, err
	}
	return &rootFile{File: f, root: root}, nil
}

type rootFile struct {
	*os.File
	root *os.Root
}

func (f *rootFile) Close() error {
	err := f.File.Close()
	if cerr := f.root.Close(); err == nil {
		err = cerr
	}
	return err
}

// createTime returns the creation timestamp for info. File birth time is
// not portably available through fs.FileInfo, so the modification time
// stands in; traversal layers with richer metadata can implement Source
// directly and supply the real value.
func createTime(info fs.FileInfo) time.Time {
	return info.ModTime()
}
