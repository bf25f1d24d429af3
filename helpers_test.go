package kzip

import (
	"bytes"
	"context"
	"io"
	"iter"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// writeTestFiles materializes a path → content map under dir.
func writeTestFiles(t *testing.T, dir string, files map[string][]byte) {
	t.Helper()
	for path, content := range files {
		full := filepath.Join(dir, filepath.FromSlash(path))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, content, 0o644))
	}
}

// buildTestArchive builds an in-memory archive from a file map.
func buildTestArchive(t *testing.T, files map[string][]byte, opts ...CreateOption) *Archive {
	t.Helper()
	dir := t.TempDir()
	writeTestFiles(t, dir, files)
	a, err := Build(context.Background(), NewDirSource(dir), opts...)
	require.NoError(t, err)
	return a
}

// roundTrip serializes an archive and parses it back.
func roundTrip(t *testing.T, a *Archive) *Archive {
	t.Helper()
	var buf bytes.Buffer
	_, err := a.WriteTo(&buf)
	require.NoError(t, err)
	got, err := Read(&buf)
	require.NoError(t, err)
	return got
}

// sliceSource is a Source over in-memory files, used to exercise the
// builder with traversal sequences a real directory walk cannot produce.
type sliceSource struct {
	files []*SourceFile
}

func newSliceSource(files ...*SourceFile) *sliceSource {
	return &sliceSource{files: files}
}

func (s *sliceSource) Files(_ context.Context) iter.Seq2[*SourceFile, error] {
	return func(yield func(*SourceFile, error) bool) {
		for _, f := range s.files {
			if !yield(f, nil) {
				return
			}
		}
	}
}

func memFile(path string, content []byte) *SourceFile {
	return &SourceFile{
		Path:       path,
		CreatedAt:  time.Unix(1700000000, 0),
		ModifiedAt: time.Unix(1700000100, 0),
		Size:       int64(len(content)),
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(content)), nil
		},
	}
}

// collectPaths drains an entry iterator into a path slice.
func collectPaths(a *Archive) []string {
	var paths []string
	for e := range a.Entries() {
		paths = append(paths, e.Path)
	}
	return paths
}
