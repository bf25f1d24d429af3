package kzip

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// drainSource collects every file a source yields, failing on iteration
// errors.
func drainSource(t *testing.T, src Source) []*SourceFile {
	t.Helper()
	var files []*SourceFile
	for sf, err := range src.Files(context.Background()) {
		require.NoError(t, err)
		files = append(files, sf)
	}
	return files
}

func TestDirSourceWalkOrder(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeTestFiles(t, dir, map[string][]byte{
		"z.txt":     []byte("z"),
		"a.txt":     []byte("a"),
		"sub/b.txt": []byte("b"),
	})

	files := drainSource(t, NewDirSource(dir))

	var paths []string
	for _, sf := range files {
		paths = append(paths, sf.Path)
	}
	// Lexical walk order, slash-separated regardless of platform.
	assert.Equal(t, []string{"a.txt", "sub/b.txt", "z.txt"}, paths)
}

func TestDirSourceRestartable(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeTestFiles(t, dir, map[string][]byte{
		"a.txt": []byte("a"),
		"b.txt": []byte("b"),
	})

	src := NewDirSource(dir)
	first := drainSource(t, src)
	second := drainSource(t, src)

	require.Len(t, second, len(first))
	for i := range first {
		assert.Equal(t, first[i].Path, second[i].Path)
	}
}

func TestDirSourceFileContent(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeTestFiles(t, dir, map[string][]byte{"sub/b.txt": []byte("payload")})

	files := drainSource(t, NewDirSource(dir))
	require.Len(t, files, 1)

	sf := files[0]
	assert.Equal(t, "sub/b.txt", sf.Path)
	assert.Equal(t, int64(7), sf.Size)
	assert.False(t, sf.ModifiedAt.IsZero())

	rc, err := sf.Open()
	require.NoError(t, err)
	defer rc.Close()
	content, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), content)
}

func TestDirSourceSkipsSymlinks(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeTestFiles(t, dir, map[string][]byte{"real.txt": []byte("real")})
	if err := os.Symlink(filepath.Join(dir, "real.txt"), filepath.Join(dir, "link.txt")); err != nil {
		t.Skipf("symlinks not supported: %v", err)
	}

	files := drainSource(t, NewDirSource(dir))
	require.Len(t, files, 1)
	assert.Equal(t, "real.txt", files[0].Path)
}

func TestDirSourceSingleFileRoot(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "solo.txt")
	require.NoError(t, os.WriteFile(path, []byte("solo"), 0o644))

	files := drainSource(t, NewDirSource(path))
	require.Len(t, files, 1)
	assert.Equal(t, "solo.txt", files[0].Path)
	assert.Equal(t, int64(4), files[0].Size)
}

func TestDirSourceMissingRoot(t *testing.T) {
	t.Parallel()

	src := NewDirSource(filepath.Join(t.TempDir(), "does-not-exist"))
	for _, err := range src.Files(context.Background()) {
		require.Error(t, err)
		assert.True(t, os.IsNotExist(err))
		return
	}
	t.Fatal("expected an error from the iterator")
}

func TestDirSourceEarlyStop(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeTestFiles(t, dir, map[string][]byte{
		"a.txt": []byte("a"),
		"b.txt": []byte("b"),
		"c.txt": []byte("c"),
	})

	count := 0
	for _, err := range NewDirSource(dir).Files(context.Background()) {
		require.NoError(t, err)
		count++
		if count == 2 {
			break
		}
	}
	assert.Equal(t, 2, count)
}
