package kzip

import (
	"bytes"
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildDedupScenario(t *testing.T) {
	t.Parallel()

	a := buildTestArchive(t, map[string][]byte{
		"a.txt": []byte("hello"),
		"b.txt": []byte("hello"),
		"c.txt": []byte("world"),
	})

	assert.Equal(t, 3, a.Len())
	assert.Equal(t, 2, a.BlobCount())

	ea, ok := a.Entry("a.txt")
	require.True(t, ok)
	eb, ok := a.Entry("b.txt")
	require.True(t, ok)
	ec, ok := a.Entry("c.txt")
	require.True(t, ok)

	// a.txt and b.txt share one blob; c.txt has its own.
	assert.Equal(t, ea.Fingerprint, eb.Fingerprint)
	assert.NotEqual(t, ea.Fingerprint, ec.Fingerprint)

	st := a.Stats()
	assert.Equal(t, uint64(15), st.LogicalSize)
	assert.Equal(t, uint64(10), st.StoredSize)
	assert.Equal(t, uint64(5), st.Deduplicated())
}

func TestCreateDeterministic(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeTestFiles(t, dir, map[string][]byte{
		"a.txt":       []byte("hello"),
		"b.txt":       []byte("hello"),
		"sub/c.txt":   []byte("world"),
		"sub/d/e.txt": []byte("deep content"),
	})

	var first, second bytes.Buffer
	require.NoError(t, Create(context.Background(), dir, &first))
	require.NoError(t, Create(context.Background(), dir, &second))

	assert.Equal(t, first.Bytes(), second.Bytes())
}

func TestBuildParallelMatchesSerial(t *testing.T) {
	t.Parallel()

	files := make(map[string][]byte)
	for i := range 50 {
		// Every fifth file shares content so dedup ordering is exercised.
		files["f"+strconv.Itoa(i)+".txt"] = []byte("content " + strconv.Itoa(i%5))
	}
	dir := t.TempDir()
	writeTestFiles(t, dir, files)

	serial, err := Build(context.Background(), NewDirSource(dir))
	require.NoError(t, err)
	parallel, err := Build(context.Background(), NewDirSource(dir), CreateWithConcurrency(4))
	require.NoError(t, err)

	var serialBuf, parallelBuf bytes.Buffer
	_, err = serial.WriteTo(&serialBuf)
	require.NoError(t, err)
	_, err = parallel.WriteTo(&parallelBuf)
	require.NoError(t, err)

	assert.Equal(t, serialBuf.Bytes(), parallelBuf.Bytes())
	assert.Equal(t, 10, parallel.BlobCount())
}

func TestBuildPathCollision(t *testing.T) {
	t.Parallel()

	src := newSliceSource(
		memFile("a.txt", []byte("one")),
		memFile("a.txt", []byte("two")),
	)
	_, err := Build(context.Background(), src)
	require.ErrorIs(t, err, ErrPathCollision)
}

func TestBuildPathCollisionParallel(t *testing.T) {
	t.Parallel()

	src := newSliceSource(
		memFile("a.txt", []byte("one")),
		memFile("a.txt", []byte("two")),
	)
	_, err := Build(context.Background(), src, CreateWithConcurrency(4))
	require.ErrorIs(t, err, ErrPathCollision)
}

func TestBuildNormalizesSourcePaths(t *testing.T) {
	t.Parallel()

	a, err := Build(context.Background(), newSliceSource(
		memFile("./sub//c.txt", []byte("x")),
	))
	require.NoError(t, err)

	_, ok := a.Entry("sub/c.txt")
	assert.True(t, ok)
}

func TestBuildRejectsEscapingPath(t *testing.T) {
	t.Parallel()

	_, err := Build(context.Background(), newSliceSource(
		memFile("../evil.txt", []byte("x")),
	))
	require.ErrorIs(t, err, fs.ErrInvalid)
}

func TestBuildMaxFiles(t *testing.T) {
	t.Parallel()

	src := newSliceSource(
		memFile("a.txt", []byte("one")),
		memFile("b.txt", []byte("two")),
	)
	_, err := Build(context.Background(), src, CreateWithMaxFiles(1))
	require.ErrorIs(t, err, ErrTooManyFiles)

	a, err := Build(context.Background(), src, CreateWithMaxFiles(-1))
	require.NoError(t, err)
	assert.Equal(t, 2, a.Len())
}

func TestCreateSingleFileRoot(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "note.txt")
	require.NoError(t, os.WriteFile(path, []byte("solo"), 0o644))

	a, err := Build(context.Background(), NewDirSource(path))
	require.NoError(t, err)
	require.Equal(t, 1, a.Len())

	e, ok := a.Entry("note.txt")
	require.True(t, ok)
	assert.Equal(t, uint64(4), e.Size)
}

func TestCreateFileAppendsExtension(t *testing.T) {
	t.Parallel()

	srcDir := t.TempDir()
	writeTestFiles(t, srcDir, map[string][]byte{"a.txt": []byte("hello")})
	outDir := t.TempDir()

	path, err := CreateFile(context.Background(), srcDir, filepath.Join(outDir, "backup"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(outDir, "backup.kzip"), path)

	a, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, 1, a.Len())

	// An explicit extension is left alone.
	path2, err := CreateFile(context.Background(), srcDir, filepath.Join(outDir, "other.kzip"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(outDir, "other.kzip"), path2)
}

func TestCreateFileFailureLeavesNoOutput(t *testing.T) {
	t.Parallel()

	outDir := t.TempDir()
	out := filepath.Join(outDir, "backup")

	_, err := CreateFile(context.Background(), filepath.Join(outDir, "does-not-exist"), out)
	require.Error(t, err)

	_, statErr := os.Stat(out + Ext)
	assert.True(t, os.IsNotExist(statErr))

	leftovers, err := filepath.Glob(filepath.Join(outDir, ".kzip-*"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestBuildEmptyTree(t *testing.T) {
	t.Parallel()

	a, err := Build(context.Background(), NewDirSource(t.TempDir()))
	require.NoError(t, err)
	assert.Equal(t, 0, a.Len())
	assert.Equal(t, 0, a.BlobCount())

	got := roundTrip(t, a)
	assert.Equal(t, 0, got.Len())
}

func TestBuildTruncatesTimestampsToSeconds(t *testing.T) {
	t.Parallel()

	a, err := Build(context.Background(), newSliceSource(memFile("a.txt", []byte("x"))))
	require.NoError(t, err)

	e, ok := a.Entry("a.txt")
	require.True(t, ok)
	assert.Zero(t, e.CreatedAt.Nanosecond())
	assert.Zero(t, e.ModifiedAt.Nanosecond())
}
