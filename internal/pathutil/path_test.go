package pathutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"a/b/c.txt", "a/b/c.txt"},
		{"./a/b.txt", "a/b.txt"},
		{"/a/b.txt", "a/b.txt"},
		{"a//b.txt", "a/b.txt"},
		{"a/./b.txt", "a/b.txt"},
		{"a/b.txt/", "a/b.txt"},
		{"", "."},
		{"/", "."},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Normalize(tt.in), "Normalize(%q)", tt.in)
	}
}

func TestStoredPath(t *testing.T) {
	t.Parallel()

	got, err := StoredPath("/a/b", "/a/b/c/d.txt")
	require.NoError(t, err)
	assert.Equal(t, "c/d.txt", got)
}

func TestStoredPathRelativeRootWithParentSegments(t *testing.T) {
	t.Parallel()

	// Both paths resolve against the same working directory, so the
	// stored path is independent of how the root was spelled.
	got, err := StoredPath("a/b/../b", "a/b/c/d.txt")
	require.NoError(t, err)
	assert.Equal(t, "c/d.txt", got)
}

func TestStoredPathRootFile(t *testing.T) {
	t.Parallel()

	got, err := StoredPath("/a/b/f.txt", "/a/b/f.txt")
	require.NoError(t, err)
	assert.Equal(t, "f.txt", got)
}

func TestStoredPathEscapesRoot(t *testing.T) {
	t.Parallel()

	_, err := StoredPath("/a/b", "/a/other.txt")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "escapes traversal root")

	_, err = StoredPath("/a/b", "/a")
	require.Error(t, err)
}

func TestBase(t *testing.T) {
	t.Parallel()

	assert.Equal(t, ".", Base(""))
	assert.Equal(t, ".", Base("."))
	assert.Equal(t, "c.txt", Base("a/b/c.txt"))
	assert.Equal(t, "b", Base("a/b/"))
	assert.Equal(t, "a", Base("a"))
}

func TestDirPrefix(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "", DirPrefix("."))
	assert.Equal(t, "a/b/", DirPrefix("a/b"))
}

func TestChild(t *testing.T) {
	t.Parallel()

	name, isSubDir := Child("a/b/c.txt", "a/")
	assert.Equal(t, "b", name)
	assert.True(t, isSubDir)

	name, isSubDir = Child("a/c.txt", "a/")
	assert.Equal(t, "c.txt", name)
	assert.False(t, isSubDir)
}
