package tracker

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeChangeSet(t *testing.T) {
	prior := NewIndex()
	prior.Files = map[string]string{
		"a": "h1",
		"b": "h2",
	}
	current := map[string]string{
		"a": "h1",
		"b": "h3",
		"c": "h4",
	}

	cs := Compute(current, prior)
	assert.Equal(t, []string{"c"}, cs.Added)
	assert.Equal(t, []string{"b"}, cs.Modified)
	assert.Empty(t, cs.Removed)
	assert.Equal(t, []string{"a"}, cs.Unchanged)
	assert.ElementsMatch(t, []string{"b", "c"}, cs.Touched())
}

func TestComputeAgainstEmptyIndex(t *testing.T) {
	cs := Compute(map[string]string{"x": "h1", "y": "h2"}, NewIndex())
	assert.Len(t, cs.Added, 2)
	assert.False(t, cs.Empty())
}

func TestComputeDetectsRemovals(t *testing.T) {
	prior := NewIndex()
	prior.Files = map[string]string{"gone": "h1", "kept": "h2"}

	cs := Compute(map[string]string{"kept": "h2"}, prior)
	assert.Equal(t, []string{"gone"}, cs.Removed)
	assert.True(t, len(cs.Added) == 0 && len(cs.Modified) == 0)
}

func TestIndexRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".membank", "index.json")

	idx := NewIndex().Next(map[string]string{"main.go": "abc123"})
	require.NoError(t, idx.Save(path))

	loaded, err := LoadIndex(path)
	require.NoError(t, err)
	assert.Equal(t, 1, loaded.Generation)
	assert.Equal(t, "abc123", loaded.Files["main.go"])
}

func TestLoadMissingIndexIsEmpty(t *testing.T) {
	idx, err := LoadIndex(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)
	assert.Equal(t, 0, idx.Generation)
	assert.Empty(t, idx.Files)
}

func TestLoadCorruptIndex(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.json")
	require.NoError(t, os.WriteFile(path, []byte("{truncated"), 0o644))

	_, err := LoadIndex(path)
	assert.ErrorIs(t, err, ErrIndexCorrupt)
}

func TestNextPrunesDeletedFiles(t *testing.T) {
	idx := NewIndex()
	idx.Files["stale.go"] = "h0"

	next := idx.Next(map[string]string{"fresh.go": "h1"})
	assert.Equal(t, 1, next.Generation)
	assert.NotContains(t, next.Files, "stale.go")
	assert.Contains(t, next.Files, "fresh.go")

	// The prior generation is untouched.
	assert.Contains(t, idx.Files, "stale.go")
	assert.Equal(t, 0, idx.Generation)
}

func TestSnapshotWalksAndSkips(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "src"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "node_modules", "pkg"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "src", "main.go"), []byte("package main"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "node_modules", "pkg", "index.js"), []byte("junk"), 0o644))

	snap, err := Snapshot(dir)
	require.NoError(t, err)
	assert.Contains(t, snap, "src/main.go")
	assert.NotContains(t, snap, "node_modules/pkg/index.js")
	assert.Len(t, snap["src/main.go"], 64) // hex sha256
}

func TestSnapshotHashesAreStable(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "f.txt"), []byte("same content"), 0o644))

	first, err := Snapshot(dir)
	require.NoError(t, err)
	second, err := Snapshot(dir)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestSnapshotRejectsNonDirectory(t *testing.T) {
	file := filepath.Join(t.TempDir(), "f")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	_, err := Snapshot(file)
	assert.Error(t, err)
}

func TestSplitRange(t *testing.T) {
	tests := []struct {
		in       string
		from, to string
	}{
		{"abc123", "abc123", "HEAD"},
		{"main..feature", "main", "feature"},
		{"v1.0..", "v1.0", "HEAD"},
		{"a...b", "a", "b"},
	}
	for _, tt := range tests {
		from, to := splitRange(tt.in)
		assert.Equal(t, tt.from, from, tt.in)
		assert.Equal(t, tt.to, to, tt.in)
	}
}
