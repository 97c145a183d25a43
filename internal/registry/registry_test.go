package registry

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	dir := t.TempDir()
	return New(filepath.Join(dir, "registry.yaml"), filepath.Join(dir, "registry.lock"), 0)
}

func TestRegistry_ListEmptyWhenFileMissing(t *testing.T) {
	r := newTestRegistry(t)

	got, err := r.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRegistry_AddAndList(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, r.Add(ctx, "/tmp/a"))
	require.NoError(t, r.Add(ctx, "/tmp/b"))

	got, err := r.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"/tmp/a", "/tmp/b"}, got)
}

func TestRegistry_AddDeduplicates(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, r.Add(ctx, "/tmp/a"))
	require.NoError(t, r.Add(ctx, "/tmp/a"))

	got, err := r.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"/tmp/a"}, got)
}

func TestRegistry_RemoveRoundTrip(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, r.Add(ctx, "/tmp/a"))
	require.NoError(t, r.Remove(ctx, "/tmp/a"))

	got, err := r.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRegistry_RemoveMissingPath(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	err := r.Remove(ctx, "/tmp/never-tracked")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotTracked))
}

func TestRegistry_RemoveKeepsOthers(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, r.Add(ctx, "/tmp/a"))
	require.NoError(t, r.Add(ctx, "/tmp/b"))
	require.NoError(t, r.Add(ctx, "/tmp/c"))
	require.NoError(t, r.Remove(ctx, "/tmp/b"))

	got, err := r.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"/tmp/a", "/tmp/c"}, got)
}

func TestRegistry_Prune(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	real := t.TempDir()
	gone := filepath.Join(t.TempDir(), "vanished")

	require.NoError(t, r.Add(ctx, real))
	require.NoError(t, r.Add(ctx, gone))

	removed, err := r.Prune(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{gone}, removed)

	got, err := r.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{real}, got)
}

func TestRegistry_ToleratesPreexistingDocument(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "registry.yaml")
	require.NoError(t, os.WriteFile(path, []byte("track:\n  - /tmp/seeded\n"), 0o600))

	r := New(path, filepath.Join(dir, "registry.lock"), 0)

	got, err := r.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"/tmp/seeded"}, got)
}

func TestRegistry_RejectsMalformedDocument(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "registry.yaml")
	require.NoError(t, os.WriteFile(path, []byte("track: {not a list"), 0o600))

	r := New(path, filepath.Join(dir, "registry.lock"), 0)

	_, err := r.List(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse registry file")
}
