package sweep

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foolscrate/foolscrate/internal/registry"
	"github.com/foolscrate/foolscrate/internal/replica"
	"github.com/foolscrate/foolscrate/pkg/report"
)

func newTestRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	dir := t.TempDir()
	return registry.New(filepath.Join(dir, "registry.yaml"), filepath.Join(dir, "registry.lock"), time.Second)
}

func newTestSweeper(t *testing.T, reg *registry.Registry) *Sweeper {
	t.Helper()
	return New(reg, filepath.Join(t.TempDir(), "fleet.lock"), Options{
		FleetLockTimeout: time.Second,
		JitterMin:        time.Nanosecond,
		JitterMax:        time.Nanosecond,
	})
}

type fakeSyncer struct {
	err error
}

func (f *fakeSyncer) Sync(ctx context.Context) error { return f.err }

func TestSweepAll_SyncsEveryTrackedReplica(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)
	for _, dir := range []string{"/replicas/a", "/replicas/b", "/replicas/c"} {
		require.NoError(t, reg.Add(ctx, dir))
	}

	s := newTestSweeper(t, reg)
	var visited []string
	s.open = func(ctx context.Context, dir string) (syncer, error) {
		visited = append(visited, dir)
		return &fakeSyncer{}, nil
	}

	sw, err := s.SweepAll(ctx)
	require.NoError(t, err)

	assert.NotEmpty(t, sw.ID)
	assert.False(t, sw.Skipped)
	assert.ElementsMatch(t, []string{"/replicas/a", "/replicas/b", "/replicas/c"}, visited)
	assert.Len(t, sw.Results, 3)
	for _, r := range sw.Results {
		assert.Equal(t, report.OutcomeSynced, r.Outcome)
	}
	assert.False(t, sw.Finished.Before(sw.Started))
}

func TestSweepAll_IsolatesFailures(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)
	for _, dir := range []string{"/replicas/broken", "/replicas/fine", "/replicas/gone"} {
		require.NoError(t, reg.Add(ctx, dir))
	}

	s := newTestSweeper(t, reg)
	s.open = func(ctx context.Context, dir string) (syncer, error) {
		switch dir {
		case "/replicas/broken":
			return &fakeSyncer{err: &replica.SyncError{Dir: dir}}, nil
		case "/replicas/gone":
			return nil, &replica.InvalidReplicaError{Dir: dir, Reason: "no git metadata found"}
		default:
			return &fakeSyncer{}, nil
		}
	}

	sw, err := s.SweepAll(ctx)
	require.NoError(t, err)
	require.Len(t, sw.Results, 3)

	byDir := map[string]report.ReplicaResult{}
	for _, r := range sw.Results {
		byDir[r.Dir] = r
	}
	assert.Equal(t, report.OutcomeConflict, byDir["/replicas/broken"].Outcome)
	assert.Equal(t, report.OutcomeSynced, byDir["/replicas/fine"].Outcome)
	assert.Equal(t, report.OutcomeInvalid, byDir["/replicas/gone"].Outcome)
	assert.Contains(t, byDir["/replicas/gone"].Error, "not a valid foolscrate-enabled repository")
	assert.Equal(t, 2, sw.Failures())
}

func TestSweepAll_SkipsWhenFleetLockHeld(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)
	require.NoError(t, reg.Add(ctx, "/replicas/a"))

	lockPath := filepath.Join(t.TempDir(), "fleet.lock")
	other := flock.New(lockPath)
	require.NoError(t, other.Lock())
	defer func() { _ = other.Unlock() }()

	s := New(reg, lockPath, Options{
		FleetLockTimeout: 50 * time.Millisecond,
		JitterMin:        time.Nanosecond,
		JitterMax:        time.Nanosecond,
	})
	opened := false
	s.open = func(ctx context.Context, dir string) (syncer, error) {
		opened = true
		return &fakeSyncer{}, nil
	}

	sw, err := s.SweepAll(ctx)
	require.NoError(t, err)
	assert.True(t, sw.Skipped)
	assert.Empty(t, sw.Results)
	assert.False(t, opened)
}

func TestSweepAll_HonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	reg := newTestRegistry(t)
	require.NoError(t, reg.Add(context.Background(), "/replicas/a"))

	s := New(reg, filepath.Join(t.TempDir(), "fleet.lock"), Options{
		FleetLockTimeout: time.Second,
		JitterMin:        time.Hour,
		JitterMax:        time.Hour,
	})
	s.open = func(ctx context.Context, dir string) (syncer, error) {
		return &fakeSyncer{}, nil
	}

	time.AfterFunc(50*time.Millisecond, cancel)
	_, err := s.SweepAll(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestPrune(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)

	existing := t.TempDir()
	require.NoError(t, reg.Add(ctx, existing))
	require.NoError(t, reg.Add(ctx, "/replicas/vanished"))

	s := newTestSweeper(t, reg)
	removed, err := s.Prune(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"/replicas/vanished"}, removed)

	tracked, err := reg.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{existing}, tracked)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		outcome report.Outcome
	}{
		{"sync exhausted", &replica.SyncError{Dir: "/r"}, report.OutcomeConflict},
		{"marker present", fmt.Errorf("/r: %w", replica.ErrConflictPending), report.OutcomeConflict},
		{"lock busy", fmt.Errorf("/r: %w", replica.ErrLockBusy), report.OutcomeLocked},
		{"invalid", &replica.InvalidReplicaError{Dir: "/r", Reason: "gone"}, report.OutcomeInvalid},
		{"anything else", errors.New("disk on fire"), report.OutcomeError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.outcome, classify(tt.err))
		})
	}
}

func TestDefaultFleetLockPath(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	path, err := DefaultFleetLockPath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".foolscrate.sync_all_tracked.lock"), path)
	assert.True(t, filepath.IsAbs(path))
	_, statErr := os.Stat(filepath.Dir(path))
	assert.NoError(t, statErr)
}
