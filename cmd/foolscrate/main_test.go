package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foolscrate/foolscrate/internal/config"
	"github.com/foolscrate/foolscrate/internal/replica"
	"github.com/foolscrate/foolscrate/pkg/report"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{
			name: "nil error",
			err:  nil,
			want: exitOK,
		},
		{
			name: "generic error",
			err:  errors.New("boom"),
			want: exitGeneric,
		},
		{
			name: "invalid replica",
			err:  &replica.InvalidReplicaError{Dir: "/tmp/x", Reason: "no git metadata found"},
			want: exitInvalid,
		},
		{
			name: "wrapped invalid replica",
			err:  fmt.Errorf("open: %w", &replica.InvalidReplicaError{Dir: "/tmp/x", Reason: "nope"}),
			want: exitInvalid,
		},
		{
			name: "sync failure",
			err:  &replica.SyncError{Dir: "/tmp/x"},
			want: exitSync,
		},
		{
			name: "conflict pending",
			err:  fmt.Errorf("sync /tmp/x: %w", replica.ErrConflictPending),
			want: exitConflict,
		},
		{
			name: "lock busy",
			err:  fmt.Errorf("sync /tmp/x: %w", replica.ErrLockBusy),
			want: exitLocked,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCode(tt.err))
		})
	}
}

func TestDescribeStatus(t *testing.T) {
	tests := []struct {
		name string
		st   report.ReplicaStatus
		want string
	}{
		{
			name: "healthy",
			st:   report.ReplicaStatus{Dir: "/tmp/x", Exists: true, ClientID: "foolscrate-host-abc12"},
			want: "ok",
		},
		{
			name: "missing directory",
			st:   report.ReplicaStatus{Dir: "/tmp/x"},
			want: "missing",
		},
		{
			name: "invalid",
			st:   report.ReplicaStatus{Dir: "/tmp/x", Exists: true, Invalid: "no git metadata found"},
			want: "invalid (no git metadata found)",
		},
		{
			name: "conflict",
			st:   report.ReplicaStatus{Dir: "/tmp/x", Exists: true, ConflictPending: true},
			want: "conflict pending, sync suspended",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, describeStatus(tt.st))
		})
	}
}

// The example config written by `foolscrate init` must stay loadable and
// valid, or the first thing a new user does will fail.
func TestInitConfigLoads(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	dir := t.TempDir()
	oldOutput := initOutput
	initOutput = dir
	defer func() { initOutput = oldOutput }()

	require.NoError(t, runInit(nil, nil))

	path := filepath.Join(dir, "agent.yaml")
	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "1m", cfg.Sync.Interval)
	assert.Equal(t, 5, cfg.Sync.Attempts)
	assert.False(t, cfg.Watch.Enabled)
	assert.Equal(t, "127.0.0.1:9321", cfg.Metrics.Listen)

	// A second init in the same directory must refuse to overwrite.
	err = runInit(nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}
