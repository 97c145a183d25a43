package replica

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeGit records the operations Sync issues and fails on demand.
type fakeGit struct {
	calls []string

	fetchFailures int
	mergeFailures int
	pushFailures  int

	stageErr  error
	commitErr error
	abortErr  error

	diff          string
	commitMessage string
}

func (f *fakeGit) record(name string) { f.calls = append(f.calls, name) }

func (f *fakeGit) Init(ctx context.Context, branch string) error {
	f.record("init")
	return nil
}

func (f *fakeGit) AddRemote(ctx context.Context, name, url string) error {
	f.record("add-remote")
	return nil
}

func (f *fakeGit) FetchAll(ctx context.Context) error {
	f.record("fetch")
	if f.fetchFailures > 0 {
		f.fetchFailures--
		return errors.New("remote unreachable")
	}
	return nil
}

func (f *fakeGit) Stage(ctx context.Context, pathspec string) error {
	f.record("stage")
	return nil
}

func (f *fakeGit) StageAll(ctx context.Context) error {
	f.record("stage-all")
	return f.stageErr
}

func (f *fakeGit) DiffStaged(ctx context.Context) (string, error) {
	f.record("diff")
	return f.diff, nil
}

func (f *fakeGit) Commit(ctx context.Context, message string) error {
	f.record("commit")
	f.commitMessage = message
	return f.commitErr
}

func (f *fakeGit) MergeNoEdit(ctx context.Context, ref string) error {
	f.record("merge")
	if f.mergeFailures > 0 {
		f.mergeFailures--
		return errors.New("merge conflict")
	}
	return nil
}

func (f *fakeGit) AbortMerge(ctx context.Context) error {
	f.record("abort-merge")
	return f.abortErr
}

func (f *fakeGit) UpdateRef(ctx context.Context, name, source string) error {
	f.record("update-ref")
	return nil
}

func (f *fakeGit) Push(ctx context.Context, remote string, refs ...string) error {
	f.record("push")
	if f.pushFailures > 0 {
		f.pushFailures--
		return errors.New("non-fast-forward")
	}
	return nil
}

func (f *fakeGit) PushSetUpstream(ctx context.Context, remote string, refs ...string) error {
	f.record("push-upstream")
	return nil
}

func (f *fakeGit) Checkout(ctx context.Context, ref string) error {
	f.record("checkout")
	return nil
}

func (f *fakeGit) GetLocalConfig(ctx context.Context, key string) (string, error) {
	f.record("get-config")
	return "", nil
}

func (f *fakeGit) SetLocalConfig(ctx context.Context, key, value string) error {
	f.record("set-config")
	return nil
}

func count(calls []string, name string) int {
	n := 0
	for _, c := range calls {
		if c == name {
			n++
		}
	}
	return n
}

func newFakeReplica(t *testing.T, fake *fakeGit) *Replica {
	t.Helper()
	return newReplica(t.TempDir(), "foolscrate-testhost-abc12", fake, nil, Options{
		LockTimeout:  time.Second,
		Attempts:     5,
		MergeBackoff: time.Millisecond,
	})
}

func TestSync_FirstAttemptSucceeds(t *testing.T) {
	fake := &fakeGit{}
	r := newFakeReplica(t, fake)

	err := r.Sync(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"fetch", "stage-all", "diff", "merge", "update-ref", "push"}, fake.calls)
	assert.False(t, r.ConflictPending())
}

func TestSync_CommitsLocalChanges(t *testing.T) {
	fake := &fakeGit{diff: "diff --git a/notes.txt b/notes.txt\n+hello\n"}
	r := newFakeReplica(t, fake)

	err := r.Sync(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"fetch", "stage-all", "diff", "commit", "merge", "update-ref", "push"}, fake.calls)
	assert.Equal(t, "Automatic foolscrate commit", fake.commitMessage)
}

func TestSync_SkipsCommitWhenClean(t *testing.T) {
	fake := &fakeGit{diff: "  \n"}
	r := newFakeReplica(t, fake)

	err := r.Sync(context.Background())
	require.NoError(t, err)

	assert.Zero(t, count(fake.calls, "commit"))
}

func TestSync_RefusesWhenConflictMarked(t *testing.T) {
	fake := &fakeGit{}
	r := newFakeReplica(t, fake)
	require.NoError(t, os.WriteFile(r.MarkerPath(), nil, 0o644))

	err := r.Sync(context.Background())
	require.ErrorIs(t, err, ErrConflictPending)

	assert.Empty(t, fake.calls)
	assert.True(t, IsConflict(err))
}

func TestSync_RetryableMergeFailureRecovers(t *testing.T) {
	fake := &fakeGit{mergeFailures: 2}
	r := newFakeReplica(t, fake)

	err := r.Sync(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, count(fake.calls, "merge"))
	assert.Equal(t, 2, count(fake.calls, "abort-merge"))
	assert.Equal(t, 1, count(fake.calls, "push"))
	assert.False(t, r.ConflictPending())
}

func TestSync_ExhaustedRetriesMarkConflict(t *testing.T) {
	fake := &fakeGit{mergeFailures: 5}
	r := newFakeReplica(t, fake)

	err := r.Sync(context.Background())

	var syncErr *SyncError
	require.ErrorAs(t, err, &syncErr)
	assert.Equal(t, r.Dir, syncErr.Dir)
	assert.True(t, IsConflict(err))

	assert.Equal(t, 5, count(fake.calls, "merge"))
	assert.Equal(t, 5, count(fake.calls, "abort-merge"))
	assert.Zero(t, count(fake.calls, "push"))
	assert.True(t, r.ConflictPending())
}

func TestSync_PushRaceRetries(t *testing.T) {
	fake := &fakeGit{pushFailures: 1}
	r := newFakeReplica(t, fake)

	err := r.Sync(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, count(fake.calls, "push"))
	assert.Equal(t, 2, count(fake.calls, "fetch"))
}

func TestSync_FetchFailureRetries(t *testing.T) {
	fake := &fakeGit{fetchFailures: 1}
	r := newFakeReplica(t, fake)

	err := r.Sync(context.Background())
	require.NoError(t, err)

	// The failed attempt never proceeds past fetch.
	assert.Equal(t, 2, count(fake.calls, "fetch"))
	assert.Equal(t, 1, count(fake.calls, "stage-all"))
}

func TestSync_StageFailureIsFatal(t *testing.T) {
	fake := &fakeGit{stageErr: errors.New("index locked")}
	r := newFakeReplica(t, fake)

	err := r.Sync(context.Background())
	require.ErrorContains(t, err, "stage changes")

	assert.Equal(t, 1, count(fake.calls, "stage-all"))
	assert.False(t, r.ConflictPending())
}

func TestSync_AbortFailureIsFatal(t *testing.T) {
	fake := &fakeGit{mergeFailures: 1, abortErr: errors.New("cannot abort")}
	r := newFakeReplica(t, fake)

	err := r.Sync(context.Background())
	require.ErrorContains(t, err, "abort merge")

	assert.Equal(t, 1, count(fake.calls, "merge"))
	assert.False(t, r.ConflictPending())
}

func TestSync_LockBusy(t *testing.T) {
	fake := &fakeGit{}
	r := newFakeReplica(t, fake)
	r.opts.LockTimeout = 50 * time.Millisecond

	other := flock.New(filepath.Join(r.Dir, LockFileName))
	require.NoError(t, other.Lock())
	defer func() { _ = other.Unlock() }()

	err := r.Sync(context.Background())
	require.ErrorIs(t, err, ErrLockBusy)
	assert.Empty(t, fake.calls)
}
