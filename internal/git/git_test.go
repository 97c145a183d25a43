package git

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foolscrate/foolscrate/testutil"
)

func newTestClient(t *testing.T) (*ShellClient, string) {
	t.Helper()
	testutil.RequireGit(t)
	testutil.SetGitIdentity(t)
	dir := t.TempDir()
	return NewShellClient(dir), dir
}

func TestShellClient_InitCreatesRepository(t *testing.T) {
	c, dir := newTestClient(t)

	err := c.Init(context.Background(), "master")
	require.NoError(t, err)

	info, err := os.Stat(filepath.Join(dir, ".git"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.Equal(t, "master", testutil.CurrentBranch(t, dir))
}

func TestShellClient_StageCommitAndDiff(t *testing.T) {
	c, dir := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, c.Init(ctx, "master"))
	testutil.WriteFile(t, dir, "notes.txt", "hello\n")

	require.NoError(t, c.StageAll(ctx))

	diff, err := c.DiffStaged(ctx)
	require.NoError(t, err)
	assert.Contains(t, diff, "notes.txt")

	require.NoError(t, c.Commit(ctx, "first commit"))

	// Nothing staged after the commit.
	diff, err = c.DiffStaged(ctx)
	require.NoError(t, err)
	assert.Empty(t, strings.TrimSpace(diff))
}

func TestShellClient_StageSinglePath(t *testing.T) {
	c, dir := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, c.Init(ctx, "master"))
	testutil.WriteFile(t, dir, "tracked.txt", "in\n")
	testutil.WriteFile(t, dir, "ignored.txt", "out\n")

	require.NoError(t, c.Stage(ctx, "tracked.txt"))

	diff, err := c.DiffStaged(ctx)
	require.NoError(t, err)
	assert.Contains(t, diff, "tracked.txt")
	assert.NotContains(t, diff, "ignored.txt")
}

func TestShellClient_LocalConfigRoundTrip(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, c.Init(ctx, "master"))
	require.NoError(t, c.SetLocalConfig(ctx, "foolscrate.client-id", "foolscrate-host-ab1cd"))

	got, err := c.GetLocalConfig(ctx, "foolscrate.client-id")
	require.NoError(t, err)
	assert.Equal(t, "foolscrate-host-ab1cd", got)
}

func TestShellClient_GetLocalConfigMissingKey(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, c.Init(ctx, "master"))

	_, err := c.GetLocalConfig(ctx, "foolscrate.client-id")
	require.Error(t, err)

	var cmdErr *CommandError
	assert.True(t, errors.As(err, &cmdErr))
}

func TestShellClient_UpdateRefAndPush(t *testing.T) {
	c, dir := newTestClient(t)
	ctx := context.Background()
	remote := testutil.InitBareRemote(t)

	require.NoError(t, c.Init(ctx, "master"))
	testutil.WriteFile(t, dir, "a.txt", "a\n")
	require.NoError(t, c.StageAll(ctx))
	require.NoError(t, c.Commit(ctx, "seed"))

	require.NoError(t, c.AddRemote(ctx, "foolscrate", remote))
	require.NoError(t, c.UpdateRef(ctx, "client-1", "master"))
	require.NoError(t, c.PushSetUpstream(ctx, "foolscrate", "master", "client-1"))

	refs := testutil.RunGit(t, remote, "for-each-ref", "--format=%(refname:short)")
	assert.Contains(t, refs, "master")
	assert.Contains(t, refs, "client-1")
}

func TestShellClient_MergeConflictAndAbort(t *testing.T) {
	c, dir := newTestClient(t)
	ctx := context.Background()
	remote := testutil.InitBareRemote(t)

	require.NoError(t, c.Init(ctx, "master"))
	testutil.WriteFile(t, dir, "shared.txt", "base\n")
	require.NoError(t, c.StageAll(ctx))
	require.NoError(t, c.Commit(ctx, "base"))
	require.NoError(t, c.AddRemote(ctx, "foolscrate", remote))
	require.NoError(t, c.PushSetUpstream(ctx, "foolscrate", "master"))

	// Second clone edits the same line and pushes first.
	other := filepath.Join(t.TempDir(), "other")
	testutil.RunGit(t, filepath.Dir(other), "clone", remote, other)
	testutil.WriteFile(t, other, "shared.txt", "theirs\n")
	testutil.RunGit(t, other, "add", "-A")
	testutil.RunGit(t, other, "commit", "-m", "theirs")
	testutil.RunGit(t, other, "push", "origin", "master")

	// Local conflicting edit.
	testutil.WriteFile(t, dir, "shared.txt", "ours\n")
	require.NoError(t, c.StageAll(ctx))
	require.NoError(t, c.Commit(ctx, "ours"))
	require.NoError(t, c.FetchAll(ctx))

	err := c.MergeNoEdit(ctx, "foolscrate/master")
	require.Error(t, err)

	var cmdErr *CommandError
	require.True(t, errors.As(err, &cmdErr))
	assert.NotEmpty(t, cmdErr.Output)

	require.NoError(t, c.AbortMerge(ctx))
	assert.Equal(t, "ours\n", testutil.ReadFile(t, dir, "shared.txt"))
}

func TestCommandError_Message(t *testing.T) {
	err := &CommandError{
		Args:   []string{"merge", "--no-edit", "foolscrate/master"},
		Output: "CONFLICT (content): Merge conflict in shared.txt\n",
		Err:    errors.New("exit status 1"),
	}
	assert.Contains(t, err.Error(), "git merge --no-edit foolscrate/master")
	assert.Contains(t, err.Error(), "Merge conflict")
}
