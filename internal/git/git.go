// Package git executes version-control primitives against a single local
// working copy by shelling out to the git command.
package git

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Client provides the git primitives the reconciliation protocol issues.
// Every operation targets the one working copy the client was created for.
// Failures carry the captured command output so callers can log the real
// reason git refused.
type Client interface {
	// Init creates an empty repository with the given initial branch name.
	Init(ctx context.Context, branch string) error
	// AddRemote registers a named remote URL.
	AddRemote(ctx context.Context, name, url string) error
	// FetchAll fetches updates from every configured remote.
	FetchAll(ctx context.Context) error
	// Stage stages a single pathspec.
	Stage(ctx context.Context, pathspec string) error
	// StageAll stages every change in the working copy, deletions included.
	StageAll(ctx context.Context) error
	// DiffStaged returns the staged diff text, empty when nothing is staged.
	DiffStaged(ctx context.Context) (string, error)
	// Commit records the staged changes with the given message.
	Commit(ctx context.Context, message string) error
	// MergeNoEdit merges ref into the current branch without an editor prompt.
	MergeNoEdit(ctx context.Context, ref string) error
	// AbortMerge abandons an in-progress merge, restoring the working tree.
	AbortMerge(ctx context.Context) error
	// UpdateRef points refs/heads/<name> at the given source ref.
	UpdateRef(ctx context.Context, name, source string) error
	// Push pushes the given refs to the named remote.
	Push(ctx context.Context, remote string, refs ...string) error
	// PushSetUpstream pushes the given refs and records upstream tracking.
	PushSetUpstream(ctx context.Context, remote string, refs ...string) error
	// Checkout switches the working copy to the given ref.
	Checkout(ctx context.Context, ref string) error
	// GetLocalConfig reads a repository-local config value.
	GetLocalConfig(ctx context.Context, key string) (string, error)
	// SetLocalConfig writes a repository-local config value.
	SetLocalConfig(ctx context.Context, key, value string) error
}

// CommandError is returned when a git command exits non-zero. Output holds
// the combined stdout/stderr captured from the failed command.
type CommandError struct {
	Args   []string
	Output string
	Err    error
}

func (e *CommandError) Error() string {
	out := strings.TrimSpace(e.Output)
	if out == "" {
		return fmt.Sprintf("git %s: %v", strings.Join(e.Args, " "), e.Err)
	}
	return fmt.Sprintf("git %s: %v: %s", strings.Join(e.Args, " "), e.Err, out)
}

func (e *CommandError) Unwrap() error { return e.Err }

// ShellClient implements Client by running the git binary with -C pointed at
// the working copy.
type ShellClient struct {
	dir string
}

// NewShellClient returns a client operating on the repository at dir.
func NewShellClient(dir string) *ShellClient {
	return &ShellClient{dir: dir}
}

// Dir returns the working copy path this client operates on.
func (c *ShellClient) Dir() string { return c.dir }

// run executes git with the given arguments and returns its combined output.
func (c *ShellClient) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", append([]string{"-C", c.dir}, args...)...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", &CommandError{Args: args, Output: string(output), Err: err}
	}
	return string(output), nil
}

func (c *ShellClient) Init(ctx context.Context, branch string) error {
	_, err := c.run(ctx, "init", "-b", branch)
	return err
}

func (c *ShellClient) AddRemote(ctx context.Context, name, url string) error {
	_, err := c.run(ctx, "remote", "add", name, url)
	return err
}

func (c *ShellClient) FetchAll(ctx context.Context) error {
	_, err := c.run(ctx, "fetch", "--all")
	return err
}

func (c *ShellClient) Stage(ctx context.Context, pathspec string) error {
	_, err := c.run(ctx, "add", "--", pathspec)
	return err
}

func (c *ShellClient) StageAll(ctx context.Context) error {
	_, err := c.run(ctx, "add", "-A")
	return err
}

func (c *ShellClient) DiffStaged(ctx context.Context) (string, error) {
	return c.run(ctx, "diff", "--staged")
}

func (c *ShellClient) Commit(ctx context.Context, message string) error {
	_, err := c.run(ctx, "commit", "-m", message)
	return err
}

func (c *ShellClient) MergeNoEdit(ctx context.Context, ref string) error {
	_, err := c.run(ctx, "merge", "--no-edit", ref)
	return err
}

func (c *ShellClient) AbortMerge(ctx context.Context) error {
	_, err := c.run(ctx, "merge", "--abort")
	return err
}

func (c *ShellClient) UpdateRef(ctx context.Context, name, source string) error {
	_, err := c.run(ctx, "update-ref", "refs/heads/"+name, source)
	return err
}

func (c *ShellClient) Push(ctx context.Context, remote string, refs ...string) error {
	_, err := c.run(ctx, append([]string{"push", remote}, refs...)...)
	return err
}

func (c *ShellClient) PushSetUpstream(ctx context.Context, remote string, refs ...string) error {
	_, err := c.run(ctx, append([]string{"push", "-u", remote}, refs...)...)
	return err
}

func (c *ShellClient) Checkout(ctx context.Context, ref string) error {
	_, err := c.run(ctx, "checkout", ref)
	return err
}

func (c *ShellClient) GetLocalConfig(ctx context.Context, key string) (string, error) {
	out, err := c.run(ctx, "config", "--local", "--get", key)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

func (c *ShellClient) SetLocalConfig(ctx context.Context, key, value string) error {
	_, err := c.run(ctx, "config", "--local", key, value)
	return err
}
