// Package testutil provides shared test helpers for foolscrate tests.
package testutil

import (
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

// RequireGit skips the test when no git binary is available on PATH.
func RequireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available on PATH")
	}
}

// RunGit runs git with the given arguments in dir, failing the test on a
// non-zero exit. It returns the combined output.
func RunGit(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", append([]string{"-C", dir}, args...)...)
	// Commit identity and disabled signing keep tests independent of the
	// host's git configuration.
	cmd.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME=foolscrate-test",
		"GIT_AUTHOR_EMAIL=test@foolscrate.invalid",
		"GIT_COMMITTER_NAME=foolscrate-test",
		"GIT_COMMITTER_EMAIL=test@foolscrate.invalid",
		"GIT_CONFIG_GLOBAL=/dev/null",
		"GIT_CONFIG_SYSTEM=/dev/null",
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %v in %s: %v\n%s", args, dir, err, out)
	}
	return string(out)
}

// InitBareRemote creates a bare repository under t.TempDir and returns its
// path, suitable as a remote URL for local pushes.
func InitBareRemote(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "remote.git")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("create remote dir: %v", err)
	}
	RunGit(t, dir, "init", "--bare", "-b", "master")
	return dir
}

// SetGitIdentity exports a throwaway committer identity into the test
// process environment so commits made by code under test succeed on hosts
// with no global git config.
func SetGitIdentity(t *testing.T) {
	t.Helper()
	t.Setenv("GIT_AUTHOR_NAME", "foolscrate-test")
	t.Setenv("GIT_AUTHOR_EMAIL", "test@foolscrate.invalid")
	t.Setenv("GIT_COMMITTER_NAME", "foolscrate-test")
	t.Setenv("GIT_COMMITTER_EMAIL", "test@foolscrate.invalid")
	t.Setenv("GIT_CONFIG_GLOBAL", os.DevNull)
	t.Setenv("GIT_CONFIG_SYSTEM", os.DevNull)
}

// WriteFile writes content to name under dir, creating parents as needed,
// and returns the full path.
func WriteFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("create parent dir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

// ReadFile returns the content of name under dir, failing the test on error.
func ReadFile(t *testing.T, dir, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		t.Fatalf("read %s: %v", name, err)
	}
	return string(data)
}

// CurrentBranch returns the branch the repository at dir has checked out.
func CurrentBranch(t *testing.T, dir string) string {
	t.Helper()
	return strings.TrimSpace(RunGit(t, dir, "symbolic-ref", "--short", "HEAD"))
}

// CommitCount returns the number of commits reachable from ref in dir.
func CommitCount(t *testing.T, dir, ref string) int {
	t.Helper()
	out := strings.TrimSpace(RunGit(t, dir, "rev-list", "--count", ref))
	n, err := strconv.Atoi(out)
	if err != nil {
		t.Fatalf("parse rev-list count %q: %v", out, err)
	}
	return n
}
