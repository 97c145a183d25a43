// Package schedule manages the periodic sweep entry in the invoking user's
// crontab. It owns exactly one delimited block, so reinstalling replaces the
// previous entry and never disturbs unrelated crontab lines.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"
)

const (
	blockStart = "# foolscrate sync cronjob start"
	blockEnd   = "# foolscrate sync cronjob end"

	// Schedule runs the sweep once a minute.
	Schedule = "*/1 * * * *"
)

var blockPattern = regexp.MustCompile(
	"(?s)" + regexp.QuoteMeta(blockStart) + "\n.*?" + regexp.QuoteMeta(blockEnd) + "(\n|$)")

// Runner abstracts the crontab command so the installer can be exercised
// without touching the real user crontab.
type Runner interface {
	// Read returns the current crontab, empty when none is installed.
	Read(ctx context.Context) (string, error)
	// Write replaces the whole crontab with content.
	Write(ctx context.Context, content string) error
}

// ExecRunner drives the system crontab binary.
type ExecRunner struct{}

func (ExecRunner) Read(ctx context.Context) (string, error) {
	out, err := exec.CommandContext(ctx, "crontab", "-l").Output()
	if err != nil {
		// crontab -l exits non-zero when the user has no crontab yet.
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", nil
		}
		return "", fmt.Errorf("read crontab: %w", err)
	}
	return string(out), nil
}

func (ExecRunner) Write(ctx context.Context, content string) error {
	tmp, err := os.CreateTemp("", "foolscrate-cron-*")
	if err != nil {
		return fmt.Errorf("stage crontab: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		return fmt.Errorf("stage crontab: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("stage crontab: %w", err)
	}

	out, err := exec.CommandContext(ctx, "crontab", tmp.Name()).CombinedOutput()
	if err != nil {
		return fmt.Errorf("install crontab: %s: %w", strings.TrimSpace(string(out)), err)
	}
	return nil
}

// Installer places, removes, and inspects the delimited sweep block.
type Installer struct {
	runner Runner
}

// NewInstaller returns an installer backed by the given runner, or by the
// system crontab command when runner is nil.
func NewInstaller(runner Runner) *Installer {
	if runner == nil {
		runner = ExecRunner{}
	}
	return &Installer{runner: runner}
}

// Install writes the sweep entry, replacing any previously installed block.
// The executable must exist and be executable; a stale path here would fail
// silently once a minute forever.
func (i *Installer) Install(ctx context.Context, executable string) error {
	abs, err := filepath.Abs(executable)
	if err != nil {
		return fmt.Errorf("resolve executable path: %w", err)
	}
	if err := checkExecutable(abs); err != nil {
		return err
	}

	current, err := i.runner.Read(ctx)
	if err != nil {
		return err
	}
	next := blockPattern.ReplaceAllString(current, "")
	if next != "" && !strings.HasSuffix(next, "\n") {
		next += "\n"
	}
	next += Render(abs)

	if err := i.runner.Write(ctx, next); err != nil {
		return err
	}
	log.Info().Str("executable", abs).Str("schedule", Schedule).Msg("sweep cronjob installed")
	return nil
}

// Uninstall removes the sweep block. A crontab without one is left as is.
func (i *Installer) Uninstall(ctx context.Context) error {
	current, err := i.runner.Read(ctx)
	if err != nil {
		return err
	}
	next := blockPattern.ReplaceAllString(current, "")
	if next == current {
		log.Debug().Msg("no sweep cronjob installed")
		return nil
	}

	if err := i.runner.Write(ctx, next); err != nil {
		return err
	}
	log.Info().Msg("sweep cronjob removed")
	return nil
}

// Show returns the installed sweep block, empty when none exists.
func (i *Installer) Show(ctx context.Context) (string, error) {
	current, err := i.runner.Read(ctx)
	if err != nil {
		return "", err
	}
	return blockPattern.FindString(current), nil
}

// Render returns the delimited crontab block invoking executable once a
// minute.
func Render(executable string) string {
	return blockStart + "\n" +
		Schedule + " " + quote(executable) + " sync-all\n" +
		blockEnd + "\n"
}

// checkExecutable rejects paths cron could not run.
func checkExecutable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("invalid sweep executable %s: %w", path, err)
	}
	if info.IsDir() || info.Mode().Perm()&0o111 == 0 {
		return fmt.Errorf("invalid sweep executable %s: not an executable file", path)
	}
	return nil
}

// quote single-quotes s when the cron shell line would otherwise split or
// expand it.
func quote(s string) string {
	if s != "" && !strings.ContainsAny(s, " \t'\"\\$&|;<>()`*?[]#~") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
