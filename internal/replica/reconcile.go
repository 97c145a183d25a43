package replica

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

type attemptOutcome int

const (
	attemptSucceeded attemptOutcome = iota
	attemptRetryable
	attemptFatal
)

// Sync brings the replica and the remote into agreement: local changes are
// committed, the remote integration branch is merged in, and both the branch
// and the client ref are pushed back. Retryable failures (fetch, merge, push)
// are reattempted up to the configured budget; exhausting it writes the
// conflict marker and disables further syncs until a human resolves it.
func (r *Replica) Sync(ctx context.Context) error {
	if r.ConflictPending() {
		log.Info().Str("dir", r.Dir).Msg("conflict marker present, refusing to sync")
		return fmt.Errorf("%s: %w", r.Dir, ErrConflictPending)
	}

	unlock, err := r.acquireLock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	for n := 1; n <= r.opts.Attempts; n++ {
		if n > 1 {
			if err := sleepCtx(ctx, r.opts.MergeBackoff); err != nil {
				return err
			}
		}

		outcome, err := r.attempt(ctx, n)
		switch outcome {
		case attemptSucceeded:
			log.Info().Str("dir", r.Dir).Int("attempt", n).Msg("sync succeeded")
			return nil
		case attemptFatal:
			return err
		case attemptRetryable:
			log.Debug().Str("dir", r.Dir).Int("attempt", n).Err(err).
				Msg("sync attempt failed, will retry")
		}
	}

	log.Error().Str("dir", r.Dir).Int("attempts", r.opts.Attempts).
		Msg("sync attempts exhausted, marking conflict")
	if err := os.WriteFile(r.MarkerPath(), nil, 0o644); err != nil {
		log.Error().Str("dir", r.Dir).Err(err).Msg("could not write conflict marker")
	}
	return &SyncError{Dir: r.Dir}
}

// attempt runs one fetch-stage-commit-merge-realign-push round. The returned
// outcome decides whether Sync retries, gives up for good, or is done.
func (r *Replica) attempt(ctx context.Context, n int) (attemptOutcome, error) {
	log.Debug().Str("dir", r.Dir).Int("attempt", n).Msg("merge attempt")

	if err := r.git.FetchAll(ctx); err != nil {
		return attemptRetryable, fmt.Errorf("fetch: %w", err)
	}
	if err := r.git.StageAll(ctx); err != nil {
		return attemptFatal, fmt.Errorf("stage changes: %w", err)
	}
	diff, err := r.git.DiffStaged(ctx)
	if err != nil {
		return attemptFatal, fmt.Errorf("read staged diff: %w", err)
	}
	if strings.TrimSpace(diff) != "" {
		if err := r.git.Commit(ctx, autoCommitMessage); err != nil {
			return attemptFatal, fmt.Errorf("commit changes: %w", err)
		}
	}
	if err := r.git.MergeNoEdit(ctx, RemoteName+"/"+IntegrationBranch); err != nil {
		log.Warn().Str("dir", r.Dir).Err(err).Msg("merge failed, aborting merge")
		if abortErr := r.git.AbortMerge(ctx); abortErr != nil {
			return attemptFatal, fmt.Errorf("abort merge: %w", abortErr)
		}
		return attemptRetryable, fmt.Errorf("merge: %w", err)
	}
	if err := r.git.UpdateRef(ctx, r.ClientID, IntegrationBranch); err != nil {
		return attemptFatal, fmt.Errorf("align client ref: %w", err)
	}
	if err := r.git.Push(ctx, RemoteName, IntegrationBranch, r.ClientID); err != nil {
		return attemptRetryable, fmt.Errorf("push: %w", err)
	}
	return attemptSucceeded, nil
}

// acquireLock takes the per-replica lock, waiting up to LockTimeout. The
// returned function releases it.
func (r *Replica) acquireLock(ctx context.Context) (func(), error) {
	lockCtx, cancel := context.WithTimeout(ctx, r.opts.LockTimeout)
	defer cancel()

	locked, err := r.lock.TryLockContext(lockCtx, lockRetryDelay)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("acquire replica lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("%s: %w", r.Dir, ErrLockBusy)
	}
	return func() {
		if err := r.lock.Unlock(); err != nil {
			log.Error().Str("dir", r.Dir).Err(err).Msg("could not release replica lock")
		}
	}, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
