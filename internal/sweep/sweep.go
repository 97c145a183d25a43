// Package sweep runs sync passes over the whole tracked replica set. One
// sweep per host runs at a time; replicas are visited in random order with
// a short jitter so a fleet of hosts on the same cron schedule does not
// hammer the shared remote in lockstep.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/foolscrate/foolscrate/internal/registry"
	"github.com/foolscrate/foolscrate/internal/replica"
	"github.com/foolscrate/foolscrate/pkg/report"
)

// FleetLockName is the dotfile guarding against concurrent sweeps, created
// in the invoking user's home directory.
const FleetLockName = ".foolscrate.sync_all_tracked.lock"

const (
	// DefaultFleetLockTimeout bounds the wait for the fleet lock. Sweeps
	// are periodic, so a busy lock means skip, not queue.
	DefaultFleetLockTimeout = time.Second

	// DefaultJitterMin and DefaultJitterMax bound the random pause before
	// each replica sync.
	DefaultJitterMin = time.Second
	DefaultJitterMax = 4 * time.Second

	fleetLockRetryDelay = 100 * time.Millisecond
)

// DefaultFleetLockPath returns the fleet lock location in the current
// user's home directory.
func DefaultFleetLockPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, FleetLockName), nil
}

// Options tunes a Sweeper. The zero value selects the defaults.
type Options struct {
	// FleetLockTimeout bounds the wait for the fleet lock.
	FleetLockTimeout time.Duration
	// JitterMin and JitterMax bound the pause before each replica sync.
	// Setting both to the same value pauses exactly that long.
	JitterMin time.Duration
	JitterMax time.Duration
	// Replica is passed through to every replica the sweep opens.
	Replica replica.Options
}

func (o Options) withDefaults() Options {
	if o.FleetLockTimeout <= 0 {
		o.FleetLockTimeout = DefaultFleetLockTimeout
	}
	if o.JitterMin == 0 && o.JitterMax == 0 {
		o.JitterMin = DefaultJitterMin
		o.JitterMax = DefaultJitterMax
	}
	return o
}

// syncer is the per-replica surface a sweep drives.
type syncer interface {
	Sync(ctx context.Context) error
}

// Sweeper syncs every tracked replica, isolating per-replica failures so
// one broken path never stops the rest of the fleet.
type Sweeper struct {
	reg  *registry.Registry
	lock *flock.Flock
	opts Options

	open func(ctx context.Context, dir string) (syncer, error)
}

// New returns a Sweeper over the given tracked set, guarded by the fleet
// lock at fleetLockPath.
func New(reg *registry.Registry, fleetLockPath string, opts Options) *Sweeper {
	opts = opts.withDefaults()
	s := &Sweeper{
		reg:  reg,
		lock: flock.New(fleetLockPath),
		opts: opts,
	}
	s.open = func(ctx context.Context, dir string) (syncer, error) {
		return replica.Open(ctx, dir, reg, opts.Replica)
	}
	return s
}

// SweepAll syncs every tracked replica once and reports per-replica
// outcomes. When another sweep already holds the fleet lock the pass is
// skipped entirely and the report says so; that is not an error.
func (s *Sweeper) SweepAll(ctx context.Context) (*report.Sweep, error) {
	sw := &report.Sweep{ID: uuid.NewString(), Started: time.Now()}

	unlock, busy, err := s.acquireFleetLock(ctx)
	if err != nil {
		return nil, err
	}
	if busy {
		log.Debug().Str("sweep", sw.ID).Msg("another sweep is already running, skipping")
		sw.Skipped = true
		sw.Finished = time.Now()
		return sw, nil
	}
	defer unlock()

	dirs, err := s.reg.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("read tracked set: %w", err)
	}
	rand.Shuffle(len(dirs), func(i, j int) { dirs[i], dirs[j] = dirs[j], dirs[i] })

	log.Info().Str("sweep", sw.ID).Int("tracked", len(dirs)).Msg("sweeping tracked replicas")
	for _, dir := range dirs {
		if err := s.pause(ctx); err != nil {
			return nil, err
		}
		sw.Results = append(sw.Results, s.syncOne(ctx, dir))
	}
	sw.Finished = time.Now()

	counts := sw.Counts()
	log.Info().Str("sweep", sw.ID).
		Int("synced", counts.Synced).
		Int("conflict", counts.Conflict).
		Int("invalid", counts.Invalid).
		Int("locked", counts.Locked).
		Int("error", counts.Error).
		Dur("elapsed", sw.Elapsed()).
		Msg("sweep finished")
	return sw, nil
}

// Prune drops tracked paths whose directories no longer exist. It is an
// explicit maintenance pass, never part of SweepAll.
func (s *Sweeper) Prune(ctx context.Context) ([]string, error) {
	removed, err := s.reg.Prune(ctx)
	if err != nil {
		return nil, err
	}
	for _, dir := range removed {
		log.Info().Str("dir", dir).Msg("pruned vanished replica from tracked set")
	}
	return removed, nil
}

// syncOne opens and syncs a single replica, mapping any failure to an
// outcome instead of letting it escape the sweep.
func (s *Sweeper) syncOne(ctx context.Context, dir string) report.ReplicaResult {
	start := time.Now()
	res := report.ReplicaResult{Dir: dir}

	r, err := s.open(ctx, dir)
	if err == nil {
		err = r.Sync(ctx)
	}
	if err != nil {
		res.Outcome = classify(err)
		res.Error = err.Error()
		log.Error().Str("dir", dir).Str("outcome", string(res.Outcome)).Err(err).
			Msg("replica sync failed")
	} else {
		res.Outcome = report.OutcomeSynced
	}
	res.Elapsed = time.Since(start).Seconds()
	return res
}

// classify maps a sync failure onto its report outcome.
func classify(err error) report.Outcome {
	var invalid *replica.InvalidReplicaError
	switch {
	case replica.IsConflict(err):
		return report.OutcomeConflict
	case errors.Is(err, replica.ErrLockBusy):
		return report.OutcomeLocked
	case errors.As(err, &invalid):
		return report.OutcomeInvalid
	default:
		return report.OutcomeError
	}
}

// pause sleeps the per-replica jitter, honoring cancellation.
func (s *Sweeper) pause(ctx context.Context) error {
	d := s.opts.JitterMin
	if span := s.opts.JitterMax - s.opts.JitterMin; span > 0 {
		d += rand.N(span)
	}
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// acquireFleetLock takes the host-wide sweep lock. busy means another sweep
// holds it and this pass should be skipped.
func (s *Sweeper) acquireFleetLock(ctx context.Context) (unlock func(), busy bool, err error) {
	lockCtx, cancel := context.WithTimeout(ctx, s.opts.FleetLockTimeout)
	defer cancel()

	locked, err := s.lock.TryLockContext(lockCtx, fleetLockRetryDelay)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return nil, false, fmt.Errorf("acquire fleet lock: %w", err)
	}
	if !locked {
		return nil, true, nil
	}
	return func() {
		if err := s.lock.Unlock(); err != nil {
			log.Error().Err(err).Msg("could not release fleet lock")
		}
	}, false, nil
}
