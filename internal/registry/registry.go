// Package registry persists the set of tracked replica paths.
//
// The registry is a single YAML document shared by every foolscrate process
// on the host. Each read-modify-write cycle runs under an advisory file lock
// held end to end, so concurrent track/untrack/sweep invocations cannot lose
// updates.
package registry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"gopkg.in/yaml.v3"
)

// ErrNotTracked is returned when removing a path the registry does not hold.
var ErrNotTracked = errors.New("path is not tracked")

// DefaultLockTimeout bounds the wait for the registry lock.
const DefaultLockTimeout = 60 * time.Second

const lockRetryDelay = 50 * time.Millisecond

// Tracked is the on-disk registry document. The underlying store is an
// ordered sequence, so set semantics are enforced by de-duplicating on
// every write.
type Tracked struct {
	Track []string `yaml:"track"`
}

// Registry guards a Tracked document behind an advisory file lock.
type Registry struct {
	path        string
	lock        *flock.Flock
	lockTimeout time.Duration
}

// New returns a registry persisting to path, serialized via the lock file at
// lockPath. A zero lockTimeout selects DefaultLockTimeout.
func New(path, lockPath string, lockTimeout time.Duration) *Registry {
	if lockTimeout <= 0 {
		lockTimeout = DefaultLockTimeout
	}
	return &Registry{
		path:        path,
		lock:        flock.New(lockPath),
		lockTimeout: lockTimeout,
	}
}

// Path returns the registry document location.
func (r *Registry) Path() string { return r.path }

// Add records a replica path in the tracked set. Adding a path that is
// already tracked is a no-op.
func (r *Registry) Add(ctx context.Context, dir string) error {
	return r.update(ctx, func(t *Tracked) error {
		t.Track = append(t.Track, dir)
		return nil
	})
}

// Remove deletes a replica path from the tracked set. It fails with
// ErrNotTracked when the path is absent.
func (r *Registry) Remove(ctx context.Context, dir string) error {
	return r.update(ctx, func(t *Tracked) error {
		kept := t.Track[:0]
		found := false
		for _, p := range t.Track {
			if p == dir {
				found = true
				continue
			}
			kept = append(kept, p)
		}
		if !found {
			return fmt.Errorf("%s: %w", dir, ErrNotTracked)
		}
		t.Track = kept
		return nil
	})
}

// List returns the tracked paths in stored order.
func (r *Registry) List(ctx context.Context) ([]string, error) {
	unlock, err := r.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	t, err := r.load()
	if err != nil {
		return nil, err
	}
	return t.Track, nil
}

// Prune drops tracked paths that no longer exist on disk and returns the
// paths that were removed.
func (r *Registry) Prune(ctx context.Context) ([]string, error) {
	var removed []string
	err := r.update(ctx, func(t *Tracked) error {
		kept := t.Track[:0]
		for _, p := range t.Track {
			if _, err := os.Stat(p); err == nil {
				kept = append(kept, p)
			} else {
				removed = append(removed, p)
			}
		}
		t.Track = kept
		return nil
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

// update runs fn against the current document under the registry lock and
// persists the result. The written tracked list is always de-duplicated.
func (r *Registry) update(ctx context.Context, fn func(*Tracked) error) error {
	unlock, err := r.acquire(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	t, err := r.load()
	if err != nil {
		return err
	}
	if err := fn(t); err != nil {
		return err
	}
	t.Track = dedupe(t.Track)
	return r.save(t)
}

// acquire takes the registry lock with a bounded wait and returns the
// release function.
func (r *Registry) acquire(ctx context.Context) (func(), error) {
	lockCtx, cancel := context.WithTimeout(ctx, r.lockTimeout)
	defer cancel()

	locked, err := r.lock.TryLockContext(lockCtx, lockRetryDelay)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("acquire registry lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("registry lock %s: wait of %s expired", r.lock.Path(), r.lockTimeout)
	}
	return func() { _ = r.lock.Unlock() }, nil
}

// load reads the document, returning an empty one when the file does not
// exist yet.
func (r *Registry) load() (*Tracked, error) {
	t := &Tracked{}

	data, err := os.ReadFile(r.path)
	if os.IsNotExist(err) {
		return t, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read registry file: %w", err)
	}
	if err := yaml.Unmarshal(data, t); err != nil {
		return nil, fmt.Errorf("parse registry file: %w", err)
	}
	return t, nil
}

// save writes the document, creating the parent directory when needed.
func (r *Registry) save(t *Tracked) error {
	if err := os.MkdirAll(filepath.Dir(r.path), 0o700); err != nil {
		return fmt.Errorf("create registry directory: %w", err)
	}
	data, err := yaml.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal registry: %w", err)
	}
	if err := os.WriteFile(r.path, data, 0o600); err != nil {
		return fmt.Errorf("write registry file: %w", err)
	}
	return nil
}

// dedupe removes duplicate paths, keeping first occurrences in order.
func dedupe(paths []string) []string {
	seen := make(map[string]struct{}, len(paths))
	out := paths[:0]
	for _, p := range paths {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}
