// Package replica binds a local working copy to a shared foolscrate remote
// and reconciles it through bounded merge-and-push retries.
//
// Every participating client merges the shared integration branch locally
// and pushes both the branch and its own client ref. The client ref is
// always a fast-forward of itself, so concurrent writers never race on a
// single branch name: divergence shows up as a local merge failure, which
// the reconciliation loop retries, instead of a rejected push.
package replica

import (
	"context"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog/log"

	"github.com/foolscrate/foolscrate/internal/git"
	"github.com/foolscrate/foolscrate/internal/registry"
)

// Fixed names shared by every foolscrate client. Changing any of these
// breaks interoperability with already-deployed replicas.
const (
	RemoteName         = "foolscrate"
	IntegrationBranch  = "master"
	ConflictMarkerName = "CONFLICT_MUST_MANUALLY_MERGE"
	LockFileName       = ".foolscrate.lock"

	clientIDConfigKey = "foolscrate.client-id"
	gitignoreName     = ".gitignore"

	enableCommitMessage = "enabling foolscrate"
	autoCommitMessage   = "Automatic foolscrate commit"
)

// Defaults for Options fields left zero.
const (
	DefaultLockTimeout  = 60 * time.Second
	DefaultAttempts     = 5
	DefaultMergeBackoff = time.Second
)

const lockRetryDelay = 100 * time.Millisecond

// Options tunes lock waits and the reconciliation loop. The zero value
// selects the defaults every client ships with.
type Options struct {
	// LockTimeout bounds the wait for the per-replica lock.
	LockTimeout time.Duration
	// Attempts is the reconciliation retry budget per Sync call.
	Attempts int
	// MergeBackoff is the fixed wait between retryable attempt failures.
	MergeBackoff time.Duration
}

func (o Options) withDefaults() Options {
	if o.LockTimeout <= 0 {
		o.LockTimeout = DefaultLockTimeout
	}
	if o.Attempts <= 0 {
		o.Attempts = DefaultAttempts
	}
	if o.MergeBackoff <= 0 {
		o.MergeBackoff = DefaultMergeBackoff
	}
	return o
}

// Replica wraps one local working copy bound to a foolscrate remote. It
// owns the replica's identity, its lock, and the reconciliation loop.
type Replica struct {
	Dir      string
	ClientID string

	git  git.Client
	reg  *registry.Registry
	lock *flock.Flock
	opts Options
}

func newReplica(dir, clientID string, g git.Client, reg *registry.Registry, opts Options) *Replica {
	return &Replica{
		Dir:      dir,
		ClientID: clientID,
		git:      g,
		reg:      reg,
		lock:     flock.New(filepath.Join(dir, LockFileName)),
		opts:     opts.withDefaults(),
	}
}

// Open binds an already-configured replica directory. It fails with
// InvalidReplicaError when the directory is missing, inaccessible, not a
// git repository, or was never configured with a client id.
func Open(ctx context.Context, dir string, reg *registry.Registry, opts Options) (*Replica, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve path %s: %w", dir, err)
	}
	if err := checkAccessible(abs); err != nil {
		return nil, &InvalidReplicaError{Dir: abs, Reason: err.Error()}
	}
	if _, err := os.Stat(filepath.Join(abs, ".git")); err != nil {
		return nil, &InvalidReplicaError{Dir: abs, Reason: "no git metadata found"}
	}

	g := git.NewShellClient(abs)
	clientID, err := g.GetLocalConfig(ctx, clientIDConfigKey)
	if err != nil || clientID == "" {
		return nil, &InvalidReplicaError{Dir: abs, Reason: "no client id configured"}
	}
	return newReplica(abs, clientID, g, reg, opts), nil
}

// CreateNew initializes dir as a fresh replica and publishes its first
// history to remoteURL, which should point at an existing empty repository.
// The new replica is registered in the tracked set before returning.
func CreateNew(ctx context.Context, dir, remoteURL string, reg *registry.Registry, opts Options) (*Replica, error) {
	abs, err := prepareDirectory(dir)
	if err != nil {
		return nil, err
	}
	log.Info().Str("dir", abs).Str("remote", remoteURL).
		Msg("creating new foolscrate-enabled repository, remote should exist and be empty")

	g := git.NewShellClient(abs)
	if err := g.Init(ctx, IntegrationBranch); err != nil {
		return nil, fmt.Errorf("init repository: %w", err)
	}
	if err := appendIgnoreRules(abs); err != nil {
		return nil, err
	}
	if err := g.AddRemote(ctx, RemoteName, remoteURL); err != nil {
		return nil, fmt.Errorf("add remote: %w", err)
	}
	if err := g.Stage(ctx, gitignoreName); err != nil {
		return nil, fmt.Errorf("stage ignore rules: %w", err)
	}
	if err := g.Commit(ctx, enableCommitMessage); err != nil {
		return nil, fmt.Errorf("commit ignore rules: %w", err)
	}
	return configure(ctx, abs, g, reg, opts)
}

// ConnectExisting initializes dir as a new replica of an already-populated
// remote: it fetches the remote history, checks out the integration branch,
// and registers this client the same way CreateNew does.
func ConnectExisting(ctx context.Context, dir, remoteURL string, reg *registry.Registry, opts Options) (*Replica, error) {
	abs, err := prepareDirectory(dir)
	if err != nil {
		return nil, err
	}
	log.Info().Str("dir", abs).Str("remote", remoteURL).
		Msg("connecting local directory to existing foolscrate repository")

	g := git.NewShellClient(abs)
	if err := g.Init(ctx, IntegrationBranch); err != nil {
		return nil, fmt.Errorf("init repository: %w", err)
	}
	if err := g.AddRemote(ctx, RemoteName, remoteURL); err != nil {
		return nil, fmt.Errorf("add remote: %w", err)
	}
	if err := g.FetchAll(ctx); err != nil {
		return nil, fmt.Errorf("fetch remote history: %w", err)
	}
	if err := g.Checkout(ctx, IntegrationBranch); err != nil {
		return nil, fmt.Errorf("checkout %s: %w", IntegrationBranch, err)
	}
	return configure(ctx, abs, g, reg, opts)
}

// prepareDirectory resolves dir, rejects directories that already hold a
// repository, and makes sure the target exists.
func prepareDirectory(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolve path %s: %w", dir, err)
	}
	if _, err := os.Stat(filepath.Join(abs, ".git")); err == nil {
		return "", fmt.Errorf("%s: %w", abs, ErrAlreadyInitialized)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return "", fmt.Errorf("create replica directory: %w", err)
	}
	return abs, nil
}

// configure performs the first-time setup shared by CreateNew and
// ConnectExisting: client identity, the client ref, the initial push with
// upstream tracking, and registration in the tracked set.
func configure(ctx context.Context, abs string, g git.Client, reg *registry.Registry, opts Options) (*Replica, error) {
	clientID, err := newClientID()
	if err != nil {
		return nil, err
	}
	if err := g.SetLocalConfig(ctx, clientIDConfigKey, clientID); err != nil {
		return nil, fmt.Errorf("store client id: %w", err)
	}
	if err := g.UpdateRef(ctx, clientID, IntegrationBranch); err != nil {
		return nil, fmt.Errorf("align client ref: %w", err)
	}
	if err := g.PushSetUpstream(ctx, RemoteName, IntegrationBranch, clientID); err != nil {
		return nil, fmt.Errorf("push initial refs: %w", err)
	}

	r := newReplica(abs, clientID, g, reg, opts)
	if err := r.Track(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

// newClientID derives this install's identity from the hostname plus a
// short random suffix. Collisions across installs are improbable, not
// impossible, and accepted.
func newClientID() (string, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return "", fmt.Errorf("read hostname: %w", err)
	}
	const alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	suffix := make([]byte, 5)
	for i := range suffix {
		suffix[i] = alphabet[rand.IntN(len(alphabet))]
	}
	return RemoteName + "-" + hostname + "-" + string(suffix), nil
}

// appendIgnoreRules keeps the conflict marker and the replica lock out of
// version control.
func appendIgnoreRules(dir string) error {
	f, err := os.OpenFile(filepath.Join(dir, gitignoreName), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open ignore file: %w", err)
	}
	defer f.Close()

	if _, err := fmt.Fprintf(f, "%s\n%s\n", ConflictMarkerName, LockFileName); err != nil {
		return fmt.Errorf("write ignore rules: %w", err)
	}
	return nil
}

// Track records this replica in the shared tracked set.
func (r *Replica) Track(ctx context.Context) error {
	if err := r.reg.Add(ctx, r.Dir); err != nil {
		return fmt.Errorf("track %s: %w", r.Dir, err)
	}
	return nil
}

// Untrack removes this replica from the shared tracked set, failing with
// registry.ErrNotTracked when it was never tracked.
func (r *Replica) Untrack(ctx context.Context) error {
	if err := r.reg.Remove(ctx, r.Dir); err != nil {
		return fmt.Errorf("untrack: %w", err)
	}
	return nil
}

// MarkerPath returns the conflict marker location for this replica.
func (r *Replica) MarkerPath() string {
	return filepath.Join(r.Dir, ConflictMarkerName)
}

// ConflictPending reports whether the conflict marker exists.
func (r *Replica) ConflictPending() bool {
	_, err := os.Stat(r.MarkerPath())
	return err == nil
}
