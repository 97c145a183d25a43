package replica

import (
	"errors"
	"fmt"
)

// Sentinel errors for precondition failures. Callers classify with
// errors.Is. Retryable failures inside the reconciliation loop never
// surface through these; they only drive the retry budget.
var (
	// ErrAlreadyInitialized means the target directory already contains
	// a git repository and cannot be created or connected again.
	ErrAlreadyInitialized = errors.New("preexisting git repository found")

	// ErrConflictPending means the conflict marker exists and automated
	// sync stays disabled until it is removed manually.
	ErrConflictPending = errors.New("conflict found, not syncing")

	// ErrLockBusy means the replica lock could not be acquired within
	// the bounded wait.
	ErrLockBusy = errors.New("replica lock held by another process")
)

// InvalidReplicaError reports a directory that cannot be used as a replica:
// missing, inaccessible, without git metadata, or never configured.
type InvalidReplicaError struct {
	Dir    string
	Reason string
}

func (e *InvalidReplicaError) Error() string {
	return fmt.Sprintf("%s is not a valid foolscrate-enabled repository: %s", e.Dir, e.Reason)
}

// SyncError reports a terminal reconciliation failure: every attempt was
// exhausted and the conflict marker has been written.
type SyncError struct {
	Dir string
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("could not sync '%s'", e.Dir)
}

// IsConflict reports whether err marks a replica that needs manual merge
// resolution, whether found already marked or marked by this invocation.
func IsConflict(err error) bool {
	var syncErr *SyncError
	return errors.Is(err, ErrConflictPending) || errors.As(err, &syncErr)
}
