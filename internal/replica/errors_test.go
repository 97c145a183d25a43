package replica

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInvalidReplicaError_Message(t *testing.T) {
	err := &InvalidReplicaError{Dir: "/srv/notes", Reason: "no git metadata found"}
	assert.Equal(t, "/srv/notes is not a valid foolscrate-enabled repository: no git metadata found", err.Error())
}

func TestSyncError_Message(t *testing.T) {
	err := &SyncError{Dir: "/srv/notes"}
	assert.Equal(t, "could not sync '/srv/notes'", err.Error())
}

func TestIsConflict(t *testing.T) {
	assert.True(t, IsConflict(ErrConflictPending))
	assert.True(t, IsConflict(fmt.Errorf("/srv/notes: %w", ErrConflictPending)))
	assert.True(t, IsConflict(&SyncError{Dir: "/srv/notes"}))
	assert.False(t, IsConflict(ErrLockBusy))
	assert.False(t, IsConflict(errors.New("unrelated")))
	assert.False(t, IsConflict(nil))
}
