//go:build !windows

package replica

import (
	"errors"

	"golang.org/x/sys/unix"
)

// checkAccessible verifies the directory can be listed, written, and
// traversed by the current user.
func checkAccessible(dir string) error {
	if err := unix.Access(dir, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return errors.New("directory is missing or not fully accessible")
	}
	return nil
}
