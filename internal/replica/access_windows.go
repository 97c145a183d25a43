//go:build windows

package replica

import (
	"errors"
	"os"
)

// checkAccessible approximates the unix access check. Windows ACLs are not
// consulted here; a directory that stats as a directory is assumed usable.
func checkAccessible(dir string) error {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return errors.New("directory is missing or not fully accessible")
	}
	return nil
}
