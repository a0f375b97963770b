//go:build unix

package filekv

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// withKeyLock holds the key's sidecar advisory lock for the duration of fn.
// The lock is scoped to one key only and released before returning, so no
// operation ever holds two key locks at once.
func (s *Store) withKeyLock(docPath string, fn func() error) error {
	lockPath := docPath + lockSuffix
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return fmt.Errorf("open key lock: %w", err)
	}
	defer f.Close()

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		return fmt.Errorf("acquire key lock: %w", err)
	}
	defer unix.Flock(int(f.Fd()), unix.LOCK_UN)

	return fn()
}
