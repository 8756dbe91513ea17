package state

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// LockFile marks an active run inside the working directory.
const LockFile = "run.lock"

// ErrRunActive is returned when another run holds the lock.
var ErrRunActive = errors.New("a run is already active")

// AcquireRunLock claims the single-run lock. Exactly one pipeline run may be
// active per working directory; a second caller gets ErrRunActive with the
// owning pid. The returned release func removes the lock.
func (s *Store) AcquireRunLock() (release func(), err error) {
	path := filepath.Join(s.dir, LockFile)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			pid, _ := os.ReadFile(path)
			return nil, fmt.Errorf("%w (pid %s)", ErrRunActive, string(pid))
		}
		return nil, fmt.Errorf("acquire run lock: %w", err)
	}
	if _, err := f.WriteString(strconv.Itoa(os.Getpid())); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("write run lock: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("close run lock: %w", err)
	}
	return func() { os.Remove(path) }, nil
}

// ClearRunLock force-removes a stale lock. Part of the explicit reset path.
func (s *Store) ClearRunLock() error {
	err := os.Remove(filepath.Join(s.dir, LockFile))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clear run lock: %w", err)
	}
	return nil
}
