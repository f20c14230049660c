package dupwalk

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// StateLock is the exclusive per-root lock held for the length of a run
type StateLock struct {
	lock *flock.Flock
}

// LockState takes the lock file in stateDir without blocking; ErrStateLocked if another process holds it
func LockState(stateDir string) (*StateLock, error) {
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	lock := flock.New(filepath.Join(stateDir, LockFile))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrStateLocked, stateDir)
	}
	return &StateLock{lock: lock}, nil
}

// Unlock releases the lock
func (l *StateLock) Unlock() error {
	return l.lock.Unlock()
}
