package placement

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

const lockFileName = ".face-organizer.lock"

// ErrRootLocked is returned when another process is organizing into the same root.
var ErrRootLocked = errors.New("output folder is used by another organizer")

// RootLock holds the inter-process lock of an output root.
type RootLock struct {
	lock *flock.Flock
}

// LockRoot creates root when missing and takes its lock without blocking.
func LockRoot(root string) (*RootLock, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating output folder: %w", err)
	}
	l := flock.New(filepath.Join(root, lockFileName))
	ok, err := l.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRootLocked, root)
	}
	return &RootLock{lock: l}, nil
}

// Unlock releases the lock. The lock file stays in place.
func (r *RootLock) Unlock() error {
	if r == nil {
		return nil
	}
	return r.lock.Unlock()
}
