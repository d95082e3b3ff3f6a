package workspace

import (
	"fmt"
	"os"

	"github.com/gofrs/flock"

	yerrors "github.com/Aman-CERP/ygrep/internal/errors"
)

// Lock is the advisory single-writer lock of one index directory.
// Readers never take it.
type Lock struct {
	path   string
	flock  *flock.Flock
	locked bool
}

// Lock acquires the writer lock of ws without blocking. It creates the
// index directory, so only build paths call it. Returns ErrIndexLocked
// when another process holds the lock.
func (s *Store) Lock(ws *Workspace) (*Lock, error) {
	if err := os.MkdirAll(ws.IndexDir, 0o755); err != nil {
		return nil, yerrors.IOFailure(ws.IndexDir, err)
	}

	path := ws.Path(LockFile)
	l := &Lock{path: path, flock: flock.New(path)}

	acquired, err := l.flock.TryLock()
	if err != nil {
		return nil, yerrors.IOFailure(path, err)
	}
	if !acquired {
		return nil, yerrors.New(yerrors.ErrCodeIndexLocked,
			fmt.Sprintf("index for %s is being written by another process", ws.Root), nil).
			WithDetail("path", path).
			WithSuggestion("Wait for the running 'ygrep index' or 'ygrep watch' to finish")
	}
	l.locked = true
	return l, nil
}

// Unlock releases the lock. Safe to call more than once.
func (l *Lock) Unlock() error {
	if l == nil || !l.locked {
		return nil
	}
	l.locked = false
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.path
}
