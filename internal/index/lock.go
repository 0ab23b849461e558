package index

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	verrors "github.com/Aman-CERP/vgrep/internal/errors"
)

// writerLock is the advisory lock that serializes index writers across
// processes. Readers never take it.
type writerLock struct {
	path   string
	flock  *flock.Flock
	locked bool
}

func newWriterLock(path string) *writerLock {
	return &writerLock{path: path, flock: flock.New(path)}
}

// acquire takes the lock without waiting. A lock held elsewhere is
// reported as ErrCodeLocked.
func (l *writerLock) acquire() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return verrors.New(verrors.ErrCodeDataDir, "cannot create data directory", err)
	}
	ok, err := l.flock.TryLock()
	if err != nil {
		return verrors.New(verrors.ErrCodeDataDir, fmt.Sprintf("cannot lock %s", l.path), err)
	}
	if !ok {
		return verrors.New(verrors.ErrCodeLocked, "another vgrep process is writing this index", nil).
			WithDetail("lock", l.path).
			WithSuggestion("wait for the other 'vgrep index' or 'vgrep watch' to finish")
	}
	l.locked = true
	return nil
}

// release is safe to call when the lock is not held.
func (l *writerLock) release() error {
	if !l.locked {
		return nil
	}
	l.locked = false
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}

// ErrLocked matches the error returned when another writer holds the lock.
var ErrLocked = verrors.New(verrors.ErrCodeLocked, "index is locked", nil)
