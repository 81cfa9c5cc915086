// Package lock implements process-level exclusion over a store file,
// grounded on BeadsLog's use of gofrs/flock to guard against concurrent
// sync corruption.
package lock

import (
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
)

// ErrAlreadyLocked is returned when every retry attempt finds the lock
// held by another process.
var ErrAlreadyLocked = errors.New("lock: already held by another process")

// Lock is a held process-level exclusion lock. Release it with Unlock.
type Lock struct {
	flock *flock.Flock
	token string
}

// Token identifies which Acquire call holds this lock, useful for log
// correlation across a long-running command.
func (l *Lock) Token() string { return l.token }

// Acquire tries to take an exclusive lock on path, retrying up to retry
// additional times with a pause of backoff between attempts. It fails
// with ErrAlreadyLocked once retries are exhausted.
func Acquire(path string, retry int, backoff time.Duration) (*Lock, error) {
	fl := flock.New(path)

	var locked bool
	var err error
	for attempt := 0; attempt <= retry; attempt++ {
		locked, err = fl.TryLock()
		if err != nil {
			return nil, fmt.Errorf("lock: try lock %s: %w", path, err)
		}
		if locked {
			return &Lock{flock: fl, token: uuid.NewString()}, nil
		}
		if attempt < retry {
			time.Sleep(backoff)
		}
	}
	return nil, ErrAlreadyLocked
}

// Unlock releases the lock.
func (l *Lock) Unlock() error {
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("lock: unlock: %w", err)
	}
	return nil
}
