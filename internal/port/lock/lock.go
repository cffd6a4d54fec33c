// Package lock defines the distributed lock port used to elect one instance
// for periodic jobs.
package lock

import (
	"context"
	"errors"
	"time"
)

// ErrNotObtained is returned when another holder owns the lock.
var ErrNotObtained = errors.New("lock: not obtained")

// Lock is a held lock.
type Lock interface {
	Release(ctx context.Context) error
}

// Locker obtains named locks with a time-to-live.
type Locker interface {
	Obtain(ctx context.Context, key string, ttl time.Duration) (Lock, error)
}
