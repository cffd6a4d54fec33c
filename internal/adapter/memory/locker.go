package memory

import (
	"context"
	"sync"
	"time"

	"github.com/Yasmir01/CRM-Platform-clean-sub011/internal/port/lock"
)

var _ lock.Locker = (*Locker)(nil)

// Locker is a process-local lock.Locker for single-instance deployments.
type Locker struct {
	mu    sync.Mutex
	held  map[string]time.Time // key -> expiry
	clock func() time.Time
}

// NewLocker creates a process-local locker.
func NewLocker() *Locker {
	return &Locker{held: make(map[string]time.Time), clock: time.Now}
}

// Obtain takes key for ttl or returns lock.ErrNotObtained.
func (l *Locker) Obtain(_ context.Context, key string, ttl time.Duration) (lock.Lock, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()
	if exp, ok := l.held[key]; ok && now.Before(exp) {
		return nil, lock.ErrNotObtained
	}
	exp := now.Add(ttl)
	l.held[key] = exp
	return &localLock{l: l, key: key, exp: exp}, nil
}

type localLock struct {
	l   *Locker
	key string
	exp time.Time
}

func (k *localLock) Release(_ context.Context) error {
	k.l.mu.Lock()
	defer k.l.mu.Unlock()
	// Only release if it was not re-obtained after expiry.
	if exp, ok := k.l.held[k.key]; ok && exp.Equal(k.exp) {
		delete(k.l.held, k.key)
	}
	return nil
}
