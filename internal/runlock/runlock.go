// Package runlock provides leases that keep a single sync run active at a
// time, either inside one process or across replicas sharing a Redis.
package runlock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/edvin/quotausage/internal/model"
)

// Locker hands out exclusive leases on a key. Acquire returns an error
// wrapping model.ErrRunInProgress when another holder has the key.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error)
}

// Lease is a held lock. Release is safe to call more than once.
type Lease interface {
	Release(ctx context.Context) error
}

// Local is an in-process Locker. The ttl is ignored: a lease is held until
// released.
type Local struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewLocal() *Local {
	return &Local{locks: make(map[string]*sync.Mutex)}
}

func (l *Local) Acquire(_ context.Context, key string, _ time.Duration) (Lease, error) {
	l.mu.Lock()
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	l.mu.Unlock()

	if !m.TryLock() {
		return nil, fmt.Errorf("acquire %s: %w", key, model.ErrRunInProgress)
	}
	return &localLease{m: m}, nil
}

type localLease struct {
	once sync.Once
	m    *sync.Mutex
}

func (l *localLease) Release(context.Context) error {
	l.once.Do(l.m.Unlock)
	return nil
}
