// Package runlock keeps pipeline runs mutually exclusive.
package runlock

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrLocked is returned when another run holds the lock.
var ErrLocked = errors.New("runlock: another run is in progress")

// Lease is a held lock.
type Lease interface {
	Release(ctx context.Context) error
}

// Locker grants exclusive leases by name. Leases of distributed lockers
// expire after ttl so a crashed holder cannot block runs forever.
type Locker interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (Lease, error)
}

// Memory is an in-process Locker for single-instance deployments. ttl is
// ignored.
type Memory struct {
	mu   sync.Mutex
	held map[string]bool
}

// NewMemory returns an in-process Locker.
func NewMemory() *Memory {
	return &Memory{held: make(map[string]bool)}
}

func (m *Memory) Acquire(_ context.Context, name string, _ time.Duration) (Lease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.held[name] {
		return nil, ErrLocked
	}
	m.held[name] = true
	return &memoryLease{m: m, name: name}, nil
}

type memoryLease struct {
	m    *Memory
	name string
	once sync.Once
}

func (l *memoryLease) Release(context.Context) error {
	l.once.Do(func() {
		l.m.mu.Lock()
		delete(l.m.held, l.name)
		l.m.mu.Unlock()
	})
	return nil
}
