// Package locker provides the user-scoped mutual exclusion wrapped around
// the submission action. Without it two concurrent submissions from the same
// user could both pass the "no processing application" check before either
// commits.
package locker

import (
	"context"
	"sync"
)

// Locker serializes fn per key. Implementations must guarantee mutual
// exclusion across whatever scope they claim (process for Memory, the whole
// deployment for Redis).
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

// Memory is a per-process keyed mutex, suitable for tests and single
// instance development runs.
type Memory struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	mu   sync.Mutex
	refs int
}

func NewMemory() *Memory {
	return &Memory{locks: make(map[string]*entry)}
}

func (m *Memory) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	m.mu.Lock()
	e, ok := m.locks[key]
	if !ok {
		e = &entry{}
		m.locks[key] = e
	}
	e.refs++
	m.mu.Unlock()

	e.mu.Lock()
	defer func() {
		e.mu.Unlock()
		m.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(m.locks, key)
		}
		m.mu.Unlock()
	}()

	return fn(ctx)
}
