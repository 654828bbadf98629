// Package keylock provides per-key reader/writer locks whose acquisition
// honours a context deadline. Entries are reference counted and dropped when
// the last holder or waiter releases, so the table only holds keys in use.
package keylock

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"
)

// exclusiveWeight is the semaphore weight an exclusive holder takes. Shared
// holders take 1, so up to exclusiveWeight readers may hold a key at once.
const exclusiveWeight = 1 << 20

// Unlock releases a held lock. It must be called exactly once.
type Unlock func()

type entry struct {
	sem  *semaphore.Weighted
	refs int
}

// Locker hands out locks keyed by string. The zero value is not usable; use New.
type Locker struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// New creates an empty Locker.
func New() *Locker {
	return &Locker{entries: make(map[string]*entry)}
}

// Lock acquires key exclusively, waiting until ctx is done.
func (l *Locker) Lock(ctx context.Context, key string) (Unlock, error) {
	return l.acquire(ctx, key, exclusiveWeight)
}

// RLock acquires key in shared mode, waiting until ctx is done.
func (l *Locker) RLock(ctx context.Context, key string) (Unlock, error) {
	return l.acquire(ctx, key, 1)
}

// TryLock acquires key exclusively only if nobody holds or waits for it.
func (l *Locker) TryLock(key string) (Unlock, bool) {
	e := l.ref(key)
	if !e.sem.TryAcquire(exclusiveWeight) {
		l.unref(key)
		return nil, false
	}
	return l.releaser(key, e, exclusiveWeight), true
}

// Len reports how many keys currently have holders or waiters.
func (l *Locker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func (l *Locker) acquire(ctx context.Context, key string, weight int64) (Unlock, error) {
	e := l.ref(key)
	if err := e.sem.Acquire(ctx, weight); err != nil {
		l.unref(key)
		return nil, fmt.Errorf("acquire lock %q: %w", key, err)
	}
	return l.releaser(key, e, weight), nil
}

func (l *Locker) releaser(key string, e *entry, weight int64) Unlock {
	var once sync.Once
	return func() {
		once.Do(func() {
			e.sem.Release(weight)
			l.unref(key)
		})
	}
}

func (l *Locker) ref(key string) *entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[key]
	if !ok {
		e = &entry{sem: semaphore.NewWeighted(exclusiveWeight)}
		l.entries[key] = e
	}
	e.refs++
	return e
}

func (l *Locker) unref(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e := l.entries[key]
	e.refs--
	if e.refs == 0 {
		delete(l.entries, key)
	}
}
