// Package flight provides request-scoped mutual exclusion helpers: a
// future-sharing call group where one leader performs an operation and every
// concurrent caller with the same key receives the same outcome, and a keyed
// mutex for serializing critical sections per resource.
package flight

import (
	"context"
	"sync"
	"time"
)

// Doer is the call-group contract. Implementations may be in-process or
// distributed; Do returns the shared value, whether this caller led the
// call, and the shared error.
type Doer[T any] interface {
	Do(ctx context.Context, key string, fn func() (T, error)) (T, bool, error)
}

type call[T any] struct {
	done    chan struct{}
	val     T
	err     error
	created time.Time
}

// Group deduplicates concurrent calls by key. The first caller for a key
// becomes the leader and runs fn exactly once; callers arriving before the
// entry expires await the leader's result. Completed entries are removed
// after a grace window, and every call sweeps entries older than the
// staleness threshold so a crashed leader cannot strand followers.
type Group[T any] struct {
	mu    sync.Mutex
	calls map[string]*call[T]

	grace time.Duration
	stale time.Duration
	now   func() time.Time
}

// NewGroup builds a Group. grace is how long a completed entry stays visible
// so stragglers share the result; stale is the age at which an entry is
// presumed abandoned and swept.
func NewGroup[T any](grace, stale time.Duration) *Group[T] {
	return &Group[T]{
		calls: make(map[string]*call[T]),
		grace: grace,
		stale: stale,
		now:   time.Now,
	}
}

func (g *Group[T]) Do(ctx context.Context, key string, fn func() (T, error)) (T, bool, error) {
	g.mu.Lock()
	g.sweepLocked()
	if c, ok := g.calls[key]; ok {
		g.mu.Unlock()
		select {
		case <-c.done:
			return c.val, false, c.err
		case <-ctx.Done():
			var zero T
			return zero, false, ctx.Err()
		}
	}
	c := &call[T]{done: make(chan struct{}), created: g.now()}
	g.calls[key] = c
	g.mu.Unlock()

	c.val, c.err = fn()
	close(c.done)
	time.AfterFunc(g.grace, func() { g.remove(key, c) })
	return c.val, true, c.err
}

func (g *Group[T]) remove(key string, c *call[T]) {
	g.mu.Lock()
	if cur, ok := g.calls[key]; ok && cur == c {
		delete(g.calls, key)
	}
	g.mu.Unlock()
}

// sweepLocked drops entries older than the staleness threshold. Waiters that
// already hold the call pointer still receive the result if it ever arrives.
func (g *Group[T]) sweepLocked() {
	if g.stale <= 0 {
		return
	}
	cutoff := g.now().Add(-g.stale)
	for key, c := range g.calls {
		if c.created.Before(cutoff) {
			delete(g.calls, key)
		}
	}
}

// Len reports the number of live entries. Test hook.
func (g *Group[T]) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// KeyedMutex serializes critical sections per key. Entries are created on
// demand and dropped when the last holder releases.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*lockEntry)}
}

// Lock acquires the mutex for key and returns its release function.
func (k *KeyedMutex) Lock(key string) func() {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &lockEntry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
