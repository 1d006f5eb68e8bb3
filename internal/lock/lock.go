// Package lock provides per-key advisory locks used to serialise booking
// writes against the same resource.
package lock

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrNotAcquired is returned when the lock could not be obtained before
	// the context ended.
	ErrNotAcquired = errors.New("lock: not acquired")
	// ErrLockLost is returned on release when the lock expired or was taken
	// over while held.
	ErrLockLost = errors.New("lock: lost before release")
)

// Local is an in-process keyed lock.
type Local struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	sem  chan struct{}
	refs int
}

// NewLocal returns an empty in-process lock table.
func NewLocal() *Local {
	return &Local{slots: make(map[string]*slot)}
}

// Acquire blocks until the key is free or ctx ends.
func (l *Local) Acquire(ctx context.Context, key string) (func(context.Context) error, error) {
	s := l.ref(key)

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		l.unref(key)
		return nil, errors.Join(ErrNotAcquired, ctx.Err())
	}

	var once sync.Once
	release := func(context.Context) error {
		once.Do(func() {
			<-s.sem
			l.unref(key)
		})
		return nil
	}
	return release, nil
}

func (l *Local) ref(key string) *slot {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.slots[key]
	if !ok {
		s = &slot{sem: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	return s
}

func (l *Local) unref(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.slots[key]
	if !ok {
		return
	}
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}

// held returns the number of keys with holders or waiters.
func (l *Local) held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}
