package sessions

import (
	"context"
	"sync"
)

// Locker serializes turns per session so messages from the same sender
// and chat process strictly in arrival order, while different sessions
// proceed concurrently.
type Locker struct {
	mu    sync.Mutex
	locks map[string]*sessionLock
}

type sessionLock struct {
	ch   chan struct{}
	refs int
}

// NewLocker creates an empty locker.
func NewLocker() *Locker {
	return &Locker{locks: make(map[string]*sessionLock)}
}

// Lock acquires the lock for sessionID, blocking until it is free or the
// context is done.
func (l *Locker) Lock(ctx context.Context, sessionID string) error {
	l.mu.Lock()
	sl, ok := l.locks[sessionID]
	if !ok {
		sl = &sessionLock{ch: make(chan struct{}, 1)}
		l.locks[sessionID] = sl
	}
	sl.refs++
	l.mu.Unlock()

	select {
	case sl.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		l.release(sessionID, sl)
		return ctx.Err()
	}
}

// Unlock releases the lock for sessionID.
func (l *Locker) Unlock(sessionID string) {
	l.mu.Lock()
	sl, ok := l.locks[sessionID]
	l.mu.Unlock()
	if !ok {
		return
	}
	select {
	case <-sl.ch:
	default:
	}
	l.release(sessionID, sl)
}

func (l *Locker) release(sessionID string, sl *sessionLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	sl.refs--
	if sl.refs <= 0 {
		delete(l.locks, sessionID)
	}
}
