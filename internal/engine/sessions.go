package engine

import (
	"context"
	"sync"

	"github.com/takopi/takopi/internal/event"
)

// sessionLocks serializes runs per resume token. Engines keep per-session
// state on disk, so two runs resuming the same session must never overlap.
// Entries are reference-counted and removed when the last waiter releases,
// keeping the map bounded over a long-lived process.
type sessionLocks struct {
	mu    sync.Mutex
	locks map[event.ResumeToken]*sessionLock
}

type sessionLock struct {
	ch   chan struct{} // capacity 1; holding the slot is holding the lock
	refs int
}

func newSessionLocks() *sessionLocks {
	return &sessionLocks{locks: make(map[event.ResumeToken]*sessionLock)}
}

// acquire blocks until the token's lock is free or ctx is done. The returned
// release function is idempotent. A zero token acquires nothing: fresh
// sessions run in parallel.
func (s *sessionLocks) acquire(ctx context.Context, token event.ResumeToken) (func(), error) {
	if token.IsZero() {
		return func() {}, nil
	}

	s.mu.Lock()
	l := s.locks[token]
	if l == nil {
		l = &sessionLock{ch: make(chan struct{}, 1)}
		s.locks[token] = l
	}
	l.refs++
	s.mu.Unlock()

	select {
	case l.ch <- struct{}{}:
	case <-ctx.Done():
		s.unref(token, l)
		return nil, ctx.Err()
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			<-l.ch
			s.unref(token, l)
		})
	}
	return release, nil
}

func (s *sessionLocks) unref(token event.ResumeToken, l *sessionLock) {
	s.mu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(s.locks, token)
	}
	s.mu.Unlock()
}

// size returns the number of live lock entries. Used by tests to verify the
// map does not grow with session churn.
func (s *sessionLocks) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.locks)
}

// sharedLocks is the process-wide lock table. Every runner uses the same
// table so serialization holds even if two runners were misconfigured with
// the same engine id.
var sharedLocks = newSessionLocks()
