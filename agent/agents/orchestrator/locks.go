package orchestrator

import (
	"context"
	"sync"
)

// sessionLocks serializes turns per session. Entries are dropped once nobody holds or
// waits on them.
type sessionLocks struct {
	mu      sync.Mutex
	entries map[string]*sessionLock
}

type sessionLock struct {
	ch   chan struct{}
	refs int
}

func newSessionLocks() *sessionLocks {
	return &sessionLocks{entries: make(map[string]*sessionLock)}
}

func (s *sessionLocks) lock(ctx context.Context, sessionID string) (func(), error) {
	s.mu.Lock()
	e, ok := s.entries[sessionID]
	if !ok {
		e = &sessionLock{ch: make(chan struct{}, 1)}
		s.entries[sessionID] = e
	}
	e.refs++
	s.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		s.release(sessionID, e)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.ch
			s.release(sessionID, e)
		})
	}, nil
}

func (s *sessionLocks) release(sessionID string, e *sessionLock) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(s.entries, sessionID)
	}
}

func (s *sessionLocks) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
