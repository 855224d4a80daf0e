package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestSessionLocksWaitAndRelease(t *testing.T) {
	t.Parallel()

	locks := newSessionLocks()
	unlock, err := locks.lock(context.Background(), "s1")
	if err != nil {
		t.Fatalf("lock() error = %v", err)
	}

	acquired := make(chan func(), 1)
	go func() {
		next, err := locks.lock(context.Background(), "s1")
		if err != nil {
			t.Errorf("lock() error = %v", err)
			return
		}
		acquired <- next
	}()

	select {
	case <-acquired:
		t.Fatal("second holder acquired the lock while it was held")
	case <-time.After(20 * time.Millisecond):
	}

	unlock()
	unlock()

	select {
	case next := <-acquired:
		next()
	case <-time.After(time.Second):
		t.Fatal("waiter never acquired the lock")
	}

	if locks.size() != 0 {
		t.Fatalf("size() = %d, want 0", locks.size())
	}
}

func TestSessionLocksHonourCancellation(t *testing.T) {
	t.Parallel()

	locks := newSessionLocks()
	unlock, err := locks.lock(context.Background(), "s1")
	if err != nil {
		t.Fatalf("lock() error = %v", err)
	}
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if _, err := locks.lock(ctx, "s1"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("lock() error = %v, want deadline exceeded", err)
	}
	if locks.size() != 1 {
		t.Fatalf("size() = %d, want 1 while the holder remains", locks.size())
	}
}
