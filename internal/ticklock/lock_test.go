package ticklock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestMemoryLockMinInterval(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	advance := func(d time.Duration) {
		mu.Lock()
		now = now.Add(d)
		mu.Unlock()
	}

	lock := NewMemoryLock(clock)
	ctx := context.Background()

	if err := lock.Acquire(ctx, "s1", 30*time.Second); err != nil {
		t.Fatalf("first acquire should succeed: %v", err)
	}

	if err := lock.Acquire(ctx, "s1", 30*time.Second); !errors.Is(err, ErrHeld) {
		t.Fatalf("expected ErrHeld within min interval, got %v", err)
	}

	// a different session is unaffected
	if err := lock.Acquire(ctx, "s2", 30*time.Second); err != nil {
		t.Fatalf("other session should acquire: %v", err)
	}

	advance(29 * time.Second)
	if err := lock.Acquire(ctx, "s1", 30*time.Second); !errors.Is(err, ErrHeld) {
		t.Fatalf("still inside min interval, got %v", err)
	}

	advance(2 * time.Second)
	if err := lock.Acquire(ctx, "s1", 30*time.Second); err != nil {
		t.Fatalf("interval elapsed, acquire should succeed: %v", err)
	}
}

func TestMemoryLockConcurrentSingleWinner(t *testing.T) {
	lock := NewMemoryLock(nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	var wins int64
	numGoroutines := 50

	wg.Add(numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		go func() {
			defer wg.Done()
			if err := lock.Acquire(ctx, "contested", time.Minute); err == nil {
				atomic.AddInt64(&wins, 1)
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("expected exactly one winner, got %d", wins)
	}
}
