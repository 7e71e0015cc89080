// Package ticklock provides the per-session exclusion primitive the tick
// executor relies on: acquiring the lock for a session is atomic with
// respect to "has this session been ticked within minInterval". Multiple
// redundant dispatchers can race safely on top of it.
package ticklock

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrHeld is returned when the session was ticked more recently than the
// minimum interval. Callers treat it as a skip, not a failure.
var ErrHeld = errors.New("tick lock held")

// Locker acquires the tick lock for a session. A nil return means the
// caller owns this tick; ErrHeld means another invocation got there first.
type Locker interface {
	Acquire(ctx context.Context, sessionID string, minInterval time.Duration) error
}

// MemoryLock is the in-process lock store, suitable for a single-instance
// deployment or tests.
type MemoryLock struct {
	mu    sync.Mutex
	last  map[string]time.Time
	clock func() time.Time
}

var _ Locker = (*MemoryLock)(nil)

// NewMemoryLock creates an in-memory lock store. A nil clock uses time.Now.
func NewMemoryLock(clock func() time.Time) *MemoryLock {
	if clock == nil {
		clock = time.Now
	}
	return &MemoryLock{
		last:  make(map[string]time.Time),
		clock: clock,
	}
}

func (m *MemoryLock) Acquire(_ context.Context, sessionID string, minInterval time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock()
	if last, ok := m.last[sessionID]; ok && now.Sub(last) < minInterval {
		return ErrHeld
	}
	m.last[sessionID] = now
	return nil
}
