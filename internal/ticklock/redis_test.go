package ticklock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestRedisLock(t *testing.T) (*RedisLock, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisLock(client), mr
}

func TestRedisLockAcquire(t *testing.T) {
	lock, mr := newTestRedisLock(t)
	ctx := context.Background()

	require.NoError(t, lock.Acquire(ctx, "s1", 30*time.Second))

	err := lock.Acquire(ctx, "s1", 30*time.Second)
	require.True(t, errors.Is(err, ErrHeld), "second acquire within TTL must report ErrHeld, got %v", err)

	require.NoError(t, lock.Acquire(ctx, "s2", 30*time.Second), "distinct sessions hold distinct locks")

	// TTL expiry opens the lock again
	mr.FastForward(31 * time.Second)
	require.NoError(t, lock.Acquire(ctx, "s1", 30*time.Second))
}

func TestRedisLockRelease(t *testing.T) {
	lock, _ := newTestRedisLock(t)
	ctx := context.Background()

	require.NoError(t, lock.Acquire(ctx, "s1", time.Minute))
	require.NoError(t, lock.Release(ctx, "s1"))
	require.NoError(t, lock.Acquire(ctx, "s1", time.Minute), "released lock must be acquirable immediately")
}
