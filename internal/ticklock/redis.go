package ticklock

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "ticklock:"

// Compile-time check to ensure RedisLock implements Locker
var _ Locker = (*RedisLock)(nil)

// RedisLock stores tick ownership in Redis so redundant dispatchers on
// different hosts share one lock space. SET NX with a TTL of minInterval
// makes acquisition atomic: the key exists exactly while a tick is fresher
// than the minimum interval.
type RedisLock struct {
	client *redis.Client
}

func NewRedisLock(client *redis.Client) *RedisLock {
	return &RedisLock{client: client}
}

func (r *RedisLock) Acquire(ctx context.Context, sessionID string, minInterval time.Duration) error {
	ok, err := r.client.SetNX(ctx, keyPrefix+sessionID, time.Now().UnixMilli(), minInterval).Result()
	if err != nil {
		return fmt.Errorf("acquire tick lock: %w", err)
	}
	if !ok {
		return ErrHeld
	}
	return nil
}

// Release drops the lock early. Normal operation never calls this; the TTL
// is the contract. It exists for session stop, so a restarted session can
// tick immediately.
func (r *RedisLock) Release(ctx context.Context, sessionID string) error {
	if err := r.client.Del(ctx, keyPrefix+sessionID).Err(); err != nil {
		return fmt.Errorf("release tick lock: %w", err)
	}
	return nil
}
