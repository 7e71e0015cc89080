package pricecache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type countingSource struct {
	mu     sync.Mutex
	calls  int
	prices map[string]float64
	err    error
}

func (s *countingSource) fetch(_ context.Context, markets []string) (map[string]float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	out := make(map[string]float64)
	for _, m := range markets {
		if v, ok := s.prices[m]; ok {
			out[m] = v
		}
	}
	return out, nil
}

func TestCacheExpiryIsDeterministic(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	src := &countingSource{prices: map[string]float64{"BTC-PERP": 60000}}
	cache := New(src.fetch, 30*time.Second, func() time.Time { return now }, zap.NewNop())
	ctx := context.Background()

	got := cache.Prices(ctx, []string{"BTC-PERP"})
	require.Equal(t, 60000.0, got["BTC-PERP"])
	assert.Equal(t, 1, src.calls)

	// fresh: served from cache
	now = now.Add(29 * time.Second)
	cache.Prices(ctx, []string{"BTC-PERP"})
	assert.Equal(t, 1, src.calls)

	// expired: refetched
	now = now.Add(2 * time.Second)
	cache.Prices(ctx, []string{"BTC-PERP"})
	assert.Equal(t, 2, src.calls)

	hits, misses := cache.Stats()
	assert.Equal(t, uint64(1), hits)
	assert.Equal(t, uint64(2), misses)
}

func TestCacheDegradesOnSourceFailure(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	src := &countingSource{prices: map[string]float64{"BTC-PERP": 60000, "ETH-PERP": 2500}}
	cache := New(src.fetch, 30*time.Second, func() time.Time { return now }, zap.NewNop())
	ctx := context.Background()

	cache.Prices(ctx, []string{"BTC-PERP"})

	// source goes down; the fresh entry still serves, the missing one is absent
	src.err = errors.New("feed unavailable")
	got := cache.Prices(ctx, []string{"BTC-PERP", "ETH-PERP"})

	assert.Equal(t, 60000.0, got["BTC-PERP"])
	_, ok := got["ETH-PERP"]
	assert.False(t, ok, "unavailable price must be absent, not zero-filled")
}

func TestCachePartialSourceResponse(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	src := &countingSource{prices: map[string]float64{"BTC-PERP": 60000}}
	cache := New(src.fetch, time.Minute, func() time.Time { return now }, zap.NewNop())

	got := cache.Prices(context.Background(), []string{"BTC-PERP", "UNKNOWN"})
	assert.Len(t, got, 1)
	assert.Equal(t, 60000.0, got["BTC-PERP"])
}
