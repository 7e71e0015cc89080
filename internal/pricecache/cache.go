// Package pricecache fronts a price source with a TTL cache. The clock is
// injected so tests control expiry deterministically.
package pricecache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Source fetches current prices for a set of markets.
type Source func(ctx context.Context, markets []string) (map[string]float64, error)

type entry struct {
	value     float64
	fetchedAt time.Time
}

// Cache holds (value, fetchedAt) per market and refetches entries older
// than the TTL.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]entry
	ttl     time.Duration
	source  Source
	clock   func() time.Time
	logger  *zap.Logger

	// Statistics (accessed atomically)
	hits   uint64
	misses uint64
}

// New creates a price cache. A nil clock uses time.Now.
func New(source Source, ttl time.Duration, clock func() time.Time, logger *zap.Logger) *Cache {
	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		entries: make(map[string]entry),
		ttl:     ttl,
		source:  source,
		clock:   clock,
		logger:  logger,
	}
}

// Prices returns current prices for the requested markets, serving fresh
// entries from the cache and refetching the rest. A source failure degrades
// to whatever fresh values exist: a missing price is a data-quality warning
// for the accounting engine, never a hard failure here.
func (c *Cache) Prices(ctx context.Context, markets []string) map[string]float64 {
	now := c.clock()
	out := make(map[string]float64, len(markets))
	var stale []string

	c.mu.RLock()
	for _, m := range markets {
		if e, ok := c.entries[m]; ok && now.Sub(e.fetchedAt) < c.ttl {
			out[m] = e.value
			atomic.AddUint64(&c.hits, 1)
		} else {
			stale = append(stale, m)
			atomic.AddUint64(&c.misses, 1)
		}
	}
	c.mu.RUnlock()

	if len(stale) == 0 {
		return out
	}

	fetched, err := c.source(ctx, stale)
	if err != nil {
		c.logger.Warn("Price fetch failed, serving cached values only",
			zap.Strings("markets", stale),
			zap.Error(err))
		return out
	}

	c.mu.Lock()
	for m, v := range fetched {
		c.entries[m] = entry{value: v, fetchedAt: now}
		out[m] = v
	}
	c.mu.Unlock()

	return out
}

// Stats returns cumulative hit/miss counts.
func (c *Cache) Stats() (hits, misses uint64) {
	return atomic.LoadUint64(&c.hits), atomic.LoadUint64(&c.misses)
}
