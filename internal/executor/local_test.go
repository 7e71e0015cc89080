package executor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/quantarena/arena/internal/accounting"
	"github.com/quantarena/arena/internal/pricecache"
	"github.com/quantarena/arena/internal/storage"
	"github.com/quantarena/arena/internal/storage/models"
	"github.com/quantarena/arena/internal/ticklock"
)

// memStore is an in-memory storage.Storage for executor tests.
type memStore struct {
	mu        sync.Mutex
	sessions  map[string]*models.Session
	accounts  map[string]*models.Account // keyed by session id
	positions map[string][]*models.Position
	trades    map[string][]*models.Trade
	samples   []*models.EquitySample
}

func newMemStore() *memStore {
	return &memStore{
		sessions:  make(map[string]*models.Session),
		accounts:  make(map[string]*models.Account),
		positions: make(map[string][]*models.Position),
		trades:    make(map[string][]*models.Trade),
	}
}

func (m *memStore) RunMigrations() error { return nil }

func (m *memStore) GetSession(_ context.Context, id string) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *memStore) ListRunningSessions(context.Context) ([]*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Session
	for _, s := range m.sessions {
		if s.Status == models.SessionRunning {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memStore) ListSessions(ctx context.Context, includeStopped bool) ([]*models.Session, error) {
	if includeStopped {
		m.mu.Lock()
		defer m.mu.Unlock()
		var out []*models.Session
		for _, s := range m.sessions {
			cp := *s
			out = append(out, &cp)
		}
		return out, nil
	}
	return m.ListRunningSessions(ctx)
}

func (m *memStore) StartSession(_ context.Context, s *models.Session, acct *models.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	acct.SessionID = s.ID
	m.accounts[s.ID] = acct
	return nil
}

func (m *memStore) StopSession(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || s.Status != models.SessionRunning {
		return storage.ErrNotFound
	}
	s.Status = models.SessionStopped
	s.StoppedAt = &at
	return nil
}

func (m *memStore) MarkTicked(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return storage.ErrNotFound
	}
	if s.LastTickAt == nil || s.LastTickAt.Before(at) {
		s.LastTickAt = &at
	}
	return nil
}

func (m *memStore) AccountForSession(_ context.Context, sessionID string) (*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[sessionID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *memStore) ListPositions(_ context.Context, accountID string) ([]*models.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.positions[accountID], nil
}

func (m *memStore) ListTrades(_ context.Context, accountID string) ([]*models.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.trades[accountID], nil
}

func (m *memStore) CacheAccountEquity(_ context.Context, accountID string, equity float64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.accounts {
		if a.ID == accountID {
			a.Equity = equity
			a.EquitySyncedAt = &at
		}
	}
	return nil
}

func (m *memStore) AppendEquitySample(_ context.Context, sample *models.EquitySample) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.samples = append(m.samples, sample)
	return nil
}

func (m *memStore) ListEquitySamples(_ context.Context, sessionID string, since time.Time) ([]*models.EquitySample, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.EquitySample
	for _, s := range m.samples {
		if s.SessionID == sessionID && (since.IsZero() || !s.Time.Before(since)) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memStore) Close() error { return nil }

func fixedPrices(prices map[string]float64) *pricecache.Cache {
	src := func(_ context.Context, markets []string) (map[string]float64, error) {
		out := make(map[string]float64)
		for _, mkt := range markets {
			if v, ok := prices[mkt]; ok {
				out[mkt] = v
			}
		}
		return out, nil
	}
	return pricecache.New(src, time.Minute, nil, zap.NewNop())
}

func seedSession(t *testing.T, store *memStore, now time.Time) {
	t.Helper()
	err := store.StartSession(context.Background(),
		&models.Session{
			ID:        "sess-1",
			Mode:      "virtual",
			Status:    models.SessionRunning,
			Markets:   "BTC-PERP",
			StartedAt: now.Add(-time.Hour),
			Strategy:  &models.Strategy{ID: "strat-1", CadenceSeconds: 60},
		},
		&models.Account{
			ID:             "acct-1",
			Mode:           "virtual",
			StartingEquity: 100000,
			CashBalance:    100000,
		},
	)
	require.NoError(t, err)
	store.positions["acct-1"] = []*models.Position{
		{ID: "pos-1", AccountID: "acct-1", Market: "BTC-PERP", Side: "long", Size: 1, AvgEntry: 59000},
	}
}

func TestLocalExecutorTick(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := newMemStore()
	seedSession(t, store, now)

	exec := NewLocalExecutor(
		store,
		ticklock.NewMemoryLock(func() time.Time { return now }),
		accounting.NewEngine(zap.NewNop()),
		fixedPrices(map[string]float64{"BTC-PERP": 60000}),
		zap.NewNop(),
	).WithClock(func() time.Time { return now })

	res, err := exec.ExecuteTick(context.Background(), "sess-1")
	require.NoError(t, err)
	require.True(t, res.Ticked)

	// equity sample appended with marked unrealized pnl
	samples, err := store.ListEquitySamples(context.Background(), "sess-1", time.Time{})
	require.NoError(t, err)
	require.Len(t, samples, 1)
	assert.InDelta(t, 101000.0, samples[0].Equity, 1e-9)

	// lastTickAt advanced
	sess, err := store.GetSession(context.Background(), "sess-1")
	require.NoError(t, err)
	require.NotNil(t, sess.LastTickAt)
	assert.Equal(t, now, *sess.LastTickAt)

	// derived equity cached on the account
	acct, err := store.AccountForSession(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.InDelta(t, 101000.0, acct.Equity, 1e-9)
}

func TestLocalExecutorLockSkip(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := newMemStore()
	seedSession(t, store, now)

	lock := ticklock.NewMemoryLock(func() time.Time { return now })
	exec := NewLocalExecutor(store, lock, accounting.NewEngine(zap.NewNop()),
		fixedPrices(map[string]float64{"BTC-PERP": 60000}), zap.NewNop()).
		WithClock(func() time.Time { return now })

	first, err := exec.ExecuteTick(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.True(t, first.Ticked)

	// the racing second invocation is a skip, not an error
	second, err := exec.ExecuteTick(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.True(t, second.Skipped)
	assert.Equal(t, "tick_lock_failed", second.Reason)
	assert.Equal(t, int64(30000), second.MinIntervalMs, "half of a 60s cadence")

	samples, _ := store.ListEquitySamples(context.Background(), "sess-1", time.Time{})
	assert.Len(t, samples, 1, "skipped tick must not write a sample")
}

func TestLocalExecutorStoppedSession(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := newMemStore()
	seedSession(t, store, now)
	require.NoError(t, store.StopSession(context.Background(), "sess-1", now))

	exec := NewLocalExecutor(store, ticklock.NewMemoryLock(nil), accounting.NewEngine(zap.NewNop()),
		fixedPrices(nil), zap.NewNop())

	_, err := exec.ExecuteTick(context.Background(), "sess-1")
	assert.Error(t, err)
}

func TestLockInterval(t *testing.T) {
	assert.Equal(t, 30*time.Second, lockInterval(60))
	assert.Equal(t, 150*time.Second, lockInterval(300))
	// floor for very short cadences
	assert.Equal(t, 5*time.Second, lockInterval(6))
}
