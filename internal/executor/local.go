package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/quantarena/arena/internal/accounting"
	"github.com/quantarena/arena/internal/pricecache"
	"github.com/quantarena/arena/internal/scheduler"
	"github.com/quantarena/arena/internal/storage"
	"github.com/quantarena/arena/internal/storage/models"
	"github.com/quantarena/arena/internal/ticklock"
)

// minInterval floor: even very fast cadences keep a small exclusion window.
const minLockInterval = 5 * time.Second

// LocalExecutor runs ticks in-process: it owns the tick lock, recomputes
// the account snapshot through the accounting engine, advances the
// session's tick timestamp, and appends an equity sample. The decision
// engine proper stays external; settlement bookkeeping is what a tick means
// here.
type LocalExecutor struct {
	store  storage.Storage
	lock   ticklock.Locker
	engine *accounting.Engine
	prices *pricecache.Cache
	logger *zap.Logger
	clock  func() time.Time
}

var _ scheduler.TickExecutor = (*LocalExecutor)(nil)

func NewLocalExecutor(store storage.Storage, lock ticklock.Locker, engine *accounting.Engine, prices *pricecache.Cache, logger *zap.Logger) *LocalExecutor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LocalExecutor{
		store:  store,
		lock:   lock,
		engine: engine,
		prices: prices,
		logger: logger,
		clock:  time.Now,
	}
}

// WithClock overrides the time source for tests.
func (e *LocalExecutor) WithClock(clock func() time.Time) *LocalExecutor {
	e.clock = clock
	return e
}

// lockInterval derives the exclusion window from the session cadence: half
// the cadence, floored, so a redundant dispatcher racing the primary can
// never double-tick within one window but a slightly-early next cycle is
// never blocked either.
func lockInterval(cadenceSeconds int) time.Duration {
	half := time.Duration(cadenceSeconds) * time.Second / 2
	if half < minLockInterval {
		return minLockInterval
	}
	return half
}

func (e *LocalExecutor) ExecuteTick(ctx context.Context, sessionID string) (*scheduler.TickResult, error) {
	sess, err := e.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if sess.Status != models.SessionRunning {
		return nil, fmt.Errorf("session %s is not running", sessionID)
	}

	cadence := scheduler.NormalizeCadence(sess.EffectiveCadence(), sessionID, e.logger)
	interval := lockInterval(cadence)

	if err := e.lock.Acquire(ctx, sessionID, interval); err != nil {
		if errors.Is(err, ticklock.ErrHeld) {
			return &scheduler.TickResult{
				Skipped:       true,
				Reason:        "tick_lock_failed",
				MinIntervalMs: interval.Milliseconds(),
			}, nil
		}
		return nil, fmt.Errorf("tick lock: %w", err)
	}

	now := e.clock()

	acct, err := e.store.AccountForSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load account: %w", err)
	}
	positions, err := e.store.ListPositions(ctx, acct.ID)
	if err != nil {
		return nil, fmt.Errorf("load positions: %w", err)
	}
	trades, err := e.store.ListTrades(ctx, acct.ID)
	if err != nil {
		return nil, fmt.Errorf("load trades: %w", err)
	}

	snap := e.engine.Compute(
		regimeFor(acct.Mode),
		toEngineAccount(acct),
		toEnginePositions(positions),
		toEngineTrades(trades),
		e.prices.Prices(ctx, sess.MarketList()),
	)

	if err := e.store.AppendEquitySample(ctx, &models.EquitySample{
		SessionID: sessionID,
		Time:      now,
		Equity:    snap.Equity,
	}); err != nil {
		return nil, fmt.Errorf("append equity sample: %w", err)
	}
	if err := e.store.CacheAccountEquity(ctx, acct.ID, snap.Equity, now); err != nil {
		e.logger.Warn("Failed to cache account equity",
			zap.String("account_id", acct.ID),
			zap.Error(err))
	}
	if err := e.store.MarkTicked(ctx, sessionID, now); err != nil {
		return nil, fmt.Errorf("mark ticked: %w", err)
	}

	e.logger.Debug("Session settled",
		zap.String("session_id", sessionID),
		zap.Float64("equity", snap.Equity),
		zap.Float64("total_pnl", snap.TotalPnl),
		zap.Bool("reconciled", snap.Reconciled))

	return &scheduler.TickResult{Ticked: true}, nil
}

func regimeFor(mode string) accounting.Regime {
	if mode == string(accounting.RegimeLive) {
		return accounting.RegimeLive
	}
	return accounting.RegimeVirtual
}

func toEngineAccount(a *models.Account) accounting.Account {
	return accounting.Account{
		StartingEquity: a.StartingEquity,
		CashBalance:    a.CashBalance,
		SyncedEquity:   a.Equity,
	}
}

func toEnginePositions(positions []*models.Position) []accounting.Position {
	out := make([]accounting.Position, 0, len(positions))
	for _, p := range positions {
		out = append(out, accounting.Position{
			Market:              p.Market,
			Side:                accounting.Side(p.Side),
			Size:                p.Size,
			AvgEntry:            p.AvgEntry,
			StoredUnrealizedPnl: p.StoredUnrealizedPnl,
		})
	}
	return out
}

func toEngineTrades(trades []*models.Trade) []accounting.Trade {
	out := make([]accounting.Trade, 0, len(trades))
	for _, t := range trades {
		out = append(out, accounting.Trade{
			Action:      accounting.Action(t.Action),
			RealizedPnl: t.RealizedPnl,
			Fee:         t.Fee,
		})
	}
	return out
}
