package accounting

import (
	"math"

	"go.uber.org/zap"
)

// reconcileTolerance is the absolute slack allowed before a mismatch between
// derived equity and startingEquity+totalPnl is flagged.
const reconcileTolerance = 0.01

// Engine computes equity, PnL and return from ledger state. It is pure and
// stateless apart from its logger; all inputs arrive per call.
type Engine struct {
	logger *zap.Logger
}

func NewEngine(logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{logger: logger}
}

// Compute produces the account snapshot for the given regime.
//
// Virtual accounts follow a cash-settled margin model: opening a position
// never moves notional through the cash balance, only fees do, so equity is
// cashBalance plus marked unrealized PnL. Live accounts trust the synced
// equity because real-venue margin mechanics are not observable from trade
// records alone.
func (e *Engine) Compute(regime Regime, acct Account, positions []Position, trades []Trade, prices map[string]float64) Snapshot {
	snap := Snapshot{Reconciled: true}

	for _, p := range positions {
		snap.UnrealizedPnl += e.positionPnl(p, prices)
	}

	for _, t := range trades {
		snap.FeesPaid += t.Fee
		switch t.Action {
		case ActionClose, ActionReduce, ActionFlip:
			snap.RealizedPnl += t.RealizedPnl
		}
	}

	switch regime {
	case RegimeLive:
		snap.Equity = acct.SyncedEquity
		snap.TotalPnl = snap.Equity - acct.StartingEquity
	default:
		snap.Equity = acct.CashBalance + snap.UnrealizedPnl
		snap.TotalPnl = snap.RealizedPnl + snap.UnrealizedPnl - snap.FeesPaid
	}

	snap.ReturnPct = returnPct(snap.Equity, acct.StartingEquity)

	if regime != RegimeLive {
		e.checkInvariants(acct, &snap)
	}

	return snap
}

// positionPnl marks one position. A missing or zero price yields zero
// contribution unless the position carries a stored venue PnL.
func (e *Engine) positionPnl(p Position, prices map[string]float64) float64 {
	if p.Size == 0 {
		return 0
	}

	price, ok := prices[p.Market]
	if !ok || price == 0 {
		if p.StoredUnrealizedPnl != nil {
			return *p.StoredUnrealizedPnl
		}
		e.logger.Warn("No price for market, position excluded from PnL",
			zap.String("market", p.Market),
			zap.Float64("size", p.Size))
		return 0
	}

	diff := price - p.AvgEntry
	if p.Side == SideShort {
		diff = -diff
	}
	return diff * p.Size
}

// returnPct is derived from current and starting equity only, never from
// cached deltas or drawdown bookkeeping, so it can never drift from the
// displayed equity.
func returnPct(equity, startingEquity float64) float64 {
	if startingEquity <= 0 {
		return 0
	}
	return (equity - startingEquity) / startingEquity * 100
}

// checkInvariants verifies the reconciliation identity and the return-sign
// sanity check. Mismatches indicate upstream data inconsistency; they are
// logged and surfaced on the snapshot, never fatal.
func (e *Engine) checkInvariants(acct Account, snap *Snapshot) {
	expected := acct.StartingEquity + snap.TotalPnl
	if math.Abs(snap.Equity-expected) > reconcileTolerance {
		snap.Reconciled = false
		e.logger.Warn("Equity reconciliation mismatch",
			zap.Float64("equity", snap.Equity),
			zap.Float64("expected", expected),
			zap.Float64("starting_equity", acct.StartingEquity),
			zap.Float64("total_pnl", snap.TotalPnl))
	}

	if acct.StartingEquity > 0 && snap.TotalPnl > reconcileTolerance && snap.ReturnPct <= 0 && snap.Reconciled {
		e.logger.Warn("Return sign does not match PnL sign",
			zap.Float64("total_pnl", snap.TotalPnl),
			zap.Float64("return_pct", snap.ReturnPct))
	}
}
