package accounting

// Regime selects how an account settles: simulated accounts derive equity
// from ledger state, live accounts take equity from the venue sync.
type Regime string

const (
	RegimeVirtual Regime = "virtual"
	RegimeLive    Regime = "live"
)

// Side of an open position. Size is always non-negative; direction lives here.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// Action classifies a trade. RealizedPnl is meaningful only for trades that
// reduce exposure; fees are debited for every action.
type Action string

const (
	ActionOpen   Action = "open"
	ActionClose  Action = "close"
	ActionReduce Action = "reduce"
	ActionFlip   Action = "flip"
)

// Account is the ledger snapshot fed into the engine.
type Account struct {
	StartingEquity float64
	CashBalance    float64
	// SyncedEquity is the most recent externally-synced value. Authoritative
	// only in the live regime; virtual accounts never read it.
	SyncedEquity float64
}

// Position is one open position on a market.
type Position struct {
	Market   string
	Side     Side
	Size     float64
	AvgEntry float64
	// StoredUnrealizedPnl is the venue-reported PnL, used only when no live
	// mark price is available for the market.
	StoredUnrealizedPnl *float64
}

// Trade is one ledger entry from the append-only trade history.
type Trade struct {
	Action      Action
	RealizedPnl float64
	Fee         float64
}

// Snapshot is the computed PnL/equity/return bundle.
type Snapshot struct {
	Equity        float64 `json:"equity"`
	RealizedPnl   float64 `json:"realized_pnl"`
	UnrealizedPnl float64 `json:"unrealized_pnl"`
	FeesPaid      float64 `json:"fees_paid"`
	TotalPnl      float64 `json:"total_pnl"`
	ReturnPct     float64 `json:"return_pct"`
	// Reconciled reports whether equity == startingEquity + totalPnl held
	// within tolerance. Always true in the live regime, where the identity
	// is not required.
	Reconciled bool `json:"reconciled"`
}
