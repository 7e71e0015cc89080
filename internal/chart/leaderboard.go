package chart

import "sort"

// DefaultBoardLimit caps the leaderboard length.
const DefaultBoardLimit = 100

// Standing is one participant's current state, input to ranking.
type Standing struct {
	SessionID      string
	Name           string
	Equity         float64
	StartingEquity float64
}

// Entry is one ranked leaderboard row.
type Entry struct {
	Rank      int     `json:"rank"`
	SessionID string  `json:"session_id"`
	Name      string  `json:"name"`
	Equity    float64 `json:"equity"`
	Pnl       float64 `json:"pnl"`
	PnlPct    float64 `json:"pnl_pct"`
}

// Rank sorts standings descending by current equity and assigns dense
// 1-based ranks: ties share a rank and the next distinct equity gets the
// following rank. The result is capped at limit entries.
func Rank(standings []Standing, limit int) []Entry {
	if limit <= 0 {
		limit = DefaultBoardLimit
	}

	sorted := make([]Standing, len(standings))
	copy(sorted, standings)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Equity > sorted[j].Equity })

	entries := make([]Entry, 0, len(sorted))
	rank := 0
	for i, s := range sorted {
		if i == 0 || s.Equity != sorted[i-1].Equity {
			rank++
		}
		pnl := s.Equity - s.StartingEquity
		pct := 0.0
		if s.StartingEquity > 0 {
			pct = pnl / s.StartingEquity * 100
		}
		entries = append(entries, Entry{
			Rank:      rank,
			SessionID: s.SessionID,
			Name:      s.Name,
			Equity:    s.Equity,
			Pnl:       pnl,
			PnlPct:    pct,
		})
		if len(entries) >= limit {
			break
		}
	}
	return entries
}
