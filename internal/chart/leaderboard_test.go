package chart

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRankTotalOrder(t *testing.T) {
	standings := []Standing{
		{SessionID: "loser", Name: "bear", Equity: 95000, StartingEquity: 100000},
		{SessionID: "winner", Name: "bull", Equity: 105000, StartingEquity: 100000},
	}

	entries := Rank(standings, 0)

	require.Len(t, entries, 2)
	assert.Equal(t, "winner", entries[0].SessionID)
	assert.Equal(t, 1, entries[0].Rank)
	assert.InDelta(t, 5000.0, entries[0].Pnl, 1e-9)
	assert.InDelta(t, 5.0, entries[0].PnlPct, 1e-9)

	assert.Equal(t, "loser", entries[1].SessionID)
	assert.Equal(t, 2, entries[1].Rank)
	assert.InDelta(t, -5000.0, entries[1].Pnl, 1e-9)
	assert.InDelta(t, -5.0, entries[1].PnlPct, 1e-9)
}

func TestRankDenseTies(t *testing.T) {
	standings := []Standing{
		{SessionID: "a", Equity: 100, StartingEquity: 100},
		{SessionID: "b", Equity: 100, StartingEquity: 100},
		{SessionID: "c", Equity: 90, StartingEquity: 100},
	}

	entries := Rank(standings, 10)

	require.Len(t, entries, 3)
	assert.Equal(t, 1, entries[0].Rank)
	assert.Equal(t, 1, entries[1].Rank)
	assert.Equal(t, 2, entries[2].Rank, "dense ranking: next distinct equity takes the following rank")
}

func TestRankCapsLength(t *testing.T) {
	var standings []Standing
	for i := 0; i < 10; i++ {
		standings = append(standings, Standing{SessionID: string(rune('a' + i)), Equity: float64(i), StartingEquity: 1})
	}

	entries := Rank(standings, 3)
	assert.Len(t, entries, 3)
	assert.Equal(t, 1, entries[0].Rank)
}

func TestRankZeroStartingEquity(t *testing.T) {
	entries := Rank([]Standing{{SessionID: "x", Equity: 50, StartingEquity: 0}}, 5)
	require.Len(t, entries, 1)
	assert.Zero(t, entries[0].PnlPct)
}

func TestRankDoesNotMutateInput(t *testing.T) {
	standings := []Standing{
		{SessionID: "a", Equity: 1},
		{SessionID: "b", Equity: 2},
	}
	Rank(standings, 10)
	assert.Equal(t, "a", standings[0].SessionID)
}
