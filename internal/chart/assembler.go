// Package chart assembles multi-participant equity series into a single
// renderable chart and ranks participants for the leaderboard.
package chart

import (
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/quantarena/arena/internal/series"
)

// DisplayMode selects the y-axis units.
type DisplayMode string

const (
	ModeEquity DisplayMode = "equity"
	ModeReturn DisplayMode = "return"
)

// DefaultStartingEquity is the canonical arena bankroll; the equity-mode
// y-domain always keeps it visible so curves stay anchored to the shared
// starting line.
const DefaultStartingEquity = 100000.0

// y-domain padding constants per mode.
const (
	returnPadFraction = 0.10
	returnPadMin      = 1.0 // percentage points
	equityPadFraction = 0.15
	equityPadAvgFrac  = 0.01
	equityPadMin      = 500.0 // dollars
)

// Participant is one session's bucketed equity series.
type Participant struct {
	SessionID      string
	Name           string
	StartingEquity float64
	Ended          bool
	Points         []series.Point
}

// Line is a participant's series resolved onto the common axis. A nil value
// means the participant had no sample at or before that axis point.
type Line struct {
	SessionID string     `json:"session_id"`
	Name      string     `json:"name"`
	Values    []*float64 `json:"values"`
}

// Chart is the assembled multi-participant view plus y-domain hints.
type Chart struct {
	Times []time.Time `json:"times"`
	Lines []Line      `json:"lines"`
	Mode  DisplayMode `json:"mode"`
	YMin  float64     `json:"y_min"`
	YMax  float64     `json:"y_max"`
	// Flat is set when every resolved value is identical to two decimals,
	// which usually means the sampling pipeline stalled.
	Flat  bool `json:"flat"`
	Empty bool `json:"empty"`
}

type Assembler struct {
	logger *zap.Logger
}

func NewAssembler(logger *zap.Logger) *Assembler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Assembler{logger: logger}
}

// Assemble merges participants onto the union of their bucket timestamps.
// Values are resolved by step interpolation: the most recent sample at or
// before each axis point. Equity only changes at tick boundaries, so linear
// interpolation would draw values that never existed.
func (a *Assembler) Assemble(participants []Participant, mode DisplayMode, includeEnded bool) *Chart {
	chart := &Chart{Mode: mode}

	active := make([]Participant, 0, len(participants))
	for _, p := range participants {
		if p.Ended && !includeEnded {
			continue
		}
		active = append(active, p)
	}

	chart.Times = unionAxis(active)
	if len(chart.Times) == 0 {
		chart.Empty = true
		return chart
	}

	var observed []float64
	for _, p := range active {
		line := Line{SessionID: p.SessionID, Name: p.Name, Values: make([]*float64, len(chart.Times))}
		cursor := -1
		for i, ts := range chart.Times {
			for cursor+1 < len(p.Points) && !p.Points[cursor+1].Time.After(ts) {
				cursor++
			}
			if cursor < 0 {
				continue
			}
			v := p.Points[cursor].Value
			if mode == ModeReturn {
				v = toReturnPct(v, p.StartingEquity)
			}
			val := v
			line.Values[i] = &val
			observed = append(observed, v)
		}
		chart.Lines = append(chart.Lines, line)
	}

	if len(observed) == 0 {
		chart.Empty = true
		return chart
	}

	chart.YMin, chart.YMax = yDomain(observed, mode)
	chart.Flat = allFlat(observed)
	if chart.Flat {
		a.logger.Warn("All chart values identical, sampling pipeline may be stalled",
			zap.Int("participants", len(chart.Lines)),
			zap.Int("points", len(observed)),
			zap.Float64("value", observed[0]))
	}

	return chart
}

func unionAxis(participants []Participant) []time.Time {
	seen := make(map[int64]time.Time)
	for _, p := range participants {
		for _, pt := range p.Points {
			seen[pt.Time.UnixMilli()] = pt.Time
		}
	}
	axis := make([]time.Time, 0, len(seen))
	for _, ts := range seen {
		axis = append(axis, ts)
	}
	sort.Slice(axis, func(i, j int) bool { return axis[i].Before(axis[j]) })
	return axis
}

func toReturnPct(equity, startingEquity float64) float64 {
	if startingEquity <= 0 {
		return 0
	}
	return (equity - startingEquity) / startingEquity * 100
}

// yDomain computes padded axis bounds. Return mode keeps zero visible;
// equity mode keeps the canonical starting value visible. Bounds are then
// rounded outward to a clean step.
func yDomain(values []float64, mode DisplayMode) (float64, float64) {
	lo, hi := values[0], values[0]
	var sum float64
	for _, v := range values {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
		sum += v
	}

	var pad float64
	switch mode {
	case ModeReturn:
		pad = math.Max(returnPadFraction*(hi-lo), returnPadMin)
	default:
		avg := sum / float64(len(values))
		pad = math.Max(equityPadFraction*(hi-lo), math.Max(equityPadAvgFrac*math.Abs(avg), equityPadMin))
	}
	lo -= pad
	hi += pad

	switch mode {
	case ModeReturn:
		lo = math.Min(lo, 0)
		hi = math.Max(hi, 0)
	default:
		lo = math.Min(lo, DefaultStartingEquity)
		hi = math.Max(hi, DefaultStartingEquity)
	}

	step := niceStep(hi - lo)
	lo = math.Floor(lo/step) * step
	hi = math.Ceil(hi/step) * step
	return lo, hi
}

// niceStep picks a 1/2/5-scaled power of ten giving roughly eight divisions.
func niceStep(span float64) float64 {
	if span <= 0 {
		return 1
	}
	raw := span / 8
	mag := math.Pow(10, math.Floor(math.Log10(raw)))
	for _, m := range []float64{1, 2, 5, 10} {
		if mag*m >= raw {
			return mag * m
		}
	}
	return mag * 10
}

func allFlat(values []float64) bool {
	first := math.Round(values[0]*100) / 100
	for _, v := range values[1:] {
		if math.Round(v*100)/100 != first {
			return false
		}
	}
	return true
}
