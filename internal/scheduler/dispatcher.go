package scheduler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Outcome of one tick invocation.
type Outcome string

const (
	OutcomeTicked      Outcome = "ticked"
	OutcomeLockSkipped Outcome = "lock_skipped"
	OutcomeErrored     Outcome = "errored"
)

// SessionInfo is the slice of session state the dispatcher needs.
// CadenceSeconds must be resolved from the strategy's current configuration
// by the source, not read from a possibly-stale copy on the session row.
type SessionInfo struct {
	ID             string
	Mode           string
	CadenceSeconds int
	LastTickAt     time.Time // zero = never ticked
	StartedAt      time.Time
}

// SessionSource enumerates sessions with status "running". Mode never
// affects eligibility.
type SessionSource interface {
	RunningSessions(ctx context.Context) ([]SessionInfo, error)
}

// TickResult is the executor's response for one session.
type TickResult struct {
	Ticked        bool
	Skipped       bool
	Reason        string
	MinIntervalMs int64
	Decisions     int
}

// TickExecutor performs one tick for a session. It owns the tick-lock
// store; the dispatcher only branches on the three-way outcome.
type TickExecutor interface {
	ExecuteTick(ctx context.Context, sessionID string) (*TickResult, error)
}

// Config bounds one dispatch cycle.
type Config struct {
	BatchSize   int           // concurrent invocations per batch
	BatchPause  time.Duration // pause between batches
	TickTimeout time.Duration // hard per-session timeout
}

const (
	DefaultBatchSize   = 50
	DefaultBatchPause  = 500 * time.Millisecond
	DefaultTickTimeout = 30 * time.Second
)

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.BatchPause < 0 {
		c.BatchPause = DefaultBatchPause
	}
	if c.TickTimeout <= 0 {
		c.TickTimeout = DefaultTickTimeout
	}
	return c
}

// SessionReport carries per-session timing diagnostics for one cycle, so a
// stuck session shows up as "next tick in Ns" rather than a hard error.
type SessionReport struct {
	SessionID      string  `json:"session_id"`
	Due            bool    `json:"due"`
	Outcome        Outcome `json:"outcome,omitempty"`
	CadenceSeconds int     `json:"cadence_seconds"`
	ElapsedSeconds float64 `json:"elapsed_seconds"`
	NextTickInSec  float64 `json:"next_tick_in_seconds"`
	Error          string  `json:"error,omitempty"`
}

// Report summarizes one dispatch cycle.
type Report struct {
	Total       int             `json:"total"`
	Due         int             `json:"due"`
	Processed   int             `json:"processed"`
	LockSkipped int             `json:"lock_skipped"`
	Failed      int             `json:"failed"`
	Skipped     int             `json:"skipped"`
	Duration    time.Duration   `json:"-"`
	DurationMs  int64           `json:"duration_ms"`
	Sessions    []SessionReport `json:"sessions"`
}

// Metrics receives dispatch observations; the server layer backs it with
// prometheus collectors.
type Metrics interface {
	CycleStarted()
	SessionsScanned(total, due int)
	TickObserved(outcome Outcome, d time.Duration)
}

type nopMetrics struct{}

func (nopMetrics) CycleStarted()                       {}
func (nopMetrics) SessionsScanned(int, int)            {}
func (nopMetrics) TickObserved(Outcome, time.Duration) {}

// Dispatcher runs stateless, repeatable dispatch cycles. Each invocation is
// self-contained and may race other invocations; correctness rests on the
// executor's tick lock, never on single-runner exclusivity.
type Dispatcher struct {
	source  SessionSource
	exec    TickExecutor
	cfg     Config
	logger  *zap.Logger
	metrics Metrics
	clock   func() time.Time
}

func NewDispatcher(source SessionSource, exec TickExecutor, cfg Config, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		source:  source,
		exec:    exec,
		cfg:     cfg.withDefaults(),
		logger:  logger,
		metrics: nopMetrics{},
		clock:   time.Now,
	}
}

// WithMetrics attaches a metrics sink.
func (d *Dispatcher) WithMetrics(m Metrics) *Dispatcher {
	if m != nil {
		d.metrics = m
	}
	return d
}

// WithClock overrides the time source for tests.
func (d *Dispatcher) WithClock(clock func() time.Time) *Dispatcher {
	d.clock = clock
	return d
}

// Run executes one dispatch cycle: scan, partition, tick in batches.
// Failing to enumerate sessions is a cycle-level error; everything after
// that point is recovered per session.
func (d *Dispatcher) Run(ctx context.Context) (*Report, error) {
	start := d.clock()
	d.metrics.CycleStarted()

	sessions, err := d.source.RunningSessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list running sessions: %w", err)
	}

	report := &Report{Total: len(sessions)}
	now := d.clock()

	// Partition into due and skipped. The skip set is the complement of the
	// due set: one threshold decides both, so no session can land in neither
	// or both.
	var due []SessionInfo
	dueIndex := make(map[string]int) // session id -> index into report.Sessions
	for _, s := range sessions {
		cadence := NormalizeCadence(s.CadenceSeconds, s.ID, d.logger)
		cadenceDur := time.Duration(cadence) * time.Second

		sr := SessionReport{
			SessionID:      s.ID,
			CadenceSeconds: cadence,
		}
		if ref := tickReference(s.LastTickAt, s.StartedAt); !ref.IsZero() {
			sr.ElapsedSeconds = now.Sub(ref).Seconds()
		}
		sr.Due = ShouldTick(now, s.LastTickAt, cadenceDur)
		if !sr.Due {
			sr.NextTickInSec = (cadenceDur - Tolerance).Seconds() - sr.ElapsedSeconds
		}

		report.Sessions = append(report.Sessions, sr)
		if sr.Due {
			s.CadenceSeconds = cadence
			dueIndex[s.ID] = len(report.Sessions) - 1
			due = append(due, s)
		} else {
			report.Skipped++
		}
	}
	report.Due = len(due)
	d.metrics.SessionsScanned(report.Total, report.Due)

	d.logger.Info("Dispatch cycle scanned",
		zap.Int("total", report.Total),
		zap.Int("due", report.Due),
		zap.Int("skipped", report.Skipped))

	for batchStart := 0; batchStart < len(due); batchStart += d.cfg.BatchSize {
		end := batchStart + d.cfg.BatchSize
		if end > len(due) {
			end = len(due)
		}
		d.runBatch(ctx, due[batchStart:end], report, dueIndex)

		if end < len(due) && d.cfg.BatchPause > 0 {
			select {
			case <-ctx.Done():
				return report, ctx.Err()
			case <-time.After(d.cfg.BatchPause):
			}
		}
	}

	report.Duration = d.clock().Sub(start)
	report.DurationMs = report.Duration.Milliseconds()

	d.logger.Info("Dispatch cycle finished",
		zap.Int("processed", report.Processed),
		zap.Int("lock_skipped", report.LockSkipped),
		zap.Int("failed", report.Failed),
		zap.Duration("duration", report.Duration))

	return report, nil
}

// runBatch ticks one batch concurrently. Batch members run with no ordering
// guarantee; a member's failure, timeout, or panic never touches siblings.
func (d *Dispatcher) runBatch(ctx context.Context, batch []SessionInfo, report *Report, dueIndex map[string]int) {
	outcomes := make([]SessionReport, len(batch))

	g, _ := errgroup.WithContext(ctx)
	for i, s := range batch {
		g.Go(func() error {
			outcomes[i] = d.tickOne(ctx, s)
			return nil
		})
	}
	_ = g.Wait() // workers never return errors; outcomes carry the state

	for _, sr := range outcomes {
		idx := dueIndex[sr.SessionID]
		report.Sessions[idx].Outcome = sr.Outcome
		report.Sessions[idx].Error = sr.Error

		switch sr.Outcome {
		case OutcomeTicked:
			report.Processed++
		case OutcomeLockSkipped:
			report.LockSkipped++
		case OutcomeErrored:
			report.Failed++
		}
	}
}

// tickOne invokes the executor for a single session under the per-tick
// timeout and maps the response onto the three-way outcome.
func (d *Dispatcher) tickOne(ctx context.Context, s SessionInfo) (sr SessionReport) {
	sr = SessionReport{SessionID: s.ID, Due: true}
	start := d.clock()

	defer func() {
		if r := recover(); r != nil {
			sr.Outcome = OutcomeErrored
			sr.Error = fmt.Sprintf("panic: %v", r)
			d.logger.Error("Tick panicked",
				zap.String("session_id", s.ID),
				zap.Any("panic", r))
		}
		d.metrics.TickObserved(sr.Outcome, time.Since(start))
	}()

	tickCtx, cancel := context.WithTimeout(ctx, d.cfg.TickTimeout)
	defer cancel()

	res, err := d.exec.ExecuteTick(tickCtx, s.ID)
	switch {
	case err != nil:
		sr.Outcome = OutcomeErrored
		sr.Error = err.Error()
		d.logger.Warn("Tick failed",
			zap.String("session_id", s.ID),
			zap.Int("cadence_seconds", s.CadenceSeconds),
			zap.Error(err))
	case res == nil:
		sr.Outcome = OutcomeErrored
		sr.Error = "executor returned no result"
	case res.Skipped:
		// Another invocation ticked this session within its minimum
		// interval. Expected whenever redundant schedulers race.
		sr.Outcome = OutcomeLockSkipped
		d.logger.Debug("Tick lock skipped",
			zap.String("session_id", s.ID),
			zap.String("reason", res.Reason),
			zap.Int64("min_interval_ms", res.MinIntervalMs))
	case res.Ticked:
		sr.Outcome = OutcomeTicked
		d.logger.Debug("Session ticked",
			zap.String("session_id", s.ID),
			zap.Int("decisions", res.Decisions),
			zap.Duration("took", d.clock().Sub(start)))
	default:
		sr.Outcome = OutcomeErrored
		sr.Error = "executor response neither ticked nor skipped"
	}
	return sr
}
