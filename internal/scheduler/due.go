// Package scheduler decides which running sessions are due for a tick and
// drives them through the tick executor in bounded concurrent batches.
package scheduler

import (
	"time"

	"go.uber.org/zap"
)

// DefaultCadenceSeconds is substituted when a strategy carries a missing or
// invalid cadence. A bad cadence must never fail the session.
const DefaultCadenceSeconds = 60

// Tolerance is subtracted from the cadence before comparing elapsed time.
// The dispatcher is driven by an external timer with jitter; without this
// slack a session whose evaluation lands a few hundred milliseconds early
// would be skipped for a whole extra cycle, silently doubling its cadence.
const Tolerance = 4 * time.Second

// NormalizeCadence resolves a configured cadence to a positive value,
// substituting the default and warning on misconfiguration.
func NormalizeCadence(seconds int, sessionID string, logger *zap.Logger) int {
	if seconds > 0 {
		return seconds
	}
	logger.Warn("Session has invalid cadence, substituting default",
		zap.String("session_id", sessionID),
		zap.Int("configured_seconds", seconds),
		zap.Int("default_seconds", DefaultCadenceSeconds))
	return DefaultCadenceSeconds
}

// ShouldTick reports whether a session is inside its tick window. A zero
// lastTick means the session has never ticked and is due unconditionally.
func ShouldTick(now, lastTick time.Time, cadence time.Duration) bool {
	if lastTick.IsZero() {
		return true
	}
	return now.Sub(lastTick) >= cadence-Tolerance
}

// tickReference is the timestamp elapsed-time diagnostics are measured
// from: the last tick, falling back to session start, falling back to zero.
func tickReference(lastTick, startedAt time.Time) time.Time {
	if !lastTick.IsZero() {
		return lastTick
	}
	return startedAt
}
