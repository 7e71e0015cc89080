// internal/storage/storage.go
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/quantarena/arena/internal/storage/models"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// Storage is the persistence surface for sessions, ledgers, and equity
// samples.
type Storage interface {
	RunMigrations() error

	// Sessions
	GetSession(ctx context.Context, id string) (*models.Session, error)
	ListRunningSessions(ctx context.Context) ([]*models.Session, error)
	ListSessions(ctx context.Context, includeStopped bool) ([]*models.Session, error)
	StartSession(ctx context.Context, s *models.Session, acct *models.Account) error
	StopSession(ctx context.Context, id string, at time.Time) error
	// MarkTicked advances LastTickAt; it never moves the timestamp backwards.
	MarkTicked(ctx context.Context, id string, at time.Time) error

	// Ledger. AccountForSession is the one way to reach a session's account:
	// the association is exactly 1:1 and resolved explicitly.
	AccountForSession(ctx context.Context, sessionID string) (*models.Account, error)
	ListPositions(ctx context.Context, accountID string) ([]*models.Position, error)
	ListTrades(ctx context.Context, accountID string) ([]*models.Trade, error)
	// CacheAccountEquity writes derived equity back as a display cache. It
	// is never read back into the accounting engine for virtual accounts.
	CacheAccountEquity(ctx context.Context, accountID string, equity float64, at time.Time) error

	// Equity samples (append-only)
	AppendEquitySample(ctx context.Context, sample *models.EquitySample) error
	ListEquitySamples(ctx context.Context, sessionID string, since time.Time) ([]*models.EquitySample, error)

	Close() error
}
