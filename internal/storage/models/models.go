// internal/storage/models/models.go
package models

import (
	"strings"
	"time"
)

// BaseModel replaces gorm.Model for finer control over timestamps.
type BaseModel struct {
	CreatedAt time.Time  `gorm:"default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time  `gorm:"default:CURRENT_TIMESTAMP"`
	DeletedAt *time.Time `gorm:"index"`
}

// Strategy is a user strategy definition. Its CadenceSeconds is the source
// of truth for tick scheduling; the copy on Session is a cache.
type Strategy struct {
	BaseModel
	ID             string `gorm:"primarykey;type:uuid"`
	Name           string `gorm:"not null;type:varchar(100)"`
	CadenceSeconds int    `gorm:"default:60"`
}

// Session is one running strategy instance.
type Session struct {
	BaseModel
	ID         string `gorm:"primarykey;type:uuid"`
	StrategyID string `gorm:"index;type:uuid"`
	Strategy   *Strategy
	Name       string `gorm:"type:varchar(100)"`
	Mode       string `gorm:"not null;type:varchar(10)"` // virtual | live | arena
	Status     string `gorm:"not null;type:varchar(10);index"`
	// CadenceSeconds is a cached copy taken at session start; scheduling
	// always prefers Strategy.CadenceSeconds.
	CadenceSeconds int
	Markets        string `gorm:"not null;type:text"` // comma-separated instruments
	StartedAt      time.Time
	StoppedAt      *time.Time
	LastTickAt     *time.Time
}

const (
	SessionRunning = "running"
	SessionStopped = "stopped"
)

// MarketList splits the stored instrument set.
func (s *Session) MarketList() []string {
	var out []string
	for _, m := range strings.Split(s.Markets, ",") {
		if m = strings.TrimSpace(m); m != "" {
			out = append(out, m)
		}
	}
	return out
}

// EffectiveCadence prefers the strategy's live configuration over the
// session's cached copy.
func (s *Session) EffectiveCadence() int {
	if s.Strategy != nil && s.Strategy.CadenceSeconds > 0 {
		return s.Strategy.CadenceSeconds
	}
	return s.CadenceSeconds
}

// Account backs one session 1:1. Virtual accounts derive equity from the
// ledger; Equity here is a display cache for them, authoritative only when
// Mode is live (synced from the venue).
type Account struct {
	BaseModel
	ID             string `gorm:"primarykey;type:uuid"`
	SessionID      string `gorm:"uniqueIndex;type:uuid"`
	Mode           string `gorm:"not null;type:varchar(10)"`
	StartingEquity float64 `gorm:"type:decimal(20,8)"`
	CashBalance    float64 `gorm:"type:decimal(20,8)"`
	Equity         float64 `gorm:"type:decimal(20,8)"`
	EquitySyncedAt *time.Time
}

// Position is one open position on an account.
type Position struct {
	BaseModel
	ID                  string `gorm:"primarykey;type:uuid"`
	AccountID           string `gorm:"index;type:uuid"`
	Market              string `gorm:"not null;type:varchar(40)"`
	Side                string `gorm:"not null;type:varchar(5)"`
	Size                float64 `gorm:"type:decimal(20,8)"`
	AvgEntry            float64 `gorm:"type:decimal(20,8)"`
	StoredUnrealizedPnl *float64 `gorm:"type:decimal(20,8)"`
}

// Trade is one append-only ledger entry.
type Trade struct {
	BaseModel
	ID          string `gorm:"primarykey;type:uuid"`
	AccountID   string `gorm:"index;type:uuid"`
	Market      string `gorm:"type:varchar(40)"`
	Action      string `gorm:"not null;type:varchar(10)"`
	RealizedPnl float64 `gorm:"type:decimal(20,8)"`
	Fee         float64 `gorm:"type:decimal(20,8)"`
	ExecutedAt  time.Time
}

// EquitySample is an immutable (session, time, equity) point. Ordering by
// timestamp is the only invariant; samples are never updated.
type EquitySample struct {
	ID        uint      `gorm:"primarykey"`
	SessionID string    `gorm:"index:idx_samples_session_time;type:uuid"`
	Time      time.Time `gorm:"index:idx_samples_session_time"`
	Equity    float64   `gorm:"type:decimal(20,8)"`
}
