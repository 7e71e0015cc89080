// internal/storage/postgres/postgres.go
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/quantarena/arena/internal/storage"
	"github.com/quantarena/arena/internal/storage/models"
)

// gormLogger adapts zap to gorm's logger.Interface.
type gormLogger struct {
	zapLogger *zap.Logger
	logLevel  logger.LogLevel
}

func newGormLogger(zapLogger *zap.Logger) logger.Interface {
	return &gormLogger{
		zapLogger: zapLogger,
		logLevel:  logger.Warn,
	}
}

func (l *gormLogger) LogMode(level logger.LogLevel) logger.Interface {
	newLogger := *l
	newLogger.logLevel = level
	return &newLogger
}

func (l *gormLogger) Info(_ context.Context, msg string, data ...interface{}) {
	if l.logLevel >= logger.Info {
		l.zapLogger.Sugar().Infof(msg, data...)
	}
}

func (l *gormLogger) Warn(_ context.Context, msg string, data ...interface{}) {
	if l.logLevel >= logger.Warn {
		l.zapLogger.Sugar().Warnf(msg, data...)
	}
}

func (l *gormLogger) Error(_ context.Context, msg string, data ...interface{}) {
	if l.logLevel >= logger.Error {
		l.zapLogger.Sugar().Errorf(msg, data...)
	}
}

func (l *gormLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.logLevel <= logger.Silent {
		return
	}

	elapsed := time.Since(begin)
	sql, rows := fc()

	fields := []zap.Field{
		zap.Duration("elapsed", elapsed),
		zap.String("sql", sql),
		zap.Int64("rows", rows),
	}

	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		l.zapLogger.Error("trace", append(fields, zap.Error(err))...)
		return
	}

	if l.logLevel >= logger.Info {
		l.zapLogger.Info("trace", fields...)
	}
}

// postgresStorage implements storage.Storage on gorm.
type postgresStorage struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewStorage(dsn string, zapLogger *zap.Logger) (storage.Storage, error) {
	gormLogger := newGormLogger(zapLogger.Named("gorm"))

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormLogger,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
		DisableForeignKeyConstraintWhenMigrating: true,
		SkipDefaultTransaction:                   true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return &postgresStorage{
		db:     db,
		logger: zapLogger,
	}, nil
}

// RunMigrations auto-migrates the schema under a pg advisory lock so that
// concurrent instances never race the DDL.
func (p *postgresStorage) RunMigrations() error {
	var lockObtained bool
	err := p.db.Raw("SELECT pg_try_advisory_lock(204)").Scan(&lockObtained).Error
	if err != nil {
		return fmt.Errorf("failed to acquire migration lock: %w", err)
	}
	if !lockObtained {
		return fmt.Errorf("another migration is in progress")
	}
	defer p.db.Exec("SELECT pg_advisory_unlock(204)")

	err = p.db.AutoMigrate(
		&models.Strategy{},
		&models.Session{},
		&models.Account{},
		&models.Position{},
		&models.Trade{},
		&models.EquitySample{},
	)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

func (p *postgresStorage) GetSession(ctx context.Context, id string) (*models.Session, error) {
	var s models.Session
	err := p.db.WithContext(ctx).Preload("Strategy").Where("id = ?", id).First(&s).Error
	if err != nil {
		return nil, translateErr(err)
	}
	return &s, nil
}

// ListRunningSessions preloads each session's strategy so the scheduler can
// resolve cadence from the strategy's live configuration.
func (p *postgresStorage) ListRunningSessions(ctx context.Context) ([]*models.Session, error) {
	var sessions []*models.Session
	err := p.db.WithContext(ctx).
		Preload("Strategy").
		Where("status = ?", models.SessionRunning).
		Find(&sessions).Error
	return sessions, err
}

func (p *postgresStorage) ListSessions(ctx context.Context, includeStopped bool) ([]*models.Session, error) {
	q := p.db.WithContext(ctx).Preload("Strategy")
	if !includeStopped {
		q = q.Where("status = ?", models.SessionRunning)
	}
	var sessions []*models.Session
	err := q.Order("started_at asc").Find(&sessions).Error
	return sessions, err
}

// StartSession creates the session and its 1:1 account atomically.
func (p *postgresStorage) StartSession(ctx context.Context, s *models.Session, acct *models.Account) error {
	return p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(s).Error; err != nil {
			return fmt.Errorf("create session: %w", err)
		}
		acct.SessionID = s.ID
		if err := tx.Create(acct).Error; err != nil {
			return fmt.Errorf("create account: %w", err)
		}
		return nil
	})
}

func (p *postgresStorage) StopSession(ctx context.Context, id string, at time.Time) error {
	res := p.db.WithContext(ctx).Model(&models.Session{}).
		Where("id = ? AND status = ?", id, models.SessionRunning).
		Updates(map[string]interface{}{
			"status":     models.SessionStopped,
			"stopped_at": at,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// MarkTicked advances last_tick_at monotonically; a stale writer loses.
func (p *postgresStorage) MarkTicked(ctx context.Context, id string, at time.Time) error {
	return p.db.WithContext(ctx).Model(&models.Session{}).
		Where("id = ? AND (last_tick_at IS NULL OR last_tick_at < ?)", id, at).
		Update("last_tick_at", at).Error
}

func (p *postgresStorage) AccountForSession(ctx context.Context, sessionID string) (*models.Account, error) {
	var acct models.Account
	err := p.db.WithContext(ctx).Where("session_id = ?", sessionID).First(&acct).Error
	if err != nil {
		return nil, translateErr(err)
	}
	return &acct, nil
}

func (p *postgresStorage) ListPositions(ctx context.Context, accountID string) ([]*models.Position, error) {
	var positions []*models.Position
	err := p.db.WithContext(ctx).Where("account_id = ?", accountID).Find(&positions).Error
	return positions, err
}

func (p *postgresStorage) ListTrades(ctx context.Context, accountID string) ([]*models.Trade, error) {
	var trades []*models.Trade
	err := p.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("executed_at asc").
		Find(&trades).Error
	return trades, err
}

func (p *postgresStorage) CacheAccountEquity(ctx context.Context, accountID string, equity float64, at time.Time) error {
	return p.db.WithContext(ctx).Model(&models.Account{}).
		Where("id = ?", accountID).
		Updates(map[string]interface{}{
			"equity":           equity,
			"equity_synced_at": at,
		}).Error
}

func (p *postgresStorage) AppendEquitySample(ctx context.Context, sample *models.EquitySample) error {
	return p.db.WithContext(ctx).Create(sample).Error
}

func (p *postgresStorage) ListEquitySamples(ctx context.Context, sessionID string, since time.Time) ([]*models.EquitySample, error) {
	q := p.db.WithContext(ctx).Where("session_id = ?", sessionID)
	if !since.IsZero() {
		q = q.Where("time >= ?", since)
	}
	var samples []*models.EquitySample
	err := q.Order("time asc").Find(&samples).Error
	return samples, err
}

func (p *postgresStorage) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func translateErr(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return storage.ErrNotFound
	}
	return err
}
