// Package app assembles the arena service from its parts and owns the
// process lifecycle.
package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/quantarena/arena/internal/accounting"
	"github.com/quantarena/arena/internal/chart"
	"github.com/quantarena/arena/internal/config"
	"github.com/quantarena/arena/internal/executor"
	"github.com/quantarena/arena/internal/logger"
	"github.com/quantarena/arena/internal/pricecache"
	"github.com/quantarena/arena/internal/scheduler"
	"github.com/quantarena/arena/internal/server"
	"github.com/quantarena/arena/internal/storage"
	"github.com/quantarena/arena/internal/storage/postgres"
	"github.com/quantarena/arena/internal/ticklock"
)

const shutdownGrace = 15 * time.Second

type Runner struct {
	cfg        *config.Config
	log        *logger.Logger
	store      storage.Storage
	redisCli   *redis.Client
	srv        *server.Server
	shutdownCh chan os.Signal
}

// NewRunner wires storage, the tick pipeline, and the HTTP server from the
// loaded configuration.
func NewRunner(cfg *config.Config, log *logger.Logger) (*Runner, error) {
	store, err := postgres.NewStorage(cfg.PostgresURL, log.WithComponent("storage"))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	if err := store.RunMigrations(); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	r := &Runner{
		cfg:        cfg,
		log:        log,
		store:      store,
		shutdownCh: make(chan os.Signal, 1),
	}

	exec, err := r.buildExecutor()
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	dispatcher := scheduler.NewDispatcher(
		scheduler.NewStorageSource(store),
		exec,
		scheduler.Config{
			BatchSize:   cfg.TickBatchSize,
			BatchPause:  time.Duration(cfg.BatchPauseMs) * time.Millisecond,
			TickTimeout: time.Duration(cfg.TickTimeoutSec) * time.Second,
		},
		log.WithComponent("scheduler"),
	)

	r.srv = server.New(
		server.Config{
			ListenAddr:      cfg.ListenAddr,
			SchedulerSecret: cfg.SchedulerSecret,
			BoardLimit:      cfg.BoardLimit,
		},
		dispatcher,
		store,
		chart.NewAssembler(log.WithComponent("chart")),
		log.WithComponent("server"),
	)
	return r, nil
}

// buildExecutor prefers a remote strategy runtime when one is configured and
// falls back to the in-process executor otherwise.
func (r *Runner) buildExecutor() (scheduler.TickExecutor, error) {
	if r.cfg.ExecutorURL != "" {
		r.log.WithComponent("app").Info("Using remote tick executor",
			zap.String("url", r.cfg.ExecutorURL))
		return executor.NewHTTPExecutor(r.cfg.ExecutorURL, r.cfg.ExecutorToken,
			r.log.WithComponent("executor"))
	}

	lock, err := r.buildTickLock()
	if err != nil {
		return nil, err
	}
	prices, err := r.buildPriceCache()
	if err != nil {
		return nil, err
	}
	engine := accounting.NewEngine(r.log.WithComponent("accounting"))
	return executor.NewLocalExecutor(r.store, lock, engine, prices,
		r.log.WithComponent("executor")), nil
}

func (r *Runner) buildTickLock() (ticklock.Locker, error) {
	if r.cfg.RedisAddr == "" {
		r.log.WithComponent("app").Warn("No redis configured, tick lock is process-local")
		return ticklock.NewMemoryLock(time.Now), nil
	}

	cli := redis.NewClient(&redis.Options{Addr: r.cfg.RedisAddr})
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := cli.Ping(pingCtx).Err(); err != nil {
		_ = cli.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	r.redisCli = cli
	return ticklock.NewRedisLock(cli), nil
}

func (r *Runner) buildPriceCache() (*pricecache.Cache, error) {
	ttl := time.Duration(r.cfg.PriceTTLMs) * time.Millisecond
	appLog := r.log.WithComponent("app")

	if r.cfg.PriceURL == "" {
		// Without a feed the accounting engine falls back to stored marks.
		appLog.Warn("No price feed configured, positions use stored marks")
		empty := func(context.Context, []string) (map[string]float64, error) {
			return map[string]float64{}, nil
		}
		return pricecache.New(empty, ttl, time.Now, r.log.WithComponent("prices")), nil
	}

	source, err := pricecache.HTTPSource(r.cfg.PriceURL)
	if err != nil {
		return nil, fmt.Errorf("price feed: %w", err)
	}
	return pricecache.New(source, ttl, time.Now, r.log.WithComponent("prices")), nil
}

// Run serves until a termination signal arrives, then drains and closes.
func (r *Runner) Run(ctx context.Context) error {
	signal.Notify(r.shutdownCh, syscall.SIGINT, syscall.SIGTERM)
	appLog := r.log.WithComponent("app")

	errCh := make(chan error, 1)
	go func() {
		errCh <- r.srv.Start()
	}()

	select {
	case sig := <-r.shutdownCh:
		appLog.Info("Signal received", zap.String("signal", sig.String()))
	case <-ctx.Done():
		appLog.Info("Context cancelled")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := r.srv.Shutdown(shutdownCtx); err != nil {
		appLog.Warn("Shutdown did not drain cleanly", zap.Error(err))
	}

	if r.redisCli != nil {
		if err := r.redisCli.Close(); err != nil {
			appLog.Warn("Failed to close redis client", zap.Error(err))
		}
	}
	if err := r.store.Close(); err != nil {
		appLog.Warn("Failed to close storage", zap.Error(err))
	}
	appLog.Info("Arena stopped")
	return nil
}
