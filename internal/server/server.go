// Package server exposes the HTTP surface: the scheduler trigger, chart and
// leaderboard queries, the live equity stream, and operational endpoints.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/quantarena/arena/internal/chart"
	"github.com/quantarena/arena/internal/scheduler"
	"github.com/quantarena/arena/internal/storage"
)

// Config for the HTTP server.
type Config struct {
	ListenAddr string
	// SchedulerSecret authenticates the external cron caller. When empty the
	// trigger endpoint refuses everything: fail closed, never open.
	SchedulerSecret string
	BoardLimit      int
	StreamInterval  time.Duration
}

type Server struct {
	cfg        Config
	logger     *zap.Logger
	dispatcher *scheduler.Dispatcher
	store      storage.Storage
	assembler  *chart.Assembler
	metrics    *promMetrics
	httpServer *http.Server
}

func New(cfg Config, dispatcher *scheduler.Dispatcher, store storage.Storage, assembler *chart.Assembler, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BoardLimit <= 0 {
		cfg.BoardLimit = chart.DefaultBoardLimit
	}
	if cfg.StreamInterval <= 0 {
		cfg.StreamInterval = 5 * time.Second
	}

	s := &Server{
		cfg:        cfg,
		logger:     logger,
		dispatcher: dispatcher,
		store:      store,
		assembler:  assembler,
		metrics:    newPromMetrics(),
	}
	dispatcher.WithMetrics(s.metrics)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /internal/cron/tick", s.handleCronTick)
	mux.HandleFunc("GET /api/arena/chart", s.handleChart)
	mux.HandleFunc("GET /api/arena/leaderboard", s.handleLeaderboard)
	mux.HandleFunc("GET /ws/equity", s.handleEquityStream)
	mux.HandleFunc("POST /api/sessions", s.handleStartSession)
	mux.HandleFunc("POST /api/sessions/{id}/stop", s.handleStopSession)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.metrics.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	s.httpServer = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the mux for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start blocks serving HTTP until Shutdown or a listener error.
func (s *Server) Start() error {
	s.logger.Info("HTTP server starting", zap.String("addr", s.cfg.ListenAddr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("HTTP server shutting down")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("Failed to encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func decodeJSON(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}
