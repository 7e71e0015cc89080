package server

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/quantarena/arena/internal/chart"
	"github.com/quantarena/arena/internal/series"
	"github.com/quantarena/arena/internal/storage"
	"github.com/quantarena/arena/internal/storage/models"
)

// handleCronTick is the external scheduler trigger. The caller presents the
// pre-shared secret as a bearer token; one dispatch cycle runs synchronously
// and the report is returned for the caller's logs.
func (s *Server) handleCronTick(w http.ResponseWriter, r *http.Request) {
	if s.cfg.SchedulerSecret == "" {
		s.logger.Error("Scheduler secret not configured, refusing trigger")
		s.writeError(w, http.StatusServiceUnavailable, "scheduler is not configured")
		return
	}

	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.SchedulerSecret)) != 1 {
		s.writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	report, err := s.dispatcher.Run(r.Context())
	if err != nil {
		s.logger.Error("Dispatch cycle failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "dispatch cycle failed")
		return
	}

	s.writeJSON(w, http.StatusOK, report)
}

// parseRange resolves the hours selector: a positive integer or "all".
func parseRange(raw string) (time.Duration, bool, error) {
	if raw == "" || raw == "all" {
		return 0, true, nil
	}
	hours, err := strconv.Atoi(raw)
	if err != nil || hours <= 0 {
		return 0, false, errors.New("hours must be a positive integer or \"all\"")
	}
	return time.Duration(hours) * time.Hour, false, nil
}

func parseDisplayMode(raw string) (chart.DisplayMode, error) {
	switch raw {
	case "", string(chart.ModeEquity):
		return chart.ModeEquity, nil
	case string(chart.ModeReturn):
		return chart.ModeReturn, nil
	default:
		return "", errors.New("mode must be \"equity\" or \"return\"")
	}
}

func (s *Server) handleChart(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	rng, all, err := parseRange(q.Get("hours"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	mode, err := parseDisplayMode(q.Get("mode"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	includeEnded := q.Get("include_ended") == "true"

	sessions, err := s.store.ListSessions(r.Context(), includeEnded)
	if err != nil {
		s.logger.Error("Failed to list sessions", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to load sessions")
		return
	}

	var since time.Time
	width := series.BucketWidth(rng)
	if !all {
		since = time.Now().Add(-rng)
	}

	participants := make([]chart.Participant, 0, len(sessions))
	var oldest, newest time.Time
	for _, sess := range sessions {
		samples, err := s.store.ListEquitySamples(r.Context(), sess.ID, since)
		if err != nil {
			s.logger.Warn("Failed to load equity samples",
				zap.String("session_id", sess.ID),
				zap.Error(err))
			continue
		}
		points := make([]series.Point, 0, len(samples))
		for _, sm := range samples {
			points = append(points, series.Point{Time: sm.Time, Value: sm.Equity})
			if oldest.IsZero() || sm.Time.Before(oldest) {
				oldest = sm.Time
			}
			if sm.Time.After(newest) {
				newest = sm.Time
			}
		}
		acct, err := s.store.AccountForSession(r.Context(), sess.ID)
		if err != nil {
			s.logger.Warn("Session has no account, excluded from chart",
				zap.String("session_id", sess.ID),
				zap.Error(err))
			continue
		}
		participants = append(participants, chart.Participant{
			SessionID:      sess.ID,
			Name:           sess.Name,
			StartingEquity: acct.StartingEquity,
			Ended:          sess.Status == models.SessionStopped,
			Points:         points,
		})
	}

	// "all" picks the width from the span actually present
	if all && !oldest.IsZero() {
		width = series.BucketWidth(newest.Sub(oldest))
	}
	for i := range participants {
		participants[i].Points = series.Bucket(participants[i].Points, width)
	}

	assembled := s.assembler.Assemble(participants, mode, includeEnded)

	resp := chartResponse{Chart: assembled}
	if assembled.Empty {
		resp.Message = "no equity samples in the selected range"
	}
	s.writeJSON(w, http.StatusOK, resp)
}

type chartResponse struct {
	*chart.Chart
	Message string `json:"message,omitempty"`
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	includeEnded := r.URL.Query().Get("include_ended") == "true"

	standings, err := s.currentStandings(r, includeEnded)
	if err != nil {
		s.logger.Error("Failed to build standings", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to load leaderboard")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"entries": chart.Rank(standings, s.cfg.BoardLimit),
	})
}

func (s *Server) currentStandings(r *http.Request, includeEnded bool) ([]chart.Standing, error) {
	sessions, err := s.store.ListSessions(r.Context(), includeEnded)
	if err != nil {
		return nil, err
	}

	standings := make([]chart.Standing, 0, len(sessions))
	for _, sess := range sessions {
		acct, err := s.store.AccountForSession(r.Context(), sess.ID)
		if err != nil {
			s.logger.Warn("Session has no account, excluded from leaderboard",
				zap.String("session_id", sess.ID),
				zap.Error(err))
			continue
		}
		// Equity here is the display cache written on every tick; good
		// enough for ranking between ticks.
		standings = append(standings, chart.Standing{
			SessionID:      sess.ID,
			Name:           sess.Name,
			Equity:         acct.Equity,
			StartingEquity: acct.StartingEquity,
		})
	}
	return standings, nil
}

type startSessionRequest struct {
	Name           string   `json:"name"`
	StrategyID     string   `json:"strategy_id"`
	Mode           string   `json:"mode"`
	Markets        []string `json:"markets"`
	CadenceSeconds int      `json:"cadence_seconds"`
	StartingEquity float64  `json:"starting_equity"`
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	switch req.Mode {
	case "virtual", "live", "arena":
	default:
		s.writeError(w, http.StatusBadRequest, "mode must be virtual, live, or arena")
		return
	}
	if len(req.Markets) == 0 {
		s.writeError(w, http.StatusBadRequest, "markets must not be empty")
		return
	}
	if req.StartingEquity <= 0 {
		req.StartingEquity = chart.DefaultStartingEquity
	}

	now := time.Now().UTC()
	sess := &models.Session{
		ID:             uuid.New().String(),
		StrategyID:     req.StrategyID,
		Name:           req.Name,
		Mode:           req.Mode,
		Status:         models.SessionRunning,
		CadenceSeconds: req.CadenceSeconds,
		Markets:        strings.Join(req.Markets, ","),
		StartedAt:      now,
	}
	acctMode := req.Mode
	if acctMode == "arena" {
		acctMode = "virtual" // arena entries settle like virtual accounts
	}
	acct := &models.Account{
		ID:             uuid.New().String(),
		Mode:           acctMode,
		StartingEquity: req.StartingEquity,
		CashBalance:    req.StartingEquity,
		Equity:         req.StartingEquity,
	}

	if err := s.store.StartSession(r.Context(), sess, acct); err != nil {
		s.logger.Error("Failed to start session", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to start session")
		return
	}

	s.logger.Info("Session started",
		zap.String("session_id", sess.ID),
		zap.String("mode", sess.Mode),
		zap.Strings("markets", req.Markets))
	s.writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleStopSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	err := s.store.StopSession(r.Context(), id, time.Now().UTC())
	switch {
	case errors.Is(err, storage.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "no running session with that id")
	case err != nil:
		s.logger.Error("Failed to stop session", zap.String("session_id", id), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to stop session")
	default:
		s.logger.Info("Session stopped", zap.String("session_id", id))
		w.WriteHeader(http.StatusNoContent)
	}
}
