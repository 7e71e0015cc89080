// Package executor provides tick-executor implementations behind the
// dispatcher's contract: every tick resolves to exactly one of ticked,
// lock-skipped, or errored.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/quantarena/arena/internal/scheduler"
)

// tickResponse is the executor wire format.
type tickResponse struct {
	Ticked        bool              `json:"ticked"`
	Decisions     []json.RawMessage `json:"decisions"`
	Skipped       bool              `json:"skipped"`
	Reason        string            `json:"reason"`
	MinIntervalMs int64             `json:"minIntervalMs"`
	Error         string            `json:"error"`
}

// HTTPExecutor calls an external decision-engine service over HTTP with an
// internal bearer credential.
type HTTPExecutor struct {
	baseURL string
	token   string
	client  *http.Client
	logger  *zap.Logger
}

var _ scheduler.TickExecutor = (*HTTPExecutor)(nil)

// NewHTTPExecutor validates the target up front: an unresolvable executor
// URL is a configuration error, not something to discover mid-cycle.
func NewHTTPExecutor(baseURL, token string, logger *zap.Logger) (*HTTPExecutor, error) {
	if baseURL == "" {
		return nil, errors.New("executor base URL is not configured")
	}
	parsed, err := url.Parse(baseURL)
	if err != nil || !strings.HasPrefix(parsed.Scheme, "http") {
		return nil, fmt.Errorf("invalid executor base URL %q", baseURL)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPExecutor{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{},
		logger:  logger,
	}, nil
}

// ExecuteTick posts the tick request, retrying transient failures with
// exponential backoff. 4xx responses are permanent; the caller's per-tick
// timeout bounds the whole attempt chain through ctx.
func (e *HTTPExecutor) ExecuteTick(ctx context.Context, sessionID string) (*scheduler.TickResult, error) {
	op := func() (*scheduler.TickResult, error) {
		return e.tickOnce(ctx, sessionID)
	}

	return backoff.Retry(
		ctx,
		op,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(20*time.Second),
	)
}

func (e *HTTPExecutor) tickOnce(ctx context.Context, sessionID string) (*scheduler.TickResult, error) {
	endpoint := fmt.Sprintf("%s/internal/sessions/%s/tick", e.baseURL, url.PathEscape(sessionID))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("build tick request: %w", err))
	}
	req.Header.Set("Authorization", "Bearer "+e.token)
	req.Header.Set("Accept", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tick request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read tick response: %w", err)
	}

	if resp.StatusCode >= 400 {
		err := fmt.Errorf("executor returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		if resp.StatusCode < 500 {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}

	var wire tickResponse
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("malformed tick response: %w", err))
	}
	if wire.Error != "" {
		return nil, backoff.Permanent(fmt.Errorf("executor error: %s", wire.Error))
	}

	return &scheduler.TickResult{
		Ticked:        wire.Ticked,
		Skipped:       wire.Skipped,
		Reason:        wire.Reason,
		MinIntervalMs: wire.MinIntervalMs,
		Decisions:     len(wire.Decisions),
	}, nil
}
