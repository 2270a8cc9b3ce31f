// Package craiyon calls the remote image generation service.
package craiyon

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"github.com/tripph/promptfeed/internal/adapter/metrics"
	"github.com/tripph/promptfeed/internal/domain"
	apperrors "github.com/tripph/promptfeed/internal/platform/errors"
	"github.com/tripph/promptfeed/internal/platform/version"
)

const (
	generatePath     = "/generate"
	breakerComponent = "generator"
	maxResponseBytes = 64 << 20
	maxErrorBody     = 512
)

// Config holds the generator settings.
type Config struct {
	BaseURL string
	Timeout time.Duration

	// BreakerFailures consecutive failures open the circuit for BreakerCooldown.
	BreakerFailures uint32
	BreakerCooldown time.Duration
}

// Client posts prompts to {BaseURL}/generate. Every call goes through a
// circuit breaker, so a dead service fails requests fast instead of holding
// each one for the full timeout.
type Client struct {
	baseURL string
	http    *http.Client
	cb      *gobreaker.CircuitBreaker
	metrics *metrics.GenerationMetrics
}

var _ domain.Generator = (*Client)(nil)

// NewClient builds a client. m may be nil.
func NewClient(cfg Config, m *metrics.GenerationMetrics) *Client {
	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = 5
	}
	cooldown := cfg.BreakerCooldown
	if cooldown == 0 {
		cooldown = 30 * time.Second
	}

	c := &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    &http.Client{Timeout: cfg.Timeout},
		metrics: m,
	}
	c.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        breakerComponent,
		MaxRequests: 1,
		Timeout:     cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("Circuit breaker state changed",
				"component", name,
				"from", from.String(),
				"to", to.String(),
			)
			if c.metrics != nil {
				c.metrics.CircuitStateChanges.WithLabelValues(name, to.String()).Inc()
				c.metrics.CircuitState.WithLabelValues(name).Set(stateToFloat(to))
			}
		},
	})
	if m != nil {
		m.CircuitState.WithLabelValues(breakerComponent).Set(0)
	}
	return c
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

// Generate sends one prompt. Any failure, including a timeout or an open
// circuit, comes back as an external error.
func (c *Client) Generate(ctx context.Context, req domain.GenerateRequest) (*domain.GenerateResponse, error) {
	start := time.Now()
	result, err := c.cb.Execute(func() (interface{}, error) {
		return c.post(ctx, req)
	})
	c.observe(start, err)

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, apperrors.ExternalError("generation service unavailable", err)
		}
		return nil, apperrors.ExternalError("generation failed", err)
	}
	return result.(*domain.GenerateResponse), nil
}

func (c *Client) post(ctx context.Context, req domain.GenerateRequest) (*domain.GenerateResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+generatePath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", version.UserAgent())

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var out domain.GenerateResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &out, nil
}

func (c *Client) observe(start time.Time, err error) {
	if c.metrics == nil {
		return
	}
	c.metrics.Duration.Observe(time.Since(start).Seconds())
	c.metrics.Requests.WithLabelValues(outcome(err)).Inc()
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return "circuit_open"
	case isTimeout(err):
		return "timeout"
	default:
		return "error"
	}
}

// State returns the current breaker state.
func (c *Client) State() gobreaker.State {
	return c.cb.State()
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
