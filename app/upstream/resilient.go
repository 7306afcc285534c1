package upstream

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"net/url"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/portalwatch/portalwatch/app/metrics"
)

// Fetcher is the call contract shared by the raw transport and its
// resilient wrapper, so the two compose transparently.
type Fetcher interface {
	Fetch(ctx context.Context, path string, params url.Values) ([]byte, error)
}

var _ Fetcher = (*Transport)(nil)
var _ Fetcher = (*ResilientClient)(nil)

// ResilienceOptions configures retry and circuit breaker behavior.
type ResilienceOptions struct {
	MaxAttempts       int
	BackoffMultiplier float64
	BackoffMin        time.Duration
	BackoffMax        time.Duration
	BreakerThreshold  uint32
	BreakerRecovery   time.Duration
	BreakerName       string
}

// ResilientClient wraps a Fetcher with bounded exponential-backoff retry and
// a circuit breaker. The breaker observes one outcome per logical call: it
// sits outside the retry loop, so a call counts as failed only after all
// attempts are exhausted.
type ResilientClient struct {
	transport         Fetcher
	breaker           *gobreaker.CircuitBreaker[[]byte]
	maxAttempts       int
	backoffMultiplier float64
	backoffMin        time.Duration
	backoffMax        time.Duration
}

func NewResilientClient(transport Fetcher, opts ResilienceOptions) *ResilientClient {
	name := opts.BreakerName
	if name == "" {
		name = "upstream-api"
	}

	metrics.CircuitBreakerState.WithLabelValues(name).Set(0)

	breaker := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name: name,
		// Exactly one trial call is allowed through while half-open.
		MaxRequests: 1,
		Timeout:     opts.BreakerRecovery,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= opts.BreakerThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("Circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
			metrics.CircuitBreakerState.WithLabelValues(name).Set(breakerStateValue(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
		},
	})

	return &ResilientClient{
		transport:         transport,
		breaker:           breaker,
		maxAttempts:       opts.MaxAttempts,
		backoffMultiplier: opts.BackoffMultiplier,
		backoffMin:        opts.BackoffMin,
		backoffMax:        opts.BackoffMax,
	}
}

// Fetch performs one resilient logical call. While the breaker is open it
// fails fast with ErrCircuitOpen without touching the network.
func (c *ResilientClient) Fetch(ctx context.Context, path string, params url.Values) ([]byte, error) {
	payload, err := c.breaker.Execute(func() ([]byte, error) {
		return c.fetchWithRetry(ctx, path, params)
	})

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		slog.Warn("Upstream call rejected by circuit breaker", "path", path)
		return nil, ErrCircuitOpen
	}

	return payload, err
}

// BreakerState reports the current circuit breaker state.
func (c *ResilientClient) BreakerState() gobreaker.State {
	return c.breaker.State()
}

func (c *ResilientClient) fetchWithRetry(ctx context.Context, path string, params url.Values) ([]byte, error) {
	var lastErr error

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		payload, err := c.transport.Fetch(ctx, path, params)
		if err == nil {
			return payload, nil
		}

		var transportErr *TransportError
		if !errors.As(err, &transportErr) {
			// Not a transport failure: never retried.
			return nil, err
		}
		lastErr = err

		if attempt == c.maxAttempts {
			break
		}

		wait := c.backoffWait(attempt)
		slog.Warn("Upstream request failed, retrying",
			"path", path,
			"attempt", attempt,
			"max_attempts", c.maxAttempts,
			"wait", wait.String(),
			"error", err)

		if err := sleepCtx(ctx, wait); err != nil {
			break
		}
	}

	return nil, &UpstreamError{Err: lastErr}
}

// backoffWait computes multiplier * 2^(attempt-1) seconds clamped to
// [backoffMin, backoffMax].
func (c *ResilientClient) backoffWait(attempt int) time.Duration {
	wait := time.Duration(c.backoffMultiplier * math.Pow(2, float64(attempt-1)) * float64(time.Second))
	if wait < c.backoffMin {
		wait = c.backoffMin
	}
	if wait > c.backoffMax {
		wait = c.backoffMax
	}
	return wait
}

func breakerStateValue(state gobreaker.State) float64 {
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
