package upstream

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/portalwatch/portalwatch/app/metrics"
)

// TransportOptions configures the raw HTTP transport.
type TransportOptions struct {
	BaseURL           string
	Timeout           time.Duration
	RateLimitCooldown time.Duration
	MaxIdleConns      int
	MaxConnsPerHost   int
	UserAgent         string
}

// Transport issues single HTTP GET requests against the upstream API.
// Resilience (retries, circuit breaking) lives in ResilientClient.
type Transport struct {
	client            *http.Client
	baseURL           string
	userAgent         string
	rateLimitCooldown time.Duration
}

func NewTransport(opts TransportOptions) *Transport {
	return &Transport{
		client: &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        opts.MaxIdleConns,
				MaxIdleConnsPerHost: opts.MaxIdleConns,
				MaxConnsPerHost:     opts.MaxConnsPerHost,
			},
		},
		baseURL:           opts.BaseURL,
		userAgent:         opts.UserAgent,
		rateLimitCooldown: opts.RateLimitCooldown,
	}
}

// Fetch performs one GET against the upstream API and returns the raw JSON
// payload. Non-2xx responses and connection failures surface as
// *TransportError.
func (t *Transport) Fetch(ctx context.Context, path string, params url.Values) ([]byte, error) {
	reqURL := joinURL(t.baseURL, path)
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("User-Agent", t.userAgent)
	req.Header.Set("Accept", "application/json")

	slog.Debug("Upstream request", "url", reqURL)

	start := time.Now()
	resp, err := t.client.Do(req)
	metrics.UpstreamRequestDuration.WithLabelValues(path).Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.UpstreamRequestsTotal.WithLabelValues(path, "error").Inc()
		metrics.UpstreamErrorsTotal.WithLabelValues(path, string(KindNetwork)).Inc()
		slog.Error("Upstream request failed", "url", reqURL, "error", err)
		return nil, &TransportError{Kind: KindNetwork, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		metrics.UpstreamRequestsTotal.WithLabelValues(path, "error").Inc()
		metrics.UpstreamErrorsTotal.WithLabelValues(path, string(KindHTTPStatus)).Inc()
		slog.Error("Upstream HTTP error", "url", reqURL, "status", resp.StatusCode)

		if resp.StatusCode == http.StatusTooManyRequests {
			// Rate limited: back off before surfacing the error, whether or
			// not a retry follows.
			slog.Warn("Upstream rate limited, cooling down", "cooldown", t.rateLimitCooldown.String())
			if err := sleepCtx(ctx, t.rateLimitCooldown); err != nil {
				slog.Debug("Rate limit cooldown interrupted", "error", err)
			}
		}

		return nil, &TransportError{Kind: KindHTTPStatus, StatusCode: resp.StatusCode}
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.UpstreamRequestsTotal.WithLabelValues(path, "error").Inc()
		metrics.UpstreamErrorsTotal.WithLabelValues(path, string(KindNetwork)).Inc()
		return nil, &TransportError{Kind: KindNetwork, Err: err}
	}

	metrics.UpstreamRequestsTotal.WithLabelValues(path, "success").Inc()
	return payload, nil
}

// joinURL joins the base URL and a relative path with exactly one separator
// regardless of trailing/leading slashes.
func joinURL(base, path string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
