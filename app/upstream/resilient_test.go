package upstream

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
)

// fakeTransport scripts a sequence of outcomes and counts calls.
type fakeTransport struct {
	calls   int
	results []fakeResult
}

type fakeResult struct {
	payload []byte
	err     error
}

func (f *fakeTransport) Fetch(ctx context.Context, path string, params url.Values) ([]byte, error) {
	idx := f.calls
	f.calls++
	if idx >= len(f.results) {
		idx = len(f.results) - 1
	}
	result := f.results[idx]
	return result.payload, result.err
}

func transportFailure() fakeResult {
	return fakeResult{err: &TransportError{Kind: KindNetwork, Err: errors.New("connection refused")}}
}

func newResilientForTest(transport Fetcher, maxAttempts int, threshold uint32, recovery time.Duration) *ResilientClient {
	return NewResilientClient(transport, ResilienceOptions{
		MaxAttempts:       maxAttempts,
		BackoffMultiplier: 1,
		BackoffMin:        time.Millisecond,
		BackoffMax:        2 * time.Millisecond,
		BreakerThreshold:  threshold,
		BreakerRecovery:   recovery,
		BreakerName:       "test-breaker",
	})
}

func TestRetrySucceedsAfterTransientFailure(t *testing.T) {
	transport := &fakeTransport{results: []fakeResult{
		transportFailure(),
		transportFailure(),
		{payload: []byte("ok")},
	}}
	client := newResilientForTest(transport, 3, 5, time.Minute)

	payload, err := client.Fetch(context.Background(), "character", nil)
	if err != nil {
		t.Fatalf("Expected success after retries, got %v", err)
	}
	if string(payload) != "ok" {
		t.Errorf("Expected payload ok, got %q", string(payload))
	}
	if transport.calls != 3 {
		t.Errorf("Expected 3 transport calls, got %d", transport.calls)
	}
}

func TestRetryExhaustionReturnsUpstreamError(t *testing.T) {
	transport := &fakeTransport{results: []fakeResult{transportFailure()}}
	client := newResilientForTest(transport, 3, 5, time.Minute)

	_, err := client.Fetch(context.Background(), "character", nil)
	if err == nil {
		t.Fatal("Expected error after exhausting retries")
	}
	if transport.calls != 3 {
		t.Errorf("Expected exactly 3 transport calls, got %d", transport.calls)
	}

	var upstreamErr *UpstreamError
	if !errors.As(err, &upstreamErr) {
		t.Fatalf("Expected *UpstreamError, got %T", err)
	}

	var transportErr *TransportError
	if !errors.As(err, &transportErr) {
		t.Errorf("Expected wrapped *TransportError, got %v", err)
	}
}

func TestNonTransportErrorNotRetried(t *testing.T) {
	transport := &fakeTransport{results: []fakeResult{
		{err: errors.New("decode failure")},
	}}
	client := newResilientForTest(transport, 3, 5, time.Minute)

	_, err := client.Fetch(context.Background(), "character", nil)
	if err == nil {
		t.Fatal("Expected error")
	}
	if transport.calls != 1 {
		t.Errorf("Expected 1 transport call for non-transport error, got %d", transport.calls)
	}

	var upstreamErr *UpstreamError
	if errors.As(err, &upstreamErr) {
		t.Errorf("Non-transport error should not be wrapped in *UpstreamError")
	}
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	transport := &fakeTransport{results: []fakeResult{transportFailure()}}
	client := newResilientForTest(transport, 1, 5, time.Minute)

	for i := 0; i < 4; i++ {
		client.Fetch(context.Background(), "character", nil)
	}
	if state := client.BreakerState(); state != gobreaker.StateClosed {
		t.Fatalf("Expected breaker still closed below threshold, got %v", state)
	}

	if _, err := client.Fetch(context.Background(), "character", nil); err == nil {
		t.Fatal("Expected failure on threshold call")
	}
	if state := client.BreakerState(); state != gobreaker.StateOpen {
		t.Fatalf("Expected breaker open after 5 consecutive failures, got %v", state)
	}

	// While open: fail fast without touching the transport.
	callsBefore := transport.calls
	_, err := client.Fetch(context.Background(), "character", nil)
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Expected ErrCircuitOpen, got %v", err)
	}
	if transport.calls != callsBefore {
		t.Errorf("Expected no transport calls while breaker is open, got %d extra",
			transport.calls-callsBefore)
	}
}

func TestBreakerHalfOpenTrialSuccessCloses(t *testing.T) {
	transport := &fakeTransport{results: []fakeResult{
		transportFailure(),
		transportFailure(),
		{payload: []byte("recovered")},
	}}
	client := newResilientForTest(transport, 1, 2, 20*time.Millisecond)

	client.Fetch(context.Background(), "character", nil)
	client.Fetch(context.Background(), "character", nil)
	if state := client.BreakerState(); state != gobreaker.StateOpen {
		t.Fatalf("Expected open breaker, got %v", state)
	}

	// Wait out the recovery window, then the trial call succeeds.
	time.Sleep(30 * time.Millisecond)

	payload, err := client.Fetch(context.Background(), "character", nil)
	if err != nil {
		t.Fatalf("Expected trial call to succeed, got %v", err)
	}
	if string(payload) != "recovered" {
		t.Errorf("Expected payload recovered, got %q", string(payload))
	}
	if state := client.BreakerState(); state != gobreaker.StateClosed {
		t.Errorf("Expected closed breaker after successful trial, got %v", state)
	}
}

func TestBreakerHalfOpenTrialFailureReopens(t *testing.T) {
	transport := &fakeTransport{results: []fakeResult{transportFailure()}}
	client := newResilientForTest(transport, 1, 2, 20*time.Millisecond)

	client.Fetch(context.Background(), "character", nil)
	client.Fetch(context.Background(), "character", nil)

	time.Sleep(30 * time.Millisecond)

	// The single trial call fails: back to open.
	if _, err := client.Fetch(context.Background(), "character", nil); err == nil {
		t.Fatal("Expected trial call to fail")
	}
	if state := client.BreakerState(); state != gobreaker.StateOpen {
		t.Errorf("Expected breaker reopened after failed trial, got %v", state)
	}
}

func TestBackoffWaitClamped(t *testing.T) {
	client := &ResilientClient{
		backoffMultiplier: 1,
		backoffMin:        4 * time.Second,
		backoffMax:        10 * time.Second,
	}

	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{1, 4 * time.Second},  // 1s clamped up to min
		{2, 4 * time.Second},  // 2s clamped up to min
		{3, 4 * time.Second},  // exactly 4s
		{4, 8 * time.Second},  // within range
		{5, 10 * time.Second}, // 16s clamped down to max
	}

	for _, tt := range tests {
		if got := client.backoffWait(tt.attempt); got != tt.expected {
			t.Errorf("backoffWait(%d) = %v, expected %v", tt.attempt, got, tt.expected)
		}
	}
}
