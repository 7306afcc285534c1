package upstream

import (
	"errors"
	"fmt"
)

// ErrorKind classifies transport failures.
type ErrorKind string

const (
	// KindNetwork covers connection and timeout failures.
	KindNetwork ErrorKind = "network"
	// KindHTTPStatus covers non-2xx responses.
	KindHTTPStatus ErrorKind = "http_status"
)

// TransportError is a failed HTTP attempt against the upstream API. It is
// the only error class the retry policy acts on.
type TransportError struct {
	Kind       ErrorKind
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.Kind == KindHTTPStatus {
		return fmt.Sprintf("upstream HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("upstream request failed: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// UpstreamError is surfaced once the retry policy has exhausted its
// attempts. It wraps the last transport error.
type UpstreamError struct {
	Err error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream unavailable after retries: %v", e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// ErrCircuitOpen is returned when the circuit breaker rejects a call
// without attempting any network I/O.
var ErrCircuitOpen = errors.New("upstream circuit breaker is open")
