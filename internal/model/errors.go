package model

import (
	"errors"
	"fmt"
	"net"
	"syscall"
)

var (
	// ErrNoElements is returned when discovery yields nothing to ingest.
	ErrNoElements = errors.New("no elements discovered")

	// ErrMalformedElement marks an element whose geometry matches no known shape.
	ErrMalformedElement = errors.New("malformed element")

	// ErrBudgetExhausted signals that an invocation must hand off its remaining work.
	ErrBudgetExhausted = errors.New("time budget exhausted")

	// ErrInvalidState is returned for a continuation payload that cannot be resumed.
	ErrInvalidState = errors.New("invalid continuation state")
)

// UpstreamError wraps a failure of the map-data or geocoding service.
type UpstreamError struct {
	Service    string
	StatusCode int
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: upstream returned status %d: %v", e.Service, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: upstream unavailable: %v", e.Service, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// NewUpstreamError wraps err as an upstream failure with an optional HTTP status code.
func NewUpstreamError(service string, statusCode int, err error) *UpstreamError {
	return &UpstreamError{Service: service, StatusCode: statusCode, Err: err}
}

// IsUpstream reports whether err is an UpstreamError or a network-level
// failure (timeout, connection reset/refused).
func IsUpstream(err error) bool {
	if err == nil {
		return false
	}

	var ue *UpstreamError
	if errors.As(err, &ue) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	return errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED)
}

// PersistenceError is a store write failure attributed to a single area.
type PersistenceError struct {
	Slug string
	Op   string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s %q: %v", e.Op, e.Slug, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// IsPersistence reports whether err is a PersistenceError.
func IsPersistence(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}
