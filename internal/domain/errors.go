package domain

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

var (
	// ErrValidation marks bad caller input; it is surfaced immediately.
	ErrValidation = errors.New("validation error")
	// ErrNotFound is returned by stores when an entity is absent.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when a unique key (content hash, url) already exists.
	ErrDuplicate = errors.New("duplicate")
	// ErrInvalidTransition guards the status state machine.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrPersistence wraps store failures that roll back a run scope.
	ErrPersistence = errors.New("persistence error")
)

// ErrorKind classifies failures of external collaborators.
type ErrorKind int

const (
	KindPermanent ErrorKind = iota
	KindRateLimited
	KindTimeout
	KindNetwork
	KindServer
)

func (k ErrorKind) String() string {
	switch k {
	case KindRateLimited:
		return "rate_limited"
	case KindTimeout:
		return "timeout"
	case KindNetwork:
		return "network"
	case KindServer:
		return "server"
	default:
		return "permanent"
	}
}

// ExternalError is a classified failure of an AI, messaging or fetch call.
type ExternalError struct {
	Op         string
	Kind       ErrorKind
	StatusCode int
	RetryAfter time.Duration
	Err        error
}

func (e *ExternalError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Op, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ExternalError) Unwrap() error {
	return e.Err
}

// Transient reports whether retrying may succeed.
func (e *ExternalError) Transient() bool {
	return e.Kind != KindPermanent
}

// IsTransient reports whether err is a retryable external failure.
func IsTransient(err error) bool {
	var ext *ExternalError
	return errors.As(err, &ext) && ext.Transient()
}

// IsRateLimited reports a transport rate-limit signal and the mandated wait.
func IsRateLimited(err error) (time.Duration, bool) {
	var ext *ExternalError
	if errors.As(err, &ext) && ext.Kind == KindRateLimited {
		return ext.RetryAfter, true
	}
	return 0, false
}

// TransportError classifies a failure to get any response at all.
func TransportError(op string, err error) *ExternalError {
	kind := KindNetwork
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		kind = KindTimeout
	}
	return &ExternalError{Op: op, Kind: kind, Err: err}
}

// StatusError classifies a non-success HTTP response.
func StatusError(op string, status int, retryAfter time.Duration, err error) *ExternalError {
	kind := KindPermanent
	switch {
	case status == http.StatusTooManyRequests:
		kind = KindRateLimited
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		kind = KindTimeout
	case status >= http.StatusInternalServerError:
		kind = KindServer
	}
	return &ExternalError{Op: op, Kind: kind, StatusCode: status, RetryAfter: retryAfter, Err: err}
}
