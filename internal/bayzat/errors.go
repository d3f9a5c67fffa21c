package bayzat

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failed Bayzat API call. RateLimited and Transient
// are retryable; Unauthorized and Malformed are not.
type ErrorKind string

const (
	KindRateLimited  ErrorKind = "rate_limited"
	KindUnauthorized ErrorKind = "unauthorized"
	KindTransient    ErrorKind = "transient"
	KindMalformed    ErrorKind = "malformed"
)

// APIError is the typed failure surfaced by the client.
type APIError struct {
	Kind       ErrorKind
	StatusCode int
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("bayzat %s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("bayzat %s: %s", e.Kind, e.Message)
}

// Unwrap returns the wrapped error.
func (e *APIError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Retryable reports whether the failure should feed the per-record backoff
// policy rather than fail the record outright.
func (e *APIError) Retryable() bool {
	if e == nil {
		return false
	}
	return e.Kind == KindRateLimited || e.Kind == KindTransient
}

// KindOf extracts the error kind, defaulting to Transient for untyped errors
// (network faults reach the caller as plain errors from net/http).
func KindOf(err error) ErrorKind {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return KindTransient
}

// IsRetryable reports whether an error should be retried with backoff.
func IsRetryable(err error) bool {
	kind := KindOf(err)
	return kind == KindRateLimited || kind == KindTransient
}
