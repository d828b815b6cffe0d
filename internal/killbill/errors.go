package killbill

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a looked-up object does not exist.
	// Expected control flow: get-or-create paths catch it and create.
	ErrNotFound = errors.New("killbill: not found")

	// ErrUnauthorized is returned on credential failures. Configuration
	// problem - retrying cannot help.
	ErrUnauthorized = errors.New("killbill: unauthorized")
)

// APIError wraps a Kill Bill API failure with enough context to classify it.
type APIError struct {
	// StatusCode is the HTTP status from the Kill Bill server; 0 when the
	// request never completed (network failure).
	StatusCode int

	// Message is the server-provided error message, if any.
	Message string

	// Code is Kill Bill's numeric error code from the response body.
	Code int

	// Err is the underlying transport error, if any.
	Err error
}

func (e *APIError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("killbill: request failed: %v", e.Err)
	}
	if e.Message != "" {
		return fmt.Sprintf("killbill: %s (status %d)", e.Message, e.StatusCode)
	}
	return fmt.Sprintf("killbill: unexpected status %d", e.StatusCode)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// Temporary reports whether the failure is transient and safe to retry at
// the job level: network errors, 5xx responses, and rate limiting.
func (e *APIError) Temporary() bool {
	return e.StatusCode == 0 || e.StatusCode == 429 || e.StatusCode >= 500
}

// Validation reports whether Kill Bill rejected the request payload.
// Surfaced to the caller as-is; retrying the same payload cannot succeed.
func (e *APIError) Validation() bool {
	return e.StatusCode == 400 || e.StatusCode == 409 || e.StatusCode == 422
}

// IsNotFound reports whether err represents a missing object.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsTransient reports whether err is safe to retry.
func IsTransient(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Temporary()
}

// IsValidation reports whether err is a payload rejection.
func IsValidation(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Validation()
}
