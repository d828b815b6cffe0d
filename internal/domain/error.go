package domain

import (
	"errors"
	"fmt"
)

// Application error codes.
// These drive retry decisions at the job layer and map to operator alerts.
const (
	ECONFLICT  = "conflict"       // duplicate resource (purchase already recorded, etc.)
	ECONFIG    = "config"         // missing credentials/URL - fatal, never retried
	EINTERNAL  = "internal"       // unexpected failure (hide details)
	EINVALID   = "invalid"        // validation error (bad input or rejected payload)
	ENOTFOUND  = "not_found"      // resource not found (often expected control flow)
	ETRANSIENT = "transient"      // network/5xx - safe to retry at job level
	EPAYMENT   = "payment"        // payment declined or failed
	EFXRATE    = "fx_unavailable" // FX rate source cannot quote - must not default
)

// Error represents an application error with a code and message.
// It implements the error interface and supports error wrapping.
type Error struct {
	// Code is a machine-readable error code (e.g. EINVALID, ENOTFOUND).
	Code string

	// Message is a human-readable error message.
	Message string

	// Op is the operation where the error occurred (e.g. "reconciler.cancel").
	// Used for debugging and logging.
	Op string

	// Err is the underlying error, if any. Used for error wrapping.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		if e.Op != "" {
			return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
		}
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap implements error unwrapping for errors.Is and errors.As.
func (e *Error) Unwrap() error {
	return e.Err
}

// ErrorCode extracts the error code from an error.
// Returns EINTERNAL for non-domain errors.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}

	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}

	return EINTERNAL
}

// IsCode returns true if err has the given error code.
func IsCode(err error, code string) bool {
	return ErrorCode(err) == code
}

// Retryable reports whether the job layer may re-run the failed operation.
// Transient failures qualify, as do errors that declare themselves temporary
// in the net.Error style (gateway network failures and 5xx responses travel
// unwrapped). Configuration and validation errors would fail identically on
// every attempt.
func Retryable(err error) bool {
	if IsCode(err, ETRANSIENT) {
		return true
	}
	var t interface{ Temporary() bool }
	return errors.As(err, &t) && t.Temporary()
}

// Errorf creates a new domain error with a formatted message.
// Example: domain.Errorf(domain.EINVALID, "catalog.build", "unknown recurrence: %s", r)
func Errorf(code, op, format string, args ...interface{}) error {
	return &Error{
		Code:    code,
		Op:      op,
		Message: fmt.Sprintf(format, args...),
	}
}

// WrapError wraps an existing error with a domain error code and operation.
// Preserves the underlying error for logging while providing structure.
// Returns nil if err is nil.
func WrapError(err error, code, op, message string) error {
	if err == nil {
		return nil
	}

	return &Error{
		Code:    code,
		Op:      op,
		Message: message,
		Err:     err,
	}
}

// NotFound creates a not found error for a resource.
// Example: domain.NotFound("subscription.get", "subscription", externalID)
func NotFound(op, resource, identifier string) error {
	return &Error{
		Code:    ENOTFOUND,
		Op:      op,
		Message: fmt.Sprintf("%s not found: %s", resource, identifier),
	}
}

// Invalid creates a validation error for a single issue.
func Invalid(op, message string) error {
	return &Error{
		Code:    EINVALID,
		Op:      op,
		Message: message,
	}
}

// Config creates a fatal configuration error. Callers must not retry.
func Config(op, message string) error {
	return &Error{
		Code:    ECONFIG,
		Op:      op,
		Message: message,
	}
}

// Transient wraps an error as retryable at the job level.
func Transient(err error, op, message string) error {
	return &Error{
		Code:    ETRANSIENT,
		Op:      op,
		Message: message,
		Err:     err,
	}
}

// Internal creates an internal error wrapping the underlying cause.
func Internal(err error, op, message string) error {
	return &Error{
		Code:    EINTERNAL,
		Op:      op,
		Message: message,
		Err:     err,
	}
}

// ErrFxRateUnavailable is returned when the FX rate source cannot quote a
// currency pair. Gross-mode price resolution must propagate it rather than
// substitute a wrong rate.
var ErrFxRateUnavailable = &Error{
	Code:    EFXRATE,
	Message: "fx rate unavailable for currency pair",
}
