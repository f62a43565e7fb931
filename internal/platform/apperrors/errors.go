// Package apperrors implements the error taxonomy used to classify
// failures across the queue, webhook, and vendor-client components.
package apperrors

import (
	"errors"
	"fmt"
)

// Kind is one of the eight classified failure kinds.
type Kind string

const (
	KindInvalidInput    Kind = "invalid_input"
	KindUnauthorized    Kind = "unauthorized"
	KindRateLimited     Kind = "rate_limited"
	KindBreakerOpen     Kind = "breaker_open"
	KindTransientVendor Kind = "transient_vendor"
	KindDuplicate       Kind = "duplicate"
	KindValidation      Kind = "validation"
	KindInternal        Kind = "internal"
)

var (
	ErrInvalidInput    = errors.New("invalid input")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrRateLimited     = errors.New("rate limited")
	ErrBreakerOpen     = errors.New("circuit breaker open")
	ErrTransientVendor = errors.New("transient vendor error")
	ErrDuplicate       = errors.New("duplicate")
	ErrValidation      = errors.New("validation rejected")
	ErrInternal        = errors.New("internal error")
)

var sentinelByKind = map[Kind]error{
	KindInvalidInput:    ErrInvalidInput,
	KindUnauthorized:    ErrUnauthorized,
	KindRateLimited:     ErrRateLimited,
	KindBreakerOpen:     ErrBreakerOpen,
	KindTransientVendor: ErrTransientVendor,
	KindDuplicate:       ErrDuplicate,
	KindValidation:      ErrValidation,
	KindInternal:        ErrInternal,
}

// retryableByKind captures §7's propagation rule: transient/rate-limited/
// breaker-open kinds retry; invalid_input/unauthorized/validation never do;
// duplicate is coerced to success upstream so retry is moot; internal
// retries once by caller convention (runner decides the attempt ceiling).
var retryableByKind = map[Kind]bool{
	KindInvalidInput:    false,
	KindUnauthorized:    false,
	KindRateLimited:     true,
	KindBreakerOpen:     true,
	KindTransientVendor: true,
	KindDuplicate:       false,
	KindValidation:      false,
	KindInternal:        true,
}

// DomainError is a classified, structured error carrying a kind, a stable
// code, an operator-facing message, and optional details for logging.
type DomainError struct {
	Err     error
	Kind    Kind
	Code    string
	Message string
	Details map[string]interface{}
}

func (e *DomainError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Kind)
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

func (e *DomainError) Is(target error) bool {
	if e.Err != nil {
		return errors.Is(e.Err, target)
	}
	return false
}

// Retryable reports whether the runner should requeue with backoff rather
// than move the job straight to the DLQ.
func (e *DomainError) Retryable() bool {
	return retryableByKind[e.Kind]
}

// New builds a DomainError of the given kind with a message and optional
// details.
func New(kind Kind, code, message string, details map[string]interface{}) *DomainError {
	return &DomainError{
		Err:     sentinelByKind[kind],
		Kind:    kind,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func InvalidInput(format string, args ...interface{}) *DomainError {
	return New(KindInvalidInput, "INVALID_INPUT", fmt.Sprintf(format, args...), nil)
}

func Unauthorized(message string) *DomainError {
	return New(KindUnauthorized, "UNAUTHORIZED", message, nil)
}

func RateLimited(retryAfterSeconds int) *DomainError {
	return New(KindRateLimited, "RATE_LIMITED", "rate limit exceeded", map[string]interface{}{
		"retry_after_s": retryAfterSeconds,
	})
}

func BreakerOpen(until string) *DomainError {
	return New(KindBreakerOpen, "BREAKER_OPEN", "circuit breaker is open", map[string]interface{}{
		"until": until,
	})
}

func TransientVendor(message string, statusCode int) *DomainError {
	return New(KindTransientVendor, "TRANSIENT_VENDOR", message, map[string]interface{}{
		"status_code": statusCode,
	})
}

func Duplicate(message string) *DomainError {
	return New(KindDuplicate, "DUPLICATE", message, nil)
}

func Validation(message string, details map[string]interface{}) *DomainError {
	return New(KindValidation, "VALIDATION", message, details)
}

func Internal(message string, cause error) *DomainError {
	de := New(KindInternal, "INTERNAL", message, nil)
	de.Err = cause
	return de
}

// As extracts a *DomainError from err, if any.
func As(err error) (*DomainError, bool) {
	var de *DomainError
	ok := errors.As(err, &de)
	return de, ok
}

// KindOf returns the Kind of err, defaulting to internal when err is not a
// *DomainError.
func KindOf(err error) Kind {
	if de, ok := As(err); ok {
		return de.Kind
	}
	return KindInternal
}

// IsRetryable reports whether err should be retried by the runner.
func IsRetryable(err error) bool {
	if de, ok := As(err); ok {
		return de.Retryable()
	}
	return false
}
