package apperrors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRetryable_MatchesTheSevenPropagationRule(t *testing.T) {
	assert.True(t, RateLimited(30).Retryable())
	assert.True(t, BreakerOpen("2026-01-01T00:00:00Z").Retryable())
	assert.True(t, TransientVendor("upstream 503", 503).Retryable())
	assert.True(t, Internal("unexpected", nil).Retryable())

	assert.False(t, InvalidInput("bad field %q", "type").Retryable())
	assert.False(t, Unauthorized("missing token").Retryable())
	assert.False(t, Validation("schema mismatch", nil).Retryable())
	assert.False(t, Duplicate("already processed").Retryable())
}

func TestIsRetryable_DefaultsToFalseForPlainErrors(t *testing.T) {
	assert.False(t, IsRetryable(errors.New("plain error")))
}

func TestIsRetryable_DelegatesToDomainError(t *testing.T) {
	assert.True(t, IsRetryable(RateLimited(5)))
	assert.False(t, IsRetryable(InvalidInput("x")))
}

func TestKindOf_DefaultsToInternalForPlainErrors(t *testing.T) {
	assert.Equal(t, KindInternal, KindOf(errors.New("plain")))
}

func TestKindOf_ReturnsTheDomainErrorKind(t *testing.T) {
	assert.Equal(t, KindBreakerOpen, KindOf(BreakerOpen("")))
}

func TestAs_ExtractsDomainErrorButNotItsStringifiedCopy(t *testing.T) {
	de := Internal("boom", errors.New("root cause"))
	wrapped := errors.New("context: " + de.Error())

	_, ok := As(wrapped)
	assert.False(t, ok, "a plain wrapped string is not a DomainError")

	extracted, ok := As(de)
	assert.True(t, ok)
	assert.Equal(t, de, extracted)
}

func TestDomainError_Unwrap_ExposesSentinelForErrorsIs(t *testing.T) {
	err := RateLimited(10)
	assert.True(t, errors.Is(err, ErrRateLimited))
	assert.False(t, errors.Is(err, ErrDuplicate))
}

func TestDomainError_Error_PrefersMessageOverSentinel(t *testing.T) {
	err := InvalidInput("field %q is required", "idempotency_key")
	assert.Equal(t, `field "idempotency_key" is required`, err.Error())
}

func TestDomainError_Error_FallsBackToSentinelWhenMessageEmpty(t *testing.T) {
	err := New(KindDuplicate, "DUPLICATE", "", nil)
	assert.Equal(t, ErrDuplicate.Error(), err.Error())
}

func TestRateLimited_CarriesRetryAfterDetail(t *testing.T) {
	err := RateLimited(42)
	assert.Equal(t, 42, err.Details["retry_after_s"])
	assert.Equal(t, "RATE_LIMITED", err.Code)
}

func TestInternal_PreservesCauseForUnwrap(t *testing.T) {
	cause := errors.New("db connection refused")
	err := Internal("failed to enqueue", cause)

	assert.Same(t, cause, errors.Unwrap(err))
}
