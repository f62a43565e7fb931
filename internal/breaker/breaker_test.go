package breaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBreaker_AllowsUntilThresholdReached(t *testing.T) {
	b := New(3, time.Minute)

	assert.True(t, b.Allow())
	b.RecordFailure()
	assert.True(t, b.Allow())
	b.RecordFailure()
	assert.True(t, b.Allow())
	b.RecordFailure()

	assert.True(t, b.Tripped())
	assert.False(t, b.Allow())
}

func TestBreaker_RecordSuccessResetsFailureCount(t *testing.T) {
	b := New(3, time.Minute)

	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	b.RecordFailure()

	assert.False(t, b.Tripped())
}

func TestBreaker_ReclosesAfterCooldown(t *testing.T) {
	b := New(1, 10*time.Millisecond)

	b.RecordFailure()
	assert.True(t, b.Tripped())
	assert.False(t, b.Allow())

	time.Sleep(20 * time.Millisecond)

	assert.True(t, b.Allow())
	assert.False(t, b.Tripped())
}

func TestBreaker_DefaultsAppliedForInvalidConfig(t *testing.T) {
	b := New(0, 0)
	assert.NotNil(t, b)
	assert.True(t, b.Allow())
}

func TestRegistry_GetReturnsSameBreakerForSameName(t *testing.T) {
	r := NewRegistry()
	b1 := r.Get("vend_http", 5, time.Minute)
	b2 := r.Get("vend_http", 99, time.Hour)

	assert.Same(t, b1, b2)
}

func TestRegistry_GetReturnsDifferentBreakersForDifferentNames(t *testing.T) {
	r := NewRegistry()
	b1 := r.Get("vend_http", 5, time.Minute)
	b2 := r.Get("other_circuit", 5, time.Minute)

	assert.NotSame(t, b1, b2)
}
