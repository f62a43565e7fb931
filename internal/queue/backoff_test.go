package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoff_GrowsExponentiallyUpToCap(t *testing.T) {
	// jitter adds 0..10s on top of the deterministic base, so assert ranges.
	d1 := Backoff(1)
	assert.GreaterOrEqual(t, d1, 10*time.Second)
	assert.Less(t, d1, 20*time.Second)

	d2 := Backoff(2)
	assert.GreaterOrEqual(t, d2, 20*time.Second)
	assert.Less(t, d2, 30*time.Second)

	d5 := Backoff(5)
	assert.GreaterOrEqual(t, d5, 160*time.Second)
	assert.Less(t, d5, 170*time.Second)
}

func TestBackoff_CapsAt300sPlusJitter(t *testing.T) {
	d := Backoff(10)
	assert.GreaterOrEqual(t, d, 300*time.Second)
	assert.Less(t, d, 310*time.Second)
}

func TestBackoff_TreatsNonPositiveAttemptsAsOne(t *testing.T) {
	d0 := Backoff(0)
	dNeg := Backoff(-3)
	assert.GreaterOrEqual(t, d0, 10*time.Second)
	assert.Less(t, d0, 20*time.Second)
	assert.GreaterOrEqual(t, dNeg, 10*time.Second)
	assert.Less(t, dNeg, 20*time.Second)
}
