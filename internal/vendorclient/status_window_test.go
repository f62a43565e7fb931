package vendorclient

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStatusWindow_RateWhere_ComputesFractionMatchingPredicate(t *testing.T) {
	w := newStatusWindow(time.Minute)
	w.record(200)
	w.record(200)
	w.record(500)
	w.record(503)

	rate5xx := w.rateWhere(time.Minute, func(status int) bool { return status >= 500 })
	assert.InDelta(t, 0.5, rate5xx, 0.001)
}

func TestStatusWindow_RateWhere_ZeroRecordsIsZero(t *testing.T) {
	w := newStatusWindow(time.Minute)
	assert.Equal(t, 0.0, w.rateWhere(time.Minute, func(status int) bool { return true }))
}

func TestStatusWindow_Record_PrunesOlderThanRetain(t *testing.T) {
	w := newStatusWindow(10 * time.Millisecond)
	w.record(500)

	time.Sleep(20 * time.Millisecond)
	w.record(200)

	assert.Len(t, w.records, 1, "the first record should have been pruned by retain")
	assert.Equal(t, 200, w.records[0].status)
}

func TestStatusWindow_RateWhere_OnlyCountsWithinRequestedWindow(t *testing.T) {
	w := newStatusWindow(time.Hour)
	w.records = append(w.records, statusRecord{at: time.Now().Add(-2 * time.Minute), status: 500})
	w.record(200)

	rate5xxLastMinute := w.rateWhere(time.Minute, func(status int) bool { return status >= 500 })
	assert.Equal(t, 0.0, rate5xxLastMinute, "the 500 outside the 1m window should not count")
}

func TestClient_Rate5xxAndRate429_MatchRespectiveStatuses(t *testing.T) {
	c := &Client{window: newStatusWindow(time.Minute)}
	c.window.record(200)
	c.window.record(http.StatusTooManyRequests)
	c.window.record(http.StatusInternalServerError)

	assert.InDelta(t, 1.0/3.0, c.Rate5xx(time.Minute), 0.001)
	assert.InDelta(t, 1.0/3.0, c.Rate429(time.Minute), 0.001)
}
