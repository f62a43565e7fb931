package grader

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify_GreenWhenSnapshotIsHealthy(t *testing.T) {
	grade, reasons := classify(Snapshot{Pending: 10, OldestPendingAgeS: 5, Done1m: 3})
	assert.Equal(t, GradeGreen, grade)
	assert.Empty(t, reasons)
}

func TestClassify_AmberOnModeratePendingBacklog(t *testing.T) {
	grade, reasons := classify(Snapshot{Pending: 1500})
	assert.Equal(t, GradeAmber, grade)
	assert.Contains(t, reasons, "pending_gt_1000")
}

func TestClassify_RedOnLargePendingBacklog(t *testing.T) {
	grade, reasons := classify(Snapshot{Pending: 6000})
	assert.Equal(t, GradeRed, grade)
	assert.Contains(t, reasons, "pending_gt_5000")
}

func TestClassify_RedTakesPriorityOverAmber(t *testing.T) {
	// Pending alone would be AMBER, but a stalled drain also applies and is
	// RED-level, so RED must win even though both thresholds are crossed.
	grade, reasons := classify(Snapshot{Pending: 1200, Done1m: 0, OldestPendingAgeS: 700})
	assert.Equal(t, GradeRed, grade)
	assert.Contains(t, reasons, "stalled_drain")
}

func TestClassify_RedOnVendorErrorRate(t *testing.T) {
	grade, reasons := classify(Snapshot{VendorRate5xx5m: 0.2})
	assert.Equal(t, GradeRed, grade)
	assert.Contains(t, reasons, "rate_5xx_gt_15pct")
}

func TestClassify_AmberOnElevatedVendorErrorRate(t *testing.T) {
	grade, reasons := classify(Snapshot{VendorRate5xx5m: 0.08})
	assert.Equal(t, GradeAmber, grade)
	assert.Contains(t, reasons, "rate_5xx_gt_5pct")
}

func TestClassify_RedOnInvalidVendorConfig(t *testing.T) {
	grade, reasons := classify(Snapshot{InvalidVendorConfig: true})
	assert.Equal(t, GradeRed, grade)
	assert.Contains(t, reasons, "invalid_vendor_config")
}

func TestClassify_RedOnStaleWebhooks(t *testing.T) {
	grade, reasons := classify(Snapshot{WebhookLastEventS: 1000})
	assert.Equal(t, GradeRed, grade)
	assert.Contains(t, reasons, "last_event_age_gt_900s")
}
