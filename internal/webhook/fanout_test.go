package webhook

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lsxsync/queue-service/internal/queue"
)

func TestDownstreamTypes_KnownWebhookType(t *testing.T) {
	types := DownstreamTypes("inventory.update")
	assert.Equal(t, []queue.JobType{queue.TypePushInventoryAdjust}, types)
}

func TestDownstreamTypes_ConsignmentEventsShareAJobType(t *testing.T) {
	received := DownstreamTypes("consignment.receive")
	sent := DownstreamTypes("consignment.sent")
	assert.Equal(t, received, sent)
	assert.Equal(t, []queue.JobType{queue.TypeUpdateConsignment}, received)
}

func TestDownstreamTypes_UnknownWebhookTypeFansOutToNothing(t *testing.T) {
	assert.Nil(t, DownstreamTypes("some.unrecognized.event"))
}
