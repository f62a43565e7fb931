package webhook

import "github.com/lsxsync/queue-service/internal/queue"

// routingTable maps a webhook_type to the downstream job types it should
// fan out into. Many-to-many per the §9 Open Question decision recorded in
// SPEC_FULL.md: one event may spawn more than one typed job.
var routingTable = map[string][]queue.JobType{
	"inventory.update":      {queue.TypePushInventoryAdjust},
	"product.update":        {queue.TypePushProductUpdate},
	"consignment.receive":   {queue.TypeUpdateConsignment},
	"consignment.sent":      {queue.TypeUpdateConsignment},
	"consignment.cancelled": {queue.TypeCancelConsignment},
}

// DownstreamTypes returns the job types a webhook_type should fan out into.
// An unrecognized webhook_type fans out into nothing but the event is still
// persisted and acknowledged.
func DownstreamTypes(webhookType string) []queue.JobType {
	return routingTable[webhookType]
}
