package adminhandlers

import (
	"github.com/gin-gonic/gin"

	"github.com/lsxsync/queue-service/internal/webhook"
)

// WebhookHandler wraps the webhook.Receiver so routes.go wires one
// consistent handler family for /webhook, /webhook.test, /webhook.replay.
type WebhookHandler struct {
	receiver *webhook.Receiver
}

func NewWebhookHandler(r *webhook.Receiver) *WebhookHandler {
	return &WebhookHandler{receiver: r}
}

func (h *WebhookHandler) Receive(c *gin.Context) { h.receiver.Handle(c) }
func (h *WebhookHandler) Test(c *gin.Context)    { h.receiver.Test(c) }
func (h *WebhookHandler) Replay(c *gin.Context)  { h.receiver.Replay(c) }
