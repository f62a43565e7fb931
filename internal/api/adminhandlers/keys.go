package adminhandlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lsxsync/queue-service/internal/configstore"
)

// KeysHandler serves POST /keys.rotate, rotating the webhook secret or the
// admin bearer token through the config store's overlap window.
type KeysHandler struct {
	config *configstore.Store
}

func NewKeysHandler(config *configstore.Store) *KeysHandler {
	return &KeysHandler{config: config}
}

type rotateKeyRequest struct {
	Key       string `json:"key" binding:"required"` // "webhook_secret" or "admin_bearer_token"
	NewValue  string `json:"new_value" binding:"required"`
	OverlapS  int    `json:"overlap_s"`
}

func (h *KeysHandler) Rotate(c *gin.Context) {
	var req rotateKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": gin.H{"code": "invalid_input", "message": err.Error()}})
		return
	}

	var storeKey string
	switch req.Key {
	case "webhook_secret":
		storeKey = configstore.FlagVendWebhookSecret
	case "admin_bearer_token":
		storeKey = configstore.FlagAdminBearerToken
	default:
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": gin.H{"code": "invalid_input", "message": "unknown rotation key: " + req.Key}})
		return
	}

	overlap := time.Duration(req.OverlapS) * time.Second
	if overlap <= 0 {
		overlap = 24 * time.Hour
	}

	if err := h.config.Rotate(c.Request.Context(), storeKey, req.NewValue, overlap); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": gin.H{"code": "internal", "message": err.Error()}})
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true, "data": gin.H{"key": req.Key, "overlap_s": int(overlap.Seconds())}})
}
