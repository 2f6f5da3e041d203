package handlers

import (
	"crypto/subtle"
	"log"
	"net/http"

	"prompt-registry-api/internal/cache"
	"prompt-registry-api/internal/indexer"
	"prompt-registry-api/pkg/registry"

	"github.com/gin-gonic/gin"
)

// WebhookHandler re-syncs the index when the content repository changes
// (typically triggered by a git push hook).
type WebhookHandler struct {
	cache   *cache.Cache[*registry.Prompt]
	indexer *indexer.Indexer
	secret  string
}

func NewWebhookHandler(c *cache.Cache[*registry.Prompt], ix *indexer.Indexer, secret string) *WebhookHandler {
	return &WebhookHandler{cache: c, indexer: ix, secret: secret}
}

/*
*
ContentSync handles POST /api/v1/webhooks/content
Authenticated by the X-Webhook-Secret header, not by API key or JWT.
*/
func (h *WebhookHandler) ContentSync(c *gin.Context) {
	got := c.GetHeader("X-Webhook-Secret")
	if subtle.ConstantTimeCompare([]byte(got), []byte(h.secret)) != 1 {
		apiError(c, http.StatusUnauthorized, "INVALID_WEBHOOK_SECRET", "Webhook secret missing or wrong")
		return
	}

	summary, err := h.indexer.Sync()
	if err != nil {
		apiError(c, http.StatusInternalServerError, "SYNC_FAILED", "Content sync failed")
		return
	}

	invalidated := 0
	for _, stem := range summary.Affected {
		invalidated += h.cache.InvalidateByPrefix(stem)
	}
	log.Printf("content sync: created=%d updated=%d removed=%d failed=%d invalidated=%d",
		summary.Created, summary.Updated, summary.Removed, summary.Failed, invalidated)

	c.JSON(http.StatusOK, gin.H{
		"summary":     summary,
		"invalidated": invalidated,
	})
}
