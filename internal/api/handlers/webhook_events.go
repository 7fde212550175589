package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jafarshop/catalogsync/internal/domain"
	"github.com/jafarshop/catalogsync/internal/repository"
	"github.com/jafarshop/catalogsync/internal/service"
)

// WebhookEventResponse is the audit view of a stored webhook
type WebhookEventResponse struct {
	ID               uuid.UUID           `json:"id"`
	TenantID         uuid.UUID           `json:"tenant_id"`
	EventType        domain.WebhookTopic `json:"event_type"`
	VendorResourceID int64               `json:"vendor_resource_id"`
	VendorWebhookID  *string             `json:"vendor_webhook_id,omitempty"`
	Processed        bool                `json:"processed"`
	ProcessedAt      *time.Time          `json:"processed_at,omitempty"`
	ErrorMessage     *string             `json:"error_message,omitempty"`
	RetryCount       int                 `json:"retry_count"`
	CreatedAt        time.Time           `json:"created_at"`
	Payload          json.RawMessage     `json:"payload,omitempty"`
}

func newWebhookEventResponse(e *domain.WebhookEvent, withPayload bool) WebhookEventResponse {
	out := WebhookEventResponse{
		ID:               e.ID,
		TenantID:         e.TenantID,
		EventType:        e.EventType,
		VendorResourceID: e.VendorResourceID,
		VendorWebhookID:  e.VendorWebhookID,
		Processed:        e.Processed,
		ProcessedAt:      e.ProcessedAt,
		ErrorMessage:     e.ErrorMessage,
		RetryCount:       e.RetryCount,
		CreatedAt:        e.CreatedAt,
	}
	if withPayload {
		out.Payload = e.Payload
	}
	return out
}

// HandleListWebhookEvents handles GET /v1/tenants/:id/webhook-events.
// ?failed=true lists events whose apply failed, ?unprocessed=true everything not yet applied.
func HandleListWebhookEvents(webhooks *service.WebhookService, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID, ok := uuidParam(c, "id")
		if !ok {
			return
		}
		onlyFailed, _ := strconv.ParseBool(c.Query("failed"))
		onlyUnprocessed, _ := strconv.ParseBool(c.Query("unprocessed"))
		withPayload, _ := strconv.ParseBool(c.Query("payload"))

		events, err := webhooks.ListEvents(c.Request.Context(), tenantID, repository.WebhookEventFilter{
			OnlyFailed:      onlyFailed,
			OnlyUnprocessed: onlyUnprocessed,
			Limit:           queryLimit(c, 50, 500),
		})
		if err != nil {
			respondError(c, logger, err, "list webhook events")
			return
		}
		out := make([]WebhookEventResponse, 0, len(events))
		for _, e := range events {
			out = append(out, newWebhookEventResponse(e, withPayload))
		}
		c.JSON(http.StatusOK, gin.H{"events": out})
	}
}

// HandleReplayWebhookEvent handles POST /v1/webhook-events/:id/replay
func HandleReplayWebhookEvent(webhooks *service.WebhookService, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := uuidParam(c, "id")
		if !ok {
			return
		}
		event, err := webhooks.Replay(c.Request.Context(), id)
		if err != nil {
			// the event exists but applying it failed again
			if event != nil {
				c.JSON(http.StatusUnprocessableEntity, gin.H{
					"error": err.Error(),
					"event": newWebhookEventResponse(event, false),
				})
				return
			}
			respondError(c, logger, err, "replay webhook event")
			return
		}
		c.JSON(http.StatusOK, newWebhookEventResponse(event, false))
	}
}
