package handlers

import (
	stderrors "errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jafarshop/catalogsync/internal/service"
	"github.com/jafarshop/catalogsync/pkg/errors"
)

// Shopify caps webhook payloads well below this
const maxWebhookBody = 5 << 20

// HandleShopifyWebhook handles POST /webhooks/shopify.
// Subscribed topics: products/create, products/update, products/delete,
// orders/create, orders/updated, app/uninstalled.
func HandleShopifyWebhook(webhooks *service.WebhookService, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Read raw body (Shopify HMAC is computed over raw bytes)
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read body"})
			return
		}

		event, err := webhooks.Receive(c.Request.Context(), service.Delivery{
			Body:       body,
			Signature:  c.GetHeader("X-Shopify-Hmac-Sha256"),
			ShopDomain: c.GetHeader("X-Shopify-Shop-Domain"),
			Topic:      c.GetHeader("X-Shopify-Topic"),
			WebhookID:  c.GetHeader("X-Shopify-Webhook-Id"),
		})

		var validation *errors.ErrValidation
		switch {
		case err == nil:
			c.JSON(http.StatusOK, gin.H{"ok": true, "event_id": event.ID})
		case stderrors.Is(err, service.ErrSignatureInvalid):
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid webhook signature"})
		// 200 so Shopify stops retrying deliveries we will never accept
		case stderrors.Is(err, service.ErrUnknownTenant):
			c.JSON(http.StatusOK, gin.H{"ok": true, "status": "ignored", "reason": "unknown shop"})
		case stderrors.Is(err, service.ErrInactiveTenant):
			c.JSON(http.StatusOK, gin.H{"ok": true, "status": "ignored", "reason": "shop disconnected"})
		case stderrors.Is(err, service.ErrUnsupportedTopic):
			c.JSON(http.StatusOK, gin.H{"ok": true, "status": "ignored", "reason": "unsupported topic"})
		case stderrors.As(err, &validation):
			c.JSON(http.StatusBadRequest, gin.H{"error": validation.Error()})
		default:
			// 5xx makes the vendor redeliver later
			logger.Error("Shopify webhook: failed to record event", zap.String("topic", c.GetHeader("X-Shopify-Topic")), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record event"})
		}
	}
}
