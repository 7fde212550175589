package shopify

import (
	"context"
	"net/http"
	"time"
)

// ShopInfo is the response of GET /shop.json
type ShopInfo struct {
	ID              int64  `json:"id"`
	Name            string `json:"name"`
	Email           string `json:"email"`
	Domain          string `json:"domain"`
	MyshopifyDomain string `json:"myshopify_domain"`
	Currency        string `json:"currency"`
	PlanName        string `json:"plan_name"`
	Timezone        string `json:"iana_timezone"`
}

// Webhook is a vendor webhook subscription
type Webhook struct {
	ID        int64      `json:"id"`
	Topic     string     `json:"topic"`
	Address   string     `json:"address"`
	Format    string     `json:"format"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
}

// GetShop fetches the shop profile; also used as a credentials check
func (c *Client) GetShop(ctx context.Context) (*ShopInfo, error) {
	var body struct {
		Shop ShopInfo `json:"shop"`
	}
	if err := c.do(ctx, http.MethodGet, "/shop.json", nil, nil, &body); err != nil {
		return nil, err
	}
	return &body.Shop, nil
}

// ListWebhooks returns the shop's webhook subscriptions
func (c *Client) ListWebhooks(ctx context.Context) ([]Webhook, error) {
	var body struct {
		Webhooks []Webhook `json:"webhooks"`
	}
	if err := c.do(ctx, http.MethodGet, "/webhooks.json", nil, nil, &body); err != nil {
		return nil, err
	}
	return body.Webhooks, nil
}

// CreateWebhook subscribes address to topic (e.g. "products/update")
func (c *Client) CreateWebhook(ctx context.Context, topic, address string) (*Webhook, error) {
	req := map[string]interface{}{
		"webhook": map[string]string{
			"topic":   topic,
			"address": address,
			"format":  "json",
		},
	}
	var body struct {
		Webhook Webhook `json:"webhook"`
	}
	if err := c.do(ctx, http.MethodPost, "/webhooks.json", nil, req, &body); err != nil {
		return nil, err
	}
	return &body.Webhook, nil
}
