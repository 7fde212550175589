package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Tenant represents a connected vendor store
type Tenant struct {
	ID            uuid.UUID
	ShopDomain    string // e.g. store-name.myshopify.com
	AccessToken   string
	Scope         string
	WebhookSecret *string // per-tenant override; nil means use the app secret
	IsActive      bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// SyncJob tracks one pull-based synchronization run for a tenant
type SyncJob struct {
	ID             uuid.UUID
	TenantID       uuid.UUID
	JobType        JobType
	Status         JobStatus
	TotalItems     *int // nil until every page has been fetched
	ProcessedItems int
	FailedItems    int
	StartedAt      *time.Time
	CompletedAt    *time.Time
	ErrorMessage   *string
	Progress       ProgressDetail // JSONB
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Percent returns completion in the 0..100 range
func (j *SyncJob) Percent() float64 {
	if j.Status == JobStatusCompleted {
		return 100
	}
	if j.TotalItems == nil || *j.TotalItems == 0 {
		return 0
	}
	done := float64(j.ProcessedItems + j.FailedItems)
	p := done / float64(*j.TotalItems) * 100
	if p > 100 {
		p = 100
	}
	return p
}

// ProgressDetail is the free-form progress snapshot persisted on a job
type ProgressDetail struct {
	Step            string         `json:"step,omitempty"`
	CurrentResource string         `json:"current_resource,omitempty"`
	PagesFetched    int            `json:"pages_fetched"`
	ProductsFetched int            `json:"products_fetched"`
	OrdersFetched   int            `json:"orders_fetched"`
	Quota           *QuotaSnapshot `json:"quota,omitempty"`
	DurationMS      int64          `json:"duration_ms,omitempty"`
	ItemsPerSecond  float64        `json:"items_per_second,omitempty"`
	LastItemError   string         `json:"last_item_error,omitempty"`
}

// Marshal encodes the detail for a JSONB column
func (p ProgressDetail) Marshal() ([]byte, error) {
	return json.Marshal(p)
}

// QuotaSnapshot is the parsed vendor call-limit header ("made/limit")
type QuotaSnapshot struct {
	Made       int       `json:"made"`
	Limit      int       `json:"limit"`
	Remaining  int       `json:"remaining"`
	ObservedAt time.Time `json:"observed_at"`
}

// CatalogItem is one vendor product variant, keyed by (TenantID, SKU)
type CatalogItem struct {
	ID              uuid.UUID
	TenantID        uuid.UUID
	VendorProductID int64
	VendorVariantID int64
	SKU             string
	Title           string
	VariantTitle    *string
	Price           float64
	InventoryLevel  int
	Status          ItemStatus
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// VendorOrder is a vendor order header, keyed by (TenantID, VendorOrderID)
type VendorOrder struct {
	ID                uuid.UUID
	TenantID          uuid.UUID
	VendorOrderID     int64
	Name              string
	Email             *string
	FinancialStatus   *string
	FulfillmentStatus *string
	Currency          string
	TotalPrice        float64
	LineItemCount     int
	VendorCreatedAt   *time.Time
	VendorUpdatedAt   *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// WebhookEvent is the audit record of one verified push notification
type WebhookEvent struct {
	ID               uuid.UUID
	TenantID         uuid.UUID
	EventType        WebhookTopic
	VendorResourceID int64
	VendorWebhookID  *string // X-Shopify-Webhook-Id, informational only
	Payload          json.RawMessage
	Processed        bool
	ProcessedAt      *time.Time
	ErrorMessage     *string
	RetryCount       int
	CreatedAt        time.Time
}
