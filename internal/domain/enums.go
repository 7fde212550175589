package domain

// JobStatus represents the lifecycle state of a sync job
type JobStatus string

const (
	// PENDING - Job created, waiting for a worker
	JobStatusPending JobStatus = "pending"
	// RUNNING - Worker is fetching pages / applying upserts
	JobStatusRunning JobStatus = "running"
	// COMPLETED - All pages fetched and every item attempted
	JobStatusCompleted JobStatus = "completed"
	// FAILED - Unrecoverable error (page fetch, store outage, panic)
	JobStatusFailed JobStatus = "failed"
	// CANCELLED - Stopped externally (e.g. store disconnected)
	JobStatusCancelled JobStatus = "cancelled"
)

// IsValid checks if the job status is valid
func (s JobStatus) IsValid() bool {
	switch s {
	case JobStatusPending, JobStatusRunning, JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// IsActive reports whether the job still blocks new jobs for the same tenant
func (s JobStatus) IsActive() bool {
	return s == JobStatusPending || s == JobStatusRunning
}

// IsTerminal reports whether no further transition is allowed
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// CanTransitionTo checks if a status transition is valid
func (s JobStatus) CanTransitionTo(newStatus JobStatus) bool {
	switch s {
	case JobStatusPending:
		return newStatus == JobStatusRunning ||
			newStatus == JobStatusCancelled ||
			newStatus == JobStatusFailed
	case JobStatusRunning:
		return newStatus == JobStatusCompleted ||
			newStatus == JobStatusFailed ||
			newStatus == JobStatusCancelled
	default:
		return false // Terminal states
	}
}

// allJobStatuses lists every status in lifecycle order
var allJobStatuses = []JobStatus{JobStatusPending, JobStatusRunning, JobStatusCompleted, JobStatusFailed, JobStatusCancelled}

// StatusesTransitioningTo lists the statuses a job may move to target from
func StatusesTransitioningTo(target JobStatus) []JobStatus {
	var out []JobStatus
	for _, s := range allJobStatuses {
		if s.CanTransitionTo(target) {
			out = append(out, s)
		}
	}
	return out
}

// ActiveJobStatuses are the statuses that count against per-tenant exclusivity
var ActiveJobStatuses = []JobStatus{JobStatusPending, JobStatusRunning}

// JobType selects which vendor resources a sync job pulls
type JobType string

const (
	JobTypeFullSync        JobType = "full_sync"
	JobTypeIncrementalSync JobType = "incremental_sync"
	JobTypeProductSync     JobType = "product_sync"
	JobTypeOrderSync       JobType = "order_sync"
)

// IsValid checks if the job type is valid
func (t JobType) IsValid() bool {
	switch t {
	case JobTypeFullSync, JobTypeIncrementalSync, JobTypeProductSync, JobTypeOrderSync:
		return true
	default:
		return false
	}
}

// IncludesProducts reports whether the job fetches /products.json
func (t JobType) IncludesProducts() bool {
	return t == JobTypeFullSync || t == JobTypeIncrementalSync || t == JobTypeProductSync
}

// IncludesOrders reports whether the job fetches /orders.json
func (t JobType) IncludesOrders() bool {
	return t == JobTypeFullSync || t == JobTypeOrderSync
}

// WebhookTopic is the normalized event type of an inbound webhook
type WebhookTopic string

const (
	WebhookTopicProductCreate  WebhookTopic = "product_create"
	WebhookTopicProductUpdate  WebhookTopic = "product_update"
	WebhookTopicProductDelete  WebhookTopic = "product_delete"
	WebhookTopicOrderCreate    WebhookTopic = "order_create"
	WebhookTopicOrderUpdate    WebhookTopic = "order_update"
	WebhookTopicAppUninstalled WebhookTopic = "app_uninstalled"
)

// vendorTopics maps X-Shopify-Topic header values to normalized topics
var vendorTopics = map[string]WebhookTopic{
	"products/create": WebhookTopicProductCreate,
	"products/update": WebhookTopicProductUpdate,
	"products/delete": WebhookTopicProductDelete,
	"orders/create":   WebhookTopicOrderCreate,
	"orders/updated":  WebhookTopicOrderUpdate,
	"app/uninstalled": WebhookTopicAppUninstalled,
}

// ParseVendorTopic converts a vendor topic header into a WebhookTopic
func ParseVendorTopic(topic string) (WebhookTopic, bool) {
	t, ok := vendorTopics[topic]
	return t, ok
}

// VendorTopics returns the vendor topic names a tenant should be subscribed to
func VendorTopics() []string {
	return []string{
		"products/create",
		"products/update",
		"products/delete",
		"orders/create",
		"orders/updated",
		"app/uninstalled",
	}
}

// IsValid checks if the webhook topic is valid
func (t WebhookTopic) IsValid() bool {
	switch t {
	case WebhookTopicProductCreate, WebhookTopicProductUpdate, WebhookTopicProductDelete,
		WebhookTopicOrderCreate, WebhookTopicOrderUpdate, WebhookTopicAppUninstalled:
		return true
	default:
		return false
	}
}

// ItemStatus mirrors the vendor product status on catalog rows
type ItemStatus string

const (
	ItemStatusActive   ItemStatus = "active"
	ItemStatusDraft    ItemStatus = "draft"
	ItemStatusArchived ItemStatus = "archived"
	// DELETED - Product removed at the vendor (products/delete webhook)
	ItemStatusDeleted ItemStatus = "deleted"
)

// NormalizeItemStatus maps vendor status strings, defaulting to active
func NormalizeItemStatus(s string) ItemStatus {
	switch ItemStatus(s) {
	case ItemStatusActive, ItemStatusDraft, ItemStatusArchived, ItemStatusDeleted:
		return ItemStatus(s)
	default:
		return ItemStatusActive
	}
}
