package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jafarshop/catalogsync/internal/domain"
)

// TenantRepository defines tenant (connected shop) data access methods
type TenantRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Tenant, error)
	GetByShopDomain(ctx context.Context, shopDomain string) (*domain.Tenant, error)
	List(ctx context.Context) ([]*domain.Tenant, error)
	// Upsert inserts or updates by shop domain; tenant.ID is set to the stored id
	Upsert(ctx context.Context, tenant *domain.Tenant) error
	SetActive(ctx context.Context, id uuid.UUID, active bool) error
}

// SyncJobRepository defines sync job data access methods.
// Status writes are conditional so a cancelled job is never resurrected by its worker.
type SyncJobRepository interface {
	// CreateExclusive inserts a pending job, failing with *errors.ErrConflictingJob
	// when the tenant already has a pending or running job
	CreateExclusive(ctx context.Context, job *domain.SyncJob) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.SyncJob, error)
	// GetActiveByTenant returns nil, nil when no job is pending or running
	GetActiveByTenant(ctx context.Context, tenantID uuid.UUID) (*domain.SyncJob, error)
	ListByTenant(ctx context.Context, tenantID uuid.UUID, limit int) ([]*domain.SyncJob, error)
	// LastCompleted returns nil, nil when no completed job of the given types exists
	LastCompleted(ctx context.Context, tenantID uuid.UUID, types []domain.JobType) (*domain.SyncJob, error)
	MarkRunning(ctx context.Context, id uuid.UUID, startedAt time.Time) error
	// SetTotal and UpdateProgress only touch a running job; false when it was no longer running
	SetTotal(ctx context.Context, id uuid.UUID, total int) (bool, error)
	UpdateProgress(ctx context.Context, id uuid.UUID, processed, failed int, detail domain.ProgressDetail) (bool, error)
	// Finish moves a job to a terminal status when domain.JobStatus.CanTransitionTo allows it;
	// false when it was not in a status that may make that move
	Finish(ctx context.Context, id uuid.UUID, status domain.JobStatus, errMsg *string, processed, failed int, detail domain.ProgressDetail) (bool, error)
	// Cancel moves an active job to cancelled; false when it was no longer active
	Cancel(ctx context.Context, id uuid.UUID, reason string) (bool, error)
}

// CatalogItemRepository is the idempotent catalog store shared by sync and webhooks
type CatalogItemRepository interface {
	// UpsertByKey inserts or updates the row keyed by (tenant_id, sku); repeatable
	UpsertByKey(ctx context.Context, item *domain.CatalogItem) error
	GetBySKU(ctx context.Context, tenantID uuid.UUID, sku string) (*domain.CatalogItem, error)
	ListByTenant(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]*domain.CatalogItem, error)
	CountByTenant(ctx context.Context, tenantID uuid.UUID) (int, error)
	// MarkProductDeleted flags every variant of a vendor product as deleted
	MarkProductDeleted(ctx context.Context, tenantID uuid.UUID, vendorProductID int64) (int64, error)
}

// VendorOrderRepository stores order headers keyed by (tenant_id, vendor_order_id)
type VendorOrderRepository interface {
	UpsertByKey(ctx context.Context, order *domain.VendorOrder) error
	GetByVendorID(ctx context.Context, tenantID uuid.UUID, vendorOrderID int64) (*domain.VendorOrder, error)
}

// WebhookEventFilter narrows a webhook event listing
type WebhookEventFilter struct {
	OnlyFailed      bool
	OnlyUnprocessed bool
	Limit           int
}

// WebhookEventRepository defines webhook event data access methods. Events are never deleted.
type WebhookEventRepository interface {
	Create(ctx context.Context, event *domain.WebhookEvent) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.WebhookEvent, error)
	MarkProcessed(ctx context.Context, id uuid.UUID, processedAt time.Time) error
	// MarkFailed increments retry_count and records the error
	MarkFailed(ctx context.Context, id uuid.UUID, errMsg string) error
	List(ctx context.Context, tenantID uuid.UUID, filter WebhookEventFilter) ([]*domain.WebhookEvent, error)
}

// Repositories aggregates all repositories
type Repositories struct {
	Tenant       TenantRepository
	SyncJob      SyncJobRepository
	CatalogItem  CatalogItemRepository
	VendorOrder  VendorOrderRepository
	WebhookEvent WebhookEventRepository
}
