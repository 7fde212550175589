// Package memory holds map-backed repositories with the same semantics as the
// postgres ones. Used by tests and STORE_DRIVER=memory.
package memory

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jafarshop/catalogsync/internal/domain"
	"github.com/jafarshop/catalogsync/internal/repository"
	"github.com/jafarshop/catalogsync/pkg/errors"
)

// NewRepositories returns an empty in-memory store
func NewRepositories() *repository.Repositories {
	return &repository.Repositories{
		Tenant:       NewTenantRepository(),
		SyncJob:      NewSyncJobRepository(),
		CatalogItem:  NewCatalogItemRepository(),
		VendorOrder:  NewVendorOrderRepository(),
		WebhookEvent: NewWebhookEventRepository(),
	}
}

type TenantRepository struct {
	mu      sync.RWMutex
	tenants map[uuid.UUID]domain.Tenant
}

func NewTenantRepository() *TenantRepository {
	return &TenantRepository{tenants: make(map[uuid.UUID]domain.Tenant)}
}

func (r *TenantRepository) GetByID(_ context.Context, id uuid.UUID) (*domain.Tenant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tenants[id]
	if !ok {
		return nil, &errors.ErrNotFound{Resource: "tenant", ID: id.String()}
	}
	return &t, nil
}

func (r *TenantRepository) GetByShopDomain(_ context.Context, shopDomain string) (*domain.Tenant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, t := range r.tenants {
		if t.ShopDomain == shopDomain {
			t := t
			return &t, nil
		}
	}
	return nil, &errors.ErrNotFound{Resource: "tenant", ID: shopDomain}
}

func (r *TenantRepository) List(_ context.Context) ([]*domain.Tenant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*domain.Tenant, 0, len(r.tenants))
	for _, t := range r.tenants {
		t := t
		out = append(out, &t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ShopDomain < out[j].ShopDomain })
	return out, nil
}

func (r *TenantRepository) Upsert(_ context.Context, t *domain.Tenant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	for id, existing := range r.tenants {
		if existing.ShopDomain != t.ShopDomain {
			continue
		}
		t.ID = id
		t.CreatedAt = existing.CreatedAt
		if t.WebhookSecret == nil {
			t.WebhookSecret = existing.WebhookSecret
		}
		t.UpdatedAt = now
		r.tenants[id] = *t
		return nil
	}
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	r.tenants[t.ID] = *t
	return nil
}

func (r *TenantRepository) SetActive(_ context.Context, id uuid.UUID, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tenants[id]
	if !ok {
		return &errors.ErrNotFound{Resource: "tenant", ID: id.String()}
	}
	t.IsActive = active
	t.UpdatedAt = time.Now()
	r.tenants[id] = t
	return nil
}

// SyncJobRepository enforces one pending/running job per tenant under a single lock
type SyncJobRepository struct {
	mu   sync.RWMutex
	jobs map[uuid.UUID]domain.SyncJob
}

func NewSyncJobRepository() *SyncJobRepository {
	return &SyncJobRepository{jobs: make(map[uuid.UUID]domain.SyncJob)}
}

func copyJob(j domain.SyncJob) *domain.SyncJob {
	if j.TotalItems != nil {
		n := *j.TotalItems
		j.TotalItems = &n
	}
	if j.Progress.Quota != nil {
		q := *j.Progress.Quota
		j.Progress.Quota = &q
	}
	return &j
}

func (r *SyncJobRepository) CreateExclusive(_ context.Context, job *domain.SyncJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.jobs {
		if existing.TenantID == job.TenantID && existing.Status.IsActive() {
			return &errors.ErrConflictingJob{TenantID: job.TenantID.String(), ActiveJobID: existing.ID.String()}
		}
	}
	now := time.Now()
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	job.Status = domain.JobStatusPending
	job.CreatedAt = now
	job.UpdatedAt = now
	r.jobs[job.ID] = *copyJob(*job)
	return nil
}

func (r *SyncJobRepository) GetByID(_ context.Context, id uuid.UUID) (*domain.SyncJob, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	j, ok := r.jobs[id]
	if !ok {
		return nil, &errors.ErrNotFound{Resource: "sync_job", ID: id.String()}
	}
	return copyJob(j), nil
}

func (r *SyncJobRepository) GetActiveByTenant(_ context.Context, tenantID uuid.UUID) (*domain.SyncJob, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, j := range r.jobs {
		if j.TenantID == tenantID && j.Status.IsActive() {
			return copyJob(j), nil
		}
	}
	return nil, nil
}

func (r *SyncJobRepository) ListByTenant(_ context.Context, tenantID uuid.UUID, limit int) ([]*domain.SyncJob, error) {
	if limit <= 0 {
		limit = 20
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domain.SyncJob
	for _, j := range r.jobs {
		if j.TenantID == tenantID {
			out = append(out, copyJob(j))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *SyncJobRepository) LastCompleted(_ context.Context, tenantID uuid.UUID, types []domain.JobType) (*domain.SyncJob, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var best *domain.SyncJob
	for _, j := range r.jobs {
		if j.TenantID != tenantID || j.Status != domain.JobStatusCompleted || j.StartedAt == nil {
			continue
		}
		match := false
		for _, t := range types {
			if j.JobType == t {
				match = true
				break
			}
		}
		if !match {
			continue
		}
		if best == nil || j.StartedAt.After(*best.StartedAt) {
			best = copyJob(j)
		}
	}
	return best, nil
}

func (r *SyncJobRepository) update(id uuid.UUID, fn func(j *domain.SyncJob) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return &errors.ErrNotFound{Resource: "sync_job", ID: id.String()}
	}
	if err := fn(&j); err != nil {
		return err
	}
	j.UpdatedAt = time.Now()
	r.jobs[id] = j
	return nil
}

func (r *SyncJobRepository) MarkRunning(_ context.Context, id uuid.UUID, startedAt time.Time) error {
	return r.update(id, func(j *domain.SyncJob) error {
		if !j.Status.CanTransitionTo(domain.JobStatusRunning) {
			return &errors.ErrInvalidStateTransition{From: j.Status, To: domain.JobStatusRunning}
		}
		j.Status = domain.JobStatusRunning
		j.StartedAt = &startedAt
		return nil
	})
}

// updateRunning applies fn only while the job is running
func (r *SyncJobRepository) updateRunning(id uuid.UUID, fn func(j *domain.SyncJob)) (bool, error) {
	applied := false
	err := r.update(id, func(j *domain.SyncJob) error {
		if j.Status != domain.JobStatusRunning {
			return nil
		}
		fn(j)
		applied = true
		return nil
	})
	return applied, err
}

func (r *SyncJobRepository) SetTotal(_ context.Context, id uuid.UUID, total int) (bool, error) {
	return r.updateRunning(id, func(j *domain.SyncJob) {
		j.TotalItems = &total
	})
}

func (r *SyncJobRepository) UpdateProgress(_ context.Context, id uuid.UUID, processed, failed int, detail domain.ProgressDetail) (bool, error) {
	return r.updateRunning(id, func(j *domain.SyncJob) {
		j.ProcessedItems = processed
		j.FailedItems = failed
		j.Progress = detail
	})
}

func (r *SyncJobRepository) Finish(_ context.Context, id uuid.UUID, status domain.JobStatus, errMsg *string, processed, failed int, detail domain.ProgressDetail) (bool, error) {
	if !status.IsTerminal() {
		return false, &errors.ErrInvalidStateTransition{From: domain.JobStatusRunning, To: status}
	}
	applied := false
	err := r.update(id, func(j *domain.SyncJob) error {
		if !j.Status.CanTransitionTo(status) {
			return nil
		}
		now := time.Now()
		j.Status = status
		j.ErrorMessage = errMsg
		j.ProcessedItems = processed
		j.FailedItems = failed
		j.Progress = detail
		j.CompletedAt = &now
		applied = true
		return nil
	})
	return applied, err
}

func (r *SyncJobRepository) Cancel(_ context.Context, id uuid.UUID, reason string) (bool, error) {
	applied := false
	err := r.update(id, func(j *domain.SyncJob) error {
		if !j.Status.CanTransitionTo(domain.JobStatusCancelled) {
			return nil
		}
		now := time.Now()
		j.Status = domain.JobStatusCancelled
		j.ErrorMessage = &reason
		j.CompletedAt = &now
		applied = true
		return nil
	})
	return applied, err
}

type catalogKey struct {
	tenantID uuid.UUID
	sku      string
}

// CatalogItemRepository keys rows by (tenant, sku)
type CatalogItemRepository struct {
	mu    sync.RWMutex
	items map[catalogKey]domain.CatalogItem
}

func NewCatalogItemRepository() *CatalogItemRepository {
	return &CatalogItemRepository{items: make(map[catalogKey]domain.CatalogItem)}
}

func (r *CatalogItemRepository) UpsertByKey(_ context.Context, it *domain.CatalogItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := catalogKey{it.TenantID, it.SKU}
	now := time.Now()
	if existing, ok := r.items[key]; ok {
		it.ID = existing.ID
		it.CreatedAt = existing.CreatedAt
	} else {
		if it.ID == uuid.Nil {
			it.ID = uuid.New()
		}
		if it.CreatedAt.IsZero() {
			it.CreatedAt = now
		}
	}
	it.UpdatedAt = now
	stored := *it
	if it.VariantTitle != nil {
		v := *it.VariantTitle
		stored.VariantTitle = &v
	}
	r.items[key] = stored
	return nil
}

func (r *CatalogItemRepository) GetBySKU(_ context.Context, tenantID uuid.UUID, sku string) (*domain.CatalogItem, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	it, ok := r.items[catalogKey{tenantID, sku}]
	if !ok {
		return nil, &errors.ErrNotFound{Resource: "catalog_item", ID: sku}
	}
	return &it, nil
}

func (r *CatalogItemRepository) ListByTenant(_ context.Context, tenantID uuid.UUID, limit, offset int) ([]*domain.CatalogItem, error) {
	if limit <= 0 {
		limit = 100
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var all []*domain.CatalogItem
	for k, it := range r.items {
		if k.tenantID == tenantID {
			it := it
			all = append(all, &it)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].SKU < all[j].SKU })
	if offset >= len(all) {
		return nil, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

func (r *CatalogItemRepository) CountByTenant(_ context.Context, tenantID uuid.UUID) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for k := range r.items {
		if k.tenantID == tenantID {
			n++
		}
	}
	return n, nil
}

func (r *CatalogItemRepository) MarkProductDeleted(_ context.Context, tenantID uuid.UUID, vendorProductID int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	now := time.Now()
	for k, it := range r.items {
		if k.tenantID == tenantID && it.VendorProductID == vendorProductID {
			it.Status = domain.ItemStatusDeleted
			it.UpdatedAt = now
			r.items[k] = it
			n++
		}
	}
	return n, nil
}

type orderKey struct {
	tenantID      uuid.UUID
	vendorOrderID int64
}

type VendorOrderRepository struct {
	mu     sync.RWMutex
	orders map[orderKey]domain.VendorOrder
}

func NewVendorOrderRepository() *VendorOrderRepository {
	return &VendorOrderRepository{orders: make(map[orderKey]domain.VendorOrder)}
}

func (r *VendorOrderRepository) UpsertByKey(_ context.Context, o *domain.VendorOrder) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := orderKey{o.TenantID, o.VendorOrderID}
	now := time.Now()
	if existing, ok := r.orders[key]; ok {
		o.ID = existing.ID
		o.CreatedAt = existing.CreatedAt
	} else {
		if o.ID == uuid.Nil {
			o.ID = uuid.New()
		}
		if o.CreatedAt.IsZero() {
			o.CreatedAt = now
		}
	}
	o.UpdatedAt = now
	r.orders[key] = *o
	return nil
}

func (r *VendorOrderRepository) GetByVendorID(_ context.Context, tenantID uuid.UUID, vendorOrderID int64) (*domain.VendorOrder, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.orders[orderKey{tenantID, vendorOrderID}]
	if !ok {
		return nil, &errors.ErrNotFound{Resource: "vendor_order", ID: strconv.FormatInt(vendorOrderID, 10)}
	}
	return &o, nil
}

// WebhookEventRepository is append-only; events are never removed
type WebhookEventRepository struct {
	mu     sync.RWMutex
	events map[uuid.UUID]domain.WebhookEvent
}

func NewWebhookEventRepository() *WebhookEventRepository {
	return &WebhookEventRepository{events: make(map[uuid.UUID]domain.WebhookEvent)}
}

func (r *WebhookEventRepository) Create(_ context.Context, e *domain.WebhookEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	e.Processed = false
	stored := *e
	stored.Payload = append([]byte(nil), e.Payload...)
	r.events[e.ID] = stored
	return nil
}

func (r *WebhookEventRepository) GetByID(_ context.Context, id uuid.UUID) (*domain.WebhookEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.events[id]
	if !ok {
		return nil, &errors.ErrNotFound{Resource: "webhook_event", ID: id.String()}
	}
	return &e, nil
}

func (r *WebhookEventRepository) MarkProcessed(_ context.Context, id uuid.UUID, processedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.events[id]
	if !ok {
		return &errors.ErrNotFound{Resource: "webhook_event", ID: id.String()}
	}
	e.Processed = true
	e.ProcessedAt = &processedAt
	e.ErrorMessage = nil
	r.events[id] = e
	return nil
}

func (r *WebhookEventRepository) MarkFailed(_ context.Context, id uuid.UUID, errMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.events[id]
	if !ok {
		return &errors.ErrNotFound{Resource: "webhook_event", ID: id.String()}
	}
	e.Processed = false
	e.ErrorMessage = &errMsg
	e.RetryCount++
	r.events[id] = e
	return nil
}

func (r *WebhookEventRepository) List(_ context.Context, tenantID uuid.UUID, filter repository.WebhookEventFilter) ([]*domain.WebhookEvent, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domain.WebhookEvent
	for _, e := range r.events {
		if e.TenantID != tenantID {
			continue
		}
		if filter.OnlyFailed && (e.Processed || e.ErrorMessage == nil) {
			continue
		}
		if filter.OnlyUnprocessed && e.Processed {
			continue
		}
		e := e
		out = append(out, &e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
