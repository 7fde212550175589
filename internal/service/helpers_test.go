package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jafarshop/catalogsync/internal/domain"
	"github.com/jafarshop/catalogsync/internal/quota"
	"github.com/jafarshop/catalogsync/internal/repository"
	"github.com/jafarshop/catalogsync/internal/repository/memory"
	"github.com/jafarshop/catalogsync/internal/shopify"
	"github.com/jafarshop/catalogsync/internal/worker"
)

// fakeVendor serves since_id pages out of in-memory slices
type fakeVendor struct {
	mu          sync.Mutex
	products    []shopify.Product
	orders      []shopify.Order
	productReqs []shopify.PageRequest
	orderReqs   []shopify.PageRequest

	failProductsPage int // 1-based page that returns productErr
	productErr       error
	onProductsPage   func(page int)
	panicOnProducts  bool

	webhooks []shopify.Webhook
	created  []string
	shopErr  error
}

func (f *fakeVendor) GetProductsPage(ctx context.Context, req shopify.PageRequest) (*shopify.ProductPage, error) {
	f.mu.Lock()
	f.productReqs = append(f.productReqs, req)
	n := len(f.productReqs)
	products := append([]shopify.Product(nil), f.products...)
	panics, hook := f.panicOnProducts, f.onProductsPage
	failPage, failErr := f.failProductsPage, f.productErr
	f.mu.Unlock()

	if panics {
		panic("vendor client exploded")
	}
	if hook != nil {
		hook(n)
	}
	if n == failPage {
		return nil, failErr
	}

	sort.Slice(products, func(i, j int) bool { return products[i].ID < products[j].ID })
	var out []shopify.Product
	for _, p := range products {
		if p.ID > req.SinceID && len(out) < req.Limit {
			out = append(out, p)
		}
	}
	page := &shopify.ProductPage{Products: out}
	if len(out) > 0 && len(out) == req.Limit {
		page.NextSinceID = out[len(out)-1].ID
	}
	return page, nil
}

func (f *fakeVendor) GetOrdersPage(ctx context.Context, req shopify.PageRequest) (*shopify.OrderPage, error) {
	f.mu.Lock()
	f.orderReqs = append(f.orderReqs, req)
	orders := append([]shopify.Order(nil), f.orders...)
	f.mu.Unlock()

	var out []shopify.Order
	for _, o := range orders {
		if o.ID > req.SinceID && len(out) < req.Limit {
			out = append(out, o)
		}
	}
	page := &shopify.OrderPage{Orders: out}
	if len(out) > 0 && len(out) == req.Limit {
		page.NextSinceID = out[len(out)-1].ID
	}
	return page, nil
}

func (f *fakeVendor) GetShop(ctx context.Context) (*shopify.ShopInfo, error) {
	if f.shopErr != nil {
		return nil, f.shopErr
	}
	return &shopify.ShopInfo{ID: 1, Name: "Test Shop", PlanName: "basic"}, nil
}

func (f *fakeVendor) ListWebhooks(ctx context.Context) ([]shopify.Webhook, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]shopify.Webhook(nil), f.webhooks...), nil
}

func (f *fakeVendor) CreateWebhook(ctx context.Context, topic, address string) (*shopify.Webhook, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w := shopify.Webhook{ID: int64(len(f.webhooks) + 1), Topic: topic, Address: address, Format: "json"}
	f.webhooks = append(f.webhooks, w)
	f.created = append(f.created, topic)
	return &w, nil
}

func (f *fakeVendor) requests() []shopify.PageRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]shopify.PageRequest(nil), f.productReqs...)
}

// makeProducts builds n single-variant products with ids start, start+1, ...
func makeProducts(n int, start int64) []shopify.Product {
	out := make([]shopify.Product, 0, n)
	for i := 0; i < n; i++ {
		id := start + int64(i)
		out = append(out, shopify.Product{
			ID:     id,
			Title:  fmt.Sprintf("Product %d", id),
			Status: "active",
			Variants: []shopify.Variant{{
				ID:                id*10 + 1,
				ProductID:         id,
				Title:             "Default Title",
				SKU:               fmt.Sprintf("SKU-%d", id),
				Price:             "10.00",
				InventoryQuantity: 5,
			}},
		})
	}
	return out
}

// flakyCatalog fails writes for one SKU
type flakyCatalog struct {
	repository.CatalogItemRepository
	mu      sync.Mutex
	failSKU string
	upserts int
}

func (f *flakyCatalog) UpsertByKey(ctx context.Context, it *domain.CatalogItem) error {
	f.mu.Lock()
	f.upserts++
	fail := it.SKU == f.failSKU
	f.mu.Unlock()
	if fail {
		return errors.New("value too long for type character varying(255)")
	}
	return f.CatalogItemRepository.UpsertByKey(ctx, it)
}

func (f *flakyCatalog) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.upserts
}

// countingEvents counts webhook event writes
type countingEvents struct {
	repository.WebhookEventRepository
	mu      sync.Mutex
	creates int
}

func (c *countingEvents) Create(ctx context.Context, e *domain.WebhookEvent) error {
	c.mu.Lock()
	c.creates++
	c.mu.Unlock()
	return c.WebhookEventRepository.Create(ctx, e)
}

func (c *countingEvents) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.creates
}

type harness struct {
	repos    *repository.Repositories
	catalog  *flakyCatalog
	events   *countingEvents
	vendor   *fakeVendor
	recorder *quota.MemoryRecorder
	syncPool *worker.Pool
	hookPool *worker.Pool
	sync     *SyncService
	webhooks *WebhookService
	tenants  *TenantService
	tenant   *domain.Tenant
}

const testAppSecret = "app-webhook-secret"

func newHarness(t *testing.T, startPools bool) *harness {
	t.Helper()
	logger := zap.NewNop()
	repos := memory.NewRepositories()
	h := &harness{
		repos:    repos,
		catalog:  &flakyCatalog{CatalogItemRepository: repos.CatalogItem},
		events:   &countingEvents{WebhookEventRepository: repos.WebhookEvent},
		vendor:   &fakeVendor{},
		recorder: quota.NewMemoryRecorder(),
		syncPool: worker.NewPool("sync", 2, 8, logger),
		hookPool: worker.NewPool("webhooks", 2, 16, logger),
	}
	repos.CatalogItem = h.catalog
	repos.WebhookEvent = h.events

	factory := func(*domain.Tenant) VendorClient { return h.vendor }
	h.sync = NewSyncService(repos, factory, h.syncPool, h.recorder, SyncOptions{PageSize: 250, ProgressEvery: 10}, logger)
	h.webhooks = NewWebhookService(repos, h.hookPool, h.sync, testAppSecret, logger)
	h.tenants = NewTenantService(repos, factory, nil, h.sync, h.recorder, "https://sync.example.com", logger)

	h.tenant = &domain.Tenant{ShopDomain: "test-shop.myshopify.com", AccessToken: "shpat_test", IsActive: true}
	require.NoError(t, repos.Tenant.Upsert(context.Background(), h.tenant))

	if startPools {
		ctx, cancel := context.WithCancel(context.Background())
		h.syncPool.Start(ctx)
		h.hookPool.Start(ctx)
		t.Cleanup(func() {
			_ = h.syncPool.Stop(context.Background())
			_ = h.hookPool.Stop(context.Background())
			cancel()
		})
	}
	return h
}

// pendingJob inserts a pending job to be driven with Run
func (h *harness) pendingJob(t *testing.T, jobType domain.JobType) *domain.SyncJob {
	t.Helper()
	job := &domain.SyncJob{TenantID: h.tenant.ID, JobType: jobType}
	require.NoError(t, h.repos.SyncJob.CreateExclusive(context.Background(), job))
	return job
}

func (h *harness) job(t *testing.T, id uuid.UUID) *domain.SyncJob {
	t.Helper()
	job, err := h.repos.SyncJob.GetByID(context.Background(), id)
	require.NoError(t, err)
	return job
}

// waitTerminal blocks until the job reaches a terminal status
func (h *harness) waitTerminal(t *testing.T, id uuid.UUID) *domain.SyncJob {
	t.Helper()
	require.Eventually(t, func() bool {
		return h.job(t, id).Status.IsTerminal()
	}, 5*time.Second, 10*time.Millisecond)
	return h.job(t, id)
}

// waitEvent blocks until the event was applied or failed at least once
func (h *harness) waitEvent(t *testing.T, id uuid.UUID) *domain.WebhookEvent {
	t.Helper()
	var event *domain.WebhookEvent
	require.Eventually(t, func() bool {
		e, err := h.repos.WebhookEvent.GetByID(context.Background(), id)
		if err != nil {
			return false
		}
		event = e
		return e.Processed || e.RetryCount > 0
	}, 5*time.Second, 10*time.Millisecond)
	return event
}
