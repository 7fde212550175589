package service

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jafarshop/catalogsync/internal/domain"
	"github.com/jafarshop/catalogsync/internal/shopify"
	"github.com/jafarshop/catalogsync/pkg/errors"
)

func TestSyncService_Run_ItemFailureIsIsolated(t *testing.T) {
	h := newHarness(t, false)
	h.vendor.products = makeProducts(100, 1)
	h.catalog.failSKU = "SKU-37"
	job := h.pendingJob(t, domain.JobTypeProductSync)

	require.NoError(t, h.sync.Run(context.Background(), job.ID))

	got := h.job(t, job.ID)
	assert.Equal(t, domain.JobStatusCompleted, got.Status)
	require.NotNil(t, got.TotalItems)
	assert.Equal(t, 100, *got.TotalItems)
	assert.Equal(t, 99, got.ProcessedItems)
	assert.Equal(t, 1, got.FailedItems)
	assert.Equal(t, 100.0, got.Percent())
	assert.Nil(t, got.ErrorMessage)
	assert.Contains(t, got.Progress.LastItemError, "SKU-37")
	assert.Equal(t, StepCompleted, got.Progress.Step)
	assert.Equal(t, 100, h.catalog.count())

	n, err := h.repos.CatalogItem.CountByTenant(context.Background(), h.tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, 99, n)
}

func TestSyncService_Run_PaginatesBySinceID(t *testing.T) {
	h := newHarness(t, false)
	h.vendor.products = makeProducts(260, 1)
	job := h.pendingJob(t, domain.JobTypeProductSync)

	require.NoError(t, h.sync.Run(context.Background(), job.ID))

	reqs := h.vendor.requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, int64(0), reqs[0].SinceID)
	assert.Equal(t, int64(250), reqs[1].SinceID)
	assert.Equal(t, 250, reqs[0].Limit)
	assert.Nil(t, reqs[0].UpdatedAtMin)

	got := h.job(t, job.ID)
	assert.Equal(t, domain.JobStatusCompleted, got.Status)
	assert.Equal(t, 260, got.ProcessedItems)
	assert.Equal(t, 2, got.Progress.PagesFetched)
	assert.Equal(t, 260, got.Progress.ProductsFetched)
}

func TestSyncService_Run_PageFetchFailureFailsJob(t *testing.T) {
	h := newHarness(t, false)
	h.vendor.products = makeProducts(300, 1)
	h.vendor.failProductsPage = 2
	h.vendor.productErr = &shopify.RateLimitExceededError{Endpoint: "/products.json", Retries: 5, RetryAfter: 2 * time.Second}
	job := h.pendingJob(t, domain.JobTypeFullSync)

	err := h.sync.Run(context.Background(), job.ID)
	require.Error(t, err)
	assert.True(t, shopify.IsRateLimitExceeded(err))

	got := h.job(t, job.ID)
	assert.Equal(t, domain.JobStatusFailed, got.Status)
	require.NotNil(t, got.ErrorMessage)
	assert.Contains(t, *got.ErrorMessage, "fetch products page 2")
	assert.Equal(t, 1, got.Progress.PagesFetched)
	assert.Equal(t, StepFailed, got.Progress.Step)
	assert.Equal(t, 0, got.ProcessedItems)
	assert.NotNil(t, got.CompletedAt)

	n, err := h.repos.CatalogItem.CountByTenant(context.Background(), h.tenant.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSyncService_Run_StopsWhenCancelled(t *testing.T) {
	h := newHarness(t, false)
	h.vendor.products = makeProducts(300, 1)
	job := h.pendingJob(t, domain.JobTypeProductSync)
	h.vendor.onProductsPage = func(page int) {
		if page == 1 {
			_, err := h.sync.CancelJob(context.Background(), job.ID, "")
			require.NoError(t, err)
		}
	}

	require.NoError(t, h.sync.Run(context.Background(), job.ID))

	got := h.job(t, job.ID)
	assert.Equal(t, domain.JobStatusCancelled, got.Status)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, "cancelled by operator", *got.ErrorMessage)
	assert.Len(t, h.vendor.requests(), 1)
	assert.Zero(t, h.catalog.count())
}

func TestSyncService_Run_CancelDuringFetchLeavesRowUntouched(t *testing.T) {
	for _, tc := range []struct {
		name     string
		products int
	}{
		{"more pages follow", 300},
		{"last page", 5},
	} {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, false)
			h.vendor.products = makeProducts(tc.products, 1)
			job := h.pendingJob(t, domain.JobTypeProductSync)
			h.vendor.onProductsPage = func(page int) {
				if page == 1 {
					_, err := h.sync.CancelJob(context.Background(), job.ID, "")
					require.NoError(t, err)
				}
			}

			require.NoError(t, h.sync.Run(context.Background(), job.ID))

			got := h.job(t, job.ID)
			assert.Equal(t, domain.JobStatusCancelled, got.Status)
			assert.Empty(t, got.Progress.Step)
			assert.Zero(t, got.Progress.PagesFetched)
			assert.Zero(t, got.Progress.ProductsFetched)
			assert.Zero(t, got.ProcessedItems)
			assert.Nil(t, got.TotalItems)
			assert.Zero(t, h.catalog.count())
		})
	}
}

func TestSyncService_Run_SkipsJobCancelledBeforeStart(t *testing.T) {
	h := newHarness(t, false)
	h.vendor.products = makeProducts(5, 1)
	job := h.pendingJob(t, domain.JobTypeProductSync)
	_, err := h.sync.CancelJob(context.Background(), job.ID, "changed my mind")
	require.NoError(t, err)

	require.NoError(t, h.sync.Run(context.Background(), job.ID))

	assert.Equal(t, domain.JobStatusCancelled, h.job(t, job.ID).Status)
	assert.Empty(t, h.vendor.requests())
}

func TestSyncService_Run_IncrementalUsesLastCompletedStart(t *testing.T) {
	h := newHarness(t, false)
	h.vendor.products = makeProducts(3, 1)
	first := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	h.sync.now = func() time.Time { return first }

	full := h.pendingJob(t, domain.JobTypeFullSync)
	require.NoError(t, h.sync.Run(context.Background(), full.ID))
	require.Equal(t, domain.JobStatusCompleted, h.job(t, full.ID).Status)

	h.vendor.mu.Lock()
	require.Len(t, h.vendor.orderReqs, 1)
	require.NotNil(t, h.vendor.orderReqs[0].CreatedAtMin)
	assert.True(t, h.vendor.orderReqs[0].CreatedAtMin.Equal(first.Add(-60*24*time.Hour)))
	h.vendor.mu.Unlock()

	h.sync.now = func() time.Time { return first.Add(time.Hour) }
	inc := h.pendingJob(t, domain.JobTypeIncrementalSync)
	require.NoError(t, h.sync.Run(context.Background(), inc.ID))

	reqs := h.vendor.requests()
	require.Len(t, reqs, 2)
	require.NotNil(t, reqs[1].UpdatedAtMin)
	assert.True(t, reqs[1].UpdatedAtMin.Equal(first))

	h.vendor.mu.Lock()
	assert.Len(t, h.vendor.orderReqs, 1, "incremental sync does not pull orders")
	h.vendor.mu.Unlock()
}

func TestSyncService_Run_IncrementalWithoutHistoryFetchesAll(t *testing.T) {
	h := newHarness(t, false)
	h.vendor.products = makeProducts(3, 1)
	job := h.pendingJob(t, domain.JobTypeIncrementalSync)

	require.NoError(t, h.sync.Run(context.Background(), job.ID))

	reqs := h.vendor.requests()
	require.Len(t, reqs, 1)
	assert.Nil(t, reqs[0].UpdatedAtMin)
}

func TestSyncService_Run_OrderSync(t *testing.T) {
	h := newHarness(t, false)
	fs := "fulfilled"
	h.vendor.orders = []shopify.Order{
		{ID: 1001, Name: "#1001", Currency: "USD", TotalPrice: "19.99", FulfillmentStatus: &fs},
		{ID: 1002, Name: "#1002", Currency: "USD", TotalPrice: "5.00"},
	}
	job := h.pendingJob(t, domain.JobTypeOrderSync)

	require.NoError(t, h.sync.Run(context.Background(), job.ID))

	got := h.job(t, job.ID)
	assert.Equal(t, domain.JobStatusCompleted, got.Status)
	assert.Equal(t, 2, got.ProcessedItems)
	assert.Equal(t, 2, got.Progress.OrdersFetched)
	assert.Empty(t, h.vendor.requests())

	order, err := h.repos.VendorOrder.GetByVendorID(context.Background(), h.tenant.ID, 1001)
	require.NoError(t, err)
	assert.Equal(t, "#1001", order.Name)
	assert.InDelta(t, 19.99, order.TotalPrice, 0.001)
}

func TestSyncService_Run_RecordsQuotaSnapshot(t *testing.T) {
	h := newHarness(t, false)
	h.vendor.products = makeProducts(2, 1)
	snap := domain.QuotaSnapshot{Made: 12, Limit: 40, Remaining: 28, ObservedAt: time.Now().UTC()}
	require.NoError(t, h.recorder.Record(context.Background(), h.tenant.ID, snap))
	job := h.pendingJob(t, domain.JobTypeProductSync)

	require.NoError(t, h.sync.Run(context.Background(), job.ID))

	got := h.job(t, job.ID)
	require.NotNil(t, got.Progress.Quota)
	assert.Equal(t, 28, got.Progress.Quota.Remaining)
}

func TestSyncService_StartJob_RunsOnPool(t *testing.T) {
	h := newHarness(t, true)
	h.vendor.products = makeProducts(40, 1)
	h.vendor.orders = []shopify.Order{{ID: 7, Name: "#7", TotalPrice: "1.00"}}

	job, err := h.sync.StartJob(context.Background(), h.tenant.ID, domain.JobTypeFullSync)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPending, job.Status)

	got := h.waitTerminal(t, job.ID)
	assert.Equal(t, domain.JobStatusCompleted, got.Status)
	assert.Equal(t, 41, got.ProcessedItems)
	assert.NotNil(t, got.StartedAt)
	assert.NotNil(t, got.CompletedAt)

	view, err := h.sync.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, 100.0, view.Percent)
	assert.Equal(t, StepCompleted, view.Step)
}

func TestSyncService_StartJob_OneActiveJobPerTenant(t *testing.T) {
	h := newHarness(t, false)

	first, err := h.sync.StartJob(context.Background(), h.tenant.ID, domain.JobTypeFullSync)
	require.NoError(t, err)

	_, err = h.sync.StartJob(context.Background(), h.tenant.ID, domain.JobTypeProductSync)
	var conflict *errors.ErrConflictingJob
	require.True(t, stderrors.As(err, &conflict))
	assert.Equal(t, first.ID.String(), conflict.ActiveJobID)

	other := &domain.Tenant{ShopDomain: "other-shop.myshopify.com", AccessToken: "shpat_other", IsActive: true}
	require.NoError(t, h.repos.Tenant.Upsert(context.Background(), other))
	_, err = h.sync.StartJob(context.Background(), other.ID, domain.JobTypeFullSync)
	assert.NoError(t, err, "exclusivity is per tenant")
}

func TestSyncService_StartJob_Validation(t *testing.T) {
	h := newHarness(t, false)

	_, err := h.sync.StartJob(context.Background(), h.tenant.ID, domain.JobType("everything"))
	var verr *errors.ErrValidation
	assert.True(t, stderrors.As(err, &verr))

	_, err = h.sync.StartJob(context.Background(), uuid.New(), domain.JobTypeFullSync)
	var nf *errors.ErrNotFound
	assert.True(t, stderrors.As(err, &nf))

	require.NoError(t, h.repos.Tenant.SetActive(context.Background(), h.tenant.ID, false))
	_, err = h.sync.StartJob(context.Background(), h.tenant.ID, domain.JobTypeFullSync)
	assert.True(t, stderrors.As(err, &verr))
}

func TestSyncService_StartJob_PoolClosedFailsJob(t *testing.T) {
	h := newHarness(t, false)
	require.NoError(t, h.syncPool.Stop(context.Background()))

	_, err := h.sync.StartJob(context.Background(), h.tenant.ID, domain.JobTypeFullSync)
	require.Error(t, err)

	jobs, err := h.repos.SyncJob.ListByTenant(context.Background(), h.tenant.ID, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, domain.JobStatusFailed, jobs[0].Status)

	// the failed job no longer blocks the tenant
	active, err := h.repos.SyncJob.GetActiveByTenant(context.Background(), h.tenant.ID)
	require.NoError(t, err)
	assert.Nil(t, active)
}

func TestSyncService_PanicFailsJob(t *testing.T) {
	h := newHarness(t, true)
	h.vendor.panicOnProducts = true

	job, err := h.sync.StartJob(context.Background(), h.tenant.ID, domain.JobTypeProductSync)
	require.NoError(t, err)

	got := h.waitTerminal(t, job.ID)
	assert.Equal(t, domain.JobStatusFailed, got.Status)
	require.NotNil(t, got.ErrorMessage)
	assert.Contains(t, *got.ErrorMessage, "vendor client exploded")

	// the pool survives and runs the next job
	h.vendor.mu.Lock()
	h.vendor.panicOnProducts = false
	h.vendor.products = makeProducts(2, 1)
	h.vendor.mu.Unlock()
	next, err := h.sync.StartJob(context.Background(), h.tenant.ID, domain.JobTypeProductSync)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, h.waitTerminal(t, next.ID).Status)
}

func TestSyncService_CancelJob_TerminalIsRejected(t *testing.T) {
	h := newHarness(t, false)
	job := h.pendingJob(t, domain.JobTypeProductSync)
	require.NoError(t, h.sync.Run(context.Background(), job.ID))

	_, err := h.sync.CancelJob(context.Background(), job.ID, "")
	var transition *errors.ErrInvalidStateTransition
	require.True(t, stderrors.As(err, &transition))
	assert.Equal(t, domain.JobStatusCompleted, transition.From)
}

func TestSyncService_CancelTenantJobs(t *testing.T) {
	h := newHarness(t, false)

	n, err := h.sync.CancelTenantJobs(context.Background(), h.tenant.ID, "nothing to do")
	require.NoError(t, err)
	assert.Zero(t, n)

	job := h.pendingJob(t, domain.JobTypeFullSync)
	n, err = h.sync.CancelTenantJobs(context.Background(), h.tenant.ID, "tenant disconnected")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, domain.JobStatusCancelled, h.job(t, job.ID).Status)
}

func TestSyncService_ScheduleAll(t *testing.T) {
	h := newHarness(t, false)
	inactive := &domain.Tenant{ShopDomain: "gone-shop.myshopify.com", AccessToken: "shpat_gone", IsActive: false}
	require.NoError(t, h.repos.Tenant.Upsert(context.Background(), inactive))

	h.sync.scheduleAll(context.Background())
	h.sync.scheduleAll(context.Background())

	jobs, err := h.sync.ListJobs(context.Background(), h.tenant.ID, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1, "second pass skips the tenant with a job in flight")
	assert.Equal(t, domain.JobTypeIncrementalSync, jobs[0].JobType)

	none, err := h.sync.ListJobs(context.Background(), inactive.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}
