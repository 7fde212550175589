package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jafarshop/catalogsync/internal/catalog"
	"github.com/jafarshop/catalogsync/internal/domain"
	"github.com/jafarshop/catalogsync/internal/shopify"
)

// jobRun holds the in-flight state of one executing job
type jobRun struct {
	svc     *SyncService
	job     *domain.SyncJob
	tenant  *domain.Tenant
	client  VendorClient
	started time.Time
	logger  *zap.Logger

	detail    domain.ProgressDetail
	processed int
	failed    int
}

func (r *jobRun) execute(ctx context.Context) error {
	r.detail.Step = StepFetching

	var products []shopify.Product
	var orders []shopify.Order
	var err error

	if r.job.JobType.IncludesProducts() {
		var updatedAtMin *time.Time
		if r.job.JobType == domain.JobTypeIncrementalSync {
			updatedAtMin, err = r.incrementalSince(ctx)
			if err != nil {
				return err
			}
		}
		products, err = r.fetchProducts(ctx, updatedAtMin)
		if err != nil {
			return err
		}
	}
	if r.job.JobType.IncludesOrders() {
		createdAtMin := r.svc.now().Add(-r.svc.opts.OrderWindow)
		orders, err = r.fetchOrders(ctx, &createdAtMin)
		if err != nil {
			return err
		}
	}

	var items []domain.CatalogItem
	for _, p := range products {
		items = append(items, catalog.ItemsFromProduct(r.tenant.ID, p)...)
	}
	total := len(items) + len(orders)
	ok, err := r.svc.repos.SyncJob.SetTotal(ctx, r.job.ID, total)
	if err != nil {
		return fmt.Errorf("set total: %w", err)
	}
	if !ok {
		return errJobStopped
	}
	r.logger.Info("Sync job fetch phase done",
		zap.Int("pages_fetched", r.detail.PagesFetched),
		zap.Int("products", len(products)),
		zap.Int("orders", len(orders)),
		zap.Int("total_items", total),
	)

	r.detail.Step = StepApplying
	r.detail.CurrentResource = "products"
	for i := range items {
		if err := ctx.Err(); err != nil {
			return err
		}
		item := items[i]
		if err := r.svc.repos.CatalogItem.UpsertByKey(ctx, &item); err != nil {
			r.itemFailed(&ItemUpsertFailedError{SKU: item.SKU, Err: err})
		} else {
			r.processed++
		}
		if err := r.maybeCheckpoint(ctx); err != nil {
			return err
		}
	}

	r.detail.CurrentResource = "orders"
	for _, o := range orders {
		if err := ctx.Err(); err != nil {
			return err
		}
		order := catalog.OrderFromVendor(r.tenant.ID, o)
		if err := r.svc.repos.VendorOrder.UpsertByKey(ctx, &order); err != nil {
			r.itemFailed(&ItemUpsertFailedError{SKU: order.Name, Err: err})
		} else {
			r.processed++
		}
		if err := r.maybeCheckpoint(ctx); err != nil {
			return err
		}
	}

	return r.complete(ctx)
}

// incrementalSince is the start of the last completed product-bearing job, or
// nil when there is none and a full fetch is needed
func (r *jobRun) incrementalSince(ctx context.Context) (*time.Time, error) {
	last, err := r.svc.repos.SyncJob.LastCompleted(ctx, r.tenant.ID, []domain.JobType{
		domain.JobTypeFullSync, domain.JobTypeIncrementalSync, domain.JobTypeProductSync,
	})
	if err != nil {
		return nil, fmt.Errorf("find last completed job: %w", err)
	}
	if last == nil || last.StartedAt == nil {
		r.logger.Info("No previous completed sync, fetching everything")
		return nil, nil
	}
	return last.StartedAt, nil
}

func (r *jobRun) fetchProducts(ctx context.Context, updatedAtMin *time.Time) ([]shopify.Product, error) {
	r.detail.CurrentResource = "products"
	var out []shopify.Product
	var since int64
	for {
		if err := r.ensureRunning(ctx); err != nil {
			return nil, err
		}
		page, err := r.client.GetProductsPage(ctx, shopify.PageRequest{
			SinceID:      since,
			Limit:        r.svc.opts.PageSize,
			UpdatedAtMin: updatedAtMin,
		})
		if err != nil {
			return nil, fmt.Errorf("fetch products page %d: %w", r.detail.PagesFetched+1, err)
		}
		r.detail.PagesFetched++
		r.detail.ProductsFetched += len(page.Products)
		out = append(out, page.Products...)
		if err := r.persist(ctx); err != nil {
			return nil, err
		}
		if page.NextSinceID == 0 {
			return out, nil
		}
		since = page.NextSinceID
	}
}

func (r *jobRun) fetchOrders(ctx context.Context, createdAtMin *time.Time) ([]shopify.Order, error) {
	r.detail.CurrentResource = "orders"
	var out []shopify.Order
	var since int64
	for {
		if err := r.ensureRunning(ctx); err != nil {
			return nil, err
		}
		page, err := r.client.GetOrdersPage(ctx, shopify.PageRequest{
			SinceID:      since,
			Limit:        r.svc.opts.PageSize,
			CreatedAtMin: createdAtMin,
		})
		if err != nil {
			return nil, fmt.Errorf("fetch orders page %d: %w", r.detail.PagesFetched+1, err)
		}
		r.detail.PagesFetched++
		r.detail.OrdersFetched += len(page.Orders)
		out = append(out, page.Orders...)
		if err := r.persist(ctx); err != nil {
			return nil, err
		}
		if page.NextSinceID == 0 {
			return out, nil
		}
		since = page.NextSinceID
	}
}

// ensureRunning reloads the job and stops the run if it was cancelled
func (r *jobRun) ensureRunning(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	job, err := r.svc.repos.SyncJob.GetByID(ctx, r.job.ID)
	if err != nil {
		return fmt.Errorf("reload job: %w", err)
	}
	if job.Status != domain.JobStatusRunning {
		return errJobStopped
	}
	return nil
}

func (r *jobRun) itemFailed(err *ItemUpsertFailedError) {
	r.failed++
	r.detail.LastItemError = err.Error()
	r.logger.Warn("Sync item failed", zap.String("sku", err.SKU), zap.Error(err.Err))
}

func (r *jobRun) maybeCheckpoint(ctx context.Context) error {
	if (r.processed+r.failed)%r.svc.opts.ProgressEvery != 0 {
		return nil
	}
	if err := r.ensureRunning(ctx); err != nil {
		return err
	}
	return r.persist(ctx)
}

func (r *jobRun) persist(ctx context.Context) error {
	r.refreshQuota(ctx)
	ok, err := r.svc.repos.SyncJob.UpdateProgress(ctx, r.job.ID, r.processed, r.failed, r.detail)
	if err != nil {
		return fmt.Errorf("persist progress: %w", err)
	}
	if !ok {
		return errJobStopped
	}
	return nil
}

func (r *jobRun) refreshQuota(ctx context.Context) {
	if r.svc.recorder == nil {
		return
	}
	snap, err := r.svc.recorder.Latest(ctx, r.tenant.ID)
	if err != nil {
		r.logger.Debug("Quota snapshot unavailable", zap.Error(err))
		return
	}
	if snap != nil {
		r.detail.Quota = snap
	}
}

func (r *jobRun) metrics() {
	elapsed := r.svc.now().Sub(r.started)
	r.detail.DurationMS = elapsed.Milliseconds()
	if secs := elapsed.Seconds(); secs > 0 {
		r.detail.ItemsPerSecond = float64(r.processed+r.failed) / secs
	}
}

func (r *jobRun) complete(ctx context.Context) error {
	r.detail.Step = StepCompleted
	r.detail.CurrentResource = ""
	r.metrics()
	r.refreshQuota(ctx)
	ok, err := r.svc.repos.SyncJob.Finish(ctx, r.job.ID, domain.JobStatusCompleted, nil, r.processed, r.failed, r.detail)
	if err != nil {
		return fmt.Errorf("finish job: %w", err)
	}
	if !ok {
		return errJobStopped
	}
	r.logger.Info("Sync job completed",
		zap.Int("processed_items", r.processed),
		zap.Int("failed_items", r.failed),
		zap.Int("pages_fetched", r.detail.PagesFetched),
		zap.Int64("duration_ms", r.detail.DurationMS),
		zap.Float64("items_per_second", r.detail.ItemsPerSecond),
	)
	return nil
}

// fail records the job as failed, keeping whatever progress was made
func (r *jobRun) fail(ctx context.Context, cause error) {
	ctx = context.WithoutCancel(ctx)
	msg := cause.Error()
	r.detail.Step = StepFailed
	r.metrics()
	ok, err := r.svc.repos.SyncJob.Finish(ctx, r.job.ID, domain.JobStatusFailed, &msg, r.processed, r.failed, r.detail)
	if err != nil {
		r.logger.Error("Failed to mark sync job failed", zap.Error(err), zap.NamedError("cause", cause))
		return
	}
	if ok {
		r.logger.Error("Sync job failed",
			zap.Error(cause),
			zap.Int("processed_items", r.processed),
			zap.Int("failed_items", r.failed),
		)
	}
}
