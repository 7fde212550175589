package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jafarshop/catalogsync/internal/domain"
	"github.com/jafarshop/catalogsync/internal/repository"
	apperrors "github.com/jafarshop/catalogsync/pkg/errors"
)

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return db, mock
}

var syncJobRowColumns = []string{
	"id", "tenant_id", "job_type", "status", "total_items", "processed_items", "failed_items",
	"started_at", "completed_at", "error_message", "progress", "created_at", "updated_at",
}

func TestCatalogItemRepository_UpsertByKeyKeepsStoredID(t *testing.T) {
	db, mock := newMock(t)
	repo := NewCatalogItemRepository(db, zap.NewNop())

	storedID := uuid.New()
	created := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	mock.ExpectQuery(`INSERT INTO catalog_items .* ON CONFLICT \(tenant_id, sku\) DO UPDATE`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(storedID.String(), created))

	item := &domain.CatalogItem{TenantID: uuid.New(), SKU: "SKU-1", Title: "Shirt", Price: 19.99, Status: domain.ItemStatusActive}
	require.NoError(t, repo.UpsertByKey(context.Background(), item))

	assert.Equal(t, storedID, item.ID)
	assert.Equal(t, created, item.CreatedAt)
}

func TestCatalogItemRepository_GetBySKUNotFound(t *testing.T) {
	db, mock := newMock(t)
	repo := NewCatalogItemRepository(db, zap.NewNop())

	mock.ExpectQuery(`SELECT .* FROM catalog_items WHERE tenant_id = \$1 AND sku = \$2`).
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetBySKU(context.Background(), uuid.New(), "missing")
	var nf *apperrors.ErrNotFound
	assert.True(t, errors.As(err, &nf))
}

func TestCatalogItemRepository_MarkProductDeleted(t *testing.T) {
	db, mock := newMock(t)
	repo := NewCatalogItemRepository(db, zap.NewNop())

	mock.ExpectExec(`UPDATE catalog_items SET status`).
		WithArgs("deleted", sqlmock.AnyArg(), sqlmock.AnyArg(), int64(42)).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := repo.MarkProductDeleted(context.Background(), uuid.New(), 42)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestSyncJobRepository_CreateExclusiveConflict(t *testing.T) {
	db, mock := newMock(t)
	repo := NewSyncJobRepository(db, zap.NewNop())

	tenantID := uuid.New()
	activeID := uuid.New()
	mock.ExpectExec(`INSERT INTO sync_jobs`).
		WillReturnError(&pq.Error{Code: pqUniqueViolation, Constraint: activeJobIndexName})
	mock.ExpectQuery(`SELECT .* FROM sync_jobs WHERE tenant_id = \$1 AND status IN`).
		WillReturnRows(sqlmock.NewRows(syncJobRowColumns).AddRow(
			activeID.String(), tenantID.String(), "full_sync", "running", nil, 10, 0,
			time.Now(), nil, nil, []byte(`{"step":"fetching"}`), time.Now(), time.Now(),
		))

	err := repo.CreateExclusive(context.Background(), &domain.SyncJob{TenantID: tenantID, JobType: domain.JobTypeFullSync})

	var conflict *apperrors.ErrConflictingJob
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, activeID.String(), conflict.ActiveJobID)
}

func TestSyncJobRepository_CreateExclusiveOtherErrorPassesThrough(t *testing.T) {
	db, mock := newMock(t)
	repo := NewSyncJobRepository(db, zap.NewNop())

	mock.ExpectExec(`INSERT INTO sync_jobs`).WillReturnError(errors.New("connection reset"))

	err := repo.CreateExclusive(context.Background(), &domain.SyncJob{TenantID: uuid.New(), JobType: domain.JobTypeFullSync})
	require.Error(t, err)
	var conflict *apperrors.ErrConflictingJob
	assert.False(t, errors.As(err, &conflict))
}

func TestSyncJobRepository_GetByIDScansNullableColumns(t *testing.T) {
	db, mock := newMock(t)
	repo := NewSyncJobRepository(db, zap.NewNop())

	id := uuid.New()
	mock.ExpectQuery(`SELECT .* FROM sync_jobs WHERE id = \$1`).
		WillReturnRows(sqlmock.NewRows(syncJobRowColumns).AddRow(
			id.String(), uuid.New().String(), "product_sync", "failed", int64(250), 120, 3,
			time.Now(), time.Now(), "boom", []byte(`{"step":"applying","pages_fetched":1}`), time.Now(), time.Now(),
		))

	j, err := repo.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, j.Status)
	require.NotNil(t, j.TotalItems)
	assert.Equal(t, 250, *j.TotalItems)
	require.NotNil(t, j.ErrorMessage)
	assert.Equal(t, "boom", *j.ErrorMessage)
	assert.Equal(t, 1, j.Progress.PagesFetched)
	assert.Equal(t, "applying", j.Progress.Step)
}

func TestSyncJobRepository_FinishIsConditional(t *testing.T) {
	db, mock := newMock(t)
	repo := NewSyncJobRepository(db, zap.NewNop())

	mock.ExpectExec(`UPDATE sync_jobs .* WHERE id = \$7 AND status = ANY\(\$8\)`).
		WithArgs("completed", sqlmock.AnyArg(), 10, 0, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), pq.Array([]string{"running"})).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.Finish(context.Background(), uuid.New(), domain.JobStatusCompleted, nil, 10, 0, domain.ProgressDetail{})
	require.NoError(t, err)
	assert.False(t, ok, "a cancelled job must not be overwritten")
}

func TestSyncJobRepository_FinishRejectsNonTerminal(t *testing.T) {
	db, _ := newMock(t)
	repo := NewSyncJobRepository(db, zap.NewNop())

	_, err := repo.Finish(context.Background(), uuid.New(), domain.JobStatusRunning, nil, 0, 0, domain.ProgressDetail{})
	var transition *apperrors.ErrInvalidStateTransition
	assert.True(t, errors.As(err, &transition))
}

func TestSyncJobRepository_UpdateProgressOnlyWhileRunning(t *testing.T) {
	db, mock := newMock(t)
	repo := NewSyncJobRepository(db, zap.NewNop())

	id := uuid.New()
	mock.ExpectExec(`UPDATE sync_jobs .* WHERE id = \$5 AND status = 'running'`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT .* FROM sync_jobs WHERE id = \$1`).
		WillReturnRows(sqlmock.NewRows(syncJobRowColumns).AddRow(
			id.String(), uuid.New().String(), "product_sync", "cancelled", nil, 0, 0,
			time.Now(), time.Now(), "operator", []byte(`{"step":"queued"}`), time.Now(), time.Now(),
		))

	ok, err := repo.UpdateProgress(context.Background(), id, 250, 0, domain.ProgressDetail{Step: "fetching", PagesFetched: 1})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSyncJobRepository_SetTotal(t *testing.T) {
	db, mock := newMock(t)
	repo := NewSyncJobRepository(db, zap.NewNop())

	mock.ExpectExec(`UPDATE sync_jobs SET total_items = \$1, updated_at = \$2 WHERE id = \$3 AND status = 'running'`).
		WithArgs(300, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := repo.SetTotal(context.Background(), uuid.New(), 300)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSyncJobRepository_SetTotalMissingJob(t *testing.T) {
	db, mock := newMock(t)
	repo := NewSyncJobRepository(db, zap.NewNop())

	mock.ExpectExec(`UPDATE sync_jobs SET total_items`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT .* FROM sync_jobs WHERE id = \$1`).WillReturnError(sql.ErrNoRows)

	_, err := repo.SetTotal(context.Background(), uuid.New(), 1)
	var nf *apperrors.ErrNotFound
	assert.True(t, errors.As(err, &nf))
}

func TestSyncJobRepository_Cancel(t *testing.T) {
	db, mock := newMock(t)
	repo := NewSyncJobRepository(db, zap.NewNop())

	mock.ExpectExec(`UPDATE sync_jobs\s+SET status = 'cancelled'`).
		WithArgs("operator request", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := repo.Cancel(context.Background(), uuid.New(), "operator request")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestWebhookEventRepository_ListFailed(t *testing.T) {
	db, mock := newMock(t)
	repo := NewWebhookEventRepository(db, zap.NewNop())

	tenantID := uuid.New()
	mock.ExpectQuery(`FROM webhook_events WHERE tenant_id = \$1 AND processed = false AND error_message IS NOT NULL`).
		WithArgs(sqlmock.AnyArg(), int64(50)).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "tenant_id", "event_type", "vendor_resource_id", "vendor_webhook_id", "payload",
			"processed", "processed_at", "error_message", "retry_count", "created_at",
		}).AddRow(uuid.New().String(), tenantID.String(), "product_update", int64(7), "wh-1", []byte(`{"id":7}`), false, nil, "db down", 1, time.Now()))

	events, err := repo.List(context.Background(), tenantID, repository.WebhookEventFilter{OnlyFailed: true})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.WebhookTopicProductUpdate, events[0].EventType)
	assert.Equal(t, 1, events[0].RetryCount)
	assert.JSONEq(t, `{"id":7}`, string(events[0].Payload))
}

func TestTenantRepository_SetActiveMissing(t *testing.T) {
	db, mock := newMock(t)
	repo := NewTenantRepository(db, zap.NewNop())

	mock.ExpectExec(`UPDATE tenants SET is_active`).WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.SetActive(context.Background(), uuid.New(), false)
	var nf *apperrors.ErrNotFound
	assert.True(t, errors.As(err, &nf))
}
