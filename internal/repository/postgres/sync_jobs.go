package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/jafarshop/catalogsync/internal/domain"
	"github.com/jafarshop/catalogsync/pkg/errors"
)

const (
	pqUniqueViolation     = "23505"
	activeJobIndexName    = "sync_jobs_one_active_per_tenant"
	syncJobColumns        = `id, tenant_id, job_type, status, total_items, processed_items, failed_items, started_at, completed_at, error_message, progress, created_at, updated_at`
	activeStatusPredicate = `status IN ('pending', 'running')`
)

type syncJobRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSyncJobRepository creates a new sync job repository
func NewSyncJobRepository(db *sql.DB, logger *zap.Logger) *syncJobRepository {
	return &syncJobRepository{
		db:     db,
		logger: logger,
	}
}

func scanSyncJob(row interface{ Scan(...any) error }) (*domain.SyncJob, error) {
	var j domain.SyncJob
	var total sql.NullInt64
	var startedAt, completedAt sql.NullTime
	var errMsg sql.NullString
	var progress []byte
	err := row.Scan(
		&j.ID, &j.TenantID, &j.JobType, &j.Status, &total, &j.ProcessedItems, &j.FailedItems,
		&startedAt, &completedAt, &errMsg, &progress, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if total.Valid {
		n := int(total.Int64)
		j.TotalItems = &n
	}
	if startedAt.Valid {
		j.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		j.CompletedAt = &completedAt.Time
	}
	if errMsg.Valid {
		j.ErrorMessage = &errMsg.String
	}
	if len(progress) > 0 {
		if err := json.Unmarshal(progress, &j.Progress); err != nil {
			return nil, err
		}
	}
	return &j, nil
}

func (r *syncJobRepository) CreateExclusive(ctx context.Context, job *domain.SyncJob) error {
	query := `
		INSERT INTO sync_jobs (id, tenant_id, job_type, status, processed_items, failed_items, progress, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 0, 0, $5, $6, $7)
	`
	now := time.Now()
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	job.Status = domain.JobStatusPending
	job.CreatedAt = now
	job.UpdatedAt = now

	progress, err := job.Progress.Marshal()
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, query, job.ID, job.TenantID, job.JobType, job.Status, progress, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if stderrors.As(err, &pqErr) && string(pqErr.Code) == pqUniqueViolation && pqErr.Constraint == activeJobIndexName {
			conflict := &errors.ErrConflictingJob{TenantID: job.TenantID.String()}
			if active, lookupErr := r.GetActiveByTenant(ctx, job.TenantID); lookupErr == nil && active != nil {
				conflict.ActiveJobID = active.ID.String()
			}
			return conflict
		}
		r.logger.Error("Failed to create sync job", zap.Error(err), zap.String("tenant_id", job.TenantID.String()))
		return err
	}
	return nil
}

func (r *syncJobRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.SyncJob, error) {
	query := `SELECT ` + syncJobColumns + ` FROM sync_jobs WHERE id = $1`
	j, err := scanSyncJob(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, &errors.ErrNotFound{Resource: "sync_job", ID: id.String()}
	}
	if err != nil {
		r.logger.Error("Failed to get sync job", zap.Error(err), zap.String("job_id", id.String()))
		return nil, err
	}
	return j, nil
}

func (r *syncJobRepository) GetActiveByTenant(ctx context.Context, tenantID uuid.UUID) (*domain.SyncJob, error) {
	query := `SELECT ` + syncJobColumns + ` FROM sync_jobs WHERE tenant_id = $1 AND ` + activeStatusPredicate + ` LIMIT 1`
	j, err := scanSyncJob(r.db.QueryRowContext(ctx, query, tenantID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get active sync job", zap.Error(err), zap.String("tenant_id", tenantID.String()))
		return nil, err
	}
	return j, nil
}

func (r *syncJobRepository) ListByTenant(ctx context.Context, tenantID uuid.UUID, limit int) ([]*domain.SyncJob, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT ` + syncJobColumns + ` FROM sync_jobs WHERE tenant_id = $1 ORDER BY created_at DESC LIMIT $2`
	rows, err := r.db.QueryContext(ctx, query, tenantID, limit)
	if err != nil {
		r.logger.Error("Failed to list sync jobs", zap.Error(err), zap.String("tenant_id", tenantID.String()))
		return nil, err
	}
	defer rows.Close()

	var out []*domain.SyncJob
	for rows.Next() {
		j, err := scanSyncJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (r *syncJobRepository) LastCompleted(ctx context.Context, tenantID uuid.UUID, types []domain.JobType) (*domain.SyncJob, error) {
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = string(t)
	}
	query := `
		SELECT ` + syncJobColumns + `
		FROM sync_jobs
		WHERE tenant_id = $1 AND status = 'completed' AND job_type = ANY($2)
		ORDER BY started_at DESC NULLS LAST
		LIMIT 1
	`
	j, err := scanSyncJob(r.db.QueryRowContext(ctx, query, tenantID, pq.Array(names)))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get last completed sync job", zap.Error(err), zap.String("tenant_id", tenantID.String()))
		return nil, err
	}
	return j, nil
}

func (r *syncJobRepository) MarkRunning(ctx context.Context, id uuid.UUID, startedAt time.Time) error {
	query := `UPDATE sync_jobs SET status = 'running', started_at = $1, updated_at = $1 WHERE id = $2 AND status = 'pending'`
	res, err := r.db.ExecContext(ctx, query, startedAt, id)
	if err != nil {
		r.logger.Error("Failed to mark sync job running", zap.Error(err), zap.String("job_id", id.String()))
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return r.transitionError(ctx, id, domain.JobStatusRunning)
	}
	return nil
}

func (r *syncJobRepository) SetTotal(ctx context.Context, id uuid.UUID, total int) (bool, error) {
	query := `UPDATE sync_jobs SET total_items = $1, updated_at = $2 WHERE id = $3 AND status = 'running'`
	res, err := r.db.ExecContext(ctx, query, total, time.Now(), id)
	if err != nil {
		r.logger.Error("Failed to set sync job total", zap.Error(err), zap.String("job_id", id.String()))
		return false, err
	}
	return r.applied(ctx, id, res)
}

func (r *syncJobRepository) UpdateProgress(ctx context.Context, id uuid.UUID, processed, failed int, detail domain.ProgressDetail) (bool, error) {
	progress, err := detail.Marshal()
	if err != nil {
		return false, err
	}
	query := `
		UPDATE sync_jobs
		SET processed_items = $1, failed_items = $2, progress = $3, updated_at = $4
		WHERE id = $5 AND status = 'running'
	`
	res, err := r.db.ExecContext(ctx, query, processed, failed, progress, time.Now(), id)
	if err != nil {
		r.logger.Error("Failed to update sync job progress", zap.Error(err), zap.String("job_id", id.String()))
		return false, err
	}
	return r.applied(ctx, id, res)
}

// applied reports whether a running-only update matched; a missing job is ErrNotFound
func (r *syncJobRepository) applied(ctx context.Context, id uuid.UUID, res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 0 {
		return true, nil
	}
	if _, err := r.GetByID(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func (r *syncJobRepository) Finish(ctx context.Context, id uuid.UUID, status domain.JobStatus, errMsg *string, processed, failed int, detail domain.ProgressDetail) (bool, error) {
	if !status.IsTerminal() {
		return false, &errors.ErrInvalidStateTransition{From: domain.JobStatusRunning, To: status}
	}
	progress, err := detail.Marshal()
	if err != nil {
		return false, err
	}
	query := `
		UPDATE sync_jobs
		SET status = $1, error_message = $2, processed_items = $3, failed_items = $4,
			progress = $5, completed_at = $6, updated_at = $6
		WHERE id = $7 AND status = ANY($8)`
	from := statusNames(domain.StatusesTransitioningTo(status))
	res, err := r.db.ExecContext(ctx, query, status, errMsg, processed, failed, progress, time.Now(), id, pq.Array(from))
	if err != nil {
		r.logger.Error("Failed to finish sync job", zap.Error(err), zap.String("job_id", id.String()), zap.String("status", string(status)))
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func statusNames(statuses []domain.JobStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func (r *syncJobRepository) Cancel(ctx context.Context, id uuid.UUID, reason string) (bool, error) {
	query := `
		UPDATE sync_jobs
		SET status = 'cancelled', error_message = $1, completed_at = $2, updated_at = $2
		WHERE id = $3 AND ` + activeStatusPredicate
	res, err := r.db.ExecContext(ctx, query, reason, time.Now(), id)
	if err != nil {
		r.logger.Error("Failed to cancel sync job", zap.Error(err), zap.String("job_id", id.String()))
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// transitionError explains why a conditional status update matched no row
func (r *syncJobRepository) transitionError(ctx context.Context, id uuid.UUID, to domain.JobStatus) error {
	j, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	return &errors.ErrInvalidStateTransition{From: j.Status, To: to}
}
