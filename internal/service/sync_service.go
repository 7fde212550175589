package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jafarshop/catalogsync/internal/domain"
	"github.com/jafarshop/catalogsync/internal/quota"
	"github.com/jafarshop/catalogsync/internal/repository"
	"github.com/jafarshop/catalogsync/internal/shopify"
	"github.com/jafarshop/catalogsync/internal/worker"
	"github.com/jafarshop/catalogsync/pkg/errors"
)

const (
	StepQueued    = "queued"
	StepFetching  = "fetching"
	StepApplying  = "applying"
	StepCompleted = "completed"
	StepFailed    = "failed"
)

// errJobStopped is returned internally when the job left the running state
// (cancelled by an operator or uninstall) while the worker was busy.
var errJobStopped = stderrors.New("sync job is no longer running")

// ItemUpsertFailedError records one item that could not be written. It is
// counted and logged; it never fails the job on its own.
type ItemUpsertFailedError struct {
	SKU string
	Err error
}

func (e *ItemUpsertFailedError) Error() string {
	return fmt.Sprintf("upsert %s: %v", e.SKU, e.Err)
}

func (e *ItemUpsertFailedError) Unwrap() error {
	return e.Err
}

// SyncOptions tunes the job loop
type SyncOptions struct {
	PageSize      int
	ProgressEvery int
	OrderWindow   time.Duration
}

// SyncService runs pull-based catalog sync jobs on a supervised worker pool
type SyncService struct {
	repos    *repository.Repositories
	clients  ClientFactory
	pool     *worker.Pool
	recorder quota.Recorder
	opts     SyncOptions
	logger   *zap.Logger
	now      func() time.Time
}

// NewSyncService creates a sync service. recorder may be nil.
func NewSyncService(repos *repository.Repositories, clients ClientFactory, pool *worker.Pool, recorder quota.Recorder, opts SyncOptions, logger *zap.Logger) *SyncService {
	if opts.PageSize <= 0 || opts.PageSize > shopify.MaxPageSize {
		opts.PageSize = shopify.MaxPageSize
	}
	if opts.ProgressEvery <= 0 {
		opts.ProgressEvery = 50
	}
	if opts.OrderWindow <= 0 {
		opts.OrderWindow = 60 * 24 * time.Hour
	}
	return &SyncService{
		repos:    repos,
		clients:  clients,
		pool:     pool,
		recorder: recorder,
		opts:     opts,
		logger:   logger,
		now:      time.Now,
	}
}

// StartJob validates the request, records a pending job and hands it to the
// worker pool. It returns as soon as the job is queued.
func (s *SyncService) StartJob(ctx context.Context, tenantID uuid.UUID, jobType domain.JobType) (*domain.SyncJob, error) {
	if !jobType.IsValid() {
		return nil, &errors.ErrValidation{
			Message: fmt.Sprintf("unsupported job type %q", jobType),
			Fields:  map[string]string{"job_type": "must be one of full_sync, incremental_sync, product_sync, order_sync"},
		}
	}
	tenant, err := s.repos.Tenant.GetByID(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if !tenant.IsActive || tenant.AccessToken == "" {
		return nil, &errors.ErrValidation{Message: "tenant is not connected"}
	}

	job := &domain.SyncJob{
		TenantID: tenantID,
		JobType:  jobType,
		Progress: domain.ProgressDetail{Step: StepQueued},
	}
	if err := s.repos.SyncJob.CreateExclusive(ctx, job); err != nil {
		return nil, err
	}

	jobID := job.ID
	err = s.pool.Submit(worker.Task{
		Name:    "sync_job:" + jobID.String(),
		Run:     func(ctx context.Context) error { return s.Run(ctx, jobID) },
		OnError: func(err error) { s.failJob(jobID, err) },
	})
	if err != nil {
		s.failJob(jobID, fmt.Errorf("could not schedule job: %w", err))
		return nil, fmt.Errorf("schedule sync job: %w", err)
	}

	s.logger.Info("Sync job queued",
		zap.String("job_id", jobID.String()),
		zap.String("tenant_id", tenantID.String()),
		zap.String("job_type", string(jobType)),
	)
	return job, nil
}

// Run executes a pending job to a terminal state. Item failures are counted;
// a page-fetch failure or any store error fails the job.
func (s *SyncService) Run(ctx context.Context, jobID uuid.UUID) error {
	job, err := s.repos.SyncJob.GetByID(ctx, jobID)
	if err != nil {
		return err
	}
	tenant, err := s.repos.Tenant.GetByID(ctx, job.TenantID)
	if err != nil {
		s.failJob(jobID, err)
		return err
	}

	started := s.now()
	if err := s.repos.SyncJob.MarkRunning(ctx, jobID, started); err != nil {
		var transition *errors.ErrInvalidStateTransition
		if stderrors.As(err, &transition) {
			s.logger.Info("Sync job left pending before it started", zap.String("job_id", jobID.String()), zap.String("status", string(transition.From)))
			return nil
		}
		return err
	}

	r := &jobRun{
		svc:     s,
		job:     job,
		tenant:  tenant,
		client:  s.clients(tenant),
		started: started,
		logger: s.logger.With(
			zap.String("job_id", jobID.String()),
			zap.String("tenant_id", tenant.ID.String()),
			zap.String("job_type", string(job.JobType)),
		),
	}
	r.logger.Info("Sync job started")

	err = r.execute(ctx)
	switch {
	case err == nil:
		return nil
	case stderrors.Is(err, errJobStopped):
		r.logger.Info("Sync job stopped: no longer running", zap.Int("processed_items", r.processed), zap.Int("failed_items", r.failed))
		return nil
	default:
		r.fail(ctx, err)
		return err
	}
}

// failJob marks an active job failed; used for scheduling failures and panics
func (s *SyncService) failJob(jobID uuid.UUID, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	msg := cause.Error()
	job, err := s.repos.SyncJob.GetByID(ctx, jobID)
	if err != nil {
		s.logger.Error("Failed to load sync job to mark failed", zap.String("job_id", jobID.String()), zap.Error(err))
		return
	}
	detail := job.Progress
	detail.Step = StepFailed
	ok, err := s.repos.SyncJob.Finish(ctx, jobID, domain.JobStatusFailed, &msg, job.ProcessedItems, job.FailedItems, detail)
	if err != nil {
		s.logger.Error("Failed to mark sync job failed", zap.String("job_id", jobID.String()), zap.Error(err))
		return
	}
	if ok {
		s.logger.Error("Sync job failed", zap.String("job_id", jobID.String()), zap.String("error", msg))
	}
}

// GetJob returns the job with derived percent
func (s *SyncService) GetJob(ctx context.Context, jobID uuid.UUID) (*JobStatusView, error) {
	job, err := s.repos.SyncJob.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	v := NewJobStatusView(job)
	return &v, nil
}

// ListJobs returns the tenant's most recent jobs, newest first
func (s *SyncService) ListJobs(ctx context.Context, tenantID uuid.UUID, limit int) ([]JobStatusView, error) {
	jobs, err := s.repos.SyncJob.ListByTenant(ctx, tenantID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]JobStatusView, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, NewJobStatusView(j))
	}
	return out, nil
}

// CancelJob moves a pending or running job to cancelled. The worker notices at
// its next checkpoint and stops without further writes.
func (s *SyncService) CancelJob(ctx context.Context, jobID uuid.UUID, reason string) (*JobStatusView, error) {
	if reason == "" {
		reason = "cancelled by operator"
	}
	ok, err := s.repos.SyncJob.Cancel(ctx, jobID, reason)
	if err != nil {
		return nil, err
	}
	job, err := s.repos.SyncJob.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &errors.ErrInvalidStateTransition{From: job.Status, To: domain.JobStatusCancelled}
	}
	s.logger.Info("Sync job cancelled", zap.String("job_id", jobID.String()), zap.String("reason", reason))
	v := NewJobStatusView(job)
	return &v, nil
}

// CancelTenantJobs cancels the tenant's active job, if any, and reports how many were cancelled
func (s *SyncService) CancelTenantJobs(ctx context.Context, tenantID uuid.UUID, reason string) (int, error) {
	active, err := s.repos.SyncJob.GetActiveByTenant(ctx, tenantID)
	if err != nil || active == nil {
		return 0, err
	}
	ok, err := s.repos.SyncJob.Cancel(ctx, active.ID, reason)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	s.logger.Info("Sync job cancelled", zap.String("job_id", active.ID.String()), zap.String("tenant_id", tenantID.String()), zap.String("reason", reason))
	return 1, nil
}

// RunScheduledSyncLoop starts an incremental sync for every active tenant
// every interval until ctx is done. Tenants with a job in flight are skipped.
func (s *SyncService) RunScheduledSyncLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.scheduleAll(ctx)
		}
	}
}

func (s *SyncService) scheduleAll(ctx context.Context) {
	tenants, err := s.repos.Tenant.List(ctx)
	if err != nil {
		s.logger.Error("Scheduled sync: failed to list tenants", zap.Error(err))
		return
	}
	for _, t := range tenants {
		if !t.IsActive || t.AccessToken == "" {
			continue
		}
		_, err := s.StartJob(ctx, t.ID, domain.JobTypeIncrementalSync)
		var conflict *errors.ErrConflictingJob
		switch {
		case err == nil:
		case stderrors.As(err, &conflict):
			s.logger.Debug("Scheduled sync skipped: job already active", zap.String("tenant_id", t.ID.String()))
		default:
			s.logger.Warn("Scheduled sync: failed to start job", zap.String("tenant_id", t.ID.String()), zap.Error(err))
		}
	}
}

// JobStatusView is the operator-facing shape of a job
type JobStatusView struct {
	ID             uuid.UUID             `json:"id"`
	TenantID       uuid.UUID             `json:"tenant_id"`
	JobType        domain.JobType        `json:"job_type"`
	Status         domain.JobStatus      `json:"status"`
	Percent        float64               `json:"percent"`
	Step           string                `json:"step"`
	TotalItems     *int                  `json:"total_items"`
	ProcessedItems int                   `json:"processed_items"`
	FailedItems    int                   `json:"failed_items"`
	ErrorMessage   *string               `json:"error_message,omitempty"`
	StartedAt      *time.Time            `json:"started_at,omitempty"`
	CompletedAt    *time.Time            `json:"completed_at,omitempty"`
	CreatedAt      time.Time             `json:"created_at"`
	Progress       domain.ProgressDetail `json:"progress"`
}

func NewJobStatusView(j *domain.SyncJob) JobStatusView {
	return JobStatusView{
		ID:             j.ID,
		TenantID:       j.TenantID,
		JobType:        j.JobType,
		Status:         j.Status,
		Percent:        j.Percent(),
		Step:           j.Progress.Step,
		TotalItems:     j.TotalItems,
		ProcessedItems: j.ProcessedItems,
		FailedItems:    j.FailedItems,
		ErrorMessage:   j.ErrorMessage,
		StartedAt:      j.StartedAt,
		CompletedAt:    j.CompletedAt,
		CreatedAt:      j.CreatedAt,
		Progress:       j.Progress,
	}
}
