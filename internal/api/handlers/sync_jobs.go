package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jafarshop/catalogsync/internal/domain"
	"github.com/jafarshop/catalogsync/internal/service"
)

// StartSyncJobRequest represents start sync job request
type StartSyncJobRequest struct {
	JobType domain.JobType `json:"job_type" binding:"required"`
}

// CancelSyncJobRequest represents cancel sync job request
type CancelSyncJobRequest struct {
	Reason string `json:"reason"`
}

// HandleStartSyncJob handles POST /v1/tenants/:id/sync-jobs.
// Answers 202 as soon as the job is queued; 409 when one is already active.
func HandleStartSyncJob(syncSvc *service.SyncService, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID, ok := uuidParam(c, "id")
		if !ok {
			return
		}
		var req StartSyncJobRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
			return
		}

		job, err := syncSvc.StartJob(c.Request.Context(), tenantID, req.JobType)
		if err != nil {
			respondError(c, logger, err, "start sync job")
			return
		}
		c.JSON(http.StatusAccepted, gin.H{
			"job_id": job.ID,
			"status": job.Status,
			"job":    service.NewJobStatusView(job),
		})
	}
}

// HandleListSyncJobs handles GET /v1/tenants/:id/sync-jobs
func HandleListSyncJobs(syncSvc *service.SyncService, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID, ok := uuidParam(c, "id")
		if !ok {
			return
		}
		jobs, err := syncSvc.ListJobs(c.Request.Context(), tenantID, queryLimit(c, 20, 100))
		if err != nil {
			respondError(c, logger, err, "list sync jobs")
			return
		}
		c.JSON(http.StatusOK, gin.H{"jobs": jobs})
	}
}

// HandleGetSyncJob handles GET /v1/sync-jobs/:id
func HandleGetSyncJob(syncSvc *service.SyncService, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := uuidParam(c, "id")
		if !ok {
			return
		}
		job, err := syncSvc.GetJob(c.Request.Context(), id)
		if err != nil {
			respondError(c, logger, err, "get sync job")
			return
		}
		c.JSON(http.StatusOK, job)
	}
}

// HandleCancelSyncJob handles POST /v1/sync-jobs/:id/cancel
func HandleCancelSyncJob(syncSvc *service.SyncService, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := uuidParam(c, "id")
		if !ok {
			return
		}
		var req CancelSyncJobRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
				return
			}
		}
		job, err := syncSvc.CancelJob(c.Request.Context(), id, req.Reason)
		if err != nil {
			respondError(c, logger, err, "cancel sync job")
			return
		}
		c.JSON(http.StatusOK, job)
	}
}
