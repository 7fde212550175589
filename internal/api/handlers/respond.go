package handlers

import (
	stderrors "errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jafarshop/catalogsync/internal/shopify"
	"github.com/jafarshop/catalogsync/pkg/errors"
)

// respondError maps service errors onto HTTP statuses. Anything unrecognised is
// logged and reported as a 500 without details.
func respondError(c *gin.Context, logger *zap.Logger, err error, action string) {
	var (
		notFound   *errors.ErrNotFound
		validation *errors.ErrValidation
		activeJob  *errors.ErrConflictingJob
		transition *errors.ErrInvalidStateTransition
		unauth     *errors.ErrUnauthorized
	)

	switch {
	case stderrors.As(err, &notFound):
		c.JSON(http.StatusNotFound, gin.H{"error": notFound.Error()})
	case stderrors.As(err, &validation):
		body := gin.H{"error": validation.Error()}
		if len(validation.Fields) > 0 {
			body["fields"] = validation.Fields
		}
		c.JSON(http.StatusBadRequest, body)
	case stderrors.As(err, &activeJob):
		c.JSON(http.StatusConflict, gin.H{"error": activeJob.Error(), "active_job_id": activeJob.ActiveJobID})
	case stderrors.As(err, &transition):
		c.JSON(http.StatusConflict, gin.H{"error": transition.Error()})
	case stderrors.As(err, &unauth):
		c.JSON(http.StatusUnauthorized, gin.H{"error": unauth.Error()})
	case shopify.IsRateLimitExceeded(err):
		logger.Warn("Vendor rate limit exceeded", zap.String("action", action), zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "vendor rate limit exceeded, try again later"})
	case shopify.IsUnavailable(err):
		logger.Warn("Vendor unavailable", zap.String("action", action), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "vendor unavailable"})
	default:
		if apiErr, ok := shopify.AsAPIError(err); ok {
			logger.Warn("Vendor API error", zap.String("action", action), zap.Error(err))
			c.JSON(http.StatusBadGateway, gin.H{"error": "vendor API error", "vendor_status": apiErr.Status, "details": apiErr.Message})
			return
		}
		logger.Error("Failed to "+action, zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// uuidParam parses a path parameter, answering 400 when it is not a UUID
func uuidParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name + ": must be a UUID"})
		return uuid.Nil, false
	}
	return id, true
}

// queryLimit reads ?limit=, clamped to [1, max]
func queryLimit(c *gin.Context, def, max int) int {
	n, err := strconv.Atoi(c.Query("limit"))
	if err != nil || n < 1 {
		return def
	}
	if n > max {
		return max
	}
	return n
}
