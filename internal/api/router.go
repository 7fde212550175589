package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jafarshop/catalogsync/internal/api/handlers"
	"github.com/jafarshop/catalogsync/internal/api/middleware"
	"github.com/jafarshop/catalogsync/internal/config"
	"github.com/jafarshop/catalogsync/internal/repository"
	"github.com/jafarshop/catalogsync/internal/service"
	"github.com/jafarshop/catalogsync/internal/worker"
)

// Services are the dependencies the HTTP layer dispatches to
type Services struct {
	Repos    *repository.Repositories
	Sync     *service.SyncService
	Webhooks *service.WebhookService
	Tenants  *service.TenantService
	Pools    []*worker.Pool
}

// NewRouter creates and configures the Gin router
func NewRouter(cfg *config.Config, svc Services, logger *zap.Logger) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Middleware
	router.Use(customRecovery(logger))
	router.Use(loggingMiddleware(logger))

	// Root: friendly response so GET / returns 200 instead of 404
	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"service": "Catalog Sync",
			"endpoints": []string{
				"GET /health",
				"POST /webhooks/shopify",
				"GET /oauth/install?shop=",
				"GET /oauth/callback",
				"POST /v1/tenants",
				"POST /v1/tenants/:id/sync-jobs",
				"GET /v1/sync-jobs/:id",
			},
		})
	})

	// Health check
	router.GET("/health", func(c *gin.Context) {
		stats := make([]worker.Stats, 0, len(svc.Pools))
		for _, p := range svc.Pools {
			stats = append(stats, p.Stats())
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "workers": stats})
	})

	// Vendor push notifications, authenticated by HMAC rather than API key
	router.POST(service.WebhookPath, handlers.HandleShopifyWebhook(svc.Webhooks, logger))

	// App install handshake
	oauth := router.Group("/oauth")
	{
		oauth.GET("/install", handlers.HandleOAuthInstall(svc.Tenants, cfg.IsProduction(), logger))
		oauth.GET("/callback", handlers.HandleOAuthCallback(svc.Tenants, logger))
	}

	// API v1 routes (operator only)
	v1 := router.Group("/v1")
	v1.Use(middleware.OperatorAuthMiddleware(cfg.OperatorAPIKeyHash, logger))
	{
		v1.POST("/tenants", handlers.HandleRegisterTenant(svc.Tenants, logger))
		v1.GET("/tenants", handlers.HandleListTenants(svc.Tenants, logger))
		v1.GET("/tenants/:id", handlers.HandleGetTenant(svc.Tenants, logger))
		v1.POST("/tenants/:id/disconnect", handlers.HandleDisconnectTenant(svc.Tenants, logger))
		v1.POST("/tenants/:id/webhooks", handlers.HandleEnsureWebhooks(svc.Tenants, logger))
		v1.GET("/tenants/:id/quota", handlers.HandleGetQuota(svc.Tenants, logger))
		v1.GET("/tenants/:id/catalog", handlers.HandleListCatalogItems(svc.Repos, logger))

		v1.POST("/tenants/:id/sync-jobs", handlers.HandleStartSyncJob(svc.Sync, logger))
		v1.GET("/tenants/:id/sync-jobs", handlers.HandleListSyncJobs(svc.Sync, logger))
		v1.GET("/sync-jobs/:id", handlers.HandleGetSyncJob(svc.Sync, logger))
		v1.POST("/sync-jobs/:id/cancel", handlers.HandleCancelSyncJob(svc.Sync, logger))

		v1.GET("/tenants/:id/webhook-events", handlers.HandleListWebhookEvents(svc.Webhooks, logger))
		v1.POST("/webhook-events/:id/replay", handlers.HandleReplayWebhookEvent(svc.Webhooks, logger))
	}

	return router
}

// customRecovery is a custom recovery middleware that logs panics
func customRecovery(logger *zap.Logger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logger.Error("Panic recovered",
			zap.Any("error", recovered),
			zap.String("path", c.Request.URL.Path),
			zap.String("method", c.Request.Method),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal server error",
			"details": fmt.Sprintf("%v", recovered),
		})
	})
}

// loggingMiddleware logs HTTP requests
func loggingMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		status := c.Writer.Status()
		logger.Info("HTTP request",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
		)
	}
}
