package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jafarshop/catalogsync/internal/api"
	"github.com/jafarshop/catalogsync/internal/config"
	applog "github.com/jafarshop/catalogsync/internal/logger"
	"github.com/jafarshop/catalogsync/internal/quota"
	"github.com/jafarshop/catalogsync/internal/repository"
	"github.com/jafarshop/catalogsync/internal/repository/memory"
	"github.com/jafarshop/catalogsync/internal/repository/postgres"
	"github.com/jafarshop/catalogsync/internal/service"
	"github.com/jafarshop/catalogsync/internal/shopify"
	"github.com/jafarshop/catalogsync/internal/worker"
)

const (
	shutdownTimeout = 30 * time.Second
	quotaTTL        = 24 * time.Hour
)

func main() {
	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	logger, err := applog.New(cfg.LogLevel, cfg.Environment)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("Starting catalog sync server",
		zap.String("port", cfg.Port),
		zap.String("environment", cfg.Environment),
		zap.String("store", cfg.StoreDriver),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("Server exited with error", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
	logger.Info("Server exited")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	repos, closeStore, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	recorder, closeRecorder, err := openRecorder(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeRecorder()

	clients := service.NewShopifyClients(cfg.Shopify, cfg.RateLimit, recorder, logger)
	syncPool := worker.NewPool("sync", cfg.Sync.Workers, cfg.Sync.QueueSize, logger)
	hookPool := worker.NewPool("webhooks", cfg.Webhooks.Workers, cfg.Webhooks.QueueSize, logger)

	syncSvc := service.NewSyncService(repos, clients.Factory(), syncPool, recorder, service.SyncOptions{
		PageSize:      cfg.Sync.PageSize,
		ProgressEvery: cfg.Sync.ProgressEvery,
		OrderWindow:   cfg.Sync.OrderWindow,
	}, logger)

	var oauth service.OAuthProvider
	if cfg.Shopify.ClientID != "" && cfg.Shopify.ClientSecret != "" {
		oauth = shopify.NewOAuthClient(cfg.Shopify.ClientID, cfg.Shopify.ClientSecret, cfg.Shopify.Scopes, logger)
	} else {
		logger.Warn("SHOPIFY_CLIENT_ID/SHOPIFY_CLIENT_SECRET not set, OAuth install is disabled")
	}
	tenants := service.NewTenantService(repos, clients.Factory(), oauth, syncSvc, recorder, cfg.AppBaseURL, logger)
	tenants.OnDisconnect(clients.Forget)

	if cfg.Shopify.WebhookSecret == "" {
		logger.Warn("SHOPIFY_WEBHOOK_SECRET not set, only tenants with their own webhook secret can deliver webhooks")
	}
	webhooks := service.NewWebhookService(repos, hookPool, syncSvc, cfg.Shopify.WebhookSecret, logger)
	webhooks.OnUninstall(clients.Forget)

	router := api.NewRouter(cfg, api.Services{
		Repos:    repos,
		Sync:     syncSvc,
		Webhooks: webhooks,
		Tenants:  tenants,
		Pools:    []*worker.Pool{syncPool, hookPool},
	}, logger)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Workers outlive the signal so in-flight jobs can finish during shutdown
	syncPool.Start(context.Background())
	hookPool.Start(context.Background())

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("HTTP server listening", zap.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	for _, p := range []*worker.Pool{syncPool, hookPool} {
		p := p
		g.Go(func() error {
			for res := range p.Results() {
				if res.Err == nil {
					logger.Debug("Task finished", zap.String("task", res.Task), zap.Duration("duration", res.Duration))
				}
			}
			return nil
		})
	}

	if cfg.Sync.ScheduleInterval > 0 {
		g.Go(func() error {
			logger.Info("Scheduled incremental sync enabled", zap.Duration("interval", cfg.Sync.ScheduleInterval))
			syncSvc.RunScheduledSyncLoop(gctx, cfg.Sync.ScheduleInterval)
			return nil
		})
	}

	// Wait for interrupt signal (or a failed component) to gracefully shutdown
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server forced to shutdown", zap.Error(err))
		}
		if err := hookPool.Stop(shutdownCtx); err != nil {
			logger.Warn("Webhook workers did not drain in time", zap.Error(err))
		}
		if err := syncPool.Stop(shutdownCtx); err != nil {
			logger.Warn("Sync workers did not drain in time", zap.Error(err))
		}
		return nil
	})

	return g.Wait()
}

func openStore(cfg *config.Config, logger *zap.Logger) (*repository.Repositories, func(), error) {
	if cfg.StoreDriver == config.StoreDriverMemory {
		logger.Warn("Using in-memory store, all data is lost on restart")
		return memory.NewRepositories(), func() {}, nil
	}

	// Initialize database
	db, err := postgres.NewConnection(cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to database: %w", err)
	}

	// Run migrations
	if err := postgres.RunMigrations(cfg.Database, cfg.MigrationsPath, logger); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("run migrations: %w", err)
	}

	return postgres.NewRepositories(db, logger), func() { db.Close() }, nil
}

func openRecorder(ctx context.Context, cfg *config.Config, logger *zap.Logger) (quota.Recorder, func(), error) {
	if cfg.RedisURL == "" {
		logger.Info("REDIS_URL not set, quota snapshots kept in memory")
		return quota.NewMemoryRecorder(), func() {}, nil
	}
	client, err := quota.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to redis: %w", err)
	}
	return quota.NewRedisRecorder(client, quotaTTL, logger), func() { client.Close() }, nil
}
