package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/jafarshop/catalogsync/internal/config"
	"github.com/jafarshop/catalogsync/internal/quota"
	"github.com/jafarshop/catalogsync/internal/repository/postgres"
	"github.com/jafarshop/catalogsync/internal/service"
	"github.com/jafarshop/catalogsync/internal/shopify"
)

func main() {
	tenantIDStr := flag.String("tenant-id", "", "Tenant UUID")
	shop := flag.String("shop", "", "Shop domain (alternative to --tenant-id)")
	flag.Parse()

	if *tenantIDStr == "" && *shop == "" {
		fmt.Fprintf(os.Stderr, "Usage: go run cmd/register-webhooks/main.go --tenant-id <uuid> | --shop <shop>.myshopify.com\n")
		os.Exit(1)
	}

	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if cfg.AppBaseURL == "" {
		fmt.Fprintf(os.Stderr, "APP_BASE_URL must be set to the public address of the server\n")
		os.Exit(1)
	}

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	db, err := postgres.NewConnection(cfg.Database)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()
	repos := postgres.NewRepositories(db, logger)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	var tenantID uuid.UUID
	if *tenantIDStr != "" {
		tenantID, err = uuid.Parse(*tenantIDStr)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid tenant ID: %v\n", err)
			os.Exit(1)
		}
	} else {
		tenant, err := repos.Tenant.GetByShopDomain(ctx, shopify.NormalizeShopDomain(*shop))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Tenant not found: %v\n", err)
			os.Exit(1)
		}
		tenantID = tenant.ID
	}

	clients := service.NewShopifyClients(cfg.Shopify, cfg.RateLimit, quota.NewMemoryRecorder(), logger)
	tenants := service.NewTenantService(repos, clients.Factory(), nil, nil, nil, cfg.AppBaseURL, logger)

	created, err := tenants.EnsureWebhooks(ctx, tenantID)
	for _, w := range created {
		fmt.Printf("✅ %s -> %s (id %d)\n", w.Topic, w.Address, w.ID)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to register webhooks: %v\n", err)
		os.Exit(1)
	}
	if len(created) == 0 {
		fmt.Println("All webhook topics already registered")
		return
	}
	fmt.Printf("Registered %d webhook(s) for tenant %s\n", len(created), tenantID)
}
