package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/jafarshop/catalogsync/internal/config"
	"github.com/jafarshop/catalogsync/internal/repository/postgres"
)

func main() {
	tenantIDStr := flag.String("tenant-id", "", "Tenant UUID")
	limit := flag.Int("limit", 100, "Maximum rows to print")
	offset := flag.Int("offset", 0, "Rows to skip")
	flag.Parse()

	tenantID, err := uuid.Parse(*tenantIDStr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Usage: go run cmd/list-catalog/main.go --tenant-id <uuid> [--limit N] [--offset N]\n")
		os.Exit(1)
	}

	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
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

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	tenant, err := repos.Tenant.GetByID(ctx, tenantID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Tenant not found: %v\n", err)
		os.Exit(1)
	}
	total, err := repos.CatalogItem.CountByTenant(ctx, tenantID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to count catalog items: %v\n", err)
		os.Exit(1)
	}
	items, err := repos.CatalogItem.ListByTenant(ctx, tenantID, *limit, *offset)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to list catalog items: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("📦 %s: %d catalog item(s)\n\n", tenant.ShopDomain, total)
	fmt.Printf("%-24s %-10s %10s %6s  %s\n", "SKU", "STATUS", "PRICE", "STOCK", "TITLE")
	fmt.Println(strings.Repeat("-", 80))
	for _, item := range items {
		title := item.Title
		if item.VariantTitle != nil && *item.VariantTitle != "" {
			title += " / " + *item.VariantTitle
		}
		fmt.Printf("%-24s %-10s %10.2f %6d  %s\n", item.SKU, item.Status, item.Price, item.InventoryLevel, title)
	}
	if *offset+len(items) < total {
		fmt.Printf("\n... %d more, use --offset %d\n", total-*offset-len(items), *offset+len(items))
	}
}
