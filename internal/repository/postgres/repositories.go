package postgres

import (
	"database/sql"

	"go.uber.org/zap"

	"github.com/jafarshop/catalogsync/internal/repository"
)

// NewRepositories creates a new set of repositories
func NewRepositories(db *sql.DB, logger *zap.Logger) *repository.Repositories {
	return &repository.Repositories{
		Tenant:       NewTenantRepository(db, logger),
		SyncJob:      NewSyncJobRepository(db, logger),
		CatalogItem:  NewCatalogItemRepository(db, logger),
		VendorOrder:  NewVendorOrderRepository(db, logger),
		WebhookEvent: NewWebhookEventRepository(db, logger),
	}
}
