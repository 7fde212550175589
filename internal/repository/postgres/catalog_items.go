package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jafarshop/catalogsync/internal/domain"
	"github.com/jafarshop/catalogsync/pkg/errors"
)

const catalogItemColumns = `id, tenant_id, vendor_product_id, vendor_variant_id, sku, title, variant_title, price, inventory_level, status, created_at, updated_at`

type catalogItemRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewCatalogItemRepository creates a new catalog item repository
func NewCatalogItemRepository(db *sql.DB, logger *zap.Logger) *catalogItemRepository {
	return &catalogItemRepository{db: db, logger: logger}
}

func scanCatalogItem(row interface{ Scan(...any) error }) (*domain.CatalogItem, error) {
	var it domain.CatalogItem
	var variantTitle sql.NullString
	err := row.Scan(
		&it.ID, &it.TenantID, &it.VendorProductID, &it.VendorVariantID, &it.SKU, &it.Title,
		&variantTitle, &it.Price, &it.InventoryLevel, &it.Status, &it.CreatedAt, &it.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if variantTitle.Valid {
		it.VariantTitle = &variantTitle.String
	}
	return &it, nil
}

// UpsertByKey writes the row keyed by (tenant_id, sku). The stored id and
// created_at survive repeated writes.
func (r *catalogItemRepository) UpsertByKey(ctx context.Context, it *domain.CatalogItem) error {
	query := `
		INSERT INTO catalog_items (id, tenant_id, vendor_product_id, vendor_variant_id, sku, title, variant_title, price, inventory_level, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (tenant_id, sku) DO UPDATE SET
			vendor_product_id = EXCLUDED.vendor_product_id,
			vendor_variant_id = EXCLUDED.vendor_variant_id,
			title = EXCLUDED.title,
			variant_title = EXCLUDED.variant_title,
			price = EXCLUDED.price,
			inventory_level = EXCLUDED.inventory_level,
			status = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at
		RETURNING id, created_at
	`
	now := time.Now()
	if it.ID == uuid.Nil {
		it.ID = uuid.New()
	}
	if it.CreatedAt.IsZero() {
		it.CreatedAt = now
	}
	it.UpdatedAt = now

	err := r.db.QueryRowContext(ctx, query,
		it.ID, it.TenantID, it.VendorProductID, it.VendorVariantID, it.SKU, it.Title,
		it.VariantTitle, it.Price, it.InventoryLevel, it.Status, it.CreatedAt, it.UpdatedAt,
	).Scan(&it.ID, &it.CreatedAt)
	if err != nil {
		r.logger.Error("Failed to upsert catalog item", zap.Error(err), zap.String("tenant_id", it.TenantID.String()), zap.String("sku", it.SKU))
		return err
	}
	return nil
}

func (r *catalogItemRepository) GetBySKU(ctx context.Context, tenantID uuid.UUID, sku string) (*domain.CatalogItem, error) {
	query := `SELECT ` + catalogItemColumns + ` FROM catalog_items WHERE tenant_id = $1 AND sku = $2`
	it, err := scanCatalogItem(r.db.QueryRowContext(ctx, query, tenantID, sku))
	if err == sql.ErrNoRows {
		return nil, &errors.ErrNotFound{Resource: "catalog_item", ID: sku}
	}
	if err != nil {
		r.logger.Error("Failed to get catalog item", zap.Error(err), zap.String("tenant_id", tenantID.String()), zap.String("sku", sku))
		return nil, err
	}
	return it, nil
}

func (r *catalogItemRepository) ListByTenant(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]*domain.CatalogItem, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + catalogItemColumns + ` FROM catalog_items WHERE tenant_id = $1 ORDER BY sku ASC LIMIT $2 OFFSET $3`
	rows, err := r.db.QueryContext(ctx, query, tenantID, limit, offset)
	if err != nil {
		r.logger.Error("Failed to list catalog items", zap.Error(err), zap.String("tenant_id", tenantID.String()))
		return nil, err
	}
	defer rows.Close()

	var out []*domain.CatalogItem
	for rows.Next() {
		it, err := scanCatalogItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (r *catalogItemRepository) CountByTenant(ctx context.Context, tenantID uuid.UUID) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM catalog_items WHERE tenant_id = $1`, tenantID).Scan(&n)
	if err != nil {
		r.logger.Error("Failed to count catalog items", zap.Error(err), zap.String("tenant_id", tenantID.String()))
		return 0, err
	}
	return n, nil
}

func (r *catalogItemRepository) MarkProductDeleted(ctx context.Context, tenantID uuid.UUID, vendorProductID int64) (int64, error) {
	query := `
		UPDATE catalog_items SET status = $1, updated_at = $2
		WHERE tenant_id = $3 AND vendor_product_id = $4
	`
	res, err := r.db.ExecContext(ctx, query, domain.ItemStatusDeleted, time.Now(), tenantID, vendorProductID)
	if err != nil {
		r.logger.Error("Failed to mark product deleted", zap.Error(err), zap.String("tenant_id", tenantID.String()), zap.Int64("vendor_product_id", vendorProductID))
		return 0, err
	}
	return res.RowsAffected()
}
