package postgres

import (
	"context"
	"database/sql"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jafarshop/catalogsync/internal/domain"
	"github.com/jafarshop/catalogsync/pkg/errors"
)

type vendorOrderRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewVendorOrderRepository creates a new vendor order repository
func NewVendorOrderRepository(db *sql.DB, logger *zap.Logger) *vendorOrderRepository {
	return &vendorOrderRepository{db: db, logger: logger}
}

func (r *vendorOrderRepository) UpsertByKey(ctx context.Context, o *domain.VendorOrder) error {
	query := `
		INSERT INTO vendor_orders (
			id, tenant_id, vendor_order_id, name, email, financial_status, fulfillment_status,
			currency, total_price, line_item_count, vendor_created_at, vendor_updated_at, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (tenant_id, vendor_order_id) DO UPDATE SET
			name = EXCLUDED.name,
			email = EXCLUDED.email,
			financial_status = EXCLUDED.financial_status,
			fulfillment_status = EXCLUDED.fulfillment_status,
			currency = EXCLUDED.currency,
			total_price = EXCLUDED.total_price,
			line_item_count = EXCLUDED.line_item_count,
			vendor_created_at = EXCLUDED.vendor_created_at,
			vendor_updated_at = EXCLUDED.vendor_updated_at,
			updated_at = EXCLUDED.updated_at
		RETURNING id, created_at
	`
	now := time.Now()
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	o.UpdatedAt = now

	err := r.db.QueryRowContext(ctx, query,
		o.ID, o.TenantID, o.VendorOrderID, o.Name, o.Email, o.FinancialStatus, o.FulfillmentStatus,
		o.Currency, o.TotalPrice, o.LineItemCount, o.VendorCreatedAt, o.VendorUpdatedAt, o.CreatedAt, o.UpdatedAt,
	).Scan(&o.ID, &o.CreatedAt)
	if err != nil {
		r.logger.Error("Failed to upsert vendor order", zap.Error(err), zap.String("tenant_id", o.TenantID.String()), zap.Int64("vendor_order_id", o.VendorOrderID))
		return err
	}
	return nil
}

func (r *vendorOrderRepository) GetByVendorID(ctx context.Context, tenantID uuid.UUID, vendorOrderID int64) (*domain.VendorOrder, error) {
	query := `
		SELECT id, tenant_id, vendor_order_id, name, email, financial_status, fulfillment_status,
			currency, total_price, line_item_count, vendor_created_at, vendor_updated_at, created_at, updated_at
		FROM vendor_orders
		WHERE tenant_id = $1 AND vendor_order_id = $2
	`
	var o domain.VendorOrder
	var email, financial, fulfillment sql.NullString
	var vendorCreated, vendorUpdated sql.NullTime
	err := r.db.QueryRowContext(ctx, query, tenantID, vendorOrderID).Scan(
		&o.ID, &o.TenantID, &o.VendorOrderID, &o.Name, &email, &financial, &fulfillment,
		&o.Currency, &o.TotalPrice, &o.LineItemCount, &vendorCreated, &vendorUpdated, &o.CreatedAt, &o.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, &errors.ErrNotFound{Resource: "vendor_order", ID: strconv.FormatInt(vendorOrderID, 10)}
	}
	if err != nil {
		r.logger.Error("Failed to get vendor order", zap.Error(err), zap.String("tenant_id", tenantID.String()), zap.Int64("vendor_order_id", vendorOrderID))
		return nil, err
	}
	if email.Valid {
		o.Email = &email.String
	}
	if financial.Valid {
		o.FinancialStatus = &financial.String
	}
	if fulfillment.Valid {
		o.FulfillmentStatus = &fulfillment.String
	}
	if vendorCreated.Valid {
		o.VendorCreatedAt = &vendorCreated.Time
	}
	if vendorUpdated.Valid {
		o.VendorUpdatedAt = &vendorUpdated.Time
	}
	return &o, nil
}
