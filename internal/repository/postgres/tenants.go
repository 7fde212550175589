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

type tenantRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewTenantRepository creates a new tenant repository
func NewTenantRepository(db *sql.DB, logger *zap.Logger) *tenantRepository {
	return &tenantRepository{
		db:     db,
		logger: logger,
	}
}

const tenantColumns = `id, shop_domain, access_token, scope, webhook_secret, is_active, created_at, updated_at`

func scanTenant(row interface{ Scan(...any) error }) (*domain.Tenant, error) {
	var t domain.Tenant
	var secret sql.NullString
	if err := row.Scan(&t.ID, &t.ShopDomain, &t.AccessToken, &t.Scope, &secret, &t.IsActive, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	if secret.Valid && secret.String != "" {
		t.WebhookSecret = &secret.String
	}
	return &t, nil
}

func (r *tenantRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Tenant, error) {
	query := `SELECT ` + tenantColumns + ` FROM tenants WHERE id = $1`
	t, err := scanTenant(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, &errors.ErrNotFound{Resource: "tenant", ID: id.String()}
	}
	if err != nil {
		r.logger.Error("Failed to get tenant", zap.Error(err), zap.String("tenant_id", id.String()))
		return nil, err
	}
	return t, nil
}

func (r *tenantRepository) GetByShopDomain(ctx context.Context, shopDomain string) (*domain.Tenant, error) {
	query := `SELECT ` + tenantColumns + ` FROM tenants WHERE shop_domain = $1`
	t, err := scanTenant(r.db.QueryRowContext(ctx, query, shopDomain))
	if err == sql.ErrNoRows {
		return nil, &errors.ErrNotFound{Resource: "tenant", ID: shopDomain}
	}
	if err != nil {
		r.logger.Error("Failed to get tenant by shop domain", zap.Error(err), zap.String("shop_domain", shopDomain))
		return nil, err
	}
	return t, nil
}

func (r *tenantRepository) List(ctx context.Context) ([]*domain.Tenant, error) {
	query := `SELECT ` + tenantColumns + ` FROM tenants ORDER BY shop_domain ASC`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		r.logger.Error("Failed to list tenants", zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *tenantRepository) Upsert(ctx context.Context, t *domain.Tenant) error {
	query := `
		INSERT INTO tenants (id, shop_domain, access_token, scope, webhook_secret, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (shop_domain) DO UPDATE SET
			access_token = EXCLUDED.access_token,
			scope = EXCLUDED.scope,
			webhook_secret = COALESCE(EXCLUDED.webhook_secret, tenants.webhook_secret),
			is_active = EXCLUDED.is_active,
			updated_at = EXCLUDED.updated_at
		RETURNING id, created_at
	`
	now := time.Now()
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now

	err := r.db.QueryRowContext(ctx, query,
		t.ID, t.ShopDomain, t.AccessToken, t.Scope, t.WebhookSecret, t.IsActive, t.CreatedAt, t.UpdatedAt,
	).Scan(&t.ID, &t.CreatedAt)
	if err != nil {
		r.logger.Error("Failed to upsert tenant", zap.Error(err), zap.String("shop_domain", t.ShopDomain))
		return err
	}
	return nil
}

func (r *tenantRepository) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	query := `UPDATE tenants SET is_active = $1, updated_at = $2 WHERE id = $3`
	res, err := r.db.ExecContext(ctx, query, active, time.Now(), id)
	if err != nil {
		r.logger.Error("Failed to update tenant active flag", zap.Error(err), zap.String("tenant_id", id.String()))
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &errors.ErrNotFound{Resource: "tenant", ID: id.String()}
	}
	return nil
}
