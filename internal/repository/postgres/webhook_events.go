package postgres

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jafarshop/catalogsync/internal/domain"
	"github.com/jafarshop/catalogsync/internal/repository"
	"github.com/jafarshop/catalogsync/pkg/errors"
)

const webhookEventColumns = `id, tenant_id, event_type, vendor_resource_id, vendor_webhook_id, payload, processed, processed_at, error_message, retry_count, created_at`

type webhookEventRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewWebhookEventRepository creates a new webhook event repository
func NewWebhookEventRepository(db *sql.DB, logger *zap.Logger) *webhookEventRepository {
	return &webhookEventRepository{db: db, logger: logger}
}

func scanWebhookEvent(row interface{ Scan(...any) error }) (*domain.WebhookEvent, error) {
	var e domain.WebhookEvent
	var webhookID, errMsg sql.NullString
	var processedAt sql.NullTime
	var payload []byte
	err := row.Scan(
		&e.ID, &e.TenantID, &e.EventType, &e.VendorResourceID, &webhookID, &payload,
		&e.Processed, &processedAt, &errMsg, &e.RetryCount, &e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	e.Payload = payload
	if webhookID.Valid {
		e.VendorWebhookID = &webhookID.String
	}
	if processedAt.Valid {
		e.ProcessedAt = &processedAt.Time
	}
	if errMsg.Valid {
		e.ErrorMessage = &errMsg.String
	}
	return &e, nil
}

func (r *webhookEventRepository) Create(ctx context.Context, e *domain.WebhookEvent) error {
	query := `
		INSERT INTO webhook_events (id, tenant_id, event_type, vendor_resource_id, vendor_webhook_id, payload, processed, retry_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, false, 0, $7)
	`
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	e.Processed = false

	_, err := r.db.ExecContext(ctx, query, e.ID, e.TenantID, e.EventType, e.VendorResourceID, e.VendorWebhookID, []byte(e.Payload), e.CreatedAt)
	if err != nil {
		r.logger.Error("Failed to create webhook event", zap.Error(err), zap.String("tenant_id", e.TenantID.String()), zap.String("event_type", string(e.EventType)))
		return err
	}
	return nil
}

func (r *webhookEventRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.WebhookEvent, error) {
	query := `SELECT ` + webhookEventColumns + ` FROM webhook_events WHERE id = $1`
	e, err := scanWebhookEvent(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, &errors.ErrNotFound{Resource: "webhook_event", ID: id.String()}
	}
	if err != nil {
		r.logger.Error("Failed to get webhook event", zap.Error(err), zap.String("event_id", id.String()))
		return nil, err
	}
	return e, nil
}

func (r *webhookEventRepository) MarkProcessed(ctx context.Context, id uuid.UUID, processedAt time.Time) error {
	query := `UPDATE webhook_events SET processed = true, processed_at = $1, error_message = NULL WHERE id = $2`
	if _, err := r.db.ExecContext(ctx, query, processedAt, id); err != nil {
		r.logger.Error("Failed to mark webhook event processed", zap.Error(err), zap.String("event_id", id.String()))
		return err
	}
	return nil
}

func (r *webhookEventRepository) MarkFailed(ctx context.Context, id uuid.UUID, errMsg string) error {
	query := `UPDATE webhook_events SET processed = false, error_message = $1, retry_count = retry_count + 1 WHERE id = $2`
	if _, err := r.db.ExecContext(ctx, query, errMsg, id); err != nil {
		r.logger.Error("Failed to mark webhook event failed", zap.Error(err), zap.String("event_id", id.String()))
		return err
	}
	return nil
}

func (r *webhookEventRepository) List(ctx context.Context, tenantID uuid.UUID, filter repository.WebhookEventFilter) ([]*domain.WebhookEvent, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	conds := []string{"tenant_id = $1"}
	if filter.OnlyFailed {
		conds = append(conds, "processed = false", "error_message IS NOT NULL")
	} else if filter.OnlyUnprocessed {
		conds = append(conds, "processed = false")
	}
	query := `SELECT ` + webhookEventColumns + ` FROM webhook_events WHERE ` + strings.Join(conds, " AND ") +
		` ORDER BY created_at DESC LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, tenantID, limit)
	if err != nil {
		r.logger.Error("Failed to list webhook events", zap.Error(err), zap.String("tenant_id", tenantID.String()))
		return nil, err
	}
	defer rows.Close()

	var out []*domain.WebhookEvent
	for rows.Next() {
		e, err := scanWebhookEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
