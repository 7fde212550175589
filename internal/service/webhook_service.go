package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jafarshop/catalogsync/internal/catalog"
	"github.com/jafarshop/catalogsync/internal/domain"
	"github.com/jafarshop/catalogsync/internal/repository"
	"github.com/jafarshop/catalogsync/internal/shopify"
	"github.com/jafarshop/catalogsync/internal/worker"
	"github.com/jafarshop/catalogsync/pkg/errors"
)

var (
	ErrSignatureInvalid = stderrors.New("invalid webhook signature")
	ErrUnknownTenant    = stderrors.New("webhook for unknown tenant")
	ErrUnsupportedTopic = stderrors.New("unsupported webhook topic")
	// ErrInactiveTenant is returned for a known shop that was disconnected or uninstalled
	ErrInactiveTenant = stderrors.New("webhook for disconnected tenant")
)

// Delivery is one inbound push notification as received over HTTP
type Delivery struct {
	Body       []byte
	Signature  string // X-Shopify-Hmac-Sha256
	ShopDomain string // X-Shopify-Shop-Domain
	Topic      string // X-Shopify-Topic
	WebhookID  string // X-Shopify-Webhook-Id
}

// JobCanceller stops a tenant's in-flight sync
type JobCanceller interface {
	CancelTenantJobs(ctx context.Context, tenantID uuid.UUID, reason string) (int, error)
}

// WebhookService verifies, records and applies vendor webhooks
type WebhookService struct {
	repos     *repository.Repositories
	pool      *worker.Pool
	jobs      JobCanceller
	appSecret string
	logger    *zap.Logger
	now       func() time.Time
	// onUninstall, when set, runs after a tenant was deactivated by app/uninstalled
	onUninstall func(tenantID uuid.UUID)
}

func NewWebhookService(repos *repository.Repositories, pool *worker.Pool, jobs JobCanceller, appSecret string, logger *zap.Logger) *WebhookService {
	return &WebhookService{
		repos:     repos,
		pool:      pool,
		jobs:      jobs,
		appSecret: strings.TrimSpace(appSecret),
		logger:    logger,
		now:       time.Now,
	}
}

// OnUninstall registers a hook run after app/uninstalled is applied
func (s *WebhookService) OnUninstall(fn func(tenantID uuid.UUID)) {
	s.onUninstall = fn
}

// Receive authenticates a delivery and persists it as an unprocessed event.
// The event is applied asynchronously. Nothing is parsed or stored before the
// signature has been verified.
func (s *WebhookService) Receive(ctx context.Context, d Delivery) (*domain.WebhookEvent, error) {
	shop := shopify.NormalizeShopDomain(d.ShopDomain)
	if strings.TrimSpace(d.Signature) == "" {
		s.securityEvent("missing signature", shop, d.Topic)
		return nil, ErrSignatureInvalid
	}

	var tenant *domain.Tenant
	if shop != "" {
		t, err := s.repos.Tenant.GetByShopDomain(ctx, shop)
		var nf *errors.ErrNotFound
		switch {
		case err == nil:
			tenant = t
		case stderrors.As(err, &nf):
		default:
			return nil, fmt.Errorf("lookup tenant: %w", err)
		}
	}

	secret := s.appSecret
	if tenant != nil && tenant.WebhookSecret != nil && *tenant.WebhookSecret != "" {
		secret = *tenant.WebhookSecret
	}
	if secret == "" || !VerifyWebhookSignature(secret, d.Body, d.Signature) {
		s.securityEvent("signature mismatch", shop, d.Topic)
		return nil, ErrSignatureInvalid
	}

	if tenant == nil {
		s.logger.Info("Webhook for unknown tenant ignored", zap.String("shop_domain", shop), zap.String("topic", d.Topic))
		return nil, ErrUnknownTenant
	}
	topic, ok := domain.ParseVendorTopic(strings.TrimSpace(d.Topic))
	if !ok {
		s.logger.Info("Unsupported webhook topic ignored", zap.String("shop_domain", shop), zap.String("topic", d.Topic))
		return nil, ErrUnsupportedTopic
	}
	if !tenant.IsActive && topic != domain.WebhookTopicAppUninstalled {
		s.logger.Info("Webhook for disconnected tenant ignored", zap.String("shop_domain", shop), zap.String("topic", d.Topic))
		return nil, ErrInactiveTenant
	}

	var head struct {
		ID int64 `json:"id"`
	}
	if err := json.Unmarshal(d.Body, &head); err != nil {
		return nil, &errors.ErrValidation{Message: "invalid JSON payload: " + err.Error()}
	}
	if head.ID == 0 && topic != domain.WebhookTopicAppUninstalled {
		return nil, &errors.ErrValidation{Message: "payload is missing id"}
	}

	event := &domain.WebhookEvent{
		TenantID:         tenant.ID,
		EventType:        topic,
		VendorResourceID: head.ID,
		Payload:          json.RawMessage(d.Body),
	}
	if id := strings.TrimSpace(d.WebhookID); id != "" {
		event.VendorWebhookID = &id
	}
	if err := s.repos.WebhookEvent.Create(ctx, event); err != nil {
		return nil, fmt.Errorf("store webhook event: %w", err)
	}

	eventID := event.ID
	err := s.pool.Submit(worker.Task{
		Name: "webhook_event:" + eventID.String(),
		Run: func(ctx context.Context) error {
			_, err := s.Apply(ctx, eventID)
			return err
		},
		OnError: func(err error) {
			var perr *worker.PanicError
			if stderrors.As(err, &perr) {
				s.markFailed(eventID, err)
			}
		},
	})
	if err != nil {
		s.markFailed(eventID, fmt.Errorf("could not schedule processing: %w", err))
	}

	s.logger.Info("Webhook event received",
		zap.String("event_id", eventID.String()),
		zap.String("tenant_id", tenant.ID.String()),
		zap.String("event_type", string(topic)),
		zap.Int64("vendor_resource_id", head.ID),
	)
	return event, nil
}

// Apply processes a stored event against the catalog and records the outcome.
// Safe to repeat: every write is an upsert keyed by natural key.
func (s *WebhookService) Apply(ctx context.Context, eventID uuid.UUID) (*domain.WebhookEvent, error) {
	event, err := s.repos.WebhookEvent.GetByID(ctx, eventID)
	if err != nil {
		return nil, err
	}

	if applyErr := s.apply(ctx, event); applyErr != nil {
		s.markFailed(eventID, applyErr)
		updated, err := s.repos.WebhookEvent.GetByID(context.WithoutCancel(ctx), eventID)
		if err != nil {
			return nil, applyErr
		}
		return updated, applyErr
	}

	if err := s.repos.WebhookEvent.MarkProcessed(ctx, eventID, s.now()); err != nil {
		return nil, fmt.Errorf("mark event processed: %w", err)
	}
	s.logger.Info("Webhook event applied",
		zap.String("event_id", eventID.String()),
		zap.String("tenant_id", event.TenantID.String()),
		zap.String("event_type", string(event.EventType)),
	)
	return s.repos.WebhookEvent.GetByID(ctx, eventID)
}

// Replay re-applies a stored event on the caller's goroutine
func (s *WebhookService) Replay(ctx context.Context, eventID uuid.UUID) (*domain.WebhookEvent, error) {
	s.logger.Info("Replaying webhook event", zap.String("event_id", eventID.String()))
	return s.Apply(ctx, eventID)
}

// ListEvents returns a tenant's recent events, newest first
func (s *WebhookService) ListEvents(ctx context.Context, tenantID uuid.UUID, filter repository.WebhookEventFilter) ([]*domain.WebhookEvent, error) {
	return s.repos.WebhookEvent.List(ctx, tenantID, filter)
}

func (s *WebhookService) apply(ctx context.Context, e *domain.WebhookEvent) error {
	// events queued or replayed after a disconnect must not touch the catalog
	if e.EventType != domain.WebhookTopicAppUninstalled {
		tenant, err := s.repos.Tenant.GetByID(ctx, e.TenantID)
		if err != nil {
			return fmt.Errorf("load tenant: %w", err)
		}
		if !tenant.IsActive {
			return ErrInactiveTenant
		}
	}

	switch e.EventType {
	case domain.WebhookTopicProductCreate, domain.WebhookTopicProductUpdate:
		var p shopify.Product
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return fmt.Errorf("decode product: %w", err)
		}
		var firstErr error
		failed := 0
		for _, item := range catalog.ItemsFromProduct(e.TenantID, p) {
			item := item
			if err := s.repos.CatalogItem.UpsertByKey(ctx, &item); err != nil {
				failed++
				if firstErr == nil {
					firstErr = &ItemUpsertFailedError{SKU: item.SKU, Err: err}
				}
			}
		}
		if firstErr != nil {
			return fmt.Errorf("%d of %d variants failed: %w", failed, len(p.Variants), firstErr)
		}
		return nil

	case domain.WebhookTopicProductDelete:
		n, err := s.repos.CatalogItem.MarkProductDeleted(ctx, e.TenantID, e.VendorResourceID)
		if err != nil {
			return fmt.Errorf("mark product deleted: %w", err)
		}
		s.logger.Debug("Catalog items marked deleted", zap.Int64("vendor_product_id", e.VendorResourceID), zap.Int64("rows", n))
		return nil

	case domain.WebhookTopicOrderCreate, domain.WebhookTopicOrderUpdate:
		var o shopify.Order
		if err := json.Unmarshal(e.Payload, &o); err != nil {
			return fmt.Errorf("decode order: %w", err)
		}
		order := catalog.OrderFromVendor(e.TenantID, o)
		if err := s.repos.VendorOrder.UpsertByKey(ctx, &order); err != nil {
			return fmt.Errorf("upsert order %d: %w", o.ID, err)
		}
		return nil

	case domain.WebhookTopicAppUninstalled:
		if err := s.repos.Tenant.SetActive(ctx, e.TenantID, false); err != nil {
			return fmt.Errorf("deactivate tenant: %w", err)
		}
		if s.jobs != nil {
			if _, err := s.jobs.CancelTenantJobs(ctx, e.TenantID, "app uninstalled"); err != nil {
				return fmt.Errorf("cancel tenant jobs: %w", err)
			}
		}
		if s.onUninstall != nil {
			s.onUninstall(e.TenantID)
		}
		s.logger.Info("Tenant deactivated after app uninstall", zap.String("tenant_id", e.TenantID.String()))
		return nil

	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedTopic, e.EventType)
	}
}

func (s *WebhookService) markFailed(eventID uuid.UUID, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.repos.WebhookEvent.MarkFailed(ctx, eventID, cause.Error()); err != nil {
		s.logger.Error("Failed to mark webhook event failed", zap.String("event_id", eventID.String()), zap.Error(err), zap.NamedError("cause", cause))
		return
	}
	s.logger.Warn("Webhook event failed", zap.String("event_id", eventID.String()), zap.Error(cause))
}

func (s *WebhookService) securityEvent(reason, shop, topic string) {
	s.logger.Warn("Webhook rejected",
		zap.Bool("security_event", true),
		zap.String("reason", reason),
		zap.String("shop_domain", shop),
		zap.String("topic", topic),
	)
}

// VerifyWebhookSignature checks header against HMAC-SHA256(secret, body). The
// header is normally base64; hex is accepted as well. Comparison is constant time.
func VerifyWebhookSignature(secret string, body []byte, header string) bool {
	header = strings.TrimSpace(header)
	if secret == "" || header == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)
	expected := mac.Sum(nil)

	if got, err := base64.StdEncoding.DecodeString(header); err == nil && len(got) == len(expected) {
		return hmac.Equal(expected, got)
	}
	if got, err := hex.DecodeString(header); err == nil {
		return hmac.Equal(expected, got)
	}
	return false
}

// SignWebhook returns the base64 signature a vendor would send for body
func SignWebhook(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
