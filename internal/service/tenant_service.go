package service

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jafarshop/catalogsync/internal/domain"
	"github.com/jafarshop/catalogsync/internal/quota"
	"github.com/jafarshop/catalogsync/internal/repository"
	"github.com/jafarshop/catalogsync/internal/shopify"
	"github.com/jafarshop/catalogsync/pkg/errors"
)

// WebhookPath is where vendor webhooks are delivered, relative to the app base URL
const WebhookPath = "/webhooks/shopify"

var shopDomainPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*\.myshopify\.com$`)

// OAuthProvider is the app-install handshake
type OAuthProvider interface {
	AuthorizeURL(shopDomain, redirectURI, state string) string
	ExchangeCode(ctx context.Context, shopDomain, code string) (*shopify.AccessToken, error)
	VerifyQuery(q url.Values) bool
}

// RegisterInput connects a shop with a token obtained out of band
type RegisterInput struct {
	ShopDomain    string `json:"shop_domain" binding:"required"`
	AccessToken   string `json:"access_token" binding:"required"`
	Scope         string `json:"scope"`
	WebhookSecret string `json:"webhook_secret"`
	// SkipVerify skips the GET /shop.json credentials check
	SkipVerify bool `json:"skip_verify"`
}

// TenantService manages connected shops
type TenantService struct {
	repos      *repository.Repositories
	clients    ClientFactory
	oauth      OAuthProvider
	jobs       JobCanceller
	recorder   quota.Recorder
	appBaseURL string
	logger     *zap.Logger
	onRemove   func(tenantID uuid.UUID)
}

func NewTenantService(repos *repository.Repositories, clients ClientFactory, oauth OAuthProvider, jobs JobCanceller, recorder quota.Recorder, appBaseURL string, logger *zap.Logger) *TenantService {
	return &TenantService{
		repos:      repos,
		clients:    clients,
		oauth:      oauth,
		jobs:       jobs,
		recorder:   recorder,
		appBaseURL: strings.TrimRight(appBaseURL, "/"),
		logger:     logger,
	}
}

// OnDisconnect registers a hook run after a tenant was disconnected
func (s *TenantService) OnDisconnect(fn func(tenantID uuid.UUID)) {
	s.onRemove = fn
}

// ValidShopDomain reports whether shop looks like a *.myshopify.com domain
func ValidShopDomain(shop string) bool {
	return shopDomainPattern.MatchString(shop)
}

func (s *TenantService) Get(ctx context.Context, tenantID uuid.UUID) (*domain.Tenant, error) {
	return s.repos.Tenant.GetByID(ctx, tenantID)
}

func (s *TenantService) List(ctx context.Context) ([]*domain.Tenant, error) {
	return s.repos.Tenant.List(ctx)
}

// Register upserts a tenant by shop domain
func (s *TenantService) Register(ctx context.Context, in RegisterInput) (*domain.Tenant, error) {
	shop := strings.ToLower(shopify.NormalizeShopDomain(in.ShopDomain))
	if !ValidShopDomain(shop) {
		return nil, &errors.ErrValidation{Message: "invalid shop domain", Fields: map[string]string{"shop_domain": "must be <name>.myshopify.com"}}
	}
	token := strings.TrimSpace(in.AccessToken)
	if token == "" {
		return nil, &errors.ErrValidation{Message: "access token is required", Fields: map[string]string{"access_token": "required"}}
	}

	tenant := &domain.Tenant{
		ShopDomain:  shop,
		AccessToken: token,
		Scope:       strings.TrimSpace(in.Scope),
		IsActive:    true,
	}
	if secret := strings.TrimSpace(in.WebhookSecret); secret != "" {
		tenant.WebhookSecret = &secret
	}

	if !in.SkipVerify {
		info, err := s.clients(tenant).GetShop(ctx)
		if err != nil {
			return nil, fmt.Errorf("verify shop credentials: %w", err)
		}
		s.logger.Info("Shop credentials verified", zap.String("shop_domain", shop), zap.String("shop_name", info.Name), zap.String("plan", info.PlanName))
	}

	if err := s.repos.Tenant.Upsert(ctx, tenant); err != nil {
		return nil, err
	}
	s.logger.Info("Tenant registered", zap.String("tenant_id", tenant.ID.String()), zap.String("shop_domain", shop))
	return tenant, nil
}

// InstallURL returns where to send a merchant to grant access, plus the state nonce
func (s *TenantService) InstallURL(shopDomain string) (string, string, error) {
	if s.oauth == nil {
		return "", "", &errors.ErrValidation{Message: "oauth is not configured"}
	}
	shop := strings.ToLower(shopify.NormalizeShopDomain(shopDomain))
	if !ValidShopDomain(shop) {
		return "", "", &errors.ErrValidation{Message: "invalid shop domain", Fields: map[string]string{"shop": "must be <name>.myshopify.com"}}
	}
	state := uuid.NewString()
	return s.oauth.AuthorizeURL(shop, s.appBaseURL+"/oauth/callback", state), state, nil
}

// CompleteOAuth verifies the callback query, exchanges the code and stores the tenant
func (s *TenantService) CompleteOAuth(ctx context.Context, q url.Values) (*domain.Tenant, error) {
	if s.oauth == nil {
		return nil, &errors.ErrValidation{Message: "oauth is not configured"}
	}
	if !s.oauth.VerifyQuery(q) {
		s.logger.Warn("OAuth callback rejected", zap.Bool("security_event", true), zap.String("shop", q.Get("shop")))
		return nil, &errors.ErrUnauthorized{Message: "invalid oauth hmac"}
	}
	shop := strings.ToLower(shopify.NormalizeShopDomain(q.Get("shop")))
	code := strings.TrimSpace(q.Get("code"))
	if !ValidShopDomain(shop) || code == "" {
		return nil, &errors.ErrValidation{Message: "shop and code are required"}
	}

	tok, err := s.oauth.ExchangeCode(ctx, shop, code)
	if err != nil {
		return nil, fmt.Errorf("exchange oauth code: %w", err)
	}
	tenant := &domain.Tenant{
		ShopDomain:  shop,
		AccessToken: tok.AccessToken,
		Scope:       tok.Scope,
		IsActive:    true,
	}
	if err := s.repos.Tenant.Upsert(ctx, tenant); err != nil {
		return nil, err
	}
	s.logger.Info("Tenant connected via OAuth", zap.String("tenant_id", tenant.ID.String()), zap.String("shop_domain", shop), zap.String("scope", tok.Scope))

	if _, err := s.EnsureWebhooks(ctx, tenant.ID); err != nil {
		s.logger.Warn("Webhook registration after install failed", zap.String("tenant_id", tenant.ID.String()), zap.Error(err))
	}
	return tenant, nil
}

// Disconnect deactivates the tenant and cancels its active sync job
func (s *TenantService) Disconnect(ctx context.Context, tenantID uuid.UUID) (*domain.Tenant, error) {
	if err := s.repos.Tenant.SetActive(ctx, tenantID, false); err != nil {
		return nil, err
	}
	if s.jobs != nil {
		if _, err := s.jobs.CancelTenantJobs(ctx, tenantID, "tenant disconnected"); err != nil {
			return nil, fmt.Errorf("cancel tenant jobs: %w", err)
		}
	}
	if s.onRemove != nil {
		s.onRemove(tenantID)
	}
	s.logger.Info("Tenant disconnected", zap.String("tenant_id", tenantID.String()))
	return s.repos.Tenant.GetByID(ctx, tenantID)
}

// EnsureWebhooks subscribes the tenant to every handled topic that is not yet
// registered for our callback address, returning the newly created subscriptions
func (s *TenantService) EnsureWebhooks(ctx context.Context, tenantID uuid.UUID) ([]shopify.Webhook, error) {
	tenant, err := s.repos.Tenant.GetByID(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if !tenant.IsActive {
		return nil, &errors.ErrValidation{Message: "tenant is not connected"}
	}
	address := s.appBaseURL + WebhookPath
	client := s.clients(tenant)

	existing, err := client.ListWebhooks(ctx)
	if err != nil {
		return nil, fmt.Errorf("list webhooks: %w", err)
	}
	have := make(map[string]bool, len(existing))
	for _, w := range existing {
		if w.Address == address {
			have[w.Topic] = true
		}
	}

	var created []shopify.Webhook
	for _, topic := range domain.VendorTopics() {
		if have[topic] {
			continue
		}
		w, err := client.CreateWebhook(ctx, topic, address)
		if err != nil {
			return created, fmt.Errorf("create webhook %s: %w", topic, err)
		}
		created = append(created, *w)
		s.logger.Info("Webhook subscription created", zap.String("tenant_id", tenantID.String()), zap.String("topic", topic), zap.Int64("webhook_id", w.ID))
	}
	return created, nil
}

// Quota returns the last observed call-limit snapshot, nil if none is known
func (s *TenantService) Quota(ctx context.Context, tenantID uuid.UUID) (*domain.QuotaSnapshot, error) {
	if _, err := s.repos.Tenant.GetByID(ctx, tenantID); err != nil {
		return nil, err
	}
	if s.recorder == nil {
		return nil, nil
	}
	return s.recorder.Latest(ctx, tenantID)
}
