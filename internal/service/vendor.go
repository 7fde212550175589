package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jafarshop/catalogsync/internal/config"
	"github.com/jafarshop/catalogsync/internal/domain"
	"github.com/jafarshop/catalogsync/internal/quota"
	"github.com/jafarshop/catalogsync/internal/ratelimit"
	"github.com/jafarshop/catalogsync/internal/shopify"
)

// VendorClient is the slice of the Shopify client the services depend on
type VendorClient interface {
	GetProductsPage(ctx context.Context, req shopify.PageRequest) (*shopify.ProductPage, error)
	GetOrdersPage(ctx context.Context, req shopify.PageRequest) (*shopify.OrderPage, error)
	GetShop(ctx context.Context) (*shopify.ShopInfo, error)
	ListWebhooks(ctx context.Context) ([]shopify.Webhook, error)
	CreateWebhook(ctx context.Context, topic, address string) (*shopify.Webhook, error)
}

// ClientFactory returns the vendor client for a tenant
type ClientFactory func(tenant *domain.Tenant) VendorClient

type cachedClient struct {
	token  string
	client *shopify.Client
}

// ShopifyClients builds one client per tenant and reuses it, so every job and
// admin call for a shop draws from the same token bucket.
type ShopifyClients struct {
	cfg      config.ShopifyConfig
	rl       ratelimit.Config
	recorder quota.Recorder
	logger   *zap.Logger

	mu      sync.Mutex
	clients map[uuid.UUID]cachedClient
}

func NewShopifyClients(cfg config.ShopifyConfig, rl config.RateLimitConfig, recorder quota.Recorder, logger *zap.Logger) *ShopifyClients {
	return &ShopifyClients{
		cfg: cfg,
		rl: ratelimit.Config{
			Capacity:        rl.Capacity,
			RefillPerSecond: rl.RefillPerSecond,
			PollInterval:    rl.PollInterval,
		},
		recorder: recorder,
		logger:   logger,
		clients:  make(map[uuid.UUID]cachedClient),
	}
}

// Client returns the cached client for tenant, rebuilding it when the access token changed
func (f *ShopifyClients) Client(tenant *domain.Tenant) *shopify.Client {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.clients[tenant.ID]; ok && c.token == tenant.AccessToken {
		return c.client
	}

	opts := []shopify.Option{}
	if f.recorder != nil {
		opts = append(opts, shopify.WithQuotaObserver(f.quotaObserver(tenant.ID)))
	}
	client := shopify.NewClient(shopify.ClientConfig{
		ShopDomain:  tenant.ShopDomain,
		AccessToken: tenant.AccessToken,
		APIVersion:  f.cfg.APIVersion,
		BaseURL:     f.cfg.BaseURL,
		Timeout:     f.cfg.HTTPTimeout,
		MaxRetries:  f.cfg.MaxRetries,
		RateLimit:   f.rl,
	}, f.logger, opts...)
	// unsaved tenants (credential checks during registration) are not cached
	if tenant.ID != uuid.Nil {
		f.clients[tenant.ID] = cachedClient{token: tenant.AccessToken, client: client}
	}
	return client
}

// quotaObserver stores each call-limit snapshot for tenantID; a failed write
// is logged and does not affect the vendor call
func (f *ShopifyClients) quotaObserver(tenantID uuid.UUID) shopify.QuotaObserver {
	return func(snap domain.QuotaSnapshot) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := f.recorder.Record(ctx, tenantID, snap); err != nil {
			f.logger.Debug("Failed to record quota snapshot", zap.String("tenant_id", tenantID.String()), zap.Error(err))
		}
	}
}

// Forget drops the cached client, e.g. after the app was uninstalled
func (f *ShopifyClients) Forget(tenantID uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.clients, tenantID)
}

// Factory adapts the cache to a ClientFactory
func (f *ShopifyClients) Factory() ClientFactory {
	return func(tenant *domain.Tenant) VendorClient {
		return f.Client(tenant)
	}
}
