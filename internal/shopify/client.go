package shopify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jafarshop/catalogsync/internal/domain"
	"github.com/jafarshop/catalogsync/internal/ratelimit"
)

const (
	defaultTimeout    = 30 * time.Second
	defaultMaxRetries = 3
	maxResponseBytes  = 16 << 20

	// CallLimitHeader carries "<calls_made>/<call_limit>" on REST responses
	CallLimitHeader = "X-Shopify-Shop-Api-Call-Limit"
	// AccessTokenHeader authenticates Admin API calls
	AccessTokenHeader = "X-Shopify-Access-Token"
)

// ClientConfig holds the per-tenant settings for a REST client
type ClientConfig struct {
	ShopDomain  string
	AccessToken string
	APIVersion  string
	BaseURL     string // optional, replaces https://{shop}/admin/api/{version}
	Timeout     time.Duration
	MaxRetries  int
	RateLimit   ratelimit.Config
}

// QuotaObserver receives the parsed call-limit header after each successful call
type QuotaObserver func(domain.QuotaSnapshot)

// Sleeper waits for d or until ctx is done
type Sleeper func(ctx context.Context, d time.Duration) error

// Client is a rate-limited Shopify Admin REST client for a single shop
type Client struct {
	shopDomain  string
	accessToken string
	baseURL     string
	maxRetries  int
	httpClient  *http.Client
	limiter     *ratelimit.Bucket
	sleep       Sleeper
	onQuota     QuotaObserver
	logger      *zap.Logger
}

// Option customizes a Client
type Option func(*Client)

// WithHTTPClient replaces the underlying http client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLimiter replaces the bucket built from ClientConfig.RateLimit
func WithLimiter(b *ratelimit.Bucket) Option {
	return func(c *Client) { c.limiter = b }
}

// WithSleeper replaces the Retry-After sleep
func WithSleeper(s Sleeper) Option {
	return func(c *Client) { c.sleep = s }
}

// WithQuotaObserver registers a callback for quota snapshots
func WithQuotaObserver(o QuotaObserver) Option {
	return func(c *Client) { c.onQuota = o }
}

// NewClient creates a new Shopify REST client that owns its rate limiter
func NewClient(cfg ClientConfig, logger *zap.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	shopDomain := NormalizeShopDomain(cfg.ShopDomain)

	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = fmt.Sprintf("https://%s/admin/api/%s", shopDomain, cfg.APIVersion)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	rl := cfg.RateLimit
	if rl.Capacity == 0 {
		rl = ratelimit.ShopifyREST()
	}

	c := &Client{
		shopDomain:  shopDomain,
		accessToken: cfg.AccessToken,
		baseURL:     baseURL,
		maxRetries:  maxRetries,
		httpClient:  &http.Client{Timeout: timeout},
		limiter:     ratelimit.New(rl),
		sleep:       sleepContext,
		logger:      logger.With(zap.String("shop_domain", shopDomain)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NormalizeShopDomain removes scheme and trailing slashes from a shop domain
func NormalizeShopDomain(shopDomain string) string {
	shopDomain = strings.TrimSpace(strings.ToLower(shopDomain))
	shopDomain = strings.TrimPrefix(shopDomain, "https://")
	shopDomain = strings.TrimPrefix(shopDomain, "http://")
	return strings.TrimSuffix(shopDomain, "/")
}

// ShopDomain returns the normalized shop domain
func (c *Client) ShopDomain() string {
	return c.shopDomain
}

// Limiter exposes the client's bucket for diagnostics
func (c *Client) Limiter() *ratelimit.Bucket {
	return c.limiter
}

// do performs one logical call, retrying only on HTTP 429.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body interface{}, out interface{}) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
	}

	for retry := 0; ; retry++ {
		if err := c.limiter.WaitFor(ctx, 1); err != nil {
			return fmt.Errorf("rate limiter wait for %s %s: %w", method, path, err)
		}

		var reqBody io.Reader
		if payload != nil {
			reqBody = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set(AccessTokenHeader, c.accessToken)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		start := time.Now()
		resp, err := c.httpClient.Do(req)
		if err != nil {
			c.logCall(method, path, 0, time.Since(start), retry, nil, err)
			if ctxErr := ctx.Err(); ctxErr != nil {
				return fmt.Errorf("%s %s: %w", method, path, ctxErr)
			}
			return &UnavailableError{Endpoint: path, Err: err}
		}
		respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		resp.Body.Close()
		duration := time.Since(start)
		if readErr != nil {
			c.logCall(method, path, resp.StatusCode, duration, retry, nil, readErr)
			return &UnavailableError{Endpoint: path, Err: fmt.Errorf("failed to read response: %w", readErr)}
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			wait := ParseRetryAfter(resp.Header.Get("Retry-After"))
			c.logCall(method, path, resp.StatusCode, duration, retry, nil, nil)
			if retry >= c.maxRetries {
				return &RateLimitExceededError{Endpoint: path, Retries: retry, RetryAfter: wait}
			}
			c.limiter.Penalize(wait)
			if err := c.sleep(ctx, wait); err != nil {
				return fmt.Errorf("%s %s: %w", method, path, err)
			}
			continue

		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			quota, ok := ParseCallLimit(resp.Header.Get(CallLimitHeader), time.Now())
			var q *domain.QuotaSnapshot
			if ok {
				q = &quota
				if c.onQuota != nil {
					c.onQuota(quota)
				}
			}
			c.logCall(method, path, resp.StatusCode, duration, retry, q, nil)
			if out != nil && len(respBody) > 0 {
				if err := json.Unmarshal(respBody, out); err != nil {
					return &APIError{Endpoint: path, Status: resp.StatusCode, Message: "invalid response body: " + err.Error()}
				}
			}
			return nil

		default:
			c.logCall(method, path, resp.StatusCode, duration, retry, nil, nil)
			return &APIError{Endpoint: path, Status: resp.StatusCode, Message: errorMessage(respBody)}
		}
	}
}

func (c *Client) logCall(method, path string, status int, duration time.Duration, retry int, quota *domain.QuotaSnapshot, err error) {
	fields := []zap.Field{
		zap.String("endpoint", path),
		zap.String("method", method),
		zap.Int("status", status),
		zap.Duration("duration", duration),
		zap.Int("retry", retry),
		zap.Float64("bucket_tokens", c.limiter.Tokens()),
	}
	if quota != nil {
		fields = append(fields, zap.Int("rate_limit_remaining", quota.Remaining))
	}
	switch {
	case err != nil:
		c.logger.Warn("Shopify request failed", append(fields, zap.Error(err))...)
	case status == http.StatusTooManyRequests:
		c.logger.Warn("Shopify rate limited", fields...)
	case status >= 400:
		c.logger.Warn("Shopify returned error status", fields...)
	default:
		c.logger.Debug("Shopify request", fields...)
	}
}

// errorMessage extracts the "errors" field Shopify puts on failures, falling back to the raw body
func errorMessage(body []byte) string {
	var parsed struct {
		Errors interface{} `json:"errors"`
		Error  string      `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil {
		switch v := parsed.Errors.(type) {
		case string:
			return v
		case nil:
		default:
			if b, err := json.Marshal(v); err == nil {
				return string(b)
			}
		}
		if parsed.Error != "" {
			return parsed.Error
		}
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 500 {
		msg = msg[:500] + "..."
	}
	return msg
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
