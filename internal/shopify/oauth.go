package shopify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

// AccessToken is the result of the OAuth code exchange
type AccessToken struct {
	AccessToken string `json:"access_token"`
	Scope       string `json:"scope"`
}

// OAuthClient performs the app install handshake for a shop
type OAuthClient struct {
	clientID     string
	clientSecret string
	scopes       string
	baseURL      string // optional, replaces https://{shop}
	httpClient   *http.Client
	logger       *zap.Logger
}

// NewOAuthClient creates an OAuth client for the app credentials
func NewOAuthClient(clientID, clientSecret, scopes string, logger *zap.Logger) *OAuthClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OAuthClient{
		clientID:     clientID,
		clientSecret: clientSecret,
		scopes:       scopes,
		httpClient:   &http.Client{Timeout: defaultTimeout},
		logger:       logger,
	}
}

// WithBaseURL points every shop at baseURL (used against test servers)
func (o *OAuthClient) WithBaseURL(baseURL string) *OAuthClient {
	o.baseURL = strings.TrimSuffix(baseURL, "/")
	return o
}

func (o *OAuthClient) shopURL(shopDomain string) string {
	if o.baseURL != "" {
		return o.baseURL
	}
	return "https://" + NormalizeShopDomain(shopDomain)
}

// AuthorizeURL builds the URL the merchant visits to grant access
func (o *OAuthClient) AuthorizeURL(shopDomain, redirectURI, state string) string {
	q := url.Values{}
	q.Set("client_id", o.clientID)
	q.Set("scope", o.scopes)
	q.Set("redirect_uri", redirectURI)
	if state != "" {
		q.Set("state", state)
	}
	return o.shopURL(shopDomain) + "/admin/oauth/authorize?" + q.Encode()
}

// ExchangeCode trades an authorization code for a permanent access token
func (o *OAuthClient) ExchangeCode(ctx context.Context, shopDomain, code string) (*AccessToken, error) {
	if o.clientID == "" || o.clientSecret == "" {
		return nil, fmt.Errorf("oauth client not configured: client id and secret required")
	}
	b, err := json.Marshal(map[string]string{
		"client_id":     o.clientID,
		"client_secret": o.clientSecret,
		"code":          code,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	endpoint := o.shopURL(shopDomain) + "/admin/oauth/access_token"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := o.httpClient.Do(req)
	if err != nil {
		o.logger.Warn("OAuth token exchange failed", zap.String("shop_domain", shopDomain), zap.Error(err))
		return nil, &UnavailableError{Endpoint: "/admin/oauth/access_token", Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	o.logger.Info("OAuth token exchange",
		zap.String("shop_domain", shopDomain),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)),
	)
	if resp.StatusCode >= 300 {
		return nil, &APIError{Endpoint: "/admin/oauth/access_token", Status: resp.StatusCode, Message: errorMessage(raw)}
	}

	var out AccessToken
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to parse token response: %w", err)
	}
	if out.AccessToken == "" {
		return nil, fmt.Errorf("token response has no access_token")
	}
	return &out, nil
}

// VerifyQuery checks the hmac parameter Shopify appends to install/callback URLs.
// The message is the sorted query string without hmac and signature, hex encoded.
func (o *OAuthClient) VerifyQuery(q url.Values) bool {
	return VerifyQueryHMAC(q, o.clientSecret)
}

// VerifyQueryHMAC is VerifyQuery with an explicit secret
func VerifyQueryHMAC(q url.Values, secret string) bool {
	if secret == "" || q.Get("hmac") == "" {
		return false
	}
	keys := make([]string, 0, len(q))
	for k := range q {
		if k == "hmac" || k == "signature" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var parts []string
	for _, k := range keys {
		for _, v := range q[k] {
			parts = append(parts, k+"="+v)
		}
	}
	msg := strings.Join(parts, "&")

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(msg))
	expected := mac.Sum(nil)

	got, err := hex.DecodeString(q.Get("hmac"))
	if err != nil {
		return false
	}
	return hmac.Equal(expected, got)
}
