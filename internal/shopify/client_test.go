package shopify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jafarshop/catalogsync/internal/domain"
	"github.com/jafarshop/catalogsync/internal/ratelimit"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// newTestClient returns a client whose sleeps advance a fake clock shared with its bucket
func newTestClient(t *testing.T, serverURL string, opts ...Option) (*Client, *[]time.Duration) {
	t.Helper()
	clock := &testClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	var slept []time.Duration
	var mu sync.Mutex
	sleeper := func(ctx context.Context, d time.Duration) error {
		mu.Lock()
		slept = append(slept, d)
		mu.Unlock()
		clock.Advance(d)
		return nil
	}
	base := []Option{
		WithLimiter(ratelimit.NewWithClock(ratelimit.Config{Capacity: 40, RefillPerSecond: 2, PollInterval: time.Millisecond}, clock.Now)),
		WithSleeper(sleeper),
	}
	c := NewClient(ClientConfig{
		ShopDomain:  "https://Test-Shop.myshopify.com/",
		AccessToken: "shpat_test",
		APIVersion:  "2024-01",
		BaseURL:     serverURL,
	}, zap.NewNop(), append(base, opts...)...)
	return c, &slept
}

func productsJSON(startID, n int) []byte {
	products := make([]Product, 0, n)
	for i := 0; i < n; i++ {
		id := int64(startID + i)
		products = append(products, Product{
			ID:    id,
			Title: fmt.Sprintf("Product %d", id),
			Variants: []Variant{{
				ID: id * 10, ProductID: id, Title: "Default Title", Price: "9.99",
			}},
		})
	}
	b, _ := json.Marshal(map[string]interface{}{"products": products})
	return b
}

func TestClient_RetryAfterCompliance(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Retry-After", "5")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"errors":"Exceeded 2 calls per second for api client. Reduce request rates to resume uninterrupted service."}`))
	}))
	defer srv.Close()

	c, slept := newTestClient(t, srv.URL)
	_, err := c.GetProductsPage(context.Background(), PageRequest{Limit: 250})

	require.Error(t, err)
	assert.True(t, IsRateLimitExceeded(err))
	var rle *RateLimitExceededError
	require.ErrorAs(t, err, &rle)
	assert.Equal(t, 3, rle.Retries)
	assert.Equal(t, int32(4), calls.Load(), "initial call plus exactly 3 retries")
	require.Len(t, *slept, 3)
	for _, d := range *slept {
		assert.GreaterOrEqual(t, d, 5*time.Second)
	}
}

func TestClient_RetrySucceedsAfter429(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "2")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Header().Set(CallLimitHeader, "12/40")
		_, _ = w.Write([]byte(`{"shop":{"id":1,"name":"Test","myshopify_domain":"test-shop.myshopify.com"}}`))
	}))
	defer srv.Close()

	var snapshots []domain.QuotaSnapshot
	c, slept := newTestClient(t, srv.URL, WithQuotaObserver(func(q domain.QuotaSnapshot) {
		snapshots = append(snapshots, q)
	}))
	shop, err := c.GetShop(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "Test", shop.Name)
	assert.Equal(t, []time.Duration{2 * time.Second}, *slept)
	require.Len(t, snapshots, 1)
	assert.Equal(t, 28, snapshots[0].Remaining)
}

func TestClient_PaginationTerminatesOnShortPage(t *testing.T) {
	sizes := []int{250, 250, 137}
	var sinceIDs []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sinceIDs = append(sinceIDs, r.URL.Query().Get("since_id"))
		assert.Equal(t, "250", r.URL.Query().Get("limit"))
		assert.Equal(t, "shpat_test", r.Header.Get(AccessTokenHeader))
		i := len(sinceIDs) - 1
		if i >= len(sizes) {
			t.Errorf("unexpected extra fetch #%d", i+1)
			_, _ = w.Write([]byte(`{"products":[]}`))
			return
		}
		_, _ = w.Write(productsJSON(i*250+1, sizes[i]))
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv.URL)
	var since int64
	fetched := 0
	for {
		page, err := c.GetProductsPage(context.Background(), PageRequest{SinceID: since, Limit: 250})
		require.NoError(t, err)
		fetched += len(page.Products)
		if page.NextSinceID == 0 {
			break
		}
		since = page.NextSinceID
	}

	assert.Equal(t, 637, fetched)
	assert.Equal(t, []string{"", "250", "500"}, sinceIDs)
}

func TestClient_APIErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"errors":"[API] This action requires merchant approval for read_orders scope."}`))
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv.URL)
	_, err := c.GetOrdersPage(context.Background(), PageRequest{})

	apiErr, ok := AsAPIError(err)
	require.True(t, ok, "expected APIError, got %v", err)
	assert.Equal(t, http.StatusForbidden, apiErr.Status)
	assert.Contains(t, apiErr.Message, "read_orders")
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_ServerErrorIsAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream broke", http.StatusBadGateway)
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv.URL)
	_, err := c.ListWebhooks(context.Background())

	apiErr, ok := AsAPIError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusBadGateway, apiErr.Status)
	assert.Equal(t, "upstream broke", apiErr.Message)
}

func TestClient_NetworkFailureIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c, _ := newTestClient(t, url)
	_, err := c.GetShop(context.Background())

	require.Error(t, err)
	assert.True(t, IsUnavailable(err))
}

func TestClient_TimeoutIsUnavailable(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	c, _ := newTestClient(t, srv.URL, WithHTTPClient(&http.Client{Timeout: 20 * time.Millisecond}))
	_, err := c.GetShop(context.Background())

	assert.True(t, IsUnavailable(err), "got %v", err)
}

func TestClient_InvalidBodyIsAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"products": "nope"`))
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv.URL)
	_, err := c.GetProductsPage(context.Background(), PageRequest{})

	apiErr, ok := AsAPIError(err)
	require.True(t, ok)
	assert.Contains(t, apiErr.Message, "invalid response body")
}

func TestClient_CreateWebhookPostsJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/webhooks.json", r.URL.Path)
		var body struct {
			Webhook map[string]string `json:"webhook"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "products/update", body.Webhook["topic"])
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"webhook":{"id":99,"topic":"products/update","address":"` + body.Webhook["address"] + `","format":"json"}}`))
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv.URL)
	wh, err := c.CreateWebhook(context.Background(), "products/update", "https://sync.example.com/webhooks/shopify")

	require.NoError(t, err)
	assert.Equal(t, int64(99), wh.ID)
	assert.Equal(t, "https://sync.example.com/webhooks/shopify", wh.Address)
}

func TestClient_OrdersPageQuery(t *testing.T) {
	createdMin := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "any", q.Get("status"))
		assert.Equal(t, "10", q.Get("limit"))
		assert.Equal(t, "77", q.Get("since_id"))
		assert.Equal(t, "2026-03-01T00:00:00Z", q.Get("created_at_min"))
		_, _ = w.Write([]byte(`{"orders":[{"id":78,"name":"#1001","total_price":"10.00"}]}`))
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv.URL)
	page, err := c.GetOrdersPage(context.Background(), PageRequest{SinceID: 77, Limit: 10, CreatedAtMin: &createdMin})

	require.NoError(t, err)
	require.Len(t, page.Orders, 1)
	assert.Equal(t, int64(0), page.NextSinceID, "short page ends the collection")
}

func TestNewClient_NormalizesShopDomain(t *testing.T) {
	c := NewClient(ClientConfig{ShopDomain: "https://Test-Shop.myshopify.com/", APIVersion: "2024-01"}, nil)
	assert.Equal(t, "test-shop.myshopify.com", c.ShopDomain())
	assert.Equal(t, "https://test-shop.myshopify.com/admin/api/2024-01", c.baseURL)
	assert.Equal(t, 40, c.Limiter().Config().Capacity)
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, 5*time.Second, ParseRetryAfter("5"))
	assert.Equal(t, 2500*time.Millisecond, ParseRetryAfter("2.5"))
	assert.Equal(t, DefaultRetryAfter, ParseRetryAfter(""))
	assert.Equal(t, DefaultRetryAfter, ParseRetryAfter("Wed, 21 Oct 2015 07:28:00 GMT"))
	assert.Equal(t, DefaultRetryAfter, ParseRetryAfter("-3"))
}

func TestParseCallLimit(t *testing.T) {
	now := time.Now()
	q, ok := ParseCallLimit("2/40", now)
	require.True(t, ok)
	assert.Equal(t, domain.QuotaSnapshot{Made: 2, Limit: 40, Remaining: 38, ObservedAt: now}, q)

	for _, bad := range []string{"", "40", "a/40", "2/0", "2/x", "-1/40"} {
		_, ok := ParseCallLimit(bad, now)
		assert.False(t, ok, strconv.Quote(bad))
	}
}
