package shopify

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// MaxPageSize is the largest limit the REST API accepts
const MaxPageSize = 250

// Product is the subset of a REST product the sync needs
type Product struct {
	ID          int64      `json:"id"`
	Title       string     `json:"title"`
	Handle      string     `json:"handle"`
	Vendor      string     `json:"vendor"`
	ProductType string     `json:"product_type"`
	Status      string     `json:"status"`
	UpdatedAt   *time.Time `json:"updated_at"`
	Variants    []Variant  `json:"variants"`
}

// Variant is one sellable variant of a product
type Variant struct {
	ID                int64  `json:"id"`
	ProductID         int64  `json:"product_id"`
	Title             string `json:"title"`
	SKU               string `json:"sku"`
	Price             string `json:"price"`
	InventoryQuantity int    `json:"inventory_quantity"`
}

// Order is the subset of a REST order the sync needs
type Order struct {
	ID                int64      `json:"id"`
	Name              string     `json:"name"`
	Email             string     `json:"email"`
	FinancialStatus   string     `json:"financial_status"`
	FulfillmentStatus *string    `json:"fulfillment_status"`
	Currency          string     `json:"currency"`
	TotalPrice        string     `json:"total_price"`
	LineItems         []LineItem `json:"line_items"`
	CreatedAt         *time.Time `json:"created_at"`
	UpdatedAt         *time.Time `json:"updated_at"`
}

// LineItem is one order line
type LineItem struct {
	ID        int64  `json:"id"`
	VariantID *int64 `json:"variant_id"`
	SKU       string `json:"sku"`
	Quantity  int    `json:"quantity"`
	Price     string `json:"price"`
}

// PageRequest selects one since-id page
type PageRequest struct {
	SinceID      int64
	Limit        int
	UpdatedAtMin *time.Time // products only
	CreatedAtMin *time.Time // orders only
}

func (r PageRequest) limit() int {
	if r.Limit <= 0 || r.Limit > MaxPageSize {
		return MaxPageSize
	}
	return r.Limit
}

func (r PageRequest) query() url.Values {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(r.limit()))
	if r.SinceID > 0 {
		q.Set("since_id", strconv.FormatInt(r.SinceID, 10))
	}
	if r.UpdatedAtMin != nil {
		q.Set("updated_at_min", r.UpdatedAtMin.UTC().Format(time.RFC3339))
	}
	if r.CreatedAtMin != nil {
		q.Set("created_at_min", r.CreatedAtMin.UTC().Format(time.RFC3339))
	}
	return q
}

// ProductPage is one page of products. NextSinceID is 0 at the end of the collection.
type ProductPage struct {
	Products    []Product
	NextSinceID int64
}

// OrderPage is one page of orders. NextSinceID is 0 at the end of the collection.
type OrderPage struct {
	Orders      []Order
	NextSinceID int64
}

// GetProductsPage fetches GET /products.json?limit=N&since_id=ID
func (c *Client) GetProductsPage(ctx context.Context, req PageRequest) (*ProductPage, error) {
	var body struct {
		Products []Product `json:"products"`
	}
	if err := c.do(ctx, http.MethodGet, "/products.json", req.query(), nil, &body); err != nil {
		return nil, err
	}
	page := &ProductPage{Products: body.Products}
	if n := len(body.Products); n > 0 && n >= req.limit() {
		page.NextSinceID = body.Products[n-1].ID
	}
	return page, nil
}

// GetOrdersPage fetches GET /orders.json?limit=N&since_id=ID&status=any
func (c *Client) GetOrdersPage(ctx context.Context, req PageRequest) (*OrderPage, error) {
	q := req.query()
	q.Set("status", "any")
	var body struct {
		Orders []Order `json:"orders"`
	}
	if err := c.do(ctx, http.MethodGet, "/orders.json", q, nil, &body); err != nil {
		return nil, err
	}
	page := &OrderPage{Orders: body.Orders}
	if n := len(body.Orders); n > 0 && n >= req.limit() {
		page.NextSinceID = body.Orders[n-1].ID
	}
	return page, nil
}
