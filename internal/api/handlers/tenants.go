package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jafarshop/catalogsync/internal/domain"
	"github.com/jafarshop/catalogsync/internal/repository"
	"github.com/jafarshop/catalogsync/internal/service"
)

// TenantResponse never carries the access token or webhook secret
type TenantResponse struct {
	ID               uuid.UUID `json:"id"`
	ShopDomain       string    `json:"shop_domain"`
	Scope            string    `json:"scope,omitempty"`
	IsActive         bool      `json:"is_active"`
	HasWebhookSecret bool      `json:"has_webhook_secret"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

func newTenantResponse(t *domain.Tenant) TenantResponse {
	return TenantResponse{
		ID:               t.ID,
		ShopDomain:       t.ShopDomain,
		Scope:            t.Scope,
		IsActive:         t.IsActive,
		HasWebhookSecret: t.WebhookSecret != nil && *t.WebhookSecret != "",
		CreatedAt:        t.CreatedAt,
		UpdatedAt:        t.UpdatedAt,
	}
}

// CatalogItemResponse is one synced catalog row
type CatalogItemResponse struct {
	SKU             string            `json:"sku"`
	Title           string            `json:"title"`
	VariantTitle    *string           `json:"variant_title,omitempty"`
	VendorProductID int64             `json:"vendor_product_id"`
	VendorVariantID int64             `json:"vendor_variant_id"`
	Price           float64           `json:"price"`
	InventoryLevel  int               `json:"inventory_level"`
	Status          domain.ItemStatus `json:"status"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// HandleRegisterTenant handles POST /v1/tenants
func HandleRegisterTenant(tenants *service.TenantService, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req service.RegisterInput
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
			return
		}
		tenant, err := tenants.Register(c.Request.Context(), req)
		if err != nil {
			respondError(c, logger, err, "register tenant")
			return
		}
		c.JSON(http.StatusCreated, newTenantResponse(tenant))
	}
}

// HandleListTenants handles GET /v1/tenants
func HandleListTenants(tenants *service.TenantService, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := tenants.List(c.Request.Context())
		if err != nil {
			respondError(c, logger, err, "list tenants")
			return
		}
		out := make([]TenantResponse, 0, len(list))
		for _, t := range list {
			out = append(out, newTenantResponse(t))
		}
		c.JSON(http.StatusOK, gin.H{"tenants": out})
	}
}

// HandleGetTenant handles GET /v1/tenants/:id
func HandleGetTenant(tenants *service.TenantService, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := uuidParam(c, "id")
		if !ok {
			return
		}
		tenant, err := tenants.Get(c.Request.Context(), id)
		if err != nil {
			respondError(c, logger, err, "get tenant")
			return
		}
		c.JSON(http.StatusOK, newTenantResponse(tenant))
	}
}

// HandleDisconnectTenant handles POST /v1/tenants/:id/disconnect
func HandleDisconnectTenant(tenants *service.TenantService, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := uuidParam(c, "id")
		if !ok {
			return
		}
		tenant, err := tenants.Disconnect(c.Request.Context(), id)
		if err != nil {
			respondError(c, logger, err, "disconnect tenant")
			return
		}
		c.JSON(http.StatusOK, newTenantResponse(tenant))
	}
}

// HandleEnsureWebhooks handles POST /v1/tenants/:id/webhooks
func HandleEnsureWebhooks(tenants *service.TenantService, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := uuidParam(c, "id")
		if !ok {
			return
		}
		created, err := tenants.EnsureWebhooks(c.Request.Context(), id)
		if err != nil {
			respondError(c, logger, err, "register webhooks")
			return
		}
		c.JSON(http.StatusOK, gin.H{"created": created, "count": len(created)})
	}
}

// HandleGetQuota handles GET /v1/tenants/:id/quota
func HandleGetQuota(tenants *service.TenantService, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := uuidParam(c, "id")
		if !ok {
			return
		}
		snap, err := tenants.Quota(c.Request.Context(), id)
		if err != nil {
			respondError(c, logger, err, "get quota")
			return
		}
		c.JSON(http.StatusOK, gin.H{"tenant_id": id, "quota": snap})
	}
}

// HandleListCatalogItems handles GET /v1/tenants/:id/catalog?limit=&offset=
func HandleListCatalogItems(repos *repository.Repositories, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := uuidParam(c, "id")
		if !ok {
			return
		}
		limit := queryLimit(c, 100, 500)
		offset, _ := strconv.Atoi(c.Query("offset"))
		if offset < 0 {
			offset = 0
		}

		items, err := repos.CatalogItem.ListByTenant(c.Request.Context(), id, limit, offset)
		if err != nil {
			respondError(c, logger, err, "list catalog items")
			return
		}
		total, err := repos.CatalogItem.CountByTenant(c.Request.Context(), id)
		if err != nil {
			respondError(c, logger, err, "count catalog items")
			return
		}

		out := make([]CatalogItemResponse, 0, len(items))
		for _, it := range items {
			out = append(out, CatalogItemResponse{
				SKU:             it.SKU,
				Title:           it.Title,
				VariantTitle:    it.VariantTitle,
				VendorProductID: it.VendorProductID,
				VendorVariantID: it.VendorVariantID,
				Price:           it.Price,
				InventoryLevel:  it.InventoryLevel,
				Status:          it.Status,
				UpdatedAt:       it.UpdatedAt,
			})
		}
		c.JSON(http.StatusOK, gin.H{
			"items": out,
			"pagination": gin.H{
				"limit":  limit,
				"offset": offset,
				"total":  total,
			},
		})
	}
}
