// Package catalog maps vendor records onto catalog rows. The sync job and the
// webhook path both go through these functions so they write identical rows.
package catalog

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/jafarshop/catalogsync/internal/domain"
	"github.com/jafarshop/catalogsync/internal/shopify"
)

const defaultVariantTitle = "Default Title"

// DeriveSKU returns the vendor SKU when present, otherwise a synthetic SKU
// built from the product and variant ids so the upsert key is never empty.
func DeriveSKU(productID, variantID int64, vendorSKU string) string {
	if sku := strings.TrimSpace(vendorSKU); sku != "" {
		return sku
	}
	return fmt.Sprintf("SHOPIFY-%d-%d", productID, variantID)
}

// ItemsFromProduct builds one catalog row per variant
func ItemsFromProduct(tenantID uuid.UUID, p shopify.Product) []domain.CatalogItem {
	items := make([]domain.CatalogItem, 0, len(p.Variants))
	status := domain.NormalizeItemStatus(p.Status)
	for _, v := range p.Variants {
		productID := v.ProductID
		if productID == 0 {
			productID = p.ID
		}
		item := domain.CatalogItem{
			TenantID:        tenantID,
			VendorProductID: productID,
			VendorVariantID: v.ID,
			SKU:             DeriveSKU(productID, v.ID, v.SKU),
			Title:           p.Title,
			Price:           parseMoney(v.Price),
			InventoryLevel:  v.InventoryQuantity,
			Status:          status,
		}
		if t := strings.TrimSpace(v.Title); t != "" && t != defaultVariantTitle {
			item.VariantTitle = &t
		}
		items = append(items, item)
	}
	return items
}

// OrderFromVendor maps a vendor order onto its stored header row
func OrderFromVendor(tenantID uuid.UUID, o shopify.Order) domain.VendorOrder {
	out := domain.VendorOrder{
		TenantID:          tenantID,
		VendorOrderID:     o.ID,
		Name:              o.Name,
		Currency:          o.Currency,
		TotalPrice:        parseMoney(o.TotalPrice),
		LineItemCount:     len(o.LineItems),
		FulfillmentStatus: o.FulfillmentStatus,
		VendorCreatedAt:   o.CreatedAt,
		VendorUpdatedAt:   o.UpdatedAt,
	}
	if o.Email != "" {
		e := o.Email
		out.Email = &e
	}
	if o.FinancialStatus != "" {
		s := o.FinancialStatus
		out.FinancialStatus = &s
	}
	return out
}

// parseMoney parses vendor decimal strings ("19.99"); unparseable values map to 0
func parseMoney(s string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return f
}
