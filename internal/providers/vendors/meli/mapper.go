package meli

import (
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ecommind/engine/internal/domain"
)

// MapProduct converts a Meli listing into the canonical shape.
// Total function: every field has a defined value for any input.
func MapProduct(companyID uuid.UUID, rec itemRecord) domain.Product {
	sku := rec.SellerCustomField
	if sku == "" {
		// Listings without a seller SKU key on the Meli item ID
		sku = rec.ID
	}

	var variations []string
	for _, v := range rec.Variations {
		for _, attr := range v.AttributeCombinations {
			if attr.ValueName != "" {
				variations = append(variations, fmt.Sprintf("%s:%s", attr.Name, attr.ValueName))
			}
		}
	}

	return domain.Product{
		CompanyID:  companyID,
		Vendor:     domain.VendorMeli,
		SKU:        sku,
		ExternalID: rec.ID,
		Title:      rec.Title,
		Price:      decimal.NewFromFloat(rec.Price),
		Stock:      rec.AvailableQuantity,
		Category:   rec.CategoryID,
		Variations: variations,
		Active:     rec.Status == "active",
	}
}

// MapOrder converts a Meli order into the canonical shape
func MapOrder(companyID uuid.UUID, rec orderRecord) domain.Order {
	placedAt, err := time.Parse(time.RFC3339, rec.DateCreated)
	if err != nil {
		placedAt = time.Time{}
	}

	items := make([]domain.OrderItem, 0, len(rec.OrderItems))
	for i, it := range rec.OrderItems {
		sku := it.Item.SellerSKU
		if sku == "" {
			sku = it.Item.ID
		}
		unitPrice := decimal.NewFromFloat(it.UnitPrice)
		items = append(items, domain.OrderItem{
			Seq:       i + 1,
			SKU:       sku,
			Title:     it.Item.Title,
			Quantity:  it.Quantity,
			UnitPrice: unitPrice,
			Total:     unitPrice.Mul(decimal.NewFromInt(int64(it.Quantity))),
		})
	}

	return domain.Order{
		CompanyID: companyID,
		Vendor:    domain.VendorMeli,
		OrderID:   strconv.FormatInt(rec.ID, 10),
		Status:    rec.Status,
		Channel:   "mercadolivre",
		Buyer:     rec.Buyer.Nickname,
		Total:     decimal.NewFromFloat(rec.TotalAmount),
		PlacedAt:  placedAt,
		Items:     items,
	}
}
