package shopee

import (
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ecommind/engine/internal/domain"
)

// MapProduct converts a Shopee item into the canonical shape.
// Total function: every field has a defined value for any input.
func MapProduct(companyID uuid.UUID, rec itemRecord) domain.Product {
	sku := rec.ItemSKU
	if sku == "" {
		// Items without a merchant SKU key on the Shopee item ID
		sku = strconv.FormatInt(rec.ItemID, 10)
	}

	price := decimal.Zero
	if len(rec.PriceInfo) > 0 {
		price = decimal.NewFromFloat(rec.PriceInfo[0].CurrentPrice)
	}

	var variations []string
	for _, tier := range rec.TierVariation {
		for _, opt := range tier.OptionList {
			if opt.Option != "" {
				variations = append(variations, fmt.Sprintf("%s:%s", tier.Name, opt.Option))
			}
		}
	}

	return domain.Product{
		CompanyID:  companyID,
		Vendor:     domain.VendorShopee,
		SKU:        sku,
		ExternalID: strconv.FormatInt(rec.ItemID, 10),
		Title:      rec.ItemName,
		Price:      price,
		Stock:      rec.StockInfoV2.SummaryInfo.TotalAvailableStock,
		Category:   strconv.FormatInt(rec.CategoryID, 10),
		Variations: variations,
		Active:     rec.ItemStatus == "NORMAL",
	}
}

// MapOrder converts a Shopee order into the canonical shape
func MapOrder(companyID uuid.UUID, rec orderRecord) domain.Order {
	var placedAt time.Time
	if rec.CreateTime > 0 {
		placedAt = time.Unix(rec.CreateTime, 0).UTC()
	}

	items := make([]domain.OrderItem, 0, len(rec.ItemList))
	for i, it := range rec.ItemList {
		unitPrice := decimal.NewFromFloat(it.ModelDiscountedPrice)
		items = append(items, domain.OrderItem{
			Seq:       i + 1,
			SKU:       it.ItemSKU,
			Title:     it.ItemName,
			Quantity:  it.ModelQuantityPurchased,
			UnitPrice: unitPrice,
			Total:     unitPrice.Mul(decimal.NewFromInt(int64(it.ModelQuantityPurchased))),
		})
	}

	return domain.Order{
		CompanyID: companyID,
		Vendor:    domain.VendorShopee,
		OrderID:   rec.OrderSN,
		Status:    rec.OrderStatus,
		Channel:   "shopee",
		Buyer:     rec.BuyerUsername,
		Total:     decimal.NewFromFloat(rec.TotalAmount),
		PlacedAt:  placedAt,
		Items:     items,
	}
}
