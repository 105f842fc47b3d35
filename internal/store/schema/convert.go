package schema

import (
	"gorm.io/datatypes"

	"github.com/ecommind/engine/internal/domain"
)

// ProductsFromDomain converts canonical products into their table rows
func ProductsFromDomain(products []domain.Product) []Product {
	rows := make([]Product, 0, len(products))
	for _, p := range products {
		rows = append(rows, Product{
			CompanyID:  p.CompanyID,
			SKU:        p.SKU,
			Vendor:     string(p.Vendor),
			ExternalID: p.ExternalID,
			Title:      p.Title,
			Price:      p.Price,
			Stock:      p.Stock,
			Category:   p.Category,
			Variations: datatypes.JSONSlice[string](p.Variations),
			Active:     p.Active,
		})
	}
	return rows
}

// OrdersFromDomain converts canonical orders into order and line-item rows
func OrdersFromDomain(orders []domain.Order) ([]Order, []OrderItem) {
	rows := make([]Order, 0, len(orders))
	var items []OrderItem
	for _, o := range orders {
		rows = append(rows, Order{
			CompanyID: o.CompanyID,
			OrderID:   o.OrderID,
			Vendor:    string(o.Vendor),
			Status:    o.Status,
			Channel:   o.Channel,
			Buyer:     o.Buyer,
			Total:     o.Total,
			PlacedAt:  o.PlacedAt,
		})
		for _, it := range o.Items {
			items = append(items, OrderItem{
				CompanyID: o.CompanyID,
				OrderID:   o.OrderID,
				Seq:       it.Seq,
				SKU:       it.SKU,
				Title:     it.Title,
				Quantity:  it.Quantity,
				UnitPrice: it.UnitPrice,
				Total:     it.Total,
			})
		}
	}
	return rows, items
}
