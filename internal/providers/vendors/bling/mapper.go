package bling

import (
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ecommind/engine/internal/domain"
)

// orderStatusNames translates Bling situation IDs into canonical statuses.
// IDs follow Bling's default sales-order situation set.
var orderStatusNames = map[int]string{
	6:  "open",
	9:  "fulfilled",
	12: "cancelled",
	15: "invoiced",
}

// MapProduct converts a Bling product record into the canonical shape.
// Total function: every field has a defined value for any input.
func MapProduct(companyID uuid.UUID, rec productRecord) domain.Product {
	stock := 0
	if rec.Estoque != nil {
		stock = int(rec.Estoque.SaldoVirtualTotal)
	}

	category := ""
	if rec.Categoria != nil {
		category = rec.Categoria.Descricao
	}

	var variations []string
	for _, v := range rec.Variacoes {
		if v.Nome != "" {
			variations = append(variations, v.Nome)
		}
	}

	sku := rec.Codigo
	if sku == "" {
		// Products without a merchant code fall back to the Bling ID so the
		// (company, sku) upsert key stays non-empty
		sku = strconv.FormatInt(rec.ID, 10)
	}

	return domain.Product{
		CompanyID:  companyID,
		Vendor:     domain.VendorBling,
		SKU:        sku,
		ExternalID: strconv.FormatInt(rec.ID, 10),
		Title:      rec.Nome,
		Price:      decimal.NewFromFloat(rec.Preco),
		Stock:      stock,
		Category:   category,
		Variations: variations,
		Active:     rec.Situacao == "A",
	}
}

// MapOrder converts a Bling sales order into the canonical shape
func MapOrder(companyID uuid.UUID, rec orderRecord) domain.Order {
	status, ok := orderStatusNames[rec.Situacao.ID]
	if !ok {
		status = "unknown"
	}

	placedAt, err := time.Parse("2006-01-02", rec.Data)
	if err != nil {
		placedAt = time.Time{}
	}

	items := make([]domain.OrderItem, 0, len(rec.Itens))
	for i, it := range rec.Itens {
		unitPrice := decimal.NewFromFloat(it.Valor)
		qty := int(it.Quantidade)
		items = append(items, domain.OrderItem{
			Seq:       i + 1,
			SKU:       it.Codigo,
			Title:     it.Descricao,
			Quantity:  qty,
			UnitPrice: unitPrice,
			Total:     unitPrice.Mul(decimal.NewFromInt(int64(qty))),
		})
	}

	channel := ""
	if rec.Loja.ID != 0 {
		channel = strconv.FormatInt(rec.Loja.ID, 10)
	}

	return domain.Order{
		CompanyID: companyID,
		Vendor:    domain.VendorBling,
		OrderID:   strconv.FormatInt(rec.ID, 10),
		Status:    status,
		Channel:   channel,
		Buyer:     rec.Contato.Nome,
		Total:     decimal.NewFromFloat(rec.Total),
		PlacedAt:  placedAt,
		Items:     items,
	}
}
