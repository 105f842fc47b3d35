package schema

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Product represents the products table - the vendor-agnostic canonical
// product shape all adapters map into. Keyed by (company_id, sku) so
// replaying the same external record is an idempotent upsert.
type Product struct {
	ID        uint64    `gorm:"column:id;primaryKey;autoIncrement"`
	CompanyID uuid.UUID `gorm:"column:company_id;not null;type:uuid;uniqueIndex:ux_products_company_sku,priority:1"`
	SKU       string    `gorm:"column:sku;not null;type:text;uniqueIndex:ux_products_company_sku,priority:2"`
	// Vendor is the source system the latest write came from
	Vendor string `gorm:"column:vendor;not null;type:text"`
	// ExternalID is the vendor-side identifier of the product
	ExternalID string          `gorm:"column:external_id;not null;type:text;index"`
	Title      string          `gorm:"column:title;not null;type:text"`
	Price      decimal.Decimal `gorm:"column:price;type:numeric(12,2);not null;default:0"`
	Stock      int             `gorm:"column:stock;not null;default:0"`
	Category   string          `gorm:"column:category;type:text"`
	// Variations are the known variation labels (color/size), feeding the
	// variation-opportunity insight rule
	Variations datatypes.JSONSlice[string] `gorm:"column:variations;type:jsonb"`
	Active     bool                        `gorm:"column:active;not null;default:true"`
	CreatedAt  time.Time                   `gorm:"column:created_at;not null;default:now();type:timestamptz"`
	UpdatedAt  time.Time                   `gorm:"column:updated_at;not null;default:now();type:timestamptz"`
}

// TableName specifies the table name for the Product model
func (Product) TableName() string {
	return "products"
}
