package schema

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Order represents the orders table - canonical orders keyed by
// (company_id, order_id) for idempotent upserts
type Order struct {
	ID        uint64    `gorm:"column:id;primaryKey;autoIncrement"`
	CompanyID uuid.UUID `gorm:"column:company_id;not null;type:uuid;uniqueIndex:ux_orders_company_order,priority:1"`
	// OrderID is the vendor-side order identifier
	OrderID   string          `gorm:"column:order_id;not null;type:text;uniqueIndex:ux_orders_company_order,priority:2"`
	Vendor    string          `gorm:"column:vendor;not null;type:text"`
	Status    string          `gorm:"column:status;not null;type:text"`
	Channel   string          `gorm:"column:channel;type:text"`
	Buyer     string          `gorm:"column:buyer;type:text"`
	Total     decimal.Decimal `gorm:"column:total;type:numeric(12,2);not null;default:0"`
	PlacedAt  time.Time       `gorm:"column:placed_at;not null;type:timestamptz;index"`
	CreatedAt time.Time       `gorm:"column:created_at;not null;default:now();type:timestamptz"`
	UpdatedAt time.Time       `gorm:"column:updated_at;not null;default:now();type:timestamptz"`
}

// TableName specifies the table name for the Order model
func (Order) TableName() string {
	return "orders"
}

// OrderItem represents the order_items table - line items keyed by
// (company_id, order_id, seq)
type OrderItem struct {
	ID        uint64    `gorm:"column:id;primaryKey;autoIncrement"`
	CompanyID uuid.UUID `gorm:"column:company_id;not null;type:uuid;uniqueIndex:ux_order_items_company_order_seq,priority:1"`
	OrderID   string    `gorm:"column:order_id;not null;type:text;uniqueIndex:ux_order_items_company_order_seq,priority:2"`
	// Seq is the item's position within the order, part of the natural key
	Seq       int             `gorm:"column:seq;not null;uniqueIndex:ux_order_items_company_order_seq,priority:3"`
	SKU       string          `gorm:"column:sku;type:text;index"`
	Title     string          `gorm:"column:title;type:text"`
	Quantity  int             `gorm:"column:quantity;not null;default:0"`
	UnitPrice decimal.Decimal `gorm:"column:unit_price;type:numeric(12,2);not null;default:0"`
	Total     decimal.Decimal `gorm:"column:total;type:numeric(12,2);not null;default:0"`
	CreatedAt time.Time       `gorm:"column:created_at;not null;default:now();type:timestamptz"`
	UpdatedAt time.Time       `gorm:"column:updated_at;not null;default:now();type:timestamptz"`
}

// TableName specifies the table name for the OrderItem model
func (OrderItem) TableName() string {
	return "order_items"
}
