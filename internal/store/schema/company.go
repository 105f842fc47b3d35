package schema

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Company represents the companies table - the tenant that owns every other row
type Company struct {
	// ID is the tenant identifier all data is scoped by
	ID uuid.UUID `gorm:"column:id;primaryKey;type:uuid"`
	// Name is the display name of the company
	Name string `gorm:"column:name;not null;type:text"`
	// FocusCategories are the categories the company prioritizes; insights in
	// these categories escalate to P0
	FocusCategories datatypes.JSONSlice[string] `gorm:"column:focus_categories;type:jsonb"`
	// ActiveChannels are the sales channels the company currently operates on
	ActiveChannels datatypes.JSONSlice[string] `gorm:"column:active_channels;type:jsonb"`
	// CommissionPct is the average marketplace commission percentage
	CommissionPct decimal.Decimal `gorm:"column:commission_pct;type:numeric(6,3);not null;default:0"`
	// TaxPct is the effective tax percentage applied on sales
	TaxPct decimal.Decimal `gorm:"column:tax_pct;type:numeric(6,3);not null;default:0"`
	// TargetMarginPct is the target contribution margin used by pricing suggestions
	TargetMarginPct decimal.Decimal `gorm:"column:target_margin_pct;type:numeric(6,3);not null;default:0"`
	CreatedAt       time.Time       `gorm:"column:created_at;not null;default:now();type:timestamptz"`
	UpdatedAt       time.Time       `gorm:"column:updated_at;not null;default:now();type:timestamptz"`
}

// TableName specifies the table name for the Company model
func (Company) TableName() string {
	return "companies"
}
