package schema

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// MarketDataset represents the market_datasets table - one uploaded or
// ingested batch of market observations
type MarketDataset struct {
	ID        uuid.UUID `gorm:"column:id;primaryKey;type:uuid"`
	CompanyID uuid.UUID `gorm:"column:company_id;not null;type:uuid;index"`
	Name      string    `gorm:"column:name;not null;type:text"`
	Channel   string    `gorm:"column:channel;type:text"`
	LoadedAt  time.Time `gorm:"column:loaded_at;not null;default:now();type:timestamptz"`
}

// TableName specifies the table name for the MarketDataset model
func (MarketDataset) TableName() string {
	return "market_datasets"
}

// MarketRecord represents the market_records table - one observed
// listing/keyword/category row. Immutable once loaded; the insight engine
// only ever reads these.
type MarketRecord struct {
	ID        uuid.UUID `gorm:"column:id;primaryKey;type:uuid"`
	DatasetID uuid.UUID `gorm:"column:dataset_id;not null;type:uuid;index"`
	Title     string    `gorm:"column:title;not null;type:text"`
	// Identifier is the listing/keyword identifier within the dataset
	Identifier string `gorm:"column:identifier;not null;type:text"`
	Category   string `gorm:"column:category;type:text"`
	Channel    string `gorm:"column:channel;type:text"`
	// Optional metrics stay nullable; their presence feeds the confidence score
	Price        decimal.NullDecimal `gorm:"column:price;type:numeric(12,2)"`
	PriceMedian  decimal.NullDecimal `gorm:"column:price_median;type:numeric(12,2)"`
	DemandIndex  *float64            `gorm:"column:demand_index"`
	GrowthRate   *float64            `gorm:"column:growth_rate"`
	SellersTop   *int                `gorm:"column:sellers_top"`
	UnitsSoldEst *int                `gorm:"column:units_sold_est"`
	RevenueEst   *float64            `gorm:"column:revenue_est"`
	// Attributes carries free-form observed attributes (variation labels etc.)
	Attributes datatypes.JSONType[map[string]string] `gorm:"column:attributes;type:jsonb"`
	CreatedAt  time.Time                             `gorm:"column:created_at;not null;default:now();type:timestamptz"`
}

// TableName specifies the table name for the MarketRecord model
func (MarketRecord) TableName() string {
	return "market_records"
}
