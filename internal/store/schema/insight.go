package schema

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Insight represents the insights table - scored market-intelligence
// findings. Immutable once saved; the (company_id, dedupe_key) unique index
// is what keeps the same opportunity from being re-emitted within a period.
type Insight struct {
	ID        uuid.UUID `gorm:"column:id;primaryKey;type:uuid"`
	CompanyID uuid.UUID `gorm:"column:company_id;not null;type:uuid;uniqueIndex:ux_insights_company_dedupe,priority:1"`
	// DedupeKey is deterministic: {module}:{type}:{identifier}[:{extra}]:{YYYY-MM}
	DedupeKey string `gorm:"column:dedupe_key;not null;type:text;uniqueIndex:ux_insights_company_dedupe,priority:2"`
	Type      string `gorm:"column:type;not null;type:text;index"`
	Title     string `gorm:"column:title;not null;type:text"`
	Summary   string `gorm:"column:summary;type:text"`
	Priority  string `gorm:"column:priority;not null;type:text"`
	SLADays   int    `gorm:"column:sla_days;not null;default:0"`
	// Confidence is the heuristic score in [0.5, 0.95]
	Confidence     float64             `gorm:"column:confidence;not null;default:0"`
	ImpactEstimate decimal.NullDecimal `gorm:"column:impact_estimate;type:numeric(14,2)"`
	// Scope names the module/channel/category/sku the insight is about
	Scope datatypes.JSON `gorm:"column:scope;type:jsonb"`
	// Payload is the full rule output for the UI
	Payload   datatypes.JSON `gorm:"column:payload;type:jsonb"`
	CreatedAt time.Time      `gorm:"column:created_at;not null;default:now();type:timestamptz"`
}

// TableName specifies the table name for the Insight model
func (Insight) TableName() string {
	return "insights"
}
