package schema

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Mission represents the missions table - actionable work items derived
// from insights (or seeded standalone). Lifecycle:
// backlog -> planned -> in_progress -> done | dismissed.
type Mission struct {
	ID        uuid.UUID `gorm:"column:id;primaryKey;type:uuid"`
	CompanyID uuid.UUID `gorm:"column:company_id;not null;type:uuid;index"`
	// InsightID links back to the spawning insight; nil for seeded missions
	InsightID *uuid.UUID `gorm:"column:insight_id;type:uuid;index"`
	Title     string     `gorm:"column:title;not null;type:text"`
	Summary   string     `gorm:"column:summary;type:text"`
	Status    string     `gorm:"column:status;not null;default:'backlog';type:text;index"`
	// Tags derive from the insight scope (module, channel, category, sku)
	Tags datatypes.JSONSlice[string] `gorm:"column:tags;type:jsonb"`
	// DueDate is insight creation date + the insight's SLA days
	DueDate     *time.Time `gorm:"column:due_date;type:timestamptz"`
	CompletedAt *time.Time `gorm:"column:completed_at;type:timestamptz"`
	CreatedAt   time.Time  `gorm:"column:created_at;not null;default:now();type:timestamptz"`
	UpdatedAt   time.Time  `gorm:"column:updated_at;not null;default:now();type:timestamptz"`
}

// TableName specifies the table name for the Mission model
func (Mission) TableName() string {
	return "missions"
}
