package schema

import (
	"time"

	"github.com/google/uuid"
)

// EtlCheckpoint represents the etl_checkpoints table - one row per
// (company, source). Read before each sync to compute the incremental
// boundary; written only after a fully successful run, so a failed run can
// never move the boundary forward and create a silent data gap.
type EtlCheckpoint struct {
	CompanyID uuid.UUID `gorm:"column:company_id;primaryKey;type:uuid"`
	Source    string    `gorm:"column:source;primaryKey;type:text"`
	LastRunAt time.Time `gorm:"column:last_run_at;not null;type:timestamptz"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null;default:now();type:timestamptz"`
}

// TableName specifies the table name for the EtlCheckpoint model
func (EtlCheckpoint) TableName() string {
	return "etl_checkpoints"
}
