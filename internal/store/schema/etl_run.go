package schema

import (
	"time"

	"github.com/google/uuid"
)

// EtlRun represents the etl_runs table - one row per extraction attempt.
// Created before any network I/O, finished exactly once with the outcome.
// Serves as the audit trail for checkpoint correctness.
type EtlRun struct {
	ID        uuid.UUID `gorm:"column:id;primaryKey;type:uuid"`
	CompanyID uuid.UUID `gorm:"column:company_id;not null;type:uuid;index:idx_etl_runs_company_source,priority:1"`
	// Source scopes the run, e.g. "bling.products"
	Source     string     `gorm:"column:source;not null;type:text;index:idx_etl_runs_company_source,priority:2"`
	StartedAt  time.Time  `gorm:"column:started_at;not null;type:timestamptz"`
	FinishedAt *time.Time `gorm:"column:finished_at;type:timestamptz"`
	// OK is true only when the full extraction loop completed
	OK bool `gorm:"column:ok;not null;default:false"`
	// Pages/Rows reflect progress actually written, even on failure
	Pages int `gorm:"column:pages;not null;default:0"`
	Rows  int `gorm:"column:rows;not null;default:0"`
	// Error holds the failure message when OK is false
	Error string `gorm:"column:error;type:text"`
}

// TableName specifies the table name for the EtlRun model
func (EtlRun) TableName() string {
	return "etl_runs"
}
