package schema

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// WebhookEvent represents the webhook_events table - the durable record of
// every inbound vendor notification. The natural-key unique index is what
// makes at-least-once vendor delivery at-most-once effective: a redelivery
// with the same key is detected before any processing. Rows are never deleted.
type WebhookEvent struct {
	// ID is a ULID, time-sortable and unique
	ID        string    `gorm:"column:id;primaryKey;type:varchar(26)"`
	CompanyID uuid.UUID `gorm:"column:company_id;not null;type:uuid;uniqueIndex:ux_webhook_events_natural,priority:1"`
	// Vendor is the source marketplace (bling, meli, shopee)
	Vendor string `gorm:"column:vendor;not null;type:text;uniqueIndex:ux_webhook_events_natural,priority:2"`
	// Topic is the vendor event type, e.g. "orders", "order_status"
	Topic string `gorm:"column:topic;not null;type:text;uniqueIndex:ux_webhook_events_natural,priority:3"`
	// ExternalID identifies the affected entity on the vendor side
	ExternalID string `gorm:"column:external_id;not null;type:text;uniqueIndex:ux_webhook_events_natural,priority:4"`
	// Disambiguator captures vendor-specific delivery markers (Meli "sent",
	// Shopee "timestamp") that distinguish genuinely distinct notifications
	// about the same entity
	Disambiguator string `gorm:"column:disambiguator;not null;default:'';type:text;uniqueIndex:ux_webhook_events_natural,priority:5"`
	// Payload is the raw event body as received
	Payload datatypes.JSON `gorm:"column:payload;not null;type:jsonb"`
	// Processed flips to true once the topic handler succeeded
	Processed bool `gorm:"column:processed;not null;default:false"`
	// RetryCount counts failed handler attempts
	RetryCount int `gorm:"column:retry_count;not null;default:0"`
	// ErrorMessage holds the most recent handler failure
	ErrorMessage string    `gorm:"column:error_message;type:text"`
	CreatedAt    time.Time `gorm:"column:created_at;not null;default:now();type:timestamptz"`
	UpdatedAt    time.Time `gorm:"column:updated_at;not null;default:now();type:timestamptz"`
}

// TableName specifies the table name for the WebhookEvent model
func (WebhookEvent) TableName() string {
	return "webhook_events"
}
