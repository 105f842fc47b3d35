package schema

import (
	"time"

	"github.com/google/uuid"
)

// IntegrationCredential represents the integration_credentials table - one
// OAuth credential per company and vendor. Tokens are stored encrypted; the
// plaintext never touches this table or the logs. Mutated only by the OAuth
// callback and the token-refresh flow.
type IntegrationCredential struct {
	ID uuid.UUID `gorm:"column:id;primaryKey;type:uuid"`
	// CompanyID is the owning tenant
	CompanyID uuid.UUID `gorm:"column:company_id;not null;type:uuid;uniqueIndex:ux_integration_company_vendor,priority:1"`
	// Vendor is the external system this credential belongs to (bling, meli, shopee)
	Vendor string `gorm:"column:vendor;not null;type:text;uniqueIndex:ux_integration_company_vendor,priority:2"`
	// AccessCipher/AccessIV/AccessTag hold the AES-GCM encrypted access token (hex)
	AccessCipher string `gorm:"column:access_cipher;not null;type:text"`
	AccessIV     string `gorm:"column:access_iv;not null;type:text"`
	AccessTag    string `gorm:"column:access_tag;not null;type:text"`
	// RefreshCipher/RefreshIV/RefreshTag hold the encrypted refresh token (hex)
	RefreshCipher string `gorm:"column:refresh_cipher;not null;type:text"`
	RefreshIV     string `gorm:"column:refresh_iv;not null;type:text"`
	RefreshTag    string `gorm:"column:refresh_tag;not null;type:text"`
	// ExpiresAt is when the access token expires
	ExpiresAt time.Time `gorm:"column:expires_at;not null;type:timestamptz"`
	// Scope is the granted OAuth scope string
	Scope string `gorm:"column:scope;type:text"`
	// ExternalAccountID binds inbound webhooks to this tenant (Meli user_id,
	// Shopee shop_id). Never trusted from request bodies.
	ExternalAccountID string `gorm:"column:external_account_id;type:text;index"`
	// WebhookSecret verifies vendor webhook signatures for this integration
	WebhookSecret string `gorm:"column:webhook_secret;type:text"`
	// Enabled gates both scheduled syncs and webhook processing
	Enabled   bool      `gorm:"column:enabled;not null;default:true"`
	CreatedAt time.Time `gorm:"column:created_at;not null;default:now();type:timestamptz"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null;default:now();type:timestamptz"`
}

// TableName specifies the table name for the IntegrationCredential model
func (IntegrationCredential) TableName() string {
	return "integration_credentials"
}
