package integrations

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/ecommind/engine/internal/domain"
	"github.com/ecommind/engine/internal/store/schema"
)

// AuthorizationURL builds the vendor consent URL a merchant is redirected to
// when connecting an integration. The state round-trips through the vendor
// and comes back on the callback.
func (f *Factory) AuthorizationURL(vendor domain.Vendor, state string) (string, error) {
	switch vendor {
	case domain.VendorBling:
		return f.BlingOAuth().AuthorizationURL(state), nil
	case domain.VendorMeli:
		return f.MeliOAuth().AuthorizationURL(state), nil
	case domain.VendorShopee:
		return f.ShopeeOAuth().AuthorizationURL(state), nil
	default:
		return "", fmt.Errorf("unsupported vendor %q", vendor)
	}
}

// Connect completes a vendor authorization for a company: the callback code
// is exchanged for a token set, the tokens are encrypted, and the credential
// is stored enabled. Reconnecting an existing integration replaces its tokens.
func (f *Factory) Connect(ctx context.Context, companyID uuid.UUID, vendor domain.Vendor, code, shopID string) (*schema.IntegrationCredential, error) {
	tokens, err := f.exchangeCode(ctx, vendor, code, shopID)
	if err != nil {
		return nil, err
	}

	cred := &schema.IntegrationCredential{
		ID:            uuid.New(),
		CompanyID:     companyID,
		Vendor:        string(vendor),
		WebhookSecret: f.webhookSecret(vendor),
		Enabled:       true,
	}
	if err := EncryptInto(f.vault, cred, tokens); err != nil {
		return nil, err
	}

	if err := f.store.UpsertIntegration(ctx, cred); err != nil {
		return nil, fmt.Errorf("failed to persist %s integration: %w", vendor, err)
	}
	return cred, nil
}

func (f *Factory) exchangeCode(ctx context.Context, vendor domain.Vendor, code, shopID string) (*domain.TokenSet, error) {
	if code == "" {
		return nil, domain.NewValidationError("authorization code is required")
	}

	switch vendor {
	case domain.VendorBling:
		return f.BlingOAuth().ExchangeCode(ctx, code)
	case domain.VendorMeli:
		return f.MeliOAuth().ExchangeCode(ctx, code)
	case domain.VendorShopee:
		if shopID == "" {
			return nil, domain.NewValidationError("shop_id is required for shopee")
		}
		return f.ShopeeOAuth().ExchangeCode(ctx, code, shopID)
	default:
		return nil, fmt.Errorf("unsupported vendor %q", vendor)
	}
}

func (f *Factory) webhookSecret(vendor domain.Vendor) string {
	switch vendor {
	case domain.VendorBling:
		return f.vendors.Bling.WebhookSecret
	case domain.VendorMeli:
		return f.vendors.Meli.WebhookSecret
	default:
		return f.vendors.Shopee.WebhookSecret
	}
}
