package integrations

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ecommind/engine/internal/adapter"
	"github.com/ecommind/engine/internal/config"
	"github.com/ecommind/engine/internal/domain"
	"github.com/ecommind/engine/internal/providers/requester"
	"github.com/ecommind/engine/internal/providers/vendors/bling"
	"github.com/ecommind/engine/internal/providers/vendors/meli"
	"github.com/ecommind/engine/internal/providers/vendors/shopee"
	"github.com/ecommind/engine/internal/ratelimit"
	"github.com/ecommind/engine/internal/retry"
	"github.com/ecommind/engine/internal/store/schema"
	"github.com/ecommind/engine/internal/vault"
)

// VendorClients is the vendor-agnostic surface the sync engine and webhook
// handlers consume. Products covers whatever the vendor calls its catalog
// (Bling products, Meli listings, Shopee items).
type VendorClients struct {
	Products func(ctx context.Context, since time.Time, cursor string) (*domain.Page[domain.Product], error)
	Orders   func(ctx context.Context, since time.Time, cursor string) (*domain.Page[domain.Order], error)
	Product  func(ctx context.Context, externalID string) (*domain.Product, error)
	Order    func(ctx context.Context, orderID string) (*domain.Order, error)
}

// Factory builds authenticated vendor clients for integrations. Each client
// is bound to one credential row: its executor carries a CredentialManager
// as token source, so token refresh and persistence happen behind the
// request path.
type Factory struct {
	vendors    config.VendorsConfig
	store      Store
	vault      *vault.Vault
	httpClient adapter.HTTPClient
	limiter    *ratelimit.Limiter
	policy     retry.Policy
	clock      adapter.Clock
	json       adapter.JSON
}

// NewFactory creates a vendor client factory
func NewFactory(vendors config.VendorsConfig, store Store, v *vault.Vault, httpClient adapter.HTTPClient, limiter *ratelimit.Limiter, policy retry.Policy, clock adapter.Clock, json adapter.JSON) *Factory {
	return &Factory{
		vendors:    vendors,
		store:      store,
		vault:      v,
		httpClient: httpClient,
		limiter:    limiter,
		policy:     policy,
		clock:      clock,
		json:       json,
	}
}

// BlingOAuth returns the Bling authorization-code flow handler
func (f *Factory) BlingOAuth() *bling.OAuth {
	exec := f.executor(domain.VendorBling, nil, bling.ParseError(f.json))
	return bling.NewOAuth(f.vendors.Bling, exec, f.json)
}

// MeliOAuth returns the Mercado Livre authorization-code flow handler
func (f *Factory) MeliOAuth() *meli.OAuth {
	exec := f.executor(domain.VendorMeli, nil, meli.ParseError(f.json))
	return meli.NewOAuth(f.vendors.Meli, exec, f.json)
}

// ShopeeOAuth returns the Shopee shop-authorization flow handler
func (f *Factory) ShopeeOAuth() *shopee.OAuth {
	exec := f.executor(domain.VendorShopee, nil, shopee.ParseError(f.json))
	return shopee.NewOAuth(f.vendors.Shopee, exec, f.clock, f.json)
}

// ClientsFor builds the vendor client surface for one integration credential
func (f *Factory) ClientsFor(cred *schema.IntegrationCredential) (*VendorClients, error) {
	vendor := domain.Vendor(cred.Vendor)
	if !vendor.Valid() {
		return nil, fmt.Errorf("unsupported vendor %q", cred.Vendor)
	}

	switch vendor {
	case domain.VendorBling:
		tokens := f.credentialManager(cred, f.BlingOAuth().RefreshToken)
		exec := f.executor(vendor, tokens, bling.ParseError(f.json))
		client := bling.NewClient(cred.CompanyID, f.vendors.Bling, exec, f.json)
		return &VendorClients{
			Products: client.GetProducts,
			Orders:   client.GetOrders,
			Product:  client.GetProduct,
			Order:    client.GetOrder,
		}, nil

	case domain.VendorMeli:
		tokens := f.credentialManager(cred, f.MeliOAuth().RefreshToken)
		exec := f.executor(vendor, tokens, meli.ParseError(f.json))
		client := meli.NewClient(cred.CompanyID, cred.ExternalAccountID, f.vendors.Meli, exec, f.json)
		return &VendorClients{
			Products: client.GetListings,
			Orders:   client.GetOrders,
			Product:  client.GetListing,
			Order:    client.GetOrder,
		}, nil

	default: // domain.VendorShopee
		// Shopee refresh calls need the shop_id the credential is bound to
		shopID := cred.ExternalAccountID
		oauth := f.ShopeeOAuth()
		refresh := func(ctx context.Context, refreshToken string) (*domain.TokenSet, error) {
			return oauth.RefreshToken(ctx, refreshToken, shopID)
		}
		tokens := f.credentialManager(cred, refresh)
		exec := f.executor(vendor, tokens, shopee.ParseError(f.json))
		client := shopee.NewClient(cred.CompanyID, shopID, f.vendors.Shopee, exec, f.clock, f.json)
		return &VendorClients{
			Products: client.GetItems,
			Orders:   client.GetOrders,
			Product:  client.GetItem,
			Order:    client.GetOrder,
		}, nil
	}
}

// ClientsByCompany resolves the credential for (company, vendor) and builds
// its client surface
func (f *Factory) ClientsByCompany(ctx context.Context, companyID uuid.UUID, vendor domain.Vendor) (*VendorClients, error) {
	cred, err := f.store.GetIntegration(ctx, companyID, string(vendor))
	if err != nil {
		return nil, err
	}
	if cred == nil {
		return nil, domain.ErrIntegrationNotFound
	}
	if !cred.Enabled {
		return nil, domain.ErrIntegrationDisabled
	}
	return f.ClientsFor(cred)
}

func (f *Factory) credentialManager(cred *schema.IntegrationCredential, refresh RefreshFunc) *CredentialManager {
	return NewCredentialManager(f.store, f.vault, f.clock, refresh, cred.CompanyID, domain.Vendor(cred.Vendor))
}

func (f *Factory) executor(vendor domain.Vendor, tokens requester.TokenSource, parseError requester.ErrorParser) *requester.Executor {
	return requester.New(vendor, f.httpClient, f.limiter, f.policy, f.clock, tokens, parseError)
}
