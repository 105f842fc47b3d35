package integrations_test

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecommind/engine/internal/adapter"
	"github.com/ecommind/engine/internal/config"
	"github.com/ecommind/engine/internal/domain"
	"github.com/ecommind/engine/internal/integrations"
	"github.com/ecommind/engine/internal/retry"
	"github.com/ecommind/engine/internal/vault"
)

// scriptedHTTP replays a fixed response sequence and records request URLs
type scriptedHTTP struct {
	responses []*adapter.Response

	urls []string
}

func (s *scriptedHTTP) Do(_ context.Context, _ string, reqURL string, _ map[string]string, body io.Reader) (*adapter.Response, error) {
	if body != nil {
		_, _ = io.ReadAll(body)
	}
	s.urls = append(s.urls, reqURL)
	resp := s.responses[0]
	if len(s.responses) > 1 {
		s.responses = s.responses[1:]
	}
	return resp, nil
}

func connectVendors() config.VendorsConfig {
	return config.VendorsConfig{
		Bling: config.VendorConfig{
			AuthURL:       "https://www.bling.test/oauth/authorize",
			TokenURL:      "https://api.bling.test/oauth/token",
			ClientID:      "bling-app",
			ClientSecret:  "bling-secret",
			WebhookSecret: "bling-webhook",
		},
		Meli: config.VendorConfig{
			AuthURL:      "https://auth.meli.test/authorization",
			TokenURL:     "https://api.meli.test/oauth/token",
			ClientID:     "meli-app",
			ClientSecret: "meli-secret",
			RedirectURI:  "https://app.test/callback",
		},
		Shopee: config.VendorConfig{
			APIURL:        "https://partner.shopee.test",
			PartnerID:     "2007777",
			PartnerKey:    "partner-key",
			RedirectURI:   "https://app.test/callback",
			WebhookSecret: "push-key",
		},
	}
}

func newConnectFactory(store *fakeCredStore, httpClient *scriptedHTTP) *integrations.Factory {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	policy := retry.Policy{MaxRetries: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}
	v, err := vault.New(testVaultSecret)
	if err != nil {
		panic(err)
	}
	return integrations.NewFactory(connectVendors(), store, v, httpClient, nil, policy, stubClock{now: now}, adapter.NewJSON())
}

func okJSON(body string) *adapter.Response {
	return &adapter.Response{StatusCode: http.StatusOK, Header: http.Header{}, Body: []byte(body)}
}

func TestConnect(t *testing.T) {
	companyID := uuid.New()

	t.Run("a bling code exchange persists an enabled encrypted credential", func(t *testing.T) {
		store := &fakeCredStore{}
		httpClient := &scriptedHTTP{responses: []*adapter.Response{okJSON(`{
			"access_token": "bling-access",
			"refresh_token": "bling-refresh",
			"expires_in": 21600,
			"scope": "orders products"
		}`)}}
		factory := newConnectFactory(store, httpClient)

		cred, err := factory.Connect(context.Background(), companyID, domain.VendorBling, "auth-code", "")
		require.NoError(t, err)

		require.Len(t, store.upserts, 1)
		saved := store.upserts[0]
		assert.Equal(t, companyID, saved.CompanyID)
		assert.Equal(t, "bling", saved.Vendor)
		assert.True(t, saved.Enabled)
		assert.Equal(t, "bling-webhook", saved.WebhookSecret)
		assert.Equal(t, "orders products", saved.Scope)

		// The stored pair is encrypted, never plaintext, and decrypts back
		v, _ := vault.New(testVaultSecret)
		access, err := v.Decrypt(vault.EncryptedToken{
			Cipher: saved.AccessCipher, IV: saved.AccessIV, Tag: saved.AccessTag,
		})
		require.NoError(t, err)
		assert.Equal(t, "bling-access", access)
		assert.Equal(t, cred, saved)
	})

	t.Run("a shopee exchange binds the credential to the callback shop", func(t *testing.T) {
		store := &fakeCredStore{}
		httpClient := &scriptedHTTP{responses: []*adapter.Response{okJSON(`{
			"error": "", "access_token": "shop-access", "refresh_token": "shop-refresh", "expire_in": 14400
		}`)}}
		factory := newConnectFactory(store, httpClient)

		cred, err := factory.Connect(context.Background(), companyID, domain.VendorShopee, "shop-code", "777")
		require.NoError(t, err)
		assert.Equal(t, "777", cred.ExternalAccountID)
		assert.Equal(t, "push-key", cred.WebhookSecret)
		require.Len(t, store.upserts, 1)
	})

	t.Run("shopee requires the callback shop_id", func(t *testing.T) {
		store := &fakeCredStore{}
		factory := newConnectFactory(store, &scriptedHTTP{responses: []*adapter.Response{okJSON(`{}`)}})

		_, err := factory.Connect(context.Background(), companyID, domain.VendorShopee, "shop-code", "")
		_, ok := domain.AsValidationError(err)
		assert.True(t, ok, "expected a validation error, got %v", err)
		assert.Empty(t, store.upserts)
	})

	t.Run("a missing code never reaches the vendor", func(t *testing.T) {
		store := &fakeCredStore{}
		httpClient := &scriptedHTTP{responses: []*adapter.Response{okJSON(`{}`)}}
		factory := newConnectFactory(store, httpClient)

		_, err := factory.Connect(context.Background(), companyID, domain.VendorBling, "", "")
		_, ok := domain.AsValidationError(err)
		assert.True(t, ok, "expected a validation error, got %v", err)
		assert.Empty(t, httpClient.urls)
	})

	t.Run("a rejected exchange persists nothing", func(t *testing.T) {
		store := &fakeCredStore{}
		httpClient := &scriptedHTTP{responses: []*adapter.Response{okJSON(`{"scope": "orders"}`)}}
		factory := newConnectFactory(store, httpClient)

		_, err := factory.Connect(context.Background(), companyID, domain.VendorBling, "bad-code", "")
		require.Error(t, err)
		assert.Empty(t, store.upserts)
	})
}

func TestAuthorizationURL(t *testing.T) {
	factory := newConnectFactory(&fakeCredStore{}, &scriptedHTTP{})

	t.Run("builds the vendor consent URL with the state", func(t *testing.T) {
		got, err := factory.AuthorizationURL(domain.VendorBling, "company-123")
		require.NoError(t, err)
		assert.Contains(t, got, "https://www.bling.test/oauth/authorize?")
		assert.Contains(t, got, "client_id=bling-app")
		assert.Contains(t, got, "state=company-123")
	})

	t.Run("shopee urls are signed", func(t *testing.T) {
		got, err := factory.AuthorizationURL(domain.VendorShopee, "company-123")
		require.NoError(t, err)
		assert.Contains(t, got, "https://partner.shopee.test/api/v2/shop/auth_partner?")
		assert.Contains(t, got, "partner_id=2007777")
		assert.Contains(t, got, "sign=")
	})

	t.Run("rejects unknown vendors", func(t *testing.T) {
		_, err := factory.AuthorizationURL(domain.Vendor("acme"), "company-123")
		assert.Error(t, err)
	})
}
