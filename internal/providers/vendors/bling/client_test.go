package bling_test

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecommind/engine/internal/adapter"
	"github.com/ecommind/engine/internal/config"
	"github.com/ecommind/engine/internal/domain"
	"github.com/ecommind/engine/internal/logger"
	"github.com/ecommind/engine/internal/providers/requester"
	"github.com/ecommind/engine/internal/providers/vendors/bling"
	"github.com/ecommind/engine/internal/retry"
)

func TestMain(m *testing.M) {
	// Initialize logger for tests
	err := logger.Initialize(logger.Config{
		Debug: false,
	})
	if err != nil {
		panic(err)
	}

	code := m.Run()
	os.Exit(code)
}

type recordedCall struct {
	method  string
	url     string
	headers map[string]string
	body    []byte
}

// scriptedHTTP replays a fixed response sequence and records every call
type scriptedHTTP struct {
	responses []*adapter.Response

	calls []recordedCall
}

func (s *scriptedHTTP) Do(_ context.Context, method, reqURL string, headers map[string]string, body io.Reader) (*adapter.Response, error) {
	var raw []byte
	if body != nil {
		raw, _ = io.ReadAll(body)
	}
	s.calls = append(s.calls, recordedCall{method: method, url: reqURL, headers: headers, body: raw})
	resp := s.responses[0]
	if len(s.responses) > 1 {
		s.responses = s.responses[1:]
	}
	return resp, nil
}

func (s *scriptedHTTP) query(t *testing.T, call int) url.Values {
	t.Helper()
	u, err := url.Parse(s.calls[call].url)
	require.NoError(t, err)
	return u.Query()
}

type staticTokens struct{}

func (staticTokens) AccessToken(context.Context) (string, error) { return "access-token", nil }

func (staticTokens) ForceRefresh(context.Context) (string, error) { return "access-token", nil }

type stubClock struct {
	now time.Time
}

func (c stubClock) Now() time.Time { return c.now }

func (c stubClock) Since(t time.Time) time.Duration { return c.now.Sub(t) }

func (c stubClock) Sleep(time.Duration) {}

func (c stubClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

func ok(body string) *adapter.Response {
	return &adapter.Response{StatusCode: http.StatusOK, Header: http.Header{}, Body: []byte(body)}
}

func testConfig() config.VendorConfig {
	return config.VendorConfig{
		APIURL:       "https://api.bling.test/Api/v3",
		TokenURL:     "https://api.bling.test/Api/v3/oauth/token",
		ClientID:     "client-id",
		ClientSecret: "client-secret",
	}
}

func fastPolicy() retry.Policy {
	return retry.Policy{MaxRetries: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}
}

func newClient(httpClient *scriptedHTTP, companyID uuid.UUID) bling.Client {
	exec := requester.New(domain.VendorBling, httpClient, nil, fastPolicy(), stubClock{}, staticTokens{}, nil)
	return bling.NewClient(companyID, testConfig(), exec, adapter.NewJSON())
}

func TestGetProducts(t *testing.T) {
	companyID := uuid.New()

	t.Run("maps a partial page", func(t *testing.T) {
		httpClient := &scriptedHTTP{responses: []*adapter.Response{ok(`{
			"data": [
				{
					"id": 1001,
					"nome": "Garrafa Termica Inox 1L",
					"codigo": "GAR-01",
					"preco": 89.9,
					"situacao": "A",
					"estoque": {"saldoVirtualTotal": 42},
					"categoria": {"descricao": "Cozinha"},
					"variacoes": [{"nome": "Cor:Preto"}, {"nome": ""}]
				},
				{
					"id": 1002,
					"nome": "Produto sem codigo",
					"preco": 10,
					"situacao": "I"
				}
			]
		}`)}}
		client := newClient(httpClient, companyID)

		since := time.Date(2025, 6, 15, 11, 30, 0, 0, time.UTC)
		page, err := client.GetProducts(context.Background(), since, "")
		require.NoError(t, err)

		// Bling returns no total; a short page means the end
		assert.False(t, page.HasMore)
		assert.Equal(t, "2", page.NextCursor)
		require.Len(t, page.Items, 2)

		first := page.Items[0]
		assert.Equal(t, companyID, first.CompanyID)
		assert.Equal(t, domain.VendorBling, first.Vendor)
		assert.Equal(t, "GAR-01", first.SKU)
		assert.Equal(t, "1001", first.ExternalID)
		assert.True(t, first.Price.Equal(decimal.NewFromFloat(89.9)))
		assert.Equal(t, 42, first.Stock)
		assert.Equal(t, "Cozinha", first.Category)
		assert.Equal(t, []string{"Cor:Preto"}, first.Variations)
		assert.True(t, first.Active)

		// Without a merchant code the Bling ID keeps the upsert key non-empty
		second := page.Items[1]
		assert.Equal(t, "1002", second.SKU)
		assert.False(t, second.Active)

		q := httpClient.query(t, 0)
		assert.Equal(t, "1", q.Get("pagina"))
		assert.Equal(t, "100", q.Get("limite"))
		assert.Equal(t, "2025-06-15 11:30:00", q.Get("dataAlteracaoInicial"))
		assert.Equal(t, "Bearer access-token", httpClient.calls[0].headers["Authorization"])
	})

	t.Run("a full page means more to fetch", func(t *testing.T) {
		records := make([]string, 100)
		for i := range records {
			records[i] = fmt.Sprintf(`{"id": %d, "nome": "P", "preco": 1, "situacao": "A"}`, i+1)
		}
		httpClient := &scriptedHTTP{responses: []*adapter.Response{
			ok(`{"data": [` + strings.Join(records, ",") + `]}`),
		}}
		client := newClient(httpClient, companyID)

		page, err := client.GetProducts(context.Background(), time.Time{}, "3")
		require.NoError(t, err)

		assert.True(t, page.HasMore)
		assert.Equal(t, "4", page.NextCursor)

		q := httpClient.query(t, 0)
		assert.Equal(t, "3", q.Get("pagina"))
		// A zero boundary syncs the full history
		assert.Empty(t, q.Get("dataAlteracaoInicial"))
	})

	t.Run("rejects a bad cursor", func(t *testing.T) {
		client := newClient(&scriptedHTTP{responses: []*adapter.Response{ok(`{}`)}}, companyID)

		_, err := client.GetProducts(context.Background(), time.Time{}, "zero")
		assert.Error(t, err)

		_, err = client.GetProducts(context.Background(), time.Time{}, "0")
		assert.Error(t, err)
	})
}

func TestGetOrders(t *testing.T) {
	companyID := uuid.New()

	httpClient := &scriptedHTTP{responses: []*adapter.Response{ok(`{
		"data": [
			{
				"id": 555,
				"numero": 123,
				"data": "2025-06-10",
				"total": 199.8,
				"situacao": {"id": 9},
				"contato": {"nome": "Maria"},
				"loja": {"id": 204},
				"itens": [
					{"codigo": "GAR-01", "descricao": "Garrafa", "quantidade": 2, "valor": 99.9}
				]
			},
			{
				"id": 556,
				"data": "not-a-date",
				"situacao": {"id": 99},
				"contato": {},
				"loja": {}
			}
		]
	}`)}}
	client := newClient(httpClient, companyID)

	page, err := client.GetOrders(context.Background(), time.Time{}, "")
	require.NoError(t, err)
	require.Len(t, page.Items, 2)

	first := page.Items[0]
	assert.Equal(t, "555", first.OrderID)
	assert.Equal(t, "fulfilled", first.Status)
	assert.Equal(t, "204", first.Channel)
	assert.Equal(t, "Maria", first.Buyer)
	assert.Equal(t, time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC), first.PlacedAt)
	require.Len(t, first.Items, 1)
	assert.Equal(t, 1, first.Items[0].Seq)
	assert.Equal(t, 2, first.Items[0].Quantity)
	assert.True(t, first.Items[0].Total.Equal(decimal.NewFromFloat(199.8)))

	// Unknown situation IDs and unparsable dates stay defined
	second := page.Items[1]
	assert.Equal(t, "unknown", second.Status)
	assert.True(t, second.PlacedAt.IsZero())
	assert.Empty(t, second.Channel)

	u, err := url.Parse(httpClient.calls[0].url)
	require.NoError(t, err)
	assert.Equal(t, "/Api/v3/pedidos/vendas", u.Path)
}

func TestGetSingleEntities(t *testing.T) {
	companyID := uuid.New()

	t.Run("order by id", func(t *testing.T) {
		httpClient := &scriptedHTTP{responses: []*adapter.Response{ok(`{
			"data": {"id": 555, "data": "2025-06-10", "total": 50, "situacao": {"id": 6}, "contato": {"nome": "Jo"}, "loja": {"id": 1}}
		}`)}}
		client := newClient(httpClient, companyID)

		order, err := client.GetOrder(context.Background(), "555")
		require.NoError(t, err)
		assert.Equal(t, "555", order.OrderID)
		assert.Equal(t, "open", order.Status)

		u, _ := url.Parse(httpClient.calls[0].url)
		assert.Equal(t, "/Api/v3/pedidos/vendas/555", u.Path)
	})

	t.Run("product by id", func(t *testing.T) {
		httpClient := &scriptedHTTP{responses: []*adapter.Response{ok(`{
			"data": {"id": 1001, "nome": "Garrafa", "codigo": "GAR-01", "preco": 89.9, "situacao": "A"}
		}`)}}
		client := newClient(httpClient, companyID)

		product, err := client.GetProduct(context.Background(), "1001")
		require.NoError(t, err)
		assert.Equal(t, "GAR-01", product.SKU)

		u, _ := url.Parse(httpClient.calls[0].url)
		assert.Equal(t, "/Api/v3/produtos/1001", u.Path)
	})
}

func TestOAuth(t *testing.T) {
	newOAuth := func(httpClient *scriptedHTTP) *bling.OAuth {
		exec := requester.New(domain.VendorBling, httpClient, nil, fastPolicy(), stubClock{}, nil, nil)
		return bling.NewOAuth(testConfig(), exec, adapter.NewJSON())
	}

	t.Run("exchanges a code under the basic credential", func(t *testing.T) {
		httpClient := &scriptedHTTP{responses: []*adapter.Response{ok(`{
			"access_token": "new-access",
			"refresh_token": "new-refresh",
			"expires_in": 21600,
			"scope": "produtos pedidos"
		}`)}}
		oauth := newOAuth(httpClient)

		tokens, err := oauth.ExchangeCode(context.Background(), "auth-code")
		require.NoError(t, err)
		assert.Equal(t, "new-access", tokens.AccessToken)
		assert.Equal(t, "new-refresh", tokens.RefreshToken)
		assert.Equal(t, "produtos pedidos", tokens.Scope)

		call := httpClient.calls[0]
		basic := base64.StdEncoding.EncodeToString([]byte("client-id:client-secret"))
		assert.Equal(t, "Basic "+basic, call.headers["Authorization"])

		form, err := url.ParseQuery(string(call.body))
		require.NoError(t, err)
		assert.Equal(t, "authorization_code", form.Get("grant_type"))
		assert.Equal(t, "auth-code", form.Get("code"))
	})

	t.Run("refresh sends the refresh grant", func(t *testing.T) {
		httpClient := &scriptedHTTP{responses: []*adapter.Response{ok(`{"access_token": "rotated", "expires_in": 21600}`)}}
		oauth := newOAuth(httpClient)

		tokens, err := oauth.RefreshToken(context.Background(), "old-refresh")
		require.NoError(t, err)
		assert.Equal(t, "rotated", tokens.AccessToken)

		form, err := url.ParseQuery(string(httpClient.calls[0].body))
		require.NoError(t, err)
		assert.Equal(t, "refresh_token", form.Get("grant_type"))
		assert.Equal(t, "old-refresh", form.Get("refresh_token"))
	})

	t.Run("a token payload without an access token is an error", func(t *testing.T) {
		httpClient := &scriptedHTTP{responses: []*adapter.Response{ok(`{"scope": "produtos"}`)}}
		oauth := newOAuth(httpClient)

		_, err := oauth.ExchangeCode(context.Background(), "auth-code")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "missing access_token")
	})
}

func TestAuthorizationURL(t *testing.T) {
	cfg := testConfig()
	cfg.AuthURL = "https://www.bling.test/oauth/authorize"
	oauth := bling.NewOAuth(cfg, nil, adapter.NewJSON())

	raw := oauth.AuthorizationURL("state-123")
	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "code", u.Query().Get("response_type"))
	assert.Equal(t, "client-id", u.Query().Get("client_id"))
	assert.Equal(t, "state-123", u.Query().Get("state"))
}
