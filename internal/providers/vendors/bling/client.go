package bling

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/ecommind/engine/internal/adapter"
	"github.com/ecommind/engine/internal/config"
	"github.com/ecommind/engine/internal/domain"
	"github.com/ecommind/engine/internal/providers/requester"
)

const (
	// PROVIDER_NAME identifies this adapter in logs and rate-limit buckets
	PROVIDER_NAME = "bling"

	// pageLimit is Bling v3's maximum page size
	pageLimit = 100

	// dateLayout is the timestamp format Bling v3 accepts in filters
	dateLayout = "2006-01-02 15:04:05"
)

// tokenResponse is Bling's OAuth token endpoint payload
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	Scope        string `json:"scope"`
}

// productsResponse wraps Bling's GET /produtos payload. Bling v3 returns no
// total count, so hasMore is inferred from a full page.
type productsResponse struct {
	Data []productRecord `json:"data"`
}

type productRecord struct {
	ID       int64   `json:"id"`
	Nome     string  `json:"nome"`
	Codigo   string  `json:"codigo"`
	Preco    float64 `json:"preco"`
	Situacao string  `json:"situacao"`
	Estoque  *struct {
		SaldoVirtualTotal float64 `json:"saldoVirtualTotal"`
	} `json:"estoque"`
	Categoria *struct {
		Descricao string `json:"descricao"`
	} `json:"categoria"`
	Variacoes []struct {
		Nome string `json:"nome"`
	} `json:"variacoes"`
}

// ordersResponse wraps Bling's GET /pedidos/vendas payload
type ordersResponse struct {
	Data []orderRecord `json:"data"`
}

type orderRecord struct {
	ID       int64   `json:"id"`
	Numero   int64   `json:"numero"`
	Data     string  `json:"data"`
	Total    float64 `json:"total"`
	Situacao struct {
		ID int `json:"id"`
	} `json:"situacao"`
	Contato struct {
		Nome string `json:"nome"`
	} `json:"contato"`
	Loja struct {
		ID int64 `json:"id"`
	} `json:"loja"`
	Itens []orderItemRecord `json:"itens"`
}

type orderItemRecord struct {
	Codigo     string  `json:"codigo"`
	Descricao  string  `json:"descricao"`
	Quantidade float64 `json:"quantidade"`
	Valor      float64 `json:"valor"`
}

type orderDetailResponse struct {
	Data orderRecord `json:"data"`
}

type productDetailResponse struct {
	Data productRecord `json:"data"`
}

// errorResponse is Bling's error envelope
type errorResponse struct {
	Error struct {
		Type        string `json:"type"`
		Message     string `json:"message"`
		Description string `json:"description"`
	} `json:"error"`
}

// ParseError extracts the message from a Bling error body
func ParseError(json adapter.JSON) requester.ErrorParser {
	return func(_ int, body []byte) string {
		var resp errorResponse
		if err := json.Unmarshal(body, &resp); err != nil || resp.Error.Message == "" {
			return string(body)
		}
		return resp.Error.Message
	}
}

// OAuth handles Bling's authorization-code flow. Token calls authenticate
// with the Basic client credential, not a bearer token, so they run on an
// executor without a token source.
type OAuth struct {
	cfg  config.VendorConfig
	exec *requester.Executor
	json adapter.JSON
}

// NewOAuth creates the Bling OAuth flow handler
func NewOAuth(cfg config.VendorConfig, exec *requester.Executor, json adapter.JSON) *OAuth {
	return &OAuth{cfg: cfg, exec: exec, json: json}
}

// AuthorizationURL builds the consent URL the merchant is redirected to
func (o *OAuth) AuthorizationURL(state string) string {
	q := url.Values{}
	q.Set("response_type", "code")
	q.Set("client_id", o.cfg.ClientID)
	q.Set("state", state)
	return fmt.Sprintf("%s?%s", o.cfg.AuthURL, q.Encode())
}

// ExchangeCode trades an authorization code for a token set
func (o *OAuth) ExchangeCode(ctx context.Context, code string) (*domain.TokenSet, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	return o.requestToken(ctx, form)
}

// RefreshToken rotates an expired or revoked access token
func (o *OAuth) RefreshToken(ctx context.Context, refreshToken string) (*domain.TokenSet, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	return o.requestToken(ctx, form)
}

func (o *OAuth) requestToken(ctx context.Context, form url.Values) (*domain.TokenSet, error) {
	basic := base64.StdEncoding.EncodeToString([]byte(o.cfg.ClientID + ":" + o.cfg.ClientSecret))

	respBody, err := o.exec.Do(ctx, func(_ string) (*requester.Request, error) {
		return &requester.Request{
			Method: "POST",
			URL:    o.cfg.TokenURL,
			Headers: map[string]string{
				"Authorization": "Basic " + basic,
				"Content-Type":  "application/x-www-form-urlencoded",
			},
			Body: []byte(form.Encode()),
		}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to call Bling token endpoint: %w", err)
	}

	var resp tokenResponse
	if err := o.json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal Bling token response: %w", err)
	}
	if resp.AccessToken == "" {
		return nil, fmt.Errorf("bling token response missing access_token")
	}

	return &domain.TokenSet{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		ExpiresAt:    time.Now().Add(time.Duration(resp.ExpiresIn) * time.Second),
		Scope:        resp.Scope,
	}, nil
}

// Client defines the Bling operations the sync engine consumes
//
//go:generate mockgen -source=client.go -destination=../../../mocks/bling_client.go -package=mocks -mock_names=Client=MockBlingClient
type Client interface {
	// GetProducts fetches one page of products changed since the given time.
	// The cursor is the page number; empty means the first page.
	GetProducts(ctx context.Context, since time.Time, cursor string) (*domain.Page[domain.Product], error)
	// GetOrders fetches one page of sales orders changed since the given time
	GetOrders(ctx context.Context, since time.Time, cursor string) (*domain.Page[domain.Order], error)
	// GetOrder fetches a single order by Bling ID, for webhook-driven updates
	GetOrder(ctx context.Context, orderID string) (*domain.Order, error)
	// GetProduct fetches a single product by Bling ID
	GetProduct(ctx context.Context, productID string) (*domain.Product, error)
}

// BlingClient implements the Bling ERP adapter over the shared executor
type BlingClient struct {
	companyID uuid.UUID
	cfg       config.VendorConfig
	exec      *requester.Executor
	json      adapter.JSON
}

// NewClient creates a Bling client bound to one company's integration
func NewClient(companyID uuid.UUID, cfg config.VendorConfig, exec *requester.Executor, json adapter.JSON) Client {
	return &BlingClient{
		companyID: companyID,
		cfg:       cfg,
		exec:      exec,
		json:      json,
	}
}

// GetProducts fetches one page of products changed since the given time
func (c *BlingClient) GetProducts(ctx context.Context, since time.Time, cursor string) (*domain.Page[domain.Product], error) {
	page, err := parsePageCursor(cursor)
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("pagina", strconv.Itoa(page))
	q.Set("limite", strconv.Itoa(pageLimit))
	if !since.IsZero() {
		q.Set("dataAlteracaoInicial", since.Format(dateLayout))
	}

	respBody, err := c.get(ctx, "/produtos", q)
	if err != nil {
		return nil, err
	}

	var resp productsResponse
	if err := c.json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal Bling products response: %w", err)
	}

	products := make([]domain.Product, 0, len(resp.Data))
	for _, rec := range resp.Data {
		products = append(products, MapProduct(c.companyID, rec))
	}

	return &domain.Page[domain.Product]{
		Items:      products,
		HasMore:    len(resp.Data) == pageLimit,
		NextCursor: strconv.Itoa(page + 1),
	}, nil
}

// GetOrders fetches one page of sales orders changed since the given time
func (c *BlingClient) GetOrders(ctx context.Context, since time.Time, cursor string) (*domain.Page[domain.Order], error) {
	page, err := parsePageCursor(cursor)
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("pagina", strconv.Itoa(page))
	q.Set("limite", strconv.Itoa(pageLimit))
	if !since.IsZero() {
		q.Set("dataAlteracaoInicial", since.Format(dateLayout))
	}

	respBody, err := c.get(ctx, "/pedidos/vendas", q)
	if err != nil {
		return nil, err
	}

	var resp ordersResponse
	if err := c.json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal Bling orders response: %w", err)
	}

	orders := make([]domain.Order, 0, len(resp.Data))
	for _, rec := range resp.Data {
		orders = append(orders, MapOrder(c.companyID, rec))
	}

	return &domain.Page[domain.Order]{
		Items:      orders,
		HasMore:    len(resp.Data) == pageLimit,
		NextCursor: strconv.Itoa(page + 1),
	}, nil
}

// GetOrder fetches a single order by Bling ID
func (c *BlingClient) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	respBody, err := c.get(ctx, "/pedidos/vendas/"+url.PathEscape(orderID), nil)
	if err != nil {
		return nil, err
	}

	var resp orderDetailResponse
	if err := c.json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal Bling order response: %w", err)
	}

	order := MapOrder(c.companyID, resp.Data)
	return &order, nil
}

// GetProduct fetches a single product by Bling ID
func (c *BlingClient) GetProduct(ctx context.Context, productID string) (*domain.Product, error) {
	respBody, err := c.get(ctx, "/produtos/"+url.PathEscape(productID), nil)
	if err != nil {
		return nil, err
	}

	var resp productDetailResponse
	if err := c.json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal Bling product response: %w", err)
	}

	product := MapProduct(c.companyID, resp.Data)
	return &product, nil
}

func (c *BlingClient) get(ctx context.Context, path string, q url.Values) ([]byte, error) {
	endpoint := c.cfg.APIURL + path
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}

	respBody, err := c.exec.Do(ctx, func(token string) (*requester.Request, error) {
		return &requester.Request{
			Method: "GET",
			URL:    endpoint,
			Headers: map[string]string{
				"Authorization": "Bearer " + token,
				"Accept":        "application/json",
			},
		}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to call Bling API: %w", err)
	}
	return respBody, nil
}

func parsePageCursor(cursor string) (int, error) {
	if cursor == "" {
		return 1, nil
	}
	page, err := strconv.Atoi(cursor)
	if err != nil || page < 1 {
		return 0, fmt.Errorf("invalid page cursor %q", cursor)
	}
	return page, nil
}
