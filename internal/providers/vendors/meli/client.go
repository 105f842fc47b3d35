package meli

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ecommind/engine/internal/adapter"
	"github.com/ecommind/engine/internal/config"
	"github.com/ecommind/engine/internal/domain"
	"github.com/ecommind/engine/internal/providers/requester"
)

const (
	// PROVIDER_NAME identifies this adapter in logs and rate-limit buckets
	PROVIDER_NAME = "meli"

	// searchLimit is the page size for Meli search endpoints
	searchLimit = 50

	// multigetChunk is the maximum number of item IDs per multiget call
	multigetChunk = 20
)

// tokenResponse is Meli's OAuth token endpoint payload
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	Scope        string `json:"scope"`
	UserID       int64  `json:"user_id"`
}

// paging is Meli's standard pagination envelope
type paging struct {
	Total  int `json:"total"`
	Offset int `json:"offset"`
	Limit  int `json:"limit"`
}

// itemSearchResponse wraps GET /users/{id}/items/search: IDs only, the item
// bodies come from a multiget follow-up
type itemSearchResponse struct {
	Results []string `json:"results"`
	Paging  paging   `json:"paging"`
}

// multigetEntry is one element of the GET /items?ids= response
type multigetEntry struct {
	Code int        `json:"code"`
	Body itemRecord `json:"body"`
}

type itemRecord struct {
	ID                string  `json:"id"`
	Title             string  `json:"title"`
	Price             float64 `json:"price"`
	AvailableQuantity int     `json:"available_quantity"`
	CategoryID        string  `json:"category_id"`
	Status            string  `json:"status"`
	SellerCustomField string  `json:"seller_custom_field"`
	Variations        []struct {
		AttributeCombinations []struct {
			Name      string `json:"name"`
			ValueName string `json:"value_name"`
		} `json:"attribute_combinations"`
	} `json:"variations"`
}

// orderSearchResponse wraps GET /orders/search
type orderSearchResponse struct {
	Results []orderRecord `json:"results"`
	Paging  paging        `json:"paging"`
}

type orderRecord struct {
	ID          int64   `json:"id"`
	Status      string  `json:"status"`
	DateCreated string  `json:"date_created"`
	TotalAmount float64 `json:"total_amount"`
	Buyer       struct {
		Nickname string `json:"nickname"`
	} `json:"buyer"`
	OrderItems []struct {
		Item struct {
			ID        string `json:"id"`
			Title     string `json:"title"`
			SellerSKU string `json:"seller_sku"`
		} `json:"item"`
		Quantity  int     `json:"quantity"`
		UnitPrice float64 `json:"unit_price"`
	} `json:"order_items"`
}

// errorResponse is Meli's error envelope
type errorResponse struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

// ParseError extracts the message from a Meli error body
func ParseError(json adapter.JSON) requester.ErrorParser {
	return func(_ int, body []byte) string {
		var resp errorResponse
		if err := json.Unmarshal(body, &resp); err != nil || resp.Message == "" {
			return string(body)
		}
		return resp.Message
	}
}

// OAuth handles Mercado Livre's authorization-code flow
type OAuth struct {
	cfg  config.VendorConfig
	exec *requester.Executor
	json adapter.JSON
}

// NewOAuth creates the Meli OAuth flow handler
func NewOAuth(cfg config.VendorConfig, exec *requester.Executor, json adapter.JSON) *OAuth {
	return &OAuth{cfg: cfg, exec: exec, json: json}
}

// AuthorizationURL builds the consent URL the merchant is redirected to
func (o *OAuth) AuthorizationURL(state string) string {
	q := url.Values{}
	q.Set("response_type", "code")
	q.Set("client_id", o.cfg.ClientID)
	q.Set("redirect_uri", o.cfg.RedirectURI)
	q.Set("state", state)
	return fmt.Sprintf("%s?%s", o.cfg.AuthURL, q.Encode())
}

// ExchangeCode trades an authorization code for a token set. The returned
// user_id becomes the integration's external account binding, which is how
// inbound notifications are later resolved to a tenant.
func (o *OAuth) ExchangeCode(ctx context.Context, code string) (*domain.TokenSet, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", o.cfg.RedirectURI)
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
	form.Set("client_id", o.cfg.ClientID)
	form.Set("client_secret", o.cfg.ClientSecret)

	respBody, err := o.exec.Do(ctx, func(_ string) (*requester.Request, error) {
		return &requester.Request{
			Method: "POST",
			URL:    o.cfg.TokenURL,
			Headers: map[string]string{
				"Content-Type": "application/x-www-form-urlencoded",
				"Accept":       "application/json",
			},
			Body: []byte(form.Encode()),
		}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to call Meli token endpoint: %w", err)
	}

	var resp tokenResponse
	if err := o.json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal Meli token response: %w", err)
	}
	if resp.AccessToken == "" {
		return nil, fmt.Errorf("meli token response missing access_token")
	}

	return &domain.TokenSet{
		AccessToken:       resp.AccessToken,
		RefreshToken:      resp.RefreshToken,
		ExpiresAt:         time.Now().Add(time.Duration(resp.ExpiresIn) * time.Second),
		Scope:             resp.Scope,
		ExternalAccountID: strconv.FormatInt(resp.UserID, 10),
	}, nil
}

// Client defines the Mercado Livre operations the sync engine consumes
//
//go:generate mockgen -source=client.go -destination=../../../mocks/meli_client.go -package=mocks -mock_names=Client=MockMeliClient
type Client interface {
	// GetListings fetches one page of the seller's listings. The cursor is
	// the search offset; empty means the first page.
	GetListings(ctx context.Context, since time.Time, cursor string) (*domain.Page[domain.Product], error)
	// GetOrders fetches one page of orders updated since the given time
	GetOrders(ctx context.Context, since time.Time, cursor string) (*domain.Page[domain.Order], error)
	// GetOrder fetches a single order by Meli ID, for notification-driven updates
	GetOrder(ctx context.Context, orderID string) (*domain.Order, error)
	// GetListing fetches a single listing by item ID
	GetListing(ctx context.Context, itemID string) (*domain.Product, error)
}

// MeliClient implements the Mercado Livre adapter over the shared executor
type MeliClient struct {
	companyID uuid.UUID
	// sellerID is the Meli user_id bound to the integration
	sellerID string
	cfg      config.VendorConfig
	exec     *requester.Executor
	json     adapter.JSON
}

// NewClient creates a Meli client bound to one company's integration
func NewClient(companyID uuid.UUID, sellerID string, cfg config.VendorConfig, exec *requester.Executor, json adapter.JSON) Client {
	return &MeliClient{
		companyID: companyID,
		sellerID:  sellerID,
		cfg:       cfg,
		exec:      exec,
		json:      json,
	}
}

// GetListings fetches one page of the seller's listings: an ID search
// followed by chunked multigets for the item bodies
func (c *MeliClient) GetListings(ctx context.Context, since time.Time, cursor string) (*domain.Page[domain.Product], error) {
	offset, err := parseOffsetCursor(cursor)
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("offset", strconv.Itoa(offset))
	q.Set("limit", strconv.Itoa(searchLimit))
	if !since.IsZero() {
		q.Set("last_updated_from", since.UTC().Format(time.RFC3339))
	}

	respBody, err := c.get(ctx, fmt.Sprintf("/users/%s/items/search", url.PathEscape(c.sellerID)), q)
	if err != nil {
		return nil, err
	}

	var search itemSearchResponse
	if err := c.json.Unmarshal(respBody, &search); err != nil {
		return nil, fmt.Errorf("failed to unmarshal Meli item search response: %w", err)
	}

	products := make([]domain.Product, 0, len(search.Results))
	for chunk := range chunks(search.Results, multigetChunk) {
		items, err := c.multigetItems(ctx, chunk)
		if err != nil {
			return nil, err
		}
		for _, item := range items {
			products = append(products, MapProduct(c.companyID, item))
		}
	}

	// An empty page cannot advance the offset, so never report more even if
	// paging.total still claims remaining results
	next := offset + len(search.Results)
	return &domain.Page[domain.Product]{
		Items:      products,
		HasMore:    len(search.Results) > 0 && next < search.Paging.Total,
		NextCursor: strconv.Itoa(next),
	}, nil
}

// GetOrders fetches one page of orders updated since the given time
func (c *MeliClient) GetOrders(ctx context.Context, since time.Time, cursor string) (*domain.Page[domain.Order], error) {
	offset, err := parseOffsetCursor(cursor)
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("seller", c.sellerID)
	q.Set("offset", strconv.Itoa(offset))
	q.Set("limit", strconv.Itoa(searchLimit))
	q.Set("sort", "date_asc")
	if !since.IsZero() {
		q.Set("order.date_last_updated.from", since.UTC().Format(time.RFC3339))
	}

	respBody, err := c.get(ctx, "/orders/search", q)
	if err != nil {
		return nil, err
	}

	var search orderSearchResponse
	if err := c.json.Unmarshal(respBody, &search); err != nil {
		return nil, fmt.Errorf("failed to unmarshal Meli order search response: %w", err)
	}

	orders := make([]domain.Order, 0, len(search.Results))
	for _, rec := range search.Results {
		orders = append(orders, MapOrder(c.companyID, rec))
	}

	// An empty page cannot advance the offset, so never report more even if
	// paging.total still claims remaining results
	next := offset + len(search.Results)
	return &domain.Page[domain.Order]{
		Items:      orders,
		HasMore:    len(search.Results) > 0 && next < search.Paging.Total,
		NextCursor: strconv.Itoa(next),
	}, nil
}

// GetOrder fetches a single order by Meli ID
func (c *MeliClient) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	respBody, err := c.get(ctx, "/orders/"+url.PathEscape(orderID), nil)
	if err != nil {
		return nil, err
	}

	var rec orderRecord
	if err := c.json.Unmarshal(respBody, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal Meli order response: %w", err)
	}

	order := MapOrder(c.companyID, rec)
	return &order, nil
}

// GetListing fetches a single listing by item ID
func (c *MeliClient) GetListing(ctx context.Context, itemID string) (*domain.Product, error) {
	respBody, err := c.get(ctx, "/items/"+url.PathEscape(itemID), nil)
	if err != nil {
		return nil, err
	}

	var rec itemRecord
	if err := c.json.Unmarshal(respBody, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal Meli item response: %w", err)
	}

	product := MapProduct(c.companyID, rec)
	return &product, nil
}

func (c *MeliClient) multigetItems(ctx context.Context, ids []string) ([]itemRecord, error) {
	q := url.Values{}
	q.Set("ids", strings.Join(ids, ","))

	respBody, err := c.get(ctx, "/items", q)
	if err != nil {
		return nil, err
	}

	var entries []multigetEntry
	if err := c.json.Unmarshal(respBody, &entries); err != nil {
		return nil, fmt.Errorf("failed to unmarshal Meli multiget response: %w", err)
	}

	items := make([]itemRecord, 0, len(entries))
	for _, e := range entries {
		// Individual item failures inside a multiget are skipped, not fatal
		if e.Code >= 200 && e.Code < 300 {
			items = append(items, e.Body)
		}
	}
	return items, nil
}

func (c *MeliClient) get(ctx context.Context, path string, q url.Values) ([]byte, error) {
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
		return nil, fmt.Errorf("failed to call Meli API: %w", err)
	}
	return respBody, nil
}

func parseOffsetCursor(cursor string) (int, error) {
	if cursor == "" {
		return 0, nil
	}
	offset, err := strconv.Atoi(cursor)
	if err != nil || offset < 0 {
		return 0, fmt.Errorf("invalid offset cursor %q", cursor)
	}
	return offset, nil
}

// chunks yields successive sub-slices of at most size elements
func chunks(items []string, size int) func(yield func([]string) bool) {
	return func(yield func([]string) bool) {
		for start := 0; start < len(items); start += size {
			end := min(start+size, len(items))
			if !yield(items[start:end]) {
				return
			}
		}
	}
}
