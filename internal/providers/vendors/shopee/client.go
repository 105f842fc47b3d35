package shopee

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
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
	PROVIDER_NAME = "shopee"

	// pageSize is the page size for Shopee list endpoints
	pageSize = 50

	// orderWindow is the widest time_from..time_to range get_order_list accepts
	orderWindow = 15 * 24 * time.Hour

	authPartnerPath   = "/api/v2/shop/auth_partner"
	tokenGetPath      = "/api/v2/auth/token/get"
	tokenRefreshPath  = "/api/v2/auth/access_token/get"
	itemListPath      = "/api/v2/product/get_item_list"
	itemBaseInfoPath  = "/api/v2/product/get_item_base_info"
	orderListPath     = "/api/v2/order/get_order_list"
	orderDetailPath   = "/api/v2/order/get_order_detail"
	orderDetailFields = "buyer_username,item_list,total_amount"
)

// envelope is Shopee's standard response wrapper. A non-empty error code
// means the call failed even when HTTP said 200.
type envelope struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
}

// tokenResponse is the token/get and access_token/get payload
type tokenResponse struct {
	envelope
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpireIn     int    `json:"expire_in"`
}

// itemListResponse wraps product/get_item_list: IDs only, bodies come from
// get_item_base_info
type itemListResponse struct {
	envelope
	Response struct {
		Item []struct {
			ItemID int64 `json:"item_id"`
		} `json:"item"`
		HasNextPage bool `json:"has_next_page"`
		NextOffset  int  `json:"next_offset"`
	} `json:"response"`
}

type itemBaseInfoResponse struct {
	envelope
	Response struct {
		ItemList []itemRecord `json:"item_list"`
	} `json:"response"`
}

type itemRecord struct {
	ItemID     int64  `json:"item_id"`
	ItemName   string `json:"item_name"`
	ItemSKU    string `json:"item_sku"`
	ItemStatus string `json:"item_status"`
	CategoryID int64  `json:"category_id"`
	PriceInfo  []struct {
		CurrentPrice float64 `json:"current_price"`
	} `json:"price_info"`
	StockInfoV2 struct {
		SummaryInfo struct {
			TotalAvailableStock int `json:"total_available_stock"`
		} `json:"summary_info"`
	} `json:"stock_info_v2"`
	TierVariation []struct {
		Name       string `json:"name"`
		OptionList []struct {
			Option string `json:"option"`
		} `json:"option_list"`
	} `json:"tier_variation"`
}

// orderListResponse wraps order/get_order_list: opaque cursor + more flag
type orderListResponse struct {
	envelope
	Response struct {
		OrderList []struct {
			OrderSN string `json:"order_sn"`
		} `json:"order_list"`
		More       bool   `json:"more"`
		NextCursor string `json:"next_cursor"`
	} `json:"response"`
}

type orderDetailResponse struct {
	envelope
	Response struct {
		OrderList []orderRecord `json:"order_list"`
	} `json:"response"`
}

type orderRecord struct {
	OrderSN       string  `json:"order_sn"`
	OrderStatus   string  `json:"order_status"`
	CreateTime    int64   `json:"create_time"`
	TotalAmount   float64 `json:"total_amount"`
	BuyerUsername string  `json:"buyer_username"`
	ItemList      []struct {
		ItemSKU                string  `json:"item_sku"`
		ItemName               string  `json:"item_name"`
		ModelQuantityPurchased int     `json:"model_quantity_purchased"`
		ModelDiscountedPrice   float64 `json:"model_discounted_price"`
	} `json:"item_list"`
}

// ParseError extracts the message from a Shopee error body
func ParseError(json adapter.JSON) requester.ErrorParser {
	return func(_ int, body []byte) string {
		var resp envelope
		if err := json.Unmarshal(body, &resp); err != nil || resp.Message == "" {
			return string(body)
		}
		return fmt.Sprintf("%s: %s", resp.Error, resp.Message)
	}
}

// sign computes Shopee's request signature: hex HMAC-SHA256 of the
// concatenated base string under the partner key
func sign(partnerKey string, parts ...string) string {
	mac := hmac.New(sha256.New, []byte(partnerKey))
	mac.Write([]byte(strings.Join(parts, "")))
	return hex.EncodeToString(mac.Sum(nil))
}

// OAuth handles Shopee's shop-authorization flow. Shopee has no client
// secret exchange; every call is HMAC-signed with the partner key, and the
// shop_id from the authorization callback is required alongside the code.
type OAuth struct {
	cfg   config.VendorConfig
	exec  *requester.Executor
	clock adapter.Clock
	json  adapter.JSON
}

// NewOAuth creates the Shopee OAuth flow handler
func NewOAuth(cfg config.VendorConfig, exec *requester.Executor, clock adapter.Clock, json adapter.JSON) *OAuth {
	return &OAuth{cfg: cfg, exec: exec, clock: clock, json: json}
}

// AuthorizationURL builds the HMAC-signed, timestamped consent URL
func (o *OAuth) AuthorizationURL(state string) string {
	ts := strconv.FormatInt(o.clock.Now().Unix(), 10)

	q := url.Values{}
	q.Set("partner_id", o.cfg.PartnerID)
	q.Set("timestamp", ts)
	q.Set("sign", sign(o.cfg.PartnerKey, o.cfg.PartnerID, authPartnerPath, ts))
	q.Set("redirect", o.cfg.RedirectURI)
	if state != "" {
		q.Set("state", state)
	}
	return fmt.Sprintf("%s%s?%s", o.cfg.APIURL, authPartnerPath, q.Encode())
}

// ExchangeCode trades an authorization code plus the callback's shop_id for
// a token set. The shop_id becomes the integration's external account binding.
func (o *OAuth) ExchangeCode(ctx context.Context, code, shopID string) (*domain.TokenSet, error) {
	body := map[string]any{
		"code":       code,
		"shop_id":    mustInt(shopID),
		"partner_id": mustInt(o.cfg.PartnerID),
	}
	return o.requestToken(ctx, tokenGetPath, shopID, body)
}

// RefreshToken rotates an expired or revoked access token for a shop
func (o *OAuth) RefreshToken(ctx context.Context, refreshToken, shopID string) (*domain.TokenSet, error) {
	body := map[string]any{
		"refresh_token": refreshToken,
		"shop_id":       mustInt(shopID),
		"partner_id":    mustInt(o.cfg.PartnerID),
	}
	return o.requestToken(ctx, tokenRefreshPath, shopID, body)
}

func (o *OAuth) requestToken(ctx context.Context, path, shopID string, body map[string]any) (*domain.TokenSet, error) {
	payload, err := o.json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal Shopee token request: %w", err)
	}

	respBody, err := o.exec.Do(ctx, func(_ string) (*requester.Request, error) {
		// Signed per attempt so the timestamp stays within Shopee's window
		ts := strconv.FormatInt(o.clock.Now().Unix(), 10)
		q := url.Values{}
		q.Set("partner_id", o.cfg.PartnerID)
		q.Set("timestamp", ts)
		q.Set("sign", sign(o.cfg.PartnerKey, o.cfg.PartnerID, path, ts))

		return &requester.Request{
			Method:  "POST",
			URL:     fmt.Sprintf("%s%s?%s", o.cfg.APIURL, path, q.Encode()),
			Headers: map[string]string{"Content-Type": "application/json"},
			Body:    payload,
		}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to call Shopee token endpoint: %w", err)
	}

	var resp tokenResponse
	if err := o.json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal Shopee token response: %w", err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("shopee token request failed: %s: %s", resp.Error, resp.Message)
	}
	if resp.AccessToken == "" {
		return nil, fmt.Errorf("shopee token response missing access_token")
	}

	return &domain.TokenSet{
		AccessToken:       resp.AccessToken,
		RefreshToken:      resp.RefreshToken,
		ExpiresAt:         o.clock.Now().Add(time.Duration(resp.ExpireIn) * time.Second),
		ExternalAccountID: shopID,
	}, nil
}

// Client defines the Shopee operations the sync engine consumes
//
//go:generate mockgen -source=client.go -destination=../../../mocks/shopee_client.go -package=mocks -mock_names=Client=MockShopeeClient
type Client interface {
	// GetItems fetches one page of shop items. The cursor is Shopee's item
	// list offset; empty means the first page.
	GetItems(ctx context.Context, since time.Time, cursor string) (*domain.Page[domain.Product], error)
	// GetOrders fetches one page of orders updated since the given time,
	// driven by Shopee's opaque cursor
	GetOrders(ctx context.Context, since time.Time, cursor string) (*domain.Page[domain.Order], error)
	// GetOrder fetches a single order by order_sn, for webhook-driven updates
	GetOrder(ctx context.Context, orderSN string) (*domain.Order, error)
	// GetItem fetches a single item by item_id
	GetItem(ctx context.Context, itemID string) (*domain.Product, error)
}

// ShopeeClient implements the Shopee adapter over the shared executor
type ShopeeClient struct {
	companyID uuid.UUID
	// shopID is the Shopee shop bound to the integration
	shopID string
	cfg    config.VendorConfig
	exec   *requester.Executor
	clock  adapter.Clock
	json   adapter.JSON
}

// NewClient creates a Shopee client bound to one company's integration
func NewClient(companyID uuid.UUID, shopID string, cfg config.VendorConfig, exec *requester.Executor, clock adapter.Clock, json adapter.JSON) Client {
	return &ShopeeClient{
		companyID: companyID,
		shopID:    shopID,
		cfg:       cfg,
		exec:      exec,
		clock:     clock,
		json:      json,
	}
}

// GetItems fetches one page of shop items: an ID listing followed by a
// base-info multiget for the bodies
func (c *ShopeeClient) GetItems(ctx context.Context, since time.Time, cursor string) (*domain.Page[domain.Product], error) {
	offset := 0
	if cursor != "" {
		parsed, err := strconv.Atoi(cursor)
		if err != nil || parsed < 0 {
			return nil, fmt.Errorf("invalid item cursor %q", cursor)
		}
		offset = parsed
	}

	q := url.Values{}
	q.Set("offset", strconv.Itoa(offset))
	q.Set("page_size", strconv.Itoa(pageSize))
	q.Set("item_status", "NORMAL")
	if !since.IsZero() {
		q.Set("update_time_from", strconv.FormatInt(since.Unix(), 10))
		q.Set("update_time_to", strconv.FormatInt(c.clock.Now().Unix(), 10))
	}

	respBody, err := c.get(ctx, itemListPath, q)
	if err != nil {
		return nil, err
	}

	var list itemListResponse
	if err := c.json.Unmarshal(respBody, &list); err != nil {
		return nil, fmt.Errorf("failed to unmarshal Shopee item list response: %w", err)
	}
	if list.Error != "" {
		return nil, fmt.Errorf("shopee item list failed: %s: %s", list.Error, list.Message)
	}

	ids := make([]string, 0, len(list.Response.Item))
	for _, it := range list.Response.Item {
		ids = append(ids, strconv.FormatInt(it.ItemID, 10))
	}

	products := make([]domain.Product, 0, len(ids))
	if len(ids) > 0 {
		items, err := c.getItemBaseInfo(ctx, ids)
		if err != nil {
			return nil, err
		}
		for _, item := range items {
			products = append(products, MapProduct(c.companyID, item))
		}
	}

	return &domain.Page[domain.Product]{
		Items:      products,
		HasMore:    list.Response.HasNextPage,
		NextCursor: strconv.Itoa(list.Response.NextOffset),
	}, nil
}

// GetOrders fetches one page of orders updated since the given time.
// Shopee requires an explicit time window and caps it at 15 days, so a zero
// or too-old lower bound is clamped to the oldest the API accepts.
func (c *ShopeeClient) GetOrders(ctx context.Context, since time.Time, cursor string) (*domain.Page[domain.Order], error) {
	now := c.clock.Now()
	from := since
	if from.IsZero() || now.Sub(from) > orderWindow {
		from = now.Add(-orderWindow)
	}

	q := url.Values{}
	q.Set("time_range_field", "update_time")
	q.Set("time_from", strconv.FormatInt(from.Unix(), 10))
	q.Set("time_to", strconv.FormatInt(now.Unix(), 10))
	q.Set("page_size", strconv.Itoa(pageSize))
	if cursor != "" {
		q.Set("cursor", cursor)
	}

	respBody, err := c.get(ctx, orderListPath, q)
	if err != nil {
		return nil, err
	}

	var list orderListResponse
	if err := c.json.Unmarshal(respBody, &list); err != nil {
		return nil, fmt.Errorf("failed to unmarshal Shopee order list response: %w", err)
	}
	if list.Error != "" {
		return nil, fmt.Errorf("shopee order list failed: %s: %s", list.Error, list.Message)
	}

	sns := make([]string, 0, len(list.Response.OrderList))
	for _, o := range list.Response.OrderList {
		sns = append(sns, o.OrderSN)
	}

	orders := make([]domain.Order, 0, len(sns))
	if len(sns) > 0 {
		details, err := c.getOrderDetails(ctx, sns)
		if err != nil {
			return nil, err
		}
		for _, rec := range details {
			orders = append(orders, MapOrder(c.companyID, rec))
		}
	}

	return &domain.Page[domain.Order]{
		Items:      orders,
		HasMore:    list.Response.More,
		NextCursor: list.Response.NextCursor,
	}, nil
}

// GetOrder fetches a single order by order_sn
func (c *ShopeeClient) GetOrder(ctx context.Context, orderSN string) (*domain.Order, error) {
	details, err := c.getOrderDetails(ctx, []string{orderSN})
	if err != nil {
		return nil, err
	}
	if len(details) == 0 {
		return nil, fmt.Errorf("shopee order %s not found", orderSN)
	}

	order := MapOrder(c.companyID, details[0])
	return &order, nil
}

// GetItem fetches a single item by item_id
func (c *ShopeeClient) GetItem(ctx context.Context, itemID string) (*domain.Product, error) {
	items, err := c.getItemBaseInfo(ctx, []string{itemID})
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("shopee item %s not found", itemID)
	}

	product := MapProduct(c.companyID, items[0])
	return &product, nil
}

func (c *ShopeeClient) getItemBaseInfo(ctx context.Context, ids []string) ([]itemRecord, error) {
	q := url.Values{}
	q.Set("item_id_list", strings.Join(ids, ","))

	respBody, err := c.get(ctx, itemBaseInfoPath, q)
	if err != nil {
		return nil, err
	}

	var resp itemBaseInfoResponse
	if err := c.json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal Shopee item base info response: %w", err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("shopee item base info failed: %s: %s", resp.Error, resp.Message)
	}
	return resp.Response.ItemList, nil
}

func (c *ShopeeClient) getOrderDetails(ctx context.Context, sns []string) ([]orderRecord, error) {
	q := url.Values{}
	q.Set("order_sn_list", strings.Join(sns, ","))
	q.Set("response_optional_fields", orderDetailFields)

	respBody, err := c.get(ctx, orderDetailPath, q)
	if err != nil {
		return nil, err
	}

	var resp orderDetailResponse
	if err := c.json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal Shopee order detail response: %w", err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("shopee order detail failed: %s: %s", resp.Error, resp.Message)
	}
	return resp.Response.OrderList, nil
}

// get executes a signed shop-level GET. The signature covers
// partner_id + path + timestamp + access_token + shop_id and is recomputed
// on every attempt so retries never reuse a stale timestamp.
func (c *ShopeeClient) get(ctx context.Context, path string, q url.Values) ([]byte, error) {
	respBody, err := c.exec.Do(ctx, func(token string) (*requester.Request, error) {
		ts := strconv.FormatInt(c.clock.Now().Unix(), 10)

		signed := url.Values{}
		for k, vs := range q {
			signed[k] = vs
		}
		signed.Set("partner_id", c.cfg.PartnerID)
		signed.Set("timestamp", ts)
		signed.Set("access_token", token)
		signed.Set("shop_id", c.shopID)
		signed.Set("sign", sign(c.cfg.PartnerKey, c.cfg.PartnerID, path, ts, token, c.shopID))

		return &requester.Request{
			Method:  "GET",
			URL:     fmt.Sprintf("%s%s?%s", c.cfg.APIURL, path, signed.Encode()),
			Headers: map[string]string{"Accept": "application/json"},
		}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to call Shopee API: %w", err)
	}
	return respBody, nil
}

// mustInt parses numeric identifiers Shopee requires as JSON numbers.
// Invalid input yields 0, which Shopee rejects with a clear error.
func mustInt(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}
