package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Vendor identifies an external marketplace or ERP integration
type Vendor string

const (
	// VendorBling is the Bling ERP (OAuth2 + page/limit-paginated REST v3)
	VendorBling Vendor = "bling"
	// VendorMeli is Mercado Livre (OAuth2 + offset/limit-paginated REST)
	VendorMeli Vendor = "meli"
	// VendorShopee is Shopee Open Platform (HMAC-signed requests, cursor pagination)
	VendorShopee Vendor = "shopee"
)

// Valid reports whether the vendor is one of the supported integrations
func (v Vendor) Valid() bool {
	switch v {
	case VendorBling, VendorMeli, VendorShopee:
		return true
	}
	return false
}

// Resource identifies a syncable resource within a vendor
type Resource string

const (
	ResourceProducts  Resource = "products"
	ResourceOrders    Resource = "orders"
	ResourceListings  Resource = "listings"
	ResourceItems     Resource = "items"
	ResourceInventory Resource = "inventory"
	ResourceAll       Resource = "all"
)

// Source is the checkpoint/run scope key, e.g. "bling.products"
func Source(vendor Vendor, resource Resource) string {
	return fmt.Sprintf("%s.%s", vendor, resource)
}

// TokenSet is the vendor-agnostic OAuth token shape all adapters map into
type TokenSet struct {
	AccessToken       string
	RefreshToken      string
	ExpiresAt         time.Time
	Scope             string
	ExternalAccountID string
}

// Page is the unified pagination shape produced by every vendor adapter.
// Bling (page+limit), Meli (offset+limit+total) and Shopee (opaque cursor)
// all translate into this struct so the ETL loop never sees vendor quirks.
type Page[T any] struct {
	Items      []T
	HasMore    bool
	NextCursor string
}

// Product is the canonical product shape mapped from any vendor
type Product struct {
	CompanyID  uuid.UUID
	Vendor     Vendor
	SKU        string
	ExternalID string
	Title      string
	Price      decimal.Decimal
	Stock      int
	Category   string
	Variations []string
	Active     bool
}

// Order is the canonical order shape mapped from any vendor
type Order struct {
	CompanyID uuid.UUID
	Vendor    Vendor
	OrderID   string
	Status    string
	Channel   string
	Buyer     string
	Total     decimal.Decimal
	PlacedAt  time.Time
	Items     []OrderItem
}

// OrderItem is a line item within a canonical order, keyed by (order, seq)
type OrderItem struct {
	Seq       int
	SKU       string
	Title     string
	Quantity  int
	UnitPrice decimal.Decimal
	Total     decimal.Decimal
}

// MarketRecord is a single observed listing/keyword/category row from a
// market dataset. Immutable once loaded; the insight engine reads it as-is.
// Optional metrics are pointers so the confidence heuristic can count them.
type MarketRecord struct {
	ID           uuid.UUID
	DatasetID    uuid.UUID
	Title        string
	Identifier   string
	Category     string
	Channel      string
	Price        *decimal.Decimal
	PriceMedian  *decimal.Decimal
	DemandIndex  *float64 // 0-100
	GrowthRate   *float64 // -1..5
	SellersTop   *int
	UnitsSoldEst *int
	RevenueEst   *float64
	Attributes   map[string]string
}

// CatalogProduct is the slice of the company catalog the insight engine needs
type CatalogProduct struct {
	SKU        string
	Title      string
	Price      decimal.Decimal
	Category   string
	Variations []string
}

// CompanyContext carries the per-company settings the insight rules score against
type CompanyContext struct {
	CompanyID       uuid.UUID
	FocusCategories []string
	ActiveChannels  []string
	CommissionPct   decimal.Decimal
	TaxPct          decimal.Decimal
	TargetMarginPct decimal.Decimal
	Products        []CatalogProduct
}

// InsightType classifies a generated insight
type InsightType string

const (
	InsightTrendOpportunity     InsightType = "trend_opportunity"
	InsightGapPortfolio         InsightType = "gap_portfolio"
	InsightPriceGap             InsightType = "price_gap"
	InsightVariationOpportunity InsightType = "variation_opportunity"
	InsightBundleOpportunity    InsightType = "bundle_opportunity"
)

// Priority is the triage priority attached to an insight
type Priority string

const (
	PriorityP0 Priority = "P0"
	PriorityP1 Priority = "P1"
	PriorityP2 Priority = "P2"
)

// InsightScope names the entities an insight is about; also feeds mission tags
type InsightScope struct {
	Module   string `json:"module"`
	Channel  string `json:"channel,omitempty"`
	Category string `json:"category,omitempty"`
	SKU      string `json:"sku,omitempty"`
}

// Insight is a scored, deduplicated market-intelligence finding
type Insight struct {
	Type           InsightType
	Title          string
	Summary        string
	Priority       Priority
	SLADays        int
	Confidence     float64
	ImpactEstimate *decimal.Decimal
	DedupeKey      string
	Scope          InsightScope
	Payload        map[string]any
}

// MissionStatus is the lifecycle state of a mission
type MissionStatus string

const (
	MissionBacklog    MissionStatus = "backlog"
	MissionPlanned    MissionStatus = "planned"
	MissionInProgress MissionStatus = "in_progress"
	MissionDone       MissionStatus = "done"
	MissionDismissed  MissionStatus = "dismissed"
)
