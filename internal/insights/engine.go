package insights

import (
	"fmt"
	"slices"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/ecommind/engine/internal/adapter"
	"github.com/ecommind/engine/internal/domain"
)

// Rule thresholds. An insight is only worth a merchant's attention above
// these floors; the values match the product definition of each rule.
const (
	trendMinGrowth    = 0.15
	trendMinDemand    = 60.0
	gapMinDemand      = 50.0
	priceGapMinPct    = 15.0
	bundleMinRevenue  = 10000.0
	confidenceBase    = 0.5
	confidenceStep    = 0.1
	confidenceCeiling = 0.95
)

// moduleMarket scopes every insight this engine emits
const moduleMarket = "market"

// periodLayout is the dedupe period key granularity (year-month)
const periodLayout = "2006-01"

// bundleKeywords is the kit/bundle title heuristic
var bundleKeywords = []string{"kit", "combo", "bundle", "pack", "conjunto", "jogo"}

// variationAttributeKeys are the market-record attribute keys treated as
// variation dimensions
var variationAttributeKeys = []string{"variation", "color", "size", "cor", "tamanho", "voltagem", "modelo"}

// Engine generates insights from market records. The five rule passes are
// independent and order-independent; the engine holds no mutable state.
type Engine struct {
	clock adapter.Clock
}

// NewEngine creates the insight rule engine
func NewEngine(clock adapter.Clock) *Engine {
	return &Engine{clock: clock}
}

// Generate runs every rule pass over the dataset and returns the scored,
// dedupe-keyed insights. Pure with respect to its inputs; persistence and
// deduplication against prior runs happen in the persister.
func (e *Engine) Generate(company domain.CompanyContext, records []domain.MarketRecord) []domain.Insight {
	period := e.clock.Now().UTC().Format(periodLayout)

	var insights []domain.Insight
	for _, rec := range records {
		if ins := e.trendOpportunity(company, rec, period); ins != nil {
			insights = append(insights, *ins)
		}
		if ins := e.gapPortfolio(company, rec, period); ins != nil {
			insights = append(insights, *ins)
		}
		if ins := e.priceGap(company, rec, period); ins != nil {
			insights = append(insights, *ins)
		}
		if ins := e.variationOpportunity(company, rec, period); ins != nil {
			insights = append(insights, *ins)
		}
		if ins := e.bundleOpportunity(company, rec, period); ins != nil {
			insights = append(insights, *ins)
		}
	}
	return insights
}

// trendOpportunity flags records with strong growth and demand. Focus
// categories escalate to P0 with a tighter SLA.
func (e *Engine) trendOpportunity(company domain.CompanyContext, rec domain.MarketRecord, period string) *domain.Insight {
	if rec.GrowthRate == nil || *rec.GrowthRate < trendMinGrowth {
		return nil
	}
	if rec.DemandIndex == nil || *rec.DemandIndex < trendMinDemand {
		return nil
	}

	priority, slaDays := domain.PriorityP1, 5
	inFocus := slices.Contains(company.FocusCategories, rec.Category)
	if inFocus {
		priority, slaDays = domain.PriorityP0, 2
	}

	return &domain.Insight{
		Type:     domain.InsightTrendOpportunity,
		Title:    fmt.Sprintf("Rising demand: %s", rec.Title),
		Summary:  fmt.Sprintf("%q is growing %.0f%% with demand index %.0f on %s.", rec.Title, *rec.GrowthRate*100, *rec.DemandIndex, channelName(rec)),
		Priority: priority,
		SLADays:  slaDays,

		Confidence:     confidence(company, rec),
		ImpactEstimate: revenueImpact(rec),
		DedupeKey:      dedupeKey(domain.InsightTrendOpportunity, identifier(rec), "", period),
		Scope: domain.InsightScope{
			Module:   moduleMarket,
			Channel:  rec.Channel,
			Category: rec.Category,
		},
		Payload: map[string]any{
			"identifier":   identifier(rec),
			"growth_rate":  *rec.GrowthRate,
			"demand_index": *rec.DemandIndex,
			"in_focus":     inFocus,
		},
	}
}

// gapPortfolio flags demanded markets with no similar product in the catalog
func (e *Engine) gapPortfolio(company domain.CompanyContext, rec domain.MarketRecord, period string) *domain.Insight {
	if rec.DemandIndex == nil || *rec.DemandIndex < gapMinDemand {
		return nil
	}
	if matchProduct(company.Products, rec) != nil {
		return nil
	}

	return &domain.Insight{
		Type:           domain.InsightGapPortfolio,
		Title:          fmt.Sprintf("Uncovered market: %s", rec.Title),
		Summary:        fmt.Sprintf("Demand index %.0f for %q on %s with no similar product in the catalog.", *rec.DemandIndex, rec.Title, channelName(rec)),
		Priority:       domain.PriorityP1,
		SLADays:        5,
		Confidence:     confidence(company, rec),
		ImpactEstimate: revenueImpact(rec),
		DedupeKey:      dedupeKey(domain.InsightGapPortfolio, identifier(rec), "", period),
		Scope: domain.InsightScope{
			Module:   moduleMarket,
			Channel:  rec.Channel,
			Category: rec.Category,
		},
		Payload: map[string]any{
			"identifier":   identifier(rec),
			"demand_index": *rec.DemandIndex,
		},
	}
}

// priceGap compares the market median against a matched catalog product and
// flags gaps of 15% or more in either direction
func (e *Engine) priceGap(company domain.CompanyContext, rec domain.MarketRecord, period string) *domain.Insight {
	if rec.PriceMedian == nil || rec.PriceMedian.IsZero() {
		return nil
	}
	match := matchProduct(company.Products, rec)
	if match == nil || match.Price.IsZero() {
		return nil
	}

	gapPercent := rec.PriceMedian.Sub(match.Price).
		Div(match.Price).
		Mul(decimal.NewFromInt(100))
	if gapPercent.Abs().LessThan(decimal.NewFromFloat(priceGapMinPct)) {
		return nil
	}

	payload := map[string]any{
		"identifier":   identifier(rec),
		"sku":          match.SKU,
		"our_price":    match.Price.String(),
		"price_median": rec.PriceMedian.String(),
		"gap_percent":  gapPercent.Round(1).String(),
	}

	// Enrich with the price that would preserve today's net proceeds while
	// adding the target margin. An approximation: unit cost is unknown, so
	// the current net proceeds stand in as the cost floor.
	netProceeds := match.Price.Mul(
		decimal.NewFromInt(100).Sub(company.CommissionPct).Sub(company.TaxPct),
	).Div(decimal.NewFromInt(100))
	if quote, err := SuggestPrice(netProceeds, company.CommissionPct, company.TaxPct, company.TargetMarginPct); err == nil {
		payload["target_price"] = quote.Price.String()
		payload["target_price_converged"] = quote.Converged
	}

	direction := "above"
	if gapPercent.IsNegative() {
		direction = "below"
	}

	return &domain.Insight{
		Type:           domain.InsightPriceGap,
		Title:          fmt.Sprintf("Price gap on %s", match.SKU),
		Summary:        fmt.Sprintf("Market median %s is %s%% %s the catalog price %s for %s.", rec.PriceMedian, gapPercent.Abs().Round(1), direction, match.Price, match.SKU),
		Priority:       domain.PriorityP2,
		SLADays:        14,
		Confidence:     confidence(company, rec),
		ImpactEstimate: revenueImpact(rec),
		DedupeKey:      dedupeKey(domain.InsightPriceGap, identifier(rec), match.SKU, period),
		Scope: domain.InsightScope{
			Module:   moduleMarket,
			Channel:  rec.Channel,
			Category: rec.Category,
			SKU:      match.SKU,
		},
		Payload: payload,
	}
}

// variationOpportunity flags variations the market sells but a matched
// catalog product lacks
func (e *Engine) variationOpportunity(company domain.CompanyContext, rec domain.MarketRecord, period string) *domain.Insight {
	observed := observedVariations(rec)
	if len(observed) == 0 {
		return nil
	}
	match := matchProduct(company.Products, rec)
	if match == nil {
		return nil
	}

	var missing []string
	for _, variation := range observed {
		if !hasVariation(match.Variations, variation) {
			missing = append(missing, variation)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	return &domain.Insight{
		Type:           domain.InsightVariationOpportunity,
		Title:          fmt.Sprintf("Missing variations on %s", match.SKU),
		Summary:        fmt.Sprintf("The market sells %s in %s, not offered by %s.", rec.Title, strings.Join(missing, ", "), match.SKU),
		Priority:       domain.PriorityP2,
		SLADays:        14,
		Confidence:     confidence(company, rec),
		ImpactEstimate: revenueImpact(rec),
		DedupeKey:      dedupeKey(domain.InsightVariationOpportunity, identifier(rec), match.SKU, period),
		Scope: domain.InsightScope{
			Module:   moduleMarket,
			Channel:  rec.Channel,
			Category: rec.Category,
			SKU:      match.SKU,
		},
		Payload: map[string]any{
			"identifier":         identifier(rec),
			"sku":                match.SKU,
			"missing_variations": missing,
		},
	}
}

// bundleOpportunity flags kit/bundle-titled records with significant revenue
func (e *Engine) bundleOpportunity(company domain.CompanyContext, rec domain.MarketRecord, period string) *domain.Insight {
	if rec.RevenueEst == nil || *rec.RevenueEst < bundleMinRevenue {
		return nil
	}
	if !matchesBundlePattern(rec.Title) && !matchesBundlePattern(rec.Identifier) {
		return nil
	}

	return &domain.Insight{
		Type:           domain.InsightBundleOpportunity,
		Title:          fmt.Sprintf("Bundle opportunity: %s", rec.Title),
		Summary:        fmt.Sprintf("Kit-style listing %q moves an estimated %.0f in revenue on %s.", rec.Title, *rec.RevenueEst, channelName(rec)),
		Priority:       domain.PriorityP2,
		SLADays:        14,
		Confidence:     confidence(company, rec),
		ImpactEstimate: revenueImpact(rec),
		DedupeKey:      dedupeKey(domain.InsightBundleOpportunity, identifier(rec), "", period),
		Scope: domain.InsightScope{
			Module:   moduleMarket,
			Channel:  rec.Channel,
			Category: rec.Category,
		},
		Payload: map[string]any{
			"identifier":  identifier(rec),
			"revenue_est": *rec.RevenueEst,
		},
	}
}

// confidence scores a record: base 0.5, +0.1 per optional metric present,
// +0.1 when the record's channel is one the company already sells on,
// capped at 0.95
func confidence(company domain.CompanyContext, rec domain.MarketRecord) float64 {
	score := confidenceBase
	if rec.DemandIndex != nil {
		score += confidenceStep
	}
	if rec.GrowthRate != nil {
		score += confidenceStep
	}
	if rec.RevenueEst != nil {
		score += confidenceStep
	}
	if rec.SellersTop != nil {
		score += confidenceStep
	}
	if rec.PriceMedian != nil {
		score += confidenceStep
	}
	if rec.Channel != "" && slices.Contains(company.ActiveChannels, rec.Channel) {
		score += confidenceStep
	}
	return min(score, confidenceCeiling)
}

// dedupeKey builds the deterministic monthly key:
// {module}:{type}:{identifier}[:{extra}]:{YYYY-MM}
func dedupeKey(insightType domain.InsightType, identifier, extra, period string) string {
	if extra != "" {
		return fmt.Sprintf("%s:%s:%s:%s:%s", moduleMarket, insightType, identifier, extra, period)
	}
	return fmt.Sprintf("%s:%s:%s:%s", moduleMarket, insightType, identifier, period)
}

// matchProduct finds the first catalog product similar to the record by
// title or SKU
func matchProduct(products []domain.CatalogProduct, rec domain.MarketRecord) *domain.CatalogProduct {
	for i := range products {
		if Similar(products[i].Title, rec.Title) || Similar(products[i].SKU, rec.Identifier) {
			return &products[i]
		}
	}
	return nil
}

// observedVariations extracts variation values from the record's attributes
func observedVariations(rec domain.MarketRecord) []string {
	var out []string
	for _, key := range variationAttributeKeys {
		if v, ok := rec.Attributes[key]; ok && v != "" {
			out = append(out, v)
		}
	}
	return out
}

// hasVariation reports whether any known variation mentions the observed
// value, case-insensitively
func hasVariation(variations []string, observed string) bool {
	needle := strings.ToLower(observed)
	for _, v := range variations {
		if strings.Contains(strings.ToLower(v), needle) {
			return true
		}
	}
	return false
}

func matchesBundlePattern(s string) bool {
	words := strings.Fields(normalize(s))
	for _, w := range words {
		if slices.Contains(bundleKeywords, w) {
			return true
		}
	}
	return false
}

func identifier(rec domain.MarketRecord) string {
	if rec.Identifier != "" {
		return rec.Identifier
	}
	return normalize(rec.Title)
}

func channelName(rec domain.MarketRecord) string {
	if rec.Channel != "" {
		return rec.Channel
	}
	return "the market"
}

func revenueImpact(rec domain.MarketRecord) *decimal.Decimal {
	if rec.RevenueEst == nil {
		return nil
	}
	d := decimal.NewFromFloat(*rec.RevenueEst)
	return &d
}
