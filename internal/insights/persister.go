package insights

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/ecommind/engine/internal/adapter"
	"github.com/ecommind/engine/internal/domain"
	"github.com/ecommind/engine/internal/logger"
	"github.com/ecommind/engine/internal/store/schema"
)

// missionTitles templates the mission title per insight type. Types absent
// here are informational and never spawn missions.
var missionTitles = map[domain.InsightType]string{
	domain.InsightTrendOpportunity: "Ride the trend: %s",
	domain.InsightGapPortfolio:     "Evaluate entering: %s",
	domain.InsightPriceGap:         "Review pricing: %s",
}

// Store is the slice of the data layer the persister needs
type Store interface {
	CreateInsight(ctx context.Context, insight *schema.Insight) (bool, error)
	CreateMission(ctx context.Context, mission *schema.Mission) error
}

// Outcome reports what one persistence pass did
type Outcome struct {
	Saved           []domain.Insight
	Duplicated      []domain.Insight
	MissionsCreated int
}

// Persister writes generated insights and optionally synthesizes missions.
// Insights deduplicate on (company, dedupe_key): a key seen this period is
// reported as a duplicate and left untouched. Mission creation failures are
// logged and skipped; the insight is already durable and must stay.
type Persister struct {
	store Store
	clock adapter.Clock
	json  adapter.JSON
}

// NewPersister creates the insight persister
func NewPersister(store Store, clock adapter.Clock, json adapter.JSON) *Persister {
	return &Persister{store: store, clock: clock, json: json}
}

// Persist writes each insight and, when opted in, a mission per saved
// mission-worthy insight
func (p *Persister) Persist(ctx context.Context, companyID uuid.UUID, insights []domain.Insight, autoMissions bool) (*Outcome, error) {
	outcome := &Outcome{}

	for _, ins := range insights {
		row, err := p.toRow(companyID, ins)
		if err != nil {
			return nil, err
		}

		created, err := p.store.CreateInsight(ctx, row)
		if err != nil {
			return nil, err
		}
		if !created {
			outcome.Duplicated = append(outcome.Duplicated, ins)
			continue
		}
		outcome.Saved = append(outcome.Saved, ins)

		if !autoMissions {
			continue
		}
		title, worthy := missionTitles[ins.Type]
		if !worthy {
			continue
		}

		if err := p.createMission(ctx, companyID, row.ID, ins, title); err != nil {
			logger.ErrorCtx(ctx, fmt.Errorf("mission creation failed, insight kept: %w", err),
				zap.String("dedupe_key", ins.DedupeKey))
			continue
		}
		outcome.MissionsCreated++
	}

	return outcome, nil
}

func (p *Persister) toRow(companyID uuid.UUID, ins domain.Insight) (*schema.Insight, error) {
	scope, err := p.json.Marshal(ins.Scope)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal insight scope: %w", err)
	}
	payload, err := p.json.Marshal(ins.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal insight payload: %w", err)
	}

	impact := decimal.NullDecimal{}
	if ins.ImpactEstimate != nil {
		impact = decimal.NullDecimal{Decimal: *ins.ImpactEstimate, Valid: true}
	}

	return &schema.Insight{
		CompanyID:      companyID,
		DedupeKey:      ins.DedupeKey,
		Type:           string(ins.Type),
		Title:          ins.Title,
		Summary:        ins.Summary,
		Priority:       string(ins.Priority),
		SLADays:        ins.SLADays,
		Confidence:     ins.Confidence,
		ImpactEstimate: impact,
		Scope:          datatypes.JSON(scope),
		Payload:        datatypes.JSON(payload),
	}, nil
}

func (p *Persister) createMission(ctx context.Context, companyID, insightID uuid.UUID, ins domain.Insight, titleTemplate string) error {
	due := p.clock.Now().UTC().AddDate(0, 0, ins.SLADays)

	mission := &schema.Mission{
		CompanyID: companyID,
		InsightID: &insightID,
		Title:     fmt.Sprintf(titleTemplate, ins.Title),
		Summary:   ins.Summary,
		Status:    string(domain.MissionBacklog),
		Tags:      datatypes.JSONSlice[string](scopeTags(ins.Scope)),
		DueDate:   &due,
	}
	return p.store.CreateMission(ctx, mission)
}

// scopeTags flattens the insight scope into mission tags
func scopeTags(scope domain.InsightScope) []string {
	tags := []string{scope.Module}
	if scope.Channel != "" {
		tags = append(tags, "channel:"+scope.Channel)
	}
	if scope.Category != "" {
		tags = append(tags, "category:"+scope.Category)
	}
	if scope.SKU != "" {
		tags = append(tags, "sku:"+scope.SKU)
	}
	return tags
}
