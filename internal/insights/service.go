package insights

import (
	"context"

	"github.com/google/uuid"

	"github.com/ecommind/engine/internal/domain"
	"github.com/ecommind/engine/internal/store/schema"
)

// DataStore is the slice of the data layer the generation service reads
type DataStore interface {
	GetCompany(ctx context.Context, companyID uuid.UUID) (*schema.Company, error)
	ListProducts(ctx context.Context, companyID uuid.UUID) ([]*schema.Product, error)
	GetMarketDataset(ctx context.Context, companyID, datasetID uuid.UUID) (*schema.MarketDataset, error)
	ListMarketRecords(ctx context.Context, datasetID uuid.UUID) ([]*schema.MarketRecord, error)
}

// Report summarizes one generation pass over a dataset
type Report struct {
	TotalRecords    int
	Generated       int
	Saved           []domain.Insight
	Duplicated      []domain.Insight
	MissionsCreated int
}

// Service runs the full generate-and-persist pass for a dataset
type Service struct {
	store     DataStore
	engine    *Engine
	persister *Persister
}

// NewService creates the insight generation service
func NewService(store DataStore, engine *Engine, persister *Persister) *Service {
	return &Service{store: store, engine: engine, persister: persister}
}

// GenerateForDataset loads the company context and the dataset's records,
// runs the rule engine, and persists the results. The dataset must belong to
// the company; a foreign or unknown dataset is domain.ErrDatasetNotFound.
func (s *Service) GenerateForDataset(ctx context.Context, companyID, datasetID uuid.UUID, autoMissions bool) (*Report, error) {
	dataset, err := s.store.GetMarketDataset(ctx, companyID, datasetID)
	if err != nil {
		return nil, err
	}
	if dataset == nil {
		return nil, domain.ErrDatasetNotFound
	}

	company, err := s.companyContext(ctx, companyID)
	if err != nil {
		return nil, err
	}

	rows, err := s.store.ListMarketRecords(ctx, datasetID)
	if err != nil {
		return nil, err
	}
	records := make([]domain.MarketRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, toDomainRecord(row))
	}

	generated := s.engine.Generate(company, records)

	outcome, err := s.persister.Persist(ctx, companyID, generated, autoMissions)
	if err != nil {
		return nil, err
	}

	return &Report{
		TotalRecords:    len(records),
		Generated:       len(generated),
		Saved:           outcome.Saved,
		Duplicated:      outcome.Duplicated,
		MissionsCreated: outcome.MissionsCreated,
	}, nil
}

func (s *Service) companyContext(ctx context.Context, companyID uuid.UUID) (domain.CompanyContext, error) {
	company, err := s.store.GetCompany(ctx, companyID)
	if err != nil {
		return domain.CompanyContext{}, err
	}
	if company == nil {
		return domain.CompanyContext{}, domain.ErrCompanyNotFound
	}

	rows, err := s.store.ListProducts(ctx, companyID)
	if err != nil {
		return domain.CompanyContext{}, err
	}
	products := make([]domain.CatalogProduct, 0, len(rows))
	for _, row := range rows {
		products = append(products, domain.CatalogProduct{
			SKU:        row.SKU,
			Title:      row.Title,
			Price:      row.Price,
			Category:   row.Category,
			Variations: row.Variations,
		})
	}

	return domain.CompanyContext{
		CompanyID:       company.ID,
		FocusCategories: company.FocusCategories,
		ActiveChannels:  company.ActiveChannels,
		CommissionPct:   company.CommissionPct,
		TaxPct:          company.TaxPct,
		TargetMarginPct: company.TargetMarginPct,
		Products:        products,
	}, nil
}

func toDomainRecord(row *schema.MarketRecord) domain.MarketRecord {
	rec := domain.MarketRecord{
		ID:           row.ID,
		DatasetID:    row.DatasetID,
		Title:        row.Title,
		Identifier:   row.Identifier,
		Category:     row.Category,
		Channel:      row.Channel,
		DemandIndex:  row.DemandIndex,
		GrowthRate:   row.GrowthRate,
		SellersTop:   row.SellersTop,
		UnitsSoldEst: row.UnitsSoldEst,
		RevenueEst:   row.RevenueEst,
		Attributes:   row.Attributes.Data(),
	}
	if row.Price.Valid {
		price := row.Price.Decimal
		rec.Price = &price
	}
	if row.PriceMedian.Valid {
		median := row.PriceMedian.Decimal
		rec.PriceMedian = &median
	}
	return rec
}
