package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ecommind/engine/internal/store/schema"
)

//go:generate mockgen -source=store.go -destination=../mocks/store_mock.go -package=mocks

// Store defines the interface for database operations
type Store interface {
	// GetCompany retrieves a company by ID
	GetCompany(ctx context.Context, companyID uuid.UUID) (*schema.Company, error)
	// ListCompanies retrieves all companies
	ListCompanies(ctx context.Context) ([]*schema.Company, error)

	// GetIntegration retrieves a company's credential for a vendor
	GetIntegration(ctx context.Context, companyID uuid.UUID, vendor string) (*schema.IntegrationCredential, error)
	// GetIntegrationByExternalAccount resolves an inbound webhook's external
	// account identifier (Meli user_id, Shopee shop_id) to a credential
	GetIntegrationByExternalAccount(ctx context.Context, vendor, externalAccountID string) (*schema.IntegrationCredential, error)
	// ListEnabledIntegrations retrieves enabled credentials, optionally
	// filtered by vendor (empty string means all vendors)
	ListEnabledIntegrations(ctx context.Context, vendor string) ([]*schema.IntegrationCredential, error)
	// UpsertIntegration creates or replaces the credential for
	// (company_id, vendor)
	UpsertIntegration(ctx context.Context, cred *schema.IntegrationCredential) error
	// UpdateIntegrationTokens persists rotated token ciphertexts after a refresh
	UpdateIntegrationTokens(ctx context.Context, cred *schema.IntegrationCredential) error

	// CreateEtlRun records the start of an extraction run
	CreateEtlRun(ctx context.Context, run *schema.EtlRun) error
	// FinishEtlRun records the outcome of an extraction run
	FinishEtlRun(ctx context.Context, runID uuid.UUID, ok bool, pages, rows int, errMsg string) error
	// ListEtlRuns retrieves recent runs for a company, newest first
	ListEtlRuns(ctx context.Context, companyID uuid.UUID, limit int) ([]*schema.EtlRun, error)
	// GetCheckpoint retrieves the incremental boundary for (company, source)
	GetCheckpoint(ctx context.Context, companyID uuid.UUID, source string) (*schema.EtlCheckpoint, error)
	// SaveCheckpoint advances the incremental boundary; the boundary never
	// moves backwards
	SaveCheckpoint(ctx context.Context, companyID uuid.UUID, source string, lastRunAt time.Time) error

	// UpsertProducts writes canonical products keyed by (company_id, sku)
	UpsertProducts(ctx context.Context, products []schema.Product) error
	// ListProducts retrieves a company's catalog
	ListProducts(ctx context.Context, companyID uuid.UUID) ([]*schema.Product, error)
	// UpsertOrders writes canonical orders and their items in one transaction
	UpsertOrders(ctx context.Context, orders []schema.Order, items []schema.OrderItem) error

	// GetWebhookEventByNaturalKey retrieves a stored event by its dedupe key
	GetWebhookEventByNaturalKey(ctx context.Context, companyID uuid.UUID, vendor, topic, externalID, disambiguator string) (*schema.WebhookEvent, error)
	// CreateWebhookEvent persists an inbound event; returns
	// domain.ErrDuplicateEvent when the natural key already exists
	CreateWebhookEvent(ctx context.Context, event *schema.WebhookEvent) error
	// MarkWebhookEventProcessed flips the processed flag after the handler succeeded
	MarkWebhookEventProcessed(ctx context.Context, eventID string) error
	// RecordWebhookEventFailure stores the handler error and bumps the retry count
	RecordWebhookEventFailure(ctx context.Context, eventID string, errMsg string) error

	// CreateMarketDataset stores a dataset and its records in one transaction
	CreateMarketDataset(ctx context.Context, dataset *schema.MarketDataset, records []schema.MarketRecord) error
	// GetMarketDataset retrieves a dataset owned by the company
	GetMarketDataset(ctx context.Context, companyID, datasetID uuid.UUID) (*schema.MarketDataset, error)
	// ListMarketRecords retrieves all records of a dataset
	ListMarketRecords(ctx context.Context, datasetID uuid.UUID) ([]*schema.MarketRecord, error)

	// CreateInsight persists an insight unless its dedupe key already exists;
	// returns true when a new row was written
	CreateInsight(ctx context.Context, insight *schema.Insight) (bool, error)
	// ListInsights retrieves a company's insights, newest first, optionally
	// filtered by type
	ListInsights(ctx context.Context, companyID uuid.UUID, insightType string, limit int) ([]*schema.Insight, error)

	// CreateMission persists a mission
	CreateMission(ctx context.Context, mission *schema.Mission) error
	// ListMissions retrieves a company's missions, optionally filtered by status
	ListMissions(ctx context.Context, companyID uuid.UUID, status string) ([]*schema.Mission, error)
	// UpdateMissionStatus moves a mission through its lifecycle
	UpdateMissionStatus(ctx context.Context, companyID, missionID uuid.UUID, status string) error
}
