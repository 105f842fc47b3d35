package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ecommind/engine/internal/domain"
	"github.com/ecommind/engine/internal/store/schema"
)

type pgStore struct {
	db *gorm.DB
}

// NewPGStore creates a new PostgreSQL store instance
func NewPGStore(db *gorm.DB) Store {
	return &pgStore{db: db}
}

// ConfigureConnectionPool configures the connection pool settings for a GORM database connection.
// It accesses the underlying *sql.DB and sets the pool configuration.
// If any of the pool settings are 0 or empty, reasonable defaults are used:
//   - MaxOpenConns: 20 (if 0)
//   - MaxIdleConns: 5 (if 0)
//   - ConnMaxLifetime: 5 minutes (if 0)
//   - ConnMaxIdleTime: 10 minutes (if 0)
func ConfigureConnectionPool(db *gorm.DB, maxOpenConns, maxIdleConns int, connMaxLifetime, connMaxIdleTime time.Duration) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	maxOpenConns, maxIdleConns, connMaxLifetime, connMaxIdleTime =
		NormalizeConnectionPoolSettings(maxOpenConns, maxIdleConns, connMaxLifetime, connMaxIdleTime)

	sqlDB.SetMaxOpenConns(maxOpenConns)
	sqlDB.SetMaxIdleConns(maxIdleConns)
	sqlDB.SetConnMaxLifetime(connMaxLifetime)
	sqlDB.SetConnMaxIdleTime(connMaxIdleTime)

	return nil
}

// NormalizeConnectionPoolSettings applies defaults and clamps pool settings into safe values.
//
// Defaults (when zero):
//   - MaxOpenConns: 20
//   - MaxIdleConns: 5
//   - ConnMaxLifetime: 5 minutes
//   - ConnMaxIdleTime: 10 minutes
//
// Notes:
//   - database/sql treats MaxOpenConns=0 as "unlimited"
//   - database/sql treats MaxIdleConns=0 as "no idle connections"
func NormalizeConnectionPoolSettings(maxOpenConns, maxIdleConns int, connMaxLifetime, connMaxIdleTime time.Duration) (int, int, time.Duration, time.Duration) {
	// Set defaults if not provided
	if maxOpenConns == 0 {
		maxOpenConns = 20
	}
	if maxIdleConns == 0 {
		maxIdleConns = 5
	}
	if connMaxLifetime == 0 {
		connMaxLifetime = 5 * time.Minute
	}
	if connMaxIdleTime == 0 {
		connMaxIdleTime = 10 * time.Minute
	}

	// Ensure MaxIdleConns doesn't exceed MaxOpenConns
	if maxIdleConns > maxOpenConns {
		maxIdleConns = maxOpenConns
	}

	return maxOpenConns, maxIdleConns, connMaxLifetime, connMaxIdleTime
}

// calculateSafeBatchSize computes the batch size for bulk inserts that keeps
// a single statement under PostgreSQL's 65535 extended-protocol parameter
// limit. Each record consumes one parameter per field, and ON CONFLICT
// clauses plus GORM bookkeeping add batch-level overhead, so a fixed
// headroom is reserved from the total.
func calculateSafeBatchSize(totalRecords int, fieldsPerRecord int) int {
	const maxParams = 65535
	const totalHeadroom = 1000

	availableParams := maxParams - totalHeadroom
	safeBatchSize := max(availableParams/fieldsPerRecord, 1)

	if safeBatchSize > totalRecords {
		return totalRecords
	}

	return safeBatchSize
}

// GetCompany retrieves a company by ID
func (s *pgStore) GetCompany(ctx context.Context, companyID uuid.UUID) (*schema.Company, error) {
	var company schema.Company
	err := s.db.WithContext(ctx).Where("id = ?", companyID).First(&company).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get company: %w", err)
	}
	return &company, nil
}

// ListCompanies retrieves all companies
func (s *pgStore) ListCompanies(ctx context.Context) ([]*schema.Company, error) {
	var companies []*schema.Company
	err := s.db.WithContext(ctx).Order("created_at ASC").Find(&companies).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list companies: %w", err)
	}
	return companies, nil
}

// GetIntegration retrieves a company's credential for a vendor
func (s *pgStore) GetIntegration(ctx context.Context, companyID uuid.UUID, vendor string) (*schema.IntegrationCredential, error) {
	var cred schema.IntegrationCredential
	err := s.db.WithContext(ctx).
		Where("company_id = ? AND vendor = ?", companyID, vendor).
		First(&cred).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get integration: %w", err)
	}
	return &cred, nil
}

// GetIntegrationByExternalAccount resolves an external account identifier to a credential
func (s *pgStore) GetIntegrationByExternalAccount(ctx context.Context, vendor, externalAccountID string) (*schema.IntegrationCredential, error) {
	var cred schema.IntegrationCredential
	err := s.db.WithContext(ctx).
		Where("vendor = ? AND external_account_id = ?", vendor, externalAccountID).
		First(&cred).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get integration by external account: %w", err)
	}
	return &cred, nil
}

// ListEnabledIntegrations retrieves enabled credentials, optionally filtered by vendor
func (s *pgStore) ListEnabledIntegrations(ctx context.Context, vendor string) ([]*schema.IntegrationCredential, error) {
	query := s.db.WithContext(ctx).Where("enabled = ?", true)
	if vendor != "" {
		query = query.Where("vendor = ?", vendor)
	}

	var creds []*schema.IntegrationCredential
	if err := query.Order("created_at ASC").Find(&creds).Error; err != nil {
		return nil, fmt.Errorf("failed to list enabled integrations: %w", err)
	}
	return creds, nil
}

// UpsertIntegration creates or replaces the credential for (company_id, vendor)
func (s *pgStore) UpsertIntegration(ctx context.Context, cred *schema.IntegrationCredential) error {
	if cred.ID == uuid.Nil {
		cred.ID = uuid.New()
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "company_id"}, {Name: "vendor"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"access_cipher", "access_iv", "access_tag",
			"refresh_cipher", "refresh_iv", "refresh_tag",
			"expires_at", "scope", "external_account_id",
			"webhook_secret", "enabled", "updated_at",
		}),
	}).Create(cred).Error
	if err != nil {
		return fmt.Errorf("failed to upsert integration: %w", err)
	}
	return nil
}

// UpdateIntegrationTokens persists rotated token ciphertexts after a refresh
func (s *pgStore) UpdateIntegrationTokens(ctx context.Context, cred *schema.IntegrationCredential) error {
	err := s.db.WithContext(ctx).Model(&schema.IntegrationCredential{}).
		Where("id = ?", cred.ID).
		Updates(map[string]any{
			"access_cipher":  cred.AccessCipher,
			"access_iv":      cred.AccessIV,
			"access_tag":     cred.AccessTag,
			"refresh_cipher": cred.RefreshCipher,
			"refresh_iv":     cred.RefreshIV,
			"refresh_tag":    cred.RefreshTag,
			"expires_at":     cred.ExpiresAt,
			"scope":          cred.Scope,
			"updated_at":     time.Now(),
		}).Error
	if err != nil {
		return fmt.Errorf("failed to update integration tokens: %w", err)
	}
	return nil
}

// CreateEtlRun records the start of an extraction run
func (s *pgStore) CreateEtlRun(ctx context.Context, run *schema.EtlRun) error {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	if err := s.db.WithContext(ctx).Create(run).Error; err != nil {
		return fmt.Errorf("failed to create etl run: %w", err)
	}
	return nil
}

// FinishEtlRun records the outcome of an extraction run
func (s *pgStore) FinishEtlRun(ctx context.Context, runID uuid.UUID, ok bool, pages, rows int, errMsg string) error {
	now := time.Now()
	err := s.db.WithContext(ctx).Model(&schema.EtlRun{}).
		Where("id = ?", runID).
		Updates(map[string]any{
			"finished_at": &now,
			"ok":          ok,
			"pages":       pages,
			"rows":        rows,
			"error":       errMsg,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to finish etl run: %w", err)
	}
	return nil
}

// ListEtlRuns retrieves recent runs for a company, newest first
func (s *pgStore) ListEtlRuns(ctx context.Context, companyID uuid.UUID, limit int) ([]*schema.EtlRun, error) {
	if limit <= 0 {
		limit = 50
	}

	var runs []*schema.EtlRun
	err := s.db.WithContext(ctx).
		Where("company_id = ?", companyID).
		Order("started_at DESC").
		Limit(limit).
		Find(&runs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list etl runs: %w", err)
	}
	return runs, nil
}

// GetCheckpoint retrieves the incremental boundary for (company, source)
func (s *pgStore) GetCheckpoint(ctx context.Context, companyID uuid.UUID, source string) (*schema.EtlCheckpoint, error) {
	var checkpoint schema.EtlCheckpoint
	err := s.db.WithContext(ctx).
		Where("company_id = ? AND source = ?", companyID, source).
		First(&checkpoint).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get checkpoint: %w", err)
	}
	return &checkpoint, nil
}

// SaveCheckpoint advances the incremental boundary. The conditional update
// keeps the boundary monotonic: a stale writer can never move it backwards.
func (s *pgStore) SaveCheckpoint(ctx context.Context, companyID uuid.UUID, source string, lastRunAt time.Time) error {
	checkpoint := schema.EtlCheckpoint{
		CompanyID: companyID,
		Source:    source,
		LastRunAt: lastRunAt,
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "company_id"}, {Name: "source"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_run_at", "updated_at"}),
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Expr{SQL: "etl_checkpoints.last_run_at < excluded.last_run_at"},
		}},
	}).Create(&checkpoint).Error
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

// UpsertProducts writes canonical products keyed by (company_id, sku)
func (s *pgStore) UpsertProducts(ctx context.Context, products []schema.Product) error {
	if len(products) == 0 {
		return nil
	}

	batchSize := calculateSafeBatchSize(len(products), 12)
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "company_id"}, {Name: "sku"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"vendor", "external_id", "title", "price", "stock",
			"category", "variations", "active", "updated_at",
		}),
	}).CreateInBatches(products, batchSize).Error
	if err != nil {
		return fmt.Errorf("failed to upsert products: %w", err)
	}
	return nil
}

// ListProducts retrieves a company's catalog
func (s *pgStore) ListProducts(ctx context.Context, companyID uuid.UUID) ([]*schema.Product, error) {
	var products []*schema.Product
	err := s.db.WithContext(ctx).
		Where("company_id = ?", companyID).
		Order("sku ASC").
		Find(&products).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	return products, nil
}

// UpsertOrders writes canonical orders and their items in one transaction
func (s *pgStore) UpsertOrders(ctx context.Context, orders []schema.Order, items []schema.OrderItem) error {
	if len(orders) == 0 && len(items) == 0 {
		return nil
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(orders) > 0 {
			batchSize := calculateSafeBatchSize(len(orders), 10)
			if err := tx.Clauses(clause.OnConflict{
				Columns: []clause.Column{{Name: "company_id"}, {Name: "order_id"}},
				DoUpdates: clause.AssignmentColumns([]string{
					"vendor", "status", "channel", "buyer", "total", "placed_at", "updated_at",
				}),
			}).CreateInBatches(orders, batchSize).Error; err != nil {
				return fmt.Errorf("failed to upsert orders: %w", err)
			}
		}

		if len(items) > 0 {
			batchSize := calculateSafeBatchSize(len(items), 10)
			if err := tx.Clauses(clause.OnConflict{
				Columns: []clause.Column{{Name: "company_id"}, {Name: "order_id"}, {Name: "seq"}},
				DoUpdates: clause.AssignmentColumns([]string{
					"sku", "title", "quantity", "unit_price", "total", "updated_at",
				}),
			}).CreateInBatches(items, batchSize).Error; err != nil {
				return fmt.Errorf("failed to upsert order items: %w", err)
			}
		}

		return nil
	})
}

// GetWebhookEventByNaturalKey retrieves a stored event by its dedupe key
func (s *pgStore) GetWebhookEventByNaturalKey(ctx context.Context, companyID uuid.UUID, vendor, topic, externalID, disambiguator string) (*schema.WebhookEvent, error) {
	var event schema.WebhookEvent
	err := s.db.WithContext(ctx).
		Where("company_id = ? AND vendor = ? AND topic = ? AND external_id = ? AND disambiguator = ?",
			companyID, vendor, topic, externalID, disambiguator).
		First(&event).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get webhook event: %w", err)
	}
	return &event, nil
}

// CreateWebhookEvent persists an inbound event. A natural-key conflict means
// the vendor redelivered a notification we already stored, reported as
// domain.ErrDuplicateEvent so the caller can acknowledge without reprocessing.
func (s *pgStore) CreateWebhookEvent(ctx context.Context, event *schema.WebhookEvent) error {
	result := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "company_id"}, {Name: "vendor"}, {Name: "topic"},
			{Name: "external_id"}, {Name: "disambiguator"},
		},
		DoNothing: true,
	}).Create(event)
	if result.Error != nil {
		return fmt.Errorf("failed to create webhook event: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return domain.ErrDuplicateEvent
	}
	return nil
}

// MarkWebhookEventProcessed flips the processed flag after the handler succeeded
func (s *pgStore) MarkWebhookEventProcessed(ctx context.Context, eventID string) error {
	err := s.db.WithContext(ctx).Model(&schema.WebhookEvent{}).
		Where("id = ?", eventID).
		Updates(map[string]any{
			"processed":     true,
			"error_message": "",
			"updated_at":    time.Now(),
		}).Error
	if err != nil {
		return fmt.Errorf("failed to mark webhook event processed: %w", err)
	}
	return nil
}

// RecordWebhookEventFailure stores the handler error and bumps the retry count
func (s *pgStore) RecordWebhookEventFailure(ctx context.Context, eventID string, errMsg string) error {
	err := s.db.WithContext(ctx).Model(&schema.WebhookEvent{}).
		Where("id = ?", eventID).
		Updates(map[string]any{
			"retry_count":   gorm.Expr("retry_count + 1"),
			"error_message": errMsg,
			"updated_at":    time.Now(),
		}).Error
	if err != nil {
		return fmt.Errorf("failed to record webhook event failure: %w", err)
	}
	return nil
}

// CreateMarketDataset stores a dataset and its records in one transaction
func (s *pgStore) CreateMarketDataset(ctx context.Context, dataset *schema.MarketDataset, records []schema.MarketRecord) error {
	if dataset.ID == uuid.Nil {
		dataset.ID = uuid.New()
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(dataset).Error; err != nil {
			return fmt.Errorf("failed to create market dataset: %w", err)
		}

		if len(records) == 0 {
			return nil
		}

		for i := range records {
			if records[i].ID == uuid.Nil {
				records[i].ID = uuid.New()
			}
			records[i].DatasetID = dataset.ID
		}

		batchSize := calculateSafeBatchSize(len(records), 15)
		if err := tx.CreateInBatches(records, batchSize).Error; err != nil {
			return fmt.Errorf("failed to create market records: %w", err)
		}
		return nil
	})
}

// GetMarketDataset retrieves a dataset owned by the company
func (s *pgStore) GetMarketDataset(ctx context.Context, companyID, datasetID uuid.UUID) (*schema.MarketDataset, error) {
	var dataset schema.MarketDataset
	err := s.db.WithContext(ctx).
		Where("id = ? AND company_id = ?", datasetID, companyID).
		First(&dataset).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get market dataset: %w", err)
	}
	return &dataset, nil
}

// ListMarketRecords retrieves all records of a dataset
func (s *pgStore) ListMarketRecords(ctx context.Context, datasetID uuid.UUID) ([]*schema.MarketRecord, error) {
	var records []*schema.MarketRecord
	err := s.db.WithContext(ctx).
		Where("dataset_id = ?", datasetID).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list market records: %w", err)
	}
	return records, nil
}

// CreateInsight persists an insight unless its dedupe key already exists
func (s *pgStore) CreateInsight(ctx context.Context, insight *schema.Insight) (bool, error) {
	if insight.ID == uuid.Nil {
		insight.ID = uuid.New()
	}

	result := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "company_id"}, {Name: "dedupe_key"}},
		DoNothing: true,
	}).Create(insight)
	if result.Error != nil {
		return false, fmt.Errorf("failed to create insight: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// ListInsights retrieves a company's insights, newest first
func (s *pgStore) ListInsights(ctx context.Context, companyID uuid.UUID, insightType string, limit int) ([]*schema.Insight, error) {
	if limit <= 0 {
		limit = 100
	}

	query := s.db.WithContext(ctx).Where("company_id = ?", companyID)
	if insightType != "" {
		query = query.Where("type = ?", insightType)
	}

	var insights []*schema.Insight
	err := query.Order("created_at DESC").Limit(limit).Find(&insights).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list insights: %w", err)
	}
	return insights, nil
}

// CreateMission persists a mission
func (s *pgStore) CreateMission(ctx context.Context, mission *schema.Mission) error {
	if mission.ID == uuid.Nil {
		mission.ID = uuid.New()
	}
	if err := s.db.WithContext(ctx).Create(mission).Error; err != nil {
		return fmt.Errorf("failed to create mission: %w", err)
	}
	return nil
}

// ListMissions retrieves a company's missions, optionally filtered by status
func (s *pgStore) ListMissions(ctx context.Context, companyID uuid.UUID, status string) ([]*schema.Mission, error) {
	query := s.db.WithContext(ctx).Where("company_id = ?", companyID)
	if status != "" {
		query = query.Where("status = ?", status)
	}

	var missions []*schema.Mission
	err := query.Order("created_at DESC").Find(&missions).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list missions: %w", err)
	}
	return missions, nil
}

// UpdateMissionStatus moves a mission through its lifecycle. Completing a
// mission stamps completed_at; any other transition clears it.
func (s *pgStore) UpdateMissionStatus(ctx context.Context, companyID, missionID uuid.UUID, status string) error {
	updates := map[string]any{
		"status":     status,
		"updated_at": time.Now(),
	}
	if status == string(domain.MissionDone) {
		now := time.Now()
		updates["completed_at"] = &now
	} else {
		updates["completed_at"] = nil
	}

	result := s.db.WithContext(ctx).Model(&schema.Mission{}).
		Where("id = ? AND company_id = ?", missionID, companyID).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to update mission status: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return domain.ErrMissionNotFound
	}
	return nil
}
