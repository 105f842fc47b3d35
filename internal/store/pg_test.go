package store

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"gorm.io/datatypes"
	pgdriver "gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/ecommind/engine/internal/domain"
	"github.com/ecommind/engine/internal/store/schema"
)

var (
	testDB      *gorm.DB
	pgContainer *postgres.PostgresContainer
)

// TestMain sets up the test database before running tests
func TestMain(m *testing.M) {
	ctx := context.Background()

	// Check if we should use an external database (for CI or local development)
	dbHost := os.Getenv("TEST_DB_HOST")
	dbPort := os.Getenv("TEST_DB_PORT")
	dbUser := os.Getenv("TEST_DB_USER")
	dbPassword := os.Getenv("TEST_DB_PASSWORD")
	dbName := os.Getenv("TEST_DB_NAME")

	var dsn string
	var err error

	if dbHost != "" {
		// Use external database
		if dbPort == "" {
			dbPort = "5432"
		}
		if dbUser == "" {
			dbUser = "postgres"
		}
		if dbPassword == "" {
			dbPassword = "postgres"
		}
		if dbName == "" {
			dbName = "test_db"
		}

		dsn = fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
			dbHost, dbPort, dbUser, dbPassword, dbName)

		fmt.Printf("Using external database: %s:%s/%s\n", dbHost, dbPort, dbName)
	} else {
		// Start a PostgreSQL container for testing
		pgContainer, err = postgres.Run(ctx,
			"postgres:18-alpine",
			postgres.WithDatabase("test_db"),
			postgres.WithUsername("postgres"),
			postgres.WithPassword("postgres"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second)),
		)
		if err != nil {
			fmt.Printf("Failed to start PostgreSQL container: %v\n", err)
			os.Exit(1)
		}

		dsn, err = pgContainer.ConnectionString(ctx, "sslmode=disable")
		if err != nil {
			fmt.Printf("Failed to get connection string: %v\n", err)
			if err := pgContainer.Terminate(ctx); err != nil {
				fmt.Printf("Failed to terminate PostgreSQL container: %v\n", err)
			}
			os.Exit(1)
		}

		fmt.Printf("Started PostgreSQL container\n")
	}

	// Connect to the database
	testDB, err = gorm.Open(pgdriver.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		fmt.Printf("Failed to connect to database: %v\n", err)
		if pgContainer != nil {
			if err := pgContainer.Terminate(ctx); err != nil {
				fmt.Printf("Failed to terminate PostgreSQL container: %v\n", err)
			}
		}
		os.Exit(1)
	}

	// Migrations own the schema in production; tests build the same tables
	err = testDB.AutoMigrate(
		&schema.Company{},
		&schema.IntegrationCredential{},
		&schema.EtlRun{},
		&schema.EtlCheckpoint{},
		&schema.Product{},
		&schema.Order{},
		&schema.OrderItem{},
		&schema.WebhookEvent{},
		&schema.MarketDataset{},
		&schema.MarketRecord{},
		&schema.Insight{},
		&schema.Mission{},
	)
	if err != nil {
		fmt.Printf("Failed to migrate database: %v\n", err)
		if pgContainer != nil {
			if err := pgContainer.Terminate(ctx); err != nil {
				fmt.Printf("Failed to terminate PostgreSQL container: %v\n", err)
			}
		}
		os.Exit(1)
	}

	// Run tests
	code := m.Run()

	// Cleanup
	if pgContainer != nil {
		if err := pgContainer.Terminate(ctx); err != nil {
			fmt.Printf("Failed to terminate PostgreSQL container: %v\n", err)
		}
	}

	os.Exit(code)
}

// initPGTestDB gives each test a store on its own transaction, rolled back
// on cleanup so tests stay isolated
func initPGTestDB(t *testing.T) (Store, *gorm.DB) {
	tx := testDB.Begin()
	require.NotNil(t, tx)
	require.NoError(t, tx.Error)

	t.Cleanup(func() {
		tx.Rollback()
	})

	return NewPGStore(tx), tx
}

func seedCompany(t *testing.T, tx *gorm.DB) *schema.Company {
	t.Helper()
	company := &schema.Company{
		ID:   uuid.New(),
		Name: "Loja Teste",
	}
	require.NoError(t, tx.Create(company).Error)
	return company
}

func TestCompanies(t *testing.T) {
	store, tx := initPGTestDB(t)
	company := seedCompany(t, tx)

	got, err := store.GetCompany(context.Background(), company.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, company.Name, got.Name)

	missing, err := store.GetCompany(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Nil(t, missing)

	companies, err := store.ListCompanies(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, companies)
}

func TestIntegrations(t *testing.T) {
	store, tx := initPGTestDB(t)
	company := seedCompany(t, tx)
	ctx := context.Background()

	cred := &schema.IntegrationCredential{
		CompanyID:         company.ID,
		Vendor:            "meli",
		AccessCipher:      "c1", AccessIV: "i1", AccessTag: "t1",
		RefreshCipher:     "c2", RefreshIV: "i2", RefreshTag: "t2",
		ExpiresAt:         time.Now().Add(time.Hour),
		ExternalAccountID: "999",
		Enabled:           true,
	}
	require.NoError(t, store.UpsertIntegration(ctx, cred))

	t.Run("upsert replaces on the company and vendor key", func(t *testing.T) {
		replacement := &schema.IntegrationCredential{
			CompanyID:         company.ID,
			Vendor:            "meli",
			AccessCipher:      "c9", AccessIV: "i9", AccessTag: "t9",
			RefreshCipher:     "c2", RefreshIV: "i2", RefreshTag: "t2",
			ExpiresAt:         time.Now().Add(2 * time.Hour),
			ExternalAccountID: "999",
			Enabled:           true,
		}
		require.NoError(t, store.UpsertIntegration(ctx, replacement))

		var count int64
		require.NoError(t, tx.Model(&schema.IntegrationCredential{}).
			Where("company_id = ?", company.ID).Count(&count).Error)
		assert.EqualValues(t, 1, count)

		got, err := store.GetIntegration(ctx, company.ID, "meli")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "c9", got.AccessCipher)
	})

	t.Run("resolves by external account", func(t *testing.T) {
		got, err := store.GetIntegrationByExternalAccount(ctx, "meli", "999")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, company.ID, got.CompanyID)

		none, err := store.GetIntegrationByExternalAccount(ctx, "meli", "000")
		require.NoError(t, err)
		assert.Nil(t, none)
	})

	t.Run("disabled integrations are not listed", func(t *testing.T) {
		disabled := &schema.IntegrationCredential{
			CompanyID:    seedCompany(t, tx).ID,
			Vendor:       "meli",
			AccessCipher: "x", AccessIV: "x", AccessTag: "x",
			RefreshCipher: "x", RefreshIV: "x", RefreshTag: "x",
			ExpiresAt: time.Now(),
			Enabled:   false,
		}
		require.NoError(t, store.UpsertIntegration(ctx, disabled))

		creds, err := store.ListEnabledIntegrations(ctx, "meli")
		require.NoError(t, err)
		for _, c := range creds {
			assert.True(t, c.Enabled)
		}
	})

	t.Run("missing integration is nil, not an error", func(t *testing.T) {
		got, err := store.GetIntegration(ctx, company.ID, "shopee")
		require.NoError(t, err)
		assert.Nil(t, got)
	})
}

func TestEtlRuns(t *testing.T) {
	store, tx := initPGTestDB(t)
	company := seedCompany(t, tx)
	ctx := context.Background()

	run := &schema.EtlRun{
		CompanyID: company.ID,
		Source:    "bling.products",
		StartedAt: time.Now().UTC(),
	}
	require.NoError(t, store.CreateEtlRun(ctx, run))
	assert.NotEqual(t, uuid.Nil, run.ID)

	require.NoError(t, store.FinishEtlRun(ctx, run.ID, true, 3, 240, ""))

	runs, err := store.ListEtlRuns(ctx, company.ID, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.True(t, runs[0].OK)
	assert.Equal(t, 3, runs[0].Pages)
	assert.Equal(t, 240, runs[0].Rows)
	assert.NotNil(t, runs[0].FinishedAt)
}

func TestCheckpoints(t *testing.T) {
	store, tx := initPGTestDB(t)
	company := seedCompany(t, tx)
	ctx := context.Background()
	source := "bling.products"

	t.Run("missing checkpoint is nil", func(t *testing.T) {
		got, err := store.GetCheckpoint(ctx, company.ID, source)
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	first := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.SaveCheckpoint(ctx, company.ID, source, first))

	t.Run("a newer boundary advances", func(t *testing.T) {
		newer := first.Add(time.Hour)
		require.NoError(t, store.SaveCheckpoint(ctx, company.ID, source, newer))

		got, err := store.GetCheckpoint(ctx, company.ID, source)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.WithinDuration(t, newer, got.LastRunAt, time.Second)
	})

	t.Run("a stale writer cannot move the boundary backwards", func(t *testing.T) {
		require.NoError(t, store.SaveCheckpoint(ctx, company.ID, source, first.Add(-time.Hour)))

		got, err := store.GetCheckpoint(ctx, company.ID, source)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.WithinDuration(t, first.Add(time.Hour), got.LastRunAt, time.Second)
	})
}

func TestUpsertProducts(t *testing.T) {
	store, tx := initPGTestDB(t)
	company := seedCompany(t, tx)
	ctx := context.Background()

	batch := []schema.Product{
		{
			CompanyID: company.ID, SKU: "GAR-01", Vendor: "bling", ExternalID: "1001",
			Title: "Garrafa Termica", Price: decimal.NewFromFloat(89.9), Stock: 42, Active: true,
			Variations: datatypes.JSONSlice[string]{"Cor:Preto"},
		},
		{
			CompanyID: company.ID, SKU: "CAN-01", Vendor: "bling", ExternalID: "1002",
			Title: "Caneca", Price: decimal.NewFromFloat(39.9), Stock: 10, Active: true,
		},
	}
	require.NoError(t, store.UpsertProducts(ctx, batch))

	// Replaying the same SKU updates in place
	batch[0].Price = decimal.NewFromFloat(79.9)
	batch[0].Stock = 30
	require.NoError(t, store.UpsertProducts(ctx, batch[:1]))

	products, err := store.ListProducts(ctx, company.ID)
	require.NoError(t, err)
	require.Len(t, products, 2)

	// ListProducts orders by SKU
	assert.Equal(t, "CAN-01", products[0].SKU)
	assert.Equal(t, "GAR-01", products[1].SKU)
	assert.True(t, products[1].Price.Equal(decimal.NewFromFloat(79.9)), "got %s", products[1].Price)
	assert.Equal(t, 30, products[1].Stock)
}

func TestUpsertOrders(t *testing.T) {
	store, tx := initPGTestDB(t)
	company := seedCompany(t, tx)
	ctx := context.Background()

	orders := []schema.Order{{
		CompanyID: company.ID, OrderID: "555", Vendor: "bling",
		Status: "open", Buyer: "Maria", Total: decimal.NewFromFloat(199.8),
		PlacedAt: time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC),
	}}
	items := []schema.OrderItem{{
		CompanyID: company.ID, OrderID: "555", Seq: 1,
		SKU: "GAR-01", Title: "Garrafa", Quantity: 2,
		UnitPrice: decimal.NewFromFloat(99.9), Total: decimal.NewFromFloat(199.8),
	}}
	require.NoError(t, store.UpsertOrders(ctx, orders, items))

	// A webhook-driven refetch of the same order flips only the status
	orders[0].Status = "fulfilled"
	require.NoError(t, store.UpsertOrders(ctx, orders, items))

	var stored []schema.Order
	require.NoError(t, tx.Where("company_id = ?", company.ID).Find(&stored).Error)
	require.Len(t, stored, 1)
	assert.Equal(t, "fulfilled", stored[0].Status)

	var storedItems []schema.OrderItem
	require.NoError(t, tx.Where("company_id = ? AND order_id = ?", company.ID, "555").Find(&storedItems).Error)
	assert.Len(t, storedItems, 1)
}

func TestWebhookEvents(t *testing.T) {
	store, tx := initPGTestDB(t)
	company := seedCompany(t, tx)
	ctx := context.Background()

	event := &schema.WebhookEvent{
		ID:         "01JXTESTEVENT00000000000AA",
		CompanyID:  company.ID,
		Vendor:     "meli",
		Topic:      "orders",
		ExternalID: "2195160686",
		Payload:    datatypes.JSON(`{"resource":"/orders/2195160686"}`),
	}
	require.NoError(t, store.CreateWebhookEvent(ctx, event))

	t.Run("a redelivery conflicts on the natural key", func(t *testing.T) {
		replay := &schema.WebhookEvent{
			ID:         "01JXTESTEVENT00000000000AB",
			CompanyID:  company.ID,
			Vendor:     "meli",
			Topic:      "orders",
			ExternalID: "2195160686",
			Payload:    datatypes.JSON(`{"resource":"/orders/2195160686"}`),
		}
		err := store.CreateWebhookEvent(ctx, replay)
		assert.ErrorIs(t, err, domain.ErrDuplicateEvent)
	})

	t.Run("a different disambiguator is a new event", func(t *testing.T) {
		renotify := &schema.WebhookEvent{
			ID:            "01JXTESTEVENT00000000000AC",
			CompanyID:     company.ID,
			Vendor:        "meli",
			Topic:         "orders",
			ExternalID:    "2195160686",
			Disambiguator: "2025-06-15T13:00:00Z",
			Payload:       datatypes.JSON(`{}`),
		}
		assert.NoError(t, store.CreateWebhookEvent(ctx, renotify))
	})

	t.Run("lookup by natural key", func(t *testing.T) {
		got, err := store.GetWebhookEventByNaturalKey(ctx, company.ID, "meli", "orders", "2195160686", "")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, event.ID, got.ID)

		none, err := store.GetWebhookEventByNaturalKey(ctx, company.ID, "meli", "orders", "0", "")
		require.NoError(t, err)
		assert.Nil(t, none)
	})

	t.Run("failure then success bookkeeping", func(t *testing.T) {
		require.NoError(t, store.RecordWebhookEventFailure(ctx, event.ID, "vendor timeout"))
		require.NoError(t, store.RecordWebhookEventFailure(ctx, event.ID, "vendor timeout again"))

		var got schema.WebhookEvent
		require.NoError(t, tx.Where("id = ?", event.ID).First(&got).Error)
		assert.Equal(t, 2, got.RetryCount)
		assert.Equal(t, "vendor timeout again", got.ErrorMessage)
		assert.False(t, got.Processed)

		require.NoError(t, store.MarkWebhookEventProcessed(ctx, event.ID))
		require.NoError(t, tx.Where("id = ?", event.ID).First(&got).Error)
		assert.True(t, got.Processed)
		assert.Empty(t, got.ErrorMessage)
	})
}

func TestMarketDatasets(t *testing.T) {
	store, tx := initPGTestDB(t)
	company := seedCompany(t, tx)
	ctx := context.Background()

	demand := 70.0
	dataset := &schema.MarketDataset{
		CompanyID: company.ID,
		Name:      "Cozinha junho",
		Channel:   "mercadolivre",
	}
	records := []schema.MarketRecord{
		{
			Title:       "Air Fryer 12L",
			Identifier:  "MLB123",
			Category:    "Cozinha",
			Channel:     "mercadolivre",
			Price:       decimal.NewNullDecimal(decimal.NewFromFloat(399.9)),
			DemandIndex: &demand,
		},
		{
			Title:      "Garrafa Termica",
			Identifier: "MLB456",
			Category:   "Cozinha",
		},
	}
	require.NoError(t, store.CreateMarketDataset(ctx, dataset, records))
	assert.NotEqual(t, uuid.Nil, dataset.ID)

	got, err := store.GetMarketDataset(ctx, company.ID, dataset.ID)
	require.NoError(t, err)
	require.NotNil(t, got)

	// Ownership is part of the key: another tenant sees nothing
	other, err := store.GetMarketDataset(ctx, uuid.New(), dataset.ID)
	require.NoError(t, err)
	assert.Nil(t, other)

	stored, err := store.ListMarketRecords(ctx, dataset.ID)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	for _, rec := range stored {
		assert.Equal(t, dataset.ID, rec.DatasetID)
	}
}

func TestInsights(t *testing.T) {
	store, tx := initPGTestDB(t)
	company := seedCompany(t, tx)
	ctx := context.Background()

	insight := &schema.Insight{
		CompanyID:  company.ID,
		DedupeKey:  "market:trend_opportunity:MLB123:2025-06",
		Type:       "trend_opportunity",
		Title:      "Air Fryer 12L",
		Priority:   "P0",
		SLADays:    2,
		Confidence: 0.8,
		Scope:      datatypes.JSON(`{"module":"market"}`),
	}

	created, err := store.CreateInsight(ctx, insight)
	require.NoError(t, err)
	assert.True(t, created)

	t.Run("the same dedupe key is silently skipped", func(t *testing.T) {
		dup := &schema.Insight{
			CompanyID: company.ID,
			DedupeKey: "market:trend_opportunity:MLB123:2025-06",
			Type:      "trend_opportunity",
			Title:     "Air Fryer 12L",
			Priority:  "P0",
		}
		created, err := store.CreateInsight(ctx, dup)
		require.NoError(t, err)
		assert.False(t, created)
	})

	t.Run("another tenant can hold the same key", func(t *testing.T) {
		other := seedCompany(t, tx)
		created, err := store.CreateInsight(ctx, &schema.Insight{
			CompanyID: other.ID,
			DedupeKey: "market:trend_opportunity:MLB123:2025-06",
			Type:      "trend_opportunity",
			Title:     "Air Fryer 12L",
			Priority:  "P0",
		})
		require.NoError(t, err)
		assert.True(t, created)
	})

	t.Run("list filters by type", func(t *testing.T) {
		_, err := store.CreateInsight(ctx, &schema.Insight{
			CompanyID: company.ID,
			DedupeKey: "market:gap_portfolio:panela eletrica:2025-06",
			Type:      "gap_portfolio",
			Title:     "Panela Eletrica",
			Priority:  "P1",
		})
		require.NoError(t, err)

		trends, err := store.ListInsights(ctx, company.ID, "trend_opportunity", 10)
		require.NoError(t, err)
		require.Len(t, trends, 1)
		assert.Equal(t, "trend_opportunity", trends[0].Type)

		all, err := store.ListInsights(ctx, company.ID, "", 10)
		require.NoError(t, err)
		assert.Len(t, all, 2)
	})
}

func TestMissions(t *testing.T) {
	store, tx := initPGTestDB(t)
	company := seedCompany(t, tx)
	ctx := context.Background()

	mission := &schema.Mission{
		CompanyID: company.ID,
		Title:     "Ride the trend: Air Fryer 12L",
		Status:    string(domain.MissionBacklog),
		Tags:      datatypes.JSONSlice[string]{"market", "channel:mercadolivre"},
	}
	require.NoError(t, store.CreateMission(ctx, mission))

	t.Run("list filters by status", func(t *testing.T) {
		backlog, err := store.ListMissions(ctx, company.ID, string(domain.MissionBacklog))
		require.NoError(t, err)
		require.Len(t, backlog, 1)

		done, err := store.ListMissions(ctx, company.ID, string(domain.MissionDone))
		require.NoError(t, err)
		assert.Empty(t, done)
	})

	t.Run("completing stamps completed_at", func(t *testing.T) {
		require.NoError(t, store.UpdateMissionStatus(ctx, company.ID, mission.ID, string(domain.MissionDone)))

		var got schema.Mission
		require.NoError(t, tx.Where("id = ?", mission.ID).First(&got).Error)
		assert.Equal(t, string(domain.MissionDone), got.Status)
		require.NotNil(t, got.CompletedAt)

		// Reopening clears the completion stamp
		require.NoError(t, store.UpdateMissionStatus(ctx, company.ID, mission.ID, string(domain.MissionInProgress)))
		require.NoError(t, tx.Where("id = ?", mission.ID).First(&got).Error)
		assert.Nil(t, got.CompletedAt)
	})

	t.Run("another tenant cannot touch the mission", func(t *testing.T) {
		err := store.UpdateMissionStatus(ctx, uuid.New(), mission.ID, string(domain.MissionDone))
		assert.ErrorIs(t, err, domain.ErrMissionNotFound)
	})

	t.Run("unknown mission", func(t *testing.T) {
		err := store.UpdateMissionStatus(ctx, company.ID, uuid.New(), string(domain.MissionDone))
		assert.ErrorIs(t, err, domain.ErrMissionNotFound)
	})
}
