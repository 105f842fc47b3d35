package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/ecommind/engine/internal/config"
	"github.com/ecommind/engine/internal/logger"
	"github.com/ecommind/engine/internal/store/schema"
)

var (
	configFile = flag.String("config", "", "Path to configuration file")
	envPath    = flag.String("env", "config/", "Path to environment files")
)

func main() {
	flag.Parse()

	// Load configuration
	config.ChdirRepoRoot()
	cfg, err := config.LoadMigrateConfig(*configFile, *envPath)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	ctx := context.Background()

	err = logger.Initialize(logger.Config{
		Debug:     cfg.Debug,
		SentryDSN: cfg.SentryDSN,
		Tags: map[string]string{
			"service": "migrate",
		},
		BreadcrumbLevel: zapcore.InfoLevel,
	})
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Flush(2 * time.Second)

	// Connect to database
	db, err := gorm.Open(postgres.Open(cfg.Database.DSN()), &gorm.Config{})
	if err != nil {
		logger.FatalCtx(ctx, "Failed to connect to database", zap.Error(err))
	}

	logger.InfoCtx(ctx, "Running migrations", zap.String("database", cfg.Database.DBName))

	err = db.AutoMigrate(
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
		logger.FatalCtx(ctx, "Migration failed", zap.Error(err))
	}

	logger.InfoCtx(ctx, "Migrations completed")
}
