package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alitto/pond/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/ecommind/engine/internal/adapter"
	"github.com/ecommind/engine/internal/config"
	"github.com/ecommind/engine/internal/domain"
	"github.com/ecommind/engine/internal/etl"
	"github.com/ecommind/engine/internal/integrations"
	"github.com/ecommind/engine/internal/logger"
	"github.com/ecommind/engine/internal/ratelimit"
	"github.com/ecommind/engine/internal/retry"
	"github.com/ecommind/engine/internal/store"
	"github.com/ecommind/engine/internal/vault"
)

var (
	configFile = flag.String("config", "", "Path to configuration file")
	envPath    = flag.String("env", "config/", "Path to environment files")
)

func main() {
	flag.Parse()

	// Load configuration
	config.ChdirRepoRoot()
	cfg, err := config.LoadSyncdConfig(*configFile, *envPath)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize logger with sentry integration
	err = logger.Initialize(logger.Config{
		Debug:           cfg.Debug,
		SentryDSN:       cfg.SentryDSN,
		BreadcrumbLevel: zapcore.InfoLevel,
		Tags: map[string]string{
			"service": "syncd",
		},
	})
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Flush(2 * time.Second)
	logger.InfoCtx(ctx, "Starting Ecommind sync daemon",
		zap.Duration("interval", cfg.SyncInterval),
		zap.Int("pool_size", cfg.PoolSize),
	)

	// Connect to database
	db, err := gorm.Open(postgres.Open(cfg.Database.DSN()), &gorm.Config{})
	if err != nil {
		logger.FatalCtx(ctx, "Failed to connect to database", zap.Error(err))
	}
	if err := store.ConfigureConnectionPool(db, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns, cfg.Database.ConnMaxLifetime, cfg.Database.ConnMaxIdleTime); err != nil {
		logger.FatalCtx(ctx, "Failed to configure connection pool", zap.Error(err))
	}

	// Initialize store
	dataStore := store.NewPGStore(db)

	// Initialize the token vault
	tokenVault, err := vault.New(cfg.Vault.Secret)
	if err != nil {
		logger.FatalCtx(ctx, "Failed to initialize token vault", zap.Error(err))
	}

	// Initialize adapters
	clock := adapter.NewClock()
	jsonAdapter := adapter.NewJSON()
	httpClient := adapter.NewHTTPClient(cfg.HTTP.Timeout)

	// Shared vendor client plumbing
	limiter := ratelimit.NewLimiter(cfg.RateLimits.Map())
	maxRetries, baseDelay, maxDelay, multiplier := cfg.Retry.Policy()
	policy := retry.Policy{
		MaxRetries: maxRetries,
		BaseDelay:  baseDelay,
		MaxDelay:   maxDelay,
		Multiplier: multiplier,
	}
	factory := integrations.NewFactory(cfg.Vendors, dataStore, tokenVault, httpClient, limiter, policy, clock, jsonAdapter)
	etlService := etl.NewService(dataStore, factory, clock)

	// Bounded worker pool; overlapping runs are safe because every write is
	// an idempotent upsert and the checkpoint only advances on success
	pool := pond.NewPool(
		cfg.PoolSize,
		pond.WithQueueSize(cfg.QueueSize),
		pond.WithContext(ctx),
	)

	ticker := time.NewTicker(cfg.SyncInterval)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// First pass immediately; then on every tick
	dispatchAll(ctx, dataStore, etlService, pool)

loop:
	for {
		select {
		case <-ticker.C:
			dispatchAll(ctx, dataStore, etlService, pool)
		case sig := <-sigCh:
			logger.InfoCtx(ctx, "Received shutdown signal", zap.String("signal", sig.String()))
			break loop
		}
	}

	cancel()
	pool.StopAndWait()
	logger.Info("Sync daemon stopped")
}

// dispatchAll submits one sync job per enabled integration. A full queue is
// logged and skipped; the next tick picks the integration up again.
func dispatchAll(ctx context.Context, dataStore store.Store, etlService *etl.Service, pool pond.Pool) {
	creds, err := dataStore.ListEnabledIntegrations(ctx, "")
	if err != nil {
		logger.ErrorCtx(ctx, fmt.Errorf("failed to list integrations: %w", err))
		return
	}
	logger.InfoCtx(ctx, "Dispatching sync jobs", zap.Int("integrations", len(creds)))

	for _, cred := range creds {
		companyID := cred.CompanyID
		vendor := domain.Vendor(cred.Vendor)

		_, ok := pool.TrySubmit(func() {
			results, err := etlService.SyncVendor(ctx, companyID, vendor, nil, false)
			if err != nil {
				logger.ErrorCtx(ctx, err,
					zap.String("company_id", companyID.String()),
					zap.String("vendor", string(vendor)))
				return
			}
			for _, r := range results {
				if r.Err == nil {
					logger.InfoCtx(ctx, "Sync completed",
						zap.String("source", r.Source),
						zap.Int("pages", r.Pages),
						zap.Int("rows", r.Rows))
				}
			}
		})
		if !ok {
			logger.WarnCtx(ctx, "Sync queue full, skipping integration",
				zap.String("company_id", companyID.String()),
				zap.String("vendor", string(vendor)))
		}
	}
}
