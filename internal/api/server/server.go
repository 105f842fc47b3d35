package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ecommind/engine/internal/api/middleware"
	"github.com/ecommind/engine/internal/api/rest"
	"github.com/ecommind/engine/internal/etl"
	"github.com/ecommind/engine/internal/insights"
	"github.com/ecommind/engine/internal/integrations"
	"github.com/ecommind/engine/internal/logger"
	"github.com/ecommind/engine/internal/store"
	"github.com/ecommind/engine/internal/webhook"
)

// Config holds the server configuration
type Config struct {
	Debug        bool
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	Auth         middleware.AuthConfig
}

// Server wraps the HTTP server
type Server struct {
	config     Config
	store      store.Store
	etl        *etl.Service
	insights   *insights.Service
	ingestor   *webhook.Ingestor
	factory    *integrations.Factory
	httpServer *http.Server
}

// New creates a new API server
func New(cfg Config, st store.Store, etlService *etl.Service, insightService *insights.Service, ingestor *webhook.Ingestor, factory *integrations.Factory) *Server {
	return &Server{
		config:   cfg,
		store:    st,
		etl:      etlService,
		insights: insightService,
		ingestor: ingestor,
		factory:  factory,
	}
}

// Start initializes and starts the HTTP server
func (s *Server) Start() error {
	// Set Gin mode based on debug flag
	if s.config.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	// Create Gin router
	router := gin.New()

	// Setup middleware
	router.Use(middleware.Recovery())
	router.Use(middleware.Logger())
	router.Use(middleware.SetupCORS())

	// Create REST handler
	handler := rest.NewHandler(s.store, s.etl, s.insights, s.ingestor, s.factory)

	// Setup routes
	rest.SetupRoutes(router, handler, s.config.Auth)

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}

	logger.Info("Starting API server",
		zap.String("address", addr),
	)

	// Start server
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	logger.Info("Shutting down API server")

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shutdown server: %w", err)
		}
	}

	return nil
}
