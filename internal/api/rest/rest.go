package rest

import (
	"github.com/gin-gonic/gin"

	"github.com/ecommind/engine/internal/api/middleware"
)

// SetupRoutes configures all API routes
func SetupRoutes(router *gin.Engine, handler *Handler, authCfg middleware.AuthConfig) {
	// Health check endpoint
	router.GET("/health", handler.HealthCheck)

	v1 := router.Group("/api/v1")

	// Webhooks authenticate by vendor signature or account binding, never by
	// a session token
	v1.POST("/webhooks/:vendor/:topic", handler.HandleWebhook)

	authed := v1.Group("")
	authed.Use(middleware.Auth(authCfg))
	{
		authed.GET("/integrations/:vendor/connect", handler.ConnectIntegration)
		authed.POST("/integrations/:vendor/callback", handler.CompleteIntegration)

		authed.POST("/sync/:vendor/trigger", handler.TriggerSync)
		authed.GET("/sync/runs", handler.ListRuns)

		authed.POST("/market/datasets", handler.CreateMarketDataset)
		authed.POST("/market/insights", handler.GenerateInsights)
		authed.GET("/insights", handler.ListInsights)

		authed.GET("/missions", handler.ListMissions)
		authed.PATCH("/missions/:id", handler.UpdateMissionStatus)
	}
}
