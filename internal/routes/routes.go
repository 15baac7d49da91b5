package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/niaga-platform/service-merchant/internal/handlers"
	"github.com/niaga-platform/service-merchant/internal/middleware"
)

// RouteConfig holds configuration for routes
type RouteConfig struct {
	SyncHandler      *handlers.SyncHandler
	AnalyticsHandler *handlers.AnalyticsHandler
	ImportHandler    *handlers.ImportHandler
	AdminAPIKey      string
	MetricsRegistry  *prometheus.Registry
}

// SetupRoutes configures all API routes
func SetupRoutes(router *gin.Engine, cfg *RouteConfig) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	if cfg.MetricsRegistry != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(cfg.MetricsRegistry, promhttp.HandlerOpts{})))
	}

	// API v1 routes
	v1 := router.Group("/api/v1")

	// Admin merchant routes (require the admin API key)
	admin := v1.Group("/admin/merchant")
	admin.Use(middleware.APIKeyAuth(cfg.AdminAPIKey))
	{
		// Sync queue and reconciler
		sync := admin.Group("/sync")
		{
			sync.GET("/queue", cfg.SyncHandler.GetQueue)
			sync.POST("/queue", cfg.SyncHandler.EnqueueProduct)
			sync.POST("/run", cfg.SyncHandler.TriggerSync)
			sync.GET("/status", cfg.SyncHandler.GetStatus)
			sync.GET("/dropped", cfg.SyncHandler.GetDropped)
			sync.GET("/quota", cfg.SyncHandler.GetQuota)
		}

		// Analytics ingestion and reads
		analytics := admin.Group("/analytics")
		{
			analytics.GET("", cfg.AnalyticsHandler.GetAnalytics)
			analytics.GET("/status", cfg.AnalyticsHandler.GetIngestStatus)
			analytics.POST("/run", cfg.AnalyticsHandler.TriggerIngest)
			analytics.GET("/pricing", cfg.AnalyticsHandler.GetPricing)
			analytics.GET("/unmapped", cfg.AnalyticsHandler.GetUnmapped)

			analytics.GET("/mappings", cfg.AnalyticsHandler.ListMappings)
			analytics.POST("/mappings", cfg.AnalyticsHandler.CreateMapping)
			analytics.DELETE("/mappings/:remote_offer_id", cfg.AnalyticsHandler.DeleteMapping)
		}

		// Historical backfill
		imports := admin.Group("/import")
		{
			imports.GET("/status", cfg.ImportHandler.GetProgress)
			imports.POST("/run", cfg.ImportHandler.TriggerImport)
		}
	}
}
