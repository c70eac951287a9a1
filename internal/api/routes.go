package api

import (
	"context"
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/codyseavey/albion-tracker/internal/api/handlers"
	"github.com/codyseavey/albion-tracker/internal/metrics"
	"github.com/codyseavey/albion-tracker/internal/services"
	"github.com/codyseavey/albion-tracker/internal/store"
)

// SetupRouter wires the HTTP surface. ctx bounds background runs started over the API.
func SetupRouter(ctx context.Context, corsOrigins []string, worker *services.IngestWorker, profit *services.ProfitService, stores *store.Stores) *gin.Engine {
	router := gin.Default()
	router.Use(metrics.GinMiddleware())

	// CORS configuration - allow configured origins or the local dev defaults
	config := cors.DefaultConfig()
	if len(corsOrigins) > 0 {
		config.AllowOrigins = corsOrigins
	} else {
		config.AllowOrigins = []string{"http://localhost:5173", "http://localhost:3000"}
	}
	config.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	config.AllowHeaders = []string{"Origin", "Content-Type", "Accept"}
	config.AllowCredentials = false
	router.Use(cors.New(config))

	// Initialize handlers
	ingestHandler := handlers.NewIngestHandler(ctx, worker)
	priceHandler := handlers.NewPriceHandler(stores.Prices, profit)
	blacklistHandler := handlers.NewBlacklistHandler(stores.Blacklist)

	api := router.Group("/api")
	{
		// Ingestion routes
		ingest := api.Group("/ingest")
		{
			ingest.POST("/run", ingestHandler.TriggerRun)
			ingest.GET("/status", ingestHandler.GetStatus)
			ingest.POST("/reset", ingestHandler.ResetCursor)
		}

		api.GET("/profit", priceHandler.GetProfit)
		api.GET("/prices/:item", priceHandler.GetItemPrices)
		api.GET("/blacklist", blacklistHandler.GetBlacklist)
	}

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})

	return router
}
