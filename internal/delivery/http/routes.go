package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/sheetlens/backend/config"
	"github.com/sheetlens/backend/web"
)

// SetupRouter creates and configures the Gin router for the full pipeline server
func SetupRouter(cfg *config.Config, handler *Handler, logger zerolog.Logger) *gin.Engine {
	router := newEngine(cfg, logger)

	// Upload page
	router.GET("/", handler.Index)
	router.StaticFS("/static", http.FS(web.Static()))

	// Images stored on local disk are served by this process
	if cfg.Storage.Type == "local" && cfg.Storage.PublicBaseURL == "" {
		router.Static("/images", cfg.Storage.LocalDir)
	}

	router.GET("/health", handler.HealthCheck)

	uploads := RateLimitMiddleware(cfg.RateLimit.PerIP)
	router.POST("/process-pdf", uploads, handler.ProcessPDF)
	router.POST("/find-ean", handler.FindEAN)

	// API v1 routes
	v1 := router.Group("/api/v1")
	{
		products := v1.Group("/products")
		products.Use(uploads)
		{
			products.POST("", handler.ProcessPDF)
			products.POST("/:id/reprocess", handler.Reprocess)
		}
	}

	return router
}

// SetupLookupRouter creates the router for the standalone EAN lookup server.
// The remote function protocol posts to the root path.
func SetupLookupRouter(cfg *config.Config, handler *Handler, logger zerolog.Logger) *gin.Engine {
	router := newEngine(cfg, logger)

	router.GET("/health", handler.HealthCheck)
	router.POST("/", handler.FindEAN)
	router.POST("/find-ean", handler.FindEAN)

	return router
}

func newEngine(cfg *config.Config, logger zerolog.Logger) *gin.Engine {
	// Set Gin mode based on environment
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Global middleware
	router.Use(RecoveryMiddleware(logger))
	router.Use(LoggerMiddleware(logger))
	router.Use(CORSMiddleware(cfg.Server.AllowedOrigins))

	return router
}
