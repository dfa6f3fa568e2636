package router

import (
	"github.com/ReceiptRadar/receipt-radar-backend/config"
	"github.com/ReceiptRadar/receipt-radar-backend/handlers"
	"github.com/ReceiptRadar/receipt-radar-backend/middleware"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Dependencies holds everything required to wire up the HTTP routes.
type Dependencies struct {
	Config                *config.Config
	RedisClient           *redis.Client
	DocumentHandler       *handlers.DocumentHandler
	ReconciliationHandler *handlers.ReconciliationHandler
	HealthHandler         *handlers.HealthHandler
	Logger                *zap.SugaredLogger
}

// SetupRouter configures and returns the main Gin engine with all routes defined.
func SetupRouter(deps Dependencies) *gin.Engine {
	if deps.Config.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())

	// Global middleware
	r.Use(middleware.RequestIDMiddleware())
	r.Use(middleware.ErrorHandler())
	r.Use(middleware.CORSMiddleware(&deps.Config.Server))
	r.Use(middleware.SecurityHeadersMiddleware(deps.Config))

	// Health and metrics routes do not require auth
	r.GET("/health", deps.HealthHandler.DetailedHealth)
	r.GET("/health/liveness", deps.HealthHandler.LivenessCheck)
	r.GET("/health/readiness", deps.HealthHandler.ReadinessCheck)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/v1")
	{
		// Signed download links carry their own auth in the token
		v1.GET("/files/:token", deps.DocumentHandler.ServeFileHandler)

		authRoutes := v1.Group("")
		authRoutes.Use(middleware.AuthMiddleware(deps.Config.Server.JwtSecretKey))
		{
			documentRoutes := authRoutes.Group("/documents")
			{
				documentRoutes.POST("/upload", deps.DocumentHandler.UploadDocumentHandler)
				documentRoutes.GET("", deps.DocumentHandler.ListDocumentsHandler)
				documentRoutes.GET("/:id", deps.DocumentHandler.GetDocumentHandler)
				documentRoutes.DELETE("/:id", deps.DocumentHandler.DeleteDocumentHandler)

				// Pipeline re-drive endpoints. Field extraction is rate limited
				// because every call hits the paid model API.
				documentRoutes.POST("/:id/process-ocr", deps.DocumentHandler.ProcessOCRHandler)
				documentRoutes.POST("/:id/extract-data",
					middleware.ExtractionRateLimiter(deps.RedisClient, deps.Config.AI.ExtractionsPerHour),
					deps.DocumentHandler.ExtractDataHandler)
				documentRoutes.POST("/:id/match-transactions", deps.DocumentHandler.MatchTransactionsHandler)
			}

			reconciliationRoutes := authRoutes.Group("/reconciliation")
			{
				reconciliationRoutes.GET("/queue", deps.ReconciliationHandler.ListQueueHandler)
				reconciliationRoutes.GET("/queue/:id", deps.ReconciliationHandler.GetQueueItemHandler)
				reconciliationRoutes.PATCH("/queue/:id", deps.ReconciliationHandler.UpdateQueueItemHandler)
			}
		}
	}

	return r
}
