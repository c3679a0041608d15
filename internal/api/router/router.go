package router

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cuongbtq/media-pipeline/internal/api/handler"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(MetricsMiddleware())
	r.Use(CORSMiddleware())

	r.GET("/health", handler.Health(deps))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	jobHandler := handler.NewJobHandler(deps)
	txHandler := handler.NewTransactionHandler(deps)
	adminHandler := handler.NewAdminHandler(deps)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		jobs := v1.Group("/jobs")
		{
			// POST /api/v1/jobs/image - Enqueue an image for analysis
			jobs.POST("/image", jobHandler.CreateImageJob)

			// POST /api/v1/jobs/video - Enqueue a video for analysis
			jobs.POST("/video", jobHandler.CreateVideoJob)
		}

		transactions := v1.Group("/transactions")
		{
			// GET /api/v1/transactions - List ledger records with filtering and pagination
			transactions.GET("", txHandler.ListTransactions)

			// GET /api/v1/transactions/:id - Get one ledger record with its history
			transactions.GET("/:id", txHandler.GetTransaction)
		}

		queues := v1.Group("/queues")
		{
			queues.GET("/stats", adminHandler.QueueStats)
			queues.POST("/purge", adminHandler.PurgeQueues)
		}

		v1.GET("/dead-letters", adminHandler.ListDeadLetters)
		v1.GET("/pending", adminHandler.ListPending)
	}

	return r
}

// SetupOpsRouter serves only health and metrics, for the worker process
func SetupOpsRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", handler.Health(deps))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return r
}
