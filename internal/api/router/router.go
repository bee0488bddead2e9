package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/contentpilot/jobs-be/internal/api/handler"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "job-orchestration-api",
		})
	})

	jobHandler := handler.NewJobHandler(deps)
	webhookHandler := handler.NewWebhookHandler(deps)
	adminHandler := handler.NewAdminHandler(deps)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		jobs := v1.Group("/jobs")
		{
			// POST /api/v1/jobs - Create a new job (plus avatar children)
			jobs.POST("", jobHandler.CreateJob)

			// GET /api/v1/jobs - List jobs with filtering and pagination
			jobs.GET("", jobHandler.ListJobs)

			// GET /api/v1/jobs/:job_id - Get job details
			jobs.GET("/:job_id", jobHandler.GetJob)

			// GET /api/v1/jobs/:job_id/result - Get materialized result
			jobs.GET("/:job_id/result", jobHandler.GetJobResult)
		}
	}

	// Upstream push channel, signature-verified
	r.POST("/webhooks/job-status", webhookHandler.HandleJobStatus)

	// Operational triggers
	internal := r.Group("/internal")
	{
		internal.POST("/poll", adminHandler.TriggerPoll)
		internal.POST("/recover", adminHandler.TriggerRecover)
	}

	return r
}
