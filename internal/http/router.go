package http

import (
	"github.com/gin-gonic/gin"

	httpH "github.com/conceptmesh/backend/internal/http/handlers"
	httpMW "github.com/conceptmesh/backend/internal/http/middleware"
)

type RouterConfig struct {
	HealthHandler *httpH.HealthHandler
	GraphHandler  *httpH.GraphHandler
	JobHandler    *httpH.JobHandler
	AIHandler     *httpH.AIHandler
	UsageHandler  *httpH.UsageHandler
	PromptHandler *httpH.PromptHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.Default()
	r.Use(httpMW.CORS())

	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
	}

	api := r.Group("/api")
	{
		if cfg.GraphHandler != nil {
			api.POST("/graphs", cfg.GraphHandler.SubmitGeneration)
			api.GET("/graphs/:id", cfg.GraphHandler.GetGraph)
		}

		if cfg.JobHandler != nil {
			api.GET("/jobs/:id", cfg.JobHandler.GetJob)
			api.POST("/jobs/:id/cancel", cfg.JobHandler.CancelJob)
			api.POST("/jobs/:id/retry", cfg.JobHandler.RetryJob)
		}

		if cfg.AIHandler != nil {
			api.POST("/connections/explain", cfg.AIHandler.ExplainConnection)
			api.POST("/quizzes", cfg.AIHandler.GenerateQuiz)
		}

		if cfg.UsageHandler != nil {
			api.GET("/usage/:userId/summary", cfg.UsageHandler.GetSummary)
			api.GET("/usage/:userId/breakdown", cfg.UsageHandler.GetBreakdown)
			api.GET("/usage/:userId/budget", cfg.UsageHandler.CheckBudget)
		}

		if cfg.PromptHandler != nil {
			api.GET("/prompts/:type/stats", cfg.PromptHandler.GetStats)
			api.GET("/prompts/:type/compare", cfg.PromptHandler.CompareVersions)
		}
	}

	return r
}
