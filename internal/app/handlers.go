package app

import (
	"github.com/gin-gonic/gin"

	"github.com/conceptmesh/backend/internal/http"
	httpH "github.com/conceptmesh/backend/internal/http/handlers"
	"github.com/conceptmesh/backend/internal/platform/logger"
)

type Handlers struct {
	Health *httpH.HealthHandler
	Graph  *httpH.GraphHandler
	Job    *httpH.JobHandler
	AI     *httpH.AIHandler
	Usage  *httpH.UsageHandler
	Prompt *httpH.PromptHandler
}

func wireHandlers(log *logger.Logger, services Services, reposet Repos) Handlers {
	log.Info("Wiring handlers...")
	return Handlers{
		Health: httpH.NewHealthHandler(),
		Graph:  httpH.NewGraphHandler(log, services.Jobs, reposet.Graphs),
		Job:    httpH.NewJobHandler(services.Jobs),
		AI:     httpH.NewAIHandler(log, services.Orch),
		Usage:  httpH.NewUsageHandler(services.Tracker),
		Prompt: httpH.NewPromptHandler(services.Prompts),
	}
}

func wireRouter(handlers Handlers) *gin.Engine {
	return http.NewRouter(http.RouterConfig{
		HealthHandler: handlers.Health,
		GraphHandler:  handlers.Graph,
		JobHandler:    handlers.Job,
		AIHandler:     handlers.AI,
		UsageHandler:  handlers.Usage,
		PromptHandler: handlers.Prompt,
	})
}
