package app

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/conceptmesh/backend/internal/costtracking"
	"github.com/conceptmesh/backend/internal/graphgen"
	httpH "github.com/conceptmesh/backend/internal/http/handlers"
	"github.com/conceptmesh/backend/internal/jobs"
	"github.com/conceptmesh/backend/internal/orchestrator"
	"github.com/conceptmesh/backend/internal/platform/logger"
	"github.com/conceptmesh/backend/internal/prompts"
	"github.com/conceptmesh/backend/internal/validation"
)

type Services struct {
	Prompts   prompts.Manager
	Tracker   costtracking.Tracker
	Validator validation.Validator
	Orch      orchestrator.Orchestrator
	Generator graphgen.Generator
	Jobs      jobs.Manager
}

func wireServices(log *logger.Logger, cfg Config, clients Clients, reposet Repos) Services {
	log.Info("Wiring services...")

	pm := prompts.NewManager(log, clients.Cache)
	tracker := costtracking.NewTracker(log, clients.Cache, reposet.AIUsage, cfg.BudgetLimits())
	validator := validation.NewValidator(log)
	orch := orchestrator.New(log, pm, validator, tracker, clients.Cache, clients.Router)
	generator := graphgen.NewGenerator(log, orch, reposet.Graphs, clients.Neo4j)
	jm := jobs.NewManager(log, reposet.JobRuns, cfg.Jobs.Workers, cfg.Jobs.QueueCapacity)

	registerJobHandlers(jm, generator, cfg, clients)

	return Services{
		Prompts:   pm,
		Tracker:   tracker,
		Validator: validator,
		Orch:      orch,
		Generator: generator,
		Jobs:      jm,
	}
}

// registerJobHandlers binds the durable job types to their executors.
func registerJobHandlers(jm jobs.Manager, generator graphgen.Generator, cfg Config, clients Clients) {
	jm.Register(httpH.GraphJobType, func(ctx context.Context, payload json.RawMessage, report jobs.ProgressFunc) (any, error) {
		var p httpH.GraphJobPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, fmt.Errorf("decode graph job payload: %w", err)
		}

		dedup := graphgen.DedupConfig{}
		if cfg.UseEmbeddingDedup && clients.OpenAI != nil {
			dedup.UseEmbeddings = true
			dedup.Embedder = clients.OpenAI
		}

		result, err := generator.GenerateGraph(ctx, graphgen.GenerateRequest{
			DocumentText:  p.DocumentText,
			DocumentTitle: p.DocumentTitle,
			UserID:        p.UserID,
			DocumentID:    p.DocumentID,
			Config: graphgen.GenerateConfig{
				ChunkSize:      cfg.Graph.ChunkSize,
				MaxParallel:    cfg.Graph.MaxParallel,
				MinNodes:       pickInt(p.MinNodes, cfg.Graph.MinNodes),
				MaxNodes:       pickInt(p.MaxNodes, cfg.Graph.MaxNodes),
				PromptVersion:  prompts.PromptVersion(p.PromptVersion),
				PreferredModel: p.PreferredModel,
				Dedup:          dedup,
				Persist:        true,
			},
			OnProgress: func(gp graphgen.Progress) {
				report(jobs.Progress{
					Stage:           gp.Stage,
					Percentage:      gp.Percentage,
					Message:         gp.Message,
					ChunksProcessed: gp.ChunksProcessed,
					TotalChunks:     gp.TotalChunks,
				})
			},
		})
		if err != nil {
			return nil, err
		}
		return result, nil
	})
}

func pickInt(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}
