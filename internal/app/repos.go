package app

import (
	"gorm.io/gorm"

	"github.com/conceptmesh/backend/internal/platform/logger"
	"github.com/conceptmesh/backend/internal/repos"
)

type Repos struct {
	AIUsage repos.AIUsageRepo
	JobRuns repos.JobRunRepo
	Graphs  repos.GraphRepo
}

func wireRepos(db *gorm.DB, log *logger.Logger) Repos {
	log.Info("Wiring repos...")
	return Repos{
		AIUsage: repos.NewAIUsageRepo(db, log),
		JobRuns: repos.NewJobRunRepo(db, log),
		Graphs:  repos.NewGraphRepo(db, log),
	}
}
