package app

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/conceptmesh/backend/internal/costtracking"
	"github.com/conceptmesh/backend/internal/platform/envutil"
	"github.com/conceptmesh/backend/internal/platform/logger"
)

// Config is the process configuration. Environment variables are the
// primary source; CONFIG_FILE points at an optional YAML override applied on
// top of them.
type Config struct {
	HTTPAddr string `yaml:"http_addr"`

	Budget struct {
		PerDocumentUSD     float64 `yaml:"per_document_usd"`
		PerUserPerDayUSD   float64 `yaml:"per_user_per_day_usd"`
		PerUserPerMonthUSD float64 `yaml:"per_user_per_month_usd"`
	} `yaml:"budget"`

	Jobs struct {
		Workers       int `yaml:"workers"`
		QueueCapacity int `yaml:"queue_capacity"`
	} `yaml:"jobs"`

	Graph struct {
		MinNodes    int `yaml:"min_nodes"`
		MaxNodes    int `yaml:"max_nodes"`
		ChunkSize   int `yaml:"chunk_size"`
		MaxParallel int `yaml:"max_parallel_chunks"`
	} `yaml:"graph"`

	UseEmbeddingDedup bool `yaml:"use_embedding_dedup"`
}

func LoadConfig(log *logger.Logger) (Config, error) {
	var cfg Config
	cfg.HTTPAddr = envutil.GetEnv("HTTP_ADDR", ":8080", log)

	limits := costtracking.LimitsFromEnv(log)
	cfg.Budget.PerDocumentUSD = limits.PerDocument
	cfg.Budget.PerUserPerDayUSD = limits.PerUserPerDay
	cfg.Budget.PerUserPerMonthUSD = limits.PerUserPerMonth

	cfg.Jobs.Workers = envutil.GetEnvAsInt("JOBS_WORKERS", 4, log)
	cfg.Jobs.QueueCapacity = envutil.GetEnvAsInt("JOBS_QUEUE_CAPACITY", 16, log)

	cfg.Graph.MinNodes = envutil.GetEnvAsInt("GRAPH_MIN_NODES", 7, log)
	cfg.Graph.MaxNodes = envutil.GetEnvAsInt("GRAPH_MAX_NODES", 15, log)
	cfg.Graph.ChunkSize = envutil.GetEnvAsInt("GRAPH_CHUNK_SIZE", 12000, log)
	cfg.Graph.MaxParallel = envutil.GetEnvAsInt("GRAPH_MAX_PARALLEL_CHUNKS", 4, log)

	cfg.UseEmbeddingDedup = envutil.GetEnvAsBool("USE_EMBEDDING_DEDUP", false, log)

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file: %w", err)
		}
		log.Info("Applied config file overrides", "path", path)
	}
	return cfg, nil
}

func (c Config) BudgetLimits() costtracking.Limits {
	return costtracking.Limits{
		PerDocument:     c.Budget.PerDocumentUSD,
		PerUserPerDay:   c.Budget.PerUserPerDayUSD,
		PerUserPerMonth: c.Budget.PerUserPerMonthUSD,
	}
}
