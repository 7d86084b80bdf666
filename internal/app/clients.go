package app

import (
	"github.com/conceptmesh/backend/internal/clients/anthropic"
	"github.com/conceptmesh/backend/internal/clients/openai"
	"github.com/conceptmesh/backend/internal/clients/redis"
	"github.com/conceptmesh/backend/internal/llm"
	"github.com/conceptmesh/backend/internal/observability"
	"github.com/conceptmesh/backend/internal/platform/logger"
	"github.com/conceptmesh/backend/internal/platform/neo4jdb"
)

type Clients struct {
	Cache  redis.Cache
	Router *llm.Router
	OpenAI openai.Client
	Neo4j  *neo4jdb.Client
}

// wireClients builds the outbound dependencies. Redis falls back to the
// in-memory cache when REDIS_ADDR is unset so local runs need no
// infrastructure; provider clients are registered only when their API key is
// configured.
func wireClients(log *logger.Logger, metrics *observability.Metrics) (Clients, error) {
	var c Clients

	cache, err := redis.NewCache(log)
	if err != nil {
		log.Warn("Redis unavailable, using in-memory cache", "error", err)
		cache = redis.NewMemoryCache()
	}
	c.Cache = cache

	c.Router = llm.NewRouter(log)
	if anthropicClient, err := anthropic.NewClient(log); err != nil {
		log.Warn("Anthropic client disabled", "error", err)
	} else {
		instrumented := observability.InstrumentClient(anthropicClient, metrics)
		c.Router.RegisterModel(llm.ModelClaudeHaiku, instrumented)
		c.Router.RegisterModel(llm.ModelClaudeSonnet4, instrumented)
	}
	if openaiClient, err := openai.NewClient(log); err != nil {
		log.Warn("OpenAI client disabled", "error", err)
	} else {
		c.OpenAI = openaiClient
		instrumented := observability.InstrumentClient(openaiClient, metrics)
		c.Router.RegisterModel(llm.ModelGPT4Turbo, instrumented)
		c.Router.RegisterModel(llm.ModelGPT4Vision, instrumented)
	}

	neo, err := neo4jdb.NewFromEnv(log)
	if err != nil {
		log.Warn("Neo4j mirror disabled", "error", err)
	} else {
		c.Neo4j = neo
	}
	return c, nil
}
