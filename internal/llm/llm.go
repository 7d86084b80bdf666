package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/conceptmesh/backend/internal/platform/logger"
)

// Model identifiers accepted across the orchestration core. The short names
// are stable API-surface values; each provider client maps them to the
// concrete model id it sends over the wire.
const (
	ModelClaudeHaiku   = "claude-haiku"
	ModelClaudeSonnet4 = "claude-sonnet-4"
	ModelGPT4Turbo     = "gpt-4-turbo"
	ModelGPT4Vision    = "gpt-4-vision"
)

type Request struct {
	Model       string
	System      string
	User        string
	Temperature float64
	MaxTokens   int
}

type Response struct {
	Content      string
	Model        string
	InputTokens  int
	OutputTokens int
	StopReason   string
}

// Client is the single-call surface a provider exposes. Implementations make
// exactly one HTTP attempt; retries, fallbacks and backoff belong to the
// orchestrator.
type Client interface {
	Call(ctx context.Context, req Request) (*Response, error)
}

// Router dispatches by model to the owning provider client.
type Router struct {
	log       *logger.Logger
	providers map[string]Client
}

func NewRouter(log *logger.Logger) *Router {
	return &Router{
		log:       log.With("service", "LLMRouter"),
		providers: map[string]Client{},
	}
}

// RegisterModel binds a model name to a provider client.
func (r *Router) RegisterModel(model string, c Client) {
	r.providers[normalizeModel(model)] = c
}

func (r *Router) Call(ctx context.Context, req Request) (*Response, error) {
	c, ok := r.providers[normalizeModel(req.Model)]
	if !ok {
		return nil, &ProviderError{
			Provider:  "router",
			Model:     req.Model,
			Kind:      KindUnavailable,
			Retryable: false,
			Message:   fmt.Sprintf("no provider registered for model %q", req.Model),
		}
	}
	return c.Call(ctx, req)
}

func normalizeModel(m string) string {
	return strings.ToLower(strings.TrimSpace(m))
}
