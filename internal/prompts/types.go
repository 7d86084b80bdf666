package prompts

import "time"

type PromptType string

const (
	TypeGraphGeneration       PromptType = "graph-generation"
	TypeConnectionExplanation PromptType = "connection-explanation"
	TypeQuizGeneration        PromptType = "quiz-generation"
	TypeImageDescription      PromptType = "image-description"
	TypeNodeDeduplication     PromptType = "node-deduplication"
)

type PromptVersion string

const (
	VersionProduction   PromptVersion = "production"
	VersionStaging      PromptVersion = "staging"
	VersionExperimental PromptVersion = "experimental"
)

// Context carries the values substituted into a template. Dot-notation keys
// (`nodeA.title`) dereference nested maps.
type Context map[string]any

// Constraints are template-declared output bounds, echoed into validation.
type Constraints struct {
	MinNodes int
	MaxNodes int
}

// Template is an immutable prompt record keyed by (type, version). Templates
// are created at build time and never mutated.
type Template struct {
	Type            PromptType
	Version         PromptVersion
	SystemPrompt    string
	BodyTemplate    string
	RequiredContext []string
	OptionalContext []string
	Constraints     Constraints
}

func (t Template) ID() string {
	return string(t.Type) + ":" + string(t.Version)
}

type BuiltMetadata struct {
	TemplateID      string        `json:"template_id"`
	Version         PromptVersion `json:"version"`
	ContextKeys     []string      `json:"context_keys"`
	EstimatedTokens int           `json:"estimated_tokens"`
	Timestamp       time.Time     `json:"timestamp"`
}

type BuiltPrompt struct {
	SystemPrompt string
	UserPrompt   string
	Metadata     BuiltMetadata
}

// Stats are running aggregates per (type, version), held in the counter
// cache with a 30-day TTL. TotalUses only increases; averages are
// incremental.
type Stats struct {
	TotalUses       int       `json:"total_uses"`
	SuccessRate     float64   `json:"success_rate"`
	AvgQualityScore float64   `json:"avg_quality_score"`
	AvgCost         float64   `json:"avg_cost"`
	AvgRetries      float64   `json:"avg_retries"`
	LastUpdated     time.Time `json:"last_updated"`
}

// Outcome is what the orchestrator reports back after a call completes.
type Outcome struct {
	Success      bool
	QualityScore float64
	Cost         float64
	Retries      int
}

type ModelRecommendation struct {
	Model         string   `json:"model"`
	Reason        string   `json:"reason"`
	EstimatedCost float64  `json:"estimated_cost"`
	Fallbacks     []string `json:"fallbacks"`
}

type VersionComparison struct {
	Version        PromptVersion `json:"version"`
	Stats          Stats         `json:"stats"`
	CompositeScore float64       `json:"composite_score"`
	Recommendation string        `json:"recommendation"` // use | test | retire
}

type ComparisonResult struct {
	Versions    []VersionComparison `json:"versions"`
	BestVersion PromptVersion       `json:"best_version"`
}
