package prompts

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/conceptmesh/backend/internal/clients/redis"
	"github.com/conceptmesh/backend/internal/costtracking"
	"github.com/conceptmesh/backend/internal/llm"
	"github.com/conceptmesh/backend/internal/platform/logger"
)

const (
	statsTTL = 30 * 24 * time.Hour

	longDocumentChars = 40_000
)

// Manager resolves templates, injects context, recommends models and keeps
// per-version outcome stats. Stats writes are last-writer-wins; loss under
// concurrency is tolerable for statistics.
type Manager interface {
	Build(pt PromptType, ctx Context, version PromptVersion) (*BuiltPrompt, error)
	GetRecommendedModel(pt PromptType, ctx Context) *ModelRecommendation
	RecordOutcome(ctx context.Context, pt PromptType, version PromptVersion, outcome Outcome)
	GetStats(ctx context.Context, pt PromptType, version PromptVersion) Stats
	CompareVersions(ctx context.Context, pt PromptType) (*ComparisonResult, error)
	Template(pt PromptType, version PromptVersion) (Template, bool)
}

type manager struct {
	log      *logger.Logger
	cache    redis.Cache
	registry *registry
	now      func() time.Time
}

func NewManager(baseLog *logger.Logger, cache redis.Cache) Manager {
	return &manager{
		log:      baseLog.With("service", "PromptManager"),
		cache:    cache,
		registry: newRegistry(),
		now:      time.Now,
	}
}

func (m *manager) Template(pt PromptType, version PromptVersion) (Template, bool) {
	return m.registry.Get(pt, version)
}

func (m *manager) Build(pt PromptType, ctx Context, version PromptVersion) (*BuiltPrompt, error) {
	if version == "" {
		version = VersionProduction
	}
	tpl, ok := m.registry.Get(pt, version)
	if !ok {
		return nil, &TemplateError{Type: pt, Version: version, Reason: "no template registered"}
	}
	for _, key := range tpl.RequiredContext {
		if _, found := lookupPath(ctx, key); !found {
			return nil, &TemplateError{Type: pt, Version: version, Reason: fmt.Sprintf("missing required context key %q", key)}
		}
	}

	userPrompt := render(tpl.BodyTemplate, ctx)

	keys := make([]string, 0, len(ctx))
	for k := range ctx {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	return &BuiltPrompt{
		SystemPrompt: tpl.SystemPrompt,
		UserPrompt:   userPrompt,
		Metadata: BuiltMetadata{
			TemplateID:      tpl.ID(),
			Version:         version,
			ContextKeys:     keys,
			EstimatedTokens: estimateTokens(tpl.SystemPrompt, userPrompt),
			Timestamp:       m.now().UTC(),
		},
	}, nil
}

// estimateTokens uses the usual 4-chars-per-token heuristic, rounded up.
func estimateTokens(system, user string) int {
	return (len(system) + len(user) + 3) / 4
}

func (m *manager) GetRecommendedModel(pt PromptType, ctx Context) *ModelRecommendation {
	var rec *ModelRecommendation
	switch pt {
	case TypeGraphGeneration:
		if docTextLen(ctx) > longDocumentChars {
			rec = &ModelRecommendation{
				Model:     llm.ModelClaudeSonnet4,
				Reason:    "long document needs the larger-context model",
				Fallbacks: []string{llm.ModelClaudeHaiku, llm.ModelGPT4Turbo},
			}
		} else {
			rec = &ModelRecommendation{
				Model:     llm.ModelClaudeHaiku,
				Reason:    "short document, cheapest capable model",
				Fallbacks: []string{llm.ModelClaudeSonnet4, llm.ModelGPT4Turbo},
			}
		}
	case TypeImageDescription:
		rec = &ModelRecommendation{
			Model:     llm.ModelClaudeSonnet4,
			Reason:    "image input requires a vision-capable model",
			Fallbacks: []string{llm.ModelGPT4Turbo},
		}
	default:
		rec = &ModelRecommendation{
			Model:     llm.ModelClaudeHaiku,
			Reason:    "default to cheapest capable model",
			Fallbacks: []string{llm.ModelClaudeSonnet4, llm.ModelGPT4Turbo},
		}
	}

	tokens := 0
	if built, err := m.Build(pt, ctx, VersionProduction); err == nil {
		tokens = built.Metadata.EstimatedTokens
	}
	if cost, err := costtracking.EstimateCost(tokens, rec.Model); err == nil {
		rec.EstimatedCost = cost
	} else {
		m.log.Warn("no pricing for recommended model", "model", rec.Model, "error", err)
	}
	return rec
}

func docTextLen(ctx Context) int {
	v, ok := lookupPath(ctx, "documentText")
	if !ok {
		return 0
	}
	s, ok := v.(string)
	if !ok {
		return 0
	}
	return len(s)
}

func statsKey(pt PromptType, version PromptVersion) string {
	return "prompt:stats:" + string(pt) + ":" + string(version)
}

// RecordOutcome folds one outcome into the running averages. Never fails the
// caller: stats are advisory.
func (m *manager) RecordOutcome(ctx context.Context, pt PromptType, version PromptVersion, outcome Outcome) {
	stats := m.GetStats(ctx, pt, version)

	n := float64(stats.TotalUses)
	next := n + 1
	success := 0.0
	if outcome.Success {
		success = 100
	}
	stats.SuccessRate = (stats.SuccessRate*n + success) / next
	stats.AvgQualityScore = (stats.AvgQualityScore*n + outcome.QualityScore) / next
	stats.AvgCost = (stats.AvgCost*n + outcome.Cost) / next
	stats.AvgRetries = (stats.AvgRetries*n + float64(outcome.Retries)) / next
	stats.TotalUses++
	stats.LastUpdated = m.now().UTC()

	payload, err := json.Marshal(stats)
	if err != nil {
		m.log.Warn("failed to encode prompt stats", "type", pt, "version", version, "error", err)
		return
	}
	if err := m.cache.Set(ctx, statsKey(pt, version), string(payload), statsTTL); err != nil {
		m.log.Warn("failed to store prompt stats", "type", pt, "version", version, "error", err)
	}
}

func (m *manager) GetStats(ctx context.Context, pt PromptType, version PromptVersion) Stats {
	var stats Stats
	raw, err := m.cache.Get(ctx, statsKey(pt, version))
	if err != nil {
		return stats
	}
	if err := json.Unmarshal([]byte(raw), &stats); err != nil {
		m.log.Warn("corrupt prompt stats entry", "type", pt, "version", version, "error", err)
		return Stats{}
	}
	return stats
}

func (m *manager) CompareVersions(ctx context.Context, pt PromptType) (*ComparisonResult, error) {
	versions := m.registry.VersionsOf(pt)
	if len(versions) == 0 {
		return nil, &TemplateError{Type: pt, Version: "", Reason: "no versions registered"}
	}

	result := &ComparisonResult{}
	best := -1.0
	for _, v := range versions {
		stats := m.GetStats(ctx, pt, v)
		vc := VersionComparison{
			Version:        v,
			Stats:          stats,
			CompositeScore: compositeScore(stats),
			Recommendation: recommend(stats),
		}
		result.Versions = append(result.Versions, vc)
		if vc.CompositeScore > best {
			best = vc.CompositeScore
			result.BestVersion = v
		}
	}
	return result, nil
}

func compositeScore(s Stats) float64 {
	costEfficiency := (1 - s.AvgCost/0.10) * 100
	if costEfficiency < 0 {
		costEfficiency = 0
	}
	reliability := (2 - s.AvgRetries) * 100
	if reliability < 0 {
		reliability = 0
	}
	return 0.4*s.SuccessRate + 0.3*s.AvgQualityScore + 0.2*costEfficiency + 0.1*reliability
}

func recommend(s Stats) string {
	switch {
	case s.TotalUses < 10:
		return "test"
	case s.SuccessRate < 70 || s.AvgQualityScore < 60:
		return "retire"
	case s.SuccessRate >= 85 && s.AvgQualityScore >= 75:
		return "use"
	default:
		return "test"
	}
}
