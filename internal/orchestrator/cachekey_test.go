package orchestrator

import (
	"strings"
	"testing"

	"github.com/conceptmesh/backend/internal/prompts"
)

func TestCacheKeyStable(t *testing.T) {
	ctx := prompts.Context{
		"documentText":  "Neural networks are trained with backpropagation.",
		"documentTitle": "ML Basics",
		"minNodes":      7,
	}
	a := CacheKey(prompts.TypeGraphGeneration, ctx, "claude-haiku", prompts.VersionProduction)
	b := CacheKey(prompts.TypeGraphGeneration, ctx, "claude-haiku", prompts.VersionProduction)
	if a != b {
		t.Fatalf("same input produced different keys: %s vs %s", a, b)
	}
	if !strings.HasPrefix(a, "airesult:") || len(a) != len("airesult:")+64 {
		t.Fatalf("key shape = %q", a)
	}
}

func TestCacheKeyTitleCaseInsensitive(t *testing.T) {
	lower := prompts.Context{"documentText": "same body", "documentTitle": "ml basics"}
	upper := prompts.Context{"documentText": "same body", "documentTitle": "ML BASICS"}
	a := CacheKey(prompts.TypeGraphGeneration, lower, "claude-haiku", prompts.VersionProduction)
	b := CacheKey(prompts.TypeGraphGeneration, upper, "claude-haiku", prompts.VersionProduction)
	if a != b {
		t.Fatal("title casing must not split the cache")
	}
}

func TestCacheKeyBodyCaseSensitive(t *testing.T) {
	a := CacheKey(prompts.TypeGraphGeneration, prompts.Context{"documentText": "The Cat"}, "claude-haiku", prompts.VersionProduction)
	b := CacheKey(prompts.TypeGraphGeneration, prompts.Context{"documentText": "the cat"}, "claude-haiku", prompts.VersionProduction)
	if a == b {
		t.Fatal("document body casing is semantic and must produce distinct keys")
	}
}

func TestCacheKeyVariesByInputs(t *testing.T) {
	base := prompts.Context{"documentText": "body", "documentTitle": "t"}
	ref := CacheKey(prompts.TypeGraphGeneration, base, "claude-haiku", prompts.VersionProduction)

	variants := []string{
		CacheKey(prompts.TypeQuizGeneration, base, "claude-haiku", prompts.VersionProduction),
		CacheKey(prompts.TypeGraphGeneration, base, "claude-sonnet-4", prompts.VersionProduction),
		CacheKey(prompts.TypeGraphGeneration, base, "claude-haiku", prompts.VersionStaging),
		CacheKey(prompts.TypeGraphGeneration, prompts.Context{"documentText": "other", "documentTitle": "t"}, "claude-haiku", prompts.VersionProduction),
	}
	for i, v := range variants {
		if v == ref {
			t.Fatalf("variant %d collided with the reference key", i)
		}
	}
}

func TestCacheKeyNestedContext(t *testing.T) {
	a := CacheKey(prompts.TypeConnectionExplanation, prompts.Context{
		"nodeA": map[string]any{"title": "Neural Networks", "description": "x"},
		"nodeB": map[string]any{"title": "Backprop"},
	}, "claude-haiku", prompts.VersionProduction)
	b := CacheKey(prompts.TypeConnectionExplanation, prompts.Context{
		"nodeB": map[string]any{"title": "backprop"},
		"nodeA": map[string]any{"description": "x", "title": "neural networks"},
	}, "claude-haiku", prompts.VersionProduction)
	if a != b {
		t.Fatal("nested titles normalize and map order is canonical, keys must match")
	}
}
