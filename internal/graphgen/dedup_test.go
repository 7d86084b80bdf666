package graphgen

import (
	"context"
	"errors"
	"testing"

	"github.com/conceptmesh/backend/internal/types"
)

func node(id, title string) types.GraphNode {
	return types.GraphNode{ID: id, Title: title}
}

func TestDeduplicateMergesVariants(t *testing.T) {
	nodes := []types.GraphNode{
		node("n1", "ML"),
		{ID: "n2", Title: "Machine Learning", Description: "Learning from data without explicit programming."},
		node("n3", "machine learning"),
		node("n4", "Machine  Learning"),
		node("n5", "Deep Learning"),
	}

	res, err := DeduplicateNodes(context.Background(), nodes, DedupConfig{})
	if err != nil {
		t.Fatalf("DeduplicateNodes: %v", err)
	}
	if len(res.DeduplicatedNodes) != 2 {
		t.Fatalf("final nodes = %d, want 2: %+v", len(res.DeduplicatedNodes), res.DeduplicatedNodes)
	}

	stats := res.Statistics
	if stats.OriginalCount != 5 || stats.FinalCount != 2 || stats.MergedCount != 3 {
		t.Fatalf("stats = %+v", stats)
	}
	if stats.MergesByPhase["exact"] < 1 {
		t.Fatalf("exact merges = %d", stats.MergesByPhase["exact"])
	}
	if stats.MergesByPhase["acronym"] < 1 {
		t.Fatalf("acronym merges = %d", stats.MergesByPhase["acronym"])
	}

	// Every input id must resolve through the mapping.
	for _, n := range nodes {
		if _, ok := res.Mapping[n.ID]; !ok {
			t.Fatalf("id %s missing from mapping", n.ID)
		}
	}
	// The four machine-learning variants share a class; deep learning stays
	// separate.
	mlRoot := res.Mapping["n1"]
	for _, id := range []string{"n2", "n3", "n4"} {
		if res.Mapping[id] != mlRoot {
			t.Fatalf("%s mapped to %s, want %s", id, res.Mapping[id], mlRoot)
		}
	}
	if res.Mapping["n5"] == mlRoot {
		t.Fatal("deep learning must not merge with machine learning")
	}

	// The richest record represents the class, even when another member owns
	// the class id.
	for _, n := range res.DeduplicatedNodes {
		if n.ID == mlRoot && n.Description == "" {
			t.Fatalf("representative lost the richest description: %+v", n)
		}
	}
}

func TestDeduplicateTransitive(t *testing.T) {
	nodes := []types.GraphNode{
		node("a", "NLP"),
		node("b", "Natural Language Processing"),
		node("c", "natural  language processing"),
	}
	res, err := DeduplicateNodes(context.Background(), nodes, DedupConfig{})
	if err != nil {
		t.Fatalf("DeduplicateNodes: %v", err)
	}
	if len(res.DeduplicatedNodes) != 1 {
		t.Fatalf("final nodes = %d, want a single transitive class", len(res.DeduplicatedNodes))
	}
	if res.Mapping["a"] != res.Mapping["b"] || res.Mapping["b"] != res.Mapping["c"] {
		t.Fatalf("mapping = %v", res.Mapping)
	}
}

func TestDeduplicateFuzzyWithWordOverlap(t *testing.T) {
	nodes := []types.GraphNode{
		node("a", "Gradient Descent Method"),
		node("b", "Gradient Descent Methods"),
	}
	res, err := DeduplicateNodes(context.Background(), nodes, DedupConfig{})
	if err != nil {
		t.Fatalf("DeduplicateNodes: %v", err)
	}
	if len(res.DeduplicatedNodes) != 1 {
		t.Fatal("near-identical titles sharing most words should merge")
	}
	if res.Statistics.MergesByPhase["fuzzy"] != 1 {
		t.Fatalf("fuzzy merges = %d", res.Statistics.MergesByPhase["fuzzy"])
	}
}

func TestDeduplicateWordOverlapGate(t *testing.T) {
	// One character apart, but the differing word changes the concept.
	nodes := []types.GraphNode{
		node("a", "Neural Nets"),
		node("b", "Neural Jets"),
	}
	res, err := DeduplicateNodes(context.Background(), nodes, DedupConfig{})
	if err != nil {
		t.Fatalf("DeduplicateNodes: %v", err)
	}
	if len(res.DeduplicatedNodes) != 2 {
		t.Fatal("low word overlap must block an edit-distance merge")
	}
}

func TestDeduplicateSingleNode(t *testing.T) {
	res, err := DeduplicateNodes(context.Background(), []types.GraphNode{node("a", "Entropy")}, DedupConfig{})
	if err != nil {
		t.Fatalf("DeduplicateNodes: %v", err)
	}
	if len(res.DeduplicatedNodes) != 1 || res.Statistics.MergedCount != 0 {
		t.Fatalf("result = %+v", res)
	}
}

func TestDeduplicateEmptyInputFails(t *testing.T) {
	_, err := DeduplicateNodes(context.Background(), nil, DedupConfig{})
	var pe *PipelineError
	if !errors.As(err, &pe) || pe.Code != CodeDeduplicationFailed {
		t.Fatalf("err = %v", err)
	}
}

func TestDeduplicateMissingTitleFails(t *testing.T) {
	nodes := []types.GraphNode{node("a", "OK"), node("b", "  ")}
	_, err := DeduplicateNodes(context.Background(), nodes, DedupConfig{})
	var pe *PipelineError
	if !errors.As(err, &pe) || pe.Code != CodeDeduplicationFailed {
		t.Fatalf("err = %v", err)
	}
}

func TestDeduplicateMergesSourceReferences(t *testing.T) {
	nodes := []types.GraphNode{
		{ID: "a", Title: "Overfitting", SourceReferences: []string{"chunk:0"}},
		{ID: "b", Title: "overfitting", SourceReferences: []string{"chunk:1", "chunk:0"}},
	}
	res, err := DeduplicateNodes(context.Background(), nodes, DedupConfig{})
	if err != nil {
		t.Fatalf("DeduplicateNodes: %v", err)
	}
	if len(res.DeduplicatedNodes) != 1 {
		t.Fatalf("final nodes = %d", len(res.DeduplicatedNodes))
	}
	refs := res.DeduplicatedNodes[0].SourceReferences
	if len(refs) != 2 {
		t.Fatalf("refs = %v, want the union without duplicates", refs)
	}
}

type fakeEmbedder struct {
	vectors [][]float32
	err     error
}

func (f *fakeEmbedder) Embed(_ context.Context, inputs []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.vectors, nil
}

func TestDeduplicateEmbeddingPhase(t *testing.T) {
	nodes := []types.GraphNode{
		node("a", "Overfitting"),
		node("b", "Memorizing the training data"),
	}
	cfg := DedupConfig{
		UseEmbeddings: true,
		Embedder: &fakeEmbedder{vectors: [][]float32{
			{1, 0, 0},
			{0.99, 0.1, 0},
		}},
	}
	res, err := DeduplicateNodes(context.Background(), nodes, cfg)
	if err != nil {
		t.Fatalf("DeduplicateNodes: %v", err)
	}
	if len(res.DeduplicatedNodes) != 1 {
		t.Fatal("cosine-similar titles should merge in the embedding phase")
	}
	if res.Statistics.MergesByPhase["embedding"] != 1 {
		t.Fatalf("embedding merges = %d", res.Statistics.MergesByPhase["embedding"])
	}
}

func TestDeduplicateEmbeddingFailureTolerated(t *testing.T) {
	nodes := []types.GraphNode{node("a", "Alpha"), node("b", "Beta")}
	cfg := DedupConfig{UseEmbeddings: true, Embedder: &fakeEmbedder{err: errors.New("api down")}}
	res, err := DeduplicateNodes(context.Background(), nodes, cfg)
	if err != nil {
		t.Fatalf("embedding failure must not fail the pipeline: %v", err)
	}
	if res.Statistics.MergesByPhase["embedding"] != 0 {
		t.Fatalf("stats = %+v", res.Statistics)
	}
}

func TestRewriteEdges(t *testing.T) {
	mapping := map[string]string{"a": "a", "b": "a", "c": "c", "d": "d"}
	edges := []types.GraphEdge{
		{From: "a", To: "c", Relationship: "relates to"},
		{From: "b", To: "c", Relationship: "relates to"}, // duplicate after mapping
		{From: "a", To: "b", Relationship: "relates to"}, // self-edge after mapping
		{From: "c", To: "d", Relationship: "depends on"},
	}
	out := RewriteEdges(edges, mapping)
	if len(out) != 2 {
		t.Fatalf("edges = %+v", out)
	}
	if out[0].From != "a" || out[0].To != "c" {
		t.Fatalf("first edge = %+v", out[0])
	}
	if out[1].Relationship != "depends on" {
		t.Fatalf("second edge = %+v", out[1])
	}
}
