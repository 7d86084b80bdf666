package graphgen

import (
	"errors"
	"fmt"
	"testing"

	"github.com/conceptmesh/backend/internal/types"
	"github.com/conceptmesh/backend/internal/validation"
)

// chainGraph builds n nodes connected in a line, which satisfies every
// structural invariant for 7 <= n <= 15.
func chainGraph(n int) *types.GraphData {
	g := &types.GraphData{Nodes: []types.GraphNode{}, Edges: []types.GraphEdge{}}
	for i := 0; i < n; i++ {
		g.Nodes = append(g.Nodes, types.GraphNode{ID: fmt.Sprintf("n%d", i), Title: fmt.Sprintf("Concept %d", i)})
		if i > 0 {
			g.Edges = append(g.Edges, types.GraphEdge{
				From: fmt.Sprintf("n%d", i-1), To: fmt.Sprintf("n%d", i), Relationship: "relates to",
			})
		}
	}
	return g
}

func errorCodes(issues []GraphIssue) map[string]bool {
	out := map[string]bool{}
	for _, i := range issues {
		out[i.Code] = true
	}
	return out
}

func TestValidateGraphClean(t *testing.T) {
	res, err := ValidateGraph(chainGraph(10), GraphValidatorConfig{})
	if err != nil {
		t.Fatalf("ValidateGraph: %v", err)
	}
	if !res.IsValid || len(res.Errors) != 0 || res.FixedGraph != nil {
		t.Fatalf("result = %+v", res)
	}
}

func TestValidateGraphBoundaryCounts(t *testing.T) {
	for _, n := range []int{7, 15} {
		res, err := ValidateGraph(chainGraph(n), GraphValidatorConfig{})
		if err != nil {
			t.Fatalf("n=%d: %v", n, err)
		}
		if !res.IsValid {
			t.Fatalf("n=%d should be valid: %+v", n, res.Errors)
		}
	}
}

func TestValidateGraphStructuralFailures(t *testing.T) {
	cases := []*types.GraphData{
		nil,
		{Nodes: nil, Edges: []types.GraphEdge{}},
		{Nodes: []types.GraphNode{{ID: "", Title: "X"}}, Edges: []types.GraphEdge{}},
		{Nodes: []types.GraphNode{{ID: "a", Title: "A"}, {ID: "a", Title: "B"}}, Edges: []types.GraphEdge{}},
		{Nodes: []types.GraphNode{{ID: "a", Title: "A"}}, Edges: []types.GraphEdge{{From: "a", To: "a"}}},
	}
	for i, g := range cases {
		_, err := ValidateGraph(g, GraphValidatorConfig{})
		var pe *PipelineError
		if !errors.As(err, &pe) || pe.Code != CodeInvalidGraphStructure {
			t.Fatalf("case %d: err = %v", i, err)
		}
	}
}

func TestValidateGraphFixesOrphanedEdge(t *testing.T) {
	g := chainGraph(7)
	g.Edges = append(g.Edges, types.GraphEdge{From: "n1", To: "n999", Relationship: "points at"})

	res, err := ValidateGraph(g, GraphValidatorConfig{AutoFix: true, RemoveIsolatedNodes: true})
	if err != nil {
		t.Fatalf("ValidateGraph: %v", err)
	}
	if !res.IsValid {
		t.Fatalf("fix should succeed: %+v", res.Errors)
	}
	if res.Statistics.OrphanedEdgesRemoved != 1 {
		t.Fatalf("stats = %+v", res.Statistics)
	}
	if res.FixedGraph == nil || len(res.FixedGraph.Edges) != 6 {
		t.Fatalf("fixed graph = %+v", res.FixedGraph)
	}
	// The original is untouched.
	if len(g.Edges) != 7 {
		t.Fatalf("input graph mutated: %d edges", len(g.Edges))
	}
}

func TestValidateGraphFixesDuplicateAndSelfEdges(t *testing.T) {
	g := chainGraph(7)
	g.Edges = append(g.Edges,
		types.GraphEdge{From: "n0", To: "n1", Relationship: "relates to"},
		types.GraphEdge{From: "n2", To: "n2", Relationship: "loops"},
	)

	res, err := ValidateGraph(g, GraphValidatorConfig{AutoFix: true})
	if err != nil {
		t.Fatalf("ValidateGraph: %v", err)
	}
	if res.Statistics.DuplicateEdgesRemoved != 1 || res.Statistics.SelfReferencesRemoved != 1 {
		t.Fatalf("stats = %+v", res.Statistics)
	}
	if len(res.FixedGraph.Edges) != 6 {
		t.Fatalf("fixed edges = %d", len(res.FixedGraph.Edges))
	}
}

func TestValidateGraphTrimsLeastConnected(t *testing.T) {
	g := chainGraph(15)
	// Two extra isolated nodes push the graph over the limit; they have the
	// lowest degree and must be the ones trimmed.
	g.Nodes = append(g.Nodes,
		types.GraphNode{ID: "x1", Title: "Stray 1"},
		types.GraphNode{ID: "x2", Title: "Stray 2"},
	)

	res, err := ValidateGraph(g, GraphValidatorConfig{AutoFix: true})
	if err != nil {
		t.Fatalf("ValidateGraph: %v", err)
	}
	if !res.IsValid {
		t.Fatalf("errors = %+v", res.Errors)
	}
	if len(res.FixedGraph.Nodes) != 15 {
		t.Fatalf("fixed nodes = %d", len(res.FixedGraph.Nodes))
	}
	for _, n := range res.FixedGraph.Nodes {
		if n.ID == "x1" || n.ID == "x2" {
			t.Fatalf("stray node %s survived the trim", n.ID)
		}
	}
	// Chain order is preserved for the survivors.
	if res.FixedGraph.Nodes[0].ID != "n0" || res.FixedGraph.Nodes[14].ID != "n14" {
		t.Fatalf("node order changed: %s ... %s", res.FixedGraph.Nodes[0].ID, res.FixedGraph.Nodes[14].ID)
	}
}

func TestValidateGraphRegeneratesMermaid(t *testing.T) {
	g := chainGraph(7)
	g.MermaidCode = "graph TD\n  n0[broken --> n1"

	res, err := ValidateGraph(g, GraphValidatorConfig{AutoFix: true})
	if err != nil {
		t.Fatalf("ValidateGraph: %v", err)
	}
	if !res.Statistics.MermaidRegenerated {
		t.Fatalf("stats = %+v", res.Statistics)
	}
	if !validation.MermaidValid(res.FixedGraph.MermaidCode) {
		t.Fatalf("regenerated mermaid still invalid: %q", res.FixedGraph.MermaidCode)
	}
}

func TestValidateGraphFixedPointIsStable(t *testing.T) {
	g := chainGraph(8)
	g.Edges = append(g.Edges,
		types.GraphEdge{From: "n0", To: "gone", Relationship: "x"},
		types.GraphEdge{From: "n3", To: "n3", Relationship: "x"},
	)

	first, err := ValidateGraph(g, GraphValidatorConfig{AutoFix: true, RemoveIsolatedNodes: true})
	if err != nil {
		t.Fatalf("first pass: %v", err)
	}
	second, err := ValidateGraph(first.FixedGraph, GraphValidatorConfig{AutoFix: true, RemoveIsolatedNodes: true})
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if !second.IsValid || second.FixedGraph != nil {
		t.Fatalf("a fixed graph must validate cleanly: %+v", second)
	}
}

func TestValidateGraphAutoFixCannotAddNodes(t *testing.T) {
	g := chainGraph(3)
	res, err := ValidateGraph(g, GraphValidatorConfig{AutoFix: true})
	var pe *PipelineError
	if !errors.As(err, &pe) || pe.Code != CodeAutoFixFailed {
		t.Fatalf("err = %v", err)
	}
	if res == nil || !errorCodes(res.Errors)["TOO_FEW_NODES"] {
		t.Fatalf("result = %+v", res)
	}
}

func TestValidateGraphWithoutAutoFixReportsOnly(t *testing.T) {
	g := chainGraph(7)
	g.Edges = append(g.Edges, types.GraphEdge{From: "n0", To: "nope", Relationship: "x"})

	res, err := ValidateGraph(g, GraphValidatorConfig{})
	if err != nil {
		t.Fatalf("ValidateGraph: %v", err)
	}
	if res.IsValid || res.FixedGraph != nil {
		t.Fatalf("result = %+v", res)
	}
	if !errorCodes(res.Errors)["ORPHANED_EDGES"] {
		t.Fatalf("errors = %+v", res.Errors)
	}
}

func TestRegenerateMermaidSanitizes(t *testing.T) {
	g := &types.GraphData{
		Nodes: []types.GraphNode{
			{ID: "a", Title: `Set [theory] | "basics"`},
			{ID: "b", Title: "Logic"},
		},
		Edges: []types.GraphEdge{{From: "a", To: "b", Relationship: "grounds"}},
	}
	code := RegenerateMermaid(g)
	if !validation.MermaidValid(code) {
		t.Fatalf("mermaid invalid: %q", code)
	}
}

func TestStructuralFallbackGraph(t *testing.T) {
	text := "Introduction\nThis covers the basics.\n\nNeural Networks\nLayers and weights.\n\nTraining\nGradient descent in practice."
	g := StructuralFallbackGraph(text, "ML Notes", 15)

	if len(g.Nodes) != 4 {
		t.Fatalf("nodes = %+v", g.Nodes)
	}
	if g.Nodes[0].ID != "doc" || g.Nodes[0].Title != "ML Notes" {
		t.Fatalf("root = %+v", g.Nodes[0])
	}
	if len(g.Edges) != 3 {
		t.Fatalf("edges = %d", len(g.Edges))
	}
	for _, e := range g.Edges {
		if e.From != "doc" || e.Relationship != "contains" {
			t.Fatalf("edge = %+v", e)
		}
	}
	if g.Metadata["degraded"] != true {
		t.Fatalf("metadata = %+v", g.Metadata)
	}
	if !validation.MermaidValid(g.MermaidCode) {
		t.Fatalf("mermaid invalid: %q", g.MermaidCode)
	}
}

func TestStructuralFallbackGraphUntitled(t *testing.T) {
	g := StructuralFallbackGraph("", "", 15)
	if g.Nodes[0].Title != "Document" {
		t.Fatalf("root title = %q", g.Nodes[0].Title)
	}
}
