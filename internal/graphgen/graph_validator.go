package graphgen

import (
	"fmt"
	"sort"
	"strings"

	"github.com/conceptmesh/backend/internal/types"
	"github.com/conceptmesh/backend/internal/validation"
)

const (
	DefaultMinNodes = 7
	DefaultMaxNodes = 15

	maxFixIterations = 10
)

type GraphValidatorConfig struct {
	MinNodes            int
	MaxNodes            int
	AutoFix             bool
	RemoveIsolatedNodes bool
}

func (c *GraphValidatorConfig) applyDefaults() {
	if c.MinNodes <= 0 {
		c.MinNodes = DefaultMinNodes
	}
	if c.MaxNodes <= 0 {
		c.MaxNodes = DefaultMaxNodes
	}
}

// GraphIssue is one finding; Code values mirror the error taxonomy.
type GraphIssue struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type GraphFixStatistics struct {
	OrphanedEdgesRemoved  int  `json:"orphaned_edges_removed"`
	DuplicateEdgesRemoved int  `json:"duplicate_edges_removed"`
	SelfReferencesRemoved int  `json:"self_references_removed"`
	IsolatedNodesRemoved  int  `json:"isolated_nodes_removed"`
	NodesTrimmed          int  `json:"nodes_trimmed"`
	MermaidRegenerated    bool `json:"mermaid_regenerated"`
	Iterations            int  `json:"iterations"`
}

type GraphValidationResult struct {
	IsValid    bool               `json:"is_valid"`
	Errors     []GraphIssue       `json:"errors"`
	Warnings   []GraphIssue       `json:"warnings"`
	FixedGraph *types.GraphData   `json:"fixed_graph,omitempty"`
	Fixes      []string           `json:"fixes"`
	Statistics GraphFixStatistics `json:"statistics"`
}

// ValidateGraph checks structural invariants and, when configured, repairs
// what it can. Structural failures (non-array shapes, empty or duplicate
// ids, incomplete edges) are not fixable and surface as an error.
func ValidateGraph(g *types.GraphData, cfg GraphValidatorConfig) (*GraphValidationResult, error) {
	cfg.applyDefaults()
	if err := checkStructure(g); err != nil {
		return nil, err
	}

	result := &GraphValidationResult{}
	findings := inspect(g, cfg)
	result.Errors = findings.errors
	result.Warnings = findings.warnings
	result.IsValid = len(findings.errors) == 0

	if !cfg.AutoFix || result.IsValid {
		return result, nil
	}

	fixed := cloneGraph(g)
	for iter := 1; iter <= maxFixIterations; iter++ {
		result.Statistics.Iterations = iter
		changed := fixPass(fixed, cfg, result)
		if !changed {
			break
		}
	}

	post := inspect(fixed, cfg)
	result.FixedGraph = fixed
	if len(post.errors) > 0 {
		result.Errors = post.errors
		return result, &PipelineError{
			Code:    CodeAutoFixFailed,
			Message: fmt.Sprintf("%d issues remain after auto-fix", len(post.errors)),
		}
	}
	result.IsValid = true
	result.Warnings = post.warnings
	return result, nil
}

func checkStructure(g *types.GraphData) error {
	if g == nil || g.Nodes == nil || g.Edges == nil {
		return &PipelineError{Code: CodeInvalidGraphStructure, Message: "nodes and edges must both be present"}
	}
	seen := map[string]bool{}
	for i, n := range g.Nodes {
		if strings.TrimSpace(n.ID) == "" {
			return &PipelineError{Code: CodeInvalidGraphStructure, Message: fmt.Sprintf("node %d has an empty id", i)}
		}
		if seen[n.ID] {
			return &PipelineError{Code: CodeInvalidGraphStructure, Message: fmt.Sprintf("duplicate node id %q", n.ID)}
		}
		seen[n.ID] = true
	}
	for i, e := range g.Edges {
		if strings.TrimSpace(e.From) == "" || strings.TrimSpace(e.To) == "" || strings.TrimSpace(e.Relationship) == "" {
			return &PipelineError{Code: CodeInvalidGraphStructure, Message: fmt.Sprintf("edge %d is missing from, to or relationship", i)}
		}
	}
	return nil
}

type findings struct {
	errors        []GraphIssue
	warnings      []GraphIssue
	orphanedEdges []int
	dupEdges      []int
	selfEdges     []int
	isolatedNodes []string
}

func inspect(g *types.GraphData, cfg GraphValidatorConfig) findings {
	var f findings

	ids := make(map[string]bool, len(g.Nodes))
	for _, n := range g.Nodes {
		ids[n.ID] = true
	}
	degree := map[string]int{}
	triples := map[string]bool{}
	for i, e := range g.Edges {
		switch {
		case e.From == e.To:
			f.selfEdges = append(f.selfEdges, i)
		case !ids[e.From] || !ids[e.To]:
			f.orphanedEdges = append(f.orphanedEdges, i)
		default:
			key := e.From + "\x00" + e.To + "\x00" + e.Relationship
			if triples[key] {
				f.dupEdges = append(f.dupEdges, i)
				continue
			}
			triples[key] = true
			degree[e.From]++
			degree[e.To]++
		}
	}
	for _, n := range g.Nodes {
		if degree[n.ID] == 0 {
			f.isolatedNodes = append(f.isolatedNodes, n.ID)
		}
	}

	if len(f.orphanedEdges) > 0 {
		f.errors = append(f.errors, GraphIssue{Code: "ORPHANED_EDGES", Message: fmt.Sprintf("%d edges reference missing nodes", len(f.orphanedEdges))})
	}
	if len(f.dupEdges) > 0 {
		f.errors = append(f.errors, GraphIssue{Code: "DUPLICATE_EDGES", Message: fmt.Sprintf("%d duplicate edges", len(f.dupEdges))})
	}
	if len(f.selfEdges) > 0 {
		f.errors = append(f.errors, GraphIssue{Code: "SELF_REFERENCES", Message: fmt.Sprintf("%d self-referencing edges", len(f.selfEdges))})
	}
	if len(f.isolatedNodes) > 0 {
		f.warnings = append(f.warnings, GraphIssue{Code: "ISOLATED_NODES", Message: fmt.Sprintf("%d nodes have no edges", len(f.isolatedNodes))})
	}
	if len(g.Nodes) < cfg.MinNodes {
		f.errors = append(f.errors, GraphIssue{Code: "TOO_FEW_NODES", Message: fmt.Sprintf("graph has %d nodes, minimum is %d", len(g.Nodes), cfg.MinNodes)})
	}
	if len(g.Nodes) > cfg.MaxNodes {
		f.errors = append(f.errors, GraphIssue{Code: "TOO_MANY_NODES", Message: fmt.Sprintf("graph has %d nodes, maximum is %d", len(g.Nodes), cfg.MaxNodes)})
	}
	if g.MermaidCode != "" && !validation.MermaidValid(g.MermaidCode) {
		f.errors = append(f.errors, GraphIssue{Code: "INVALID_MERMAID", Message: "mermaidCode fails the graph-directive or bracket check"})
	}
	return f
}

// fixPass applies one round of repairs, returning whether anything changed.
func fixPass(g *types.GraphData, cfg GraphValidatorConfig, result *GraphValidationResult) bool {
	f := inspect(g, cfg)
	changed := false

	if len(f.orphanedEdges)+len(f.dupEdges)+len(f.selfEdges) > 0 {
		drop := map[int]bool{}
		for _, i := range f.orphanedEdges {
			drop[i] = true
		}
		for _, i := range f.dupEdges {
			drop[i] = true
		}
		for _, i := range f.selfEdges {
			drop[i] = true
		}
		kept := g.Edges[:0]
		for i, e := range g.Edges {
			if !drop[i] {
				kept = append(kept, e)
			}
		}
		g.Edges = kept
		result.Statistics.OrphanedEdgesRemoved += len(f.orphanedEdges)
		result.Statistics.DuplicateEdgesRemoved += len(f.dupEdges)
		result.Statistics.SelfReferencesRemoved += len(f.selfEdges)
		result.Fixes = append(result.Fixes, fmt.Sprintf("removed %d invalid edges", len(f.orphanedEdges)+len(f.dupEdges)+len(f.selfEdges)))
		changed = true
	}

	if cfg.RemoveIsolatedNodes && len(f.isolatedNodes) > 0 && len(g.Nodes) > cfg.MinNodes {
		removed := removeNodes(g, f.isolatedNodes, len(g.Nodes)-cfg.MinNodes)
		if removed > 0 {
			result.Statistics.IsolatedNodesRemoved += removed
			result.Fixes = append(result.Fixes, fmt.Sprintf("removed %d isolated nodes", removed))
			changed = true
		}
	}

	if len(g.Nodes) > cfg.MaxNodes {
		trimmed := trimToMostConnected(g, cfg.MaxNodes)
		result.Statistics.NodesTrimmed += trimmed
		result.Fixes = append(result.Fixes, fmt.Sprintf("trimmed %d least-connected nodes", trimmed))
		changed = true
	}

	if g.MermaidCode != "" && !validation.MermaidValid(g.MermaidCode) {
		g.MermaidCode = RegenerateMermaid(g)
		result.Statistics.MermaidRegenerated = true
		result.Fixes = append(result.Fixes, "regenerated mermaid diagram")
		changed = true
	}

	return changed
}

func removeNodes(g *types.GraphData, ids []string, limit int) int {
	if limit <= 0 {
		return 0
	}
	drop := map[string]bool{}
	for _, id := range ids {
		if len(drop) == limit {
			break
		}
		drop[id] = true
	}
	kept := g.Nodes[:0]
	for _, n := range g.Nodes {
		if !drop[n.ID] {
			kept = append(kept, n)
		}
	}
	removed := len(drop)
	g.Nodes = kept
	return removed
}

// trimToMostConnected keeps the maxNodes highest-degree nodes, ties broken
// by original position, then drops edges referencing removed nodes.
func trimToMostConnected(g *types.GraphData, maxNodes int) int {
	degree := map[string]int{}
	for _, e := range g.Edges {
		degree[e.From]++
		degree[e.To]++
	}
	order := make([]int, len(g.Nodes))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		da, db := degree[g.Nodes[order[a]].ID], degree[g.Nodes[order[b]].ID]
		if da != db {
			return da > db
		}
		return order[a] < order[b]
	})

	keep := map[string]bool{}
	for _, idx := range order[:maxNodes] {
		keep[g.Nodes[idx].ID] = true
	}
	trimmed := len(g.Nodes) - maxNodes

	nodes := g.Nodes[:0]
	for _, n := range g.Nodes {
		if keep[n.ID] {
			nodes = append(nodes, n)
		}
	}
	g.Nodes = nodes

	edges := g.Edges[:0]
	for _, e := range g.Edges {
		if keep[e.From] && keep[e.To] {
			edges = append(edges, e)
		}
	}
	g.Edges = edges
	return trimmed
}

// RegenerateMermaid renders a deterministic diagram that satisfies the
// validator's own mermaid check.
func RegenerateMermaid(g *types.GraphData) string {
	titles := make(map[string]string, len(g.Nodes))
	for _, n := range g.Nodes {
		titles[n.ID] = sanitizeMermaid(n.Title)
	}
	var b strings.Builder
	b.WriteString("graph TD")
	for _, e := range g.Edges {
		fromTitle, ok := titles[e.From]
		if !ok {
			continue
		}
		toTitle, ok := titles[e.To]
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "\n  %s[%s] -->|%s| %s[%s]",
			sanitizeMermaid(e.From), fromTitle, sanitizeMermaid(e.Relationship), sanitizeMermaid(e.To), toTitle)
	}
	return b.String()
}

func sanitizeMermaid(s string) string {
	r := strings.NewReplacer("[", "", "]", "", "|", "", `"`, "")
	return strings.TrimSpace(r.Replace(s))
}

func cloneGraph(g *types.GraphData) *types.GraphData {
	out := &types.GraphData{
		Nodes:       make([]types.GraphNode, len(g.Nodes)),
		Edges:       make([]types.GraphEdge, len(g.Edges)),
		MermaidCode: g.MermaidCode,
		Metadata:    g.Metadata,
	}
	copy(out.Nodes, g.Nodes)
	copy(out.Edges, g.Edges)
	return out
}
