package graphgen

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/conceptmesh/backend/internal/data/graph"
	"github.com/conceptmesh/backend/internal/orchestrator"
	"github.com/conceptmesh/backend/internal/platform/logger"
	"github.com/conceptmesh/backend/internal/platform/neo4jdb"
	"github.com/conceptmesh/backend/internal/prompts"
	"github.com/conceptmesh/backend/internal/repos"
	"github.com/conceptmesh/backend/internal/types"
	"github.com/conceptmesh/backend/internal/validation"
)

const DefaultMaxParallelChunks = 4

// Progress is one pipeline progress event. Consumers apply latest-value-wins
// semantics; producers never block on a slow consumer.
type Progress struct {
	Stage           string `json:"stage"`
	Percentage      int    `json:"percentage"`
	Message         string `json:"message"`
	ChunksProcessed *int   `json:"chunks_processed,omitempty"`
	TotalChunks     *int   `json:"total_chunks,omitempty"`
}

type ProgressFunc func(Progress)

type GenerateConfig struct {
	ChunkSize      int
	ChunkOverlap   int
	MaxParallel    int
	MinNodes       int
	MaxNodes       int
	PromptVersion  prompts.PromptVersion
	PreferredModel string
	Dedup          DedupConfig
	Persist        bool
}

func (c *GenerateConfig) applyDefaults() {
	if c.ChunkSize <= 0 {
		c.ChunkSize = DefaultChunkSize
	}
	if c.ChunkOverlap <= 0 {
		c.ChunkOverlap = DefaultChunkOverlap
	}
	if c.MaxParallel <= 0 {
		c.MaxParallel = DefaultMaxParallelChunks
	}
	if c.MinNodes <= 0 {
		c.MinNodes = DefaultMinNodes
	}
	if c.MaxNodes <= 0 {
		c.MaxNodes = DefaultMaxNodes
	}
}

type GenerateRequest struct {
	DocumentText  string
	DocumentTitle string
	UserID        string
	DocumentID    *uuid.UUID
	Config        GenerateConfig
	OnProgress    ProgressFunc
}

type GenerateResult struct {
	GraphID  uuid.UUID        `json:"graph_id"`
	Graph    *types.GraphData `json:"graph"`
	Degraded bool             `json:"degraded"`
	Dedup    *DedupStatistics `json:"dedup,omitempty"`
}

// Generator assembles a knowledge graph from a full document: chunk, call
// the orchestrator per chunk, merge, validate-and-fix, persist.
type Generator interface {
	GenerateGraph(ctx context.Context, req GenerateRequest) (*GenerateResult, error)
}

type generator struct {
	log    *logger.Logger
	orch   orchestrator.Orchestrator
	graphs repos.GraphRepo
	neo4j  *neo4jdb.Client
}

func NewGenerator(baseLog *logger.Logger, orch orchestrator.Orchestrator, graphs repos.GraphRepo, neo *neo4jdb.Client) Generator {
	return &generator{
		log:    baseLog.With("service", "GraphGenerator"),
		orch:   orch,
		graphs: graphs,
		neo4j:  neo,
	}
}

func (g *generator) GenerateGraph(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	cfg := req.Config
	cfg.applyDefaults()
	report := func(p Progress) {
		if req.OnProgress != nil {
			req.OnProgress(p)
		}
	}

	if strings.TrimSpace(req.DocumentText) == "" {
		return nil, &PipelineError{Code: CodeInvalidGraphStructure, Message: "document text is empty"}
	}

	report(Progress{Stage: "estimating", Percentage: 0, Message: "sizing document"})
	report(Progress{Stage: "chunking", Percentage: 5, Message: "splitting document"})
	chunks := ChunkDocument(req.DocumentText, cfg.ChunkSize, cfg.ChunkOverlap)
	total := len(chunks)
	report(Progress{Stage: "chunking", Percentage: 10, Message: fmt.Sprintf("%d chunks", total), TotalChunks: &total})

	nodes, edges, degraded := g.generateChunks(ctx, req, cfg, chunks, report)
	if degraded {
		// All chunks exhausted their retries: fall back to a structural
		// outline so the user still gets something navigable.
		return g.finishDegraded(ctx, req, cfg, report)
	}

	report(Progress{Stage: "merging", Percentage: 70, Message: "deduplicating concepts"})
	dedup, err := DeduplicateNodes(ctx, nodes, cfg.Dedup)
	if err != nil {
		return nil, err
	}
	merged := &types.GraphData{
		Nodes: dedup.DeduplicatedNodes,
		Edges: RewriteEdges(edges, dedup.Mapping),
	}
	report(Progress{Stage: "merging", Percentage: 85, Message: fmt.Sprintf("%d concepts after merge", len(merged.Nodes))})

	report(Progress{Stage: "validating", Percentage: 85, Message: "validating graph"})
	vres, err := ValidateGraph(merged, GraphValidatorConfig{
		MinNodes:            cfg.MinNodes,
		MaxNodes:            cfg.MaxNodes,
		AutoFix:             true,
		RemoveIsolatedNodes: true,
	})
	if err != nil {
		return nil, err
	}
	final := merged
	if vres.FixedGraph != nil {
		final = vres.FixedGraph
	}
	if final.MermaidCode == "" {
		final.MermaidCode = RegenerateMermaid(final)
	}
	report(Progress{Stage: "validating", Percentage: 95, Message: "graph validated"})

	result := &GenerateResult{Graph: final, Dedup: &dedup.Statistics}
	if err := g.save(ctx, req, cfg, result, report); err != nil {
		return nil, err
	}
	report(Progress{Stage: "saving", Percentage: 100, Message: "graph ready"})
	return result, nil
}

// generateChunks runs the per-chunk orchestrator calls with bounded
// parallelism. Individual chunk failures are tolerated; degraded is true
// only when no chunk produced nodes.
func (g *generator) generateChunks(ctx context.Context, req GenerateRequest, cfg GenerateConfig, chunks []Chunk, report ProgressFunc) ([]types.GraphNode, []types.GraphEdge, bool) {
	type chunkResult struct {
		nodes []types.GraphNode
		edges []types.GraphEdge
	}
	results := make([]*chunkResult, len(chunks))
	total := len(chunks)

	var mu sync.Mutex
	processed := 0

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(cfg.MaxParallel)
	for _, chunk := range chunks {
		eg.Go(func() error {
			data, err := g.generateChunk(egCtx, req, cfg, chunk)
			mu.Lock()
			defer mu.Unlock()
			processed++
			done := processed
			if err != nil {
				g.log.Warn("chunk generation failed", "chunk", chunk.Index, "error", err)
			} else {
				results[chunk.Index] = &chunkResult{nodes: data.Nodes, edges: data.Edges}
			}
			pct := 10 + 60*done/total
			report(Progress{
				Stage:           "generating",
				Percentage:      pct,
				Message:         fmt.Sprintf("chunk %d/%d", done, total),
				ChunksProcessed: &done,
				TotalChunks:     &total,
			})
			// Budget denial applies to every remaining chunk equally.
			if oe, ok := orchestrator.AsError(err); ok && oe.Code == orchestrator.CodeBudgetExceeded {
				return err
			}
			return nil
		})
	}
	_ = eg.Wait()

	var nodes []types.GraphNode
	var edges []types.GraphEdge
	succeeded := 0
	for _, r := range results {
		if r == nil {
			continue
		}
		succeeded++
		nodes = append(nodes, r.nodes...)
		edges = append(edges, r.edges...)
	}
	return nodes, edges, succeeded == 0
}

func (g *generator) generateChunk(ctx context.Context, req GenerateRequest, cfg GenerateConfig, chunk Chunk) (*types.GraphData, error) {
	resp, err := g.orch.Execute(ctx, orchestrator.Request{
		PromptType: prompts.TypeGraphGeneration,
		Context: prompts.Context{
			"documentText":  chunk.Text,
			"documentTitle": req.DocumentTitle,
			"minNodes":      cfg.MinNodes,
			"maxNodes":      cfg.MaxNodes,
		},
		UserID:     req.UserID,
		Operation:  "graph-generation",
		DocumentID: req.DocumentID,
		Config: orchestrator.Config{
			PromptVersion:  cfg.PromptVersion,
			PreferredModel: cfg.PreferredModel,
			ValidationMode: validation.ModeFull,
			MinNodes:       cfg.MinNodes,
			MaxNodes:       cfg.MaxNodes,
		},
	})
	if err != nil {
		return nil, err
	}

	var data types.GraphData
	if err := json.Unmarshal([]byte(extractPayload(resp.Data)), &data); err != nil {
		return nil, &PipelineError{Code: CodeInvalidGraphStructure, Message: "chunk output is not graph JSON", Err: err}
	}

	// Chunk-local ids collide across chunks; prefix before global merge.
	rename := make(map[string]string, len(data.Nodes))
	for i := range data.Nodes {
		newID := fmt.Sprintf("%d_%s", chunk.Index, data.Nodes[i].ID)
		rename[data.Nodes[i].ID] = newID
		data.Nodes[i].ID = newID
		data.Nodes[i].SourceReferences = append(data.Nodes[i].SourceReferences, fmt.Sprintf("chunk:%d", chunk.Index))
	}
	for i := range data.Edges {
		if id, ok := rename[data.Edges[i].From]; ok {
			data.Edges[i].From = id
		}
		if id, ok := rename[data.Edges[i].To]; ok {
			data.Edges[i].To = id
		}
	}
	return &data, nil
}

// extractPayload strips markdown fences the validator already tolerated.
func extractPayload(s string) string {
	trimmed := strings.TrimSpace(s)
	if strings.HasPrefix(trimmed, "```") {
		body := trimmed[3:]
		if nl := strings.IndexByte(body, '\n'); nl >= 0 {
			body = body[nl+1:]
		}
		if idx := strings.LastIndex(body, "```"); idx >= 0 {
			body = body[:idx]
		}
		trimmed = strings.TrimSpace(body)
	}
	if start := strings.IndexByte(trimmed, '{'); start > 0 {
		trimmed = trimmed[start:]
	}
	if end := strings.LastIndexByte(trimmed, '}'); end >= 0 && end < len(trimmed)-1 {
		trimmed = trimmed[:end+1]
	}
	return trimmed
}

// finishDegraded builds a structural outline from paragraph headings when
// every chunk failed. The degraded flag travels in the graph metadata.
func (g *generator) finishDegraded(ctx context.Context, req GenerateRequest, cfg GenerateConfig, report ProgressFunc) (*GenerateResult, error) {
	report(Progress{Stage: "merging", Percentage: 70, Message: "building structural fallback"})
	fallback := StructuralFallbackGraph(req.DocumentText, req.DocumentTitle, cfg.MaxNodes)
	result := &GenerateResult{Graph: fallback, Degraded: true}
	if err := g.save(ctx, req, cfg, result, report); err != nil {
		return nil, err
	}
	report(Progress{Stage: "saving", Percentage: 100, Message: "degraded graph ready"})
	return result, nil
}

// StructuralFallbackGraph derives a heading-level outline graph without any
// model involvement.
func StructuralFallbackGraph(text, title string, maxNodes int) *types.GraphData {
	if maxNodes <= 0 {
		maxNodes = DefaultMaxNodes
	}
	root := types.GraphNode{
		ID:       "doc",
		Title:    title,
		NodeType: "RESOURCE",
		Summary:  "The source document. Generated structurally without model assistance.",
	}
	if root.Title == "" {
		root.Title = "Document"
	}
	out := &types.GraphData{
		Nodes:    []types.GraphNode{root},
		Edges:    []types.GraphEdge{},
		Metadata: map[string]any{"degraded": true, "method": "structural-fallback"},
	}

	seen := map[string]bool{}
	for _, para := range strings.Split(text, "\n\n") {
		if len(out.Nodes) > maxNodes {
			break
		}
		heading := headingOf(para)
		if heading == "" || seen[strings.ToLower(heading)] {
			continue
		}
		seen[strings.ToLower(heading)] = true
		id := fmt.Sprintf("s%d", len(out.Nodes))
		out.Nodes = append(out.Nodes, types.GraphNode{
			ID:       id,
			Title:    heading,
			NodeType: "CONCEPT",
			Summary:  "A section of the source document. Content was not analyzed.",
		})
		out.Edges = append(out.Edges, types.GraphEdge{
			From:         "doc",
			To:           id,
			Relationship: "contains",
		})
	}
	out.MermaidCode = RegenerateMermaid(out)
	return out
}

// headingOf treats a short first line without terminal punctuation as a
// section heading.
func headingOf(paragraph string) string {
	lines := strings.SplitN(strings.TrimSpace(paragraph), "\n", 2)
	if len(lines) == 0 {
		return ""
	}
	first := strings.TrimSpace(strings.TrimLeft(lines[0], "#- "))
	if first == "" || len(first) > 80 {
		return ""
	}
	if strings.HasSuffix(first, ".") || strings.HasSuffix(first, ",") {
		return ""
	}
	return first
}

func (g *generator) save(ctx context.Context, req GenerateRequest, cfg GenerateConfig, result *GenerateResult, report ProgressFunc) error {
	report(Progress{Stage: "saving", Percentage: 95, Message: "persisting graph"})
	result.GraphID = uuid.New()
	if !cfg.Persist || g.graphs == nil {
		return nil
	}

	if result.Graph.Metadata == nil {
		result.Graph.Metadata = map[string]any{}
	}
	result.Graph.Metadata["degraded"] = result.Degraded

	payload, err := json.Marshal(result.Graph)
	if err != nil {
		return &PipelineError{Code: CodeInvalidGraphStructure, Message: "graph payload does not serialize", Err: err}
	}
	record := &types.KnowledgeGraph{
		ID:          result.GraphID,
		OwnerUserID: req.UserID,
		DocumentID:  req.DocumentID,
		Title:       req.DocumentTitle,
		Payload:     payload,
		NodeCount:   len(result.Graph.Nodes),
		EdgeCount:   len(result.Graph.Edges),
		Degraded:    result.Degraded,
	}
	if _, err := g.graphs.Create(ctx, nil, []*types.KnowledgeGraph{record}); err != nil {
		return err
	}

	if err := graph.UpsertKnowledgeGraph(ctx, g.neo4j, g.log, result.GraphID, result.Graph); err != nil {
		g.log.Warn("neo4j mirror sync failed", "graph_id", result.GraphID, "error", err)
	}
	return nil
}
