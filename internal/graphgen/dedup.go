package graphgen

import (
	"context"
	"fmt"
	"math"
	"strings"
	"unicode"

	"github.com/conceptmesh/backend/internal/types"
)

const (
	DefaultFuzzyThreshold       = 0.20
	DefaultWordOverlapThreshold = 0.50
	DefaultEmbeddingThreshold   = 0.92
)

// Embedder is the optional semantic phase's dependency; the OpenAI client
// satisfies it.
type Embedder interface {
	Embed(ctx context.Context, inputs []string) ([][]float32, error)
}

type DedupConfig struct {
	FuzzyThreshold       float64
	WordOverlapThreshold float64
	UseEmbeddings        bool
	EmbeddingThreshold   float64
	Embedder             Embedder
}

func (c *DedupConfig) applyDefaults() {
	if c.FuzzyThreshold <= 0 {
		c.FuzzyThreshold = DefaultFuzzyThreshold
	}
	if c.WordOverlapThreshold <= 0 {
		c.WordOverlapThreshold = DefaultWordOverlapThreshold
	}
	if c.EmbeddingThreshold <= 0 {
		c.EmbeddingThreshold = DefaultEmbeddingThreshold
	}
}

type DedupStatistics struct {
	OriginalCount int            `json:"original_count"`
	FinalCount    int            `json:"final_count"`
	MergedCount   int            `json:"merged_count"`
	MergesByPhase map[string]int `json:"merges_by_phase"`
}

type DedupResult struct {
	DeduplicatedNodes []types.GraphNode `json:"deduplicated_nodes"`
	Mapping           map[string]string `json:"mapping"`
	Statistics        DedupStatistics   `json:"statistics"`
}

// unionFind tracks equivalence classes with path compression and union by
// rank.
type unionFind struct {
	parent map[string]string
	rank   map[string]int
}

func newUnionFind(ids []string) *unionFind {
	uf := &unionFind{
		parent: make(map[string]string, len(ids)),
		rank:   make(map[string]int, len(ids)),
	}
	for _, id := range ids {
		uf.parent[id] = id
	}
	return uf
}

func (uf *unionFind) find(id string) string {
	root := id
	for uf.parent[root] != root {
		root = uf.parent[root]
	}
	for uf.parent[id] != root {
		uf.parent[id], id = root, uf.parent[id]
	}
	return root
}

// union returns true when the two ids were in distinct classes.
func (uf *unionFind) union(a, b string) bool {
	ra, rb := uf.find(a), uf.find(b)
	if ra == rb {
		return false
	}
	if uf.rank[ra] < uf.rank[rb] {
		ra, rb = rb, ra
	}
	uf.parent[rb] = ra
	if uf.rank[ra] == uf.rank[rb] {
		uf.rank[ra]++
	}
	return true
}

// DeduplicateNodes merges nodes naming the same concept. Phases run in
// cheapest-first order; pairs already unified are skipped by union itself.
func DeduplicateNodes(ctx context.Context, nodes []types.GraphNode, cfg DedupConfig) (*DedupResult, error) {
	cfg.applyDefaults()
	if len(nodes) == 0 {
		return nil, &PipelineError{Code: CodeDeduplicationFailed, Message: "no nodes to deduplicate"}
	}
	ids := make([]string, len(nodes))
	for i, n := range nodes {
		if n.ID == "" || strings.TrimSpace(n.Title) == "" {
			return nil, &PipelineError{
				Code:    CodeDeduplicationFailed,
				Message: fmt.Sprintf("node at index %d is missing id or title", i),
			}
		}
		ids[i] = n.ID
	}

	uf := newUnionFind(ids)
	stats := DedupStatistics{
		OriginalCount: len(nodes),
		MergesByPhase: map[string]int{"exact": 0, "acronym": 0, "fuzzy": 0},
	}

	stats.MergesByPhase["exact"] = mergeExact(nodes, uf)
	stats.MergesByPhase["acronym"] = mergeAcronyms(nodes, uf)
	stats.MergesByPhase["fuzzy"] = mergeFuzzy(nodes, uf, cfg)

	if cfg.UseEmbeddings && cfg.Embedder != nil {
		merged, err := mergeByEmbedding(ctx, nodes, uf, cfg)
		if err != nil {
			// Semantic merging is an enhancement; the lexical phases already
			// produced a usable result.
			stats.MergesByPhase["embedding"] = 0
		} else {
			stats.MergesByPhase["embedding"] = merged
		}
	}

	return assemble(nodes, uf, stats), nil
}

func normalizeTitle(t string) string {
	return strings.Join(strings.Fields(strings.ToLower(t)), " ")
}

func mergeExact(nodes []types.GraphNode, uf *unionFind) int {
	merged := 0
	seen := make(map[string]string, len(nodes))
	for _, n := range nodes {
		key := normalizeTitle(n.Title)
		if first, ok := seen[key]; ok {
			if uf.union(first, n.ID) {
				merged++
			}
			continue
		}
		seen[key] = n.ID
	}
	return merged
}

// isAcronym reports whether a title is a bare 2-5 letter uppercase token.
func isAcronym(title string) bool {
	t := strings.TrimSpace(title)
	if len(t) < 2 || len(t) > 5 {
		return false
	}
	for _, r := range t {
		if !unicode.IsUpper(r) {
			return false
		}
	}
	return true
}

func initials(title string) string {
	words := strings.Fields(title)
	if len(words) < 2 {
		return ""
	}
	var b strings.Builder
	for _, w := range words {
		r := []rune(w)
		b.WriteRune(unicode.ToUpper(r[0]))
	}
	return b.String()
}

func mergeAcronyms(nodes []types.GraphNode, uf *unionFind) int {
	merged := 0
	var acronyms, expanded []int
	for i, n := range nodes {
		if isAcronym(n.Title) {
			acronyms = append(acronyms, i)
		} else if initials(n.Title) != "" {
			expanded = append(expanded, i)
		}
	}
	for _, a := range acronyms {
		target := strings.TrimSpace(nodes[a].Title)
		for _, e := range expanded {
			if initials(nodes[e].Title) == target {
				if uf.union(nodes[a].ID, nodes[e].ID) {
					merged++
				}
			}
		}
	}
	return merged
}

func mergeFuzzy(nodes []types.GraphNode, uf *unionFind, cfg DedupConfig) int {
	merged := 0
	norm := make([]string, len(nodes))
	words := make([]map[string]bool, len(nodes))
	for i, n := range nodes {
		norm[i] = normalizeTitle(n.Title)
		words[i] = wordSet(norm[i])
	}
	for i := 0; i < len(nodes); i++ {
		for j := i + 1; j < len(nodes); j++ {
			if uf.find(nodes[i].ID) == uf.find(nodes[j].ID) {
				continue
			}
			l := levenshteinSimilarity(norm[i], norm[j])
			if l < 1-cfg.FuzzyThreshold {
				continue
			}
			// The word-overlap gate stops "neural networks" merging with
			// "social networks" on edit distance alone.
			if jaccard(words[i], words[j]) < cfg.WordOverlapThreshold {
				continue
			}
			if uf.union(nodes[i].ID, nodes[j].ID) {
				merged++
			}
		}
	}
	return merged
}

func wordSet(s string) map[string]bool {
	set := map[string]bool{}
	for _, w := range strings.Fields(s) {
		set[w] = true
	}
	return set
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	inter := 0
	for w := range a {
		if b[w] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func levenshteinSimilarity(a, b string) float64 {
	if a == b {
		return 1
	}
	la, lb := len(a), len(b)
	if la == 0 || lb == 0 {
		return 0
	}
	dist := levenshtein(a, b)
	max := la
	if lb > max {
		max = lb
	}
	return 1 - float64(dist)/float64(max)
}

func levenshtein(a, b string) int {
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		cur[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			cur[j] = min3(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}

func mergeByEmbedding(ctx context.Context, nodes []types.GraphNode, uf *unionFind, cfg DedupConfig) (int, error) {
	inputs := make([]string, len(nodes))
	for i, n := range nodes {
		inputs[i] = n.Title
		if n.Description != "" {
			inputs[i] += ": " + n.Description
		}
	}
	vectors, err := cfg.Embedder.Embed(ctx, inputs)
	if err != nil {
		return 0, err
	}
	if len(vectors) != len(nodes) {
		return 0, fmt.Errorf("embedding count mismatch: got %d for %d nodes", len(vectors), len(nodes))
	}
	merged := 0
	for i := 0; i < len(nodes); i++ {
		for j := i + 1; j < len(nodes); j++ {
			if uf.find(nodes[i].ID) == uf.find(nodes[j].ID) {
				continue
			}
			if cosine(vectors[i], vectors[j]) >= cfg.EmbeddingThreshold {
				if uf.union(nodes[i].ID, nodes[j].ID) {
					merged++
				}
			}
		}
	}
	return merged, nil
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// nodeQuality weights richer records higher when choosing a representative.
func nodeQuality(n types.GraphNode) float64 {
	return float64(len(n.Title)) + 2*float64(len(n.Description)) + 2.5*float64(len(n.Summary))
}

func assemble(nodes []types.GraphNode, uf *unionFind, stats DedupStatistics) *DedupResult {
	// Representative per class: highest quality score, first-seen on ties.
	best := map[string]types.GraphNode{}
	members := map[string][]types.GraphNode{}
	var rootOrder []string
	for _, n := range nodes {
		root := uf.find(n.ID)
		if _, ok := best[root]; !ok {
			rootOrder = append(rootOrder, root)
			best[root] = n
		} else if nodeQuality(n) > nodeQuality(best[root]) {
			best[root] = n
		}
		members[root] = append(members[root], n)
	}

	mapping := make(map[string]string, len(nodes))
	for _, n := range nodes {
		mapping[n.ID] = uf.find(n.ID)
	}

	out := make([]types.GraphNode, 0, len(rootOrder))
	for _, root := range rootOrder {
		rep := best[root]
		rep.ID = root
		rep.SourceReferences = mergeReferences(members[root])
		out = append(out, rep)
	}

	stats.FinalCount = len(out)
	stats.MergedCount = stats.OriginalCount - stats.FinalCount
	return &DedupResult{DeduplicatedNodes: out, Mapping: mapping, Statistics: stats}
}

func mergeReferences(members []types.GraphNode) []string {
	seen := map[string]bool{}
	var out []string
	for _, m := range members {
		for _, ref := range m.SourceReferences {
			if ref == "" || seen[ref] {
				continue
			}
			seen[ref] = true
			out = append(out, ref)
		}
	}
	return out
}

// RewriteEdges maps edge endpoints through the dedup mapping, dropping the
// self-edges and duplicate triples that merging creates.
func RewriteEdges(edges []types.GraphEdge, mapping map[string]string) []types.GraphEdge {
	seen := map[string]bool{}
	out := make([]types.GraphEdge, 0, len(edges))
	for _, e := range edges {
		if to, ok := mapping[e.To]; ok {
			e.To = to
		}
		if from, ok := mapping[e.From]; ok {
			e.From = from
		}
		if e.From == e.To {
			continue
		}
		key := e.From + "\x00" + e.To + "\x00" + e.Relationship
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, e)
	}
	return out
}
