package validation

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/conceptmesh/backend/internal/platform/logger"
	"github.com/conceptmesh/backend/internal/prompts"
)

type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

type Mode string

const (
	ModeQuick Mode = "quick"
	ModeFull  Mode = "full"
)

// Issue is one scored defect. Fix is an imperative instruction suitable for
// appending to a retry prompt.
type Issue struct {
	Severity Severity       `json:"severity"`
	Type     string         `json:"type"`
	Message  string         `json:"message"`
	Fix      string         `json:"fix,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type Options struct {
	Threshold      int
	Mode           Mode
	SourceDocument string
	MinNodes       int
	MaxNodes       int
}

type Result struct {
	Passed   bool           `json:"passed"`
	Score    int            `json:"score"`
	Issues   []Issue        `json:"issues"`
	Warnings []string       `json:"warnings"`
	Metadata map[string]any `json:"metadata"`
}

const (
	DefaultThreshold = 60
	DefaultMinNodes  = 7
	DefaultMaxNodes  = 15

	groundingFloor = 0.60
)

type Validator interface {
	Validate(output string, pt prompts.PromptType, opts Options) *Result
}

type validator struct {
	log *logger.Logger
}

func NewValidator(baseLog *logger.Logger) Validator {
	return &validator{log: baseLog.With("service", "OutputValidator")}
}

func (v *validator) Validate(output string, pt prompts.PromptType, opts Options) *Result {
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}
	if opts.Mode == "" {
		opts.Mode = ModeQuick
	}
	if opts.MinNodes <= 0 {
		opts.MinNodes = DefaultMinNodes
	}
	if opts.MaxNodes <= 0 {
		opts.MaxNodes = DefaultMaxNodes
	}

	res := &Result{Metadata: map[string]any{}}

	switch pt {
	case prompts.TypeGraphGeneration:
		v.checkGraph(output, opts, res)
	case prompts.TypeConnectionExplanation:
		v.checkConnection(output, opts, res)
	case prompts.TypeQuizGeneration:
		v.checkQuiz(output, res)
	default:
		// Other types only need syntactically valid JSON.
		if _, ok := extractJSON(output); !ok {
			addIssue(res, SeverityCritical, "invalid-json",
				"output is not parseable JSON",
				"Return only a single valid JSON object with no surrounding prose.")
		}
	}

	res.Score = score(res.Issues)
	res.Passed = res.Score >= opts.Threshold && !hasCritical(res.Issues)
	return res
}

func score(issues []Issue) int {
	s := 100
	for _, i := range issues {
		switch i.Severity {
		case SeverityCritical:
			s -= 50
		case SeverityHigh:
			s -= 15
		case SeverityMedium:
			s -= 5
		case SeverityLow:
			s -= 1
		}
	}
	if s < 0 {
		s = 0
	}
	if s > 100 {
		s = 100
	}
	return s
}

func hasCritical(issues []Issue) bool {
	for _, i := range issues {
		if i.Severity == SeverityCritical {
			return true
		}
	}
	return false
}

func addIssue(res *Result, sev Severity, typ, msg, fix string) {
	res.Issues = append(res.Issues, Issue{Severity: sev, Type: typ, Message: msg, Fix: fix})
}

// extractJSON pulls the first JSON object or array out of LLM output,
// tolerating markdown fences and surrounding prose.
func extractJSON(output string) (string, bool) {
	s := strings.TrimSpace(output)
	if fenced := stripFence(s); fenced != "" {
		s = fenced
	}
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return "", false
	}
	var end int
	if s[start] == '{' {
		end = strings.LastIndex(s, "}")
	} else {
		end = strings.LastIndex(s, "]")
	}
	if end <= start {
		return "", false
	}
	candidate := s[start : end+1]
	if !json.Valid([]byte(candidate)) {
		return "", false
	}
	return candidate, true
}

func stripFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return ""
	}
	body := s[3:]
	if nl := strings.IndexByte(body, '\n'); nl >= 0 {
		body = body[nl+1:]
	}
	if idx := strings.LastIndex(body, "```"); idx >= 0 {
		body = body[:idx]
	}
	return strings.TrimSpace(body)
}

type graphPayload struct {
	Nodes   *[]graphNode `json:"nodes"`
	Edges   *[]graphEdge `json:"edges"`
	Mermaid string       `json:"mermaidCode"`
}

type graphNode struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

type graphEdge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

func (v *validator) checkGraph(output string, opts Options, res *Result) {
	raw, ok := extractJSON(output)
	if !ok {
		addIssue(res, SeverityCritical, "invalid-json",
			"output does not contain a parseable JSON object",
			"Return only a single valid JSON object with nodes, edges and mermaidCode fields.")
		return
	}
	var g graphPayload
	if err := json.Unmarshal([]byte(raw), &g); err != nil {
		addIssue(res, SeverityCritical, "invalid-json",
			fmt.Sprintf("graph JSON does not match the expected shape: %v", err),
			"Return JSON with a nodes array and an edges array.")
		return
	}
	if g.Nodes == nil {
		addIssue(res, SeverityCritical, "missing-nodes",
			"graph JSON has no nodes array",
			"Include a top-level nodes array.")
	}
	if g.Edges == nil {
		addIssue(res, SeverityCritical, "missing-edges",
			"graph JSON has no edges array",
			"Include a top-level edges array.")
	}
	if g.Nodes == nil || g.Edges == nil {
		return
	}

	nodes, edges := *g.Nodes, *g.Edges
	res.Metadata["nodeCount"] = len(nodes)
	res.Metadata["edgeCount"] = len(edges)

	if len(nodes) < opts.MinNodes {
		addIssue(res, SeverityHigh, "too-few-nodes",
			fmt.Sprintf("graph has %d nodes, need at least %d", len(nodes), opts.MinNodes),
			fmt.Sprintf("Extract at least %d distinct concepts from the document.", opts.MinNodes))
	}
	if len(nodes) > opts.MaxNodes {
		addIssue(res, SeverityHigh, "too-many-nodes",
			fmt.Sprintf("graph has %d nodes, limit is %d", len(nodes), opts.MaxNodes),
			fmt.Sprintf("Keep only the %d most important concepts.", opts.MaxNodes))
	}

	ids := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		ids[n.ID] = true
	}
	degree := make(map[string]int, len(nodes))
	for _, e := range edges {
		if !ids[e.From] || !ids[e.To] {
			addIssue(res, SeverityHigh, "orphaned-edge",
				fmt.Sprintf("edge %s -> %s references a node that does not exist", e.From, e.To),
				"Only reference node ids that appear in the nodes array.")
			continue
		}
		degree[e.From]++
		degree[e.To]++
	}

	orphans := 0
	for _, n := range nodes {
		if degree[n.ID] == 0 {
			orphans++
		}
	}
	if orphans > 0 {
		res.Issues = append(res.Issues, Issue{
			Severity: SeverityMedium,
			Type:     "disconnected-nodes",
			Message:  fmt.Sprintf("%d nodes have no edges", orphans),
			Fix:      "Connect every concept to at least one related concept.",
			Metadata: map[string]any{"count": orphans},
		})
	}

	if g.Mermaid != "" && !MermaidValid(g.Mermaid) {
		addIssue(res, SeverityMedium, "invalid-mermaid",
			"mermaidCode is not a valid graph definition",
			`Start mermaidCode with "graph TD" and balance every [ with a ].`)
	}

	if opts.Mode == ModeFull && opts.SourceDocument != "" && len(nodes) > 0 {
		grounded := 0
		src := normalizeText(opts.SourceDocument)
		for _, n := range nodes {
			if strings.Contains(src, normalizeText(n.Title)) {
				grounded++
			}
		}
		pct := float64(grounded) / float64(len(nodes))
		res.Metadata["groundingPercentage"] = pct * 100
		if pct < groundingFloor {
			res.Issues = append(res.Issues, Issue{
				Severity: SeverityHigh,
				Type:     "possible-hallucination",
				Message:  fmt.Sprintf("only %.0f%% of node titles appear in the source document", pct*100),
				Fix:      "Only extract concepts whose names actually appear in the document text.",
				Metadata: map[string]any{"grounded": grounded, "total": len(nodes)},
			})
		}
	}
}

// MermaidValid checks the graph directive prefix and bracket balance. The
// graph auto-fixer regenerates code that satisfies this same check.
func MermaidValid(code string) bool {
	trimmed := strings.TrimSpace(code)
	if !strings.HasPrefix(trimmed, "graph") {
		return false
	}
	depth := 0
	for _, r := range trimmed {
		switch r {
		case '[':
			depth++
		case ']':
			depth--
			if depth < 0 {
				return false
			}
		}
	}
	return depth == 0
}

func normalizeText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

type connectionPayload struct {
	Explanation string   `json:"explanation"`
	Quotes      []string `json:"quotes"`
}

func (v *validator) checkConnection(output string, opts Options, res *Result) {
	raw, ok := extractJSON(output)
	if !ok {
		addIssue(res, SeverityCritical, "invalid-json",
			"output does not contain a parseable JSON object",
			"Return only a JSON object with explanation, quotes and strength fields.")
		return
	}
	var c connectionPayload
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		addIssue(res, SeverityCritical, "invalid-json",
			fmt.Sprintf("connection JSON does not match the expected shape: %v", err),
			"Return a JSON object with an explanation string.")
		return
	}
	explanation := strings.TrimSpace(c.Explanation)
	if explanation == "" {
		addIssue(res, SeverityCritical, "missing-explanation",
			"explanation is empty",
			"Write a substantive explanation of how the two concepts relate.")
		return
	}
	res.Metadata["explanationLength"] = len(explanation)
	if len(explanation) < 50 {
		addIssue(res, SeverityHigh, "explanation-too-short",
			fmt.Sprintf("explanation is %d chars, minimum is 50", len(explanation)),
			"Expand the explanation to at least two full sentences.")
	}
	if len(explanation) > 2000 {
		addIssue(res, SeverityMedium, "explanation-too-long",
			fmt.Sprintf("explanation is %d chars, maximum is 2000", len(explanation)),
			"Shorten the explanation to under 2000 characters.")
	}
	if opts.Mode == ModeFull && len(c.Quotes) == 0 && !strings.Contains(explanation, `"`) {
		addIssue(res, SeverityMedium, "missing-quotes",
			"no source quotes support the explanation",
			"Quote at least one short snippet from the source material.")
	}
}

type quizPayload struct {
	Questions []quizQuestion `json:"questions"`
}

type quizQuestion struct {
	Question           string   `json:"question"`
	Options            []string `json:"options"`
	CorrectAnswerIndex *int     `json:"correctAnswerIndex"`
	Explanation        string   `json:"explanation"`
	Difficulty         string   `json:"difficulty"`
}

func (v *validator) checkQuiz(output string, res *Result) {
	raw, ok := extractJSON(output)
	if !ok {
		addIssue(res, SeverityCritical, "invalid-json",
			"output does not contain a parseable JSON object",
			"Return only a JSON object with a questions array.")
		return
	}
	var q quizPayload
	if err := json.Unmarshal([]byte(raw), &q); err != nil {
		addIssue(res, SeverityCritical, "invalid-json",
			fmt.Sprintf("quiz JSON does not match the expected shape: %v", err),
			"Return a JSON object with a questions array.")
		return
	}
	if len(q.Questions) == 0 {
		addIssue(res, SeverityCritical, "missing-questions",
			"quiz has no questions",
			"Include at least one question in the questions array.")
		return
	}
	res.Metadata["questionCount"] = len(q.Questions)

	for i, question := range q.Questions {
		if len(question.Options) != 4 {
			addIssue(res, SeverityHigh, "wrong-option-count",
				fmt.Sprintf("question %d has %d options, need exactly 4", i+1, len(question.Options)),
				"Give every question exactly 4 answer options.")
		}
		if question.CorrectAnswerIndex == nil || *question.CorrectAnswerIndex < 0 || *question.CorrectAnswerIndex > 3 {
			addIssue(res, SeverityHigh, "invalid-answer-index",
				fmt.Sprintf("question %d has an invalid correctAnswerIndex", i+1),
				"Set correctAnswerIndex to the 0-based index of the right option (0-3).")
		}
		if strings.TrimSpace(question.Explanation) == "" {
			addIssue(res, SeverityMedium, "missing-answer-explanation",
				fmt.Sprintf("question %d has no explanation", i+1),
				"Explain why the correct answer is right for every question.")
		}
		switch question.Difficulty {
		case "easy", "medium", "hard":
		default:
			addIssue(res, SeverityLow, "invalid-difficulty",
				fmt.Sprintf("question %d difficulty %q is not easy, medium or hard", i+1, question.Difficulty),
				"Label each question easy, medium or hard.")
		}
	}
}
