package prompts

// Built-in templates. Registered at init, immutable afterwards.

var builtinTemplates = []Template{
	{
		Type:    TypeGraphGeneration,
		Version: VersionProduction,
		SystemPrompt: "You are an expert knowledge-graph extractor. You read source material and " +
			"produce a concept graph as strict JSON. Every node must be grounded in the source text. " +
			"Respond with JSON only, no prose before or after.",
		BodyTemplate: `Extract a knowledge graph from the following document.

Document title: {{documentTitle}}

Document text:
{{documentText}}

{{#if focusArea}}Focus the extraction on: {{focusArea}}
{{/if}}Return JSON with this shape:
{"nodes":[{"id":"n1","title":"...","description":"...","nodeType":"CONCEPT","summary":"..."}],"edges":[{"from":"n1","to":"n2","relationship":"...","explanation":"...","strength":0.8}],"mermaidCode":"graph TD\n  ..."}

Rules:
- Between {{minNodes}} and {{maxNodes}} nodes.
- Every node title must appear in the source text.
- The summary is exactly two sentences giving the concept in context.
- Every edge endpoint must reference an existing node id.
- No self-edges and no duplicate edges.`,
		RequiredContext: []string{"documentText", "documentTitle"},
		OptionalContext: []string{"focusArea", "minNodes", "maxNodes"},
		Constraints:     Constraints{MinNodes: 7, MaxNodes: 15},
	},
	{
		Type:    TypeGraphGeneration,
		Version: VersionStaging,
		SystemPrompt: "You are a meticulous knowledge-graph extractor. Work in two passes: first list " +
			"candidate concepts, then keep only the ones central to the document. Output strict JSON only.",
		BodyTemplate: `Build a concept graph for "{{documentTitle}}".

Source:
{{documentText}}

{{#if focusArea}}Prioritize concepts related to: {{focusArea}}
{{/if}}Output {"nodes":[...],"edges":[...],"mermaidCode":"..."} with {{minNodes}}-{{maxNodes}} nodes, two-sentence summaries, and grounded titles only.`,
		RequiredContext: []string{"documentText", "documentTitle"},
		OptionalContext: []string{"focusArea", "minNodes", "maxNodes"},
		Constraints:     Constraints{MinNodes: 7, MaxNodes: 15},
	},
	{
		Type:    TypeConnectionExplanation,
		Version: VersionProduction,
		SystemPrompt: "You explain the relationship between two concepts from a document, quoting the " +
			"source where possible. Respond with JSON only.",
		BodyTemplate: `Explain the connection between "{{nodeA.title}}" and "{{nodeB.title}}".

Concept A: {{nodeA}}
Concept B: {{nodeB}}

{{#if documentText}}Relevant source material:
{{documentText}}

{{/if}}Return JSON: {"explanation":"...","quotes":["..."],"strength":0.0}
The explanation must be between 50 and 2000 characters and should quote short snippets from the source.`,
		RequiredContext: []string{"nodeA", "nodeB"},
		OptionalContext: []string{"documentText"},
	},
	{
		Type:    TypeQuizGeneration,
		Version: VersionProduction,
		SystemPrompt: "You write multiple-choice quiz questions that test understanding, not recall of " +
			"exact phrasing. Respond with JSON only.",
		BodyTemplate: `Write {{questionCount}} quiz questions about the following material.

{{documentText}}

{{#if difficulty}}Target difficulty: {{difficulty}}
{{/if}}Return JSON: {"questions":[{"question":"...","options":["a","b","c","d"],"correctAnswerIndex":0,"explanation":"...","difficulty":"easy|medium|hard"}]}
Each question has exactly 4 options and a non-empty explanation.`,
		RequiredContext: []string{"documentText", "questionCount"},
		OptionalContext: []string{"difficulty"},
	},
	{
		Type:    TypeImageDescription,
		Version: VersionProduction,
		SystemPrompt: "You describe figures and diagrams for a knowledge-graph pipeline. Be precise " +
			"about labels, axes and relationships shown. Respond with JSON only.",
		BodyTemplate: `Describe the image for inclusion in a study graph.

{{#if surroundingText}}Text near the image:
{{surroundingText}}

{{/if}}Return JSON: {"description":"...","concepts":["..."],"textInImage":"..."}`,
		RequiredContext: []string{"imageRef"},
		OptionalContext: []string{"surroundingText"},
	},
	{
		Type:    TypeNodeDeduplication,
		Version: VersionProduction,
		SystemPrompt: "You decide whether two concept nodes refer to the same underlying concept. " +
			"Respond with JSON only.",
		BodyTemplate: `Are these the same concept?

A: {{nodeA}}
B: {{nodeB}}

Return JSON: {"same":true,"confidence":0.0,"reason":"..."}`,
		RequiredContext: []string{"nodeA", "nodeB"},
	},
}

type registry struct {
	templates map[string]Template
}

func newRegistry() *registry {
	r := &registry{templates: map[string]Template{}}
	for _, t := range builtinTemplates {
		r.templates[t.ID()] = t
	}
	return r
}

// Get fails fast: no fallback across versions.
func (r *registry) Get(pt PromptType, pv PromptVersion) (Template, bool) {
	t, ok := r.templates[string(pt)+":"+string(pv)]
	return t, ok
}

// VersionsOf lists the versions registered for a prompt type.
func (r *registry) VersionsOf(pt PromptType) []PromptVersion {
	var out []PromptVersion
	for _, v := range []PromptVersion{VersionProduction, VersionStaging, VersionExperimental} {
		if _, ok := r.Get(pt, v); ok {
			out = append(out, v)
		}
	}
	return out
}
