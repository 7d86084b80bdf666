package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// GraphNode is one concept extracted from a document. NodeType is drawn from
// KnownNodeTypes but accepts any string for forward compatibility.
type GraphNode struct {
	ID               string         `json:"id"`
	Title            string         `json:"title"`
	Description      string         `json:"description,omitempty"`
	NodeType         string         `json:"nodeType,omitempty"`
	Summary          string         `json:"summary,omitempty"`
	SourceReferences []string       `json:"sourceReferences,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
}

type GraphEdge struct {
	From         string         `json:"from"`
	To           string         `json:"to"`
	Relationship string         `json:"relationship"`
	Explanation  string         `json:"explanation,omitempty"`
	Strength     *float64       `json:"strength,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

type GraphData struct {
	Nodes       []GraphNode    `json:"nodes"`
	Edges       []GraphEdge    `json:"edges"`
	MermaidCode string         `json:"mermaidCode,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// KnownNodeTypes is the closed set of semantic categories the prompt asks
// for. Unknown values are accepted and surfaced as validator warnings only.
var KnownNodeTypes = map[string]bool{
	"CONCEPT": true, "METHOD": true, "ALGORITHM": true, "EVIDENCE": true,
	"CLAIM": true, "DEFINITION": true, "THEOREM": true, "PRINCIPLE": true,
	"PROCESS": true, "SYSTEM": true, "COMPONENT": true, "METRIC": true,
	"DATASET": true, "TOOL": true, "TECHNIQUE": true, "PERSON": true,
	"ORGANIZATION": true, "EVENT": true, "LOCATION": true, "RESOURCE": true,
	"PROBLEM": true, "SOLUTION": true, "EXAMPLE": true, "APPLICATION": true,
	"LIMITATION": true,
}

// KnowledgeGraph is the persisted form of a generated graph. The full
// GraphData payload is stored as JSON; Neo4j holds a queryable mirror.
type KnowledgeGraph struct {
	ID          uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	OwnerUserID string         `gorm:"column:owner_user_id;index" json:"owner_user_id,omitempty"`
	DocumentID  *uuid.UUID     `gorm:"type:uuid;column:document_id;index" json:"document_id,omitempty"`
	Title       string         `gorm:"column:title" json:"title"`
	Payload     datatypes.JSON `gorm:"type:jsonb;column:payload;not null" json:"payload"`
	NodeCount   int            `gorm:"column:node_count;not null" json:"node_count"`
	EdgeCount   int            `gorm:"column:edge_count;not null" json:"edge_count"`
	Degraded    bool           `gorm:"column:degraded;not null" json:"degraded"`
	CreatedAt   time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"not null" json:"updated_at"`
}

func (KnowledgeGraph) TableName() string {
	return "graphs"
}
