package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// AIUsageRecord is one append-only ledger row per LLM invocation, success or
// failure. The ledger is the source of truth for spend; the Redis counters
// are a derived view.
type AIUsageRecord struct {
	ID           uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	UserID       string         `gorm:"column:user_id;index:idx_ai_usage_user_ts,priority:1" json:"user_id,omitempty"`
	Operation    string         `gorm:"column:operation;not null;index" json:"operation"`
	Model        string         `gorm:"column:model;not null" json:"model"`
	InputTokens  int            `gorm:"column:input_tokens;not null" json:"input_tokens"`
	OutputTokens int            `gorm:"column:output_tokens;not null" json:"output_tokens"`
	TotalTokens  int            `gorm:"column:total_tokens;not null" json:"total_tokens"`
	Cost         float64        `gorm:"column:cost;not null" json:"cost"`
	QualityScore *float64       `gorm:"column:quality_score" json:"quality_score,omitempty"`
	Attempts     int            `gorm:"column:attempts;not null" json:"attempts"`
	Success      bool           `gorm:"column:success;not null" json:"success"`
	DocumentID   *uuid.UUID     `gorm:"type:uuid;column:document_id" json:"document_id,omitempty"`
	GraphID      *uuid.UUID     `gorm:"type:uuid;column:graph_id" json:"graph_id,omitempty"`
	Metadata     datatypes.JSON `gorm:"type:jsonb;column:metadata" json:"metadata,omitempty"`
	Timestamp    time.Time      `gorm:"column:timestamp;not null;index;index:idx_ai_usage_user_ts,priority:2" json:"timestamp"`
}

func (AIUsageRecord) TableName() string {
	return "ai_usage"
}
