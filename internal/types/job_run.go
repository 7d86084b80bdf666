package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	JobStatusWaiting   = "waiting"
	JobStatusActive    = "active"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
	JobStatusCancelled = "cancelled"
)

// JobRun is the durable record behind the job API. Status survives process
// restarts; in-flight state does not.
type JobRun struct {
	ID              uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	OwnerUserID     string         `gorm:"column:owner_user_id;index" json:"owner_user_id,omitempty"`
	JobType         string         `gorm:"column:job_type;not null;index" json:"job_type"`
	Status          string         `gorm:"column:status;not null;index" json:"status"`
	Stage           string         `gorm:"column:stage" json:"stage"`
	Progress        int            `gorm:"column:progress" json:"progress"`
	Message         string         `gorm:"column:message" json:"message"`
	ChunksProcessed *int           `gorm:"column:chunks_processed" json:"chunks_processed,omitempty"`
	TotalChunks     *int           `gorm:"column:total_chunks" json:"total_chunks,omitempty"`
	Attempts        int            `gorm:"column:attempts;not null" json:"attempts"`
	MaxAttempts     int            `gorm:"column:max_attempts;not null" json:"max_attempts"`
	Payload         datatypes.JSON `gorm:"type:jsonb;column:payload" json:"payload"`
	Result          datatypes.JSON `gorm:"type:jsonb;column:result" json:"result"`
	Error           string         `gorm:"column:error" json:"error,omitempty"`
	LastErrorAt     *time.Time     `gorm:"column:last_error_at" json:"last_error_at,omitempty"`
	EstimatedDoneAt *time.Time     `gorm:"column:estimated_done_at" json:"estimated_completion_time,omitempty"`
	CreatedAt       time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt       time.Time      `gorm:"not null" json:"updated_at"`
}

func (JobRun) TableName() string {
	return "job_runs"
}
