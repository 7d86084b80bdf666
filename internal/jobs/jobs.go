package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

const CodeQueueFull = "QUEUE_FULL"

// ErrQueueFull is returned by Submit when the bounded input queue is at
// capacity. Callers surface it as backpressure, not as a crash.
var ErrQueueFull = errors.New(CodeQueueFull + ": job queue is at capacity")

var (
	ErrUnknownJobType = errors.New("no handler registered for job type")
	ErrNotCancellable = errors.New("only waiting jobs can be cancelled")
	ErrNotRetryable   = errors.New("only failed jobs can be retried")
	ErrShuttingDown   = errors.New("job manager is shutting down")
)

// Progress mirrors the pipeline's progress events. Updates are
// latest-value-wins: a slow status store never blocks the producer.
type Progress struct {
	Stage           string `json:"stage"`
	Percentage      int    `json:"percentage"`
	Message         string `json:"message"`
	ChunksProcessed *int   `json:"chunks_processed,omitempty"`
	TotalChunks     *int   `json:"total_chunks,omitempty"`
}

type ProgressFunc func(Progress)

// Handler executes one job. The returned value is stored as the job result;
// ctx is cancelled when the job or the whole manager is cancelled.
type Handler func(ctx context.Context, payload json.RawMessage, report ProgressFunc) (any, error)

type Spec struct {
	OwnerUserID string
	JobType     string
	Payload     json.RawMessage
	MaxAttempts int
}

func (s Spec) validate() error {
	if s.JobType == "" {
		return fmt.Errorf("job type required")
	}
	return nil
}

// Status is the poll response shape for the HTTP layer.
type Status struct {
	ID            uuid.UUID       `json:"id"`
	State         string          `json:"state"`
	Progress      Progress        `json:"progress"`
	Result        json.RawMessage `json:"result,omitempty"`
	Error         string          `json:"error,omitempty"`
	Attempts      int             `json:"attempts"`
	MaxAttempts   int             `json:"max_attempts"`
	CreatedAt     string          `json:"created_at"`
	UpdatedAt     string          `json:"updated_at"`
	EstimatedDone *string         `json:"estimated_completion_time,omitempty"`
}
