package orchestrator

import (
	"errors"
	"fmt"
	"time"
)

const (
	CodeBudgetExceeded   = "BUDGET_EXCEEDED"
	CodeValidationFailed = "AI_VALIDATION_FAILED"
	CodeParseError       = "PARSE_ERROR"
	CodeRateLimited      = "RATE_LIMIT_EXCEEDED"
	CodeTimeout          = "AI_TIMEOUT"
	CodeModelUnavailable = "MODEL_UNAVAILABLE"
	CodeCacheError       = "CACHE_ERROR"
)

// AttemptReport captures what one attempt produced, for diagnostics and for
// the AI_VALIDATION_FAILED payload.
type AttemptReport struct {
	Attempt  int      `json:"attempt"`
	Model    string   `json:"model"`
	Score    int      `json:"score"`
	Feedback []string `json:"feedback,omitempty"`
}

// Error is the orchestrator's terminal failure. Message is safe to show to
// end users; wrapped detail stays in logs.
type Error struct {
	Code       string
	Message    string
	Retryable  bool
	ResetAt    *time.Time
	RetryAfter time.Duration
	Attempts   []AttemptReport
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func AsError(err error) (*Error, bool) {
	var oe *Error
	if errors.As(err, &oe) {
		return oe, true
	}
	return nil, false
}
