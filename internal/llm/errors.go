package llm

import (
	"errors"
	"fmt"
	"time"
)

type Kind string

const (
	KindRateLimited Kind = "rate-limited"
	KindTimeout     Kind = "timeout"
	KindUnavailable Kind = "unavailable"
	KindBadRequest  Kind = "bad-request"
	KindAuth        Kind = "auth"
)

// ProviderError is the typed failure surfaced by provider clients. The
// orchestrator's retry table keys off Kind, RetryAfter and Retryable.
type ProviderError struct {
	Provider   string
	Model      string
	StatusCode int
	Kind       Kind
	RetryAfter time.Duration
	Retryable  bool
	Message    string
}

func (e *ProviderError) Error() string {
	if e == nil {
		return ""
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s: http %d: %s", e.Provider, e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s %s: %s", e.Provider, e.Kind, e.Message)
}

func (e *ProviderError) HTTPStatusCode() int {
	if e == nil {
		return 0
	}
	return e.StatusCode
}

func AsProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// KindForStatus classifies a provider HTTP status into the error taxonomy.
func KindForStatus(code int) (Kind, bool) {
	switch {
	case code == 429:
		return KindRateLimited, true
	case code == 408 || code == 504:
		return KindTimeout, true
	case code == 401 || code == 403:
		return KindAuth, false
	case code >= 500:
		return KindUnavailable, true
	case code == 404:
		return KindUnavailable, true
	default:
		return KindBadRequest, false
	}
}
