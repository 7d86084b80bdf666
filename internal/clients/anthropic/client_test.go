package anthropic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/conceptmesh/backend/internal/llm"
	"github.com/conceptmesh/backend/internal/platform/logger"
)

func newServerClient(t *testing.T, handler http.HandlerFunc) llm.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	t.Setenv("ANTHROPIC_API_KEY", "test-key")
	t.Setenv("ANTHROPIC_BASE_URL", srv.URL)

	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	c, err := NewClient(log)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func TestCallMapsRequestAndResponse(t *testing.T) {
	var gotReq messagesRequest
	var gotHeaders http.Header
	c := newServerClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"content":     []map[string]string{{"type": "text", "text": `{"nodes":[]}`}},
			"model":       "claude-3-5-haiku-latest",
			"stop_reason": "end_turn",
			"usage":       map[string]int{"input_tokens": 4000, "output_tokens": 1500},
		})
	})

	resp, err := c.Call(context.Background(), llm.Request{
		Model:  llm.ModelClaudeHaiku,
		System: "You extract graphs.",
		User:   "Document text here.",
	})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if resp.Content != `{"nodes":[]}` || resp.InputTokens != 4000 || resp.OutputTokens != 1500 {
		t.Fatalf("response = %+v", resp)
	}
	if resp.Model != llm.ModelClaudeHaiku {
		t.Fatalf("model = %s, want the short name back", resp.Model)
	}

	if gotReq.Model != "claude-3-5-haiku-latest" {
		t.Fatalf("wire model = %s", gotReq.Model)
	}
	if gotReq.System != "You extract graphs." || len(gotReq.Messages) != 1 {
		t.Fatalf("request = %+v", gotReq)
	}
	if gotHeaders.Get("x-api-key") != "test-key" || gotHeaders.Get("anthropic-version") != apiVersion {
		t.Fatalf("headers = %v", gotHeaders)
	}
}

func TestCallRateLimitCarriesRetryAfter(t *testing.T) {
	c := newServerClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"type":"rate_limit_error"}}`))
	})

	_, err := c.Call(context.Background(), llm.Request{Model: llm.ModelClaudeHaiku, User: "x"})
	pe, ok := llm.AsProviderError(err)
	if !ok {
		t.Fatalf("err = %v", err)
	}
	if pe.Kind != llm.KindRateLimited || !pe.Retryable {
		t.Fatalf("provider error = %+v", pe)
	}
	if pe.RetryAfter != 7*time.Second {
		t.Fatalf("retry after = %v", pe.RetryAfter)
	}
}

func TestCallServerErrorIsUnavailable(t *testing.T) {
	c := newServerClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := c.Call(context.Background(), llm.Request{Model: llm.ModelClaudeSonnet4, User: "x"})
	pe, ok := llm.AsProviderError(err)
	if !ok || pe.Kind != llm.KindUnavailable || !pe.Retryable {
		t.Fatalf("err = %v", err)
	}
}

func TestCallAuthErrorNotRetryable(t *testing.T) {
	c := newServerClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := c.Call(context.Background(), llm.Request{Model: llm.ModelClaudeHaiku, User: "x"})
	pe, ok := llm.AsProviderError(err)
	if !ok || pe.Kind != llm.KindAuth || pe.Retryable {
		t.Fatalf("err = %v", err)
	}
}

func TestCallUnknownModel(t *testing.T) {
	c := newServerClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request should reach the server")
	})

	_, err := c.Call(context.Background(), llm.Request{Model: "gpt-4-turbo", User: "x"})
	pe, ok := llm.AsProviderError(err)
	if !ok || pe.Kind != llm.KindUnavailable || pe.Retryable {
		t.Fatalf("err = %v", err)
	}
}

func TestCallCancelledContextPassesThrough(t *testing.T) {
	c := newServerClient(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Call(ctx, llm.Request{Model: llm.ModelClaudeHaiku, User: "x"})
	if err == nil {
		t.Fatal("expected error from cancelled context")
	}
	if _, ok := llm.AsProviderError(err); ok {
		t.Fatalf("cancellation must not be wrapped as a provider error: %v", err)
	}
}
