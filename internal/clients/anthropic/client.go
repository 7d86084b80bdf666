package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/conceptmesh/backend/internal/llm"
	"github.com/conceptmesh/backend/internal/platform/httpx"
	"github.com/conceptmesh/backend/internal/platform/logger"
)

const apiVersion = "2023-06-01"

// Wire model ids for the short names the core uses. Overridable via env so a
// newer snapshot can be rolled out without a deploy.
var defaultModelIDs = map[string]string{
	llm.ModelClaudeHaiku:   "claude-3-5-haiku-latest",
	llm.ModelClaudeSonnet4: "claude-sonnet-4-20250514",
}

type client struct {
	log        *logger.Logger
	baseURL    string
	apiKey     string
	httpClient *http.Client
	modelIDs   map[string]string
}

func NewClient(log *logger.Logger) (llm.Client, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	apiKey := strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY"))
	if apiKey == "" {
		return nil, fmt.Errorf("missing ANTHROPIC_API_KEY")
	}
	baseURL := strings.TrimSpace(os.Getenv("ANTHROPIC_BASE_URL"))
	if baseURL == "" {
		baseURL = "https://api.anthropic.com"
	}
	baseURL = strings.TrimRight(baseURL, "/")

	modelIDs := map[string]string{}
	for short, def := range defaultModelIDs {
		modelIDs[short] = def
	}
	if v := strings.TrimSpace(os.Getenv("ANTHROPIC_HAIKU_MODEL")); v != "" {
		modelIDs[llm.ModelClaudeHaiku] = v
	}
	if v := strings.TrimSpace(os.Getenv("ANTHROPIC_SONNET_MODEL")); v != "" {
		modelIDs[llm.ModelClaudeSonnet4] = v
	}

	return &client{
		log:        log.With("service", "AnthropicClient"),
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 120 * time.Second},
		modelIDs:   modelIDs,
	}, nil
}

type messagesRequest struct {
	Model       string    `json:"model"`
	System      string    `json:"system,omitempty"`
	Messages    []message `json:"messages"`
	Temperature *float64  `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Model      string `json:"model"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func (c *client) Call(ctx context.Context, req llm.Request) (*llm.Response, error) {
	wireModel, ok := c.modelIDs[strings.ToLower(strings.TrimSpace(req.Model))]
	if !ok {
		return nil, &llm.ProviderError{
			Provider:  "anthropic",
			Model:     req.Model,
			Kind:      llm.KindUnavailable,
			Retryable: false,
			Message:   fmt.Sprintf("unknown model %q", req.Model),
		}
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	body := messagesRequest{
		Model:     wireModel,
		System:    req.System,
		Messages:  []message{{Role: "user", Content: req.User}},
		MaxTokens: maxTokens,
	}
	if req.Temperature > 0 {
		t := req.Temperature
		body.Temperature = &t
	}

	resp, raw, err := c.doOnce(ctx, http.MethodPost, "/v1/messages", body)
	if err != nil {
		return nil, c.wrapError(req.Model, resp, err)
	}

	var out messagesResponse
	if uErr := json.Unmarshal(raw, &out); uErr != nil {
		return nil, fmt.Errorf("anthropic decode error: %w; raw=%s", uErr, truncate(string(raw), 512))
	}

	var sb strings.Builder
	for _, block := range out.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}

	return &llm.Response{
		Content:      sb.String(),
		Model:        req.Model,
		InputTokens:  out.Usage.InputTokens,
		OutputTokens: out.Usage.OutputTokens,
		StopReason:   out.StopReason,
	}, nil
}

func (c *client) doOnce(ctx context.Context, method, path string, body any) (*http.Response, []byte, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &buf)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", apiVersion)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}

	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return resp, nil, readErr
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp, raw, fmt.Errorf("anthropic http %d: %s", resp.StatusCode, truncate(string(raw), 512))
	}
	return resp, raw, nil
}

func (c *client) wrapError(model string, resp *http.Response, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &llm.ProviderError{
			Provider:  "anthropic",
			Model:     model,
			Kind:      llm.KindTimeout,
			Retryable: true,
			Message:   err.Error(),
		}
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if resp == nil {
		return &llm.ProviderError{
			Provider:  "anthropic",
			Model:     model,
			Kind:      llm.KindUnavailable,
			Retryable: true,
			Message:   err.Error(),
		}
	}
	kind, retryable := llm.KindForStatus(resp.StatusCode)
	pe := &llm.ProviderError{
		Provider:   "anthropic",
		Model:      model,
		StatusCode: resp.StatusCode,
		Kind:       kind,
		Retryable:  retryable,
		Message:    err.Error(),
	}
	if kind == llm.KindRateLimited {
		pe.RetryAfter = httpx.RetryAfterDuration(resp, 0, 60*time.Second)
	}
	return pe
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
