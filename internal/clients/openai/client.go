package openai

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

var defaultModelIDs = map[string]string{
	llm.ModelGPT4Turbo:  "gpt-4-turbo",
	llm.ModelGPT4Vision: "gpt-4-turbo", // vision merged into turbo upstream; kept as a distinct billing name
}

// Client adds embeddings on top of the provider-agnostic llm.Client surface.
type Client interface {
	llm.Client
	Embed(ctx context.Context, inputs []string) ([][]float32, error)
}

type client struct {
	log        *logger.Logger
	baseURL    string
	apiKey     string
	embedModel string
	httpClient *http.Client
	modelIDs   map[string]string
}

func NewClient(log *logger.Logger) (Client, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	apiKey := strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	if apiKey == "" {
		return nil, fmt.Errorf("missing OPENAI_API_KEY")
	}
	baseURL := strings.TrimSpace(os.Getenv("OPENAI_BASE_URL"))
	if baseURL == "" {
		baseURL = "https://api.openai.com"
	}
	baseURL = strings.TrimRight(baseURL, "/")

	embed := strings.TrimSpace(os.Getenv("OPENAI_EMBED_MODEL"))
	if embed == "" {
		embed = "text-embedding-3-small"
	}

	return &client{
		log:        log.With("service", "OpenAIClient"),
		baseURL:    baseURL,
		apiKey:     apiKey,
		embedModel: embed,
		httpClient: &http.Client{Timeout: 120 * time.Second},
		modelIDs:   defaultModelIDs,
	}, nil
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func (c *client) Call(ctx context.Context, req llm.Request) (*llm.Response, error) {
	wireModel, ok := c.modelIDs[strings.ToLower(strings.TrimSpace(req.Model))]
	if !ok {
		return nil, &llm.ProviderError{
			Provider:  "openai",
			Model:     req.Model,
			Kind:      llm.KindUnavailable,
			Retryable: false,
			Message:   fmt.Sprintf("unknown model %q", req.Model),
		}
	}

	messages := make([]chatMessage, 0, 2)
	if strings.TrimSpace(req.System) != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.User})

	body := chatRequest{
		Model:     wireModel,
		Messages:  messages,
		MaxTokens: req.MaxTokens,
	}
	if req.Temperature > 0 {
		t := req.Temperature
		body.Temperature = &t
	}

	resp, raw, err := c.doOnce(ctx, http.MethodPost, "/v1/chat/completions", body)
	if err != nil {
		return nil, c.wrapError(req.Model, resp, err)
	}

	var out chatResponse
	if uErr := json.Unmarshal(raw, &out); uErr != nil {
		return nil, fmt.Errorf("openai decode error: %w; raw=%s", uErr, truncate(string(raw), 512))
	}
	if len(out.Choices) == 0 {
		return nil, fmt.Errorf("openai response has no choices")
	}

	return &llm.Response{
		Content:      out.Choices[0].Message.Content,
		Model:        req.Model,
		InputTokens:  out.Usage.PromptTokens,
		OutputTokens: out.Usage.CompletionTokens,
		StopReason:   out.Choices[0].FinishReason,
	}, nil
}

type embeddingsRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingsResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

func (c *client) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	if len(inputs) == 0 {
		return [][]float32{}, nil
	}
	resp, raw, err := c.doOnce(ctx, http.MethodPost, "/v1/embeddings", embeddingsRequest{
		Model: c.embedModel,
		Input: inputs,
	})
	if err != nil {
		return nil, c.wrapError(c.embedModel, resp, err)
	}
	var out embeddingsResponse
	if uErr := json.Unmarshal(raw, &out); uErr != nil {
		return nil, fmt.Errorf("openai embeddings decode error: %w", uErr)
	}
	vectors := make([][]float32, len(inputs))
	for _, d := range out.Data {
		if d.Index < 0 || d.Index >= len(inputs) {
			continue
		}
		vec := make([]float32, len(d.Embedding))
		for i, f := range d.Embedding {
			vec[i] = float32(f)
		}
		vectors[d.Index] = vec
	}
	for i, v := range vectors {
		if v == nil {
			return nil, fmt.Errorf("openai embeddings missing index %d: requested=%d returned=%d", i, len(inputs), len(out.Data))
		}
	}
	return vectors, nil
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
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
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
		return resp, raw, fmt.Errorf("openai http %d: %s", resp.StatusCode, truncate(string(raw), 512))
	}
	return resp, raw, nil
}

func (c *client) wrapError(model string, resp *http.Response, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &llm.ProviderError{
			Provider:  "openai",
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
			Provider:  "openai",
			Model:     model,
			Kind:      llm.KindUnavailable,
			Retryable: true,
			Message:   err.Error(),
		}
	}
	kind, retryable := llm.KindForStatus(resp.StatusCode)
	pe := &llm.ProviderError{
		Provider:   "openai",
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
