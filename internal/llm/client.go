// Package llm is the model access layer: an OpenAI-compatible chat client
// with per-role model selection and JSON Schema validation for structured
// stage outputs.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	otelpkg "github.com/basket/llamia/internal/otel"
)

// Message is one chat turn sent to the model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Client is the model interface stages depend on. Role selects the backend
// model via the per-role table; unknown roles fall back to the chat model.
type Client interface {
	Chat(ctx context.Context, role string, msgs []Message) (string, error)
}

// HTTPClient talks to any OpenAI-compatible /v1/chat/completions endpoint.
type HTTPClient struct {
	cfg     Config
	http    *http.Client
	logger  *slog.Logger
	metrics *otelpkg.Metrics
}

// NewHTTPClient creates a client. logger nil falls back to slog.Default();
// metrics may be nil.
func NewHTTPClient(cfg Config, logger *slog.Logger, metrics *otelpkg.Metrics) *HTTPClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPClient{
		cfg:     cfg,
		http:    &http.Client{Timeout: 120 * time.Second},
		logger:  logger,
		metrics: metrics,
	}
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Chat sends the conversation to the role's model and returns the assistant
// text. Errors are returned, never swallowed; the caller decides whether a
// degraded reply is acceptable.
func (c *HTTPClient) Chat(ctx context.Context, role string, msgs []Message) (string, error) {
	model := c.cfg.ModelFor(role)
	baseURL := c.cfg.baseURLFor(model)

	apiKey := os.Getenv(c.cfg.apiKeyEnvFor(model))
	if apiKey == "" {
		if model.Provider == ProviderOpenAI {
			return "", fmt.Errorf("missing API key: env var %s is not set for provider %q", c.cfg.apiKeyEnvFor(model), ProviderOpenAI)
		}
		// Compatible servers ignore the key but the header must be present.
		apiKey = "dummy"
	}

	body, err := json.Marshal(chatRequest{
		Model:       model.Model,
		Messages:    msgs,
		Temperature: model.Temperature,
		MaxTokens:   model.MaxOutputTokens,
	})
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	start := time.Now()
	resp, err := c.http.Do(req)
	if c.metrics != nil {
		c.metrics.LLMCallDuration.Record(ctx, time.Since(start).Seconds(),
			metric.WithAttributes(attribute.String("role", role), attribute.String("model", model.Model)))
	}
	if err != nil {
		return "", fmt.Errorf("chat completion for role %q: %w", role, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", fmt.Errorf("read chat response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("chat completion for role %q: status %d: %s", role, resp.StatusCode, truncateForError(raw))
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("decode chat response: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("chat completion for role %q: %s", role, parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("chat completion for role %q: empty choices", role)
	}

	c.logger.Debug("chat completion", "role", role, "model", model.Model,
		"messages", len(msgs), "duration_ms", time.Since(start).Milliseconds())
	return parsed.Choices[0].Message.Content, nil
}

func truncateForError(raw []byte) string {
	const max = 300
	if len(raw) <= max {
		return string(raw)
	}
	return string(raw[:max]) + "..."
}
