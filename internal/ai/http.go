package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/abelbrown/arcana/internal/logging"
)

var _ Client = (*HTTPClient)(nil)

// HTTPClient talks to an OpenAI-compatible chat-completions endpoint. That
// covers OpenAI itself and Ollama's /v1/chat/completions.
type HTTPClient struct {
	name      string
	endpoint  string
	apiKey    string
	model     string
	maxTokens int
	client    *http.Client
}

// NewHTTPClient creates a client. apiKey may be empty for local servers.
func NewHTTPClient(name, endpoint, apiKey, model string, maxTokens int) *HTTPClient {
	if maxTokens <= 0 {
		maxTokens = 512
	}
	return &HTTPClient{
		name:      name,
		endpoint:  endpoint,
		apiKey:    apiKey,
		model:     model,
		maxTokens: maxTokens,
		// Callers bound each attempt with their own deadline; this is a backstop.
		client: &http.Client{Timeout: 2 * time.Minute},
	}
}

// Name returns the provider name for logging.
func (c *HTTPClient) Name() string {
	return c.name
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type errorBody struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *HTTPClient) GetSpreadInsight(ctx context.Context, req Request) (*Response, error) {
	prompt := BuildPrompt(req)
	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: prompt.System},
			{Role: "user", Content: prompt.User},
		},
		MaxTokens: c.maxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	logging.Debug("insight request", "provider", c.name, "model", c.model, "interest", req.Interest, "cards", len(req.Cards))

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		logging.Error("insight API error", "provider", c.name, "status", resp.StatusCode, "body", truncate(string(respBody), 300))
		return nil, &APIError{Status: resp.StatusCode, Message: errorMessage(respBody)}
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return nil, nil
	}
	text := strings.TrimSpace(parsed.Choices[0].Message.Content)
	if text == "" {
		return nil, nil
	}

	logging.Debug("insight response", "provider", c.name, "model", parsed.Model, "content_len", len(text))
	return &Response{Description: text, Model: parsed.Model}, nil
}

// errorMessage prefers the provider's {"error":{"message":...}} text and
// falls back to the raw body.
func errorMessage(body []byte) string {
	var eb errorBody
	if json.Unmarshal(body, &eb) == nil && eb.Error.Message != "" {
		return eb.Error.Message
	}
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		return "empty error response"
	}
	return truncate(msg, 200)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
