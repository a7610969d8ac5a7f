package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/abelbrown/arcana/internal/logging"
)

var _ Client = (*GeminiClient)(nil)

// GeminiClient asks Gemini through the Google GenAI SDK.
type GeminiClient struct {
	client    *genai.Client
	model     string
	maxTokens int32
}

// NewGeminiClient creates a client for the Gemini API.
func NewGeminiClient(ctx context.Context, apiKey, model string, maxTokens int) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, errors.New("gemini: no API key configured")
	}
	if model == "" {
		model = "gemini-2.5-flash"
	}
	if maxTokens <= 0 {
		maxTokens = 512
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &GeminiClient{client: client, model: model, maxTokens: int32(maxTokens)}, nil
}

func (g *GeminiClient) GetSpreadInsight(ctx context.Context, req Request) (*Response, error) {
	prompt := BuildPrompt(req)
	logging.Debug("gemini insight request", "model", g.model, "interest", req.Interest, "cards", len(req.Cards))

	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt.User), &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(prompt.System, genai.RoleUser),
		MaxOutputTokens:   g.maxTokens,
	})
	if err != nil {
		if apiErr := asGenAIError(err); apiErr != nil {
			logging.Error("gemini API error", "status", apiErr.Status, "message", apiErr.Message)
			return nil, apiErr
		}
		return nil, fmt.Errorf("gemini request: %w", err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return nil, nil
	}
	return &Response{Description: text, Model: g.model}, nil
}

// asGenAIError converts the SDK's error type, whichever form it is returned
// in, into an *APIError.
func asGenAIError(err error) *APIError {
	var byValue genai.APIError
	if errors.As(err, &byValue) {
		return &APIError{Status: byValue.Code, Message: byValue.Message}
	}
	var byPointer *genai.APIError
	if errors.As(err, &byPointer) && byPointer != nil {
		return &APIError{Status: byPointer.Code, Message: byPointer.Message}
	}
	return nil
}
