package ai

import (
	"context"
	"fmt"

	"github.com/abelbrown/arcana/internal/config"
)

const (
	openAIEndpoint = "https://api.openai.com/v1/chat/completions"
	ollamaEndpoint = "http://localhost:11434/v1/chat/completions"
)

// staticReading is what the offline provider says.
const staticReading = "The cards ask for patience. What you are building is sound, " +
	"but it needs one more season before it bears fruit."

// New builds the client described by cfg, wrapped in its rate limit.
func New(ctx context.Context, cfg config.AIConfig) (Client, error) {
	var c Client
	switch cfg.Provider {
	case "gemini":
		g, err := NewGeminiClient(ctx, cfg.APIKey, cfg.Model, cfg.MaxTokens)
		if err != nil {
			return nil, err
		}
		c = g
	case "openai":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("openai: no API key configured")
		}
		c = NewHTTPClient("openai", orDefault(cfg.Endpoint, openAIEndpoint), cfg.APIKey, orDefault(cfg.Model, "gpt-4o-mini"), cfg.MaxTokens)
	case "ollama":
		c = NewHTTPClient("ollama", orDefault(cfg.Endpoint, ollamaEndpoint), cfg.APIKey, orDefault(cfg.Model, "llama3.2"), cfg.MaxTokens)
	case "static", "":
		return Static{Text: staticReading}, nil
	default:
		return nil, fmt.Errorf("unknown AI provider %q", cfg.Provider)
	}
	return NewRateLimited(c, cfg.RateLimit, cfg.Burst), nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
