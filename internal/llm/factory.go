package llm

import (
	"context"
	"fmt"
	"strings"
)

// Provider names accepted by NewClient.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
)

// NewClient creates a provider client from configuration.
func NewClient(ctx context.Context, cfg Config) (Client, error) {
	var client Client
	var err error

	switch strings.ToLower(cfg.Provider) {
	case ProviderOpenAI:
		client, err = newOpenAIClient(cfg)
	case ProviderAnthropic:
		client, err = newAnthropicClient(cfg)
	case ProviderGemini:
		client, err = newGeminiClient(ctx, cfg)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProvider, cfg.Provider)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to create %s client: %w", cfg.Provider, err)
	}
	return client, nil
}
