package llm

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrMissingAPIKey is returned when a provider needs a key and none is configured.
	ErrMissingAPIKey = errors.New("llm API key is required")
	// ErrUnsupportedProvider is returned for an unknown provider name.
	ErrUnsupportedProvider = errors.New("unsupported LLM provider")
	// ErrEmptyResponse is returned when a provider answers without any text.
	ErrEmptyResponse = errors.New("empty response from model")
)

// Client sends a single completion request to a language model provider.
type Client interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// CompletionRequest is a provider-neutral chat completion.
type CompletionRequest struct {
	System string
	Prompt string
}

// Config holds provider and categorizer settings.
type Config struct {
	Provider    string
	APIKey      string
	Model       string
	BaseURL     string // Overrides the provider endpoint, mostly for tests and proxies
	MaxRetries  int
	RetryDelay  time.Duration
	CacheTTL    time.Duration
	RateLimit   int // Requests per minute
	Temperature float64
	MaxTokens   int
}

func (c Config) temperature() float64 {
	if c.Temperature == 0 {
		return 0.1
	}
	return c.Temperature
}

func (c Config) maxTokens() int {
	if c.MaxTokens == 0 {
		return 2048
	}
	return c.MaxTokens
}
