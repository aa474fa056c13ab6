package llm

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"
)

const defaultGeminiModel = "gemini-2.5-flash"

// geminiClient implements Client on the Google GenAI SDK.
type geminiClient struct {
	client      *genai.Client
	model       string
	temperature float32
	maxTokens   int32
}

func newGeminiClient(ctx context.Context, cfg Config) (Client, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}

	model := cfg.Model
	if model == "" {
		model = defaultGeminiModel
	}

	clientConfig := &genai.ClientConfig{
		APIKey:      cfg.APIKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{APIVersion: "v1beta"},
	}
	if cfg.BaseURL != "" {
		clientConfig.HTTPOptions.BaseURL = cfg.BaseURL
	}

	client, err := genai.NewClient(ctx, clientConfig)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	return &geminiClient{
		client:      client,
		model:       model,
		temperature: float32(cfg.temperature()),
		maxTokens:   int32(cfg.maxTokens()),
	}, nil
}

// Complete generates content for a single user prompt.
func (c *geminiClient) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	contents := []*genai.Content{
		{
			Role:  "user",
			Parts: []*genai.Part{{Text: req.Prompt}},
		},
	}

	config := &genai.GenerateContentConfig{
		Temperature:      genai.Ptr(c.temperature),
		MaxOutputTokens:  c.maxTokens,
		ResponseMIMEType: "application/json",
	}
	if req.System != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.System}}}
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, config)
	if err != nil {
		return "", classifyGeminiError(err)
	}

	text := resp.Text()
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

func classifyGeminiError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return statusError("gemini", apiErr.Code, apiErr.Message)
	}
	return fmt.Errorf("gemini request failed: %w", err)
}
