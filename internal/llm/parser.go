package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedResponse is returned when the model output is not the expected JSON.
var ErrMalformedResponse = errors.New("malformed categorization response")

// batchAnswer is one element of the JSON array the model returns.
type batchAnswer struct {
	ID          int    `json:"id"`
	Description string `json:"description"`
	Category    string `json:"category"`
	Reason      string `json:"reason,omitempty"`
}

// cleanMarkdownWrapper strips code fences and any prose around the JSON payload.
func cleanMarkdownWrapper(raw string) string {
	s := strings.TrimSpace(raw)

	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		}
		if idx := strings.LastIndex(s, "```"); idx != -1 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}

	start := strings.IndexAny(s, "[{")
	if start > 0 {
		s = s[start:]
	}
	if end := strings.LastIndexAny(s, "]}"); end != -1 && end < len(s)-1 {
		s = s[:end+1]
	}
	return s
}

// parseBatchResponse accepts either a bare array of answers or an object
// wrapping it under "results", which some models prefer in JSON mode.
func parseBatchResponse(content string) ([]batchAnswer, error) {
	cleaned := cleanMarkdownWrapper(content)
	if cleaned == "" {
		return nil, ErrEmptyResponse
	}

	var answers []batchAnswer
	if strings.HasPrefix(cleaned, "[") {
		if err := json.Unmarshal([]byte(cleaned), &answers); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
		}
		return answers, nil
	}

	var wrapped struct {
		Results []batchAnswer `json:"results"`
	}
	if err := json.Unmarshal([]byte(cleaned), &wrapped); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}
	if wrapped.Results == nil {
		return nil, fmt.Errorf("%w: missing results array", ErrMalformedResponse)
	}
	return wrapped.Results, nil
}
