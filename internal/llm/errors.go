package llm

import (
	"fmt"
	"net/http"

	"github.com/Veraticus/statement-spice/internal/common"
)

// statusError maps a provider HTTP status onto the retry vocabulary used by
// common.WithRetry: 429 backs off for the maximum delay, other 4xx responses
// are not worth retrying and 5xx responses are.
func statusError(provider string, status int, body string) error {
	switch {
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%s API: %w", provider, common.ErrRateLimit)
	case status >= 400 && status < 500:
		return &common.RetryableError{
			Err:       fmt.Errorf("%s API error (status %d): %s", provider, status, body),
			Retryable: false,
		}
	default:
		return fmt.Errorf("%s API error (status %d): %s", provider, status, body)
	}
}
