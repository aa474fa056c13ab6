package common

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Veraticus/statement-spice/internal/service"
)

var (
	// ErrRateLimit indicates that the API rate limit has been exceeded.
	ErrRateLimit = errors.New("rate limit exceeded")
	// ErrMaxRetries indicates that all retry attempts have been exhausted.
	ErrMaxRetries = errors.New("max retries exceeded")
)

// RetryableError marks whether an error is worth another attempt. Errors
// without this wrapper are retried.
type RetryableError struct {
	Err       error
	Retryable bool
}

func (e *RetryableError) Error() string {
	return e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

func isPermanent(err error) bool {
	var retryableErr *RetryableError
	return errors.As(err, &retryableErr) && !retryableErr.Retryable
}

func retryDefaults(opts service.RetryOptions) service.RetryOptions {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.InitialDelay <= 0 {
		opts.InitialDelay = 100 * time.Millisecond
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = 30 * time.Second
	}
	if opts.Multiplier <= 0 {
		opts.Multiplier = 2.0
	}
	return opts
}

// WithRetry runs operation until it succeeds, returns a permanent
// RetryableError, ctx ends or MaxAttempts is reached. The delay grows by
// Multiplier after every attempt; a rate-limit error waits MaxDelay instead.
func WithRetry(ctx context.Context, operation func() error, opts service.RetryOptions) error {
	opts = retryDefaults(opts)
	delay := opts.InitialDelay

	for attempt := 1; ; attempt++ {
		err := operation()
		switch {
		case err == nil:
			return nil
		case isPermanent(err):
			return err
		case attempt >= opts.MaxAttempts:
			return fmt.Errorf("%w after %d attempts: %w", ErrMaxRetries, opts.MaxAttempts, err)
		}

		wait := delay
		if errors.Is(err, ErrRateLimit) {
			wait = opts.MaxDelay
		}

		slog.Warn("Operation failed, retrying",
			"attempt", attempt,
			"max_attempts", opts.MaxAttempts,
			"delay", wait,
			"error", err)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay = min(time.Duration(float64(delay)*opts.Multiplier), opts.MaxDelay)
	}
}
