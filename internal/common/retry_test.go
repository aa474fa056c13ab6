package common

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/statement-spice/internal/service"
)

func fastRetry(attempts int) service.RetryOptions {
	return service.RetryOptions{
		MaxAttempts:  attempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2,
	}
}

func TestWithRetry(t *testing.T) {
	transient := errors.New("connection reset")

	tests := []struct {
		name      string
		errs      []error
		attempts  int
		wantCalls int
		wantErr   error
	}{
		{
			name:      "succeeds first time",
			attempts:  3,
			wantCalls: 1,
		},
		{
			name:      "succeeds after transient failures",
			errs:      []error{transient, transient},
			attempts:  3,
			wantCalls: 3,
		},
		{
			name:      "exhausts attempts",
			errs:      []error{transient, transient, transient},
			attempts:  3,
			wantCalls: 3,
			wantErr:   ErrMaxRetries,
		},
		{
			name:      "permanent error stops immediately",
			errs:      []error{&RetryableError{Err: transient, Retryable: false}},
			attempts:  3,
			wantCalls: 1,
			wantErr:   transient,
		},
		{
			name:      "explicitly retryable error is retried",
			errs:      []error{&RetryableError{Err: transient, Retryable: true}},
			attempts:  3,
			wantCalls: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := WithRetry(context.Background(), func() error {
				calls++
				if calls <= len(tt.errs) {
					return tt.errs[calls-1]
				}
				return nil
			}, fastRetry(tt.attempts))

			assert.Equal(t, tt.wantCalls, calls)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestWithRetryKeepsLastError(t *testing.T) {
	cause := errors.New("bad gateway")
	err := WithRetry(context.Background(), func() error { return cause }, fastRetry(2))

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMaxRetries)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "after 2 attempts")
}

func TestWithRetryContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	err := WithRetry(ctx, func() error {
		calls++
		cancel()
		return errors.New("timeout")
	}, service.RetryOptions{MaxAttempts: 5, InitialDelay: time.Second})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestWithRetryDefaults(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), func() error {
		calls++
		return &RetryableError{Err: errors.New("nope"), Retryable: false}
	}, service.RetryOptions{})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, "nope", err.Error())
}
