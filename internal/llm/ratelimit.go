package llm

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// rateLimiter is a token bucket sized to a per-minute request budget. Tokens
// live in a buffered channel so waiters block without polling.
type rateLimiter struct {
	tokens    chan struct{}
	stopCh    chan struct{}
	interval  time.Duration
	closeOnce sync.Once
}

// newRateLimiter creates a full bucket holding requestsPerMinute tokens.
func newRateLimiter(requestsPerMinute int) *rateLimiter {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 60
	}

	rl := &rateLimiter{
		tokens:   make(chan struct{}, requestsPerMinute),
		stopCh:   make(chan struct{}),
		interval: time.Minute / time.Duration(requestsPerMinute),
	}
	for i := 0; i < requestsPerMinute; i++ {
		rl.tokens <- struct{}{}
	}

	go rl.refill()

	return rl
}

// wait blocks until a token is available or the context is canceled.
func (rl *rateLimiter) wait(ctx context.Context) error {
	select {
	case <-rl.tokens:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("rate limiter canceled: %w", ctx.Err())
	}
}

// tryAcquire takes a token without blocking.
func (rl *rateLimiter) tryAcquire() bool {
	select {
	case <-rl.tokens:
		return true
	default:
		return false
	}
}

// available reports how many requests may start right now.
func (rl *rateLimiter) available() int {
	return len(rl.tokens)
}

func (rl *rateLimiter) refill() {
	ticker := time.NewTicker(rl.interval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stopCh:
			return
		case <-ticker.C:
			select {
			case rl.tokens <- struct{}{}:
			default:
			}
		}
	}
}

// Close stops the refill goroutine. It is safe to call more than once.
func (rl *rateLimiter) Close() {
	rl.closeOnce.Do(func() { close(rl.stopCh) })
}
