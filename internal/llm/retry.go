package llm

import (
	"context"
	"fmt"
	"time"
)

// RetryConfig defines retry behavior for provider calls.
type RetryConfig struct {
	// Attempts is the number of retries after the first call (0 = none).
	Attempts int
	// BaseDelay is the first backoff delay.
	BaseDelay time.Duration
	// MaxDelay caps the exponential backoff.
	MaxDelay time.Duration
}

// DefaultRetryConfig returns the defaults: 2 retries, 1s base, 5s cap.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		Attempts:  2,
		BaseDelay: time.Second,
		MaxDelay:  5 * time.Second,
	}
}

// Backoff returns the delay before retry n (1-based):
// min(base * 2^(n-1), cap).
func (c RetryConfig) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := c.BaseDelay << (attempt - 1)
	if delay > c.MaxDelay || delay <= 0 {
		delay = c.MaxDelay
	}
	return delay
}

// Retryer runs an operation with exponential backoff. Only errors whose kind
// is retryable (rate_limited, timeout, transport) are retried;
// invalid_response and circuit_open fail immediately.
type Retryer struct {
	config RetryConfig
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewRetryer creates a retryer with the given config.
func NewRetryer(config RetryConfig) *Retryer {
	return &Retryer{config: config, sleep: sleepCtx}
}

// Do runs fn until it succeeds, exhausts the attempts, or hits a
// non-retryable error.
func (r *Retryer) Do(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= r.config.Attempts; attempt++ {
		if attempt > 0 {
			if err := r.sleep(ctx, r.config.Backoff(attempt)); err != nil {
				return fmt.Errorf("retry cancelled: %w", err)
			}
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !KindOf(lastErr).Retryable() {
			return lastErr
		}
		if ctx.Err() != nil {
			return lastErr
		}
	}
	return lastErr
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
