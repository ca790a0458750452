package providers

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// RetryConfig bounds the retry loop for provider calls.
type RetryConfig struct {
	MaxAttempts int           // total attempts including the first
	BaseDelay   time.Duration // initial backoff, doubled per attempt
	MaxDelay    time.Duration // per-wait ceiling
	MaxElapsed  time.Duration // total wall-clock budget across attempts
}

// DefaultRetryConfig matches the provider call budget: up to 3 attempts
// within 30 seconds, exponential backoff starting at one second.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    10 * time.Second,
		MaxElapsed:  30 * time.Second,
	}
}

// RetryDo runs fn with exponential backoff for transient transport errors.
// Auth, quota and rate-limit failures are returned immediately; an
// HTTPError's Retry-After hint, when present, overrides the computed delay.
func RetryDo[T any](ctx context.Context, cfg RetryConfig, fn func() (T, error)) (T, error) {
	var zero T
	start := time.Now()
	delay := cfg.BaseDelay

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !Retryable(err) {
			return zero, err
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		wait := delay
		var httpErr *HTTPError
		if errors.As(err, &httpErr) && httpErr.RetryAfter > 0 {
			wait = httpErr.RetryAfter
		}
		if wait > cfg.MaxDelay {
			wait = cfg.MaxDelay
		}
		if cfg.MaxElapsed > 0 && time.Since(start)+wait > cfg.MaxElapsed {
			break
		}

		slog.Debug("provider call retrying", "attempt", attempt, "wait", wait, "error", err)

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(wait):
		}
		delay *= 2
	}

	return zero, lastErr
}
