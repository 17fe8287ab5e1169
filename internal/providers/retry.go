package providers

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// RetryConfig bounds the outer retry loop around stream setup.
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxRetries: 3, BaseDelay: time.Second, MaxDelay: 30 * time.Second}
}

// Delay computes the wait before retry attempt (1-based): exponential with
// ±25% jitter, overridden by a server-supplied Retry-After when present.
func (c RetryConfig) Delay(attempt int, retryAfter time.Duration) time.Duration {
	if retryAfter > 0 {
		if retryAfter > c.MaxDelay {
			return c.MaxDelay
		}
		return retryAfter
	}
	d := c.BaseDelay << (attempt - 1)
	if d > c.MaxDelay {
		d = c.MaxDelay
	}
	jitter := time.Duration(rand.Int63n(int64(d)/2+1)) - d/4
	return d + jitter
}

// Retriable reports whether err is worth retrying: API errors flagged
// transient, and transport-level failures that never reached the server.
func Retriable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retriable()
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	// Connection-phase failures (dial, reset) surface as generic net errors.
	var tr interface{ Temporary() bool }
	if errors.As(err, &tr) {
		return tr.Temporary()
	}
	return false
}

// RetryAfterOf extracts the server-supplied backoff from err, 0 when absent.
func RetryAfterOf(err error) time.Duration {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.RetryAfter
	}
	return 0
}

// RetryDo runs fn with bounded retries on retriable errors, honoring ctx.
func RetryDo[T any](ctx context.Context, cfg RetryConfig, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error
	for attempt := 1; attempt <= cfg.MaxRetries+1; attempt++ {
		v, err := fn()
		if err == nil {
			return v, nil
		}
		lastErr = err
		if attempt > cfg.MaxRetries || !Retriable(err) {
			break
		}
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(cfg.Delay(attempt, RetryAfterOf(err))):
		}
	}
	return zero, lastErr
}
