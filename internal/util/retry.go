package util

import (
	"context"
	"fmt"
	"time"
)

// maxBackoff caps a single wait so an exhausted retry run has a bounded
// total duration.
const maxBackoff = 30 * time.Second

// RetryWithBackoff calls fn up to maxRetries+1 times with exponential
// backoff starting at baseDelay. fn receives the current attempt number
// (0-indexed) and should return nil on success. If the context is
// cancelled the context error is returned immediately.
func RetryWithBackoff(ctx context.Context, maxRetries int, baseDelay time.Duration, fn func(attempt int) error) error {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		lastErr = fn(attempt)
		if lastErr == nil {
			return nil
		}

		// Don't wait after the last attempt
		if attempt == maxRetries {
			break
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		backoff := baseDelay * time.Duration(1<<attempt)
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return fmt.Errorf("failed after %d retries: %w", maxRetries, lastErr)
}
