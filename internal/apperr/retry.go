package apperr

import (
	"context"
	"time"
)

const (
	retryInitialDelay = 1 * time.Second
	retryMaxDelay     = 30 * time.Second
)

// Retry runs fn until it succeeds, returns a non-Transient error, or the
// attempt budget is spent. Delay doubles each attempt, capped at 30s.
// A spent budget converts the last Transient error into Fatal.
func Retry(ctx context.Context, attempts int, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}
	delay := retryInitialDelay
	var last error
	for i := 0; i < attempts; i++ {
		last = fn()
		if last == nil {
			return nil
		}
		if ClassOf(last) != ClassTransient {
			return last
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return Timeout("retry_interrupted", ctx.Err())
		case <-time.After(delay):
		}
		delay *= 2
		if delay > retryMaxDelay {
			delay = retryMaxDelay
		}
	}
	return Fatal("retries_exhausted", last)
}
