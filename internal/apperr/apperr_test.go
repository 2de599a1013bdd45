package apperr

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestClassOfConstructors(t *testing.T) {
	cases := []struct {
		err  error
		want Class
	}{
		{Validationf("bad_param", "limit %d out of range", 99), ClassValidation},
		{NotFoundf("missing", "video %s", "abc"), ClassNotFound},
		{Conflictf("dup", "path already registered"), ClassConflict},
		{Transientf("io_reset", "read %s: reset", "f.mp4"), ClassTransient},
		{Fatalf("corrupt", "bad container"), ClassFatal},
		{Timeoutf("deadline", "task exceeded %ds", 30), ClassTimeout},
	}
	for _, c := range cases {
		if got := ClassOf(c.err); got != c.want {
			t.Fatalf("ClassOf(%v) = %s, want %s", c.err, got, c.want)
		}
		if !Is(c.err, c.want) {
			t.Fatalf("Is(%v, %s) should hold", c.err, c.want)
		}
	}

	// Wrapped classified errors keep their class; bare errors default to fatal.
	wrapped := fmt.Errorf("while executing: %w", Transientf("io", "oops"))
	if !Is(wrapped, ClassTransient) {
		t.Fatalf("wrapped transient lost its class")
	}
	if ClassOf(errors.New("plain")) != ClassFatal {
		t.Fatalf("unclassified errors must default to fatal")
	}
}

func TestRetryStopsOnNonTransient(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), 5, func() error {
		calls++
		return Validationf("bad", "no retry for this")
	})
	if calls != 1 {
		t.Fatalf("non-transient error must not be retried, got %d calls", calls)
	}
	if !Is(err, ClassValidation) {
		t.Fatalf("original class must pass through, got %v", err)
	}
}

func TestRetryExhaustionBecomesFatal(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), 1, func() error {
		calls++
		return Transientf("flaky", "attempt %d", calls)
	})
	if calls != 1 {
		t.Fatalf("budget of 1 means a single attempt, got %d", calls)
	}
	if !Is(err, ClassFatal) {
		t.Fatalf("spent budget must convert transient to fatal, got %v", err)
	}
}

func TestRetrySucceedsAfterTransient(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), 3, func() error {
		calls++
		if calls < 2 {
			return Transientf("flaky", "attempt %d", calls)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("retry should succeed on second attempt: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 attempts, got %d", calls)
	}
}

func TestRetryHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Retry(ctx, 3, func() error {
		return Transientf("flaky", "never settles")
	})
	if !Is(err, ClassTimeout) {
		t.Fatalf("cancelled context must interrupt the backoff, got %v", err)
	}
}
