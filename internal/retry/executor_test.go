package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errTransient = errors.New("upstream hiccup")

func isTransient(err error) bool {
	return errors.Is(err, errTransient)
}

func fastPolicy(maxAttempts int) Policy {
	return Policy{
		MaxAttempts: maxAttempts,
		BaseDelay:   time.Millisecond,
		Multiplier:  2.0,
		MaxDelay:    5 * time.Millisecond,
	}
}

func TestExecuteAlwaysTransientHitsAttemptCap(t *testing.T) {
	exec := NewExecutor(fastPolicy(3), isTransient)

	var calls int
	res, err := exec.Execute(context.Background(), func(context.Context) error {
		calls++
		return errTransient
	})
	if !errors.Is(err, errTransient) {
		t.Fatalf("expected the last failure, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("op called %d times, want exactly 3", calls)
	}
	if res.Attempts != 3 {
		t.Fatalf("result reports %d attempts, want 3", res.Attempts)
	}
}

func TestExecuteSucceedsMidway(t *testing.T) {
	exec := NewExecutor(fastPolicy(5), isTransient)

	var calls int
	res, err := exec.Execute(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errTransient
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Attempts != 3 {
		t.Fatalf("attempts = %d, want 3", res.Attempts)
	}
}

func TestExecuteNonRetryableFailsImmediately(t *testing.T) {
	exec := NewExecutor(fastPolicy(5), isTransient)
	fatal := errors.New("malformed request")

	var calls int
	res, err := exec.Execute(context.Background(), func(context.Context) error {
		calls++
		return fatal
	})
	if !errors.Is(err, fatal) {
		t.Fatalf("expected the original error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("non-retryable failure must not be retried, got %d calls", calls)
	}
	if res.Attempts != 1 {
		t.Fatalf("attempts = %d, want 1", res.Attempts)
	}
}

func TestExecuteCancellationDuringAttempt(t *testing.T) {
	exec := NewExecutor(fastPolicy(5), isTransient)
	ctx, cancel := context.WithCancel(context.Background())

	var calls int
	_, err := exec.Execute(ctx, func(context.Context) error {
		calls++
		cancel()
		return errTransient
	})
	if !errors.Is(err, ErrCanceled) {
		t.Fatalf("expected ErrCanceled, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("canceled exchange must not be retried, got %d calls", calls)
	}
}

func TestExecuteCancellationBeforeFirstAttempt(t *testing.T) {
	exec := NewExecutor(fastPolicy(3), isTransient)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := exec.Execute(ctx, func(context.Context) error {
		return errTransient
	})
	if !errors.Is(err, ErrCanceled) {
		t.Fatalf("expected ErrCanceled, got %v", err)
	}
}

func TestExecuteNilClassifierRetriesNothing(t *testing.T) {
	exec := NewExecutor(fastPolicy(5), nil)

	var calls int
	_, err := exec.Execute(context.Background(), func(context.Context) error {
		calls++
		return errTransient
	})
	if err == nil || calls != 1 {
		t.Fatalf("nil classifier must fail fast: err=%v calls=%d", err, calls)
	}
}

func TestExecuteSingleAttemptPolicy(t *testing.T) {
	exec := NewExecutor(fastPolicy(1), isTransient)

	var calls int
	_, err := exec.Execute(context.Background(), func(context.Context) error {
		calls++
		return errTransient
	})
	if !errors.Is(err, errTransient) {
		t.Fatalf("expected failure, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("MaxAttempts=1 must call exactly once, got %d", calls)
	}
}
