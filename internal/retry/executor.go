// Package retry wraps a single request/response or request/stream exchange
// with bounded, classifier-gated retry and exponential backoff.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/modelbridge-ai/modelbridge/pkg/metrics"
)

// Policy configures the executor. Delay grows by the same multiplier each
// attempt; the attempt count is capped.
type Policy struct {
	// MaxAttempts includes the initial attempt. Values below 1 are treated
	// as 1.
	MaxAttempts int

	BaseDelay  time.Duration
	Multiplier float64
	MaxDelay   time.Duration
}

// DefaultPolicy returns the tuned defaults: 3 attempts, 500ms base delay
// doubling up to 8s.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		Multiplier:  2.0,
		MaxDelay:    8 * time.Second,
	}
}

// Classifier reports whether a failure is transient and safe to retry.
type Classifier func(error) bool

// ErrCanceled is returned when the caller's context aborts the exchange,
// distinct from retry exhaustion.
var ErrCanceled = errors.New("retry: canceled")

// Result reports how an execution concluded.
type Result struct {
	Attempts int
}

// Executor retries transient failures with exponential backoff. Malformed
// input, auth and config failures are surfaced immediately; cancellation
// aborts between or during attempts.
type Executor struct {
	policy   Policy
	classify Classifier
}

// NewExecutor creates an executor. A nil classifier retries nothing.
func NewExecutor(policy Policy, classify Classifier) *Executor {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	if policy.Multiplier <= 0 {
		policy.Multiplier = 2.0
	}
	if classify == nil {
		classify = func(error) bool { return false }
	}
	return &Executor{policy: policy, classify: classify}
}

// Execute runs op until it succeeds, a non-retryable failure occurs, the
// attempt cap is reached, or ctx is canceled. The returned Result carries the
// attempt count in every outcome.
func (e *Executor) Execute(ctx context.Context, op func(context.Context) error) (Result, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.policy.BaseDelay
	b.Multiplier = e.policy.Multiplier
	b.MaxInterval = e.policy.MaxDelay
	b.MaxElapsedTime = 0
	// Delays follow the configured multiplier exactly, no jitter.
	b.RandomizationFactor = 0
	b.Reset()

	var attempts int
	wrapped := func() error {
		attempts++
		err := op(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return backoff.Permanent(ErrCanceled)
		}
		if !e.classify(err) {
			return backoff.Permanent(err)
		}
		metrics.RetryAttempts.Inc()
		return err
	}

	err := backoff.Retry(wrapped,
		backoff.WithContext(backoff.WithMaxRetries(b, uint64(e.policy.MaxAttempts-1)), ctx))

	if err != nil {
		if errors.Is(err, ErrCanceled) || ctx.Err() != nil {
			return Result{Attempts: attempts}, ErrCanceled
		}
		return Result{Attempts: attempts}, err
	}
	return Result{Attempts: attempts}, nil
}
