package qshard

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"
)

/*
RetryPolicy bounds how often setup steps such as dialling a peer are tried.
Nothing inside a run is ever retried: a failed exchange or collective leaves
the shards inconsistent and aborts the run.
*/
type RetryPolicy struct {
	MaxAttempts int
	Strategy    RetryStrategy
	Filter      func(error) bool
}

// RetryStrategy defines the interface for retry behavior
type RetryStrategy interface {
	NextDelay(attempt int) time.Duration
}

// ExponentialBackoff implements RetryStrategy
type ExponentialBackoff struct {
	Initial time.Duration
	Max     time.Duration
}

func (eb *ExponentialBackoff) NextDelay(attempt int) time.Duration {
	delay := eb.Initial * time.Duration(math.Pow(2, float64(attempt-1)))
	if eb.Max > 0 && delay > eb.Max {
		return eb.Max
	}
	return delay
}

// DefaultRetryPolicy tries five times starting at 100ms.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts: 5,
		Strategy:    &ExponentialBackoff{Initial: 100 * time.Millisecond, Max: 2 * time.Second},
	}
}

// Do runs fn until it succeeds, the filter rejects its error, attempts run out or ctx ends.
func (rp *RetryPolicy) Do(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	attempts := rp.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}

		if rp.Filter != nil && !rp.Filter(err) {
			return err
		}

		if attempt == attempts || rp.Strategy == nil {
			continue
		}

		delay := rp.Strategy.NextDelay(attempt)
		log.Printf("%s failed (attempt %d/%d), retrying in %s: %v", name, attempt, attempts, delay, err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", name, attempts, err)
}
