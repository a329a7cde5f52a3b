package retry

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	apperrors "github.com/storelane/fulfillment-api/pkg/errors"
)

// MaxRetriesError wraps the last failure after all attempts are spent.
type MaxRetriesError struct {
	Attempts int
	Err      error
}

func (e *MaxRetriesError) Error() string {
	return fmt.Sprintf("max retries exceeded after %d attempts: %v", e.Attempts, e.Err)
}

func (e *MaxRetriesError) Unwrap() error {
	return e.Err
}

// Policy drives exponential backoff with jitter around a fallible
// operation. ShouldRetry decides whether an error is worth another attempt;
// the default retries only transient and rate-limit failures, never
// business-logic errors.
type Policy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	ShouldRetry  func(error) bool
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2,
		ShouldRetry:  apperrors.IsTransient,
	}
}

// Do runs op up to MaxAttempts times. Between attempts it sleeps
// min(InitialDelay * Multiplier^(n-1), MaxDelay) with 25% random jitter,
// honoring ctx cancellation. Non-retryable errors are returned after a
// single attempt; exhaustion returns a MaxRetriesError wrapping the last
// error.
func (p Policy) Do(ctx context.Context, op func() error) error {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.Multiplier <= 1 {
		p.Multiplier = 2
	}
	shouldRetry := p.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = apperrors.IsTransient
	}

	var err error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err = op(); err == nil {
			return nil
		}
		if !shouldRetry(err) {
			return err
		}
		if attempt == p.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.delay(attempt)):
		}
	}

	return &MaxRetriesError{Attempts: p.MaxAttempts, Err: err}
}

// delay computes the backoff before attempt n+1.
func (p Policy) delay(attempt int) time.Duration {
	backoff := float64(p.InitialDelay)
	for i := 1; i < attempt; i++ {
		backoff *= p.Multiplier
	}
	if max := float64(p.MaxDelay); p.MaxDelay > 0 && backoff > max {
		backoff = max
	}

	// +/- 25% jitter so concurrent deliveries do not retry in lockstep
	jitter := (rand.Float64()*0.5 - 0.25) * backoff
	d := time.Duration(backoff + jitter)
	if d < 0 {
		d = 0
	}
	return d
}
