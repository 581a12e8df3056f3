// Package retry wraps remote calls in a rate-limit-aware exponential backoff.
//
// Only errors the policy classifies as retryable (by default, generr transient
// errors: HTTP 429 / quota exhaustion) are retried. Every other error is
// returned after the first attempt. The schedule doubles on each retry with no
// jitter, so the worst case is exactly Retries+1 attempts with waits of
// d, 2d, 4d, ...
package retry

import (
	"context"
	"time"

	"github.com/fpang/ai-deck-builder/internal/generr"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultRetries is the retry budget after the first attempt.
	DefaultRetries = 3
	// DefaultInitialDelay is the wait before the first retry.
	DefaultInitialDelay = 2 * time.Second
)

// Policy configures Do.
type Policy struct {
	// Retries is the number of retries after the first attempt.
	Retries int
	// InitialDelay is the first backoff wait; it doubles after every retry.
	InitialDelay time.Duration
	// Retryable decides whether an error may be retried. Nil means generr.IsTransient.
	Retryable func(error) bool
	// Sleep waits d or until ctx is done. Nil means a timer-based sleep.
	Sleep func(ctx context.Context, d time.Duration) error
	// Name labels log lines, e.g. "slide" or "image".
	Name string
}

// DefaultPolicy returns the 3-retry, 2s-initial-delay policy.
func DefaultPolicy() Policy {
	return Policy{
		Retries:      DefaultRetries,
		InitialDelay: DefaultInitialDelay,
	}
}

// WithName returns a copy of p labelled for logging.
func (p Policy) WithName(name string) Policy {
	p.Name = name
	return p
}

// Sleep blocks for d or until ctx is cancelled.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Do runs op until it succeeds, fails with a non-retryable error, or the retry
// budget is spent. The last error is returned unchanged.
func Do[T any](ctx context.Context, p Policy, op func(context.Context) (T, error)) (T, error) {
	retryable := p.Retryable
	if retryable == nil {
		retryable = generr.IsTransient
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = Sleep
	}

	delay := p.InitialDelay
	remaining := p.Retries
	attempt := 1

	for {
		v, err := op(ctx)
		if err == nil {
			if attempt > 1 {
				log.Debug().Str("op", p.Name).Int("attempt", attempt).Msg("Succeeded after retry")
			}
			return v, nil
		}

		if !retryable(err) || remaining <= 0 {
			if retryable(err) {
				log.Warn().Err(err).Str("op", p.Name).Int("attempts", attempt).Msg("Retry budget exhausted")
			}
			return v, err
		}

		log.Warn().
			Err(err).
			Str("op", p.Name).
			Int("attempt", attempt).
			Int("retries_left", remaining).
			Dur("backoff", delay).
			Msg("Rate limited, backing off")

		if serr := sleep(ctx, delay); serr != nil {
			var zero T
			return zero, serr
		}
		delay *= 2
		remaining--
		attempt++
	}
}
