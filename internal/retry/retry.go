// Package retry runs an operation a fixed number of times with a constant
// pause between attempts.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff"
)

// Policy bounds an operation's attempts.
type Policy struct {
	Attempts int
	Delay    time.Duration
}

// ErrNoAttempts is returned when a policy allows no attempt.
var ErrNoAttempts = errors.New("retry: policy allows no attempts")

// Do calls op until it succeeds, Attempts are used up or ctx ends. op
// receives the 1-based attempt number. between, when set, runs after the
// delay and before every attempt but the first. Do returns how many
// attempts ran and the last error.
func Do(ctx context.Context, p Policy, op func(attempt int) error, between func(attempt int)) (int, error) {
	if p.Attempts <= 0 {
		return 0, ErrNoAttempts
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	attempt := 0
	wrapped := func() error {
		if attempt > 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
			if between != nil {
				between(attempt + 1)
			}
		}
		attempt++
		return op(attempt)
	}

	if p.Attempts == 1 {
		return 1, wrapped()
	}

	// WithMaxRetries treats 0 as unlimited, hence the single-attempt case above.
	var b backoff.BackOff = backoff.NewConstantBackOff(p.Delay)
	b = backoff.WithMaxRetries(b, uint64(p.Attempts-1))
	b = backoff.WithContext(b, ctx)

	err := backoff.Retry(wrapped, b)
	if err != nil && attempt < p.Attempts && ctx.Err() != nil {
		err = ctx.Err()
	}
	return attempt, err
}
