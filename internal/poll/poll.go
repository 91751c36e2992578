// Package poll implements fixed-interval polling of provider endpoints that
// compute their response asynchronously and answer "still pending" until done.
package poll

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Default polling parameters. The provider-side job normally finishes within
// seconds, so the interval is short and flat; the attempt cap bounds the total
// wait instead of a backoff schedule.
const (
	DefaultInterval    = 500 * time.Millisecond
	DefaultMaxAttempts = 600
)

// ErrStillPending is returned when the attempt cap is reached before the
// upstream job completes.
var ErrStillPending = errors.New("upstream computation still pending after max attempts")

// Result is one poll observation. Pending means the upstream is still
// computing and Value must be ignored.
type Result[T any] struct {
	Pending bool
	Value   T
}

// Policy controls the polling loop. The zero value uses the defaults.
type Policy struct {
	Interval    time.Duration
	MaxAttempts int
}

func (p Policy) withDefaults() Policy {
	if p.Interval <= 0 {
		p.Interval = DefaultInterval
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	return p
}

// UntilReady invokes fetch until it reports a non-pending result, waiting
// policy.Interval between attempts. Transient fetch errors are retried on the
// same schedule as pending results: from the caller's perspective "upstream
// failed this second" and "upstream is still computing" warrant the same
// treatment. The last fetch error is wrapped into the failure if the attempt
// cap runs out.
func UntilReady[T any](ctx context.Context, policy Policy, fetch func(context.Context) (Result[T], error)) (T, error) {
	var zero T
	policy = policy.withDefaults()

	var lastErr error
	for attempt := 1; ; attempt++ {
		res, err := fetch(ctx)
		if err == nil && !res.Pending {
			return res.Value, nil
		}
		if err != nil {
			lastErr = err
		}

		if attempt >= policy.MaxAttempts {
			if lastErr != nil {
				return zero, fmt.Errorf("%w (last error: %v)", ErrStillPending, lastErr)
			}
			return zero, ErrStillPending
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(policy.Interval):
		}
	}
}
