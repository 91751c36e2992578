package poll

import (
	"context"
	"errors"
	"testing"
	"time"
)

// script returns a fetch func that replays the given results in order and
// counts invocations.
func script[T any](calls *int, steps ...func() (Result[T], error)) func(context.Context) (Result[T], error) {
	return func(context.Context) (Result[T], error) {
		i := *calls
		*calls++
		if i >= len(steps) {
			i = len(steps) - 1
		}
		return steps[i]()
	}
}

func pending() (Result[string], error) { return Result[string]{Pending: true}, nil }
func ready(v string) func() (Result[string], error) {
	return func() (Result[string], error) { return Result[string]{Value: v}, nil }
}
func failing(err error) func() (Result[string], error) {
	return func() (Result[string], error) { return Result[string]{}, err }
}

var fastPolicy = Policy{Interval: time.Millisecond, MaxAttempts: 100}

func TestUntilReadyPendingPendingReady(t *testing.T) {
	var calls int
	fetch := script(&calls, pending, pending, ready("done"))

	got, err := UntilReady(context.Background(), fastPolicy, fetch)
	if err != nil {
		t.Fatalf("UntilReady() error = %v", err)
	}
	if got != "done" {
		t.Errorf("UntilReady() = %q, want %q", got, "done")
	}
	if calls != 3 {
		t.Errorf("fetch called %d times, want 3", calls)
	}
}

func TestUntilReadyImmediate(t *testing.T) {
	var calls int
	fetch := script(&calls, ready("now"))

	got, err := UntilReady(context.Background(), fastPolicy, fetch)
	if err != nil {
		t.Fatalf("UntilReady() error = %v", err)
	}
	if got != "now" {
		t.Errorf("UntilReady() = %q, want %q", got, "now")
	}
	if calls != 1 {
		t.Errorf("fetch called %d times, want 1", calls)
	}
}

func TestUntilReadyRetriesTransientError(t *testing.T) {
	var calls int
	fetch := script(&calls, failing(errors.New("connection reset")), pending, ready("ok"))

	got, err := UntilReady(context.Background(), fastPolicy, fetch)
	if err != nil {
		t.Fatalf("UntilReady() error = %v", err)
	}
	if got != "ok" {
		t.Errorf("UntilReady() = %q, want %q", got, "ok")
	}
	if calls != 3 {
		t.Errorf("fetch called %d times, want 3", calls)
	}
}

func TestUntilReadyAttemptCap(t *testing.T) {
	var calls int
	fetch := script(&calls, pending)

	_, err := UntilReady(context.Background(), Policy{Interval: time.Millisecond, MaxAttempts: 4}, fetch)
	if !errors.Is(err, ErrStillPending) {
		t.Fatalf("UntilReady() error = %v, want ErrStillPending", err)
	}
	if calls != 4 {
		t.Errorf("fetch called %d times, want 4", calls)
	}
}

func TestUntilReadyAttemptCapWrapsLastError(t *testing.T) {
	var calls int
	fetch := script(&calls, failing(errors.New("boom")))

	_, err := UntilReady(context.Background(), Policy{Interval: time.Millisecond, MaxAttempts: 2}, fetch)
	if !errors.Is(err, ErrStillPending) {
		t.Fatalf("UntilReady() error = %v, want ErrStillPending", err)
	}
}

func TestUntilReadyContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var calls int
	fetch := script(&calls, pending)

	_, err := UntilReady(ctx, Policy{Interval: time.Hour, MaxAttempts: 10}, fetch)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("UntilReady() error = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("fetch called %d times, want 1 (cancellation observed before the second attempt)", calls)
	}
}

func TestPolicyDefaults(t *testing.T) {
	p := Policy{}.withDefaults()
	if p.Interval != DefaultInterval {
		t.Errorf("default interval = %v, want %v", p.Interval, DefaultInterval)
	}
	if p.MaxAttempts != DefaultMaxAttempts {
		t.Errorf("default max attempts = %d, want %d", p.MaxAttempts, DefaultMaxAttempts)
	}
}
