// Package retry runs an operation with a bounded retry policy and
// per-attempt failure reporting. It backs the analysis upload step but is
// generic over the operation's result type.
package retry

import (
	"context"
	"time"

	"github.com/brightclass/speech_service/internal/errors"
)

const (
	// DefaultMaxAttempts is the total number of tries, first attempt included.
	DefaultMaxAttempts = 4

	// DefaultBaseDelay is the wait after the first failure; it doubles after
	// each subsequent one.
	DefaultBaseDelay = 500 * time.Millisecond
)

// Observer is invoked with the 1-based attempt number and the error that
// attempt produced, after each failed attempt and before the next delay.
type Observer func(attempt int, err error)

// Option configures a single Do call.
type Option func(*options)

type options struct {
	maxAttempts int
	baseDelay   time.Duration
	observer    Observer
}

// WithMaxAttempts sets the total number of attempts. Values below 1 are
// treated as 1.
func WithMaxAttempts(n int) Option {
	return func(o *options) {
		o.maxAttempts = n
	}
}

// WithBaseDelay sets the delay after the first failed attempt.
func WithBaseDelay(d time.Duration) Option {
	return func(o *options) {
		o.baseDelay = d
	}
}

// WithObserver sets the per-attempt failure callback.
func WithObserver(fn Observer) Option {
	return func(o *options) {
		o.observer = fn
	}
}

// Do executes op until it succeeds or the attempt budget is spent. Each call
// owns its own attempt counter; concurrent calls do not interact. On success
// the operation's value is returned as-is. On exhaustion the returned error
// has code UPLOAD_EXHAUSTED and wraps the last underlying failure. The delay
// between attempts doubles each time and is cut short by context
// cancellation, in which case the context's error is returned.
func Do[T any](ctx context.Context, op func(context.Context) (T, error), opts ...Option) (T, error) {
	o := options{
		maxAttempts: DefaultMaxAttempts,
		baseDelay:   DefaultBaseDelay,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.maxAttempts < 1 {
		o.maxAttempts = 1
	}

	var zero T
	var lastErr error
	delay := o.baseDelay

	for attempt := 1; attempt <= o.maxAttempts; attempt++ {
		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if o.observer != nil {
			o.observer(attempt, err)
		}
		if attempt == o.maxAttempts {
			break
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return zero, ctx.Err()
		}
		delay *= 2
	}

	return zero, errors.UploadExhausted(o.maxAttempts, lastErr)
}
