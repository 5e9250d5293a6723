// Package retry runs an operation with bounded, scheduled backoff.
//
// Waits are timer based and abort when the context is cancelled, so a
// request waiting to retry only suspends its own goroutine.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/questforge/encounterd/internal/apperror"
	"github.com/questforge/encounterd/internal/logging"
)

const (
	// DefaultMaxAttempts is one initial call plus three retries.
	DefaultMaxAttempts = 4
)

// DefaultDelays is the wait before each retry; the last value is reused when exhausted.
var DefaultDelays = []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}

// Options configures a retried call.
type Options struct {
	// Name identifies the operation in logs.
	Name string
	// MaxAttempts is the total number of attempts including the first.
	MaxAttempts int
	// Delays is the wait schedule; Delays[i] precedes attempt i+2.
	Delays []time.Duration
	// Retryable reports whether an error is transient. Defaults to DefaultRetryable.
	Retryable func(error) bool
	// OnRetry is called before each wait.
	OnRetry func(attempt int, delay time.Duration, err error)
	// Timer overrides the wait timer, for tests. Nil uses a real timer.
	Timer backoff.Timer
}

// DefaultOptions returns the default schedule: 3 retries at 1s, 2s and 4s.
func DefaultOptions(name string) Options {
	return Options{
		Name:        name,
		MaxAttempts: DefaultMaxAttempts,
		Delays:      append([]time.Duration(nil), DefaultDelays...),
	}
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

// DefaultRetryable treats caller mistakes and cancellation as final.
func DefaultRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	switch apperror.KindOf(err) {
	case apperror.KindValidation, apperror.KindAuth, apperror.KindNotFound, apperror.KindConflict:
		return false
	}
	return true
}

// schedule is a backoff.BackOff that walks a fixed delay list.
type schedule struct {
	delays []time.Duration
	next   int
}

func (s *schedule) NextBackOff() time.Duration {
	if len(s.delays) == 0 {
		return 0
	}
	i := s.next
	if i >= len(s.delays) {
		i = len(s.delays) - 1
	}
	s.next++
	return s.delays[i]
}

func (s *schedule) Reset() { s.next = 0 }

// Do runs op until it succeeds, returns a non-retryable error, or the attempts
// run out. The last error is returned unwrapped.
func Do[T any](ctx context.Context, op func(context.Context) (T, error), opts Options) (T, error) {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.Delays == nil {
		opts.Delays = DefaultDelays
	}
	retryable := opts.Retryable
	if retryable == nil {
		retryable = DefaultRetryable
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(&schedule{delays: opts.Delays}, uint64(opts.MaxAttempts-1)),
		ctx,
	)

	attempt := 0
	operation := func() (T, error) {
		attempt++
		res, err := op(ctx)
		var perm *backoff.PermanentError
		if err != nil && !errors.As(err, &perm) && !retryable(err) {
			return res, backoff.Permanent(err)
		}
		return res, err
	}

	notify := func(err error, delay time.Duration) {
		logging.Warn().
			Str("op", opts.Name).
			Int("attempt", attempt).
			Int("max_attempts", opts.MaxAttempts).
			Dur("delay", delay).
			Err(err).
			Msg("retrying after failure")
		if opts.OnRetry != nil {
			opts.OnRetry(attempt, delay, err)
		}
	}

	var (
		res T
		err error
	)
	if opts.Timer != nil {
		res, err = backoff.RetryNotifyWithTimerAndData(operation, b, notify, opts.Timer)
	} else {
		res, err = backoff.RetryNotifyWithData(operation, b, notify)
	}
	if err != nil {
		var zero T
		return zero, err
	}
	return res, nil
}
