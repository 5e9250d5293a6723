// Package breaker provides a per-upstream circuit breaker.
//
// A Breaker has three states:
//
//   - Closed: calls pass through. Consecutive failures are counted and the
//     count restarts when the first counted failure is older than the
//     monitoring window. Reaching the threshold opens the circuit.
//   - Open: calls fail immediately with *OpenError without running the
//     operation until the reset timeout elapses.
//   - Half-open: exactly one trial call is admitted. Its success closes the
//     circuit; its failure reopens it with a fresh timeout.
//
// A call abandoned because the caller's context was cancelled is never
// counted as an upstream failure.
//
// Breakers are plain values owned by whoever wraps an upstream; there is no
// package-level registry.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/questforge/encounterd/internal/apperror"
)

// State is the circuit state.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Config holds breaker thresholds.
type Config struct {
	// FailureThreshold is the number of consecutive failures that opens the circuit.
	FailureThreshold int
	// ResetTimeout is how long the circuit stays open before a trial is allowed.
	ResetTimeout time.Duration
	// MonitoringWindow bounds the age of the failure count; 0 disables the window.
	MonitoringWindow time.Duration
}

// DefaultConfig returns the default breaker configuration.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		ResetTimeout:     60 * time.Second,
		MonitoringWindow: 2 * time.Minute,
	}
}

// OpenError is returned without running the operation while the circuit is open.
type OpenError struct {
	Name    string
	RetryIn time.Duration
}

func (e *OpenError) Error() string {
	secs := int(math.Ceil(e.RetryIn.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return fmt.Sprintf("%s: service unavailable, retry in %ds", e.Name, secs)
}

// AppErrorKind classifies an open circuit as service unavailable.
func (e *OpenError) AppErrorKind() apperror.Kind { return apperror.KindUnavailable }

// ErrOpen matches any *OpenError with errors.Is.
var ErrOpen = errors.New("circuit open")

func (e *OpenError) Is(target error) bool { return target == ErrOpen }

// Snapshot is a point-in-time copy of the breaker's bookkeeping.
type Snapshot struct {
	Name        string
	State       State
	Failures    int
	LastFailure time.Time
	ResumeAt    time.Time
}

// StateChangeFunc observes transitions.
type StateChangeFunc func(name string, from, to State)

// Option configures a Breaker.
type Option func(*Breaker)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) { b.now = now }
}

// WithStateChange registers a transition hook. It is called with the lock released.
func WithStateChange(fn StateChangeFunc) Option {
	return func(b *Breaker) { b.onChange = fn }
}

// WithFailurePredicate decides which operation errors count toward the threshold.
// Errors for which it returns false leave the counters untouched.
func WithFailurePredicate(fn func(error) bool) Option {
	return func(b *Breaker) { b.isFailure = fn }
}

// Breaker guards one upstream. Safe for concurrent use.
type Breaker struct {
	name      string
	cfg       Config
	now       func() time.Time
	onChange  StateChangeFunc
	isFailure func(error) bool

	mu           sync.Mutex
	state        State
	failures     int
	firstFailure time.Time
	lastFailure  time.Time
	resumeAt     time.Time
	probing      bool
}

// New creates a closed breaker. Zero config fields fall back to DefaultConfig.
func New(name string, cfg Config, opts ...Option) *Breaker {
	def := DefaultConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = def.ResetTimeout
	}
	if cfg.MonitoringWindow < 0 {
		cfg.MonitoringWindow = 0
	}

	b := &Breaker{
		name:      name,
		cfg:       cfg,
		now:       time.Now,
		isFailure: func(error) bool { return true },
		state:     StateClosed,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name returns the guarded upstream's name.
func (b *Breaker) Name() string { return b.name }

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Snapshot returns a copy of the current bookkeeping.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		Name:        b.name,
		State:       b.state,
		Failures:    b.failures,
		LastFailure: b.lastFailure,
		ResumeAt:    b.resumeAt,
	}
}

// Execute runs op through the breaker.
func Execute[T any](ctx context.Context, b *Breaker, op func(context.Context) (T, error)) (T, error) {
	var zero T

	trial, err := b.admit()
	if err != nil {
		return zero, err
	}

	finished := false
	defer func() {
		// A panicking op still releases the trial slot.
		if !finished {
			b.record(trial, outcomeFailure)
		}
	}()

	res, err := op(ctx)
	finished = true
	b.record(trial, b.outcome(ctx, err))
	if err != nil {
		return zero, err
	}
	return res, nil
}

// Do runs op through the breaker.
func (b *Breaker) Do(ctx context.Context, op func(context.Context) error) error {
	_, err := Execute(ctx, b, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeFailure
	outcomeNeutral
)

func (b *Breaker) outcome(ctx context.Context, err error) outcome {
	switch {
	case err == nil:
		return outcomeSuccess
	case ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)):
		return outcomeNeutral
	case !b.isFailure(err):
		return outcomeNeutral
	default:
		return outcomeFailure
	}
}

// admit decides whether a call may run and whether it is the half-open trial.
func (b *Breaker) admit() (trial bool, err error) {
	b.mu.Lock()
	var from State
	changed := false
	defer func() {
		b.mu.Unlock()
		if changed {
			b.notify(from, StateHalfOpen)
		}
	}()

	switch b.state {
	case StateClosed:
		return false, nil
	case StateOpen:
		now := b.now()
		if now.Before(b.resumeAt) {
			return false, &OpenError{Name: b.name, RetryIn: b.resumeAt.Sub(now)}
		}
		from, changed = b.state, true
		b.state = StateHalfOpen
		b.probing = true
		return true, nil
	default:
		// A trial is already in flight.
		return false, &OpenError{Name: b.name, RetryIn: time.Second}
	}
}

func (b *Breaker) record(trial bool, out outcome) {
	b.mu.Lock()
	from := b.state
	now := b.now()

	if trial {
		b.probing = false
		switch out {
		case outcomeSuccess:
			b.reset()
		case outcomeFailure:
			b.failures++
			b.lastFailure = now
			b.trip(now)
		default:
			// Trial abandoned; the next caller may try again.
			b.state = StateOpen
		}
	} else if b.state == StateClosed {
		switch out {
		case outcomeSuccess:
			b.failures = 0
			b.firstFailure = time.Time{}
		case outcomeFailure:
			if b.failures > 0 && b.cfg.MonitoringWindow > 0 && now.Sub(b.firstFailure) > b.cfg.MonitoringWindow {
				b.failures = 0
			}
			if b.failures == 0 {
				b.firstFailure = now
			}
			b.failures++
			b.lastFailure = now
			if b.failures >= b.cfg.FailureThreshold {
				b.trip(now)
			}
		}
	}
	// Results of calls admitted before the circuit opened are ignored.

	to := b.state
	b.mu.Unlock()
	if from != to {
		b.notify(from, to)
	}
}

// reset closes the circuit. Must be called with lock held.
func (b *Breaker) reset() {
	b.state = StateClosed
	b.failures = 0
	b.firstFailure = time.Time{}
	b.resumeAt = time.Time{}
}

// trip opens the circuit. Must be called with lock held.
func (b *Breaker) trip(now time.Time) {
	b.state = StateOpen
	b.resumeAt = now.Add(b.cfg.ResetTimeout)
}

func (b *Breaker) notify(from, to State) {
	if b.onChange != nil {
		b.onChange(b.name, from, to)
	}
}
