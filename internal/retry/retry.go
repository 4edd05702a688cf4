// Package retry wraps one fallible remote operation with a bounded,
// operator-driven retry policy.
//
// A Controller runs at most one attempt at a time. Failures are classified and
// reported to a diagnostics sink; retryable ones may be re-run with Retry until
// the attempt cap is reached.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/semaphore"

	"github.com/ngalo-coder/simclient/internal/classify"
	"github.com/ngalo-coder/simclient/internal/diagnostics"
	"github.com/ngalo-coder/simclient/internal/domain"
)

var (
	// ErrBusy is returned when an attempt is already in flight.
	ErrBusy = errors.New("operation already in flight")
	// ErrExhausted is returned by Retry once the attempt cap is reached.
	ErrExhausted = errors.New("retry budget exhausted")
	// ErrNotRetryable is returned by Retry when the last failure may not be retried.
	ErrNotRetryable = errors.New("failure is not retryable")
	// ErrNothingToRetry is returned by Retry when there is no pending failure.
	ErrNothingToRetry = errors.New("no failed attempt to retry")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("retry controller closed")
)

// Operation is one attempt of the wrapped call. attempt starts at 1.
type Operation[T any] func(ctx context.Context, attempt int) (T, error)

// Controller runs an Operation under the single-flight and cap rules.
type Controller[T any] struct {
	op     Operation[T]
	sem    *semaphore.Weighted
	sink   diagnostics.Sink
	scope  func() diagnostics.Scope
	logger *slog.Logger
	delay  time.Duration

	mu      sync.Mutex
	budget  domain.RetryBudget
	failure *domain.ErrorState
	backoff backoff.BackOff
	closed  bool
	done    chan struct{}
}

// Option configures a Controller.
type Option func(*options)

type options struct {
	maxAttempts int
	delay       time.Duration
	sink        diagnostics.Sink
	scope       func() diagnostics.Scope
	logger      *slog.Logger
}

// WithMaxAttempts caps total attempts, the first one included.
func WithMaxAttempts(n int) Option {
	return func(o *options) { o.maxAttempts = n }
}

// WithRetryDelay sets the initial wait before a retried attempt. Later retries
// back off exponentially from it. Zero retries immediately.
func WithRetryDelay(d time.Duration) Option {
	return func(o *options) { o.delay = d }
}

// WithSink sets where failed attempts are reported.
func WithSink(s diagnostics.Sink) Option {
	return func(o *options) { o.sink = s }
}

// WithScope supplies the context attached to each failure record. It is called
// at report time so identifiers learned later are included.
func WithScope(fn func() diagnostics.Scope) Option {
	return func(o *options) { o.scope = fn }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// New creates a Controller for op.
func New[T any](op Operation[T], opts ...Option) *Controller[T] {
	o := options{maxAttempts: domain.DefaultMaxAttempts}
	for _, opt := range opts {
		opt(&o)
	}
	if o.sink == nil {
		o.sink = diagnostics.Nop{}
	}
	if o.scope == nil {
		o.scope = func() diagnostics.Scope { return diagnostics.Scope{} }
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	c := &Controller[T]{
		op:     op,
		sem:    semaphore.NewWeighted(1),
		sink:   o.sink,
		scope:  o.scope,
		logger: o.logger,
		delay:  o.delay,
		budget: domain.NewRetryBudget(o.maxAttempts),
		done:   make(chan struct{}),
	}
	c.backoff = c.newBackoff()
	return c
}

func (c *Controller[T]) newBackoff() backoff.BackOff {
	if c.delay <= 0 {
		return &backoff.ZeroBackOff{}
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.delay
	b.MaxInterval = 8 * c.delay
	b.MaxElapsedTime = 0
	b.RandomizationFactor = 0
	b.Multiplier = 2.0
	b.Reset()
	return b
}

// Execute runs the first attempt with a fresh budget.
func (c *Controller[T]) Execute(ctx context.Context) (T, error) {
	var zero T
	if !c.sem.TryAcquire(1) {
		return zero, ErrBusy
	}
	defer c.sem.Release(1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return zero, ErrClosed
	}
	c.budget.Attempts = 0
	c.failure = nil
	c.backoff.Reset()
	c.mu.Unlock()

	return c.attempt(ctx)
}

// Retry re-runs the operation after a retryable failure. It is a no-op
// returning ErrExhausted once the cap has been reached.
func (c *Controller[T]) Retry(ctx context.Context) (T, error) {
	var zero T
	if !c.sem.TryAcquire(1) {
		return zero, ErrBusy
	}
	defer c.sem.Release(1)

	c.mu.Lock()
	switch {
	case c.closed:
		c.mu.Unlock()
		return zero, ErrClosed
	case c.failure == nil:
		c.mu.Unlock()
		return zero, ErrNothingToRetry
	case !c.failure.Retryable:
		c.mu.Unlock()
		return zero, ErrNotRetryable
	case c.budget.Exhausted():
		c.mu.Unlock()
		return zero, ErrExhausted
	}
	wait := c.backoff.NextBackOff()
	c.mu.Unlock()

	if err := c.sleep(ctx, wait); err != nil {
		return zero, err
	}
	return c.attempt(ctx)
}

func (c *Controller[T]) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 || d == backoff.Stop {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrClosed
	}
}

func (c *Controller[T]) attempt(ctx context.Context) (T, error) {
	c.mu.Lock()
	c.budget.Attempts++
	n := c.budget.Attempts
	c.mu.Unlock()

	result, err := c.op(ctx, n)

	c.mu.Lock()
	if err == nil {
		c.failure = nil
		c.budget.Attempts = 0
		c.backoff.Reset()
		c.mu.Unlock()
		return result, nil
	}

	var zero T
	if c.closed {
		// Aborted by Close; nothing is surfaced or reported.
		c.mu.Unlock()
		return zero, fmt.Errorf("%w: %w", ErrClosed, err)
	}
	if ctx.Err() != nil && errors.Is(err, context.Canceled) {
		// Cancelled by the caller; the previous failure, if any, still stands.
		c.budget.Attempts--
		c.mu.Unlock()
		return zero, err
	}

	st := classify.Classify(err)
	st.RetryCount = n - 1
	c.failure = &st
	failure := st
	maxAttempts := c.budget.MaxAttempts
	c.mu.Unlock()

	// The scope callback may take its owner's lock, so report unlocked.
	c.sink.Report(ctx, diagnostics.NewRecord(c.scope(), &failure, n))
	c.logger.Debug("Attempt failed",
		"attempt", n,
		"max_attempts", maxAttempts,
		"kind", failure.Kind,
		"retryable", failure.Retryable,
	)
	return zero, &failure
}

// Failure returns a copy of the pending failure, or nil.
func (c *Controller[T]) Failure() *domain.ErrorState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failure == nil {
		return nil
	}
	st := *c.failure
	return &st
}

// Budget returns the current attempt accounting.
func (c *Controller[T]) Budget() domain.RetryBudget {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.budget
}

// CanRetry reports whether Retry would invoke the operation.
func (c *Controller[T]) CanRetry() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed && c.failure != nil && c.failure.Retryable && !c.budget.Exhausted()
}

// Busy reports whether an attempt is in flight.
func (c *Controller[T]) Busy() bool {
	if !c.sem.TryAcquire(1) {
		return true
	}
	c.sem.Release(1)
	return false
}

// Reset clears the failure and budget.
func (c *Controller[T]) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failure = nil
	c.budget.Attempts = 0
	c.backoff.Reset()
}

// Close aborts a pending retry delay and rejects further attempts.
func (c *Controller[T]) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.failure = nil
	close(c.done)
}
