// Package session drives one simulation session from entry to end.
//
// The Controller owns the session and is its only writer. Remote calls run
// outside its lock; every result is applied only if the controller generation
// has not moved on, so late results and timers after Unmount are no-ops.
package session

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"sync"
	"time"

	"github.com/ngalo-coder/simclient/internal/address"
	"github.com/ngalo-coder/simclient/internal/diagnostics"
	"github.com/ngalo-coder/simclient/internal/domain"
	"github.com/ngalo-coder/simclient/internal/remote"
	"github.com/ngalo-coder/simclient/internal/retry"
	"github.com/ngalo-coder/simclient/internal/stream"
)

var (
	// ErrBusy is returned while another session-mutating operation is in flight.
	ErrBusy = retry.ErrBusy
	// ErrSessionEnded is returned when submitting to an ended session.
	ErrSessionEnded = errors.New("session has ended")
	// ErrInvalidAddress is returned for entry paths outside the address grammar.
	ErrInvalidAddress = errors.New("invalid session address")
	// ErrEmptyUtterance is returned for blank submissions.
	ErrEmptyUtterance = errors.New("utterance is empty")
	// ErrNotActive is returned when the operation needs a live session.
	ErrNotActive = errors.New("session is not active")
	// ErrNothingToRetry is returned by Retry when no retryable failure is pending.
	ErrNothingToRetry = errors.New("nothing to retry")
	// ErrUnmounted is returned after Unmount.
	ErrUnmounted = errors.New("controller unmounted")
)

const (
	DefaultCounterpartName       = "Patient"
	DefaultNotFoundRedirectDelay = 3 * time.Second
	DefaultAuthRedirectDelay     = 2 * time.Second
)

// Remote is the start/end service.
type Remote interface {
	Start(ctx context.Context, caseID string) (remote.StartResult, error)
	End(ctx context.Context, sessionID string) (remote.EndResult, error)
}

// Streamer opens exchange channels.
type Streamer interface {
	Open(ctx context.Context, sessionID, utterance string) iter.Seq2[stream.Event, error]
}

// Config holds the timing and fallback parameters.
type Config struct {
	MaxAttempts            int
	RetryDelay             time.Duration
	NotFoundRedirectDelay  time.Duration
	AuthRedirectDelay      time.Duration
	DefaultCounterpartName string
}

func (c *Config) applyDefaults() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = domain.DefaultMaxAttempts
	}
	if c.NotFoundRedirectDelay <= 0 {
		c.NotFoundRedirectDelay = DefaultNotFoundRedirectDelay
	}
	if c.AuthRedirectDelay <= 0 {
		c.AuthRedirectDelay = DefaultAuthRedirectDelay
	}
	if c.DefaultCounterpartName == "" {
		c.DefaultCounterpartName = DefaultCounterpartName
	}
}

// Deps are the collaborators. Remote, Streamer, Tokens and Canonicalizer are required.
type Deps struct {
	Remote        Remote
	Streamer      Streamer
	Tokens        remote.TokenSource
	Canonicalizer *address.Canonicalizer
	Sink          diagnostics.Sink
	Metrics       *diagnostics.Metrics
	Observer      Observer
	Logger        *slog.Logger
	Now           func() time.Time
}

// Operation names the remote call a failure belongs to.
type Operation = diagnostics.Operation

// State is a point-in-time view of the controller.
type State struct {
	Status    domain.Status
	CaseID    string
	SessionID string
	// Failure is the pending failure, if any. A failed exchange leaves Status
	// Active with Failure set and FailedOp exchange.
	Failure         *domain.ErrorState
	FailedOp        Operation
	CanRetry        bool
	Budget          domain.RetryBudget
	PendingRedirect string
	Nav             domain.NavigationContext
	Path            string
}

// Controller is the session state machine.
type Controller struct {
	cfg      Config
	remote   Remote
	streamer Streamer
	tokens   remote.TokenSource
	canon    *address.Canonicalizer
	sink     diagnostics.Sink
	metrics  *diagnostics.Metrics
	observer Observer
	logger   *slog.Logger
	now      func() time.Time

	mu        sync.Mutex
	session   domain.Session
	nav       domain.NavigationContext
	failure   *domain.ErrorState
	failedOp  Operation
	utterance string
	gen       uint64
	unmounted bool

	// bookmarkMu orders address writes against Unmount. Taken before mu.
	bookmarkMu sync.Mutex

	startRetry    *retry.Controller[remote.StartResult]
	exchangeRetry *retry.Controller[exchangeResult]
	cancelOp      context.CancelFunc
	exchangeBegan time.Time

	redirectTimer *time.Timer
	redirectTo    string

	pending []func()
}

// New creates a controller in the Idle state.
func New(cfg Config, deps Deps) *Controller {
	cfg.applyDefaults()
	if deps.Sink == nil {
		deps.Sink = diagnostics.Nop{}
	}
	if deps.Observer == nil {
		deps.Observer = NopObserver{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Controller{
		cfg:      cfg,
		remote:   deps.Remote,
		streamer: deps.Streamer,
		tokens:   deps.Tokens,
		canon:    deps.Canonicalizer,
		sink:     deps.Sink,
		metrics:  deps.Metrics,
		observer: deps.Observer,
		logger:   deps.Logger,
		now:      deps.Now,
		session:  domain.Session{Status: domain.StatusIdle},
	}
}

// Snapshot returns a copy of the session.
func (c *Controller) Snapshot() domain.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.Clone()
}

// State returns the current controller state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

func (c *Controller) stateLocked() State {
	st := State{
		Status:          c.session.Status,
		CaseID:          c.session.CaseID,
		SessionID:       c.session.ID,
		FailedOp:        c.failedOp,
		PendingRedirect: c.redirectTo,
		Nav:             c.nav,
		Path:            c.canon.CurrentPath(),
	}
	if c.failure != nil {
		f := *c.failure
		st.Failure = &f
	}
	if r := c.retryFor(c.failedOp); r != nil && c.failure != nil {
		st.CanRetry = r.CanRetry()
		st.Budget = r.Budget()
	}
	return st
}

// retrier is the part of a retry.Controller the state machine inspects.
type retrier interface {
	CanRetry() bool
	Budget() domain.RetryBudget
	Close()
}

func (c *Controller) retryFor(op Operation) retrier {
	switch op {
	case diagnostics.OpStart:
		if c.startRetry != nil {
			return c.startRetry
		}
	case diagnostics.OpExchange:
		if c.exchangeRetry != nil {
			return c.exchangeRetry
		}
	}
	return nil
}

// scope is called by the retry controllers when reporting a failure.
func (c *Controller) scope(op Operation) func() diagnostics.Scope {
	return func() diagnostics.Scope {
		c.mu.Lock()
		defer c.mu.Unlock()
		return diagnostics.Scope{
			Operation:      op,
			CaseID:         c.session.CaseID,
			SessionID:      c.session.ID,
			AddressPattern: address.PatternOf(c.canon.CurrentPath()),
		}
	}
}

// emit queues an observer call for after the lock is released.
func (c *Controller) emit(fn func()) {
	c.pending = append(c.pending, fn)
}

func (c *Controller) emitState() {
	st := c.stateLocked()
	c.emit(func() { c.observer.StateChanged(st) })
}

func (c *Controller) emitMessage(m domain.Message) {
	c.emit(func() { c.observer.MessageUpdated(m) })
}

// unlock releases the lock and delivers queued observer calls in order.
func (c *Controller) unlock() {
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()
	for _, fn := range pending {
		fn()
	}
}

func (c *Controller) setStatus(s domain.Status) {
	c.session.Status = s
	c.emitState()
}

func (c *Controller) appendMessage(m domain.Message) {
	c.session.Append(m)
	c.emitMessage(m)
}

func (c *Controller) notice(text string) {
	c.appendMessage(domain.NewMessage(domain.RoleSystemNotice, "", text, c.now()))
}

// beginOp derives the context of a mutating operation so Unmount can abort it.
func (c *Controller) beginOp(ctx context.Context) (context.Context, uint64) {
	opCtx, cancel := context.WithCancel(ctx)
	c.cancelOp = cancel
	return opCtx, c.gen
}

func (c *Controller) endOp() {
	if c.cancelOp != nil {
		c.cancelOp()
		c.cancelOp = nil
	}
}

// bookmark writes the canonical address unless generation gen went stale.
func (c *Controller) bookmark(ctx context.Context, gen uint64, path, title string, nav domain.NavigationContext) {
	c.bookmarkMu.Lock()
	defer c.bookmarkMu.Unlock()

	c.mu.Lock()
	stale := c.stale(gen)
	c.mu.Unlock()
	if stale {
		c.logger.Debug("Skipping bookmark for a stale session", "path", path)
		return
	}
	if err := c.canon.ApplyBookmark(ctx, path, title, nav); err != nil {
		c.logger.Warn("Failed to bookmark session", "path", path, "error", err)
	}
}

// stale reports whether results from generation gen must be dropped.
func (c *Controller) stale(gen uint64) bool {
	return c.unmounted || gen != c.gen
}

// fail records a failure for op and schedules the redirect it calls for.
func (c *Controller) fail(op Operation, st *domain.ErrorState) {
	c.failure = st
	c.failedOp = op
	if st.Kind.Redirects() {
		c.scheduleRedirect(st.Kind)
	}
}

func (c *Controller) clearFailure() {
	c.failure = nil
	c.failedOp = ""
}

func (c *Controller) scheduleRedirect(kind domain.ErrorKind) {
	var (
		dest  string
		delay time.Duration
	)
	switch kind {
	case domain.KindNotFound:
		dest, delay = address.NotFoundDestination(c.nav), c.cfg.NotFoundRedirectDelay
	case domain.KindAuth:
		dest, delay = address.LoginDestination(c.canon.CurrentPath()), c.cfg.AuthRedirectDelay
	default:
		return
	}

	c.stopRedirect()
	gen := c.gen
	nav := c.nav
	c.redirectTo = dest
	c.redirectTimer = time.AfterFunc(delay, func() {
		c.mu.Lock()
		if c.stale(gen) || c.redirectTo != dest {
			c.mu.Unlock()
			return
		}
		c.redirectTimer = nil
		c.redirectTo = ""
		c.canon.Redirect(dest, nav)
		c.logger.Info("Redirecting", "case_id", c.session.CaseID, "kind", kind, "path", dest)
		c.emit(func() { c.observer.Redirected(dest, kind) })
		c.emitState()
		c.unlock()
	})
}

func (c *Controller) stopRedirect() {
	if c.redirectTimer != nil {
		c.redirectTimer.Stop()
		c.redirectTimer = nil
	}
	c.redirectTo = ""
}

// errorState extracts the classified failure from a retry controller error.
func errorState(err error) (*domain.ErrorState, bool) {
	var st *domain.ErrorState
	if errors.As(err, &st) {
		return st, true
	}
	return nil, false
}

// Unmount aborts everything in flight: pending operations are cancelled, the
// open channel is closed, pending retries are dropped and timers become no-ops.
func (c *Controller) Unmount() {
	c.mu.Lock()
	if c.unmounted {
		c.mu.Unlock()
		return
	}
	c.unmounted = true
	c.gen++
	c.stopRedirect()
	c.endOp()
	c.pending = nil
	var retriers []retrier
	for _, r := range []retrier{c.retryFor(diagnostics.OpStart), c.retryFor(diagnostics.OpExchange)} {
		if r != nil {
			retriers = append(retriers, r)
		}
	}
	caseID, sessionID := c.session.CaseID, c.session.ID
	c.mu.Unlock()

	// Wait out an address write already past its stale check.
	c.bookmarkMu.Lock()
	c.bookmarkMu.Unlock() //nolint:staticcheck // barrier

	// Retry controllers call back into c for their scope; close them unlocked.
	for _, r := range retriers {
		r.Close()
	}
	if r, ok := c.streamer.(interface{ Registry() *stream.Registry }); ok && sessionID != "" {
		r.Registry().CloseSession(sessionID)
	}
	c.logger.Debug("Session controller unmounted", "case_id", caseID, "session_id", sessionID)
}
