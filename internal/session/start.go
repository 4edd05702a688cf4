package session

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ngalo-coder/simclient/internal/address"
	"github.com/ngalo-coder/simclient/internal/diagnostics"
	"github.com/ngalo-coder/simclient/internal/domain"
	"github.com/ngalo-coder/simclient/internal/remote"
	"github.com/ngalo-coder/simclient/internal/retry"
)

// Mount enters the session view at path. A case address starts a new
// session; a session address resumes an existing one without a remote call.
func (c *Controller) Mount(ctx context.Context, path string, nav domain.NavigationContext) error {
	loc := address.Parse(path)
	if !loc.Valid {
		c.mu.Lock()
		if c.unmounted {
			c.mu.Unlock()
			return ErrUnmounted
		}
		st := domain.NewErrorState(domain.KindConfiguration, fmt.Errorf("%w: %q", ErrInvalidAddress, path))
		c.nav = nav
		c.fail(diagnostics.OpStart, st)
		c.setStatus(domain.StatusErrored)
		c.unlock()
		return st
	}
	if loc.HasSession() {
		return c.resume(ctx, loc, nav)
	}
	return c.Start(ctx, loc.CaseID, nav)
}

func (c *Controller) resume(ctx context.Context, loc address.Location, nav domain.NavigationContext) error {
	path := address.CanonicalFor(loc.CaseID, loc.SessionID)
	if nav.IsZero() {
		restored, ok, err := c.canon.Restore(ctx, path)
		if err != nil {
			c.logger.Warn("Failed to restore navigation context", "path", path, "error", err)
		} else if ok {
			nav = restored
		}
	}

	c.mu.Lock()
	if c.unmounted {
		c.mu.Unlock()
		return ErrUnmounted
	}
	if c.session.ID == loc.SessionID && c.session.IsLive() {
		c.mu.Unlock()
		return nil
	}
	if c.busyLocked() {
		c.mu.Unlock()
		return ErrBusy
	}
	c.reset()
	c.nav = nav
	c.session = domain.Session{
		ID:              loc.SessionID,
		CaseID:          loc.CaseID,
		CounterpartName: c.cfg.DefaultCounterpartName,
		CreatedAt:       c.now(),
	}
	c.notice("Resumed simulation session.")
	c.setStatus(domain.StatusActive)
	title := c.title()
	gen := c.gen
	c.unlock()

	c.bookmark(ctx, gen, path, title, nav)
	c.logger.Info("Session resumed", "case_id", loc.CaseID, "session_id", loc.SessionID)
	return nil
}

// Start validates caseID and starts a remote session. Calling it again while
// a session for the same case is starting or live does nothing.
func (c *Controller) Start(ctx context.Context, caseID string, nav domain.NavigationContext) error {
	c.mu.Lock()
	if c.unmounted {
		c.mu.Unlock()
		return ErrUnmounted
	}
	if c.session.CaseID == caseID && c.holdsCase() {
		c.mu.Unlock()
		return nil
	}
	if c.busyLocked() {
		c.mu.Unlock()
		return ErrBusy
	}

	c.reset()
	c.nav = nav
	c.session = domain.Session{CaseID: caseID}
	c.setStatus(domain.StatusValidating)

	if !address.Valid(caseID, "") {
		st := domain.NewErrorState(domain.KindConfiguration, fmt.Errorf("%w: case %q", ErrInvalidAddress, caseID))
		c.fail(diagnostics.OpStart, st)
		c.setStatus(domain.StatusErrored)
		c.unlock()
		return st
	}

	c.startRetry = retry.New(c.startOnce,
		retry.WithMaxAttempts(c.cfg.MaxAttempts),
		retry.WithRetryDelay(c.cfg.RetryDelay),
		retry.WithSink(c.sink),
		retry.WithScope(c.scope(diagnostics.OpStart)),
		retry.WithLogger(c.logger),
	)
	c.setStatus(domain.StatusStarting)
	opCtx, gen := c.beginOp(ctx)
	r := c.startRetry
	c.unlock()

	if err := c.checkCredential(opCtx, gen); err != nil {
		return err
	}

	res, err := r.Execute(opCtx)
	return c.finishStart(opCtx, gen, res, err)
}

// Retry re-runs the failed start or exchange.
func (c *Controller) Retry(ctx context.Context) error {
	c.mu.Lock()
	if c.unmounted {
		c.mu.Unlock()
		return ErrUnmounted
	}
	if c.failure == nil {
		c.mu.Unlock()
		return ErrNothingToRetry
	}
	switch c.failedOp {
	case diagnostics.OpStart:
		r := c.startRetry
		if r == nil || c.session.Status != domain.StatusErrored {
			c.mu.Unlock()
			return ErrNothingToRetry
		}
		if !r.CanRetry() {
			c.mu.Unlock()
			_, err := r.Retry(ctx)
			return err
		}
		c.stopRedirect()
		c.setStatus(domain.StatusStarting)
		opCtx, gen := c.beginOp(ctx)
		c.unlock()

		res, err := r.Retry(opCtx)
		return c.finishStart(opCtx, gen, res, err)

	case diagnostics.OpExchange:
		return c.retryExchange(ctx)
	}
	c.mu.Unlock()
	return ErrNothingToRetry
}

func (c *Controller) startOnce(ctx context.Context, attempt int) (remote.StartResult, error) {
	c.mu.Lock()
	caseID := c.session.CaseID
	c.mu.Unlock()

	c.logger.Info("Starting session", "case_id", caseID, "attempt", attempt)
	return c.remote.Start(ctx, caseID)
}

// checkCredential fails the start locally when no token is stored.
func (c *Controller) checkCredential(ctx context.Context, gen uint64) error {
	token, err := c.tokens.Token(ctx)
	if err == nil && strings.TrimSpace(token) != "" {
		return nil
	}
	cause := remote.ErrMissingCredential
	if err != nil {
		cause = fmt.Errorf("%w: %w", remote.ErrMissingCredential, err)
	}
	st := domain.NewErrorState(domain.KindAuth, cause)

	c.mu.Lock()
	defer c.unlock()
	if c.stale(gen) {
		return context.Canceled
	}
	c.endOp()
	c.sink.Report(context.WithoutCancel(ctx), diagnostics.NewRecord(diagnostics.Scope{
		Operation:      diagnostics.OpStart,
		CaseID:         c.session.CaseID,
		AddressPattern: address.PatternOf(c.canon.CurrentPath()),
	}, st, 0))
	c.fail(diagnostics.OpStart, st)
	c.setStatus(domain.StatusErrored)
	return st
}

func (c *Controller) finishStart(ctx context.Context, gen uint64, res remote.StartResult, err error) error {
	c.mu.Lock()
	if c.stale(gen) {
		c.mu.Unlock()
		if err != nil {
			return err
		}
		return context.Canceled
	}
	c.endOp()

	if err != nil {
		st, ok := errorState(err)
		if !ok {
			// Busy, closed or cancelled during the backoff delay.
			if !errors.Is(err, retry.ErrBusy) {
				c.setStatus(domain.StatusErrored)
			}
			c.unlock()
			return err
		}
		c.fail(diagnostics.OpStart, st)
		c.setStatus(domain.StatusErrored)
		caseID := c.session.CaseID
		c.unlock()
		c.logger.Warn("Session start failed", "case_id", caseID, "kind", st.Kind, "attempt", st.RetryCount+1)
		return st
	}

	c.clearFailure()
	c.session.ID = res.SessionID
	c.session.CounterpartName = res.CounterpartName
	if c.session.CounterpartName == "" {
		c.session.CounterpartName = c.cfg.DefaultCounterpartName
	}
	c.session.CreatedAt = c.now()

	name := c.session.CounterpartName
	c.notice(fmt.Sprintf("Simulation started. You are speaking with %s.", name))
	greeting := res.InitialUtterance
	if strings.TrimSpace(greeting) == "" {
		greeting = fmt.Sprintf("Hello doctor, I'm %s. Thank you for seeing me today.", name)
	}
	c.appendMessage(domain.NewMessage(domain.RoleCounterpart, name, greeting, c.now()))
	c.setStatus(domain.StatusActive)

	path := address.CanonicalFor(c.session.CaseID, c.session.ID)
	title := c.title()
	nav := c.nav
	caseID, sessionID := c.session.CaseID, c.session.ID
	c.unlock()

	if c.metrics != nil {
		c.metrics.SessionsStarted.Inc()
	}
	c.bookmark(context.WithoutCancel(ctx), gen, path, title, nav)
	c.logger.Info("Session started", "case_id", caseID, "session_id", sessionID, "counterpart", name)
	return nil
}

// holdsCase reports whether the current case is starting or live.
func (c *Controller) holdsCase() bool {
	switch c.session.Status {
	case domain.StatusValidating, domain.StatusStarting, domain.StatusActive,
		domain.StatusExchanging, domain.StatusEnding:
		return true
	case domain.StatusErrored:
		// A retryable start failure is resumed through Retry, not a second entry.
		return c.failedOp == diagnostics.OpStart && c.failure != nil && c.failure.Retryable
	}
	return false
}

// busyLocked reports whether another case holds the controller.
func (c *Controller) busyLocked() bool {
	switch c.session.Status {
	case domain.StatusValidating, domain.StatusStarting, domain.StatusExchanging, domain.StatusEnding:
		return true
	}
	return false
}

// reset drops per-session state before a new entry.
func (c *Controller) reset() {
	c.stopRedirect()
	c.clearFailure()
	c.utterance = ""
	if c.startRetry != nil {
		c.startRetry.Close()
		c.startRetry = nil
	}
	if c.exchangeRetry != nil {
		c.exchangeRetry.Close()
		c.exchangeRetry = nil
	}
}

func (c *Controller) title() string {
	if c.session.CounterpartName == "" {
		return "Simulation " + c.session.CaseID
	}
	return fmt.Sprintf("Simulation %s with %s", c.session.CaseID, c.session.CounterpartName)
}
