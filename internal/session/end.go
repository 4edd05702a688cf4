package session

import (
	"context"

	"github.com/ngalo-coder/simclient/internal/diagnostics"
	"github.com/ngalo-coder/simclient/internal/domain"
	"github.com/ngalo-coder/simclient/internal/remote"
	"github.com/ngalo-coder/simclient/internal/retry"
)

// End asks the service to end the session and surfaces its evaluation. The
// session is marked ended locally even when the remote call fails.
func (c *Controller) End(ctx context.Context) error {
	c.mu.Lock()
	if c.unmounted {
		c.mu.Unlock()
		return ErrUnmounted
	}
	switch c.session.Status {
	case domain.StatusActive, domain.StatusEnded:
	case domain.StatusExchanging, domain.StatusEnding:
		c.mu.Unlock()
		return ErrBusy
	default:
		c.mu.Unlock()
		return ErrNotActive
	}
	if c.session.ID == "" {
		c.mu.Unlock()
		return ErrNotActive
	}

	wasActive := c.session.Status == domain.StatusActive
	sessionID := c.session.ID
	c.stopRedirect()
	c.setStatus(domain.StatusEnding)
	opCtx, gen := c.beginOp(ctx)
	r := retry.New(func(ctx context.Context, _ int) (remote.EndResult, error) {
		return c.remote.End(ctx, sessionID)
	},
		retry.WithMaxAttempts(1),
		retry.WithSink(c.sink),
		retry.WithScope(c.scope(diagnostics.OpEnd)),
		retry.WithLogger(c.logger),
	)
	c.unlock()

	res, err := r.Execute(opCtx)

	c.mu.Lock()
	if c.stale(gen) {
		c.mu.Unlock()
		if err != nil {
			return err
		}
		return context.Canceled
	}
	c.endOp()
	c.clearFailure()
	if st, ok := errorState(err); ok {
		c.failure, c.failedOp = st, diagnostics.OpEnd
	}
	c.notice("Simulation ended.")
	c.setStatus(domain.StatusEnded)
	if !res.Evaluation.Empty() {
		ev := *res.Evaluation
		c.emit(func() { c.observer.EvaluationReady(ev) })
	}
	c.unlock()

	if c.metrics != nil && wasActive {
		c.metrics.SessionsEnded.Inc()
	}
	if err != nil {
		c.logger.Warn("Ending session failed; marked ended locally", "session_id", sessionID, "error", err)
		return err
	}
	c.logger.Info("Session ended", "session_id", sessionID)
	return nil
}
