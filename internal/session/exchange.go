package session

import (
	"context"
	"strings"

	"github.com/ngalo-coder/simclient/internal/diagnostics"
	"github.com/ngalo-coder/simclient/internal/domain"
	"github.com/ngalo-coder/simclient/internal/retry"
	"github.com/ngalo-coder/simclient/internal/stream"
)

type exchangeResult struct {
	ended      bool
	evaluation *domain.Evaluation
}

// Submit sends utterance and streams the counterpart's reply into the
// history. It blocks until the reply is complete or the exchange fails.
func (c *Controller) Submit(ctx context.Context, utterance string) error {
	text := strings.TrimSpace(utterance)
	if text == "" {
		return ErrEmptyUtterance
	}

	c.mu.Lock()
	if c.unmounted {
		c.mu.Unlock()
		return ErrUnmounted
	}
	switch c.session.Status {
	case domain.StatusActive:
	case domain.StatusEnded, domain.StatusEnding:
		c.mu.Unlock()
		return ErrSessionEnded
	case domain.StatusExchanging:
		c.mu.Unlock()
		return ErrBusy
	default:
		c.mu.Unlock()
		return ErrNotActive
	}

	c.clearFailure()
	c.utterance = text
	if c.exchangeRetry != nil {
		c.exchangeRetry.Close()
	}
	c.exchangeRetry = retry.New(c.exchangeOnce,
		retry.WithMaxAttempts(c.cfg.MaxAttempts),
		retry.WithRetryDelay(c.cfg.RetryDelay),
		retry.WithSink(c.sink),
		retry.WithScope(c.scope(diagnostics.OpExchange)),
		retry.WithLogger(c.logger),
	)
	c.appendMessage(domain.NewMessage(domain.RoleOperator, "", text, c.now()))
	c.setStatus(domain.StatusExchanging)
	opCtx, gen := c.beginOp(ctx)
	c.exchangeBegan = c.now()
	r := c.exchangeRetry
	c.unlock()

	res, err := r.Execute(opCtx)
	return c.finishExchange(gen, res, err)
}

// retryExchange resends the failed utterance. Called with c.mu held.
func (c *Controller) retryExchange(ctx context.Context) error {
	r := c.exchangeRetry
	switch {
	case c.session.Status == domain.StatusExchanging:
		c.mu.Unlock()
		return ErrBusy
	case r == nil || c.session.Status != domain.StatusActive:
		c.mu.Unlock()
		return ErrNothingToRetry
	case !r.CanRetry():
		c.mu.Unlock()
		_, err := r.Retry(ctx)
		return err
	}

	c.stopRedirect()
	c.clearFailure()
	c.setStatus(domain.StatusExchanging)
	opCtx, gen := c.beginOp(ctx)
	c.exchangeBegan = c.now()
	c.unlock()

	res, err := r.Retry(opCtx)
	return c.finishExchange(gen, res, err)
}

func (c *Controller) exchangeOnce(ctx context.Context, attempt int) (exchangeResult, error) {
	c.mu.Lock()
	sessionID, utterance, gen := c.session.ID, c.utterance, c.gen
	acc := stream.NewAccumulator(&c.session, c.now)
	c.mu.Unlock()

	c.logger.Debug("Opening exchange", "session_id", sessionID, "attempt", attempt)

	for ev, err := range c.streamer.Open(ctx, sessionID, utterance) {
		c.mu.Lock()
		if c.stale(gen) {
			c.mu.Unlock()
			return exchangeResult{}, context.Canceled
		}
		if err != nil {
			if msg := acc.Fail(); msg != nil {
				c.emitMessage(*msg)
			}
			c.unlock()
			return exchangeResult{}, err
		}
		out := acc.Apply(ev)
		if out.Message != nil {
			c.emitMessage(*out.Message)
		}
		c.unlock()

		switch {
		case out.Err != nil:
			return exchangeResult{}, out.Err
		case out.Ended:
			return exchangeResult{ended: true, evaluation: out.Evaluation}, nil
		case out.Terminal:
			return exchangeResult{}, nil
		}
	}
	return exchangeResult{}, nil
}

func (c *Controller) finishExchange(gen uint64, res exchangeResult, err error) error {
	c.mu.Lock()
	if c.stale(gen) {
		c.mu.Unlock()
		if err != nil {
			return err
		}
		return context.Canceled
	}
	c.endOp()
	elapsed := c.now().Sub(c.exchangeBegan)
	sessionID := c.session.ID

	if err != nil {
		// The session stays active; the failure is scoped to this exchange.
		st, ok := errorState(err)
		if !ok {
			if prev := c.exchangeRetry.Failure(); prev != nil {
				c.failure, c.failedOp = prev, diagnostics.OpExchange
			}
			c.setStatus(domain.StatusActive)
			c.unlock()
			return err
		}
		c.fail(diagnostics.OpExchange, st)
		c.setStatus(domain.StatusActive)
		c.unlock()
		c.logger.Warn("Exchange failed", "session_id", sessionID, "kind", st.Kind, "attempt", st.RetryCount+1)
		return st
	}

	if res.ended {
		c.setStatus(domain.StatusEnded)
		if !res.evaluation.Empty() {
			ev := *res.evaluation
			c.emit(func() { c.observer.EvaluationReady(ev) })
		}
	} else {
		c.setStatus(domain.StatusActive)
	}
	c.unlock()

	if c.metrics != nil {
		c.metrics.ObserveExchange(elapsed)
		if res.ended {
			c.metrics.SessionsEnded.Inc()
		}
	}
	if res.ended {
		c.logger.Info("Session ended by counterpart", "session_id", sessionID)
	}
	return nil
}
