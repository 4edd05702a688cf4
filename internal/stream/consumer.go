package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"strings"
	"time"

	"github.com/ngalo-coder/simclient/internal/domain"
	"github.com/ngalo-coder/simclient/internal/remote"
)

// DefaultTimeout is the wall-clock budget of one exchange.
const DefaultTimeout = 60 * time.Second

// Consumer opens one channel per exchange.
type Consumer struct {
	transport Transport
	tokens    remote.TokenSource
	registry  *Registry
	timeout   time.Duration
	logger    *slog.Logger
}

// ConsumerOption configures a Consumer.
type ConsumerOption func(*Consumer)

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) ConsumerOption {
	return func(c *Consumer) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithRegistry shares a channel registry.
func WithRegistry(r *Registry) ConsumerOption {
	return func(c *Consumer) { c.registry = r }
}

// WithConsumerLogger sets the logger.
func WithConsumerLogger(l *slog.Logger) ConsumerOption {
	return func(c *Consumer) { c.logger = l }
}

// NewConsumer creates a Consumer over transport.
func NewConsumer(transport Transport, tokens remote.TokenSource, opts ...ConsumerOption) *Consumer {
	c := &Consumer{
		transport: transport,
		tokens:    tokens,
		timeout:   DefaultTimeout,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.registry == nil {
		c.registry = NewRegistry(c.logger)
	}
	return c
}

// Registry returns the registry of open channels.
func (c *Consumer) Registry() *Registry {
	return c.registry
}

// Open returns the exchange as a lazy sequence. Nothing is sent until the
// sequence is ranged over. It yields decoded events up to and including the
// first terminal one, or a single error when the channel fails. The channel is
// closed when the sequence ends, including when the caller stops early.
func (c *Consumer) Open(ctx context.Context, sessionID, utterance string) iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		streamCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		token, err := c.token(ctx)
		if err != nil {
			yield(Event{}, err)
			return
		}

		ch, err := c.transport.Open(streamCtx, Request{SessionID: sessionID, Utterance: utterance}, token)
		if err != nil {
			yield(Event{}, c.failure(ctx, streamCtx, ErrEstablish, err))
			return
		}
		c.registry.Register(sessionID, ch)
		defer func() {
			c.registry.Unregister(sessionID, ch)
			if err := ch.Close(); err != nil {
				c.logger.Debug("Stream channel close", "session_id", sessionID, "error", err)
			}
		}()

		for {
			raw, err := ch.Next(streamCtx)
			if err != nil {
				yield(Event{}, c.failure(ctx, streamCtx, ErrLost, err))
				return
			}

			ev, err := Decode(raw)
			if err != nil {
				c.logger.Warn("Skipping stream frame", "session_id", sessionID, "error", err)
				continue
			}
			if !yield(ev, nil) {
				return
			}
			if ev.Type.Terminal() {
				return
			}
		}
	}
}

func (c *Consumer) token(ctx context.Context) (string, error) {
	if c.tokens == nil {
		return "", domain.NewErrorState(domain.KindAuth, remote.ErrMissingCredential)
	}
	tok, err := c.tokens.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("read credential: %w", err)
	}
	if strings.TrimSpace(tok) == "" {
		return "", domain.NewErrorState(domain.KindAuth, remote.ErrMissingCredential)
	}
	return tok, nil
}

// failure maps a transport error. The wall-clock budget running out is a
// Timeout, caller cancellation is returned as is, a drop after the channel was
// acknowledged is a Network failure, and anything else keeps its cause for
// classification.
func (c *Consumer) failure(parent, streamCtx context.Context, phase, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	if errors.Is(streamCtx.Err(), context.DeadlineExceeded) {
		return domain.NewErrorState(domain.KindTimeout, fmt.Errorf("%w after %s", ErrTimeout, c.timeout))
	}
	if phase == ErrLost {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return domain.NewErrorState(domain.KindNetwork, fmt.Errorf("%w: %w", ErrLost, err))
	}
	return fmt.Errorf("%w: %w", phase, err)
}
