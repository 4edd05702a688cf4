// Package stream consumes the per-exchange push channel and folds its events
// into the session history.
package stream

import (
	"context"
	"errors"
)

const (
	// AskPath is the SSE exchange endpoint.
	AskPath = "/simulation/ask"
	// AskWSPath is the WebSocket exchange endpoint.
	AskWSPath = "/simulation/ask/ws"
)

var (
	// ErrEstablish means the channel failed before it was acknowledged.
	ErrEstablish = errors.New("failed to establish stream")
	// ErrLost means the channel dropped after it was acknowledged.
	ErrLost = errors.New("stream lost")
	// ErrTimeout means no terminal event arrived within the budget.
	ErrTimeout = errors.New("stream timed out")
	// ErrMalformedFrame is returned by Decode for frames it cannot interpret.
	ErrMalformedFrame = errors.New("malformed frame")
)

// Request identifies one exchange.
type Request struct {
	SessionID string `json:"sessionId"`
	Utterance string `json:"utterance"`
}

// Transport opens exchange channels. A successful Open means the service
// acknowledged the exchange.
type Transport interface {
	Open(ctx context.Context, req Request, token string) (Channel, error)
}

// Channel yields frames until the service closes it. Next returns io.EOF on a
// clean close. Close is safe to call more than once and from another goroutine.
type Channel interface {
	Next(ctx context.Context) (RawFrame, error)
	Close() error
}
