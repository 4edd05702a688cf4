// Package diagnostics receives one structured record per failed remote operation.
package diagnostics

import (
	"context"
	"log/slog"
	"time"

	"github.com/ngalo-coder/simclient/internal/domain"
)

// Operation names the remote call that failed.
type Operation string

const (
	OpStart    Operation = "start"
	OpExchange Operation = "exchange"
	OpEnd      Operation = "end"
)

// Record is a single failure report.
type Record struct {
	Timestamp      time.Time        `json:"ts"`
	Kind           domain.ErrorKind `json:"kind"`
	Operation      Operation        `json:"operation"`
	CaseID         string           `json:"case_id"`
	SessionID      string           `json:"session_id,omitempty"`
	Attempt        int              `json:"attempt"`
	AddressPattern string           `json:"address_pattern,omitempty"`
	Raw            string           `json:"raw"`
}

// Scope is the context a failure happened in.
type Scope struct {
	Operation      Operation
	CaseID         string
	SessionID      string
	AddressPattern string
}

// NewRecord fills a record from scope and the classified failure.
func NewRecord(scope Scope, st *domain.ErrorState, attempt int) Record {
	rec := Record{
		Timestamp:      time.Now().UTC(),
		Operation:      scope.Operation,
		CaseID:         scope.CaseID,
		SessionID:      scope.SessionID,
		Attempt:        attempt,
		AddressPattern: scope.AddressPattern,
	}
	if st != nil {
		rec.Kind = st.Kind
		rec.Raw = st.Raw
	}
	return rec
}

// Sink receives failure records. Implementations must not block the caller for long.
type Sink interface {
	Report(ctx context.Context, rec Record)
}

// Nop discards records.
type Nop struct{}

func (Nop) Report(context.Context, Record) {}

// Multi fans a record out to several sinks.
type Multi []Sink

func (m Multi) Report(ctx context.Context, rec Record) {
	for _, s := range m {
		if s != nil {
			s.Report(ctx, rec)
		}
	}
}

// SlogSink writes records through a structured logger.
type SlogSink struct {
	logger *slog.Logger
}

// NewSlogSink returns a sink logging at error level.
func NewSlogSink(logger *slog.Logger) *SlogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogSink{logger: logger}
}

func (s *SlogSink) Report(ctx context.Context, rec Record) {
	s.logger.LogAttrs(ctx, slog.LevelError, "Remote operation failed",
		slog.String("kind", string(rec.Kind)),
		slog.String("operation", string(rec.Operation)),
		slog.String("case_id", rec.CaseID),
		slog.String("session_id", rec.SessionID),
		slog.Int("attempt", rec.Attempt),
		slog.String("address_pattern", rec.AddressPattern),
		slog.String("raw", rec.Raw),
	)
}
