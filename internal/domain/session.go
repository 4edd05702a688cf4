// Package domain contains core domain types for the simulation client.
package domain

import (
	"time"
)

// Status is the lifecycle state of a simulation session.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusValidating Status = "validating"
	StatusStarting   Status = "starting"
	StatusActive     Status = "active"
	// StatusExchanging is Active with one exchange in flight.
	StatusExchanging Status = "exchanging"
	StatusEnding     Status = "ending"
	StatusEnded      Status = "ended"
	StatusErrored    Status = "errored"
)

// Session holds the state of the active simulation.
type Session struct {
	ID              string
	CaseID          string
	CounterpartName string
	Status          Status
	Messages        []Message
	CreatedAt       time.Time
}

// IsLive reports whether the session is past start and not yet ending.
func (s *Session) IsLive() bool {
	return s.Status == StatusActive || s.Status == StatusExchanging
}

// Append adds a finished message to the history.
// A trailing streaming message is finished first so it never stops being last.
func (s *Session) Append(msg Message) {
	s.FinishStreaming()
	msg.Streaming = false
	s.Messages = append(s.Messages, msg)
}

// StreamingMessage returns the open streaming message, if any.
func (s *Session) StreamingMessage() *Message {
	if len(s.Messages) == 0 {
		return nil
	}
	last := &s.Messages[len(s.Messages)-1]
	if !last.Streaming {
		return nil
	}
	return last
}

// BeginStreaming appends msg as the single streaming message.
func (s *Session) BeginStreaming(msg Message) *Message {
	s.FinishStreaming()
	msg.Streaming = true
	s.Messages = append(s.Messages, msg)
	return &s.Messages[len(s.Messages)-1]
}

// AppendStreaming concatenates content onto the streaming message.
// It returns false when no message is streaming.
func (s *Session) AppendStreaming(content, speaker string) bool {
	msg := s.StreamingMessage()
	if msg == nil {
		return false
	}
	msg.Content += content
	if speaker != "" {
		msg.Speaker = speaker
	}
	return true
}

// FinishStreaming closes the streaming message, freezing its content.
func (s *Session) FinishStreaming() {
	if msg := s.StreamingMessage(); msg != nil {
		msg.Streaming = false
	}
}

// DropStreamingIfEmpty removes the streaming message when it has no content,
// otherwise it is kept as-is and finished. Returns true if a message was dropped.
func (s *Session) DropStreamingIfEmpty() bool {
	msg := s.StreamingMessage()
	if msg == nil {
		return false
	}
	if msg.Content == "" {
		s.Messages = s.Messages[:len(s.Messages)-1]
		return true
	}
	msg.Streaming = false
	return false
}

// Clone returns a deep copy safe to hand outside the owning controller.
func (s *Session) Clone() Session {
	out := *s
	out.Messages = make([]Message, len(s.Messages))
	copy(out.Messages, s.Messages)
	return out
}
