package stream

import (
	"time"

	"github.com/ngalo-coder/simclient/internal/domain"
)

// Outcome is what applying one event did to the session.
type Outcome struct {
	// Message is a copy of the message the event touched, if any.
	Message    *domain.Message
	Terminal   bool
	Ended      bool
	Evaluation *domain.Evaluation
	Err        error
}

// Accumulator folds exchange events into a session. It is not safe for
// concurrent use; the owner of the session serializes calls.
type Accumulator struct {
	session *domain.Session
	now     func() time.Time
}

// NewAccumulator creates an accumulator writing into s.
func NewAccumulator(s *domain.Session, now func() time.Time) *Accumulator {
	if now == nil {
		now = time.Now
	}
	return &Accumulator{session: s, now: now}
}

// Apply folds ev into the session.
func (a *Accumulator) Apply(ev Event) Outcome {
	s := a.session
	switch ev.Type {
	case EventChunk:
		if ev.Speaker != "" {
			s.CounterpartName = ev.Speaker
		}
		if s.StreamingMessage() == nil {
			s.BeginStreaming(domain.NewMessage(domain.RoleCounterpart, s.CounterpartName, "", a.now()))
		}
		s.AppendStreaming(ev.Content, ev.Speaker)
		return Outcome{Message: copyOf(s.StreamingMessage())}

	case EventDone:
		msg := a.finish()
		return Outcome{Message: msg, Terminal: true}

	case EventSessionEnd:
		msg := a.finish()
		s.Status = domain.StatusEnded
		return Outcome{Message: msg, Terminal: true, Ended: true, Evaluation: ev.Evaluation}

	case EventError:
		msg := a.Fail()
		return Outcome{Message: msg, Terminal: true, Err: ev.Err()}
	}
	return Outcome{}
}

// Fail handles a channel failure: an empty streaming message is dropped, a
// partial one is kept with its content frozen. It returns the kept message.
func (a *Accumulator) Fail() *domain.Message {
	msg := a.session.StreamingMessage()
	if msg == nil {
		return nil
	}
	if a.session.DropStreamingIfEmpty() {
		return nil
	}
	return copyOf(&a.session.Messages[len(a.session.Messages)-1])
}

func (a *Accumulator) finish() *domain.Message {
	msg := a.session.StreamingMessage()
	if msg == nil {
		return nil
	}
	a.session.FinishStreaming()
	return copyOf(msg)
}

func copyOf(m *domain.Message) *domain.Message {
	if m == nil {
		return nil
	}
	c := *m
	return &c
}
