package stream

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/ngalo-coder/simclient/internal/domain"
	"github.com/ngalo-coder/simclient/internal/remote"
)

// EventType tags a frame on the exchange channel.
type EventType string

const (
	EventChunk      EventType = "chunk"
	EventDone       EventType = "done"
	EventSessionEnd EventType = "session_end"
	EventError      EventType = "error"
)

// Terminal reports whether the event ends the exchange.
func (t EventType) Terminal() bool {
	return t == EventDone || t == EventSessionEnd || t == EventError
}

var speakerKeys = []string{"speaks_for", "speaksFor", "name"}

// Event is one decoded frame.
type Event struct {
	Type       EventType
	Content    string
	Speaker    string
	Evaluation *domain.Evaluation
	Message    string
	Code       string
}

// Err returns the failure carried by an error event, or nil.
func (e Event) Err() error {
	if e.Type != EventError {
		return nil
	}
	return &FrameError{Code: e.Code, Message: e.Message}
}

// FrameError is an error event sent by the service mid-stream.
type FrameError struct {
	Code    string
	Message string
}

func (e *FrameError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "stream reported an error"
	}
	if e.Code != "" {
		return fmt.Sprintf("%s (%s)", msg, e.Code)
	}
	return msg
}

// ErrorCode exposes the structured code for classification.
func (e *FrameError) ErrorCode() string { return e.Code }

// RawFrame is one undecoded frame. Event is the transport-level name, if any.
type RawFrame struct {
	Event string
	Data  []byte
}

// Decode turns a raw frame into an Event. The JSON "type" field wins over the
// transport event name. Anything that is not a JSON object is chunk text.
func Decode(raw RawFrame) (Event, error) {
	var v gjson.Result
	if gjson.ValidBytes(raw.Data) {
		v = gjson.ParseBytes(raw.Data)
	}
	if !v.IsObject() {
		t := frameType(raw.Event)
		if t != EventChunk {
			return Event{}, fmt.Errorf("%w: %q frame is not a JSON object", ErrMalformedFrame, t)
		}
		return Event{Type: EventChunk, Content: string(raw.Data)}, nil
	}

	t := EventType(v.Get("type").String())
	if t == "" {
		t = frameType(raw.Event)
	}

	ev := Event{Type: t}
	switch t {
	case EventChunk:
		ev.Content = v.Get("content").String()
		ev.Speaker = remote.FirstString(v, speakerKeys...)
	case EventDone:
	case EventSessionEnd:
		ev.Evaluation = remote.EvaluationFrom(v, "summary", "evaluation")
	case EventError:
		ev.Message = remote.FirstString(v, "message", "error", "content")
		ev.Code = remote.FirstString(v, "code", "kind")
	default:
		return Event{}, fmt.Errorf("%w: unknown type %q", ErrMalformedFrame, t)
	}
	return ev, nil
}

// frameType maps a transport event name to an event type. SSE's default
// name and a missing name both mean chunk.
func frameType(event string) EventType {
	t := EventType(strings.TrimSpace(event))
	if t == "" || t == "message" {
		return EventChunk
	}
	return t
}
