package remote

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/ngalo-coder/simclient/internal/domain"
)

// Field aliases seen across service versions, most preferred first.
var (
	SessionIDKeys        = []string{"sessionId", "session_id", "id"}
	CounterpartNameKeys  = []string{"counterpartName", "counterpart_name", "patientName", "patient_name", "speaks_for", "name"}
	InitialUtteranceKeys = []string{"initialUtterance", "initial_utterance", "initialPrompt", "initial_prompt", "patientMessage", "message", "content"}
	EvaluationKeys       = []string{"evaluation", "summary"}
)

// ErrMalformedResponse is returned for bodies that cannot be decoded.
var ErrMalformedResponse = errors.New("malformed response")

// StatusError is a non-2xx response from the service.
type StatusError struct {
	Status  int
	Code    string
	Message string
}

func (e *StatusError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	if e.Code != "" {
		return fmt.Sprintf("status %d (%s): %s", e.Status, e.Code, msg)
	}
	return fmt.Sprintf("status %d: %s", e.Status, msg)
}

// StatusCode returns the HTTP status.
func (e *StatusError) StatusCode() int { return e.Status }

// ErrorCode returns the structured kind the service sent, if any.
func (e *StatusError) ErrorCode() string { return e.Code }

// NewStatusError builds a StatusError from a response body, reading the
// structured code and message when the body is JSON.
func NewStatusError(status int, body []byte) *StatusError {
	e := &StatusError{Status: status}
	if !gjson.ValidBytes(body) {
		e.Message = strings.TrimSpace(string(body))
		return e
	}
	root := gjson.ParseBytes(body)
	e.Code = FirstString(root, "code", "kind", "error.code", "error.kind")
	e.Message = FirstString(root, "message", "error.message", "error")
	return e
}

// FirstString returns the first non-empty string or number among keys.
func FirstString(v gjson.Result, keys ...string) string {
	for _, k := range keys {
		r := v.Get(k)
		switch r.Type {
		case gjson.String, gjson.Number:
			if s := strings.TrimSpace(r.String()); s != "" {
				return s
			}
		}
	}
	return ""
}

func decodeStart(body []byte) (StartResult, error) {
	if !gjson.ValidBytes(body) {
		return StartResult{}, fmt.Errorf("%w: not JSON", ErrMalformedResponse)
	}
	root := envelope(gjson.ParseBytes(body))

	res := StartResult{
		SessionID:        FirstString(root, SessionIDKeys...),
		CounterpartName:  FirstString(root, CounterpartNameKeys...),
		InitialUtterance: FirstString(root, InitialUtteranceKeys...),
	}
	if res.SessionID == "" {
		return StartResult{}, fmt.Errorf("%w: no session id", ErrMalformedResponse)
	}
	return res, nil
}

func decodeEvaluation(body []byte) *domain.Evaluation {
	if len(body) == 0 || !gjson.ValidBytes(body) {
		return nil
	}
	return EvaluationFrom(envelope(gjson.ParseBytes(body)), EvaluationKeys...)
}

// EvaluationFrom extracts an evaluation payload from the first present key.
// A string becomes the summary; objects and arrays are kept raw.
func EvaluationFrom(v gjson.Result, keys ...string) *domain.Evaluation {
	for _, k := range keys {
		r := v.Get(k)
		switch {
		case !r.Exists() || r.Type == gjson.Null:
			continue
		case r.Type == gjson.String:
			if r.String() == "" {
				continue
			}
			return &domain.Evaluation{Summary: r.String()}
		case r.IsObject():
			ev := &domain.Evaluation{Raw: []byte(r.Raw)}
			ev.Summary = FirstString(r, "summary", "feedback", "text")
			return ev
		default:
			return &domain.Evaluation{Raw: []byte(r.Raw)}
		}
	}
	return nil
}

// envelope unwraps a {"data": {...}} wrapper when present.
func envelope(root gjson.Result) gjson.Result {
	if data := root.Get("data"); data.IsObject() {
		return data
	}
	return root
}
