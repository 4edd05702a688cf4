package domain

import "fmt"

// ErrorKind categorizes a failed operation.
type ErrorKind string

const (
	KindNotFound      ErrorKind = "not_found"
	KindAuth          ErrorKind = "auth"
	KindServerFault   ErrorKind = "server_fault"
	KindTimeout       ErrorKind = "timeout"
	KindNetwork       ErrorKind = "network"
	KindUnknown       ErrorKind = "unknown"
	KindConfiguration ErrorKind = "configuration"
)

// Retryable reports whether failures of this kind may be retried.
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindNotFound, KindAuth, KindConfiguration:
		return false
	default:
		return true
	}
}

// Redirects reports whether failures of this kind leave the session view.
func (k ErrorKind) Redirects() bool {
	return k == KindNotFound || k == KindAuth
}

// UserMessage returns the fixed user-facing template for the kind.
func (k ErrorKind) UserMessage() string {
	switch k {
	case KindNotFound:
		return "This case could not be found. Returning you to the case list."
	case KindAuth:
		return "Your session has expired. Please sign in again."
	case KindServerFault:
		return "The simulation service is having trouble. Please try again."
	case KindTimeout:
		return "The simulation service took too long to respond. Please try again."
	case KindNetwork:
		return "Unable to reach the simulation service. Check your connection and try again."
	case KindConfiguration:
		return "This simulation link is invalid."
	default:
		return "Something went wrong. Please try again."
	}
}

// ErrorState is the typed diagnosis of a failed operation.
type ErrorState struct {
	Kind       ErrorKind `json:"kind"`
	Message    string    `json:"message"`
	Retryable  bool      `json:"retryable"`
	RetryCount int       `json:"retry_count"`
	Raw        string    `json:"raw,omitempty"`
	Cause      error     `json:"-"`
}

// NewErrorState builds the state for kind with its template message.
func NewErrorState(kind ErrorKind, cause error) *ErrorState {
	st := &ErrorState{
		Kind:      kind,
		Message:   kind.UserMessage(),
		Retryable: kind.Retryable(),
		Cause:     cause,
	}
	if cause != nil {
		st.Raw = cause.Error()
	}
	return st
}

func (e *ErrorState) Error() string {
	if e.Raw == "" {
		return string(e.Kind) + ": " + e.Message
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Raw)
}

func (e *ErrorState) Unwrap() error {
	return e.Cause
}
