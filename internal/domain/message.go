package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Role identifies who produced a message.
type Role string

const (
	RoleOperator     Role = "operator"
	RoleCounterpart  Role = "counterpart"
	RoleSystemNotice Role = "system"
)

// Message is a single entry in the session history.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Speaker   string    `json:"speaker,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Streaming bool      `json:"streaming"`
}

// NewMessage creates a message with a fresh identifier.
func NewMessage(role Role, speaker, content string, at time.Time) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		Speaker:   speaker,
		Timestamp: at,
	}
}

// Evaluation is the payload surfaced when a session ends.
type Evaluation struct {
	Summary string          `json:"summary,omitempty"`
	Raw     json.RawMessage `json:"raw,omitempty"`
}

// Empty reports whether the evaluation carries nothing to present.
func (e *Evaluation) Empty() bool {
	return e == nil || (e.Summary == "" && len(e.Raw) == 0)
}
