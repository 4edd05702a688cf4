package domain

import (
	"time"
)

// NavigationContext is carried opaquely from entry to every exit.
type NavigationContext struct {
	ReturnPath string `json:"return_path,omitempty"`
	Tag        string `json:"tag,omitempty"`
}

// IsZero reports whether nothing was carried in.
func (n NavigationContext) IsZero() bool {
	return n.ReturnPath == "" && n.Tag == ""
}

// Bookmark is the persisted state behind a canonical address.
type Bookmark struct {
	Path      string
	Title     string
	Nav       NavigationContext
	CreatedAt time.Time
	UpdatedAt time.Time
}

// RetryBudget bounds the attempts made for one failure scope.
type RetryBudget struct {
	MaxAttempts int
	Attempts    int
}

// DefaultMaxAttempts includes the first attempt.
const DefaultMaxAttempts = 3

// NewRetryBudget returns a budget allowing max total attempts.
func NewRetryBudget(max int) RetryBudget {
	if max <= 0 {
		max = DefaultMaxAttempts
	}
	return RetryBudget{MaxAttempts: max}
}

// Remaining returns how many attempts may still be made.
func (b RetryBudget) Remaining() int {
	if r := b.MaxAttempts - b.Attempts; r > 0 {
		return r
	}
	return 0
}

// Exhausted reports whether the cap has been reached.
func (b RetryBudget) Exhausted() bool {
	return b.Remaining() == 0
}
