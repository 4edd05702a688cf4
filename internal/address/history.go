package address

import (
	"sync"

	"github.com/ngalo-coder/simclient/internal/domain"
)

// Mode selects how SetPath changes the address.
type Mode int

const (
	// ModeReplace rewrites the current entry without navigating.
	ModeReplace Mode = iota
	// ModeNavigate leaves the current view.
	ModeNavigate
)

func (m Mode) String() string {
	switch m {
	case ModeReplace:
		return "replace"
	case ModeNavigate:
		return "navigate"
	default:
		return "unknown"
	}
}

// State travels with a history entry.
type State struct {
	Title string                   `json:"title,omitempty"`
	Nav   domain.NavigationContext `json:"nav"`
}

// History is the address bar seen from the controller.
type History interface {
	CurrentPath() string
	SetPath(path string, state State, mode Mode)
}

// Entry is one recorded SetPath call.
type Entry struct {
	Path  string
	State State
	Mode  Mode
}

// MemoryHistory keeps the address in process.
type MemoryHistory struct {
	mu      sync.Mutex
	entries []Entry
}

// NewMemoryHistory starts at path.
func NewMemoryHistory(path string) *MemoryHistory {
	return &MemoryHistory{entries: []Entry{{Path: path, Mode: ModeNavigate}}}
}

func (h *MemoryHistory) CurrentPath() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.entries) == 0 {
		return ""
	}
	return h.entries[len(h.entries)-1].Path
}

func (h *MemoryHistory) SetPath(path string, state State, mode Mode) {
	h.mu.Lock()
	defer h.mu.Unlock()
	e := Entry{Path: path, State: state, Mode: mode}
	if mode == ModeReplace && len(h.entries) > 0 {
		h.entries[len(h.entries)-1] = e
		return
	}
	h.entries = append(h.entries, e)
}

// Current returns the latest entry.
func (h *MemoryHistory) Current() Entry {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.entries) == 0 {
		return Entry{}
	}
	return h.entries[len(h.entries)-1]
}

// Entries returns a copy of every entry.
func (h *MemoryHistory) Entries() []Entry {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Entry(nil), h.entries...)
}
