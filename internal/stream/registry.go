package stream

import (
	"log/slog"
	"sync"
)

// Registry tracks the open channel of each session so that it can be closed
// from outside the goroutine reading it.
type Registry struct {
	mu     sync.Mutex
	active map[string]Channel
	logger *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{active: make(map[string]Channel), logger: logger}
}

// Len returns the number of open channels.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

// Register records ch as the open channel for sessionID, closing any channel
// it replaces. Channels are closed after the lock is released.
func (r *Registry) Register(sessionID string, ch Channel) {
	r.mu.Lock()
	existing, ok := r.active[sessionID]
	r.active[sessionID] = ch
	r.mu.Unlock()

	if ok && existing != ch {
		_ = existing.Close()
		r.logger.Warn("Stream channel replaced", "session_id", sessionID)
	}
	r.logger.Debug("Stream channel registered", "session_id", sessionID)
}

// Unregister forgets ch if it is still the open channel for sessionID.
func (r *Registry) Unregister(sessionID string, ch Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.active[sessionID]; ok && current == ch {
		delete(r.active, sessionID)
		r.logger.Debug("Stream channel unregistered", "session_id", sessionID)
	}
}

// CloseSession closes the open channel for sessionID.
func (r *Registry) CloseSession(sessionID string) {
	r.mu.Lock()
	ch, ok := r.active[sessionID]
	delete(r.active, sessionID)
	r.mu.Unlock()

	if ok {
		_ = ch.Close()
		r.logger.Info("Stream channel closed", "session_id", sessionID)
	}
}

// CloseAll closes every open channel.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	open := r.active
	r.active = make(map[string]Channel)
	r.mu.Unlock()

	for sid, ch := range open {
		_ = ch.Close()
		r.logger.Info("Stream channel closed", "session_id", sid)
	}
}
