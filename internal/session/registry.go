package session

import (
	"sync"

	apperrors "github.com/shepherd/shepherd/internal/common/errors"
)

// Registry is a concurrency-safe map of session ID to transport. The
// supervisor resolves transports through it so that tmux panes and local
// PTY sessions are interchangeable at evaluation time.
type Registry struct {
	mu         sync.RWMutex
	transports map[string]Transport
}

func NewRegistry() *Registry {
	return &Registry{transports: make(map[string]Transport)}
}

// Register adds or replaces the transport for a session.
func (r *Registry) Register(t Transport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transports[t.SessionID()] = t
}

// Get returns the transport for a session or a not-found error.
func (r *Registry) Get(sessionID string) (Transport, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.transports[sessionID]
	if !ok {
		return nil, apperrors.NotFound("session", sessionID)
	}
	return t, nil
}

// Remove drops the transport for a session, closing it if present.
func (r *Registry) Remove(sessionID string) {
	r.mu.Lock()
	t, ok := r.transports[sessionID]
	delete(r.transports, sessionID)
	r.mu.Unlock()
	if ok {
		_ = t.Close()
	}
}

// IDs returns the registered session IDs.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.transports))
	for id := range r.transports {
		ids = append(ids, id)
	}
	return ids
}
