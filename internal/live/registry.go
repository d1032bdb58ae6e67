package live

import (
	"sort"
	"sync"
	"time"

	"matchlive/internal/session"
)

// SessionID identifies a session opened through the HTTP surface.
type SessionID string

// entry is what the registry keeps per session.
type entry struct {
	session  *session.Orchestrator
	openedAt time.Time
}

// Registry is a concurrency-safe index of open sessions.
type Registry struct {
	mu       sync.RWMutex
	sessions map[SessionID]entry
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[SessionID]entry)}
}

// Add stores s under id. An existing entry with the same id is replaced.
func (r *Registry) Add(id SessionID, s *session.Orchestrator, openedAt time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[id] = entry{session: s, openedAt: openedAt}
}

// Get returns the session stored under id.
func (r *Registry) Get(id SessionID) (*session.Orchestrator, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[id]
	return e.session, ok
}

// Remove deletes id and returns the session it held.
func (r *Registry) Remove(id SessionID) (*session.Orchestrator, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	return e.session, ok
}

// IDs returns the ids of all sessions, oldest first.
func (r *Registry) IDs() []SessionID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]SessionID, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := r.sessions[ids[i]], r.sessions[ids[j]]
		if !a.openedAt.Equal(b.openedAt) {
			return a.openedAt.Before(b.openedAt)
		}
		return ids[i] < ids[j]
	})
	return ids
}

// ActiveSessionCount returns the number of registered sessions.
// Used for metrics.
func (r *Registry) ActiveSessionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
