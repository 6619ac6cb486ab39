package asr

import (
	"errors"
	"sync"
)

// ErrAlreadyRegistered is returned by Add when a session already exists
// for the participant.
var ErrAlreadyRegistered = errors.New("session already registered for participant")

// Registry tracks at most one live session per participant identity.
// Membership decides whether inbound audio for a speaker is forwarded,
// so removal must happen before the session is torn down.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]Transcriber
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]Transcriber)}
}

// Add registers a session under its participant identity.
func (r *Registry) Add(s Transcriber) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[s.Identity()]; ok {
		return ErrAlreadyRegistered
	}
	r.sessions[s.Identity()] = s
	return nil
}

// Get returns the session for a participant, if registered.
func (r *Registry) Get(identity string) (Transcriber, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[identity]
	return s, ok
}

// Has reports whether a participant currently holds a session.
func (r *Registry) Has(identity string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sessions[identity]
	return ok
}

// Remove unregisters and returns the participant's session. The caller
// disconnects it after removal so no audio races into a dying session.
func (r *Registry) Remove(identity string) (Transcriber, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[identity]
	if ok {
		delete(r.sessions, identity)
	}
	return s, ok
}

// Snapshot returns the current sessions for iteration without holding
// the registry lock.
func (r *Registry) Snapshot() []Transcriber {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Transcriber, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
