package memory

import (
	"context"
	"sync"
	"time"

	"github.com/artpar/nibble/ports"
)

// Session is a fake ports.Session that records executed actions and
// transfers, for engine and dispatcher tests.
type Session struct {
	mu        sync.Mutex
	id        string
	vars      map[string]string
	answered  time.Time
	lifecycle ports.Lifecycle

	executed    []string
	transferred []string

	// ExecuteErr makes Execute fail, for exercising the low-balance
	// action failure path.
	ExecuteErr error

	// OnTransfer, when set, runs inside Transfer before it is
	// recorded. Tests use it to observe engine state at reroute time.
	OnTransfer func(destination string)
}

// NewSession creates a fake session.
func NewSession(id string) *Session {
	return &Session{
		id:        id,
		vars:      make(map[string]string),
		lifecycle: ports.LifecycleExecuting,
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Variable returns a named variable, "" if unset.
func (s *Session) Variable(name string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.vars[name]
}

// SetVariable stores a named variable.
func (s *Session) SetVariable(name, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vars[name] = value
}

// AnswerTime returns the configured answer time.
func (s *Session) AnswerTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.answered
}

// Lifecycle returns the configured lifecycle state.
func (s *Session) Lifecycle() ports.Lifecycle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lifecycle
}

// Execute records the action and returns ExecuteErr.
func (s *Session) Execute(ctx context.Context, action string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ExecuteErr != nil {
		return s.ExecuteErr
	}
	s.executed = append(s.executed, action)
	return nil
}

// Transfer records the destination.
func (s *Session) Transfer(ctx context.Context, destination string) error {
	s.mu.Lock()
	hook := s.OnTransfer
	s.mu.Unlock()
	if hook != nil {
		hook(destination)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.transferred = append(s.transferred, destination)
	return nil
}

// Answer marks the session answered at the given time.
func (s *Session) Answer(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.answered = at
}

// SetLifecycle sets the lifecycle state.
func (s *Session) SetLifecycle(l ports.Lifecycle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lifecycle = l
}

// Executed returns the actions executed so far.
func (s *Session) Executed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.executed...)
}

// Transferred returns the transfer destinations so far.
func (s *Session) Transferred() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.transferred...)
}

// Ensure interface compliance.
var _ ports.Session = (*Session)(nil)

// SessionRegistry is an in-memory implementation of
// ports.SessionRegistry.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewSessionRegistry creates an empty registry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{sessions: make(map[string]*Session)}
}

// Add registers a session.
func (r *SessionRegistry) Add(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID()] = s
}

// Remove drops a session, as the runtime does at teardown.
func (r *SessionRegistry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

// Lookup resolves a live session by ID.
func (r *SessionRegistry) Lookup(id string) (ports.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, false
	}
	return s, true
}

// Ensure interface compliance.
var _ ports.SessionRegistry = (*SessionRegistry)(nil)
