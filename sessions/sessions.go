// Package sessions keeps one agent handle per live session and evicts
// handles that have been idle too long.
package sessions

import (
	"context"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/becomeliminal/chat-gateway/logging"
)

// DefaultMaxIdle is how long a handle may go unused before Sweep removes it.
const DefaultMaxIdle = time.Hour

// Handle is the per-session state kept in process memory.
type Handle[T any] struct {
	SessionID  string
	Agent      T
	CreatedAt  time.Time
	LastAccess time.Time

	inflight int
}

// Factory builds the agent for a new session.
type Factory[T any] func(ctx context.Context, sessionID string) (T, error)

// Manager is a mutex-guarded table of session handles.
type Manager[T any] struct {
	mu      sync.Mutex
	handles map[string]*Handle[T]
	now     func() time.Time
	onEvict func(sessionID string, agent T)
}

// Option configures a Manager.
type Option[T any] func(*Manager[T])

// WithClock replaces the time source.
func WithClock[T any](now func() time.Time) Option[T] {
	return func(m *Manager[T]) {
		m.now = now
	}
}

// OnEvict registers fn to run for every handle removed by Sweep or Remove.
// It runs after the table lock is released.
func OnEvict[T any](fn func(sessionID string, agent T)) Option[T] {
	return func(m *Manager[T]) {
		m.onEvict = fn
	}
}

// NewManager creates an empty Manager.
func NewManager[T any](opts ...Option[T]) *Manager[T] {
	m := &Manager[T]{
		handles: make(map[string]*Handle[T]),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Touch returns the handle for sessionID, creating it with factory when
// absent, and refreshes its last access time. factory runs under the table
// lock so concurrent first requests share one handle. If factory fails,
// nothing is stored.
func (m *Manager[T]) Touch(ctx context.Context, sessionID string, factory Factory[T]) (*Handle[T], error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.touchLocked(ctx, sessionID, factory)
}

func (m *Manager[T]) touchLocked(ctx context.Context, sessionID string, factory Factory[T]) (*Handle[T], error) {
	now := m.now()
	if h, ok := m.handles[sessionID]; ok {
		h.LastAccess = now
		return h, nil
	}

	if factory == nil {
		return nil, goerr.New("no factory for new session", goerr.V("session_id", sessionID))
	}
	agent, err := factory(ctx, sessionID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create session agent", goerr.V("session_id", sessionID))
	}

	h := &Handle[T]{
		SessionID:  sessionID,
		Agent:      agent,
		CreatedAt:  now,
		LastAccess: now,
	}
	m.handles[sessionID] = h
	logging.Default().Info("session created", "session_id", sessionID)
	return h, nil
}

// Acquire is Touch that also pins the handle until release is called.
// Sweep never removes a pinned handle.
func (m *Manager[T]) Acquire(ctx context.Context, sessionID string, factory Factory[T]) (*Handle[T], func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, err := m.touchLocked(ctx, sessionID, factory)
	if err != nil {
		return nil, nil, err
	}
	h.inflight++

	var once sync.Once
	release := func() {
		once.Do(func() {
			m.mu.Lock()
			h.inflight--
			h.LastAccess = m.now()
			m.mu.Unlock()
		})
	}
	return h, release, nil
}

// Get returns the handle for sessionID without touching it.
func (m *Manager[T]) Get(sessionID string) (*Handle[T], bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.handles[sessionID]
	return h, ok
}

// Remove drops the handle for sessionID and reports whether it existed.
func (m *Manager[T]) Remove(sessionID string) bool {
	m.mu.Lock()
	h, ok := m.handles[sessionID]
	if ok {
		delete(m.handles, sessionID)
	}
	m.mu.Unlock()

	if ok && m.onEvict != nil {
		m.onEvict(sessionID, h.Agent)
	}
	return ok
}

// Sweep removes handles idle for longer than maxIdle and returns how many
// were removed. A non-positive maxIdle uses DefaultMaxIdle.
func (m *Manager[T]) Sweep(maxIdle time.Duration) int {
	if maxIdle <= 0 {
		maxIdle = DefaultMaxIdle
	}

	m.mu.Lock()
	cutoff := m.now().Add(-maxIdle)
	var evicted []*Handle[T]
	for id, h := range m.handles {
		if h.inflight > 0 || !h.LastAccess.Before(cutoff) {
			continue
		}
		delete(m.handles, id)
		evicted = append(evicted, h)
	}
	m.mu.Unlock()

	for _, h := range evicted {
		logging.Default().Info("session evicted", "session_id", h.SessionID, "last_access", h.LastAccess)
		if m.onEvict != nil {
			m.onEvict(h.SessionID, h.Agent)
		}
	}
	return len(evicted)
}

// Len returns the number of live handles.
func (m *Manager[T]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.handles)
}
