package state

import (
	"log/slog"
	"sync"
)

// InMemorySessionManager tracks every signed-on session, keyed by UIN. At most
// one session exists per account: a new sign-on evicts the previous one.
type InMemorySessionManager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	logger   *slog.Logger
}

// NewInMemorySessionManager creates an empty session registry.
func NewInMemorySessionManager(logger *slog.Logger) *InMemorySessionManager {
	return &InMemorySessionManager{
		sessions: make(map[string]*Session),
		logger:   logger,
	}
}

// AddSession registers a new session for uin. Any existing session for the
// same account is closed and replaced, which makes its connection goroutine
// tear the old connection down.
func (m *InMemorySessionManager) AddSession(uin string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.sessions[uin]; ok {
		m.logger.Info("evicting duplicate session", "uin", uin)
		old.Close()
	}
	sess := NewSession(uin)
	m.sessions[uin] = sess
	return sess
}

// RemoveSession unregisters sess. The registry entry is only deleted when it
// still points at this exact session, so an eviction replacement is never
// clobbered by the evicted connection's cleanup.
func (m *InMemorySessionManager) RemoveSession(sess *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if current, ok := m.sessions[sess.UIN()]; ok && current == sess {
		delete(m.sessions, sess.UIN())
	}
	sess.Close()
}

// RetrieveSession returns the live session for uin, or nil when the account
// is offline.
func (m *InMemorySessionManager) RetrieveSession(uin string) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[uin]
}

// AllSessions returns a snapshot of every signed-on session.
func (m *InMemorySessionManager) AllSessions() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		out = append(out, sess)
	}
	return out
}
