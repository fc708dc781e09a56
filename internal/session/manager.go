package session

import (
	"sync"

	ilog "github.com/cdp-agent/browserctl/internal/logger"
	"github.com/cdp-agent/browserctl/pkg/model"
)

// Manager is the controller's bookkeeping map from session id to Session,
// generalized from the teacher's map[SessionID]*Session ownership pattern.
type Manager struct {
	mu       sync.RWMutex
	sessions map[model.SessionID]*Session
	log      ilog.Logger
}

func NewManager(l ilog.Logger) *Manager {
	if l == nil {
		l = ilog.NewNop()
	}
	return &Manager{sessions: make(map[model.SessionID]*Session), log: l}
}

func (m *Manager) Put(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	m.log.Info("session registered", "sessionID", string(s.ID))
}

func (m *Manager) Get(id model.SessionID) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

func (m *Manager) Delete(id model.SessionID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	m.log.Info("session removed", "sessionID", string(id))
}

func (m *Manager) List() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}
