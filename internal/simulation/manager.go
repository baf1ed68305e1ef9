package simulation

import (
	"sync"

	"github.com/google/uuid"

	"concurseiro-backend/internal/models"
)

type key struct {
	userID       uuid.UUID
	simulationID string
}

// Manager keeps the live sessions of every user in memory. A session lost on
// restart is rebuilt from its last persisted snapshot.
//
// A closed session leaves its last emitted snapshot parked until the writer
// settles it, so a session reopened in between resumes from that snapshot
// instead of an older stored one.
type Manager struct {
	mu       sync.RWMutex
	sessions map[key]*Session
	parked   map[key]models.SimulationResult
}

func NewManager() *Manager {
	return &Manager{
		sessions: make(map[key]*Session),
		parked:   make(map[key]models.SimulationResult),
	}
}

func (m *Manager) Get(userID uuid.UUID, simulationID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[key{userID, simulationID}]
	return s, ok
}

// Put registers s, replacing any session open for the same simulation.
func (m *Manager) Put(userID uuid.UUID, s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key{userID, s.ID()}
	m.sessions[k] = s
	delete(m.parked, k)
}

// Close releases the session and parks its last emitted snapshot.
func (m *Manager) Close(userID uuid.UUID, s *Session) {
	snap, emitted := s.LastEmitted()

	m.mu.Lock()
	defer m.mu.Unlock()
	k := key{userID, s.ID()}
	if m.sessions[k] == s {
		delete(m.sessions, k)
	}
	if emitted {
		if prev, ok := m.parked[k]; !ok || !prev.Date.After(snap.Date) {
			m.parked[k] = snap
		}
	}
}

// Pending returns the parked snapshot of a closed session that the store may
// not hold yet.
func (m *Manager) Pending(userID uuid.UUID, simulationID string) (models.SimulationResult, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap, ok := m.parked[key{userID, simulationID}]
	return snap, ok
}

// Settle drops the parked snapshot once snap, emitted no earlier than it,
// has been dealt with by the store.
func (m *Manager) Settle(userID uuid.UUID, snap models.SimulationResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key{userID, snap.ID}
	if prev, ok := m.parked[k]; ok && !prev.Date.After(snap.Date) {
		delete(m.parked, k)
	}
}

func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
