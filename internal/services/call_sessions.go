package services

import (
	"context"
	"sync"

	"beacon-chat/internal/domain"
	"beacon-chat/internal/domain/call"

	"github.com/google/uuid"
)

// MemoryCallSessions is the in-process CallSessionRegistry, used when a
// single instance serves all connections.
type MemoryCallSessions struct {
	mu     sync.Mutex
	byPair map[string]call.Session
	byUser map[uuid.UUID]string
}

func NewMemoryCallSessions() *MemoryCallSessions {
	return &MemoryCallSessions{
		byPair: make(map[string]call.Session),
		byUser: make(map[uuid.UUID]string),
	}
}

// Put stores the session unless the pair already has one or either user is
// already in a call.
func (m *MemoryCallSessions) Put(ctx context.Context, session call.Session) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pair := session.PairKey()
	if _, ok := m.byPair[pair]; ok {
		return false, nil
	}
	for _, u := range []uuid.UUID{session.CallerID, session.ReceiverID} {
		if _, busy := m.byPair[m.byUser[u]]; busy {
			return false, nil
		}
	}
	m.byPair[pair] = session
	m.byUser[session.CallerID] = pair
	m.byUser[session.ReceiverID] = pair
	return true, nil
}

func (m *MemoryCallSessions) Take(ctx context.Context, a, b uuid.UUID) (call.Session, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pair := domain.PairKey(a, b)
	session, ok := m.byPair[pair]
	if !ok {
		return call.Session{}, false, nil
	}
	delete(m.byPair, pair)
	for _, u := range []uuid.UUID{a, b} {
		if m.byUser[u] == pair {
			delete(m.byUser, u)
		}
	}
	return session, true, nil
}

func (m *MemoryCallSessions) FindByUser(ctx context.Context, userID uuid.UUID) (call.Session, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pair, ok := m.byUser[userID]
	if !ok {
		return call.Session{}, false, nil
	}
	session, ok := m.byPair[pair]
	return session, ok, nil
}
