// Package store provides the agent-state persistence backends: Redis
// (default), Postgres, and an in-memory store for tests. Each keeps one
// record per agent keyed by agent ID, holding the serialized snapshot.
package store

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/rextempo/LiqPro-AI-sub007/internal/agent"
)

// Memory is an in-memory StatePersistence, used in tests and as a fallback
// backend for local development.
type Memory struct {
	mu    sync.RWMutex
	snaps map[uuid.UUID]agent.Snapshot
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{snaps: make(map[uuid.UUID]agent.Snapshot)}
}

func (m *Memory) SaveState(_ context.Context, agentID uuid.UUID, snap agent.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snaps[agentID] = snap
	return nil
}

func (m *Memory) LoadState(_ context.Context, agentID uuid.UUID) (*agent.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap, ok := m.snaps[agentID]
	if !ok {
		return nil, nil
	}
	return &snap, nil
}

func (m *Memory) ListAgents(_ context.Context) ([]uuid.UUID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]uuid.UUID, 0, len(m.snaps))
	for id := range m.snaps {
		ids = append(ids, id)
	}
	return ids, nil
}

// DeleteState removes an agent's record, used on unregistration.
func (m *Memory) DeleteState(_ context.Context, agentID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.snaps, agentID)
	return nil
}
