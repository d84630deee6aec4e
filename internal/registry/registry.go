// Package registry tracks which live connections listen to which game.
package registry

import (
	"context"
	"sort"
	"sync"
)

// Registry maps connection ids to game ids. A connection listens to at most
// one game; registering it again moves it. Unregister of an unknown id is a no-op.
type Registry interface {
	Register(ctx context.Context, connectionID, gameID string) error
	Unregister(ctx context.Context, connectionID string) error
	ListByGame(ctx context.Context, gameID string) ([]string, error)
}

// Memory is an in-process Registry.
type Memory struct {
	mu     sync.RWMutex
	byConn map[string]string
	byGame map[string]map[string]struct{}
}

func NewMemory() *Memory {
	return &Memory{
		byConn: make(map[string]string),
		byGame: make(map[string]map[string]struct{}),
	}
}

func (m *Memory) Register(_ context.Context, connectionID, gameID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeUnsafe(connectionID)
	m.byConn[connectionID] = gameID
	set, ok := m.byGame[gameID]
	if !ok {
		set = make(map[string]struct{})
		m.byGame[gameID] = set
	}
	set[connectionID] = struct{}{}
	return nil
}

func (m *Memory) Unregister(_ context.Context, connectionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeUnsafe(connectionID)
	return nil
}

// ListByGame returns the subscribers of gameID in sorted order.
func (m *Memory) ListByGame(_ context.Context, gameID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	set := m.byGame[gameID]
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

// GameOf returns the game a connection listens to.
func (m *Memory) GameOf(connectionID string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.byConn[connectionID]
	return g, ok
}

// removeUnsafe drops connectionID from both indexes. Assumes lock is held.
func (m *Memory) removeUnsafe(connectionID string) {
	gameID, ok := m.byConn[connectionID]
	if !ok {
		return
	}
	delete(m.byConn, connectionID)
	if set, ok := m.byGame[gameID]; ok {
		delete(set, connectionID)
		if len(set) == 0 {
			delete(m.byGame, gameID)
		}
	}
}
