package store

import (
	"context"
	"sync"
	"time"

	"github.com/jason-s-yu/dinomemo/internal/models"
)

// MemoryStore keeps game states in a map. All reads and writes copy, so
// callers never share state with the store.
type MemoryStore struct {
	mu    sync.Mutex
	games map[string]*models.GameState
	now   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		games: make(map[string]*models.GameState),
		now:   time.Now,
	}
}

func (s *MemoryStore) Create(_ context.Context, state *models.GameState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.games[state.GameID]; exists {
		return ErrGameExists
	}
	s.store(state.Clone())
	return nil
}

func (s *MemoryStore) Get(_ context.Context, gameID string) (*models.GameState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.games[gameID]
	if !ok {
		return nil, ErrGameNotFound
	}
	return g.Clone(), nil
}

// Put overwrites the whole record.
func (s *MemoryStore) Put(_ context.Context, state *models.GameState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := state.Clone()
	if old, ok := s.games[state.GameID]; ok {
		cp.Version = old.Version
	}
	s.store(cp)
	return nil
}

func (s *MemoryStore) Update(_ context.Context, gameID string, patch models.Patch) (*models.GameState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.games[gameID]
	if !ok {
		return nil, ErrGameNotFound
	}
	next := g.Clone()
	if err := ApplyPatch(next, patch); err != nil {
		return nil, err
	}
	s.store(next)
	return next.Clone(), nil
}

func (s *MemoryStore) Join(_ context.Context, gameID, playerName string) (*models.GameState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.games[gameID]
	if !ok {
		return nil, ErrGameNotFound
	}
	next := g.Clone()
	if err := SeatPlayer2(next, playerName); err != nil {
		return nil, err
	}
	s.store(next)
	return next.Clone(), nil
}

// store bumps the version and saves g. Assumes lock is held.
func (s *MemoryStore) store(g *models.GameState) {
	g.Version++
	g.UpdatedAt = s.now()
	s.games[g.GameID] = g
}
