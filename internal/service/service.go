// Package service implements the game boundary operations shared by the HTTP
// and websocket handlers.
package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"

	"github.com/jason-s-yu/dinomemo/internal/broadcast"
	"github.com/jason-s-yu/dinomemo/internal/catalog"
	"github.com/jason-s-yu/dinomemo/internal/deck"
	"github.com/jason-s-yu/dinomemo/internal/models"
	"github.com/jason-s-yu/dinomemo/internal/store"
	"github.com/sirupsen/logrus"
)

// ErrInvalidName is returned for an empty player name.
var ErrInvalidName = errors.New("player name is required")

const (
	gameIDLength   = 6
	gameIDAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	createAttempts = 5
)

// GameService creates, reads, joins and updates games.
type GameService struct {
	store       store.GameStateStore
	catalog     catalog.Catalog
	broadcaster *broadcast.Broadcaster
	logger      *logrus.Logger

	PairCount int

	rngMu sync.Mutex
	rng   *rand.Rand
}

func New(st store.GameStateStore, cat catalog.Catalog, b *broadcast.Broadcaster, logger *logrus.Logger) *GameService {
	return &GameService{
		store:       st,
		catalog:     cat,
		broadcaster: b,
		logger:      logger,
		PairCount:   deck.DefaultPairCount,
		rng:         deck.NewSource(),
	}
}

// WithRand replaces the random source used for decks and game ids.
func (s *GameService) WithRand(r *rand.Rand) *GameService {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	s.rng = r
	return s
}

// CreateGame builds a shuffled deck and stores a new game with player1 seated.
func (s *GameService) CreateGame(ctx context.Context, player1Name string, singlePlayer bool) (*models.GameState, error) {
	player1Name = strings.TrimSpace(player1Name)
	if player1Name == "" {
		return nil, ErrInvalidName
	}

	dinos, err := s.catalog.List(ctx)
	if err != nil {
		s.logger.Errorf("read dinosaur catalog: %v", err)
		return nil, fmt.Errorf("%w: %v", catalog.ErrCatalogUnavailable, err)
	}

	for attempt := 0; attempt < createAttempts; attempt++ {
		s.rngMu.Lock()
		cards, err := deck.Generate(dinos, s.PairCount, s.rng)
		id := s.newGameIDUnsafe()
		s.rngMu.Unlock()
		if err != nil {
			return nil, err
		}

		gs := models.NewGameState(id, cards, player1Name, singlePlayer)
		err = s.store.Create(ctx, gs)
		if errors.Is(err, store.ErrGameExists) {
			s.logger.Debugf("game id %s already taken, retrying", id)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("create game: %w", err)
		}

		created, err := s.store.Get(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("read created game %s: %w", id, err)
		}
		s.logger.WithFields(logrus.Fields{
			"game_id":       id,
			"single_player": singlePlayer,
		}).Info("game created")
		s.broadcaster.Record(ctx, created, player1Name, models.ActionCreateGame)
		return created, nil
	}
	return nil, fmt.Errorf("create game: no free id after %d attempts", createAttempts)
}

// GetGame returns the stored state of gameID.
func (s *GameService) GetGame(ctx context.Context, gameID string) (*models.GameState, error) {
	return s.store.Get(ctx, gameID)
}

// JoinGame seats name as player2 and pushes the new state to subscribers.
func (s *GameService) JoinGame(ctx context.Context, gameID, name string) (*models.GameState, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrInvalidName
	}
	gs, err := s.store.Join(ctx, gameID, name)
	if err != nil {
		return nil, err
	}
	s.logger.WithField("game_id", gameID).Infof("player2 %q joined", name)
	s.broadcaster.Record(ctx, gs, name, models.ActionJoinGame)
	s.broadcaster.Fanout(ctx, gameID, gs)
	return gs, nil
}

// UpdateGame merges a partial update into gameID and pushes the result to subscribers.
func (s *GameService) UpdateGame(ctx context.Context, gameID string, patch models.Patch) (*models.GameState, error) {
	gs, err := s.store.Update(ctx, gameID, patch)
	if err != nil {
		return nil, err
	}
	actionType := models.ActionUpdateGame
	if gs.AllFlipped() {
		actionType = models.ActionEndGame
	}
	s.broadcaster.Record(ctx, gs, "", actionType)
	s.broadcaster.Fanout(ctx, gameID, gs)
	return gs, nil
}

// PublishState persists a full proposed state from a real-time client and fans
// it out. requestID is echoed back with the pushed state.
func (s *GameService) PublishState(ctx context.Context, gameID, requestID string, state *models.GameState) (*models.GameState, error) {
	if state == nil {
		return nil, fmt.Errorf("%w: missing gameState", store.ErrInvalidPatch)
	}
	return s.broadcaster.Publish(ctx, gameID, requestID, state)
}

// newGameIDUnsafe returns a short base36 id. Assumes rngMu is held.
func (s *GameService) newGameIDUnsafe() string {
	var b strings.Builder
	for i := 0; i < gameIDLength; i++ {
		b.WriteByte(gameIDAlphabet[s.rng.Intn(len(gameIDAlphabet))])
	}
	return b.String()
}
