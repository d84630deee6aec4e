// Package store defines how game states are persisted.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jason-s-yu/dinomemo/internal/models"
)

var (
	// ErrGameNotFound is returned for an unknown game id.
	ErrGameNotFound = errors.New("game not found")
	// ErrGameFull is returned when joining a game whose player2 seat is taken.
	ErrGameFull = errors.New("game is full")
	// ErrGameExists is returned when creating a game under an id already in use.
	ErrGameExists = errors.New("game already exists")
	// ErrInvalidPatch is returned when a partial update does not fit the stored game.
	ErrInvalidPatch = errors.New("invalid game update")
)

// GameStateStore persists one record per game id.
//
// Update is a field merge: fields the patch leaves nil keep their stored value.
// Concurrent updates are last-write-wins. Join is the only conditional write:
// it fails with ErrGameFull if player2 already has a name.
type GameStateStore interface {
	Create(ctx context.Context, state *models.GameState) error
	Get(ctx context.Context, gameID string) (*models.GameState, error)
	Put(ctx context.Context, state *models.GameState) error
	Update(ctx context.Context, gameID string, patch models.Patch) (*models.GameState, error)
	Join(ctx context.Context, gameID, playerName string) (*models.GameState, error)
}

// ApplyPatch merges patch into state in place.
func ApplyPatch(state *models.GameState, patch models.Patch) error {
	if patch.CardFlipped != nil && len(patch.CardFlipped) != len(state.CardDeck) {
		return fmt.Errorf("%w: cardFlipped has %d entries, deck has %d", ErrInvalidPatch, len(patch.CardFlipped), len(state.CardDeck))
	}
	if patch.CurrentPlayer != nil && !patch.CurrentPlayer.Valid() {
		return fmt.Errorf("%w: unknown seat %q", ErrInvalidPatch, *patch.CurrentPlayer)
	}
	if patch.Players != nil && patch.Players.Player1 == nil {
		return fmt.Errorf("%w: players without player1", ErrInvalidPatch)
	}

	if patch.CardFlipped != nil {
		state.CardFlipped = append([]bool(nil), patch.CardFlipped...)
	}
	if patch.Players != nil {
		state.Players.Player1 = mergeSeat(state.Players.Player1, patch.Players.Player1)
		state.Players.Player2 = mergeSeat(state.Players.Player2, patch.Players.Player2)
	}
	if patch.Player1 != nil {
		state.Players.Player1 = mergeSeat(state.Players.Player1, patch.Player1)
	}
	if patch.Player2 != nil {
		state.Players.Player2 = mergeSeat(state.Players.Player2, patch.Player2)
	}
	if patch.CurrentPlayer != nil {
		state.CurrentPlayer = *patch.CurrentPlayer
	}
	return nil
}

// mergeSeat applies a patched seat onto the stored one. Names only change
// through Join and points never go down, so a writer holding an old view
// cannot unseat a player or take back a score. A seat the game does not
// have stays absent.
func mergeSeat(stored, patched *models.Player) *models.Player {
	if stored == nil {
		return nil
	}
	out := &models.Player{Name: stored.Name, Points: stored.Points}
	if out.Name != nil {
		name := *out.Name
		out.Name = &name
	}
	if patched != nil && patched.Points > out.Points {
		out.Points = patched.Points
	}
	return out
}

// SeatPlayer2 fills the player2 seat of state with name.
// A player already seated under the same name rejoins without error.
func SeatPlayer2(state *models.GameState, name string) error {
	if state.IsSinglePlayer {
		return ErrGameFull
	}
	p2 := state.Players.Player2
	if p2.Seated() {
		if *p2.Name == name {
			return nil
		}
		return ErrGameFull
	}
	points := 0
	if p2 != nil {
		points = p2.Points
	}
	state.Players.Player2 = &models.Player{Name: &name, Points: points}
	return nil
}
