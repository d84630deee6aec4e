// internal/models/game_state.go
package models

import "time"

// GameState is the authoritative record of one game session.
type GameState struct {
	GameID         string  `json:"gameId"`
	CardDeck       Deck    `json:"cardDeck"`
	CardFlipped    []bool  `json:"cardFlipped"`
	Players        Players `json:"players"`
	CurrentPlayer  Seat    `json:"currentPlayer"`
	IsSinglePlayer bool    `json:"isSinglePlayer"`

	// Version is bumped by the store on every write. It is informational only;
	// updates are not conditional on it.
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// NewGameState builds a fresh game around an already generated deck.
// Multiplayer games get an empty player2 seat, single player games none.
func NewGameState(gameID string, deck Deck, player1Name string, singlePlayer bool) *GameState {
	gs := &GameState{
		GameID:         gameID,
		CardDeck:       deck,
		CardFlipped:    make([]bool, len(deck)),
		Players:        Players{Player1: NewPlayer(player1Name)},
		CurrentPlayer:  SeatPlayer1,
		IsSinglePlayer: singlePlayer,
	}
	if !singlePlayer {
		gs.Players.Player2 = &Player{}
	}
	return gs
}

// AllFlipped reports whether every card is face up.
func (s *GameState) AllFlipped() bool {
	if len(s.CardFlipped) == 0 {
		return false
	}
	for _, f := range s.CardFlipped {
		if !f {
			return false
		}
	}
	return true
}

// Clone returns a deep copy that shares no slices or pointers with s.
func (s *GameState) Clone() *GameState {
	if s == nil {
		return nil
	}
	cp := *s
	cp.CardDeck = append(Deck(nil), s.CardDeck...)
	cp.CardFlipped = append([]bool(nil), s.CardFlipped...)
	cp.Players = s.Players.Clone()
	return &cp
}

// Patch extracts the fields a move may change, for persisting through a partial update.
func (s *GameState) Patch() Patch {
	players := s.Players.Clone()
	current := s.CurrentPlayer
	return Patch{
		CardFlipped:   append([]bool(nil), s.CardFlipped...),
		Players:       &players,
		CurrentPlayer: &current,
	}
}

// Patch is a partial update of a GameState. Nil fields are left untouched.
// Player1 and Player2 replace a single seat and win over Players when both are set.
type Patch struct {
	CardFlipped   []bool   `json:"cardFlipped,omitempty"`
	Players       *Players `json:"players,omitempty"`
	Player1       *Player  `json:"player1,omitempty"`
	Player2       *Player  `json:"player2,omitempty"`
	CurrentPlayer *Seat    `json:"currentPlayer,omitempty"`
}

// Empty reports whether the patch would change nothing.
func (p Patch) Empty() bool {
	return p.CardFlipped == nil && p.Players == nil && p.Player1 == nil && p.Player2 == nil && p.CurrentPlayer == nil
}
