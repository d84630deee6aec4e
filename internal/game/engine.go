// Package game holds the turn engine of a memory game. It does no I/O: every
// function takes a state and returns a new one, leaving its input untouched.
package game

import (
	"fmt"

	"github.com/jason-s-yu/dinomemo/internal/models"
)

// Phase is the position of a game in the turn cycle.
type Phase int

const (
	AwaitingFirstFlip Phase = iota
	AwaitingSecondFlip
	Resolving
	Ended
)

func (p Phase) String() string {
	switch p {
	case AwaitingFirstFlip:
		return "awaiting_first_flip"
	case AwaitingSecondFlip:
		return "awaiting_second_flip"
	case Resolving:
		return "resolving"
	case Ended:
		return "ended"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// Turn is the pending pair of the player on turn. It lives next to the
// GameState rather than in it: the persisted state only carries flip flags.
type Turn struct {
	First  int `json:"first"`
	Second int `json:"second"`
}

// NewTurn returns a turn with no card selected.
func NewTurn() Turn {
	return Turn{First: -1, Second: -1}
}

// Pair returns the two indices of a mismatched pair awaiting resolution.
func (t Turn) Pair() (int, int, bool) {
	if t.First < 0 || t.Second < 0 {
		return 0, 0, false
	}
	return t.First, t.Second, true
}

// PhaseOf derives the phase of s given the pending pair t.
func PhaseOf(s *models.GameState, t Turn) Phase {
	switch {
	case s.AllFlipped():
		return Ended
	case t.Second >= 0:
		return Resolving
	case t.First >= 0:
		return AwaitingSecondFlip
	}
	return AwaitingFirstFlip
}

// Result is the outcome of an accepted flip.
type Result struct {
	State *models.GameState
	Turn  Turn
	Phase Phase

	// Matched and Mismatched are set on the second flip of a pair.
	Matched    bool
	Mismatched bool
}

// ScoringSeat is the seat that acts (and scores) in s.
func ScoringSeat(s *models.GameState) models.Seat {
	if s.IsSinglePlayer {
		return models.SeatPlayer1
	}
	return s.CurrentPlayer
}

// Validate checks a flip of index by actor without applying it.
func Validate(s *models.GameState, t Turn, actor models.Seat, index int) error {
	switch PhaseOf(s, t) {
	case Ended:
		return ErrGameEnded
	case Resolving:
		return ErrRevealPending
	}
	if !s.IsSinglePlayer && actor != s.CurrentPlayer {
		return ErrInvalidTurn
	}
	if index < 0 || index >= len(s.CardFlipped) || index >= len(s.CardDeck) {
		return ErrCardOutOfRange
	}
	if t.First == index {
		return ErrDuplicateSelection
	}
	if s.CardFlipped[index] {
		return ErrAlreadyFlipped
	}
	return nil
}

// Flip turns card index face up for actor.
//
// On the first flip of a pair the game moves to AwaitingSecondFlip. On the
// second, a match scores one point for the acting seat and keeps the turn; a
// mismatch leaves both cards up and moves to Resolving until Resolve is called.
func Flip(s *models.GameState, t Turn, actor models.Seat, index int) (Result, error) {
	if err := Validate(s, t, actor, index); err != nil {
		return Result{}, err
	}

	next := s.Clone()
	next.CardFlipped[index] = true

	if t.First < 0 {
		nt := Turn{First: index, Second: -1}
		return Result{State: next, Turn: nt, Phase: PhaseOf(next, nt)}, nil
	}

	res := Result{State: next}
	if next.CardDeck[t.First].Species == next.CardDeck[index].Species {
		award(next, ScoringSeat(next))
		res.Matched = true
		res.Turn = NewTurn()
	} else {
		res.Mismatched = true
		res.Turn = Turn{First: t.First, Second: index}
	}
	res.Phase = PhaseOf(next, res.Turn)
	return res, nil
}

// Resolve hides a mismatched pair and passes the turn to the other seat.
// Single player games keep player1 on turn. A turn without a complete pair
// is returned unchanged.
func Resolve(s *models.GameState, t Turn) (*models.GameState, Turn) {
	first, second, ok := t.Pair()
	if !ok {
		return s.Clone(), t
	}
	next := s.Clone()
	if first < len(next.CardFlipped) {
		next.CardFlipped[first] = false
	}
	if second < len(next.CardFlipped) {
		next.CardFlipped[second] = false
	}
	if !next.IsSinglePlayer {
		next.CurrentPlayer = next.CurrentPlayer.Other()
	}
	return next, NewTurn()
}

// Reconcile drops a pending selection that the canonical state s no longer
// backs, e.g. after another writer reset the cards or took the turn.
func Reconcile(s *models.GameState, t Turn, seat models.Seat) Turn {
	if t.First < 0 {
		return t
	}
	if s.AllFlipped() {
		return NewTurn()
	}
	if !s.IsSinglePlayer && s.CurrentPlayer != seat {
		return NewTurn()
	}
	if t.First >= len(s.CardFlipped) || !s.CardFlipped[t.First] {
		return NewTurn()
	}
	if t.Second >= 0 && (t.Second >= len(s.CardFlipped) || !s.CardFlipped[t.Second]) {
		return NewTurn()
	}
	return t
}

// IsOver reports whether every card has been revealed.
func IsOver(s *models.GameState) bool {
	return s.AllFlipped()
}

// Winner returns the name of the player with more points. A tie, or a game
// that has not ended, has no winner.
func Winner(s *models.GameState) (string, bool) {
	if !IsOver(s) {
		return "", false
	}
	p1, p2 := points(s.Players.Player1), points(s.Players.Player2)
	switch {
	case p1 > p2:
		return s.Players.Player1.DisplayName(), true
	case p2 > p1:
		return s.Players.Player2.DisplayName(), true
	}
	return "", false
}

func points(p *models.Player) int {
	if p == nil {
		return 0
	}
	return p.Points
}

func award(s *models.GameState, seat models.Seat) {
	switch seat {
	case models.SeatPlayer1:
		if s.Players.Player1 == nil {
			s.Players.Player1 = &models.Player{}
		}
		s.Players.Player1.Points++
	case models.SeatPlayer2:
		if s.Players.Player2 == nil {
			s.Players.Player2 = &models.Player{}
		}
		s.Players.Player2.Points++
	}
}
