package models

// Seat names one of the two player slots of a game.
type Seat string

const (
	SeatPlayer1 Seat = "player1"
	SeatPlayer2 Seat = "player2"

	// SeatNone is used for sessions that watch a game without a seat.
	SeatNone Seat = ""
)

// Valid reports whether s is one of the two playable seats.
func (s Seat) Valid() bool {
	return s == SeatPlayer1 || s == SeatPlayer2
}

// Other returns the opposite seat.
func (s Seat) Other() Seat {
	if s == SeatPlayer1 {
		return SeatPlayer2
	}
	return SeatPlayer1
}

// Player is the record of one seat. A nil Name means nobody has taken the seat yet.
type Player struct {
	Name   *string `json:"name"`
	Points int     `json:"points"`
}

// NewPlayer returns a seated player with zero points.
func NewPlayer(name string) *Player {
	return &Player{Name: &name}
}

// Seated reports whether somebody has taken this seat.
func (p *Player) Seated() bool {
	return p != nil && p.Name != nil
}

// DisplayName returns the name or an empty string for an open seat.
func (p *Player) DisplayName() string {
	if !p.Seated() {
		return ""
	}
	return *p.Name
}

func (p *Player) clone() *Player {
	if p == nil {
		return nil
	}
	cp := &Player{Points: p.Points}
	if p.Name != nil {
		name := *p.Name
		cp.Name = &name
	}
	return cp
}

// Players holds both seats. Player2 stays nil in single player games.
type Players struct {
	Player1 *Player `json:"player1"`
	Player2 *Player `json:"player2"`
}

// Get returns the record for the given seat.
func (p Players) Get(seat Seat) *Player {
	switch seat {
	case SeatPlayer1:
		return p.Player1
	case SeatPlayer2:
		return p.Player2
	}
	return nil
}

// SeatOf returns the seat whose player carries name, or SeatNone.
func (p Players) SeatOf(name string) Seat {
	if p.Player1.Seated() && *p.Player1.Name == name {
		return SeatPlayer1
	}
	if p.Player2.Seated() && *p.Player2.Name == name {
		return SeatPlayer2
	}
	return SeatNone
}

// Clone returns a deep copy.
func (p Players) Clone() Players {
	return Players{Player1: p.Player1.clone(), Player2: p.Player2.clone()}
}
