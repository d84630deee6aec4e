package models

import "time"

// Connection ties a live transport session to the game it listens to.
type Connection struct {
	ConnectionID string    `json:"connectionId"`
	GameID       string    `json:"gameId"`
	ConnectedAt  time.Time `json:"connectedAt"`
}
