package broadcast

import (
	"encoding/json"

	"github.com/jason-s-yu/dinomemo/internal/models"
)

// Message types pushed to real-time subscribers.
const (
	TypeGameUpdate = "gameUpdate"
	TypeError      = "error"
	TypePong       = "pong"
)

// Message is the envelope of every server to client push.
type Message struct {
	Type      string            `json:"type"`
	GameState *models.GameState `json:"gameState,omitempty"`
	RequestID string            `json:"requestId,omitempty"`
	Code      string            `json:"code,omitempty"`
	Message   string            `json:"message,omitempty"`
}

// EncodeUpdate marshals a gameUpdate message for state. requestID names the
// client publish that produced state, if any.
func EncodeUpdate(state *models.GameState, requestID string) ([]byte, error) {
	return json.Marshal(Message{Type: TypeGameUpdate, GameState: state, RequestID: requestID})
}
