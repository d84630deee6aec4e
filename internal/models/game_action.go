package models

// Action types recorded in the game history.
const (
	ActionCreateGame = "create_game"
	ActionJoinGame   = "join_game"
	ActionUpdateGame = "update_game"
	ActionEndGame    = "end_game"
)

// ActionRecord is one entry of a game's history, queued for the historian worker.
type ActionRecord struct {
	GameID        string                 `json:"game_id"`
	ActionIndex   int64                  `json:"action_index"`
	Actor         string                 `json:"actor"`
	ActionType    string                 `json:"action_type"`
	ActionPayload map[string]interface{} `json:"action_payload"`
	Timestamp     int64                  `json:"timestamp"`
}
