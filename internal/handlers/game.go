package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/jason-s-yu/dinomemo/internal/models"
)

// CreateGameRequest is the body of POST /game.
type CreateGameRequest struct {
	Player1Name    string `json:"player1Name"`
	IsSinglePlayer bool   `json:"isSinglePlayer"`
}

// CreateGameResponse is returned by POST /game.
type CreateGameResponse struct {
	GameID    string            `json:"gameId"`
	GameState *models.GameState `json:"gameState"`
}

// JoinGameRequest is the body of PUT /game/{gameId}/join. Name wins over Player2Name.
type JoinGameRequest struct {
	Name        string `json:"name"`
	Player2Name string `json:"player2Name"`
}

// CreateGameHandler handles POST /game.
func CreateGameHandler(gs *GameServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateGameRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			badRequest(w, gs.Logger, "invalid request body")
			return
		}
		state, err := gs.Service.CreateGame(r.Context(), req.Player1Name, req.IsSinglePlayer)
		if err != nil {
			writeError(w, gs.Logger, err)
			return
		}
		writeJSON(w, gs.Logger, http.StatusOK, CreateGameResponse{GameID: state.GameID, GameState: state})
	}
}

// GetGameHandler handles GET /game/{gameId}.
func GetGameHandler(gs *GameServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		state, err := gs.Service.GetGame(r.Context(), r.PathValue("gameId"))
		if err != nil {
			writeError(w, gs.Logger, err)
			return
		}
		writeJSON(w, gs.Logger, http.StatusOK, state)
	}
}

// JoinGameHandler handles PUT /game/{gameId}/join.
func JoinGameHandler(gs *GameServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req JoinGameRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			badRequest(w, gs.Logger, "invalid request body")
			return
		}
		name := req.Name
		if name == "" {
			name = req.Player2Name
		}
		state, err := gs.Service.JoinGame(r.Context(), r.PathValue("gameId"), name)
		if err != nil {
			writeError(w, gs.Logger, err)
			return
		}
		writeJSON(w, gs.Logger, http.StatusOK, state)
	}
}

// UpdateGameHandler handles PUT /game/{gameId} with a partial game state.
func UpdateGameHandler(gs *GameServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var patch models.Patch
		if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
			badRequest(w, gs.Logger, "invalid request body")
			return
		}
		if patch.Empty() {
			badRequest(w, gs.Logger, "no updatable fields in request body")
			return
		}
		state, err := gs.Service.UpdateGame(r.Context(), r.PathValue("gameId"), patch)
		if err != nil {
			writeError(w, gs.Logger, err)
			return
		}
		writeJSON(w, gs.Logger, http.StatusOK, state)
	}
}

// PingHandler answers health checks.
func PingHandler(gs *GameServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, gs.Logger, http.StatusOK, map[string]string{"status": "ok"})
	}
}
