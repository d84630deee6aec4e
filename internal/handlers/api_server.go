package handlers

import (
	"net/http"

	"github.com/jason-s-yu/dinomemo/internal/middleware"
)

// NewRouter registers the REST and websocket routes of gs. allowedOrigins
// configures CORS on the REST routes.
func NewRouter(gs *GameServer, allowedOrigins []string) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /game", CreateGameHandler(gs))
	mux.HandleFunc("GET /game/{gameId}", GetGameHandler(gs))
	mux.HandleFunc("PUT /game/{gameId}/join", JoinGameHandler(gs))
	mux.HandleFunc("PUT /game/{gameId}", UpdateGameHandler(gs))
	mux.HandleFunc("GET /ping", PingHandler(gs))

	mux.HandleFunc("GET /ws", GameWSHandler(gs))

	cors := middleware.CORS(allowedOrigins)
	return middleware.LogMiddleware(gs.Logger)(cors(mux))
}
