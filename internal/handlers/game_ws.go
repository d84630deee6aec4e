package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/jason-s-yu/dinomemo/internal/broadcast"
	"github.com/jason-s-yu/dinomemo/internal/middleware"
	"github.com/jason-s-yu/dinomemo/internal/models"
	"github.com/jason-s-yu/dinomemo/internal/store"
	"github.com/sirupsen/logrus"
)

// Actions a client may send on the game websocket.
const (
	ActionJoinGame   = "joinGame"
	ActionSubscribe  = "subscribe"
	ActionUpdateGame = "updateGame"
	ActionPing       = "ping"
)

const wsWriteTimeout = 3 * time.Second

// ClientMessage is an inbound websocket message. RequestID on an updateGame
// is returned with the resulting gameUpdate, or with the error if it fails.
type ClientMessage struct {
	Action    string            `json:"action"`
	GameID    string            `json:"gameId,omitempty"`
	RequestID string            `json:"requestId,omitempty"`
	GameState *models.GameState `json:"gameState,omitempty"`
}

// wsSession is the per-connection state of GameWSHandler.
type wsSession struct {
	gs     *GameServer
	conn   *websocket.Conn
	id     string
	gameID string
	log    *logrus.Entry
}

// GameWSHandler upgrades GET /ws to a websocket, registers the connection
// under ?gameId= if given, and serves subscribe, update and ping messages
// until the client leaves.
func GameWSHandler(gs *GameServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		gameID := r.URL.Query().Get("gameId")
		if gameID != "" {
			if _, err := gs.Service.GetGame(r.Context(), gameID); err != nil {
				writeError(w, gs.Logger, err)
				return
			}
		}

		c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			Subprotocols:   []string{"game"},
			OriginPatterns: gs.OriginPatterns,
		})
		if err != nil {
			gs.Logger.Warnf("WebSocket accept error: %v", err)
			return
		}
		defer c.Close(websocket.StatusInternalError, "Internal server error during handler exit.")

		if r.Header.Get("Sec-WebSocket-Protocol") != "" && c.Subprotocol() != "game" {
			gs.Logger.Warnf("Client connected with invalid subprotocol: %s", r.Header.Get("Sec-WebSocket-Protocol"))
			c.Close(BadSubprotocolError, "Client must use the 'game' subprotocol.")
			return
		}

		s := &wsSession{gs: gs, conn: c}
		s.id = gs.Hub.Add(c)
		s.log = gs.Logger.WithField("connection_id", s.id)
		middleware.LogWebSocketConnect(gs.Logger, s.id, r.RemoteAddr, gameID)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()
		defer s.cleanup()

		if gameID != "" {
			if err := s.subscribe(ctx, gameID); err != nil {
				s.sendError(ctx, "", err)
			}
		}

		err = s.readLoop(ctx)
		middleware.LogWebSocketDisconnect(gs.Logger, s.id, r.RemoteAddr, err)
		if err == nil {
			c.Close(websocket.StatusNormalClosure, "")
		}
	}
}

// readLoop dispatches messages until the socket fails. It returns nil for a normal close.
func (s *wsSession) readLoop(ctx context.Context) error {
	for {
		msgType, data, err := s.conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
				return nil
			}
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}

		if msgType != websocket.MessageText {
			s.log.Warnf("Received non-text message type %d. Ignoring.", msgType)
			continue
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.log.Warnf("Invalid JSON received: %v. Data: %s", err, string(data))
			s.send(ctx, broadcast.Message{Type: broadcast.TypeError, Code: CodeBadRequest, Message: "Invalid JSON format."})
			continue
		}
		s.log.Debugf("Received action '%s'", msg.Action)

		switch msg.Action {
		case ActionJoinGame, ActionSubscribe:
			if msg.GameID == "" {
				s.send(ctx, broadcast.Message{Type: broadcast.TypeError, Code: CodeBadRequest, Message: "gameId is required."})
				continue
			}
			if err := s.subscribe(ctx, msg.GameID); err != nil {
				s.sendError(ctx, "", err)
			}

		case ActionUpdateGame:
			gameID := msg.GameID
			if gameID == "" {
				gameID = s.gameID
			}
			if gameID == "" {
				s.send(ctx, broadcast.Message{Type: broadcast.TypeError, RequestID: msg.RequestID, Code: CodeBadRequest, Message: "gameId is required."})
				continue
			}
			// the publish reaches this connection through the fan-out
			if _, err := s.gs.Service.PublishState(ctx, gameID, msg.RequestID, msg.GameState); err != nil {
				s.sendError(ctx, msg.RequestID, err)
			}

		case ActionPing:
			s.send(ctx, broadcast.Message{Type: broadcast.TypePong})

		default:
			s.log.Warnf("Unknown action type '%s'", msg.Action)
			s.send(ctx, broadcast.Message{Type: broadcast.TypeError, Code: CodeUnknownAction, Message: fmt.Sprintf("Unknown action type: %s", msg.Action)})
		}
	}
}

// subscribe registers the connection under gameID and sends it the current state.
func (s *wsSession) subscribe(ctx context.Context, gameID string) error {
	state, err := s.gs.Service.GetGame(ctx, gameID)
	if err != nil {
		return err
	}
	if err := s.gs.Registry.Register(ctx, s.id, gameID); err != nil {
		return fmt.Errorf("register connection: %w", err)
	}
	s.gameID = gameID
	s.log = s.log.WithField("game_id", gameID)
	s.send(ctx, broadcast.Message{Type: broadcast.TypeGameUpdate, GameState: state})
	return nil
}

func (s *wsSession) cleanup() {
	s.gs.Hub.Remove(s.id)
	ctx, cancel := context.WithTimeout(context.Background(), wsWriteTimeout)
	defer cancel()
	if err := s.gs.Registry.Unregister(ctx, s.id); err != nil {
		s.log.Warnf("unregister on disconnect: %v", err)
	}
}

// send writes msg to this connection only, with a write timeout.
func (s *wsSession) send(ctx context.Context, msg broadcast.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		s.log.Errorf("Error marshaling WebSocket message: %v", err)
		return
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	if err := s.gs.Hub.Send(writeCtx, s.id, data); err != nil {
		if errors.Is(err, broadcast.ErrConnectionGone) {
			s.log.Debugf("write to closed connection: %v", err)
			return
		}
		s.log.Warnf("Error writing WebSocket message: %v", err)
	}
}

func (s *wsSession) sendError(ctx context.Context, requestID string, err error) {
	code := CodeInternal
	msg := "internal server error"
	switch {
	case errors.Is(err, store.ErrGameNotFound), errors.Is(err, store.ErrInvalidPatch), errors.Is(err, store.ErrGameFull):
		_, code = classify(err)
		msg = err.Error()
	default:
		s.log.Errorf("websocket action failed: %v", err)
	}
	s.send(ctx, broadcast.Message{Type: broadcast.TypeError, RequestID: requestID, Code: code, Message: msg})
}
