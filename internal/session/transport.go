package session

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/coder/websocket"
	"github.com/jason-s-yu/dinomemo/internal/broadcast"
	"github.com/jason-s-yu/dinomemo/internal/handlers"
	"github.com/jason-s-yu/dinomemo/internal/models"
)

// Transport opens subscriptions to a game's canonical state.
type Transport interface {
	Connect(ctx context.Context, gameID string) (Conn, error)
}

// Conn is one open subscription.
//
// Publish proposes a new state under requestID. If Echoes reports true, the
// canonical result of each successful publish arrives later through Recv,
// tagged with its requestID (a Push or a *RemoteError). Otherwise Publish
// returns it directly. Recv blocks for the next canonical state. Any error
// other than a *RemoteError means the subscription is lost.
type Conn interface {
	Publish(ctx context.Context, requestID string, state *models.GameState) (*models.GameState, error)
	Recv(ctx context.Context) (Push, error)
	Echoes() bool
	Close() error
}

// Push is a canonical state received on a subscription. RequestID is set when
// the state is the result of a publish carrying that id.
type Push struct {
	State     *models.GameState
	RequestID string
}

// RemoteError is an error message pushed by the server. It does not end the
// subscription. RequestID names the rejected publish, if any.
type RemoteError struct {
	Code      string
	Message   string
	RequestID string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("server error %s: %s", e.Code, e.Message)
}

// WSTransport subscribes through the server's websocket channel.
type WSTransport struct {
	BaseURL    string
	HTTPClient *http.Client
}

func NewWSTransport(baseURL string) *WSTransport {
	return &WSTransport{BaseURL: strings.TrimRight(baseURL, "/")}
}

func (t *WSTransport) Connect(ctx context.Context, gameID string) (Conn, error) {
	u, err := url.Parse(t.BaseURL + "/ws")
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.RawQuery = url.Values{"gameId": {gameID}}.Encode()

	c, _, err := websocket.Dial(ctx, u.String(), &websocket.DialOptions{
		HTTPClient:   t.HTTPClient,
		Subprotocols: []string{"game"},
	})
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", u.Redacted(), err)
	}
	return &wsConn{c: c, gameID: gameID}, nil
}

type wsConn struct {
	c      *websocket.Conn
	gameID string
}

func (w *wsConn) Publish(ctx context.Context, requestID string, state *models.GameState) (*models.GameState, error) {
	data, err := json.Marshal(handlers.ClientMessage{
		Action:    handlers.ActionUpdateGame,
		GameID:    w.gameID,
		RequestID: requestID,
		GameState: state,
	})
	if err != nil {
		return nil, err
	}
	if err := w.c.Write(ctx, websocket.MessageText, data); err != nil {
		return nil, fmt.Errorf("write update: %w", err)
	}
	return nil, nil
}

func (w *wsConn) Echoes() bool { return true }

func (w *wsConn) Recv(ctx context.Context) (Push, error) {
	for {
		_, data, err := w.c.Read(ctx)
		if err != nil {
			return Push{}, err
		}
		var msg broadcast.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			return Push{}, fmt.Errorf("decode server message: %w", err)
		}
		switch msg.Type {
		case broadcast.TypeGameUpdate:
			if msg.GameState != nil {
				return Push{State: msg.GameState, RequestID: msg.RequestID}, nil
			}
		case broadcast.TypeError:
			return Push{}, &RemoteError{Code: msg.Code, Message: msg.Message, RequestID: msg.RequestID}
		}
	}
}

func (w *wsConn) Close() error {
	return w.c.Close(websocket.StatusNormalClosure, "")
}
