package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jason-s-yu/dinomemo/internal/catalog"
	"github.com/jason-s-yu/dinomemo/internal/handlers"
	"github.com/jason-s-yu/dinomemo/internal/models"
	"github.com/jason-s-yu/dinomemo/internal/store"
)

// API is the subset of the game HTTP API the coordinator needs.
type API interface {
	GetGame(ctx context.Context, gameID string) (*models.GameState, error)
	JoinGame(ctx context.Context, gameID, name string) (*models.GameState, error)
}

// APIError is a non-2xx answer from the game API. It unwraps to the matching
// store or catalog sentinel so callers can use errors.Is.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api %d %s: %s", e.Status, e.Code, e.Message)
}

func (e *APIError) Unwrap() error {
	switch e.Code {
	case handlers.CodeGameNotFound:
		return store.ErrGameNotFound
	case handlers.CodeGameFull:
		return store.ErrGameFull
	case handlers.CodeInvalidUpdate:
		return store.ErrInvalidPatch
	case handlers.CodeCatalogUnavailable:
		return catalog.ErrCatalogUnavailable
	}
	return nil
}

// APIClient calls the game REST endpoints.
type APIClient struct {
	BaseURL string
	HTTP    *http.Client
}

func NewAPIClient(baseURL string) *APIClient {
	return &APIClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (a *APIClient) CreateGame(ctx context.Context, player1Name string, singlePlayer bool) (*models.GameState, error) {
	var resp handlers.CreateGameResponse
	req := handlers.CreateGameRequest{Player1Name: player1Name, IsSinglePlayer: singlePlayer}
	if err := a.do(ctx, http.MethodPost, "/game", req, &resp); err != nil {
		return nil, err
	}
	return resp.GameState, nil
}

func (a *APIClient) GetGame(ctx context.Context, gameID string) (*models.GameState, error) {
	var gs models.GameState
	if err := a.do(ctx, http.MethodGet, "/game/"+url.PathEscape(gameID), nil, &gs); err != nil {
		return nil, err
	}
	return &gs, nil
}

func (a *APIClient) JoinGame(ctx context.Context, gameID, name string) (*models.GameState, error) {
	var gs models.GameState
	if err := a.do(ctx, http.MethodPut, "/game/"+url.PathEscape(gameID)+"/join", handlers.JoinGameRequest{Name: name}, &gs); err != nil {
		return nil, err
	}
	return &gs, nil
}

func (a *APIClient) UpdateGame(ctx context.Context, gameID string, patch models.Patch) (*models.GameState, error) {
	var gs models.GameState
	if err := a.do(ctx, http.MethodPut, "/game/"+url.PathEscape(gameID), patch, &gs); err != nil {
		return nil, err
	}
	return &gs, nil
}

func (a *APIClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, a.BaseURL+path, &buf)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var eb handlers.ErrorBody
		_ = json.NewDecoder(resp.Body).Decode(&eb)
		return &APIError{Status: resp.StatusCode, Code: eb.Error, Message: eb.Message}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}
