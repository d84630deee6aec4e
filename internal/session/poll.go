package session

import (
	"context"
	"sync"
	"time"

	"github.com/jason-s-yu/dinomemo/internal/models"
)

// DefaultPollInterval is how often PollTransport asks for the game.
const DefaultPollInterval = time.Second

// PollAPI is what PollTransport needs from the HTTP API.
type PollAPI interface {
	GetGame(ctx context.Context, gameID string) (*models.GameState, error)
	UpdateGame(ctx context.Context, gameID string, patch models.Patch) (*models.GameState, error)
}

// PollTransport falls back to periodic reads of the game over HTTP. Publishes
// are partial updates whose response is the canonical state.
type PollTransport struct {
	API      PollAPI
	Interval time.Duration
}

func NewPollTransport(api PollAPI, interval time.Duration) *PollTransport {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &PollTransport{API: api, Interval: interval}
}

func (t *PollTransport) Connect(ctx context.Context, gameID string) (Conn, error) {
	if _, err := t.API.GetGame(ctx, gameID); err != nil {
		return nil, err
	}
	return &pollConn{
		api:         t.API,
		gameID:      gameID,
		interval:    t.Interval,
		lastVersion: -1,
		closed:      make(chan struct{}),
	}, nil
}

type pollConn struct {
	api      PollAPI
	gameID   string
	interval time.Duration

	// mu serializes reads and writes so lastVersion only moves forward.
	mu          sync.Mutex
	lastVersion int64

	closeOnce sync.Once
	closed    chan struct{}
}

// Publish answers synchronously, so requestID is not needed to match the result.
func (p *pollConn) Publish(ctx context.Context, _ string, state *models.GameState) (*models.GameState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	gs, err := p.api.UpdateGame(ctx, p.gameID, state.Patch())
	if err != nil {
		return nil, err
	}
	if gs.Version > p.lastVersion {
		p.lastVersion = gs.Version
	}
	return gs, nil
}

func (p *pollConn) Echoes() bool { return false }

// Recv returns the first state newer than anything seen so far.
func (p *pollConn) Recv(ctx context.Context) (Push, error) {
	first := true
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		if !first {
			select {
			case <-ctx.Done():
				return Push{}, ctx.Err()
			case <-p.closed:
				return Push{}, context.Canceled
			case <-ticker.C:
			}
		}
		first = false

		gs, err := p.poll(ctx)
		if err != nil {
			return Push{}, err
		}
		if gs != nil {
			return Push{State: gs}, nil
		}
	}
}

func (p *pollConn) poll(ctx context.Context) (*models.GameState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	gs, err := p.api.GetGame(ctx, p.gameID)
	if err != nil {
		return nil, err
	}
	if gs.Version <= p.lastVersion {
		return nil, nil
	}
	p.lastVersion = gs.Version
	return gs, nil
}

func (p *pollConn) Close() error {
	p.closeOnce.Do(func() { close(p.closed) })
	return nil
}
