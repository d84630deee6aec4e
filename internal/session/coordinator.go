// Package session is the client side of a game: it seats a player, applies
// moves locally through the turn engine, publishes them and keeps the local
// view in line with the canonical state pushed by the server.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/jason-s-yu/dinomemo/internal/game"
	"github.com/jason-s-yu/dinomemo/internal/models"
	"github.com/jason-s-yu/dinomemo/internal/store"
	"github.com/sirupsen/logrus"
)

var (
	// ErrSpectator is returned when a viewer without a seat tries to flip.
	ErrSpectator = errors.New("spectators cannot flip cards")
	// ErrConnectivityLost is surfaced once reconnecting has been given up.
	ErrConnectivityLost = errors.New("connectivity lost")
	// ErrClosed is returned by calls on a closed coordinator.
	ErrClosed = errors.New("session closed")
	// ErrNotEntered is returned by Flip before Enter succeeded.
	ErrNotEntered = errors.New("session has not entered a game")
)

// Defaults for the exported Coordinator settings.
const (
	DefaultRevealDelay   = 5 * time.Second
	DefaultMaxReconnects = 5
	DefaultReconnectWait = 2 * time.Second
)

// Coordinator drives one player's view of one game.
type Coordinator struct {
	api       API
	transport Transport
	logger    *logrus.Logger

	// Fallback is tried whenever Transport cannot connect. Optional.
	Fallback      Transport
	RevealDelay   time.Duration
	MaxReconnects int
	ReconnectWait time.Duration

	mu     sync.Mutex
	gameID string
	name   string
	seat   models.Seat
	state  *models.GameState
	turn   game.Turn
	reveal *time.Timer
	conn   Conn

	// pending holds the request ids of publishes whose result will come
	// through Recv, oldest first. inFlight counts publishes waiting for a
	// synchronous answer. While either is non-zero the local view is ahead of
	// the server, and canonical states are held in deferred until then.
	pending  []string
	inFlight int
	deferred *models.GameState

	updates chan *models.GameState
	cancel  context.CancelFunc
	done    chan struct{}
	err     error
	closed  bool
}

func NewCoordinator(api API, transport Transport, logger *logrus.Logger) *Coordinator {
	return &Coordinator{
		api:           api,
		transport:     transport,
		logger:        logger,
		RevealDelay:   DefaultRevealDelay,
		MaxReconnects: DefaultMaxReconnects,
		ReconnectWait: DefaultReconnectWait,
		turn:          game.NewTurn(),
		updates:       make(chan *models.GameState, 1),
		done:          make(chan struct{}),
	}
}

// Enter loads gameID, takes a seat for playerName and subscribes to updates.
//
// playerName gets player1 or player2 if already seated under that name,
// otherwise it claims an empty player2 seat. Everyone else watches as a
// spectator.
func (c *Coordinator) Enter(ctx context.Context, gameID, playerName string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.gameID != "" {
		c.mu.Unlock()
		return fmt.Errorf("already entered game %s", c.gameID)
	}
	c.mu.Unlock()

	state, err := c.api.GetGame(ctx, gameID)
	if err != nil {
		return fmt.Errorf("load game %s: %w", gameID, err)
	}
	seat, state, err := c.takeSeat(ctx, state, playerName)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	conn, err := c.connect(runCtx, gameID)
	if err != nil {
		cancel()
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		cancel()
		conn.Close()
		return ErrClosed
	}
	c.gameID = gameID
	c.name = playerName
	c.seat = seat
	c.state = state
	c.conn = conn
	c.cancel = cancel
	c.notifyUnsafe()
	c.mu.Unlock()

	c.logger.WithFields(logrus.Fields{"game_id": gameID, "seat": seat}).Infof("%s entered game", playerName)
	go c.run(runCtx, conn)
	return nil
}

func (c *Coordinator) takeSeat(ctx context.Context, state *models.GameState, name string) (models.Seat, *models.GameState, error) {
	if seat := state.Players.SeatOf(name); seat != models.SeatNone {
		return seat, state, nil
	}
	if state.IsSinglePlayer || state.Players.Player2.Seated() {
		return models.SeatNone, state, nil
	}

	joined, err := c.api.JoinGame(ctx, state.GameID, name)
	switch {
	case err == nil:
		return models.SeatPlayer2, joined, nil
	case errors.Is(err, store.ErrGameFull):
		// lost the race for the seat
		reloaded, err := c.api.GetGame(ctx, state.GameID)
		if err != nil {
			return models.SeatNone, nil, fmt.Errorf("reload game %s: %w", state.GameID, err)
		}
		return reloaded.Players.SeatOf(name), reloaded, nil
	default:
		return models.SeatNone, nil, fmt.Errorf("join game %s: %w", state.GameID, err)
	}
}

// Flip turns card index face up for this player and publishes the result.
// Rejected moves change nothing and send nothing.
func (c *Coordinator) Flip(ctx context.Context, index int) (game.Result, error) {
	c.mu.Lock()
	switch {
	case c.closed:
		c.mu.Unlock()
		return game.Result{}, ErrClosed
	case c.err != nil:
		err := c.err
		c.mu.Unlock()
		return game.Result{}, err
	case c.state == nil:
		c.mu.Unlock()
		return game.Result{}, ErrNotEntered
	case c.seat == models.SeatNone:
		c.mu.Unlock()
		return game.Result{}, ErrSpectator
	}

	res, err := game.Flip(c.state, c.turn, c.seat, index)
	if err != nil {
		c.mu.Unlock()
		return game.Result{}, err
	}
	c.state = res.State
	c.turn = res.Turn
	if res.Mismatched {
		c.scheduleRevealUnsafe(res.Turn)
	}
	if res.Phase == game.Ended {
		c.stopRevealUnsafe()
	}
	c.notifyUnsafe()
	conn, reqID := c.beginPublishUnsafe()
	c.mu.Unlock()

	c.publish(ctx, conn, reqID, res.State)
	return res, nil
}

// scheduleRevealUnsafe hides a mismatched pair after RevealDelay. Assumes lock is held.
func (c *Coordinator) scheduleRevealUnsafe(t game.Turn) {
	c.stopRevealUnsafe()
	first, second, _ := t.Pair()
	var timer *time.Timer
	timer = time.AfterFunc(c.RevealDelay, func() {
		c.resolveReveal(timer, first, second)
	})
	c.reveal = timer
}

func (c *Coordinator) stopRevealUnsafe() {
	if c.reveal != nil {
		c.reveal.Stop()
		c.reveal = nil
	}
}

// resolveReveal hides the pair if the current state still shows it unmatched.
func (c *Coordinator) resolveReveal(timer *time.Timer, first, second int) {
	c.mu.Lock()
	if c.closed || c.reveal != timer {
		c.mu.Unlock()
		return
	}
	c.reveal = nil
	if !shownMismatch(c.state, first, second) {
		c.turn = game.NewTurn()
		c.mu.Unlock()
		return
	}
	next, turn := game.Resolve(c.state, game.Turn{First: first, Second: second})
	c.state = next
	c.turn = turn
	c.notifyUnsafe()
	conn, reqID := c.beginPublishUnsafe()
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	c.publish(ctx, conn, reqID, next)
}

func shownMismatch(s *models.GameState, first, second int) bool {
	if first >= len(s.CardFlipped) || second >= len(s.CardFlipped) {
		return false
	}
	return s.CardFlipped[first] && s.CardFlipped[second] &&
		s.CardDeck[first].Species != s.CardDeck[second].Species
}

// beginPublishUnsafe reserves the answer slot for a publish on the current
// connection. Assumes lock is held; returns a nil Conn when there is nothing
// to send on.
func (c *Coordinator) beginPublishUnsafe() (Conn, string) {
	conn := c.conn
	if conn == nil || c.closed {
		return nil, ""
	}
	reqID := uuid.NewString()
	if conn.Echoes() {
		c.pending = append(c.pending, reqID)
	} else {
		c.inFlight++
	}
	return conn, reqID
}

// publish sends state on conn. Failures are logged only; the receive loop
// notices a dead connection and reconnects.
func (c *Coordinator) publish(ctx context.Context, conn Conn, reqID string, state *models.GameState) {
	if conn == nil {
		c.logger.Warn("no connection, dropping local update")
		return
	}
	canonical, err := conn.Publish(ctx, reqID, state)

	c.mu.Lock()
	if conn.Echoes() {
		if err != nil {
			c.ackUnsafe(reqID)
		}
		canonical = nil
	} else {
		c.inFlight--
	}
	if err != nil {
		canonical = nil
	}
	c.settleUnsafe(canonical)
	c.mu.Unlock()

	if err != nil {
		c.logger.WithField("game_id", state.GameID).Warnf("publish failed: %v", err)
	}
}

// run receives canonical states until Close, reconnecting when the connection drops.
func (c *Coordinator) run(ctx context.Context, conn Conn) {
	for {
		push, err := conn.Recv(ctx)
		if err == nil {
			c.receive(push)
			continue
		}
		var remote *RemoteError
		if errors.As(err, &remote) {
			c.remoteError(ctx, remote)
			continue
		}
		if ctx.Err() != nil {
			return
		}

		c.logger.Warnf("connection to game lost: %v", err)
		conn.Close()
		c.mu.Lock()
		c.conn = nil
		// echoes of the old connection will never come
		c.pending = nil
		c.settleUnsafe(nil)
		gameID := c.gameID
		c.mu.Unlock()

		conn, err = c.reconnect(ctx, gameID)
		if err != nil {
			if ctx.Err() == nil {
				c.fail(ErrConnectivityLost)
			}
			return
		}
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			conn.Close()
			return
		}
		c.conn = conn
		c.mu.Unlock()
	}
}

// receive handles a pushed canonical state: the echo of one of our publishes
// or another writer's update.
func (c *Coordinator) receive(push Push) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if push.RequestID != "" {
		c.ackUnsafe(push.RequestID)
	}
	c.settleUnsafe(push.State)
}

// ackUnsafe drops reqID from pending, along with any older ids: results
// arrive in publish order, so an older id still pending will not be answered.
// Assumes lock is held.
func (c *Coordinator) ackUnsafe(reqID string) bool {
	for i, id := range c.pending {
		if id == reqID {
			c.pending = c.pending[i+1:]
			return true
		}
	}
	return false
}

// settleUnsafe keeps the newest canonical state seen and applies it once no
// publish of ours is unanswered. Until then the optimistic local view stays,
// since the answer to our own publish already includes any earlier writes.
// Assumes lock is held.
func (c *Coordinator) settleUnsafe(state *models.GameState) {
	if state != nil && (c.deferred == nil || state.Version >= c.deferred.Version) {
		c.deferred = state
	}
	if len(c.pending) > 0 || c.inFlight > 0 || c.deferred == nil {
		return
	}
	next := c.deferred
	c.deferred = nil
	c.applyUnsafe(next)
}

// applyUnsafe replaces the local view with a canonical state. Assumes lock is held.
func (c *Coordinator) applyUnsafe(state *models.GameState) {
	if c.closed || c.state == nil {
		return
	}
	if state.Version < c.state.Version {
		return
	}

	c.state = state
	c.turn = game.Reconcile(state, c.turn, c.seat)
	if c.reveal != nil {
		if _, _, ok := c.turn.Pair(); !ok {
			c.stopRevealUnsafe()
		}
	}
	if game.IsOver(state) {
		c.stopRevealUnsafe()
		c.turn = game.NewTurn()
	}
	c.notifyUnsafe()
}

// remoteError handles a rejection pushed by the server. When it rejects our
// last unanswered publish and nothing newer came in, the local view is
// reloaded so the refused move does not linger.
func (c *Coordinator) remoteError(ctx context.Context, err *RemoteError) {
	c.logger.Warnf("server rejected update: %v", err)

	c.mu.Lock()
	if err.RequestID == "" || !c.ackUnsafe(err.RequestID) {
		c.mu.Unlock()
		return
	}
	resync := len(c.pending) == 0 && c.inFlight == 0 && c.deferred == nil
	c.settleUnsafe(nil)
	gameID := c.gameID
	c.mu.Unlock()
	if !resync {
		return
	}

	state, gerr := c.api.GetGame(ctx, gameID)
	if gerr != nil {
		c.logger.Warnf("reload game %s after rejected update: %v", gameID, gerr)
		return
	}
	c.mu.Lock()
	c.settleUnsafe(state)
	c.mu.Unlock()
}

func (c *Coordinator) connect(ctx context.Context, gameID string) (Conn, error) {
	conn, err := c.dial(ctx, gameID)
	if err == nil {
		return conn, nil
	}
	c.logger.Warnf("connect to game %s: %v", gameID, err)
	conn, err = c.reconnect(ctx, gameID)
	if err != nil {
		return nil, ErrConnectivityLost
	}
	return conn, nil
}

// reconnect retries dial MaxReconnects times, ReconnectWait apart.
func (c *Coordinator) reconnect(ctx context.Context, gameID string) (Conn, error) {
	if c.MaxReconnects <= 0 {
		return nil, ErrConnectivityLost
	}
	attempt := 0
	return backoff.Retry(ctx, func() (Conn, error) {
		attempt++
		conn, err := c.dial(ctx, gameID)
		if err != nil {
			c.logger.Debugf("reconnect attempt %d/%d failed: %v", attempt, c.MaxReconnects, err)
			return nil, err
		}
		c.logger.Infof("reconnected to game %s after %d attempt(s)", gameID, attempt)
		return conn, nil
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(c.ReconnectWait)),
		backoff.WithMaxTries(uint(c.MaxReconnects)),
	)
}

// dial tries the primary transport and then the fallback.
func (c *Coordinator) dial(ctx context.Context, gameID string) (Conn, error) {
	conn, err := c.transport.Connect(ctx, gameID)
	if err == nil || c.Fallback == nil {
		return conn, err
	}
	c.logger.Infof("push transport unavailable (%v), falling back", err)
	fb, fbErr := c.Fallback.Connect(ctx, gameID)
	if fbErr != nil {
		return nil, errors.Join(err, fbErr)
	}
	return fb, nil
}

func (c *Coordinator) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.err != nil {
		return
	}
	c.err = err
	c.stopRevealUnsafe()
	close(c.done)
	c.logger.Errorf("session ended: %v", err)
}

// notifyUnsafe offers the latest state to Updates, replacing an unread one.
func (c *Coordinator) notifyUnsafe() {
	snap := c.state.Clone()
	select {
	case <-c.updates:
	default:
	}
	select {
	case c.updates <- snap:
	default:
	}
}

// Updates delivers the latest local view after every change. Only the newest
// unread state is kept.
func (c *Coordinator) Updates() <-chan *models.GameState {
	return c.updates
}

// Done is closed when the session ends, by Close or by losing connectivity.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// Err returns ErrConnectivityLost once reconnecting was given up.
func (c *Coordinator) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// State returns a copy of the local view.
func (c *Coordinator) State() *models.GameState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Clone()
}

// Seat returns the seat taken by Enter, SeatNone for spectators.
func (c *Coordinator) Seat() models.Seat {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seat
}

// Phase returns the turn phase of the local view.
func (c *Coordinator) Phase() game.Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == nil {
		return game.AwaitingFirstFlip
	}
	return game.PhaseOf(c.state, c.turn)
}

// MyTurn reports whether this player may flip now.
func (c *Coordinator) MyTurn() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == nil || c.seat == models.SeatNone {
		return false
	}
	return game.ScoringSeat(c.state) == c.seat
}

// Close stops the reveal timer and the subscription.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.stopRevealUnsafe()
	conn := c.conn
	c.conn = nil
	cancel := c.cancel
	if c.err == nil {
		close(c.done)
	}
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		return conn.Close()
	}
	return nil
}
