package session

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jason-s-yu/dinomemo/internal/broadcast"
	"github.com/jason-s-yu/dinomemo/internal/catalog"
	"github.com/jason-s-yu/dinomemo/internal/deck"
	"github.com/jason-s-yu/dinomemo/internal/game"
	"github.com/jason-s-yu/dinomemo/internal/handlers"
	"github.com/jason-s-yu/dinomemo/internal/hub"
	"github.com/jason-s-yu/dinomemo/internal/models"
	"github.com/jason-s-yu/dinomemo/internal/registry"
	"github.com/jason-s-yu/dinomemo/internal/service"
	"github.com/jason-s-yu/dinomemo/internal/store"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = 3 * time.Second

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func setupServer(t *testing.T) (*httptest.Server, *APIClient) {
	t.Helper()
	logger := quietLogger()
	st := store.NewMemoryStore()
	reg := registry.NewMemory()
	h := hub.New(logger)
	b := broadcast.New(st, reg, h, logger)
	svc := service.New(st, catalog.NewStatic(""), b, logger).WithRand(deck.NewRand(11))
	srv := httptest.NewServer(handlers.NewRouter(handlers.NewGameServer(svc, h, reg, logger), []string{"*"}))
	t.Cleanup(srv.Close)
	return srv, NewAPIClient(srv.URL)
}

func newCoordinator(t *testing.T, api *APIClient, baseURL string) *Coordinator {
	t.Helper()
	c := NewCoordinator(api, NewWSTransport(baseURL), quietLogger())
	c.RevealDelay = 50 * time.Millisecond
	c.ReconnectWait = 10 * time.Millisecond
	t.Cleanup(func() { c.Close() })
	return c
}

// pairs returns a matching pair and a mismatching pair of card indices.
func pairs(t *testing.T, gs *models.GameState) (match [2]int, mismatch [2]int) {
	t.Helper()
	seen := map[string]int{}
	for i, card := range gs.CardDeck {
		if j, ok := seen[card.Species]; ok {
			match = [2]int{j, i}
			break
		}
		seen[card.Species] = i
	}
	for i := 1; i < len(gs.CardDeck); i++ {
		if gs.CardDeck[i].Species != gs.CardDeck[0].Species {
			mismatch = [2]int{0, i}
			break
		}
	}
	return match, mismatch
}

func eventuallyState(t *testing.T, c *Coordinator, cond func(*models.GameState) bool) {
	t.Helper()
	assert.Eventually(t, func() bool {
		gs := c.State()
		return gs != nil && cond(gs)
	}, waitFor, 5*time.Millisecond)
}

func TestEnterAssignsSeats(t *testing.T) {
	srv, api := setupServer(t)
	ctx := context.Background()
	gs, err := api.CreateGame(ctx, "alice", false)
	require.NoError(t, err)

	alice := newCoordinator(t, api, srv.URL)
	require.NoError(t, alice.Enter(ctx, gs.GameID, "alice"))
	assert.Equal(t, models.SeatPlayer1, alice.Seat())
	assert.True(t, alice.MyTurn())

	bob := newCoordinator(t, api, srv.URL)
	require.NoError(t, bob.Enter(ctx, gs.GameID, "bob"))
	assert.Equal(t, models.SeatPlayer2, bob.Seat())
	assert.False(t, bob.MyTurn())

	carol := newCoordinator(t, api, srv.URL)
	require.NoError(t, carol.Enter(ctx, gs.GameID, "carol"))
	assert.Equal(t, models.SeatNone, carol.Seat())
	_, err = carol.Flip(ctx, 0)
	assert.ErrorIs(t, err, ErrSpectator)

	// rejoining under the same name keeps the seat
	bobAgain := newCoordinator(t, api, srv.URL)
	require.NoError(t, bobAgain.Enter(ctx, gs.GameID, "bob"))
	assert.Equal(t, models.SeatPlayer2, bobAgain.Seat())

	eventuallyState(t, alice, func(s *models.GameState) bool {
		return s.Players.Player2.DisplayName() == "bob"
	})

	_, err = newCoordinator(t, api, srv.URL).Flip(ctx, 0)
	assert.ErrorIs(t, err, ErrNotEntered)
	err = newCoordinator(t, api, srv.URL).Enter(ctx, "nope00", "dave")
	assert.ErrorIs(t, err, store.ErrGameNotFound)
}

func TestMatchScoresAndKeepsTurn(t *testing.T) {
	srv, api := setupServer(t)
	ctx := context.Background()
	gs, err := api.CreateGame(ctx, "alice", false)
	require.NoError(t, err)
	match, _ := pairs(t, gs)

	alice := newCoordinator(t, api, srv.URL)
	require.NoError(t, alice.Enter(ctx, gs.GameID, "alice"))
	bob := newCoordinator(t, api, srv.URL)
	require.NoError(t, bob.Enter(ctx, gs.GameID, "bob"))

	_, err = alice.Flip(ctx, match[0])
	require.NoError(t, err)
	assert.Equal(t, game.AwaitingSecondFlip, alice.Phase())
	res, err := alice.Flip(ctx, match[1])
	require.NoError(t, err)
	assert.True(t, res.Matched)

	eventuallyState(t, bob, func(s *models.GameState) bool {
		return s.Players.Player1.Points == 1 && s.CardFlipped[match[0]] && s.CardFlipped[match[1]]
	})
	assert.Equal(t, models.SeatPlayer1, bob.State().CurrentPlayer)

	server, err := api.GetGame(ctx, gs.GameID)
	require.NoError(t, err)
	assert.Equal(t, 1, server.Players.Player1.Points)
}

func TestMismatchRotatesTurnAfterReveal(t *testing.T) {
	srv, api := setupServer(t)
	ctx := context.Background()
	gs, err := api.CreateGame(ctx, "alice", false)
	require.NoError(t, err)
	_, mismatch := pairs(t, gs)

	alice := newCoordinator(t, api, srv.URL)
	require.NoError(t, alice.Enter(ctx, gs.GameID, "alice"))
	bob := newCoordinator(t, api, srv.URL)
	require.NoError(t, bob.Enter(ctx, gs.GameID, "bob"))

	// bob cannot move on alice's turn, and nothing is sent
	_, err = bob.Flip(ctx, mismatch[0])
	assert.ErrorIs(t, err, game.ErrInvalidTurn)

	_, err = alice.Flip(ctx, mismatch[0])
	require.NoError(t, err)
	res, err := alice.Flip(ctx, mismatch[1])
	require.NoError(t, err)
	assert.True(t, res.Mismatched)
	assert.Equal(t, game.Resolving, alice.Phase())

	_, err = alice.Flip(ctx, 5)
	assert.ErrorIs(t, err, game.ErrRevealPending)

	hidden := func(s *models.GameState) bool {
		return !s.CardFlipped[mismatch[0]] && !s.CardFlipped[mismatch[1]] && s.CurrentPlayer == models.SeatPlayer2
	}
	eventuallyState(t, alice, hidden)
	eventuallyState(t, bob, hidden)
	assert.True(t, bob.MyTurn())
	assert.False(t, alice.MyTurn())
	assert.Zero(t, bob.State().Players.Player1.Points)

	_, err = bob.Flip(ctx, mismatch[0])
	assert.NoError(t, err)
}

func TestCloseCancelsReveal(t *testing.T) {
	srv, api := setupServer(t)
	ctx := context.Background()
	gs, err := api.CreateGame(ctx, "alice", false)
	require.NoError(t, err)
	_, mismatch := pairs(t, gs)

	alice := newCoordinator(t, api, srv.URL)
	alice.RevealDelay = 400 * time.Millisecond
	require.NoError(t, alice.Enter(ctx, gs.GameID, "alice"))

	_, err = alice.Flip(ctx, mismatch[0])
	require.NoError(t, err)
	_, err = alice.Flip(ctx, mismatch[1])
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		s, err := api.GetGame(ctx, gs.GameID)
		return err == nil && s.CardFlipped[mismatch[0]] && s.CardFlipped[mismatch[1]]
	}, waitFor, 5*time.Millisecond)
	require.NoError(t, alice.Close())

	time.Sleep(600 * time.Millisecond)
	s, err := api.GetGame(ctx, gs.GameID)
	require.NoError(t, err)
	assert.True(t, s.CardFlipped[mismatch[1]])
	assert.Equal(t, models.SeatPlayer1, s.CurrentPlayer)

	_, err = alice.Flip(ctx, 3)
	assert.ErrorIs(t, err, ErrClosed)
	select {
	case <-alice.Done():
	default:
		t.Fatal("Done not closed after Close")
	}
	assert.NoError(t, alice.Err())
}

func TestSinglePlayerPlaysToEnd(t *testing.T) {
	srv, api := setupServer(t)
	ctx := context.Background()
	gs, err := api.CreateGame(ctx, "solo", true)
	require.NoError(t, err)

	c := newCoordinator(t, api, srv.URL)
	require.NoError(t, c.Enter(ctx, gs.GameID, "solo"))

	bySpecies := map[string][]int{}
	for i, card := range gs.CardDeck {
		bySpecies[card.Species] = append(bySpecies[card.Species], i)
	}
	for _, idx := range bySpecies {
		_, err := c.Flip(ctx, idx[0])
		require.NoError(t, err)
		res, err := c.Flip(ctx, idx[1])
		require.NoError(t, err)
		require.True(t, res.Matched)
	}

	assert.Equal(t, game.Ended, c.Phase())
	_, err = c.Flip(ctx, 0)
	assert.ErrorIs(t, err, game.ErrGameEnded)

	assert.Eventually(t, func() bool {
		s, err := api.GetGame(ctx, gs.GameID)
		return err == nil && s.AllFlipped() && s.Players.Player1.Points == len(bySpecies)
	}, waitFor, 10*time.Millisecond)

	winner, ok := game.Winner(c.State())
	assert.True(t, ok)
	assert.Equal(t, "solo", winner)
}

type failingTransport struct {
	attempts atomic.Int32
}

func (f *failingTransport) Connect(context.Context, string) (Conn, error) {
	f.attempts.Add(1)
	return nil, errors.New("connection refused")
}

func TestFallbackToPolling(t *testing.T) {
	srv, api := setupServer(t)
	ctx := context.Background()
	gs, err := api.CreateGame(ctx, "alice", false)
	require.NoError(t, err)
	match, _ := pairs(t, gs)

	primary := &failingTransport{}
	alice := NewCoordinator(api, primary, quietLogger())
	alice.Fallback = NewPollTransport(api, 20*time.Millisecond)
	t.Cleanup(func() { alice.Close() })
	require.NoError(t, alice.Enter(ctx, gs.GameID, "alice"))
	assert.Equal(t, int32(1), primary.attempts.Load())

	bob := newCoordinator(t, api, srv.URL)
	require.NoError(t, bob.Enter(ctx, gs.GameID, "bob"))

	eventuallyState(t, alice, func(s *models.GameState) bool {
		return s.Players.Player2.DisplayName() == "bob"
	})

	_, err = alice.Flip(ctx, match[0])
	require.NoError(t, err)
	_, err = alice.Flip(ctx, match[1])
	require.NoError(t, err)

	eventuallyState(t, bob, func(s *models.GameState) bool {
		return s.Players.Player1.Points == 1
	})
}

type stubAPI struct {
	state *models.GameState
}

func (s stubAPI) GetGame(context.Context, string) (*models.GameState, error) {
	return s.state.Clone(), nil
}

func (s stubAPI) JoinGame(context.Context, string, string) (*models.GameState, error) {
	return nil, store.ErrGameFull
}

func stubGame() *models.GameState {
	c1 := models.Card{Species: "Triceratops"}
	c2 := models.Card{Species: "Velociraptor"}
	return models.NewGameState("stub01", models.Deck{c1, c2, c1, c2}, "alice", true)
}

func TestEnterGivesUpAfterMaxReconnects(t *testing.T) {
	tr := &failingTransport{}
	c := NewCoordinator(stubAPI{state: stubGame()}, tr, quietLogger())
	c.MaxReconnects = 2
	c.ReconnectWait = time.Millisecond
	defer c.Close()

	err := c.Enter(context.Background(), "stub01", "alice")
	assert.ErrorIs(t, err, ErrConnectivityLost)
	assert.Equal(t, int32(3), tr.attempts.Load())
}

// droppingTransport hands out one connection that dies after its first state.
type droppingTransport struct {
	attempts atomic.Int32
	state    *models.GameState
}

func (d *droppingTransport) Connect(context.Context, string) (Conn, error) {
	if d.attempts.Add(1) > 1 {
		return nil, errors.New("connection refused")
	}
	return &droppingConn{state: d.state}, nil
}

type droppingConn struct {
	state *models.GameState
	sent  atomic.Bool
}

func (d *droppingConn) Publish(context.Context, string, *models.GameState) (*models.GameState, error) {
	return nil, errors.New("broken pipe")
}

func (d *droppingConn) Recv(context.Context) (Push, error) {
	if d.sent.CompareAndSwap(false, true) {
		return Push{State: d.state.Clone()}, nil
	}
	return Push{}, io.ErrUnexpectedEOF
}

func (d *droppingConn) Echoes() bool { return false }

func (d *droppingConn) Close() error { return nil }

func TestConnectivityLostAfterDrop(t *testing.T) {
	tr := &droppingTransport{state: stubGame()}
	c := NewCoordinator(stubAPI{state: stubGame()}, tr, quietLogger())
	c.MaxReconnects = 3
	c.ReconnectWait = time.Millisecond
	defer c.Close()

	require.NoError(t, c.Enter(context.Background(), "stub01", "alice"))

	select {
	case <-c.Done():
	case <-time.After(waitFor):
		t.Fatal("session did not give up")
	}
	assert.ErrorIs(t, c.Err(), ErrConnectivityLost)
	assert.Equal(t, int32(4), tr.attempts.Load())

	_, err := c.Flip(context.Background(), 0)
	assert.ErrorIs(t, err, ErrConnectivityLost)
}

func TestAPIErrorUnwraps(t *testing.T) {
	_, api := setupServer(t)
	_, err := api.GetGame(context.Background(), "nope00")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 404, apiErr.Status)
	assert.ErrorIs(t, err, store.ErrGameNotFound)

	_, err = api.CreateGame(context.Background(), "", false)
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 400, apiErr.Status)
}

// scriptedConn is an echoing connection whose pushes are fed by the test.
type scriptedConn struct {
	published chan string
	inbound   chan scripted
	closed    chan struct{}
	closeOnce sync.Once
}

type scripted struct {
	push Push
	err  error
}

func newScriptedConn() *scriptedConn {
	return &scriptedConn{
		published: make(chan string, 8),
		inbound:   make(chan scripted, 8),
		closed:    make(chan struct{}),
	}
}

func (s *scriptedConn) Connect(context.Context, string) (Conn, error) { return s, nil }

func (s *scriptedConn) Publish(_ context.Context, requestID string, _ *models.GameState) (*models.GameState, error) {
	s.published <- requestID
	return nil, nil
}

func (s *scriptedConn) Recv(ctx context.Context) (Push, error) {
	select {
	case in := <-s.inbound:
		return in.push, in.err
	case <-ctx.Done():
		return Push{}, ctx.Err()
	case <-s.closed:
		return Push{}, io.EOF
	}
}

func (s *scriptedConn) Echoes() bool { return true }

func (s *scriptedConn) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

func (s *scriptedConn) lastPublished(t *testing.T) string {
	t.Helper()
	select {
	case id := <-s.published:
		require.NotEmpty(t, id)
		return id
	case <-time.After(waitFor):
		t.Fatal("nothing published")
		return ""
	}
}

// duelGame is a two seat game whose cards 0 and 1 differ.
func duelGame() *models.GameState {
	c1 := models.Card{Species: "Triceratops"}
	c2 := models.Card{Species: "Velociraptor"}
	gs := models.NewGameState("duel01", models.Deck{c1, c2, c1, c2}, "alice", false)
	gs.Version = 1
	return gs
}

func enterScripted(t *testing.T, base *models.GameState) (*Coordinator, *scriptedConn) {
	t.Helper()
	conn := newScriptedConn()
	c := NewCoordinator(stubAPI{state: base}, conn, quietLogger())
	c.RevealDelay = time.Minute
	t.Cleanup(func() { c.Close() })
	require.NoError(t, c.Enter(context.Background(), base.GameID, "alice"))
	return c, conn
}

// TestOtherWritesDoNotOverrideOwnFlip delivers a join and a snapshot between a flip and its echo.
func TestOtherWritesDoNotOverrideOwnFlip(t *testing.T) {
	ctx := context.Background()
	base := duelGame()
	c, conn := enterScripted(t, base)

	_, err := c.Flip(ctx, 0)
	require.NoError(t, err)
	reqID := conn.lastPublished(t)

	snapshot := base.Clone()
	joined := base.Clone()
	bob := "bob"
	joined.Players.Player2.Name = &bob
	joined.Version = 2
	conn.inbound <- scripted{push: Push{State: snapshot}}
	conn.inbound <- scripted{push: Push{State: joined}}

	assert.Never(t, func() bool {
		return !c.State().CardFlipped[0]
	}, 100*time.Millisecond, 5*time.Millisecond)
	assert.Equal(t, game.AwaitingSecondFlip, c.Phase())

	echo := joined.Clone()
	echo.CardFlipped[0] = true
	echo.Version = 3
	conn.inbound <- scripted{push: Push{State: echo, RequestID: reqID}}

	eventuallyState(t, c, func(s *models.GameState) bool { return s.Version == 3 })
	assert.Equal(t, "bob", c.State().Players.Player2.DisplayName())
	assert.Equal(t, game.AwaitingSecondFlip, c.Phase())

	res, err := c.Flip(ctx, 1)
	require.NoError(t, err)
	assert.True(t, res.Mismatched)
	assert.Equal(t, game.Resolving, c.Phase())
}

// TestNewerWriteArrivingBeforeEchoWins covers a later update overtaking the echo of an earlier one.
func TestNewerWriteArrivingBeforeEchoWins(t *testing.T) {
	ctx := context.Background()
	base := duelGame()
	c, conn := enterScripted(t, base)

	_, err := c.Flip(ctx, 0)
	require.NoError(t, err)
	reqID := conn.lastPublished(t)

	echo := base.Clone()
	echo.CardFlipped[0] = true
	echo.Version = 2
	later := echo.Clone()
	bob := "bob"
	later.Players.Player2.Name = &bob
	later.Version = 3

	conn.inbound <- scripted{push: Push{State: later}}
	conn.inbound <- scripted{push: Push{State: echo, RequestID: reqID}}

	eventuallyState(t, c, func(s *models.GameState) bool { return s.Version == 3 })
	assert.True(t, c.State().CardFlipped[0])
	assert.Equal(t, "bob", c.State().Players.Player2.DisplayName())
	assert.Equal(t, game.AwaitingSecondFlip, c.Phase())
}

func TestRejectedFlipReloadsState(t *testing.T) {
	ctx := context.Background()
	base := duelGame()
	c, conn := enterScripted(t, base)

	_, err := c.Flip(ctx, 0)
	require.NoError(t, err)
	reqID := conn.lastPublished(t)
	assert.True(t, c.State().CardFlipped[0])

	conn.inbound <- scripted{err: &RemoteError{Code: handlers.CodeInvalidUpdate, Message: "rejected", RequestID: reqID}}

	eventuallyState(t, c, func(s *models.GameState) bool { return !s.CardFlipped[0] })
	assert.Equal(t, game.AwaitingFirstFlip, c.Phase())
	select {
	case <-c.Done():
		t.Fatal("a rejected update must not end the session")
	default:
	}
}

// TestFlipOnViewBeforeJoinKeepsPlayer2 moves on a view that may predate player2's arrival.
func TestFlipOnViewBeforeJoinKeepsPlayer2(t *testing.T) {
	srv, api := setupServer(t)
	ctx := context.Background()
	gs, err := api.CreateGame(ctx, "alice", false)
	require.NoError(t, err)

	alice := newCoordinator(t, api, srv.URL)
	require.NoError(t, alice.Enter(ctx, gs.GameID, "alice"))
	_, err = api.JoinGame(ctx, gs.GameID, "bob")
	require.NoError(t, err)
	_, err = alice.Flip(ctx, 0)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		s, err := api.GetGame(ctx, gs.GameID)
		return err == nil && s.CardFlipped[0]
	}, waitFor, 5*time.Millisecond)
	server, err := api.GetGame(ctx, gs.GameID)
	require.NoError(t, err)
	assert.Equal(t, "bob", server.Players.Player2.DisplayName())

	_, err = api.JoinGame(ctx, gs.GameID, "carol")
	assert.ErrorIs(t, err, store.ErrGameFull)
	eventuallyState(t, alice, func(s *models.GameState) bool {
		return s.CardFlipped[0] && s.Players.Player2.DisplayName() == "bob"
	})
}
