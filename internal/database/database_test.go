package database

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jason-s-yu/dinomemo/internal/catalog"
	"github.com/jason-s-yu/dinomemo/internal/models"
	"github.com/jason-s-yu/dinomemo/internal/store"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testPool needs a reachable Postgres in DATABASE_URL; without one the test is skipped.
func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set")
	}
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	pool, err := Connect(ctx, url, logger)
	require.NoError(t, err)
	require.NoError(t, Migrate(ctx, pool))
	t.Cleanup(pool.Close)
	return pool
}

func newGameID() string {
	return "t" + uuid.NewString()[:8]
}

func testGame(id string, single bool) *models.GameState {
	deck := models.Deck{}
	for _, d := range catalog.Dinosaurs(catalog.DefaultImageBase)[:3] {
		c := models.CardFromDinosaur(d)
		deck = append(deck, c, c)
	}
	return models.NewGameState(id, deck, "alice", single)
}

func TestGameRepoRoundTrip(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	repo := NewGameRepo(pool)

	gs := testGame(newGameID(), false)
	require.NoError(t, repo.Create(ctx, gs))
	assert.ErrorIs(t, repo.Create(ctx, gs), store.ErrGameExists)

	got, err := repo.Get(ctx, gs.GameID)
	require.NoError(t, err)
	assert.Equal(t, gs.CardDeck, got.CardDeck)
	assert.Equal(t, gs.CardFlipped, got.CardFlipped)
	assert.Equal(t, "alice", got.Players.Player1.DisplayName())
	assert.False(t, got.Players.Player2.Seated())
	assert.Equal(t, int64(1), got.Version)

	_, err = repo.Get(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrGameNotFound)
}

func TestGameRepoUpdateMerges(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	repo := NewGameRepo(pool)

	gs := testGame(newGameID(), false)
	require.NoError(t, repo.Create(ctx, gs))

	flipped := make([]bool, len(gs.CardDeck))
	flipped[0], flipped[1] = true, true
	updated, err := repo.Update(ctx, gs.GameID, models.Patch{CardFlipped: flipped})
	require.NoError(t, err)
	assert.Equal(t, flipped, updated.CardFlipped)
	assert.Equal(t, int64(2), updated.Version)

	seat := models.SeatPlayer2
	updated, err = repo.Update(ctx, gs.GameID, models.Patch{CurrentPlayer: &seat})
	require.NoError(t, err)
	assert.Equal(t, flipped, updated.CardFlipped)
	assert.Equal(t, models.SeatPlayer2, updated.CurrentPlayer)
	assert.Equal(t, gs.CardDeck, updated.CardDeck)

	_, err = repo.Update(ctx, gs.GameID, models.Patch{CardFlipped: []bool{true}})
	assert.ErrorIs(t, err, store.ErrInvalidPatch)
	_, err = repo.Update(ctx, "missing", models.Patch{CurrentPlayer: &seat})
	assert.ErrorIs(t, err, store.ErrGameNotFound)
}

func TestGameRepoConcurrentJoin(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	repo := NewGameRepo(pool)

	gs := testGame(newGameID(), false)
	require.NoError(t, repo.Create(ctx, gs))

	const n = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
		full int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := repo.Join(ctx, gs.GameID, fmt.Sprintf("p%d", i))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case assert.ErrorIs(t, err, store.ErrGameFull):
				full++
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
	assert.Equal(t, n-1, full)

	got, err := repo.Get(ctx, gs.GameID)
	require.NoError(t, err)
	require.True(t, got.Players.Player2.Seated())

	// the seated player may rejoin
	_, err = repo.Join(ctx, gs.GameID, *got.Players.Player2.Name)
	assert.NoError(t, err)

	solo := testGame(newGameID(), true)
	require.NoError(t, repo.Create(ctx, solo))
	_, err = repo.Join(ctx, solo.GameID, "bob")
	assert.ErrorIs(t, err, store.ErrGameFull)
}

func TestConnectionRepo(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	repo := NewConnectionRepo(pool)

	game := newGameID()
	c1, c2 := uuid.NewString(), uuid.NewString()
	require.NoError(t, repo.Register(ctx, c1, game))
	require.NoError(t, repo.Register(ctx, c2, game))

	ids, err := repo.ListByGame(ctx, game)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{c1, c2}, ids)

	require.NoError(t, repo.Unregister(ctx, c1))
	require.NoError(t, repo.Unregister(ctx, c1))
	ids, err = repo.ListByGame(ctx, game)
	require.NoError(t, err)
	assert.Equal(t, []string{c2}, ids)
	require.NoError(t, repo.Unregister(ctx, c2))
}

func TestDinosaurRepo(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	repo := NewDinosaurRepo(pool)

	dinos := catalog.Dinosaurs(catalog.DefaultImageBase)
	require.NoError(t, repo.Upsert(ctx, dinos))
	require.NoError(t, repo.Upsert(ctx, dinos))

	got, err := repo.List(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(got), len(dinos))
}

func TestActionRepo(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	games := NewGameRepo(pool)
	repo := NewActionRepo(pool)

	gs := testGame(newGameID(), false)
	require.NoError(t, games.Create(ctx, gs))

	recs := []models.ActionRecord{
		{GameID: gs.GameID, ActionIndex: 1, Actor: "alice", ActionType: models.ActionCreateGame, Timestamp: time.Now().UnixMilli()},
		{GameID: gs.GameID, ActionIndex: 2, ActionType: models.ActionUpdateGame, ActionPayload: map[string]interface{}{"currentPlayer": "player2"}},
	}
	require.NoError(t, repo.InsertActions(ctx, recs))
	require.NoError(t, repo.InsertActions(ctx, recs))

	got, err := repo.ListActions(ctx, gs.GameID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, models.ActionCreateGame, got[0].ActionType)
	assert.Equal(t, "player2", got[1].ActionPayload["currentPlayer"])

	changed, err := repo.MarkAbandoned(ctx, gs.GameID)
	require.NoError(t, err)
	assert.True(t, changed)
	changed, err = repo.MarkAbandoned(ctx, gs.GameID)
	require.NoError(t, err)
	assert.False(t, changed)
}
