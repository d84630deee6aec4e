package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jason-s-yu/dinomemo/internal/models"
	"github.com/jason-s-yu/dinomemo/internal/store"
)

const gameColumns = `game_id, card_deck, card_flipped, players, current_player, is_single_player, version, updated_at`

// GameRepo stores games in the games table. It implements store.GameStateStore.
type GameRepo struct {
	pool *pgxpool.Pool
}

func NewGameRepo(pool *pgxpool.Pool) *GameRepo {
	return &GameRepo{pool: pool}
}

// Create inserts a new game row at version 1.
func (r *GameRepo) Create(ctx context.Context, state *models.GameState) error {
	deck, flipped, players, err := marshalGame(state)
	if err != nil {
		return err
	}
	q := `
		INSERT INTO games (game_id, card_deck, card_flipped, players, current_player, is_single_player, version)
		VALUES ($1, $2, $3, $4, $5, $6, 1)
	`
	_, err = r.pool.Exec(ctx, q, state.GameID, deck, flipped, players, string(state.CurrentPlayer), state.IsSinglePlayer)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return store.ErrGameExists
	}
	if err != nil {
		return fmt.Errorf("insert game %s: %w", state.GameID, err)
	}
	return nil
}

func (r *GameRepo) Get(ctx context.Context, gameID string) (*models.GameState, error) {
	q := `SELECT ` + gameColumns + ` FROM games WHERE game_id = $1`
	return scanGame(r.pool.QueryRow(ctx, q, gameID))
}

// Put overwrites the whole row, inserting it if missing.
func (r *GameRepo) Put(ctx context.Context, state *models.GameState) error {
	deck, flipped, players, err := marshalGame(state)
	if err != nil {
		return err
	}
	q := `
		INSERT INTO games (game_id, card_deck, card_flipped, players, current_player, is_single_player, version)
		VALUES ($1, $2, $3, $4, $5, $6, 1)
		ON CONFLICT (game_id) DO UPDATE SET
			card_deck = EXCLUDED.card_deck,
			card_flipped = EXCLUDED.card_flipped,
			players = EXCLUDED.players,
			current_player = EXCLUDED.current_player,
			is_single_player = EXCLUDED.is_single_player,
			version = games.version + 1,
			updated_at = NOW()
	`
	return pgx.BeginTxFunc(ctx, r.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, e := tx.Exec(ctx, q, state.GameID, deck, flipped, players, string(state.CurrentPlayer), state.IsSinglePlayer)
		return e
	})
}

// Update merges patch into the stored row under a row lock.
func (r *GameRepo) Update(ctx context.Context, gameID string, patch models.Patch) (*models.GameState, error) {
	var out *models.GameState
	err := pgx.BeginTxFunc(ctx, r.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		q := `SELECT ` + gameColumns + ` FROM games WHERE game_id = $1 FOR UPDATE`
		gs, err := scanGame(tx.QueryRow(ctx, q, gameID))
		if err != nil {
			return err
		}
		if err := store.ApplyPatch(gs, patch); err != nil {
			return err
		}
		out, err = r.writeMutable(ctx, tx, gs)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Join seats playerName as player2 only if the seat has no name yet.
func (r *GameRepo) Join(ctx context.Context, gameID, playerName string) (*models.GameState, error) {
	q := `
		UPDATE games
		SET players = jsonb_set(players, '{player2,name}', to_jsonb($2::text)),
			version = version + 1,
			updated_at = NOW()
		WHERE game_id = $1
			AND NOT is_single_player
			AND players->'player2'->>'name' IS NULL
		RETURNING ` + gameColumns
	gs, err := scanGame(r.pool.QueryRow(ctx, q, gameID, playerName))
	if err == nil {
		return gs, nil
	}
	if !errors.Is(err, store.ErrGameNotFound) {
		return nil, err
	}

	// Nothing matched: the game is missing, single player, or already has a player2.
	current, err := r.Get(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if err := store.SeatPlayer2(current, playerName); err != nil {
		return nil, err
	}
	return current, nil
}

func (r *GameRepo) writeMutable(ctx context.Context, tx pgx.Tx, gs *models.GameState) (*models.GameState, error) {
	flipped, err := json.Marshal(gs.CardFlipped)
	if err != nil {
		return nil, fmt.Errorf("marshal card_flipped: %w", err)
	}
	players, err := json.Marshal(gs.Players)
	if err != nil {
		return nil, fmt.Errorf("marshal players: %w", err)
	}
	q := `
		UPDATE games
		SET card_flipped = $2, players = $3, current_player = $4,
			version = version + 1, updated_at = NOW()
		WHERE game_id = $1
		RETURNING version, updated_at
	`
	if err := tx.QueryRow(ctx, q, gs.GameID, flipped, players, string(gs.CurrentPlayer)).Scan(&gs.Version, &gs.UpdatedAt); err != nil {
		return nil, fmt.Errorf("update game %s: %w", gs.GameID, err)
	}
	return gs, nil
}

func marshalGame(state *models.GameState) (deck, flipped, players []byte, err error) {
	if deck, err = json.Marshal(state.CardDeck); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal card_deck: %w", err)
	}
	if flipped, err = json.Marshal(state.CardFlipped); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal card_flipped: %w", err)
	}
	if players, err = json.Marshal(state.Players); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal players: %w", err)
	}
	return deck, flipped, players, nil
}

func scanGame(row pgx.Row) (*models.GameState, error) {
	var (
		gs                     models.GameState
		deck, flipped, players []byte
		current                string
	)
	err := row.Scan(&gs.GameID, &deck, &flipped, &players, &current, &gs.IsSinglePlayer, &gs.Version, &gs.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrGameNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan game: %w", err)
	}
	if err := json.Unmarshal(deck, &gs.CardDeck); err != nil {
		return nil, fmt.Errorf("decode card_deck: %w", err)
	}
	if err := json.Unmarshal(flipped, &gs.CardFlipped); err != nil {
		return nil, fmt.Errorf("decode card_flipped: %w", err)
	}
	if err := json.Unmarshal(players, &gs.Players); err != nil {
		return nil, fmt.Errorf("decode players: %w", err)
	}
	gs.CurrentPlayer = models.Seat(current)
	return &gs, nil
}
