package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jason-s-yu/dinomemo/internal/models"
)

// ActionRepo persists game history for the historian worker.
type ActionRepo struct {
	pool *pgxpool.Pool
}

func NewActionRepo(pool *pgxpool.Pool) *ActionRepo {
	return &ActionRepo{pool: pool}
}

// InsertActions writes a batch of records in a single transaction. An end_game
// record also marks its game completed.
func (r *ActionRepo) InsertActions(ctx context.Context, records []models.ActionRecord) error {
	if len(records) == 0 {
		return nil
	}
	err := pgx.BeginTxFunc(ctx, r.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		for _, rec := range records {
			if err := insertActionTx(ctx, tx, rec); err != nil {
				return fmt.Errorf("insertActionTx: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("tx insert actions: %w", err)
	}
	return nil
}

// ListActions returns the history of gameID in insertion order.
func (r *ActionRepo) ListActions(ctx context.Context, gameID string) ([]models.ActionRecord, error) {
	q := `
		SELECT game_id, action_index, actor, action_type, action_payload, created_at
		FROM game_actions
		WHERE game_id = $1
		ORDER BY action_index, created_at
	`
	rows, err := r.pool.Query(ctx, q, gameID)
	if err != nil {
		return nil, fmt.Errorf("query actions for %s: %w", gameID, err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.ActionRecord, error) {
		var (
			rec     models.ActionRecord
			payload []byte
			created time.Time
		)
		if err := row.Scan(&rec.GameID, &rec.ActionIndex, &rec.Actor, &rec.ActionType, &payload, &created); err != nil {
			return rec, err
		}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &rec.ActionPayload); err != nil {
				return rec, fmt.Errorf("decode action_payload: %w", err)
			}
		}
		rec.Timestamp = created.UnixMilli()
		return rec, nil
	})
}

// MarkAbandoned flags a game still in progress as abandoned. It reports whether a row changed.
func (r *ActionRepo) MarkAbandoned(ctx context.Context, gameID string) (bool, error) {
	q := `
		UPDATE games
		SET status = 'abandoned', end_time = NOW()
		WHERE game_id = $1 AND status = 'in_progress'
	`
	tag, err := r.pool.Exec(ctx, q, gameID)
	if err != nil {
		return false, fmt.Errorf("mark game %s abandoned: %w", gameID, err)
	}
	return tag.RowsAffected() > 0, nil
}

func insertActionTx(ctx context.Context, tx pgx.Tx, rec models.ActionRecord) error {
	payload, err := json.Marshal(rec.ActionPayload)
	if err != nil {
		return err
	}
	created := time.UnixMilli(rec.Timestamp)
	if rec.Timestamp == 0 {
		created = time.Now()
	}
	q := `
		INSERT INTO game_actions (game_id, action_index, actor, action_type, action_payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (game_id, action_index, action_type) DO NOTHING
	`
	if _, err := tx.Exec(ctx, q, rec.GameID, rec.ActionIndex, rec.Actor, rec.ActionType, payload, created); err != nil {
		return err
	}

	if rec.ActionType == models.ActionEndGame {
		finalizeQ := `
			UPDATE games
			SET status = 'completed', end_time = NOW()
			WHERE game_id = $1 AND status = 'in_progress'
		`
		if _, err := tx.Exec(ctx, finalizeQ, rec.GameID); err != nil {
			return err
		}
	}
	return nil
}
