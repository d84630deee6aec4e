package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ConnectionRepo keeps the connection registry in the connections table.
type ConnectionRepo struct {
	pool *pgxpool.Pool
}

func NewConnectionRepo(pool *pgxpool.Pool) *ConnectionRepo {
	return &ConnectionRepo{pool: pool}
}

// Register maps connectionID to gameID, replacing any earlier mapping.
func (r *ConnectionRepo) Register(ctx context.Context, connectionID, gameID string) error {
	q := `
		INSERT INTO connections (connection_id, game_id)
		VALUES ($1, $2)
		ON CONFLICT (connection_id)
		DO UPDATE SET game_id = EXCLUDED.game_id, connected_at = NOW()
	`
	if _, err := r.pool.Exec(ctx, q, connectionID, gameID); err != nil {
		return fmt.Errorf("register connection %s: %w", connectionID, err)
	}
	return nil
}

func (r *ConnectionRepo) Unregister(ctx context.Context, connectionID string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM connections WHERE connection_id = $1`, connectionID); err != nil {
		return fmt.Errorf("unregister connection %s: %w", connectionID, err)
	}
	return nil
}

func (r *ConnectionRepo) ListByGame(ctx context.Context, gameID string) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT connection_id FROM connections WHERE game_id = $1 ORDER BY connection_id`, gameID)
	if err != nil {
		return nil, fmt.Errorf("list connections for %s: %w", gameID, err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan connections for %s: %w", gameID, err)
	}
	return ids, nil
}
