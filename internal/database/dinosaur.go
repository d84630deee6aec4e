package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jason-s-yu/dinomemo/internal/models"
)

// DinosaurRepo reads the species catalog from the dinosaurs table.
type DinosaurRepo struct {
	pool *pgxpool.Pool
}

func NewDinosaurRepo(pool *pgxpool.Pool) *DinosaurRepo {
	return &DinosaurRepo{pool: pool}
}

// List returns every species in the table.
func (r *DinosaurRepo) List(ctx context.Context) ([]models.Dinosaur, error) {
	rows, err := r.pool.Query(ctx, `SELECT species, image FROM dinosaurs ORDER BY species`)
	if err != nil {
		return nil, fmt.Errorf("query dinosaurs: %w", err)
	}
	dinos, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Dinosaur, error) {
		var d models.Dinosaur
		err := row.Scan(&d.Species, &d.ImageRef)
		return d, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan dinosaurs: %w", err)
	}
	return dinos, nil
}

// Upsert writes dinos in one transaction, refreshing the image of existing species.
func (r *DinosaurRepo) Upsert(ctx context.Context, dinos []models.Dinosaur) error {
	q := `
		INSERT INTO dinosaurs (species, image)
		VALUES ($1, $2)
		ON CONFLICT (species) DO UPDATE SET image = EXCLUDED.image
	`
	err := pgx.BeginTxFunc(ctx, r.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		for _, d := range dinos {
			if _, e := tx.Exec(ctx, q, d.Species, d.ImageRef); e != nil {
				return fmt.Errorf("upsert %s: %w", d.Species, e)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("tx upsert dinosaurs: %w", err)
	}
	return nil
}
