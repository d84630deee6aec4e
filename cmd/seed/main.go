// Command seed loads the built-in dinosaur catalog into Postgres.
package main

import (
	"context"
	"time"

	"github.com/jason-s-yu/dinomemo/internal/catalog"
	"github.com/jason-s-yu/dinomemo/internal/config"
	"github.com/jason-s-yu/dinomemo/internal/database"
	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("config: %v", err)
	}
	logger := cfg.NewLogger()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := database.Connect(ctx, cfg.PostgresURL(), logger)
	if err != nil {
		logger.Fatalf("postgres: %v", err)
	}
	defer pool.Close()
	if err := database.Migrate(ctx, pool); err != nil {
		logger.Fatalf("migrate: %v", err)
	}

	dinos := catalog.Dinosaurs(cfg.ImageBase)
	if err := database.NewDinosaurRepo(pool).Upsert(ctx, dinos); err != nil {
		logger.Fatalf("seed dinosaurs: %v", err)
	}
	logger.Infof("Seeded %d dinosaurs", len(dinos))
}
