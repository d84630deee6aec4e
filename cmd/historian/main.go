package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jason-s-yu/dinomemo/internal/cache"
	"github.com/jason-s-yu/dinomemo/internal/config"
	"github.com/jason-s-yu/dinomemo/internal/database"
	"github.com/jason-s-yu/dinomemo/internal/historian"
	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("config: %v", err)
	}
	logger := cfg.NewLogger()
	if cfg.RedisAddr == "" {
		logger.Fatal("historian requires REDIS_ADDR")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := database.Connect(ctx, cfg.PostgresURL(), logger)
	if err != nil {
		logger.Fatalf("postgres: %v", err)
	}
	defer pool.Close()
	if err := database.Migrate(ctx, pool); err != nil {
		logger.Fatalf("migrate: %v", err)
	}

	rdb, err := cache.Connect(ctx, cfg.RedisAddr, cfg.RedisDB)
	if err != nil {
		logger.Fatalf("redis: %v", err)
	}
	defer rdb.Close()

	svc := historian.New(
		cache.NewActionQueue(rdb, cfg.HistorianQueue),
		database.NewActionRepo(pool),
		logger,
		historian.Options{
			BatchSize:   cfg.HistorianBatchSize,
			FlushDelay:  time.Duration(cfg.HistorianFlushMs) * time.Millisecond,
			Inactivity:  cfg.HistorianIdle,
			MaxRetained: cfg.HistorianRetain,
		},
	)
	if err := svc.Run(ctx); err != nil {
		logger.Fatalf("historian: %v", err)
	}
}
