package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jason-s-yu/dinomemo/internal/broadcast"
	"github.com/jason-s-yu/dinomemo/internal/cache"
	"github.com/jason-s-yu/dinomemo/internal/catalog"
	"github.com/jason-s-yu/dinomemo/internal/config"
	"github.com/jason-s-yu/dinomemo/internal/database"
	"github.com/jason-s-yu/dinomemo/internal/handlers"
	"github.com/jason-s-yu/dinomemo/internal/hub"
	"github.com/jason-s-yu/dinomemo/internal/registry"
	"github.com/jason-s-yu/dinomemo/internal/service"
	"github.com/jason-s-yu/dinomemo/internal/store"
	_ "github.com/joho/godotenv/autoload"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("config: %v", err)
	}
	logger := cfg.NewLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatalf("server exited: %v", err)
	}
}

func run(ctx context.Context, cfg config.Config, logger *logrus.Logger) error {
	var pool *pgxpool.Pool
	if cfg.NeedsPostgres() {
		p, err := database.Connect(ctx, cfg.PostgresURL(), logger)
		if err != nil {
			return err
		}
		defer p.Close()
		if err := database.Migrate(ctx, p); err != nil {
			return err
		}
		pool = p
	}

	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		r, err := cache.Connect(ctx, cfg.RedisAddr, cfg.RedisDB)
		if err != nil {
			return err
		}
		defer r.Close()
		logger.Infof("Connected to Redis at %s", cfg.RedisAddr)
		rdb = r
	}

	var st store.GameStateStore = store.NewMemoryStore()
	if cfg.StoreBackend == config.BackendPostgres {
		st = database.NewGameRepo(pool)
		if rdb != nil {
			st = cache.NewGameCache(st, rdb, cfg.GameCacheTTL, logger)
		}
	}

	var reg registry.Registry = registry.NewMemory()
	switch cfg.RegistryBackend {
	case config.BackendRedis:
		reg = cache.NewRegistry(rdb)
	case config.BackendPostgres:
		reg = database.NewConnectionRepo(pool)
	}

	var cat catalog.Catalog = catalog.NewStatic(cfg.ImageBase)
	if cfg.CatalogBackend == config.BackendPostgres {
		cat = database.NewDinosaurRepo(pool)
	}

	h := hub.New(logger)
	b := broadcast.New(st, reg, h, logger)
	b.SendTimeout = cfg.SendTimeout
	if rdb != nil {
		b.Recorder = cache.NewActionQueue(rdb, cfg.HistorianQueue)
	}

	svc := service.New(st, cat, b, logger)
	svc.PairCount = cfg.PairCount

	gs := handlers.NewGameServer(svc, h, reg, logger)
	gs.OriginPatterns = originPatterns(cfg.AllowedOrigins)

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           handlers.NewRouter(gs, cfg.AllowedOrigins),
		ReadHeaderTimeout: 10 * time.Second,
		// websocket read loops end with the process context
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	logger.WithFields(logrus.Fields{
		"store":    cfg.StoreBackend,
		"registry": cfg.RegistryBackend,
		"catalog":  cfg.CatalogBackend,
	}).Infof("Running on %s", srv.Addr)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		logger.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// originPatterns turns ALLOWED_ORIGINS urls into host patterns for websocket.Accept.
func originPatterns(origins []string) []string {
	if slices.Contains(origins, "*") {
		return []string{"*"}
	}
	var patterns []string
	for _, o := range origins {
		u, err := url.Parse(o)
		if err != nil || u.Host == "" {
			patterns = append(patterns, o)
			continue
		}
		patterns = append(patterns, u.Host)
	}
	return patterns
}
