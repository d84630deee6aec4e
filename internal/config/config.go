// Package config reads process configuration from the environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/sirupsen/logrus"
)

// Backend names accepted by the *_BACKEND variables.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendStatic   = "static"
)

// Config holds every setting shared by the binaries in cmd/.
type Config struct {
	Port     string `env:"PORT" envDefault:"8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"debug"`

	StoreBackend    string `env:"STORE_BACKEND" envDefault:"memory"`
	RegistryBackend string `env:"REGISTRY_BACKEND" envDefault:"memory"`
	CatalogBackend  string `env:"CATALOG_BACKEND" envDefault:"static"`

	DatabaseURL string `env:"DATABASE_URL"`
	PGUser      string `env:"POSTGRES_USER"`
	PGPassword  string `env:"POSTGRES_PASSWORD"`
	PGHost      string `env:"PG_HOST" envDefault:"localhost"`
	PGPort      string `env:"PG_PORT" envDefault:"5432"`
	PGDatabase  string `env:"PG_DATABASE"`

	RedisAddr    string        `env:"REDIS_ADDR"`
	RedisDB      int           `env:"REDIS_DB" envDefault:"0"`
	GameCacheTTL time.Duration `env:"GAME_CACHE_TTL" envDefault:"10m"`

	HistorianQueue     string        `env:"HISTORIAN_QUEUE_NAME" envDefault:"dinomemo_actions"`
	HistorianBatchSize int           `env:"HISTORIAN_BATCH_SIZE" envDefault:"20"`
	HistorianFlushMs   int           `env:"HISTORIAN_FLUSH_MS" envDefault:"500"`
	HistorianIdle      time.Duration `env:"HISTORIAN_INACTIVITY" envDefault:"10m"`
	HistorianRetain    int           `env:"HISTORIAN_MAX_RETAINED" envDefault:"10000"`

	PairCount      int           `env:"PAIR_COUNT" envDefault:"12"`
	ImageBase      string        `env:"IMAGE_BASE_URL"`
	SendTimeout    time.Duration `env:"SEND_TIMEOUT" envDefault:"3s"`
	AllowedOrigins []string      `env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`
}

// Load parses the environment into a Config and validates it.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects unknown backends and settings a backend needs but lacks.
func (c Config) Validate() error {
	switch c.StoreBackend {
	case BackendMemory, BackendPostgres:
	default:
		return fmt.Errorf("STORE_BACKEND %q: want memory or postgres", c.StoreBackend)
	}
	switch c.RegistryBackend {
	case BackendMemory, BackendRedis, BackendPostgres:
	default:
		return fmt.Errorf("REGISTRY_BACKEND %q: want memory, redis or postgres", c.RegistryBackend)
	}
	switch c.CatalogBackend {
	case BackendStatic, BackendPostgres:
	default:
		return fmt.Errorf("CATALOG_BACKEND %q: want static or postgres", c.CatalogBackend)
	}
	if c.RegistryBackend == BackendRedis && c.RedisAddr == "" {
		return fmt.Errorf("REGISTRY_BACKEND=redis requires REDIS_ADDR")
	}
	if c.NeedsPostgres() && c.PostgresURL() == "" {
		return fmt.Errorf("postgres backend requires DATABASE_URL or PG_DATABASE")
	}
	if c.PairCount <= 0 {
		return fmt.Errorf("PAIR_COUNT must be positive, got %d", c.PairCount)
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("LOG_LEVEL: %w", err)
	}
	return nil
}

// NeedsPostgres reports whether any backend is Postgres.
func (c Config) NeedsPostgres() bool {
	return c.StoreBackend == BackendPostgres ||
		c.RegistryBackend == BackendPostgres ||
		c.CatalogBackend == BackendPostgres
}

// PostgresURL prefers DATABASE_URL and otherwise assembles a url from the PG_* parts.
func (c Config) PostgresURL() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	if c.PGDatabase == "" {
		return ""
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s", c.PGUser, c.PGPassword, c.PGHost, c.PGPort, c.PGDatabase)
}

// Addr is the listen address for the HTTP server.
func (c Config) Addr() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return ":" + c.Port
}

// NewLogger builds the process logger at the configured level.
func (c Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		level = logrus.DebugLevel
	}
	logger.SetLevel(level)
	return logger
}
