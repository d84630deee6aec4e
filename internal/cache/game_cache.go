package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jason-s-yu/dinomemo/internal/models"
	"github.com/jason-s-yu/dinomemo/internal/store"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// DefaultGameTTL is how long a cached game lives without being written.
const DefaultGameTTL = 10 * time.Minute

func gameKey(gameID string) string {
	return "game:" + gameID + ":state"
}

// GameCache is a read-through cache in front of another store. Writes go to
// the backing store first and then refresh the cached copy. Cache failures
// are logged and never fail the call.
type GameCache struct {
	next   store.GameStateStore
	rdb    *redis.Client
	ttl    time.Duration
	logger *logrus.Logger
}

func NewGameCache(next store.GameStateStore, rdb *redis.Client, ttl time.Duration, logger *logrus.Logger) *GameCache {
	if ttl <= 0 {
		ttl = DefaultGameTTL
	}
	return &GameCache{next: next, rdb: rdb, ttl: ttl, logger: logger}
}

func (c *GameCache) Create(ctx context.Context, state *models.GameState) error {
	if err := c.next.Create(ctx, state); err != nil {
		return err
	}
	// the backing store assigns the version, so drop rather than write our copy
	c.evict(ctx, state.GameID)
	return nil
}

func (c *GameCache) Get(ctx context.Context, gameID string) (*models.GameState, error) {
	data, err := c.rdb.Get(ctx, gameKey(gameID)).Bytes()
	if err == nil {
		var gs models.GameState
		uerr := json.Unmarshal(data, &gs)
		if uerr == nil {
			return &gs, nil
		}
		c.logger.WithField("game_id", gameID).Warnf("discarding corrupt cached game: %v", uerr)
	} else if !errors.Is(err, redis.Nil) {
		c.logger.WithField("game_id", gameID).Warnf("game cache read: %v", err)
	}

	gs, err := c.next.Get(ctx, gameID)
	if err != nil {
		return nil, err
	}
	c.set(ctx, gs)
	return gs, nil
}

func (c *GameCache) Put(ctx context.Context, state *models.GameState) error {
	if err := c.next.Put(ctx, state); err != nil {
		return err
	}
	c.evict(ctx, state.GameID)
	return nil
}

func (c *GameCache) Update(ctx context.Context, gameID string, patch models.Patch) (*models.GameState, error) {
	gs, err := c.next.Update(ctx, gameID, patch)
	if err != nil {
		return nil, err
	}
	c.set(ctx, gs)
	return gs, nil
}

func (c *GameCache) Join(ctx context.Context, gameID, playerName string) (*models.GameState, error) {
	gs, err := c.next.Join(ctx, gameID, playerName)
	if err != nil {
		return nil, err
	}
	c.set(ctx, gs)
	return gs, nil
}

func (c *GameCache) set(ctx context.Context, gs *models.GameState) {
	data, err := json.Marshal(gs)
	if err != nil {
		c.logger.WithField("game_id", gs.GameID).Warnf("game cache encode: %v", err)
		return
	}
	if err := c.rdb.Set(ctx, gameKey(gs.GameID), data, c.ttl).Err(); err != nil {
		c.logger.WithField("game_id", gs.GameID).Warnf("game cache write: %v", err)
	}
}

func (c *GameCache) evict(ctx context.Context, gameID string) {
	if err := c.rdb.Del(ctx, gameKey(gameID)).Err(); err != nil {
		c.logger.WithField("game_id", gameID).Warnf("game cache evict: %v", err)
	}
}
