package cache

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"
)

const connectionsKey = "connections"

func gameConnsKey(gameID string) string {
	return "game:" + gameID + ":connections"
}

// Registry keeps one set of connection ids per game plus a hash from
// connection id to game id, so registries on several server processes agree.
type Registry struct {
	rdb *redis.Client
}

func NewRegistry(rdb *redis.Client) *Registry {
	return &Registry{rdb: rdb}
}

// Register maps connectionID to gameID, moving it out of any earlier game.
func (r *Registry) Register(ctx context.Context, connectionID, gameID string) error {
	prev, err := r.rdb.HGet(ctx, connectionsKey, connectionID).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("lookup connection %s: %w", connectionID, err)
	}
	_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if prev != "" && prev != gameID {
			pipe.SRem(ctx, gameConnsKey(prev), connectionID)
		}
		pipe.HSet(ctx, connectionsKey, connectionID, gameID)
		pipe.SAdd(ctx, gameConnsKey(gameID), connectionID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("register connection %s: %w", connectionID, err)
	}
	return nil
}

// Unregister removes connectionID. Unknown ids are ignored.
func (r *Registry) Unregister(ctx context.Context, connectionID string) error {
	gameID, err := r.rdb.HGet(ctx, connectionsKey, connectionID).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("lookup connection %s: %w", connectionID, err)
	}
	_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SRem(ctx, gameConnsKey(gameID), connectionID)
		pipe.HDel(ctx, connectionsKey, connectionID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("unregister connection %s: %w", connectionID, err)
	}
	return nil
}

func (r *Registry) ListByGame(ctx context.Context, gameID string) ([]string, error) {
	ids, err := r.rdb.SMembers(ctx, gameConnsKey(gameID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list connections for %s: %w", gameID, err)
	}
	sort.Strings(ids)
	return ids, nil
}
