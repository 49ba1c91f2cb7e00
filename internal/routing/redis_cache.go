package routing

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/ambulance-dispatch/internal/models"
)

// RedisCache shares resolved routes between API replicas.
type RedisCache struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	logger *slog.Logger
}

func NewRedisCache(client redis.UniversalClient, prefix string, ttl time.Duration, logger *slog.Logger) *RedisCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisCache{client: client, prefix: prefix, ttl: ttl, logger: logger}
}

func (r *RedisCache) key(a, b models.Coord) string { return r.prefix + keyFor(a, b) }

func (r *RedisCache) Get(ctx context.Context, a, b models.Coord) ([]models.Coord, bool) {
	raw, err := r.client.Get(ctx, r.key(a, b)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			r.logger.Warn("route cache read failed", "error", err)
		}
		return nil, false
	}
	var route []models.Coord
	if err := json.Unmarshal(raw, &route); err != nil {
		r.logger.Warn("route cache entry corrupt", "error", err)
		return nil, false
	}
	return route, true
}

func (r *RedisCache) Set(ctx context.Context, a, b models.Coord, route []models.Coord) {
	b2, err := json.Marshal(route)
	if err != nil {
		return
	}
	if err := r.client.Set(ctx, r.key(a, b), b2, r.ttl).Err(); err != nil {
		r.logger.Warn("route cache write failed", "error", err)
	}
}
