package geo

import (
	"context"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/example/ambulance-dispatch/internal/models"
)

// RedisGeo implements Geo using Redis GEO commands.
type RedisGeo struct {
	client       redis.UniversalClient
	key          string
	radiusMeters float64
	logger       *slog.Logger
}

func NewRedisGeo(client redis.UniversalClient, key string, radiusMeters float64, logger *slog.Logger) *RedisGeo {
	if radiusMeters <= 0 {
		radiusMeters = 5000
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisGeo{client: client, key: key, radiusMeters: radiusMeters, logger: logger}
}

func (r *RedisGeo) Upsert(ctx context.Context, v models.Vehicle) {
	// store as GEOADD and HSET for metadata
	if err := r.client.GeoAdd(ctx, r.key, &redis.GeoLocation{Longitude: v.Position.Lon, Latitude: v.Position.Lat, Name: v.ID}).Err(); err != nil {
		r.logger.Warn("fleet geoadd failed", "vehicle_id", v.ID, "error", err)
		return
	}
	err := r.client.HSet(ctx, metaKey(v.ID), map[string]interface{}{
		"driver":  v.DriverName,
		"contact": v.ContactNumber,
		"type":    v.VehicleType,
		"license": v.LicensePlate,
	}).Err()
	if err != nil {
		r.logger.Warn("fleet meta write failed", "vehicle_id", v.ID, "error", err)
	}
}

func (r *RedisGeo) Remove(ctx context.Context, ids ...string) {
	if len(ids) == 0 {
		return
	}
	members := make([]interface{}, 0, len(ids))
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		members = append(members, id)
		keys = append(keys, metaKey(id))
	}
	if err := r.client.ZRem(ctx, r.key, members...).Err(); err != nil {
		r.logger.Warn("fleet remove failed", "error", err)
	}
	_ = r.client.Del(ctx, keys...).Err()
}

func (r *RedisGeo) Nearby(ctx context.Context, at models.Coord, limit int) []models.Vehicle {
	res, err := r.client.GeoRadius(ctx, r.key, at.Lon, at.Lat, &redis.GeoRadiusQuery{
		Radius: r.radiusMeters, Unit: "m", WithCoord: true, WithDist: true, Count: limit, Sort: "ASC",
	}).Result()
	if err != nil {
		r.logger.Warn("fleet georadius failed", "error", err)
		return nil
	}
	out := make([]models.Vehicle, 0, len(res))
	for _, g := range res {
		v := models.Vehicle{ID: g.Name, Position: models.Coord{Lat: g.Latitude, Lon: g.Longitude}}
		if m, err := r.client.HGetAll(ctx, metaKey(g.Name)).Result(); err == nil {
			v.DriverName = m["driver"]
			v.ContactNumber = m["contact"]
			v.VehicleType = m["type"]
			v.LicensePlate = m["license"]
		}
		out = append(out, v)
	}
	return out
}

func metaKey(id string) string { return "ambulance:meta:" + id }
