package geo

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/delivery-dispatch/internal/models"
)

// unboundedRadius stands in for "no radius" in GEORADIUS queries.
const unboundedRadius = 20_000_000.0

// RedisGeo implements Geo using Redis GEO commands. Positions live in a
// sorted set; availability and freshness in a per-driver hash.
type RedisGeo struct {
	client *redis.Client
	key    string
}

func NewRedisGeo(client *redis.Client, key string) *RedisGeo {
	return &RedisGeo{client: client, key: key}
}

func (r *RedisGeo) Upsert(ctx context.Context, d models.Driver) error {
	if d.Location == nil {
		return nil
	}
	updated := d.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.GeoAdd(ctx, r.key, &redis.GeoLocation{Longitude: d.Location.Lng, Latitude: d.Location.Lat, Name: d.ID})
		p.HSet(ctx, MetaKey(d.ID), map[string]interface{}{
			"available": strconv.FormatBool(d.Available),
			"updated":   updated.UTC().Format(time.RFC3339Nano),
		})
		return nil
	})
	return err
}

func (r *RedisGeo) Remove(ctx context.Context, driverID string) error {
	_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZRem(ctx, r.key, driverID)
		p.Del(ctx, MetaKey(driverID))
		return nil
	})
	return err
}

func (r *RedisGeo) Nearby(ctx context.Context, lat, lng, radiusMeters float64, limit int) ([]models.Driver, error) {
	if radiusMeters <= 0 {
		radiusMeters = unboundedRadius
	}
	q := &redis.GeoRadiusQuery{Radius: radiusMeters, Unit: "m", WithCoord: true, WithDist: true, Sort: "ASC"}
	if limit > 0 {
		q.Count = limit
	}
	res, err := r.client.GeoRadius(ctx, r.key, lng, lat, q).Result()
	if err != nil {
		return nil, err
	}
	out := make([]models.Driver, 0, len(res))
	for _, g := range res {
		d := models.Driver{ID: g.Name, Available: true, Location: &models.Coord{Lat: g.Latitude, Lng: g.Longitude}}
		if m, err := r.client.HGetAll(ctx, MetaKey(g.Name)).Result(); err == nil {
			if v, ok := m["available"]; ok {
				d.Available = v == "true"
			}
			if v, ok := m["updated"]; ok {
				if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
					d.UpdatedAt = t
				}
			}
		}
		if !d.Available {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

func MetaKey(id string) string { return "driver:meta:" + id }
