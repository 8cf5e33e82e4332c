package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/maneesh/blogmedia/internal/models"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// CacheTTL is the time-to-live for cached asset metadata.
const CacheTTL = 5 * time.Minute

// RedisClient caches published asset metadata.
type RedisClient struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisClient initializes a Redis client and verifies the connection.
func NewRedisClient(ctx context.Context, addr, password string, db int, ttl time.Duration) (*RedisClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	if ttl <= 0 {
		ttl = CacheTTL
	}
	return &RedisClient{client: client, ttl: ttl}, nil
}

// Close closes the Redis connection.
func (rc *RedisClient) Close() error {
	return rc.client.Close()
}

// Ping checks the connection.
func (rc *RedisClient) Ping(ctx context.Context) error {
	return rc.client.Ping(ctx).Err()
}

func assetKey(id string) string {
	return "asset:" + id
}

// GetAsset returns the cached asset, or nil on a cache miss.
func (rc *RedisClient) GetAsset(ctx context.Context, id string) (*models.StoredAsset, error) {
	ctx, span := tracer.Start(ctx, "redis.get_asset",
		trace.WithAttributes(
			attribute.String("asset_id", id),
		),
	)
	defer span.End()

	data, err := rc.client.Get(ctx, assetKey(id)).Bytes()
	if err == redis.Nil {
		span.SetAttributes(attribute.String("cache_status", "miss"))
		return nil, nil
	} else if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get from cache: %w", err)
	}

	var as models.StoredAsset
	if err := json.Unmarshal(data, &as); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to unmarshal cached asset: %w", err)
	}

	span.SetAttributes(attribute.String("cache_status", "hit"))
	return &as, nil
}

// SetAsset caches as for the client's TTL.
func (rc *RedisClient) SetAsset(ctx context.Context, as *models.StoredAsset) error {
	ctx, span := tracer.Start(ctx, "redis.set_asset",
		trace.WithAttributes(
			attribute.String("asset_id", as.ID),
		),
	)
	defer span.End()

	data, err := json.Marshal(as)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to marshal asset: %w", err)
	}
	if err := rc.client.Set(ctx, assetKey(as.ID), data, rc.ttl).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to set cache: %w", err)
	}

	span.SetAttributes(attribute.Int64("ttl_seconds", int64(rc.ttl.Seconds())))
	return nil
}

// InvalidateAssets removes the cached entries of ids.
func (rc *RedisClient) InvalidateAssets(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	ctx, span := tracer.Start(ctx, "redis.invalidate_assets",
		trace.WithAttributes(
			attribute.Int("asset_count", len(ids)),
		),
	)
	defer span.End()

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = assetKey(id)
	}
	if err := rc.client.Del(ctx, keys...).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to invalidate cache: %w", err)
	}
	return nil
}
