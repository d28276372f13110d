package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/versatilecz/evac/internal/models"
)

// RedisConfig holds the presence cache connection
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// RedisPresence caches the best scanner of every device. Keys expire after
// the activity window so a silent device disappears on its own.
type RedisPresence struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisPresence connects and pings the server
func NewRedisPresence(ctx context.Context, cfg RedisConfig, ttl time.Duration) (*RedisPresence, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if _, err := rdb.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return &RedisPresence{client: rdb, ttl: ttl}, nil
}

// PresenceKey is the cache key of a device
func PresenceKey(device uuid.UUID) string {
	return "evac:presence:" + device.String()
}

// Set stores the activity under the device key
func (r *RedisPresence) Set(ctx context.Context, a models.Activity) error {
	raw, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to marshal activity: %w", err)
	}
	if err := r.client.Set(ctx, PresenceKey(a.Device), raw, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save presence to Redis: %w", err)
	}
	return nil
}

// Get returns the cached activity of a device
func (r *RedisPresence) Get(ctx context.Context, device uuid.UUID) (models.Activity, bool, error) {
	val, err := r.client.Get(ctx, PresenceKey(device)).Result()
	if err == redis.Nil {
		return models.Activity{}, false, nil
	}
	if err != nil {
		return models.Activity{}, false, fmt.Errorf("failed to get presence from Redis: %w", err)
	}
	var a models.Activity
	if err := json.Unmarshal([]byte(val), &a); err != nil {
		return models.Activity{}, false, fmt.Errorf("failed to unmarshal presence: %w", err)
	}
	return a, true, nil
}

// Delete drops the device key
func (r *RedisPresence) Delete(ctx context.Context, device uuid.UUID) error {
	return r.client.Del(ctx, PresenceKey(device)).Err()
}

// Close closes the connection pool
func (r *RedisPresence) Close() error {
	return r.client.Close()
}
