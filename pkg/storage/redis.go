package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis implements Store on a Redis server. This is the default backend.
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis connects to the Redis server at redisURL and verifies the
// connection before returning.
func NewRedis(redisURL string) (*Redis, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisWithClient(client), nil
}

// NewRedisWithClient creates a store from an existing Redis client.
func NewRedisWithClient(client *redis.Client) *Redis {
	return &Redis{
		client: client,
		prefix: "syncboard:",
	}
}

func (r *Redis) snapshotKey(key string) string {
	return r.prefix + "snapshot:" + key
}

func (r *Redis) alarmKey(key string) string {
	return r.prefix + "alarm:" + key
}

// Get returns the snapshot stored under key, or ErrNotFound.
func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := r.client.Get(ctx, r.snapshotKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get snapshot: %w", err)
	}
	return value, nil
}

// Put stores the snapshot under key with no expiry; hibernated documents
// must outlive any idle period.
func (r *Redis) Put(ctx context.Context, key string, value []byte) error {
	if err := r.client.Set(ctx, r.snapshotKey(key), value, 0).Err(); err != nil {
		return fmt.Errorf("put snapshot: %w", err)
	}
	return nil
}

// SetAlarm records the eviction deadline for key.
func (r *Redis) SetAlarm(ctx context.Context, key string, at time.Time) error {
	value := at.UTC().Format(time.RFC3339Nano)
	if err := r.client.Set(ctx, r.alarmKey(key), value, 0).Err(); err != nil {
		return fmt.Errorf("set alarm: %w", err)
	}
	return nil
}

// DeleteAlarm clears the eviction deadline for key.
func (r *Redis) DeleteAlarm(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.alarmKey(key)).Err(); err != nil {
		return fmt.Errorf("delete alarm: %w", err)
	}
	return nil
}

// Ping checks the server connection.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the underlying client.
func (r *Redis) Close() error {
	return r.client.Close()
}
