package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/citynews/pulse/internal/config"
	"github.com/redis/go-redis/v9"
)

// RunState is the fast-path state the pipeline keeps between runs: seen item
// hashes, the last successful run stamp and per-source feed watermarks.
type RunState interface {
	IsSeen(ctx context.Context, hash string) (bool, error)
	MarkSeen(ctx context.Context, hash string, ttl time.Duration) error
	LastRun(ctx context.Context) (time.Time, error)
	SetLastRun(ctx context.Context, t time.Time) error
	Watermark(ctx context.Context, sourceID string) (string, error)
	SetWatermark(ctx context.Context, sourceID, mark string, ttl time.Duration) error
	Close() error
}

type RedisClient struct {
	client *redis.Client
	prefix string
}

var _ RunState = (*RedisClient)(nil)

func NewRedisClient(cfg *config.Config) (*RedisClient, error) {
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	// Test the connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisClient{
		client: client,
		prefix: cfg.RedisPrefix,
	}, nil
}

func (r *RedisClient) Close() error {
	return r.client.Close()
}

func (r *RedisClient) IsSeen(ctx context.Context, hash string) (bool, error) {
	exists, err := r.client.Exists(ctx, r.prefix+"seen:"+hash).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists error: %w", err)
	}
	return exists > 0, nil
}

func (r *RedisClient) MarkSeen(ctx context.Context, hash string, ttl time.Duration) error {
	return r.client.Set(ctx, r.prefix+"seen:"+hash, "1", ttl).Err()
}

// LastRun returns the zero time when no run has been recorded yet
func (r *RedisClient) LastRun(ctx context.Context) (time.Time, error) {
	val, err := r.client.Get(ctx, r.prefix+"last_run").Result()
	if err == redis.Nil {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("redis get error: %w", err)
	}
	t, err := time.Parse(time.RFC3339Nano, val)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse last run stamp: %w", err)
	}
	return t, nil
}

func (r *RedisClient) SetLastRun(ctx context.Context, t time.Time) error {
	return r.client.Set(ctx, r.prefix+"last_run", t.Format(time.RFC3339Nano), 0).Err()
}

// Watermark returns the stored head item mark for a source, "" when absent
func (r *RedisClient) Watermark(ctx context.Context, sourceID string) (string, error) {
	val, err := r.client.Get(ctx, r.prefix+"watermark:"+sourceID).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("redis get error: %w", err)
	}
	return val, nil
}

func (r *RedisClient) SetWatermark(ctx context.Context, sourceID, mark string, ttl time.Duration) error {
	return r.client.Set(ctx, r.prefix+"watermark:"+sourceID, mark, ttl).Err()
}
