package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Client wraps Redis operations for the job queues.
type Client struct {
	rdb *redis.Client
}

// Config holds Redis connection configuration.
type Config struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
}

// NewClient creates a new Redis client.
func NewClient(cfg Config) (*Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	rdb := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// NewClientFrom wraps an existing go-redis client.
func NewClientFrom(rdb *redis.Client) *Client {
	return &Client{rdb: rdb}
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping checks the connection.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Key helpers
func pendingKey(queue string) string {
	return fmt.Sprintf("jobs:%s:pending", queue)
}

func activeKey(queue string) string {
	return fmt.Sprintf("jobs:%s:active", queue)
}

func failedKey(queue string) string {
	return fmt.Sprintf("jobs:%s:failed", queue)
}

func jobKey(queue, id string) string {
	return fmt.Sprintf("jobs:%s:job:%s", queue, id)
}

// score converts a time to a sorted set score in milliseconds.
func score(t time.Time) float64 {
	return float64(t.UnixMilli())
}

func scoreString(t time.Time) string {
	return fmt.Sprintf("%d", t.UnixMilli())
}
