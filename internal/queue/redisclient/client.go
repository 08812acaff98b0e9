package redisclient

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Client owns the shared Redis connection used by rate limiting and idempotency.
type Client struct {
	redisdb *redis.Client
}

type Config struct {
	Addr     string
	Password string
	DB       int
}

func New(cfg Config) *Client {
	redisdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})

	return &Client{redisdb: redisdb}
}

// Connect builds the client and verifies it answers within timeout.
func Connect(ctx context.Context, cfg Config, timeout time.Duration) (*Client, error) {
	c := New(cfg)

	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := c.Ping(pingCtx); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Client) Ping(ctx context.Context) error {
	return c.redisdb.Ping(ctx).Err()
}

func (c *Client) Close() error {
	return c.redisdb.Close()
}

func (c *Client) Raw() *redis.Client {
	return c.redisdb
}
