// Package redis opens the Redis connection that carries worker wake-ups and
// dead letter notifications.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/servicehub/orchestrator/pkg/config"
)

var ErrNotConfigured = errors.New("redis is not configured")

const dialTimeout = 5 * time.Second

type Client struct {
	rdb redis.UniversalClient
}

// NewClient connects and pings once so that a misconfigured address fails at
// startup instead of on the first publish.
func NewClient(ctx context.Context, cfg *config.RedisConfig) (*Client, error) {
	if !cfg.Enabled() {
		return nil, ErrNotConfigured
	}

	var rdb redis.UniversalClient
	if cfg.ClusterMode {
		rdb = redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:       cfg.Addresses,
			Password:    cfg.Password,
			PoolSize:    cfg.PoolSize,
			DialTimeout: dialTimeout,
		})
	} else {
		rdb = redis.NewClient(&redis.Options{
			Addr:        cfg.Addresses[0],
			Password:    cfg.Password,
			DB:          cfg.DB,
			PoolSize:    cfg.PoolSize,
			DialTimeout: dialTimeout,
		})
	}

	pingCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

func (c *Client) Client() redis.UniversalClient {
	return c.rdb
}

func (c *Client) Close() error {
	return c.rdb.Close()
}
