// Package cache provides the Redis connection used for short-lived shared
// state such as the notification throttle windows.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/nerrad567/hydro-core/internal/infrastructure/config"
)

const defaultPingTimeout = 3 * time.Second

// DefaultKeyPrefix namespaces every key written by hydro-core.
const DefaultKeyPrefix = "hydro"

var (
	// ErrNotConfigured indicates no Redis address was configured.
	ErrNotConfigured = errors.New("cache: redis address not configured")

	// ErrConnectionFailed indicates the initial ping failed.
	ErrConnectionFailed = errors.New("cache: connection failed")
)

// Client wraps a go-redis client with key namespacing.
type Client struct {
	rdb    *redis.Client
	prefix string
}

// Connect dials Redis and verifies the connection with a ping.
func Connect(ctx context.Context, cfg config.RedisConfig) (*Client, error) {
	if cfg.Addr == "" {
		return nil, ErrNotConfigured
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	return New(rdb, cfg.KeyPrefix), nil
}

// New wraps an existing go-redis client. An empty prefix uses DefaultKeyPrefix.
func New(rdb *redis.Client, prefix string) *Client {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &Client{rdb: rdb, prefix: strings.TrimSuffix(prefix, ":")}
}

// Redis returns the underlying go-redis client.
func (c *Client) Redis() *redis.Client {
	return c.rdb
}

// Key joins parts under the configured prefix: Key("throttle", "critical") is
// "hydro:throttle:critical".
func (c *Client) Key(parts ...string) string {
	return c.prefix + ":" + strings.Join(parts, ":")
}

// Prefix returns the namespace prefix without a trailing separator.
func (c *Client) Prefix() string {
	return c.prefix
}

// HealthCheck pings Redis.
func (c *Client) HealthCheck(ctx context.Context) error {
	checkCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()
	if err := c.rdb.Ping(checkCtx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}
	return nil
}

// Close closes the connection pool.
func (c *Client) Close() error {
	if c == nil || c.rdb == nil {
		return nil
	}
	return c.rdb.Close()
}
