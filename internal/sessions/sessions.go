// Package sessions counts live user sessions for impact assessment.
package sessions

import (
	"context"

	"github.com/go-redis/redis/v8"
)

// Counter reports how many sessions are currently active
type Counter interface {
	Active(ctx context.Context) (int, error)
}

// RedisCounter reads the live session count maintained by the session
// service in redis
type RedisCounter struct {
	rdb *redis.Client
	key string
}

func NewRedisCounter(redisURL, key string) *RedisCounter {
	rdb := redis.NewClient(&redis.Options{
		Addr: redisURL,
	})
	if key == "" {
		key = "sessions:active"
	}
	return &RedisCounter{rdb: rdb, key: key}
}

// Active returns the current session count. A missing key means no
// sessions, not an error.
func (c *RedisCounter) Active(ctx context.Context) (int, error) {
	n, err := c.rdb.Get(ctx, c.key).Int()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return n, nil
}

// Close releases the redis connection
func (c *RedisCounter) Close() error {
	return c.rdb.Close()
}

// Fixed is a Counter returning a constant, used in tests and when no
// session backend is configured
type Fixed int

func (f Fixed) Active(ctx context.Context) (int, error) {
	return int(f), nil
}
