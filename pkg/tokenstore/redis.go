package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisTimeout = 2 * time.Second

// Redis keeps the token in a single Redis key. It suits console deployments
// where several processes share one operator session.
type Redis struct {
	client  redis.UniversalClient
	key     string
	timeout time.Duration
}

// NewRedis returns a Redis store writing to "<prefix>:token".
func NewRedis(client redis.UniversalClient, prefix string, timeout time.Duration) (*Redis, error) {
	if client == nil {
		return nil, errors.New("tokenstore: redis client is required")
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "crmdash"
	}
	if timeout <= 0 {
		timeout = defaultRedisTimeout
	}
	return &Redis{client: client, key: prefix + ":token", timeout: timeout}, nil
}

// NewRedisFromURL parses a redis:// URL and builds a store on a new client.
func NewRedisFromURL(rawURL, prefix string) (*Redis, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return NewRedis(redis.NewClient(opts), prefix, 0)
}

// Key reports the Redis key used for the token.
func (r *Redis) Key() string {
	return r.key
}

func (r *Redis) Load() (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	token, err := r.client.Get(ctx, r.key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("redis get token: %w", err)
	}
	return strings.TrimSpace(token), nil
}

func (r *Redis) Save(token string) error {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	if err := r.client.Set(ctx, r.key, token, 0).Err(); err != nil {
		return fmt.Errorf("redis set token: %w", err)
	}
	return nil
}

func (r *Redis) Erase() error {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	if err := r.client.Del(ctx, r.key).Err(); err != nil {
		return fmt.Errorf("redis del token: %w", err)
	}
	return nil
}

// Close releases the underlying client.
func (r *Redis) Close() error {
	return r.client.Close()
}
