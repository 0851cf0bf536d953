package credentials

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisKey is the hash that maps login -> secret.
const DefaultRedisKey = "vecavg:credentials"

// RedisStore is a Store backed by a single Redis hash.
type RedisStore struct {
	rdb redis.UniversalClient
	key string
	own bool
}

// NewRedisStore wraps an existing client. The caller keeps ownership of rdb.
func NewRedisStore(rdb redis.UniversalClient, key string) (*RedisStore, error) {
	if rdb == nil {
		return nil, errors.New("credentials: nil redis client")
	}
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisStore{rdb: rdb, key: key}, nil
}

// Lookup returns the secret for login or ErrNotFound.
func (s *RedisStore) Lookup(ctx context.Context, login string) (string, error) {
	secret, err := s.rdb.HGet(ctx, s.key, login).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("credentials: redis lookup: %w", err)
	}
	return secret, nil
}

// Count returns the number of logins in the hash.
func (s *RedisStore) Count(ctx context.Context) (int, error) {
	n, err := s.rdb.HLen(ctx, s.key).Result()
	if err != nil {
		return 0, fmt.Errorf("credentials: redis count: %w", err)
	}
	return int(n), nil
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// Close releases the client only when the store created it.
func (s *RedisStore) Close() error {
	if !s.own {
		return nil
	}
	return s.rdb.Close()
}

// OpenRedis parses a redis:// or rediss:// URL and returns a store that owns its client.
func OpenRedis(ctx context.Context, url, key string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("credentials: redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("credentials: redis ping: %w", err)
	}
	st, err := NewRedisStore(rdb, key)
	if err != nil {
		_ = rdb.Close()
		return nil, err
	}
	st.own = true
	return st, nil
}
