package persistence

import (
	"context"

	goredis "github.com/redis/go-redis/v9"

	"marketwatch/internal/adapters/redis"
	"marketwatch/pkg/errors"
)

// RedisSlot stores the document under one Redis key without TTL
type RedisSlot struct {
	client *redis.Client
	key    string
}

// NewRedisSlot creates a slot bound to key
func NewRedisSlot(client *redis.Client, key string) *RedisSlot {
	return &RedisSlot{client: client, key: key}
}

// Load reads the document
func (s *RedisSlot) Load(ctx context.Context) ([]byte, error) {
	data, err := s.client.Client().Get(ctx, s.key).Bytes()
	if err == goredis.Nil {
		return nil, errors.Wrapf(errors.ErrNotFound, "redis key %s", s.key)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get %s from redis", s.key)
	}
	return data, nil
}

// Save overwrites the document
func (s *RedisSlot) Save(ctx context.Context, data []byte) error {
	if err := s.client.Client().Set(ctx, s.key, data, 0).Err(); err != nil {
		return errors.Wrapf(err, "failed to save %s to redis", s.key)
	}
	return nil
}

// Close closes the Redis connection
func (s *RedisSlot) Close() error {
	return s.client.Close()
}
