package kv

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

// RedisKVStore stores values as plain Redis strings under <prefix><key>.
type RedisKVStore struct {
	client *redis.Client
	prefix string
}

var _ KVStore = (*RedisKVStore)(nil)

// NewRedisKVStore wraps an existing client. prefix defaults to
// "agentflow:kv:".
func NewRedisKVStore(client *redis.Client, prefix string) *RedisKVStore {
	if prefix == "" {
		prefix = "agentflow:kv:"
	}
	return &RedisKVStore{client: client, prefix: prefix}
}

func (s *RedisKVStore) key(k string) string {
	return s.prefix + k
}

func (s *RedisKVStore) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, notFound(key)
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (s *RedisKVStore) Put(ctx context.Context, key string, value []byte) error {
	return s.client.Set(ctx, s.key(key), value, 0).Err()
}

func (s *RedisKVStore) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.key(key)).Err()
}

func (s *RedisKVStore) Close() error {
	return s.client.Close()
}
