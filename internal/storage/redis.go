package storage

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBackend stores keys in redis under an optional prefix.
type RedisBackend struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisBackend wraps client. A zero ttl keeps keys without expiry.
func NewRedisBackend(client *redis.Client, prefix string, ttl time.Duration) *RedisBackend {
	return &RedisBackend{
		client: client,
		prefix: prefix,
		ttl:    ttl,
	}
}

func (b *RedisBackend) key(key string) string {
	return b.prefix + key
}

// Get implements Backend.
func (b *RedisBackend) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := b.client.Get(ctx, b.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// Set implements Backend.
func (b *RedisBackend) Set(ctx context.Context, key, value string) error {
	return b.client.Set(ctx, b.key(key), value, b.ttl).Err()
}

// Remove implements Backend.
func (b *RedisBackend) Remove(ctx context.Context, key string) error {
	return b.client.Del(ctx, b.key(key)).Err()
}

// Keys implements Backend using SCAN so large databases are not blocked.
func (b *RedisBackend) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	iter := b.client.Scan(ctx, 0, b.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, strings.TrimPrefix(iter.Val(), b.prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}

// Close implements Backend.
func (b *RedisBackend) Close() error {
	return b.client.Close()
}
