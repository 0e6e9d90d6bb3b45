package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"domamart/pkg/platform/sentinel"
)

// RedisRemote is a Remote backed by Redis string keys with expiry.
type RedisRemote struct {
	client redis.Cmdable
}

// NewRedisRemote wraps a Redis client. The client lifecycle is managed by the caller.
func NewRedisRemote(client redis.Cmdable) *RedisRemote {
	return &RedisRemote{client: client}
}

func (r *RedisRemote) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

// Set stores value with SET EX semantics.
func (r *RedisRemote) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

func (r *RedisRemote) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}
