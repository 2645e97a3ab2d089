package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is a Store backed by a shared redis instance. Objects live under
// "bucket:key" so multiple logical buckets share one database. Redis
// serializes operations per key, which gives the read-after-write guarantee
// the wait loop needs.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

var _ Store = (*Redis)(nil)

// RedisOption configures a Redis store.
type RedisOption func(*Redis)

// WithTTL ages records out of redis; zero means keep forever. Slots are never
// explicitly deleted, so production deployments should set this.
func WithTTL(ttl time.Duration) RedisOption {
	return func(r *Redis) { r.ttl = ttl }
}

func NewRedis(client *redis.Client, opts ...RedisOption) *Redis {
	r := &Redis{client: client}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

func objectKey(bucket, key string) string {
	return bucket + ":" + key
}

func (r *Redis) Put(ctx context.Context, bucket, key string, data []byte) error {
	if err := r.client.Set(ctx, objectKey(bucket, key), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("%s/%s: %v: %w", bucket, key, err, ErrPutFailed)
	}
	return nil
}

func (r *Redis) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	data, err := r.client.Get(ctx, objectKey(bucket, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%s/%s: %w", bucket, key, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s/%s: %v: %w", bucket, key, err, ErrGetFailed)
	}
	return data, nil
}

func (r *Redis) Delete(ctx context.Context, bucket, key string) error {
	if err := r.client.Del(ctx, objectKey(bucket, key)).Err(); err != nil {
		return fmt.Errorf("%s/%s: %v: %w", bucket, key, err, ErrDeleteFailed)
	}
	return nil
}
