package persistence

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// Redis is a Store backed by go-redis, for multi-node deployments that
// want session/retained-message state to survive a broker restart or
// failover. Keys are namespaced as "vibemq:{namespace}:{key}"; List uses
// SCAN to avoid blocking the server on large keyspaces.
type Redis struct {
	client *redis.Client
}

func NewRedis(url string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("persistence: parse redis url: %w", err)
	}
	return &Redis{client: redis.NewClient(opts)}, nil
}

func (r *Redis) key(namespace, key string) string {
	return fmt.Sprintf("vibemq:%s:%s", namespace, key)
}

func (r *Redis) Get(ctx context.Context, namespace, key string) ([]byte, bool, error) {
	v, err := r.client.Get(ctx, r.key(namespace, key)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (r *Redis) Put(ctx context.Context, namespace, key string, value []byte) error {
	return r.client.Set(ctx, r.key(namespace, key), value, 0).Err()
}

func (r *Redis) Delete(ctx context.Context, namespace, key string) error {
	return r.client.Del(ctx, r.key(namespace, key)).Err()
}

func (r *Redis) List(ctx context.Context, namespace string) (map[string][]byte, error) {
	pattern := r.key(namespace, "*")
	out := make(map[string][]byte)
	prefix := fmt.Sprintf("vibemq:%s:", namespace)

	iter := r.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		full := iter.Val()
		v, err := r.client.Get(ctx, full).Bytes()
		if err != nil && err != redis.Nil {
			return nil, err
		}
		out[full[len(prefix):]] = v
	}
	return out, iter.Err()
}

func (r *Redis) PutBatch(ctx context.Context, namespace string, entries map[string][]byte) error {
	pipe := r.client.Pipeline()
	for k, v := range entries {
		pipe.Set(ctx, r.key(namespace, k), v, 0)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (r *Redis) Close() error {
	return r.client.Close()
}
