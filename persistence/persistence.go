// Package persistence implements the broker's storage interface (spec §6):
// a small per-domain key-value contract with get/put/delete/list and
// batched writes, used to persist sessions and retained messages across
// restarts. The default backend is in-memory; an optional Redis-backed
// backend is available for multi-node deployments.
package persistence

import (
	"context"
	"fmt"

	"github.com/golang-io/vibemq/config"
)

// Store is a namespaced key-value store. Each domain (sessions, retained
// messages) uses its own namespace so backends can shard or prefix keys.
type Store interface {
	Get(ctx context.Context, namespace, key string) ([]byte, bool, error)
	Put(ctx context.Context, namespace, key string, value []byte) error
	Delete(ctx context.Context, namespace, key string) error
	List(ctx context.Context, namespace string) (map[string][]byte, error)
	// PutBatch writes all entries atomically with respect to readers of
	// this namespace where the backend supports it.
	PutBatch(ctx context.Context, namespace string, entries map[string][]byte) error
	Close() error
}

// New builds a Store from a config.Persistence block.
func New(cfg config.Persistence) (Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemory(), nil
	case "redis":
		return NewRedis(cfg.RedisURL)
	default:
		return nil, fmt.Errorf("persistence: unknown backend %q", cfg.Backend)
	}
}
