// Package linkcache keeps a Redis cache of resolved golden-id link sets,
// kept fresh by the external audit feed of golden-id change notifications.
// The cache is an optimization only: every operation degrades to live MPI
// expansion when Redis is absent or unhealthy.
package linkcache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "mpi-mediator:links:"

// Cache stores link sets keyed by their root patient reference.
type Cache struct {
	client redis.Cmdable
	ttl    time.Duration
}

// New builds a cache over the given Redis client.
func New(client redis.Cmdable, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

// Lookup returns the cached link set for rootRef, nil on a miss.
func (c *Cache) Lookup(ctx context.Context, rootRef string) ([]string, error) {
	val, err := c.client.Get(ctx, keyPrefix+rootRef).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var links []string
	if err := json.Unmarshal([]byte(val), &links); err != nil {
		// A corrupt entry behaves like a miss; it will be overwritten.
		return nil, nil
	}
	return links, nil
}

// Store caches the link set under every member reference, so expansion from
// any node of the equivalence set hits the same cached answer.
func (c *Cache) Store(ctx context.Context, rootRef string, links []string) error {
	payload, err := json.Marshal(links)
	if err != nil {
		return err
	}

	pipe := c.client.Pipeline()
	pipe.Set(ctx, keyPrefix+rootRef, payload, c.ttl)
	for _, ref := range links {
		if ref != rootRef {
			pipe.Set(ctx, keyPrefix+ref, payload, c.ttl)
		}
	}
	_, err = pipe.Exec(ctx)
	return err
}

// Invalidate drops the cached sets for the given references.
func (c *Cache) Invalidate(ctx context.Context, refs ...string) error {
	if len(refs) == 0 {
		return nil
	}
	keys := make([]string, len(refs))
	for i, ref := range refs {
		keys[i] = keyPrefix + ref
	}
	return c.client.Del(ctx, keys...).Err()
}
