package database

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru"
)

// CachedKV is a read-through LRU in front of a slower KV. Writes go to the
// backend first and only reach the cache once they succeed.
type CachedKV struct {
	backend KV
	cache   *lru.Cache
}

func NewCachedKV(backend KV, size int) (*CachedKV, error) {
	cache, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("create kv cache: %w", err)
	}
	return &CachedKV{backend: backend, cache: cache}, nil
}

func (c *CachedKV) Get(ctx context.Context, key string) ([]byte, error) {
	if v, ok := c.cache.Get(key); ok {
		return copyBytes(v.([]byte)), nil
	}
	value, err := c.backend.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, copyBytes(value))
	return value, nil
}

func (c *CachedKV) Set(ctx context.Context, key string, value []byte) error {
	if err := c.backend.Set(ctx, key, value); err != nil {
		// The backend may hold either version now; force a re-read.
		c.cache.Remove(key)
		return err
	}
	c.cache.Add(key, copyBytes(value))
	return nil
}

func (c *CachedKV) Delete(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		c.cache.Remove(key)
	}
	return c.backend.Delete(ctx, keys...)
}

func (c *CachedKV) Keys(ctx context.Context, prefix string) ([]string, error) {
	return c.backend.Keys(ctx, prefix)
}

func (c *CachedKV) Close() error {
	c.cache.Purge()
	return c.backend.Close()
}

func copyBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
