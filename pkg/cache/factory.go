package cache

import (
	"context"
	"fmt"
	"strings"
	"time"
)

func NewCache(config Config) (Cache, error) {
	switch strings.ToLower(config.Type) {
	case "", "local":
		return NewLocalCache(config.Local), nil
	case "gocache":
		return NewGoCache(config.Local), nil
	case "redis":
		return NewRedisCache(config.Redis)
	case "layered":
		distributed, err := NewRedisCache(config.Redis)
		if err != nil {
			return nil, err
		}
		return newLayered(NewLocalCache(config.Local), distributed, config.LayerTTL), nil
	default:
		return nil, fmt.Errorf("unsupported cache type: %s", config.Type)
	}
}

// layeredCache 本地 LRU 在前，redis 为准
type layeredCache struct {
	local       Cache
	distributed Cache
	ttl         time.Duration
}

func newLayered(local, distributed Cache, ttl time.Duration) *layeredCache {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &layeredCache{local: local, distributed: distributed, ttl: ttl}
}

// localTTL keeps a local copy no longer than the remote one lives.
func (lc *layeredCache) localTTL(expiration time.Duration) time.Duration {
	if expiration > 0 && expiration < lc.ttl {
		return expiration
	}
	return lc.ttl
}

func (lc *layeredCache) Get(ctx context.Context, key string) ([]byte, bool) {
	if value, ok := lc.local.Get(ctx, key); ok {
		return value, true
	}
	value, ok := lc.distributed.Get(ctx, key)
	if !ok {
		return nil, false
	}
	_ = lc.local.Set(ctx, key, value, lc.ttl)
	return value, true
}

func (lc *layeredCache) Set(ctx context.Context, key string, value []byte, expiration time.Duration) error {
	if err := lc.distributed.Set(ctx, key, value, expiration); err != nil {
		_ = lc.local.Delete(ctx, key)
		return err
	}
	return lc.local.Set(ctx, key, value, lc.localTTL(expiration))
}

// SetNX is decided by redis alone.
func (lc *layeredCache) SetNX(ctx context.Context, key string, value []byte, expiration time.Duration) (bool, error) {
	ok, err := lc.distributed.SetNX(ctx, key, value, expiration)
	if err != nil || !ok {
		return ok, err
	}
	return true, lc.local.Set(ctx, key, value, lc.localTTL(expiration))
}

func (lc *layeredCache) Delete(ctx context.Context, key string) error {
	if err := lc.local.Delete(ctx, key); err != nil {
		return err
	}
	return lc.distributed.Delete(ctx, key)
}

func (lc *layeredCache) Exists(ctx context.Context, key string) bool {
	return lc.local.Exists(ctx, key) || lc.distributed.Exists(ctx, key)
}

func (lc *layeredCache) Close() error {
	if err := lc.local.Close(); err != nil {
		return err
	}
	return lc.distributed.Close()
}
