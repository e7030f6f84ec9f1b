package cache

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

type localEntry struct {
	value     []byte
	expiresAt time.Time
}

func (e localEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// localCache 基于 LRU 的进程内缓存，过期在读取时惰性清理
type localCache struct {
	mu         sync.Mutex
	items      *lru.Cache[string, localEntry]
	defaultTTL time.Duration
}

// NewLocalCache 创建本地缓存
func NewLocalCache(config LocalConfig) Cache {
	size := config.MaxSize
	if size <= 0 {
		size = 1000
	}
	items, _ := lru.New[string, localEntry](size)
	return &localCache{items: items, defaultTTL: config.DefaultExpiration}
}

func (lc *localCache) entry(expiration time.Duration, value []byte) localEntry {
	if expiration <= 0 {
		expiration = lc.defaultTTL
	}
	e := localEntry{value: append([]byte(nil), value...)}
	if expiration > 0 {
		e.expiresAt = time.Now().Add(expiration)
	}
	return e
}

// Get 获取缓存值
func (lc *localCache) Get(ctx context.Context, key string) ([]byte, bool) {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	e, ok := lc.items.Get(key)
	if !ok {
		return nil, false
	}
	if e.expired(time.Now()) {
		lc.items.Remove(key)
		return nil, false
	}
	return e.value, true
}

// Set 设置缓存值
func (lc *localCache) Set(ctx context.Context, key string, value []byte, expiration time.Duration) error {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	lc.items.Add(key, lc.entry(expiration, value))
	return nil
}

// SetNX 仅当键不存在（或已过期）时设置
func (lc *localCache) SetNX(ctx context.Context, key string, value []byte, expiration time.Duration) (bool, error) {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	if e, ok := lc.items.Peek(key); ok && !e.expired(time.Now()) {
		return false, nil
	}
	lc.items.Add(key, lc.entry(expiration, value))
	return true, nil
}

// Delete 删除缓存
func (lc *localCache) Delete(ctx context.Context, key string) error {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	lc.items.Remove(key)
	return nil
}

// Exists 检查键是否存在
func (lc *localCache) Exists(ctx context.Context, key string) bool {
	_, ok := lc.Get(ctx, key)
	return ok
}

// Close 清空缓存
func (lc *localCache) Close() error {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	lc.items.Purge()
	return nil
}
