package cache

import (
	"context"
	"time"
)

// Cache holds opaque byte values; callers encode and decode.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)

	Set(ctx context.Context, key string, value []byte, expiration time.Duration) error

	// SetNX stores value only when key is absent and reports whether it did.
	SetNX(ctx context.Context, key string, value []byte, expiration time.Duration) (bool, error)

	Delete(ctx context.Context, key string) error

	Exists(ctx context.Context, key string) bool

	Close() error
}

// Config selects and tunes the backend. Type is "local", "gocache",
// "redis" or "layered".
type Config struct {
	Type string `env:"CACHE_TYPE"`

	Redis RedisConfig
	Local LocalConfig

	// LayerTTL bounds how long the layered cache serves a value from its
	// local tier without asking redis.
	LayerTTL time.Duration `env:"CACHE_LAYER_TTL"`
}

type RedisConfig struct {
	Addr         string        `env:"REDIS_ADDR"`
	Password     string        `env:"REDIS_PASSWORD"`
	DB           int           `env:"REDIS_DB"`
	PoolSize     int           `env:"REDIS_POOL_SIZE"`
	MinIdleConns int           `env:"REDIS_MIN_IDLE_CONNS"`
	DialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT"`
	ReadTimeout  time.Duration `env:"REDIS_READ_TIMEOUT"`
	WriteTimeout time.Duration `env:"REDIS_WRITE_TIMEOUT"`
	PoolTimeout  time.Duration `env:"REDIS_POOL_TIMEOUT"`
}

// LocalConfig 本地缓存配置
type LocalConfig struct {
	MaxSize           int           `env:"LOCAL_CACHE_MAX_SIZE"`
	DefaultExpiration time.Duration `env:"LOCAL_CACHE_DEFAULT_EXPIRATION"`
	CleanupInterval   time.Duration `env:"LOCAL_CACHE_CLEANUP_INTERVAL"`
}
