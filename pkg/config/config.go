package config

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"FuelSOS/pkg/cache"
	"FuelSOS/pkg/logger"
	"FuelSOS/pkg/storage"
	"FuelSOS/pkg/util"
)

// config/config.go
type Config struct {
	Mode      string `env:"MODE"`
	Addr      string `env:"ADDR"`
	APIPrefix string `env:"API_PREFIX"`
	DBDriver  string `env:"DB_DRIVER"`
	DSN       string `env:"DSN"`
	Log       logger.LogConfig
	Cache     cache.Config
	Dispatch  DispatchConfig
	Calls     CallConfig

	RateLimit       int64         `env:"RATE_LIMIT"`
	RateLimitPeriod time.Duration `env:"RATE_LIMIT_PERIOD"`

	// AuthSecret signs bearer tokens accepted by the identity middleware.
	AuthSecret string `env:"AUTH_SECRET"`

	// AllowHeaderIdentity lets X-User-ID stand in for a token (local/dev only).
	AllowHeaderIdentity bool   `env:"ALLOW_HEADER_IDENTITY"`
	GeoIndex            string `env:"GEO_INDEX"`

	// DirectorySyncSecret enables the signed attendant sync route when set.
	DirectorySyncSecret string `env:"DIRECTORY_SYNC_SECRET"`

	// BackupSchedule is a cron expression; empty disables scheduled backups.
	BackupPath     string `env:"BACKUP_PATH"`
	BackupSchedule string `env:"BACKUP_SCHEDULE"`
	BackupStore    storage.Config
}

type DispatchConfig struct {
	RadiusKm               float64       `env:"DISPATCH_RADIUS_KM"`
	EmergencyRadiusKm      float64       `env:"EMERGENCY_RADIUS_KM"`
	EmergencyMaxCandidates int           `env:"EMERGENCY_MAX_CANDIDATES"`
	AverageSpeedKmh        float64       `env:"AVERAGE_SPEED_KMH"`
	AcceptWindow           time.Duration `env:"ACCEPT_WINDOW"`
	SweepSpec              string        `env:"EXPIRY_SWEEP"`
}

type CallConfig struct {
	TokenSecret string        `env:"CALL_TOKEN_SECRET"`
	TokenTTL    time.Duration `env:"CALL_TOKEN_TTL"`
	ICEServers  []string      `env:"ICE_SERVERS"`
}

// Default returns the values used when a variable is unset.
func Default() *Config {
	return &Config{
		Mode:      "production",
		Addr:      ":5000",
		APIPrefix: "/api",
		DBDriver:  "sqlite",
		DSN:       "file:fuelsos.db",
		Log:       logger.LogConfig{Level: "info", MaxSize: 100, MaxAge: 7, MaxBackups: 5},
		Cache: cache.Config{
			Type: "local",
			Local: cache.LocalConfig{
				MaxSize:           10000,
				DefaultExpiration: 5 * time.Minute,
				CleanupInterval:   10 * time.Minute,
			},
			Redis: cache.RedisConfig{
				Addr:         "localhost:6379",
				PoolSize:     10,
				DialTimeout:  5 * time.Second,
				ReadTimeout:  3 * time.Second,
				WriteTimeout: 3 * time.Second,
			},
		},
		Dispatch: DispatchConfig{
			RadiusKm:               10,
			EmergencyRadiusKm:      15,
			EmergencyMaxCandidates: 3,
			AverageSpeedKmh:        30,
			AcceptWindow:           2 * time.Minute,
			SweepSpec:              "@every 15s",
		},
		Calls: CallConfig{
			TokenTTL:   time.Hour,
			ICEServers: []string{"stun:stun.l.google.com:19302"},
		},
		RateLimit:       100,
		RateLimitPeriod: 15 * time.Minute,
		GeoIndex:        "store",
		BackupPath:      "backups",
	}
}

// Load reads .env.<APP_ENV> and the process environment over Default.
func Load() (*Config, error) {
	// 1. 根据环境加载 .env 文件
	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "development"
	}
	if err := util.LoadEnv(env); err != nil {
		log.Printf("Failed to load .env file: %v", err)
	}

	// 2. 覆盖默认配置
	cfg := Default()
	setString(&cfg.Mode, "MODE")
	setString(&cfg.Addr, "ADDR")
	setString(&cfg.APIPrefix, "API_PREFIX")
	setString(&cfg.DBDriver, "DB_DRIVER")
	setString(&cfg.DSN, "DSN")
	setString(&cfg.Log.Level, "LOG_LEVEL")
	setString(&cfg.Log.Filename, "LOG_FILENAME")
	setInt(&cfg.Log.MaxSize, "LOG_MAX_SIZE")
	setInt(&cfg.Log.MaxAge, "LOG_MAX_AGE")
	setInt(&cfg.Log.MaxBackups, "LOG_MAX_BACKUPS")

	setString(&cfg.Cache.Type, "CACHE_TYPE")
	setString(&cfg.Cache.Redis.Addr, "REDIS_ADDR")
	setString(&cfg.Cache.Redis.Password, "REDIS_PASSWORD")
	setInt(&cfg.Cache.Redis.DB, "REDIS_DB")
	setInt(&cfg.Cache.Redis.PoolSize, "REDIS_POOL_SIZE")
	setInt(&cfg.Cache.Redis.MinIdleConns, "REDIS_MIN_IDLE_CONNS")
	setDuration(&cfg.Cache.LayerTTL, "CACHE_LAYER_TTL")
	setInt(&cfg.Cache.Local.MaxSize, "LOCAL_CACHE_MAX_SIZE")
	setDuration(&cfg.Cache.Local.DefaultExpiration, "LOCAL_CACHE_DEFAULT_EXPIRATION")

	setFloat(&cfg.Dispatch.RadiusKm, "DISPATCH_RADIUS_KM")
	setFloat(&cfg.Dispatch.EmergencyRadiusKm, "EMERGENCY_RADIUS_KM")
	setInt(&cfg.Dispatch.EmergencyMaxCandidates, "EMERGENCY_MAX_CANDIDATES")
	setFloat(&cfg.Dispatch.AverageSpeedKmh, "AVERAGE_SPEED_KMH")
	setDuration(&cfg.Dispatch.AcceptWindow, "ACCEPT_WINDOW")
	setString(&cfg.Dispatch.SweepSpec, "EXPIRY_SWEEP")

	setString(&cfg.Calls.TokenSecret, "CALL_TOKEN_SECRET")
	setDuration(&cfg.Calls.TokenTTL, "CALL_TOKEN_TTL")
	if v := util.GetEnv("ICE_SERVERS"); v != "" {
		cfg.Calls.ICEServers = splitList(v)
	}

	if util.GetEnv("RATE_LIMIT") != "" {
		cfg.RateLimit = util.GetIntEnv("RATE_LIMIT")
	}
	setDuration(&cfg.RateLimitPeriod, "RATE_LIMIT_PERIOD")
	setString(&cfg.AuthSecret, "AUTH_SECRET")
	if util.GetEnv("ALLOW_HEADER_IDENTITY") != "" {
		cfg.AllowHeaderIdentity = util.GetBoolEnv("ALLOW_HEADER_IDENTITY")
	}
	setString(&cfg.GeoIndex, "GEO_INDEX")
	setString(&cfg.DirectorySyncSecret, "DIRECTORY_SYNC_SECRET")
	setString(&cfg.BackupPath, "BACKUP_PATH")
	setString(&cfg.BackupSchedule, "BACKUP_SCHEDULE")
	setString(&cfg.BackupStore.Endpoint, "BACKUP_S3_ENDPOINT")
	setString(&cfg.BackupStore.AccessKey, "BACKUP_S3_ACCESS_KEY")
	setString(&cfg.BackupStore.SecretKey, "BACKUP_S3_SECRET_KEY")
	setString(&cfg.BackupStore.Bucket, "BACKUP_S3_BUCKET")
	setString(&cfg.BackupStore.Region, "BACKUP_S3_REGION")
	setString(&cfg.BackupStore.Prefix, "BACKUP_S3_PREFIX")
	if util.GetEnv("BACKUP_S3_USE_SSL") != "" {
		cfg.BackupStore.UseSSL = util.GetBoolEnv("BACKUP_S3_USE_SSL")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Dispatch.RadiusKm <= 0 || c.Dispatch.EmergencyRadiusKm <= 0 {
		return fmt.Errorf("dispatch radii must be positive")
	}
	if c.Dispatch.AverageSpeedKmh <= 0 {
		return fmt.Errorf("AVERAGE_SPEED_KMH must be positive")
	}
	if c.Dispatch.EmergencyMaxCandidates <= 0 {
		return fmt.Errorf("EMERGENCY_MAX_CANDIDATES must be positive")
	}
	if c.Dispatch.AcceptWindow <= 0 {
		return fmt.Errorf("ACCEPT_WINDOW must be positive")
	}
	switch c.GeoIndex {
	case "store", "bleve":
	default:
		return fmt.Errorf("unsupported GEO_INDEX %q", c.GeoIndex)
	}
	return nil
}

func setString(dst *string, key string) {
	if v := util.GetEnv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if util.GetEnv(key) != "" {
		*dst = int(util.GetIntEnv(key))
	}
}

func setFloat(dst *float64, key string) {
	if util.GetEnv(key) != "" {
		*dst = util.GetFloatEnv(key)
	}
}

func setDuration(dst *time.Duration, key string) {
	if util.GetEnv(key) != "" {
		*dst = util.GetDurationEnv(key)
	}
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
