package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"strings"
	"time"

	"FuelSOS/pkg/cache"
	"FuelSOS/pkg/constant"

	"github.com/gin-gonic/gin"
)

type IdemStore interface {
	Set(ctx context.Context, key string, ttl time.Duration) bool // return true if set, false if exists
}

// CacheIdemStore 基于缓存的 SetNX；redis 后端时跨实例生效
type CacheIdemStore struct {
	Cache cache.Cache
}

func (s CacheIdemStore) Set(ctx context.Context, key string, ttl time.Duration) bool {
	ok, err := s.Cache.SetNX(ctx, "idem:"+key, []byte("1"), ttl)
	if err != nil {
		// 缓存不可用时放行，由下游的条件更新兜底
		return true
	}
	return ok
}

type IdempotencyConfig struct {
	HeaderName string        // Idempotency-Key 的请求头名
	TTL        time.Duration // 决定一段时间内重复请求的拒绝窗口
	Store      IdemStore
}

// IdempotencyMiddleware 拒绝窗口期内的重复提交。无请求头时以 用户+路径+请求体 哈希为键。
func IdempotencyMiddleware(cfg IdempotencyConfig) gin.HandlerFunc {
	if cfg.HeaderName == "" {
		cfg.HeaderName = "Idempotency-Key"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 10 * time.Second
	}
	return func(c *gin.Context) {
		key := strings.TrimSpace(c.GetHeader(cfg.HeaderName))
		if key == "" {
			b, _ := io.ReadAll(c.Request.Body)
			c.Request.Body = io.NopCloser(strings.NewReader(string(b)))
			h := sha256.New()
			h.Write([]byte(c.GetString(constant.UserField)))
			h.Write([]byte(c.Request.URL.Path))
			h.Write(b)
			key = hex.EncodeToString(h.Sum(nil))
		}
		if !cfg.Store.Set(c.Request.Context(), key, cfg.TTL) {
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{"success": false, "message": "duplicate request"})
			return
		}
		c.Next()
	}
}
