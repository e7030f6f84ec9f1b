package middleware

import (
	"net/http"
	"strings"
	"time"

	"FuelSOS/pkg/constant"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/ulule/limiter/v3"
	mgin "github.com/ulule/limiter/v3/drivers/middleware/gin"
	"github.com/ulule/limiter/v3/drivers/store/memory"
)

// RateLimiterConfig 限流配置
//
// Limit/Period: 每个调用方在 Period 内最多 Limit 次请求
// SkipPaths: 前缀匹配，如 ["/api/health", "/metrics"]
type RateLimiterConfig struct {
	Limit     int64
	Period    time.Duration
	SkipPaths []string
	Store     limiter.Store
	Registry  prometheus.Registerer
}

// RateLimit 按已识别用户限流，匿名请求按客户端 IP
func RateLimit(cfg RateLimiterConfig) gin.HandlerFunc {
	if cfg.Limit <= 0 {
		cfg.Limit = 100
	}
	if cfg.Period <= 0 {
		cfg.Period = 15 * time.Minute
	}
	store := cfg.Store
	if store == nil {
		store = memory.NewStore()
	}
	reg := cfg.Registry
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	denied := promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
		Name: "rate_limit_deny_total",
		Help: "Denied requests by rate limiter",
	}, []string{"route"})

	inst := limiter.New(store, limiter.Rate{Period: cfg.Period, Limit: cfg.Limit})
	mw := mgin.NewMiddleware(inst,
		mgin.WithKeyGetter(func(c *gin.Context) string {
			if uid := c.GetString(constant.UserField); uid != "" {
				return "user:" + uid
			}
			return "ip:" + c.ClientIP()
		}),
		mgin.WithLimitReachedHandler(func(c *gin.Context) {
			denied.WithLabelValues(c.FullPath()).Inc()
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"success": false,
				"message": "Too many requests from this IP, please try again later.",
			})
		}),
	)

	return func(c *gin.Context) {
		for _, p := range cfg.SkipPaths {
			if strings.HasPrefix(c.Request.URL.Path, p) {
				c.Next()
				return
			}
		}
		mw(c)
	}
}
