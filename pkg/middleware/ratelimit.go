package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/wyfcoding/investledger/pkg/logger"
	"github.com/wyfcoding/investledger/pkg/ratelimit"
)

// KeyFunc 从请求中提取限流维度
type KeyFunc func(c *gin.Context) string

// ByClientIP 按客户端 IP 限流
func ByClientIP(c *gin.Context) string {
	return c.ClientIP()
}

// ByParam 按路由参数限流，例如账户 ID
func ByParam(name string) KeyFunc {
	return func(c *gin.Context) string {
		if v := c.Param(name); v != "" {
			return v
		}
		return c.ClientIP()
	}
}

// RateLimit 按 scope 与 keyFn 提取的主体限流；限流器异常时放行
func RateLimit(limiter ratelimit.RateLimiter, scope ratelimit.Scope, limit ratelimit.Limit, keyFn KeyFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil || limit.Unlimited() {
			c.Next()
			return
		}

		key := ratelimit.Key(scope, keyFn(c))
		res, err := limiter.Allow(c.Request.Context(), key, limit)
		if err != nil {
			logger.Warn(c.Request.Context(), "rate limiter unavailable", "key", key, "error", err)
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(limit.Burst))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		if !res.Allowed {
			c.Header("Retry-After", strconv.FormatInt(int64(res.RetryAfter/time.Second)+1, 10))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "too many requests",
				"retry_after": res.RetryAfter.String(),
			})
			return
		}
		c.Next()
	}
}
