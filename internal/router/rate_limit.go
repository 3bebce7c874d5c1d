package router

import (
	"context"
	"fmt"
	"strings"

	handlershared "github.com/credit-ledger/internal/http/handlers/shared"
	"github.com/credit-ledger/internal/http/response"
	"github.com/credit-ledger/internal/logger"

	"github.com/gin-gonic/gin"
)

// Limiter 计数限流器，由 cache.RateLimiter 实现
type Limiter interface {
	Allow(ctx context.Context, scope, subject string) (bool, error)
}

// RateLimitKeyFunc 生成限流 key 的函数
type RateLimitKeyFunc func(*gin.Context) string

// RateLimitMiddleware 频率限制中间件，限流器异常时放行
func RateLimitMiddleware(limiter Limiter, scope string, keyFunc RateLimitKeyFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil {
			c.Next()
			return
		}

		key := ""
		if keyFunc != nil {
			key = strings.TrimSpace(keyFunc(c))
		}
		if key == "" {
			key = c.ClientIP()
		}

		allowed, err := limiter.Allow(c.Request.Context(), scope, key)
		if err != nil {
			logger.FromContext(c.Request.Context()).Warnw("rate_limit_unavailable", "scope", scope, "error", err)
		}
		if !allowed {
			response.Error(c, response.CodeTooManyRequests, "rate_limited")
			c.Abort()
			return
		}
		c.Next()
	}
}

// KeyByIP 使用 IP 作为限流 key
func KeyByIP(c *gin.Context) string {
	return c.ClientIP()
}

// KeyByUserID 使用登录用户作为限流 key，未登录时回退到 IP
func KeyByUserID(c *gin.Context) string {
	if value, ok := c.Get(handlershared.ContextUserID); ok {
		if uid, ok := value.(uint); ok && uid > 0 {
			return fmt.Sprintf("user:%d", uid)
		}
	}
	return "ip:" + c.ClientIP()
}
