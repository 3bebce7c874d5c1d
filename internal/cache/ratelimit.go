package cache

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// RateLimiter 固定窗口计数限流
type RateLimiter struct {
	limit  int
	window time.Duration
}

// NewRateLimiter limit<=0 表示不限流
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{limit: limit, window: window}
}

// Allow 返回是否放行；Redis 不可用时放行
func (l *RateLimiter) Allow(ctx context.Context, scope, subject string) (bool, error) {
	if l == nil || l.limit <= 0 || !Enabled() {
		return true, nil
	}
	key := buildKey(fmt.Sprintf("ratelimit:%s:%s", strings.TrimSpace(scope), strings.TrimSpace(subject)))
	pipe := redisClient.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, l.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return true, err
	}
	return incr.Val() <= int64(l.limit), nil
}
