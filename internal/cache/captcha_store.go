package cache

import (
	"context"
	"strings"
	"time"

	"github.com/mojocn/base64Captcha"
)

// CaptchaStore 基于 Redis 的验证码存储，未启用 Redis 时退回内存存储
type CaptchaStore struct {
	expire   time.Duration
	fallback base64Captcha.Store
}

// NewCaptchaStore 创建验证码存储
func NewCaptchaStore(expire time.Duration) *CaptchaStore {
	if expire <= 0 {
		expire = 5 * time.Minute
	}
	return &CaptchaStore{
		expire:   expire,
		fallback: base64Captcha.NewMemoryStore(base64Captcha.GCLimitNumber, expire),
	}
}

func captchaKey(id string) string {
	return buildKey("captcha:" + strings.TrimSpace(id))
}

// Set 保存验证码答案
func (s *CaptchaStore) Set(id string, value string) error {
	if !Enabled() {
		return s.fallback.Set(id, value)
	}
	return redisClient.Set(context.Background(), captchaKey(id), value, s.expire).Err()
}

// Get 读取答案，clear 为 true 时读取后删除
func (s *CaptchaStore) Get(id string, clear bool) string {
	if !Enabled() {
		return s.fallback.Get(id, clear)
	}
	ctx := context.Background()
	var (
		val string
		err error
	)
	if clear {
		val, err = redisClient.GetDel(ctx, captchaKey(id)).Result()
	} else {
		val, err = redisClient.Get(ctx, captchaKey(id)).Result()
	}
	if err != nil {
		return ""
	}
	return val
}

// Verify 校验答案，忽略大小写
func (s *CaptchaStore) Verify(id, answer string, clear bool) bool {
	id = strings.TrimSpace(id)
	answer = strings.TrimSpace(answer)
	if id == "" || answer == "" {
		return false
	}
	stored := s.Get(id, clear)
	return stored != "" && strings.EqualFold(stored, answer)
}
