package cache

import (
	"context"
	"testing"
	"time"

	"github.com/credit-ledger/internal/config"
)

func TestDisabledCacheIsNoop(t *testing.T) {
	if err := InitRedis(&config.RedisConfig{Enabled: false}); err != nil {
		t.Fatalf("init redis failed: %v", err)
	}
	if Enabled() {
		t.Fatalf("cache should be disabled")
	}
	store := NewBalanceStore(0)
	ctx := context.Background()
	if err := store.SetBalance(ctx, 1, 100); err != nil {
		t.Fatalf("set balance failed: %v", err)
	}
	if _, ok, err := store.GetBalance(ctx, 1); err != nil || ok {
		t.Fatalf("disabled cache should miss, ok=%v err=%v", ok, err)
	}
	if err := store.DeleteBalance(ctx, 1); err != nil {
		t.Fatalf("delete balance failed: %v", err)
	}
}

func TestRateLimiterAllowsWithoutRedis(t *testing.T) {
	_ = InitRedis(nil)
	limiter := NewRateLimiter(1, time.Minute)
	for i := 0; i < 3; i++ {
		ok, err := limiter.Allow(context.Background(), "redeem", "1")
		if err != nil || !ok {
			t.Fatalf("limiter should allow when redis disabled, ok=%v err=%v", ok, err)
		}
	}
	var nilLimiter *RateLimiter
	if ok, _ := nilLimiter.Allow(context.Background(), "redeem", "1"); !ok {
		t.Fatalf("nil limiter should allow")
	}
}

func TestCaptchaStoreMemoryFallback(t *testing.T) {
	_ = InitRedis(nil)
	store := NewCaptchaStore(time.Minute)
	if err := store.Set("cid", "AbCd"); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if store.Verify("cid", "wrong", false) {
		t.Fatalf("wrong answer should fail")
	}
	if !store.Verify("cid", "abcd", true) {
		t.Fatalf("answer should match case-insensitively")
	}
	if store.Verify("cid", "abcd", true) {
		t.Fatalf("cleared answer should not verify twice")
	}
}

func TestBuildKeyUsesPrefix(t *testing.T) {
	redisPrefix = "ledger"
	if got := buildKey("credit:balance:1"); got != "ledger:credit:balance:1" {
		t.Fatalf("unexpected key: %s", got)
	}
}

func TestInitRedisUnreachableStaysDisabled(t *testing.T) {
	err := InitRedis(&config.RedisConfig{Enabled: true, Host: "127.0.0.1", Port: 1, Prefix: " app "})
	if err == nil {
		t.Fatalf("expected ping error for unreachable redis")
	}
	if Enabled() {
		t.Fatalf("cache must stay disabled after a failed ping")
	}
	if redisPrefix != "app" {
		t.Fatalf("prefix should be trimmed, got %q", redisPrefix)
	}
	if err := Close(); err != nil {
		t.Fatalf("close on disabled cache should be a no-op: %v", err)
	}
}
