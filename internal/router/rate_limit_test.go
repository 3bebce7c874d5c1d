package router

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	handlershared "github.com/credit-ledger/internal/http/handlers/shared"

	"github.com/gin-gonic/gin"
)

type countingLimiter struct {
	limit     int
	counts    map[string]int
	err       error
	lastKey   string
	lastScope string
}

func (l *countingLimiter) Allow(_ context.Context, scope, subject string) (bool, error) {
	if l.counts == nil {
		l.counts = map[string]int{}
	}
	l.lastScope = scope
	l.lastKey = subject
	if l.err != nil {
		return true, l.err
	}
	l.counts[scope+"|"+subject]++
	return l.counts[scope+"|"+subject] <= l.limit, nil
}

func TestRateLimitMiddlewareWithoutLimiter(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(RateLimitMiddleware(nil, "redeem", KeyByIP))
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	if !strings.Contains(w.Body.String(), `"ok":true`) {
		t.Fatalf("expected handler response body, got %s", w.Body.String())
	}
}

func TestRateLimitMiddlewareBlocksPerUser(t *testing.T) {
	gin.SetMode(gin.TestMode)
	limiter := &countingLimiter{limit: 2}

	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(handlershared.ContextUserID, uint(9))
		c.Next()
	})
	r.POST("/redeem", RateLimitMiddleware(limiter, "redeem", KeyByUserID), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status_code": 0})
	})

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/redeem", nil))
		if code := decodeStatusCode(t, w.Body.Bytes()); code != 0 {
			t.Fatalf("request %d should pass, got %d", i, code)
		}
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/redeem", nil))
	if code := decodeStatusCode(t, w.Body.Bytes()); code != 429 {
		t.Fatalf("third request status_code want 429 got %d", code)
	}
	if limiter.lastKey != "user:9" || limiter.lastScope != "redeem" {
		t.Fatalf("unexpected limiter key: %s %s", limiter.lastScope, limiter.lastKey)
	}
}

func TestRateLimitMiddlewareFailOpen(t *testing.T) {
	gin.SetMode(gin.TestMode)
	limiter := &countingLimiter{limit: 0, err: errors.New("redis down")}

	r := gin.New()
	r.GET("/ping", RateLimitMiddleware(limiter, "redeem", KeyByIP), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status_code": 0})
	})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	if code := decodeStatusCode(t, w.Body.Bytes()); code != 0 {
		t.Fatalf("limiter error should fail open, got %d", code)
	}
}

func TestKeyByUserIDFallsBackToIP(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/redeem", nil)
	c.Request.RemoteAddr = "1.2.3.4:5678"
	if key := KeyByUserID(c); key != "ip:1.2.3.4" {
		t.Fatalf("key want ip:1.2.3.4 got %s", key)
	}
}
