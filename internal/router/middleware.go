package router

import (
	"strconv"
	"strings"
	"time"

	handlershared "github.com/credit-ledger/internal/http/handlers/shared"
	"github.com/credit-ledger/internal/http/response"
	"github.com/credit-ledger/internal/logger"
	"github.com/credit-ledger/internal/metrics"
	"github.com/credit-ledger/internal/models"
	"github.com/credit-ledger/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const requestIDKey = response.RequestIDKey
const requestIDHeader = "X-Request-ID"

// AdminLookup 管理员鉴权时回查账号
type AdminLookup interface {
	GetByID(id uint) (*models.Admin, error)
}

// RequestIDMiddleware 请求 ID 中间件，同时把带 request_id 的日志挂到请求 context
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := strings.TrimSpace(c.GetHeader(requestIDHeader))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set(requestIDKey, requestID)
		c.Writer.Header().Set(requestIDHeader, requestID)
		c.Request = c.Request.WithContext(logger.WithContext(c.Request.Context(), "request_id", requestID))
		c.Next()
	}
}

// LoggerMiddleware 结构化请求日志中间件
func LoggerMiddleware(log *zap.Logger) gin.HandlerFunc {
	if log == nil {
		log = zap.L()
	}
	sugar := log.Sugar()
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		entry := sugar.With(
			"request_id", getRequestID(c),
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency_ms", time.Since(start).Milliseconds(),
			"client_ip", c.ClientIP(),
		)
		if len(c.Errors) > 0 {
			entry.Errorw("request", "errors", c.Errors.String())
			return
		}
		entry.Infow("request")
	}
}

// MetricsMiddleware 记录请求耗时，route 取注册路径避免高基数
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.HTTPRequests.
			WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}

func getRequestID(c *gin.Context) string {
	value, ok := c.Get(requestIDKey)
	if !ok {
		return ""
	}
	if requestID, ok := value.(string); ok {
		return requestID
	}
	return ""
}

func bearerToken(c *gin.Context) (string, bool) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		response.Unauthorized(c, "auth_header_missing")
		c.Abort()
		return "", false
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if !(len(parts) == 2 && parts[0] == "Bearer") || strings.TrimSpace(parts[1]) == "" {
		response.Unauthorized(c, "auth_header_invalid")
		c.Abort()
		return "", false
	}
	return strings.TrimSpace(parts[1]), true
}

// UserJWTAuthMiddleware 用户 JWT 鉴权中间件，用户体系在上游，这里只认令牌
func UserJWTAuthMiddleware(auth *service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if auth == nil {
			response.Unauthorized(c, "token_invalid")
			c.Abort()
			return
		}
		tokenString, ok := bearerToken(c)
		if !ok {
			return
		}
		claims, err := auth.ParseUserToken(tokenString)
		if err != nil {
			response.Unauthorized(c, "token_invalid")
			c.Abort()
			return
		}
		c.Set(handlershared.ContextUserID, claims.UserID)
		c.Request = c.Request.WithContext(logger.WithContext(c.Request.Context(), "user_id", claims.UserID))
		c.Next()
	}
}

// AdminJWTAuthMiddleware 管理员 JWT 鉴权中间件，回查账号确认未被删除
func AdminJWTAuthMiddleware(auth *service.AuthService, admins AdminLookup) gin.HandlerFunc {
	return func(c *gin.Context) {
		if auth == nil || admins == nil {
			response.Unauthorized(c, "token_invalid")
			c.Abort()
			return
		}
		tokenString, ok := bearerToken(c)
		if !ok {
			return
		}
		claims, err := auth.ParseAdminToken(tokenString)
		if err != nil {
			response.Unauthorized(c, "token_invalid")
			c.Abort()
			return
		}
		admin, err := admins.GetByID(claims.AdminID)
		if err != nil || admin == nil {
			if err != nil {
				logger.FromContext(c.Request.Context()).Warnw("admin_auth_lookup_failed", "admin_id", claims.AdminID, "error", err)
			}
			response.Unauthorized(c, "token_invalid")
			c.Abort()
			return
		}
		c.Set(handlershared.ContextAdminID, admin.ID)
		c.Set(handlershared.ContextAdminUsername, admin.Username)
		c.Set(handlershared.ContextAdminIsSuper, admin.IsSuper)
		c.Request = c.Request.WithContext(logger.WithContext(c.Request.Context(), "admin_id", admin.ID))
		c.Next()
	}
}
