package shared

import (
	"errors"
	"net/http"

	"github.com/credit-ledger/internal/http/response"
	"github.com/credit-ledger/internal/logger"
	"github.com/credit-ledger/internal/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RequestLog 提供携带 request_id 的日志实例。
func RequestLog(c *gin.Context) *zap.SugaredLogger {
	if c == nil {
		return logger.S()
	}
	if c.Request != nil {
		return logger.FromContext(c.Request.Context())
	}
	if requestID, ok := c.Get(response.RequestIDKey); ok {
		if id, ok := requestID.(string); ok && id != "" {
			return logger.SW("request_id", id)
		}
	}
	return logger.S()
}

// RespondError 返回错误响应，带原始错误时记录日志
func RespondError(c *gin.Context, code int, msg string, err error) {
	if err != nil {
		RequestLog(c).Errorw("handler_error", "code", code, "message", msg, "error", err)
	}
	response.Error(c, code, msg)
}

// kindCodes 业务错误分类码到响应码
var kindCodes = map[string]int{
	"invalid_input":             response.CodeBadRequest,
	"invalid_code":              response.CodeNotFound,
	"code_used_or_expired":      response.CodeConflict,
	"code_expired":              response.CodeConflict,
	"code_usage_limit_reached":  response.CodeConflict,
	"already_redeemed":          response.CodeConflict,
	"code_not_disableable":      response.CodeConflict,
	"insufficient_credits":      response.CodeUnprocessable,
	"credit_txn_not_found":      response.CodeNotFound,
	"invalid_plan":              response.CodeBadRequest,
	"permission_denied":         response.CodeForbidden,
	"unrecognized_event_status": response.CodeInternal,
	"order_not_found":           response.CodeNotFound,
	"provider_unavailable":      response.CodeNotFound,
	"webhook_invalid":           response.CodeBadRequest,
	"checkout_failed":           response.CodeBadGateway,
	"payment_amount_mismatch":   response.CodeUnprocessable,
	"payment_currency_mismatch": response.CodeUnprocessable,
	"subscription_not_found":    response.CodeNotFound,
	"subscription_not_active":   response.CodeConflict,
	"invalid_transition":        response.CodeConflict,
	"affiliate_not_found":       response.CodeNotFound,
	"affiliate_disabled":        response.CodeForbidden,
	"referral_exists":           response.CodeConflict,
	"withdraw_insufficient":     response.CodeUnprocessable,
	"withdraw_not_found":        response.CodeNotFound,
	"withdraw_status_invalid":   response.CodeConflict,
	"invalid_credentials":       response.CodeUnauthorized,
	"captcha_invalid":           response.CodeBadRequest,
	"token_invalid":             response.CodeUnauthorized,
}

// ServiceErrorCode 按业务错误分类返回响应码与消息，未知错误视为内部错误
func ServiceErrorCode(err error) (int, string) {
	if err == nil {
		return response.CodeOK, "success"
	}
	kind := service.ErrorKind(err)
	code, ok := kindCodes[kind]
	if !ok {
		return response.CodeInternal, "internal error"
	}
	return code, kind
}

// RespondServiceError 统一输出 service 层错误
func RespondServiceError(c *gin.Context, err error) {
	code, msg := ServiceErrorCode(err)
	log := RequestLog(c)
	switch {
	case service.IsFatal(err):
		log.Errorw("handler_fatal_error", "kind", msg, "error", err)
	case code >= response.CodeInternal:
		log.Errorw("handler_error", "code", code, "error", err)
	default:
		log.Infow("handler_rejected", "code", code, "kind", msg, "error", err)
	}
	response.Error(c, code, msg)
}

// HTTPStatusFor 支付回调使用真实 HTTP 状态码，5xx 让渠道重试
func HTTPStatusFor(err error) int {
	if err == nil {
		return http.StatusOK
	}
	if errors.Is(err, service.ErrWebhookInvalid) {
		return http.StatusBadRequest
	}
	if errors.Is(err, service.ErrProviderUnavailable) {
		return http.StatusNotFound
	}
	if errors.Is(err, service.ErrOrderNotFound) {
		return http.StatusOK
	}
	code, _ := ServiceErrorCode(err)
	if code >= response.CodeInternal {
		return http.StatusInternalServerError
	}
	return http.StatusUnprocessableEntity
}
