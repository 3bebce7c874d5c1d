package public

import (
	"io"
	"net/http"
	"strings"

	handlershared "github.com/credit-ledger/internal/http/handlers/shared"
	"github.com/credit-ledger/internal/http/response"
	"github.com/credit-ledger/internal/service"

	"github.com/gin-gonic/gin"
)

const maxWebhookBodyBytes = 1 << 20

// PaymentWebhook 渠道回调入口，验签后交给支付事件处理
func (h *Handler) PaymentWebhook(c *gin.Context) {
	providerName := strings.ToLower(strings.TrimSpace(c.Param("provider")))
	log := requestLog(c).With("provider", providerName)

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBodyBytes))
	if err != nil {
		log.Warnw("payment_webhook_body_read_failed", "error", err)
		response.ErrorWithStatus(c, http.StatusBadRequest, response.CodeBadRequest, "invalid_input")
		return
	}
	headers := make(map[string]string, len(c.Request.Header))
	for key, values := range c.Request.Header {
		if len(values) == 0 {
			continue
		}
		headers[key] = values[0]
	}
	log.Infow("payment_webhook_received", "client_ip", c.ClientIP(), "body_size", len(body))

	result, err := h.PaymentEventService.HandleWebhook(c.Request.Context(), providerName, headers, body)
	if err != nil {
		status := handlershared.HTTPStatusFor(err)
		code, msg := handlershared.ServiceErrorCode(err)
		if service.IsFatal(err) {
			log.Errorw("payment_webhook_fatal", "error", err)
		} else {
			log.Warnw("payment_webhook_handle_failed", "status", status, "error", err)
		}
		if status == http.StatusOK {
			response.Success(c, gin.H{"accepted": true, "applied": false, "reason": msg})
			return
		}
		response.ErrorWithStatus(c, status, code, msg)
		return
	}
	response.Success(c, gin.H{"accepted": true, "applied": result != nil && result.Applied})
}
