package public

import (
	"strings"

	"github.com/credit-ledger/internal/http/response"
	"github.com/credit-ledger/internal/service"

	"github.com/gin-gonic/gin"
)

// CheckoutRequest 下单请求
type CheckoutRequest struct {
	PlanID     string `json:"plan_id" binding:"required"`
	Provider   string `json:"provider" binding:"required"`
	SuccessURL string `json:"success_url"`
	CancelURL  string `json:"cancel_url"`
}

// GetSubscription 当前订阅，没有时 data 为 null
func (h *Handler) GetSubscription(c *gin.Context) {
	uid, ok := getUserID(c)
	if !ok {
		return
	}
	sub, err := h.SubscriptionService.Current(c.Request.Context(), uid)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, sub)
}

// CancelSubscription 到期后不再续费
func (h *Handler) CancelSubscription(c *gin.Context) {
	uid, ok := getUserID(c)
	if !ok {
		return
	}
	sub, err := h.PaymentEventService.CancelSubscription(c.Request.Context(), uid)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, sub)
}

// ResumeSubscription 恢复到期自动续费
func (h *Handler) ResumeSubscription(c *gin.Context) {
	uid, ok := getUserID(c)
	if !ok {
		return
	}
	sub, err := h.PaymentEventService.ResumeSubscription(c.Request.Context(), uid)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, sub)
}

// Checkout 创建套餐订单并返回支付链接
func (h *Handler) Checkout(c *gin.Context) {
	uid, ok := getUserID(c)
	if !ok {
		return
	}
	var req CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, response.CodeBadRequest, "invalid_input", err)
		return
	}
	out, err := h.PaymentEventService.CreateCheckout(c.Request.Context(), service.CheckoutInput{
		UserID:     uid,
		PlanID:     strings.TrimSpace(req.PlanID),
		Provider:   strings.ToLower(strings.TrimSpace(req.Provider)),
		ClientIP:   c.ClientIP(),
		SuccessURL: strings.TrimSpace(req.SuccessURL),
		CancelURL:  strings.TrimSpace(req.CancelURL),
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, out)
}
