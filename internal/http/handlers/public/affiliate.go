package public

import (
	"github.com/credit-ledger/internal/http/response"
	"github.com/credit-ledger/internal/models"
	"github.com/credit-ledger/internal/service"

	"github.com/gin-gonic/gin"
)

// BindReferralRequest 绑定推广人
type BindReferralRequest struct {
	AffiliateCode string `json:"affiliate_code" binding:"required"`
}

// WithdrawRequest 提现申请
type WithdrawRequest struct {
	Amount       models.Money      `json:"amount"`
	PayoutMethod map[string]string `json:"payout_method" binding:"required"`
}

// OpenAffiliate 开通推广账户，已开通时返回原账户
func (h *Handler) OpenAffiliate(c *gin.Context) {
	uid, ok := getUserID(c)
	if !ok {
		return
	}
	profile, err := h.CommissionService.EnsureProfile(c.Request.Context(), uid)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, profile)
}

// BindReferral 绑定推广关系
func (h *Handler) BindReferral(c *gin.Context) {
	uid, ok := getUserID(c)
	if !ok {
		return
	}
	var req BindReferralRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, response.CodeBadRequest, "invalid_input", err)
		return
	}
	referral, err := h.CommissionService.BindReferral(c.Request.Context(), uid, req.AffiliateCode)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, referral)
}

// GetAffiliateBalance 推广佣金余额
func (h *Handler) GetAffiliateBalance(c *gin.Context) {
	uid, ok := getUserID(c)
	if !ok {
		return
	}
	balance, err := h.CommissionService.AvailableBalance(c.Request.Context(), uid)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, balance)
}

// RequestWithdrawal 申请佣金提现
func (h *Handler) RequestWithdrawal(c *gin.Context) {
	uid, ok := getUserID(c)
	if !ok {
		return
	}
	var req WithdrawRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, response.CodeBadRequest, "invalid_input", err)
		return
	}
	withdraw, err := h.CommissionService.RequestWithdrawal(c.Request.Context(), service.WithdrawInput{
		UserID:       uid,
		Amount:       req.Amount,
		PayoutMethod: req.PayoutMethod,
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, withdraw)
}
