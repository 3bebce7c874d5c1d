package public

import (
	"github.com/credit-ledger/internal/http/response"
	"github.com/credit-ledger/internal/service"

	"github.com/gin-gonic/gin"
)

// RedeemRequest 兑换请求
type RedeemRequest struct {
	Code string `json:"code" binding:"required"`
}

// Redeem 用户兑换积分码或会员码
func (h *Handler) Redeem(c *gin.Context) {
	uid, ok := getUserID(c)
	if !ok {
		return
	}
	var req RedeemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, response.CodeBadRequest, "invalid_input", err)
		return
	}
	result, err := h.RedemptionService.Redeem(c.Request.Context(), service.RedeemInput{
		Code:   req.Code,
		UserID: uid,
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, result)
}
