package admin

import (
	"time"

	"github.com/credit-ledger/internal/http/response"
	"github.com/credit-ledger/internal/service"

	"github.com/gin-gonic/gin"
)

// GrantCreditsRequest 手工发放积分
type GrantCreditsRequest struct {
	UserID    uint       `json:"user_id" binding:"required"`
	Credits   int64      `json:"credits" binding:"required"`
	ExpiresAt *time.Time `json:"expires_at"`
	Remark    string     `json:"remark"`
}

// GrantCredits 后台向用户发放积分
func (h *Handler) GrantCredits(c *gin.Context) {
	adminID, ok := getAdminID(c)
	if !ok {
		return
	}
	var req GrantCreditsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, response.CodeBadRequest, "invalid_input", err)
		return
	}
	txn, err := h.CreditService.AdminGrant(c.Request.Context(), adminID, service.GrantInput{
		UserID:    req.UserID,
		Credits:   req.Credits,
		ExpiresAt: req.ExpiresAt,
		Remark:    req.Remark,
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, txn)
}
