package public

import (
	"github.com/credit-ledger/internal/constants"
	handlershared "github.com/credit-ledger/internal/http/handlers/shared"
	"github.com/credit-ledger/internal/http/response"
	"github.com/credit-ledger/internal/service"

	"github.com/gin-gonic/gin"
)

// ConsumeRequest 积分消耗请求
type ConsumeRequest struct {
	Credits       int64  `json:"credits" binding:"required"`
	Scene         string `json:"scene"`
	ReferenceType string `json:"reference_type"`
	ReferenceID   string `json:"reference_id"`
	Remark        string `json:"remark"`
}

// GetCreditBalance 当前可用积分
func (h *Handler) GetCreditBalance(c *gin.Context) {
	uid, ok := getUserID(c)
	if !ok {
		return
	}
	balance, err := h.CreditService.CachedBalance(c.Request.Context(), uid)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, gin.H{"user_id": uid, "balance": balance})
}

// ListCreditTransactions 积分流水
func (h *Handler) ListCreditTransactions(c *gin.Context) {
	uid, ok := getUserID(c)
	if !ok {
		return
	}
	page, pageSize := handlershared.ParsePagination(c)
	items, total, err := h.CreditService.ListTransactions(c.Request.Context(), uid, page, pageSize)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.SuccessWithPage(c, items, handlershared.BuildPagination(page, pageSize, total))
}

// GetConsumptionDetail 单次消耗的扣减来源
func (h *Handler) GetConsumptionDetail(c *gin.Context) {
	uid, ok := getUserID(c)
	if !ok {
		return
	}
	txnID, ok := handlershared.ParseUintParam(c, "id")
	if !ok {
		return
	}
	txn, rows, err := h.CreditService.ConsumptionDetail(c.Request.Context(), uid, txnID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, gin.H{"transaction": txn, "consumptions": rows})
}

// ConsumeCredits 按到期先后扣减积分
func (h *Handler) ConsumeCredits(c *gin.Context) {
	uid, ok := getUserID(c)
	if !ok {
		return
	}
	var req ConsumeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, response.CodeBadRequest, "invalid_input", err)
		return
	}
	scene := req.Scene
	if scene == "" {
		scene = constants.CreditSceneUsage
	}
	result, err := h.CreditService.Consume(c.Request.Context(), service.ConsumeInput{
		UserID:        uid,
		Credits:       req.Credits,
		Scene:         scene,
		ReferenceType: req.ReferenceType,
		ReferenceID:   req.ReferenceID,
		Remark:        req.Remark,
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, result)
}
