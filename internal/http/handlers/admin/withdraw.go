package admin

import (
	"strconv"
	"strings"

	handlershared "github.com/credit-ledger/internal/http/handlers/shared"
	"github.com/credit-ledger/internal/http/response"
	"github.com/credit-ledger/internal/repository"

	"github.com/gin-gonic/gin"
)

// RejectWithdrawRequest 驳回原因
type RejectWithdrawRequest struct {
	Reason string `json:"reason"`
}

// ListWithdrawals 提现申请列表
func (h *Handler) ListWithdrawals(c *gin.Context) {
	adminID, ok := getAdminID(c)
	if !ok {
		return
	}
	page, pageSize := handlershared.ParsePagination(c)
	profileID, _ := strconv.ParseUint(c.Query("affiliate_profile_id"), 10, 64)
	items, total, err := h.CommissionService.ListWithdrawals(c.Request.Context(), adminID, repository.WithdrawListFilter{
		AffiliateProfileID: uint(profileID),
		Status:             strings.TrimSpace(c.Query("status")),
		Page:               page,
		PageSize:           pageSize,
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.SuccessWithPage(c, items, handlershared.BuildPagination(page, pageSize, total))
}

// ApproveWithdrawal 审核通过
func (h *Handler) ApproveWithdrawal(c *gin.Context) {
	adminID, ok := getAdminID(c)
	if !ok {
		return
	}
	id, ok := handlershared.ParseUintParam(c, "id")
	if !ok {
		return
	}
	req, err := h.CommissionService.Approve(c.Request.Context(), adminID, id)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, req)
}

// ConfirmWithdrawalPayout 确认已打款
func (h *Handler) ConfirmWithdrawalPayout(c *gin.Context) {
	adminID, ok := getAdminID(c)
	if !ok {
		return
	}
	id, ok := handlershared.ParseUintParam(c, "id")
	if !ok {
		return
	}
	req, err := h.CommissionService.ConfirmPayout(c.Request.Context(), adminID, id)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, req)
}

// RejectWithdrawal 驳回提现
func (h *Handler) RejectWithdrawal(c *gin.Context) {
	adminID, ok := getAdminID(c)
	if !ok {
		return
	}
	id, ok := handlershared.ParseUintParam(c, "id")
	if !ok {
		return
	}
	var body RejectWithdrawRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			respondError(c, response.CodeBadRequest, "invalid_input", err)
			return
		}
	}
	req, err := h.CommissionService.Reject(c.Request.Context(), adminID, id, strings.TrimSpace(body.Reason))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, req)
}
