package admin

import (
	"strconv"
	"strings"
	"time"

	handlershared "github.com/credit-ledger/internal/http/handlers/shared"
	"github.com/credit-ledger/internal/http/response"
	"github.com/credit-ledger/internal/repository"
	"github.com/credit-ledger/internal/service"

	"github.com/gin-gonic/gin"
)

// IssueCreditsRequest 批量生成积分码
type IssueCreditsRequest struct {
	Credits      int64      `json:"credits" binding:"required"`
	Quantity     int        `json:"quantity" binding:"required"`
	MaxUses      int        `json:"max_uses"`
	ValidityDays int        `json:"validity_days"`
	ExpiresAt    *time.Time `json:"expires_at"`
}

// IssueMembershipRequest 批量生成会员码
type IssueMembershipRequest struct {
	PlanID         string     `json:"plan_id" binding:"required"`
	Quantity       int        `json:"quantity" binding:"required"`
	MembershipDays int        `json:"membership_days"`
	Credits        int64      `json:"credits"`
	ExpiresAt      *time.Time `json:"expires_at"`
}

// IssueCreditCodes 生成积分兑换码，明文码只在本次响应中返回
func (h *Handler) IssueCreditCodes(c *gin.Context) {
	adminID, ok := getAdminID(c)
	if !ok {
		return
	}
	var req IssueCreditsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, response.CodeBadRequest, "invalid_input", err)
		return
	}
	result, err := h.RedemptionService.IssueCredits(c.Request.Context(), service.IssueCreditsInput{
		AdminID:      adminID,
		Credits:      req.Credits,
		Quantity:     req.Quantity,
		MaxUses:      req.MaxUses,
		ValidityDays: req.ValidityDays,
		ExpiresAt:    req.ExpiresAt,
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}
	requestLog(c).Infow("admin_issue_credit_codes", "admin_id", adminID, "batch_no", result.BatchNo, "quantity", len(result.Codes))
	response.Success(c, result)
}

// IssueMembershipCodes 生成会员兑换码
func (h *Handler) IssueMembershipCodes(c *gin.Context) {
	adminID, ok := getAdminID(c)
	if !ok {
		return
	}
	var req IssueMembershipRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, response.CodeBadRequest, "invalid_input", err)
		return
	}
	result, err := h.RedemptionService.IssueMembership(c.Request.Context(), service.IssueMembershipInput{
		AdminID:        adminID,
		PlanID:         strings.TrimSpace(req.PlanID),
		Quantity:       req.Quantity,
		MembershipDays: req.MembershipDays,
		Credits:        req.Credits,
		ExpiresAt:      req.ExpiresAt,
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}
	requestLog(c).Infow("admin_issue_membership_codes", "admin_id", adminID, "batch_no", result.BatchNo, "quantity", len(result.Codes))
	response.Success(c, result)
}

// ListRedemptionCodes 兑换码列表，只返回掩码
func (h *Handler) ListRedemptionCodes(c *gin.Context) {
	adminID, ok := getAdminID(c)
	if !ok {
		return
	}
	page, pageSize := handlershared.ParsePagination(c)
	batchID, _ := strconv.ParseUint(c.Query("batch_id"), 10, 64)
	codes, total, err := h.RedemptionService.ListCodes(c.Request.Context(), adminID, repository.RedemptionCodeListFilter{
		BatchID:  uint(batchID),
		Status:   strings.TrimSpace(c.Query("status")),
		Type:     strings.TrimSpace(c.Query("type")),
		Page:     page,
		PageSize: pageSize,
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.SuccessWithPage(c, codes, handlershared.BuildPagination(page, pageSize, total))
}

// DisableRedemptionCode 停用兑换码
func (h *Handler) DisableRedemptionCode(c *gin.Context) {
	adminID, ok := getAdminID(c)
	if !ok {
		return
	}
	codeID, ok := handlershared.ParseUintParam(c, "id")
	if !ok {
		return
	}
	code, err := h.RedemptionService.DisableCode(c.Request.Context(), adminID, codeID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, code)
}
