package admin

import (
	"strings"

	"github.com/credit-ledger/internal/http/response"
	"github.com/credit-ledger/internal/service"

	"github.com/gin-gonic/gin"
)

// LoginRequest 管理员登录请求
type LoginRequest struct {
	Username    string `json:"username" binding:"required"`
	Password    string `json:"password" binding:"required"`
	CaptchaID   string `json:"captcha_id"`
	CaptchaCode string `json:"captcha_code"`
}

// GetCaptcha 获取登录图片验证码
func (h *Handler) GetCaptcha(c *gin.Context) {
	if !h.Config.Captcha.Enabled {
		response.Success(c, gin.H{"enabled": false})
		return
	}
	challenge, err := h.AuthService.GenerateCaptcha()
	if err != nil {
		respondError(c, response.CodeInternal, "captcha_generate_failed", err)
		return
	}
	response.Success(c, gin.H{
		"enabled":      true,
		"captcha_id":   challenge.CaptchaID,
		"image_base64": challenge.ImageBase64,
	})
}

// Login 管理员登录
func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, response.CodeBadRequest, "invalid_input", err)
		return
	}
	result, err := h.AuthService.AdminLogin(c.Request.Context(), service.AdminLoginInput{
		Username:    strings.TrimSpace(req.Username),
		Password:    req.Password,
		CaptchaID:   req.CaptchaID,
		CaptchaCode: req.CaptchaCode,
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, gin.H{
		"token":      result.Token,
		"expires_at": result.ExpiresAt,
		"user": gin.H{
			"id":       result.Admin.ID,
			"username": result.Admin.Username,
			"is_super": result.Admin.IsSuper,
		},
	})
}
