package router

import (
	"strings"

	"github.com/credit-ledger/internal/config"
	adminhandlers "github.com/credit-ledger/internal/http/handlers/admin"
	publichandlers "github.com/credit-ledger/internal/http/handlers/public"
	"github.com/credit-ledger/internal/http/response"
	"github.com/credit-ledger/internal/logger"
	"github.com/credit-ledger/internal/metrics"
	"github.com/credit-ledger/internal/provider"

	"github.com/gin-gonic/gin"
)

const redeemRateScope = "redeem"

// SetupRouter 初始化路由
func SetupRouter(cfg *config.Config, c *provider.Container) *gin.Engine {
	log := logger.L()
	r := gin.New()

	// 初始化 Handler（按用户侧/后台分组）
	publicHandler := publichandlers.New(c)
	adminHandler := adminhandlers.New(c)

	// 中间件
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggerMiddleware(log))
	if cfg.Metrics.Enabled {
		r.Use(MetricsMiddleware())
	}

	r.GET("/health", func(ctx *gin.Context) {
		response.Success(ctx, gin.H{"status": "ok"})
	})
	if cfg.Metrics.Enabled {
		path := strings.TrimSpace(cfg.Metrics.Path)
		if path == "" {
			path = "/metrics"
		}
		r.GET(path, gin.WrapH(metrics.Handler()))
	}

	apiV1 := r.Group("/api/v1")
	{
		// 支付渠道回调（验签在 provider 内完成）
		apiV1.POST("/webhooks/:provider", publicHandler.PaymentWebhook)

		// 用户接口（需鉴权）
		user := apiV1.Group("")
		user.Use(UserJWTAuthMiddleware(c.AuthService))
		{
			user.POST("/redeem", RateLimitMiddleware(c.RedeemLimiter, redeemRateScope, KeyByUserID), publicHandler.Redeem)
			user.GET("/credits/balance", publicHandler.GetCreditBalance)
			user.GET("/credits/transactions", publicHandler.ListCreditTransactions)
			user.GET("/credits/transactions/:id/consumptions", publicHandler.GetConsumptionDetail)
			user.POST("/credits/consume", publicHandler.ConsumeCredits)
			user.GET("/subscription", publicHandler.GetSubscription)
			user.POST("/subscription/cancel", publicHandler.CancelSubscription)
			user.POST("/subscription/resume", publicHandler.ResumeSubscription)
			user.POST("/checkout", publicHandler.Checkout)
			user.POST("/affiliate/open", publicHandler.OpenAffiliate)
			user.POST("/affiliate/bind", publicHandler.BindReferral)
			user.GET("/affiliate/balance", publicHandler.GetAffiliateBalance)
			user.POST("/affiliate/withdrawals", publicHandler.RequestWithdrawal)
		}
	}

	// 管理员接口
	admin := r.Group("/admin")
	{
		// 登录接口（无需鉴权）
		admin.GET("/captcha", adminHandler.GetCaptcha)
		admin.POST("/login", adminHandler.Login)

		authed := admin.Group("")
		authed.Use(AdminJWTAuthMiddleware(c.AuthService, c.AdminRepo))
		{
			authed.POST("/redemption-codes/credits", adminHandler.IssueCreditCodes)
			authed.POST("/redemption-codes/membership", adminHandler.IssueMembershipCodes)
			authed.GET("/redemption-codes", adminHandler.ListRedemptionCodes)
			authed.POST("/redemption-codes/:id/disable", adminHandler.DisableRedemptionCode)

			authed.POST("/credits/grant", adminHandler.GrantCredits)

			authed.GET("/withdrawals", adminHandler.ListWithdrawals)
			authed.POST("/withdrawals/:id/approve", adminHandler.ApproveWithdrawal)
			authed.POST("/withdrawals/:id/payout", adminHandler.ConfirmWithdrawalPayout)
			authed.POST("/withdrawals/:id/reject", adminHandler.RejectWithdrawal)

			authed.GET("/authz/me", adminHandler.GetAuthzMe)
			authed.GET("/authz/roles", adminHandler.ListAuthzRoles)
			authed.POST("/authz/roles", adminHandler.CreateAuthzRole)
			authed.GET("/authz/roles/:role/policies", adminHandler.GetAuthzRolePolicies)
			authed.POST("/authz/roles/:role/policies", adminHandler.GrantAuthzRolePermission)
			authed.DELETE("/authz/roles/:role/policies", adminHandler.RevokeAuthzRolePermission)
			authed.PUT("/authz/admins/:id/roles", adminHandler.SetAdminRoles)
		}
	}

	return r
}
