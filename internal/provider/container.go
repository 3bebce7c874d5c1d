package provider

import (
	"errors"
	"fmt"
	"time"

	"github.com/credit-ledger/internal/authz"
	"github.com/credit-ledger/internal/cache"
	"github.com/credit-ledger/internal/config"
	"github.com/credit-ledger/internal/logger"
	"github.com/credit-ledger/internal/payment"
	"github.com/credit-ledger/internal/payment/stripe"
	"github.com/credit-ledger/internal/payment/wechatpay"
	"github.com/credit-ledger/internal/queue"
	"github.com/credit-ledger/internal/repository"
	"github.com/credit-ledger/internal/service"

	"gorm.io/gorm"
)

// Container 依赖注入容器
type Container struct {
	Config      *config.Config
	DB          *gorm.DB
	QueueClient *queue.Client

	// Infrastructure
	BalanceCache    *cache.BalanceStore
	CaptchaStore    *cache.CaptchaStore
	RedeemLimiter   *cache.RateLimiter
	PaymentRegistry *payment.Registry

	// Repositories
	AdminRepo          repository.AdminRepository
	PlanRepo           repository.PlanRepository
	RedemptionCodeRepo repository.RedemptionCodeRepository
	OrderRepo          repository.OrderRepository
	SubscriptionRepo   repository.SubscriptionRepository
	CreditRepo         repository.CreditRepository
	AffiliateRepo      repository.AffiliateRepository

	// Services
	AuthzService        *authz.Service
	AuthService         *service.AuthService
	CreditService       *service.CreditService
	SubscriptionService *service.SubscriptionService
	RedemptionService   *service.RedemptionService
	CommissionService   *service.CommissionService
	PaymentEventService *service.PaymentEventService
}

// NewContainer 初始化容器
func NewContainer(cfg *config.Config, db *gorm.DB) (*Container, error) {
	if cfg == nil || db == nil {
		return nil, fmt.Errorf("container requires config and db")
	}
	// 初始化缓存
	if err := cache.InitRedis(&cfg.Redis); err != nil {
		logger.Warnw("provider_init_redis_failed", "error", err, "fallback", "cache_disabled")
	}

	// 初始化队列客户端
	queueClient, err := queue.NewClient(&cfg.Queue)
	if err != nil {
		logger.Errorw("provider_init_queue_client_failed", "error", err)
		queueClient = nil
	}

	registry, err := BuildPaymentRegistry(cfg.Payment)
	if err != nil {
		return nil, err
	}

	c := &Container{
		Config:          cfg,
		DB:              db,
		QueueClient:     queueClient,
		BalanceCache:    cache.NewBalanceStore(time.Duration(cfg.Ledger.BalanceCacheTTLSeconds) * time.Second),
		CaptchaStore:    cache.NewCaptchaStore(time.Duration(cfg.Captcha.ExpireSeconds) * time.Second),
		RedeemLimiter:   cache.NewRateLimiter(cfg.Ledger.RedeemRateLimit, time.Duration(cfg.Ledger.RedeemRateWindowSecond)*time.Second),
		PaymentRegistry: registry,
	}

	// 1. 初始化 Repositories
	c.initRepositories()

	// 2. 初始化 Services
	if err := c.initServices(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Container) initRepositories() {
	db := c.DB
	c.AdminRepo = repository.NewAdminRepository(db)
	c.PlanRepo = repository.NewPlanRepository(db)
	c.RedemptionCodeRepo = repository.NewRedemptionCodeRepository(db)
	c.OrderRepo = repository.NewOrderRepository(db)
	c.SubscriptionRepo = repository.NewSubscriptionRepository(db)
	c.CreditRepo = repository.NewCreditRepository(db)
	c.AffiliateRepo = repository.NewAffiliateRepository(db)
}

func (c *Container) initServices() error {
	authzService, err := authz.NewService(c.DB, c.AdminRepo)
	if err != nil {
		logger.Errorw("provider_init_authz_failed", "error", err)
		return err
	}
	c.AuthzService = authzService
	if err := c.AuthzService.BootstrapBuiltinRoles(); err != nil {
		logger.Errorw("provider_bootstrap_builtin_roles_failed", "error", err)
		return err
	}

	ledger := c.Config.Ledger
	c.AuthService = service.NewAuthService(c.Config, c.AdminRepo, c.CaptchaStore)
	c.CreditService = service.NewCreditService(c.DB, c.CreditRepo, c.BalanceCache, c.AuthzService)
	c.SubscriptionService = service.NewSubscriptionService(c.DB, c.SubscriptionRepo, c.PaymentRegistry, ledger.SubscriptionGraceHours)
	c.RedemptionService = service.NewRedemptionService(
		c.DB,
		c.RedemptionCodeRepo,
		c.PlanRepo,
		c.OrderRepo,
		c.SubscriptionService,
		c.CreditService,
		c.AuthzService,
		service.RedemptionOptions{
			CreditValidityDays: ledger.CreditValidityDays,
			MaxIssueQuantity:   ledger.MaxIssueQuantity,
		},
	)
	c.CommissionService = service.NewCommissionService(c.DB, c.AffiliateRepo, c.OrderRepo, c.AuthzService, ledger.CommissionRatePercent)
	c.PaymentEventService = service.NewPaymentEventService(
		c.DB,
		c.OrderRepo,
		c.PlanRepo,
		c.SubscriptionRepo,
		c.SubscriptionService,
		c.CreditService,
		c.CommissionService,
		c.PaymentRegistry,
		c.QueueClient,
	)
	return nil
}

// BuildPaymentRegistry 按配置注册已启用的支付渠道
func BuildPaymentRegistry(cfg config.PaymentConfig) (*payment.Registry, error) {
	registry := payment.NewRegistry()
	if cfg.Stripe.Enabled {
		p, err := stripe.New(stripe.Config{
			SecretKey:               cfg.Stripe.SecretKey,
			WebhookSecret:           cfg.Stripe.WebhookSecret,
			SuccessURL:              cfg.Stripe.SuccessURL,
			CancelURL:               cfg.Stripe.CancelURL,
			APIBaseURL:              cfg.Stripe.APIBaseURL,
			WebhookToleranceSeconds: cfg.Stripe.WebhookToleranceSeconds,
		})
		if err != nil {
			return nil, fmt.Errorf("init stripe provider: %w", err)
		}
		registry.Register(p)
	}
	if cfg.WechatPay.Enabled {
		p, err := wechatpay.New(wechatpay.Config{
			AppID:              cfg.WechatPay.AppID,
			MerchantID:         cfg.WechatPay.MerchantID,
			MerchantSerialNo:   cfg.WechatPay.MerchantSerialNo,
			MerchantPrivateKey: cfg.WechatPay.MerchantPrivateKey,
			APIV3Key:           cfg.WechatPay.APIV3Key,
			NotifyURL:          cfg.WechatPay.NotifyURL,
		})
		if err != nil {
			return nil, fmt.Errorf("init wechatpay provider: %w", err)
		}
		registry.Register(p)
	}
	logger.Infow("provider_payment_registry_ready", "providers", registry.Names())
	return registry, nil
}

// Close 释放外部连接
func (c *Container) Close() error {
	if c == nil {
		return nil
	}
	return errors.Join(c.QueueClient.Close(), cache.Close())
}
