package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/credit-ledger/internal/constants"
	"github.com/credit-ledger/internal/logger"
	"github.com/credit-ledger/internal/metrics"
	"github.com/credit-ledger/internal/models"
	"github.com/credit-ledger/internal/payment"
	"github.com/credit-ledger/internal/queue"
	"github.com/credit-ledger/internal/repository"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// PaymentEventService 将渠道事件落到订单、订阅与积分账本
type PaymentEventService struct {
	db            *gorm.DB
	orderRepo     repository.OrderRepository
	planRepo      repository.PlanRepository
	subRepo       repository.SubscriptionRepository
	subscriptions *SubscriptionService
	credits       *CreditService
	commissions   *CommissionService
	registry      *payment.Registry
	queueClient   *queue.Client
	now           func() time.Time
}

// NewPaymentEventService 创建支付事件服务
func NewPaymentEventService(
	db *gorm.DB,
	orderRepo repository.OrderRepository,
	planRepo repository.PlanRepository,
	subRepo repository.SubscriptionRepository,
	subscriptions *SubscriptionService,
	credits *CreditService,
	commissions *CommissionService,
	registry *payment.Registry,
	queueClient *queue.Client,
) *PaymentEventService {
	return &PaymentEventService{
		db:            db,
		orderRepo:     orderRepo,
		planRepo:      planRepo,
		subRepo:       subRepo,
		subscriptions: subscriptions,
		credits:       credits,
		commissions:   commissions,
		registry:      registry,
		queueClient:   queueClient,
		now:           time.Now,
	}
}

// ApplyResult 事件处理结果，Applied=false 表示重复或无需变更
type ApplyResult struct {
	Applied      bool                      `json:"applied"`
	Order        *models.Order             `json:"order,omitempty"`
	Subscription *models.Subscription      `json:"subscription,omitempty"`
	CreditTxn    *models.CreditTransaction `json:"credit_txn,omitempty"`
	// Superseded 本次新订阅顶替掉的旧订阅
	Superseded []models.Subscription `json:"-"`
}

// ApplyPaymentEvent 应用一次支付结果事件，重复投递不会重复发放
func (s *PaymentEventService) ApplyPaymentEvent(ctx context.Context, ev payment.PaymentEvent) (*ApplyResult, error) {
	status := strings.ToUpper(strings.TrimSpace(ev.Status))
	log := logger.FromContext(ctx).With(
		"order_no", ev.OrderNo,
		"provider", ev.Provider,
		"provider_ref", ev.ProviderRef,
		"status", status,
	)
	if strings.TrimSpace(ev.OrderNo) == "" {
		return nil, fmt.Errorf("%w: order_no is required", ErrInvalidInput)
	}
	switch status {
	case constants.PaymentEventSuccess, constants.PaymentEventFailed,
		constants.PaymentEventCanceled, constants.PaymentEventProcessing:
	default:
		log.Errorw("payment_event_unrecognized_status", "raw_status", ev.Status)
		metrics.PaymentEvents.WithLabelValues(payment.EventKindPayment, "UNKNOWN", "rejected").Inc()
		return nil, fmt.Errorf("%w: %q", ErrUnrecognizedEventStatus, ev.Status)
	}

	result := &ApplyResult{}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		orderRepo := s.orderRepo.WithTx(tx)
		order, err := orderRepo.GetByOrderNoForUpdate(strings.TrimSpace(ev.OrderNo))
		if err != nil {
			return err
		}
		if order == nil {
			return ErrOrderNotFound
		}
		result.Order = order

		switch status {
		case constants.PaymentEventSuccess:
			// 加锁后的状态检查即幂等保证
			if order.Status == constants.OrderStatusPaid {
				return nil
			}
			if err := checkPaidAmount(log, order, ev); err != nil {
				return err
			}
			return s.markPaidTx(tx, order, ev, result)
		case constants.PaymentEventFailed, constants.PaymentEventCanceled:
			if order.Status != constants.OrderStatusPending {
				return nil
			}
			now := s.now()
			order.Status = constants.OrderStatusFailed
			order.FailedAt = &now
			if !ev.PaymentInfo.IsEmpty() {
				order.PaymentPayload = ev.PaymentInfo
			}
			order.UpdatedAt = now
			result.Applied = true
			return orderRepo.Update(order)
		default:
			if order.Status == constants.OrderStatusPaid || ev.PaymentInfo.IsEmpty() {
				return nil
			}
			order.PaymentPayload = ev.PaymentInfo
			order.UpdatedAt = s.now()
			return orderRepo.Update(order)
		}
	})
	if err != nil {
		log.Warnw("payment_event_apply_failed", "error", err)
		metrics.PaymentEvents.WithLabelValues(payment.EventKindPayment, status, "error").Inc()
		return nil, err
	}

	outcome := "applied"
	if !result.Applied {
		outcome = "duplicate"
		log.Infow("payment_event_duplicate", "order_status", result.Order.Status)
	} else {
		log.Infow("payment_event_applied", "order_status", result.Order.Status)
	}
	metrics.PaymentEvents.WithLabelValues(payment.EventKindPayment, status, outcome).Inc()

	if result.Applied && result.Order.Status == constants.OrderStatusPaid {
		s.credits.AfterCommit(ctx, result.Order.UserID)
		s.subscriptions.ReleaseSuperseded(ctx, result.Superseded)
		s.scheduleAccrual(ctx, result.Order)
	}
	return result, nil
}

// checkPaidAmount 渠道回传的金额与币种必须与订单一致，未回传的字段不校验
func checkPaidAmount(log *zap.SugaredLogger, order *models.Order, ev payment.PaymentEvent) error {
	if currency := strings.ToUpper(strings.TrimSpace(ev.Currency)); currency != "" && currency != strings.ToUpper(strings.TrimSpace(order.Currency)) {
		log.Warnw("payment_event_currency_mismatch",
			"stored_currency", order.Currency,
			"event_currency", ev.Currency,
		)
		return ErrPaymentCurrencyMismatch
	}
	if !ev.Amount.Decimal.IsZero() && ev.Amount.Decimal.Cmp(order.Amount.Decimal) != 0 {
		log.Warnw("payment_event_amount_mismatch",
			"stored_amount", order.Amount.String(),
			"event_amount", ev.Amount.String(),
		)
		return ErrPaymentAmountMismatch
	}
	return nil
}

func (s *PaymentEventService) markPaidTx(tx *gorm.DB, order *models.Order, ev payment.PaymentEvent, result *ApplyResult) error {
	now := s.now()
	paidAt := now
	if ev.PaidAt != nil && !ev.PaidAt.IsZero() {
		paidAt = *ev.PaidAt
	}
	order.Status = constants.OrderStatusPaid
	order.PaidAt = &paidAt
	order.FailedAt = nil
	if ref := strings.TrimSpace(ev.ProviderRef); ref != "" {
		order.ProviderRef = ref
	}
	if order.PaymentProvider == "" {
		order.PaymentProvider = strings.TrimSpace(ev.Provider)
	}
	if !ev.PaymentInfo.IsEmpty() {
		order.PaymentPayload = ev.PaymentInfo
	}
	order.UpdatedAt = now

	sub, superseded, err := s.subscribeForOrderTx(tx, order, ev.Subscription, paidAt)
	if err != nil {
		return err
	}
	if sub != nil {
		order.SubscriptionID = &sub.ID
		result.Subscription = sub
		result.Superseded = superseded
	}

	if order.Credits > 0 {
		scene := constants.CreditScenePayment
		var expiresAt *time.Time
		if sub != nil {
			scene = constants.CreditSceneSubscription
			end := sub.CurrentPeriodEnd
			expiresAt = &end
		}
		if order.CreditsValidDays > 0 {
			end := paidAt.AddDate(0, 0, order.CreditsValidDays)
			expiresAt = &end
		}
		txn, err := s.credits.GrantTx(tx, GrantInput{
			UserID:        order.UserID,
			Credits:       order.Credits,
			Scene:         scene,
			ExpiresAt:     expiresAt,
			ReferenceType: constants.CreditRefOrder,
			ReferenceID:   order.OrderNo,
		})
		if err != nil {
			return err
		}
		order.CreditTxnID = &txn.ID
		result.CreditTxn = txn
	}

	result.Applied = true
	return s.orderRepo.WithTx(tx).Update(order)
}

// subscribeForOrderTx 套餐订单建立订阅；渠道未携带订阅信息时按套餐建立单期不续费订阅
func (s *PaymentEventService) subscribeForOrderTx(tx *gorm.DB, order *models.Order, info *payment.SubscriptionInfo, paidAt time.Time) (*models.Subscription, []models.Subscription, error) {
	if order.ProductID == "" {
		return nil, nil, nil
	}
	plan, err := s.planRepo.WithTx(tx).GetByPlanID(order.ProductID)
	if err != nil {
		return nil, nil, err
	}
	if plan == nil {
		if info == nil {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("%w: %s", ErrInvalidPlan, order.ProductID)
	}
	input := SubscriptionCreate{
		UserID:           order.UserID,
		PlanID:           plan.PlanID,
		Provider:         order.PaymentProvider,
		PeriodStart:      paidAt,
		CreditsAmount:    plan.CreditsAmount,
		CreditsValidDays: plan.CreditsValidDays,
		OriginOrderID:    &order.ID,
	}
	if info != nil {
		input.ProviderSubscriptionID = strings.TrimSpace(info.ProviderSubscriptionID)
		if !info.CurrentPeriodStart.IsZero() {
			input.PeriodStart = info.CurrentPeriodStart
		}
		if !info.CurrentPeriodEnd.IsZero() {
			input.PeriodEnd = info.CurrentPeriodEnd
		}
	}
	if input.PeriodEnd.IsZero() {
		input.PeriodEnd = plan.PeriodEnd(input.PeriodStart, 1)
	}
	sub, superseded, err := s.subscriptions.CreateActiveTx(tx, input)
	if err != nil {
		return nil, nil, err
	}
	if input.ProviderSubscriptionID == "" {
		sub.CancelAtPeriodEnd = true
		if err := s.subRepo.WithTx(tx).Update(sub); err != nil {
			return nil, nil, err
		}
	}
	return sub, superseded, nil
}

// ApplyRenewal 续费扣款成功：新建续费订单、按订阅模板发放积分并推进周期
func (s *PaymentEventService) ApplyRenewal(ctx context.Context, ev payment.RenewalEvent) (*ApplyResult, error) {
	log := logger.FromContext(ctx).With(
		"provider", ev.Provider,
		"provider_subscription_id", ev.ProviderSubscriptionID,
		"subscription_no", ev.SubscriptionNo,
		"provider_ref", ev.ProviderRef,
	)
	if strings.TrimSpace(ev.ProviderRef) == "" {
		return nil, fmt.Errorf("%w: renewal provider_ref is required", ErrInvalidInput)
	}
	if ev.PeriodEnd.IsZero() || (!ev.PeriodStart.IsZero() && !ev.PeriodEnd.After(ev.PeriodStart)) {
		return nil, fmt.Errorf("%w: renewal period end must be after start", ErrInvalidInput)
	}

	result := &ApplyResult{}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sub, err := s.lockSubscription(tx, ev.Provider, ev.ProviderSubscriptionID, ev.SubscriptionNo)
		if err != nil {
			return err
		}
		result.Subscription = sub
		if sub.Status != constants.SubscriptionStatusActive {
			return ErrSubscriptionNotActive
		}
		orderRepo := s.orderRepo.WithTx(tx)
		existing, err := orderRepo.GetByProviderRef(sub.Provider, strings.TrimSpace(ev.ProviderRef), constants.OrderSourceRenewal)
		if err != nil {
			return err
		}
		if existing != nil {
			result.Order = existing
			return nil
		}
		periodStart := ev.PeriodStart
		if periodStart.IsZero() {
			periodStart = sub.CurrentPeriodEnd
		}
		if !ev.PeriodEnd.After(sub.CurrentPeriodEnd) {
			// 周期未推进，视为已处理
			return nil
		}

		now := s.now()
		currency := strings.ToUpper(strings.TrimSpace(ev.Currency))
		if currency == "" {
			currency = constants.DefaultCurrency
		}
		order := &models.Order{
			OrderNo:          generateOrderNo(now),
			UserID:           sub.UserID,
			Status:           constants.OrderStatusPaid,
			Source:           constants.OrderSourceRenewal,
			Amount:           ev.Amount,
			Currency:         currency,
			ProductID:        sub.PlanID,
			Credits:          sub.CreditsAmount,
			CreditsValidDays: sub.CreditsValidDays,
			PaymentProvider:  sub.Provider,
			ProviderRef:      strings.TrimSpace(ev.ProviderRef),
			PaymentPayload:   ev.PaymentInfo,
			SubscriptionID:   &sub.ID,
			PaidAt:           &now,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		if err := orderRepo.Create(order); err != nil {
			return err
		}
		result.Order = order

		if sub.CreditsAmount > 0 {
			expiresAt := ev.PeriodEnd
			if sub.CreditsValidDays > 0 {
				expiresAt = now.AddDate(0, 0, sub.CreditsValidDays)
			}
			txn, err := s.credits.GrantTx(tx, GrantInput{
				UserID:        sub.UserID,
				Credits:       sub.CreditsAmount,
				Scene:         constants.CreditSceneRenewal,
				ExpiresAt:     &expiresAt,
				ReferenceType: constants.CreditRefOrder,
				ReferenceID:   order.OrderNo,
			})
			if err != nil {
				return err
			}
			order.CreditTxnID = &txn.ID
			if err := orderRepo.Update(order); err != nil {
				return err
			}
			result.CreditTxn = txn
		}
		if err := s.subscriptions.RenewTx(tx, sub, periodStart, ev.PeriodEnd); err != nil {
			return err
		}
		result.Applied = true
		return nil
	})
	if err != nil {
		log.Warnw("payment_renewal_apply_failed", "error", err)
		metrics.PaymentEvents.WithLabelValues(payment.EventKindRenewal, constants.PaymentEventSuccess, "error").Inc()
		return nil, err
	}
	if !result.Applied {
		log.Infow("payment_renewal_duplicate")
		metrics.PaymentEvents.WithLabelValues(payment.EventKindRenewal, constants.PaymentEventSuccess, "duplicate").Inc()
		return result, nil
	}
	log.Infow("payment_renewal_applied",
		"order_no", result.Order.OrderNo,
		"period_end", result.Subscription.CurrentPeriodEnd,
	)
	metrics.PaymentEvents.WithLabelValues(payment.EventKindRenewal, constants.PaymentEventSuccess, "applied").Inc()
	s.credits.AfterCommit(ctx, result.Subscription.UserID)
	s.scheduleAccrual(ctx, result.Order)
	return result, nil
}

// ApplyUpdate 同步渠道订阅字段，不产生账务
func (s *PaymentEventService) ApplyUpdate(ctx context.Context, ev payment.UpdateEvent) (*ApplyResult, error) {
	result := &ApplyResult{}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sub, err := s.lockSubscription(tx, ev.Provider, ev.ProviderSubscriptionID, ev.SubscriptionNo)
		if err != nil {
			return err
		}
		result.Subscription = sub
		if sub.Status != constants.SubscriptionStatusActive {
			// 终态订阅忽略迟到的更新
			return nil
		}
		if err := s.subscriptions.UpdateTx(tx, sub, SubscriptionUpdate{
			PeriodStart:       ev.PeriodStart,
			PeriodEnd:         ev.PeriodEnd,
			CancelAtPeriodEnd: ev.CancelAtPeriodEnd,
		}); err != nil {
			return err
		}
		result.Applied = true
		return nil
	})
	if err != nil {
		metrics.PaymentEvents.WithLabelValues(payment.EventKindUpdate, "", "error").Inc()
		return nil, err
	}
	metrics.PaymentEvents.WithLabelValues(payment.EventKindUpdate, "", appliedOutcome(result.Applied)).Inc()
	logger.FromContext(ctx).Infow("payment_subscription_updated",
		"subscription_no", result.Subscription.SubscriptionNo,
		"applied", result.Applied,
	)
	return result, nil
}

// ApplyCancel 渠道侧取消：active -> canceled，重复取消为空操作
func (s *PaymentEventService) ApplyCancel(ctx context.Context, ev payment.CancelEvent) (*ApplyResult, error) {
	result := &ApplyResult{}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sub, err := s.lockSubscription(tx, ev.Provider, ev.ProviderSubscriptionID, ev.SubscriptionNo)
		if err != nil {
			return err
		}
		result.Subscription = sub
		if sub.Status != constants.SubscriptionStatusActive {
			return nil
		}
		if err := s.subscriptions.CancelTx(tx, sub, ev.CanceledAt); err != nil {
			return err
		}
		result.Applied = true
		return nil
	})
	if err != nil {
		metrics.PaymentEvents.WithLabelValues(payment.EventKindCancel, "", "error").Inc()
		return nil, err
	}
	metrics.PaymentEvents.WithLabelValues(payment.EventKindCancel, "", appliedOutcome(result.Applied)).Inc()
	logger.FromContext(ctx).Infow("payment_subscription_canceled",
		"subscription_no", result.Subscription.SubscriptionNo,
		"applied", result.Applied,
	)
	return result, nil
}

func (s *PaymentEventService) lockSubscription(tx *gorm.DB, provider, providerSubID, subscriptionNo string) (*models.Subscription, error) {
	repo := s.subRepo.WithTx(tx)
	var (
		sub *models.Subscription
		err error
	)
	switch {
	case strings.TrimSpace(subscriptionNo) != "":
		sub, err = repo.GetBySubscriptionNoForUpdate(strings.TrimSpace(subscriptionNo))
	case strings.TrimSpace(providerSubID) != "":
		sub, err = repo.GetByProviderSubscriptionIDForUpdate(strings.TrimSpace(provider), strings.TrimSpace(providerSubID))
	default:
		return nil, fmt.Errorf("%w: subscription reference is required", ErrInvalidInput)
	}
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, ErrSubscriptionNotFound
	}
	return sub, nil
}

// HandleWebhook 验签并分发渠道回调
func (s *PaymentEventService) HandleWebhook(ctx context.Context, providerName string, headers map[string]string, body []byte) (*ApplyResult, error) {
	log := logger.FromContext(ctx).With("provider", providerName, "body_size", len(body))
	provider, err := s.registry.Get(providerName)
	if err != nil {
		log.Warnw("payment_webhook_provider_not_found")
		return nil, fmt.Errorf("%w: %s", ErrProviderUnavailable, providerName)
	}
	event, err := provider.VerifyWebhook(ctx, headers, body)
	if err != nil {
		log.Warnw("payment_webhook_verify_failed", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrWebhookInvalid, err)
	}
	log.Infow("payment_webhook_event_parsed", "event_id", event.EventID, "event_type", event.Type, "kind", event.Kind)

	switch event.Kind {
	case payment.EventKindPayment:
		return s.ApplyPaymentEvent(ctx, *event.Payment)
	case payment.EventKindRenewal:
		return s.ApplyRenewal(ctx, *event.Renewal)
	case payment.EventKindUpdate:
		return s.ApplyUpdate(ctx, *event.Update)
	case payment.EventKindCancel:
		return s.ApplyCancel(ctx, *event.Cancel)
	default:
		log.Infow("payment_webhook_event_ignored", "event_id", event.EventID, "event_type", event.Type)
		return &ApplyResult{}, nil
	}
}

// CheckoutInput 下单参数
type CheckoutInput struct {
	UserID     uint
	PlanID     string
	Provider   string
	ClientIP   string
	SuccessURL string
	CancelURL  string
}

// CheckoutOutput 下单结果
type CheckoutOutput struct {
	Order  *models.Order `json:"order"`
	PayURL string        `json:"pay_url,omitempty"`
	QRCode string        `json:"qr_code,omitempty"`
}

// CreateCheckout 新建待支付订单，渠道调用在事务外完成
func (s *PaymentEventService) CreateCheckout(ctx context.Context, input CheckoutInput) (*CheckoutOutput, error) {
	if input.UserID == 0 {
		return nil, fmt.Errorf("%w: user is required", ErrInvalidInput)
	}
	plan, err := s.planRepo.WithTx(s.db.WithContext(ctx)).GetByPlanID(strings.TrimSpace(input.PlanID))
	if err != nil {
		return nil, err
	}
	if plan == nil || !plan.IsActive {
		return nil, ErrInvalidPlan
	}
	if plan.Price.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("%w: plan has no price", ErrInvalidPlan)
	}
	provider, err := s.registry.Get(input.Provider)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrProviderUnavailable, input.Provider)
	}

	now := s.now()
	order := &models.Order{
		OrderNo:          generateOrderNo(now),
		UserID:           input.UserID,
		Status:           constants.OrderStatusPending,
		Source:           constants.OrderSourceCheckout,
		Amount:           plan.Price,
		Currency:         plan.Currency,
		ProductID:        plan.PlanID,
		Credits:          plan.CreditsAmount,
		CreditsValidDays: plan.CreditsValidDays,
		PaymentProvider:  provider.Name(),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	orderRepo := s.orderRepo.WithTx(s.db.WithContext(ctx))
	if err := orderRepo.Create(order); err != nil {
		return nil, err
	}

	checkout, err := provider.CreateCheckout(ctx, payment.CheckoutRequest{
		OrderNo:       order.OrderNo,
		Subject:       plan.Name,
		Amount:        plan.Price,
		Currency:      plan.Currency,
		PlanID:        plan.PlanID,
		Interval:      plan.Interval,
		IntervalCount: plan.IntervalCount,
		ClientIP:      input.ClientIP,
		SuccessURL:    input.SuccessURL,
		CancelURL:     input.CancelURL,
	})
	if err != nil {
		logger.FromContext(ctx).Warnw("payment_checkout_failed",
			"order_no", order.OrderNo,
			"provider", provider.Name(),
			"error", err,
		)
		failedAt := s.now()
		order.Status = constants.OrderStatusFailed
		order.FailedAt = &failedAt
		if updateErr := orderRepo.Update(order); updateErr != nil {
			logger.FromContext(ctx).Errorw("payment_checkout_mark_failed_error", "order_no", order.OrderNo, "error", updateErr)
		}
		return nil, fmt.Errorf("%w: %v", ErrCheckoutFailed, err)
	}
	order.ProviderRef = checkout.ProviderRef
	order.PaymentPayload = checkout.Raw
	order.UpdatedAt = s.now()
	if err := orderRepo.Update(order); err != nil {
		return nil, err
	}
	logger.FromContext(ctx).Infow("payment_checkout_created",
		"order_no", order.OrderNo,
		"provider", provider.Name(),
		"plan_id", plan.PlanID,
	)
	return &CheckoutOutput{Order: order, PayURL: checkout.PayURL, QRCode: checkout.QRCode}, nil
}

// CancelSubscription 用户主动取消当前订阅，先通知渠道再落库
func (s *PaymentEventService) CancelSubscription(ctx context.Context, userID uint) (*models.Subscription, error) {
	current, err := s.subscriptions.Current(ctx, userID)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, ErrSubscriptionNotFound
	}
	if current.ProviderSubscriptionID != "" {
		provider, err := s.registry.Get(current.Provider)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrProviderUnavailable, current.Provider)
		}
		if err := provider.Cancel(ctx, current.ProviderSubscriptionID); err != nil && !errors.Is(err, payment.ErrNotSupported) {
			return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
		}
	}
	result, err := s.ApplyCancel(ctx, payment.CancelEvent{
		SubscriptionNo: current.SubscriptionNo,
		CanceledAt:     s.now(),
	})
	if err != nil {
		return nil, err
	}
	return result.Subscription, nil
}

// ResumeSubscription 撤销到期取消，由渠道恢复自动续费后同步本地标记
func (s *PaymentEventService) ResumeSubscription(ctx context.Context, userID uint) (*models.Subscription, error) {
	current, err := s.subscriptions.Current(ctx, userID)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, ErrSubscriptionNotFound
	}
	if !current.CancelAtPeriodEnd {
		return current, nil
	}
	// 一次性支付或兑换得到的订阅没有渠道续费能力
	if current.ProviderSubscriptionID == "" {
		return nil, fmt.Errorf("%w: subscription has no renewing provider", ErrInvalidTransition)
	}
	provider, err := s.registry.Get(current.Provider)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrProviderUnavailable, current.Provider)
	}
	if err := provider.Renew(ctx, current.ProviderSubscriptionID); err != nil {
		if errors.Is(err, payment.ErrNotSupported) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidTransition, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	resume := false
	result, err := s.ApplyUpdate(ctx, payment.UpdateEvent{
		SubscriptionNo:    current.SubscriptionNo,
		CancelAtPeriodEnd: &resume,
	})
	if err != nil {
		return nil, err
	}
	return result.Subscription, nil
}

// scheduleAccrual 支付提交后计提佣金；队列不可用时同步执行
func (s *PaymentEventService) scheduleAccrual(ctx context.Context, order *models.Order) {
	if order == nil || order.Amount.LessThanOrEqual(decimal.Zero) {
		return
	}
	if s.queueClient.Enabled() {
		err := s.queueClient.EnqueueCommissionAccrue(queue.CommissionAccruePayload{OrderID: order.ID})
		if err == nil {
			return
		}
		logger.FromContext(ctx).Warnw("commission_accrue_enqueue_failed", "order_id", order.ID, "error", err)
	}
	if s.commissions == nil {
		return
	}
	if _, _, err := s.commissions.AccrueForOrder(ctx, order.ID); err != nil {
		logger.FromContext(ctx).Errorw("commission_accrue_inline_failed", "order_id", order.ID, "error", err)
	}
}

func appliedOutcome(applied bool) string {
	if applied {
		return "applied"
	}
	return "duplicate"
}
