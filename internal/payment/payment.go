package payment

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/credit-ledger/internal/models"
)

var (
	ErrProviderNotFound = errors.New("payment provider not registered")
	ErrNotSupported     = errors.New("payment operation not supported")
)

// Webhook 事件种类
const (
	EventKindPayment = "payment"
	EventKindRenewal = "renewal"
	EventKindUpdate  = "update"
	EventKindCancel  = "cancel"
	EventKindIgnored = "ignored"
)

// SubscriptionInfo 首次支付携带的订阅信息，周期为零值时按套餐模板推算
type SubscriptionInfo struct {
	Status                 string
	Interval               string
	IntervalCount          int
	CurrentPeriodStart     time.Time
	CurrentPeriodEnd       time.Time
	Amount                 models.Money
	Currency               string
	ProviderSubscriptionID string
}

// PaymentEvent 渠道无关的支付结果事件
type PaymentEvent struct {
	OrderNo      string
	Status       string
	Provider     string
	ProviderRef  string
	Amount       models.Money
	Currency     string
	PaidAt       *time.Time
	PaymentInfo  models.Payload
	Subscription *SubscriptionInfo
}

// RenewalEvent 订阅续费扣款成功
type RenewalEvent struct {
	Provider               string
	ProviderSubscriptionID string
	SubscriptionNo         string
	ProviderRef            string
	PeriodStart            time.Time
	PeriodEnd              time.Time
	Amount                 models.Money
	Currency               string
	PaymentInfo            models.Payload
}

// UpdateEvent 订阅字段变更，不产生账务
type UpdateEvent struct {
	Provider               string
	ProviderSubscriptionID string
	SubscriptionNo         string
	PeriodStart            *time.Time
	PeriodEnd              *time.Time
	CancelAtPeriodEnd      *bool
}

// CancelEvent 渠道侧取消订阅
type CancelEvent struct {
	Provider               string
	ProviderSubscriptionID string
	SubscriptionNo         string
	CanceledAt             time.Time
}

// WebhookEvent 验签后的回调，按 Kind 取对应字段
type WebhookEvent struct {
	Kind    string
	EventID string
	Type    string
	Payment *PaymentEvent
	Renewal *RenewalEvent
	Update  *UpdateEvent
	Cancel  *CancelEvent
}

// CheckoutRequest 创建支付参数
type CheckoutRequest struct {
	OrderNo       string
	Subject       string
	Amount        models.Money
	Currency      string
	PlanID        string
	Interval      string
	IntervalCount int
	ClientIP      string
	SuccessURL    string
	CancelURL     string
}

// Recurring 是否为周期扣款
func (r CheckoutRequest) Recurring() bool {
	return r.Interval != "" && r.IntervalCount > 0
}

// CheckoutResult 创建支付结果
type CheckoutResult struct {
	ProviderRef string
	PayURL      string
	QRCode      string
	Raw         models.Payload
}

// Provider 支付渠道适配器
type Provider interface {
	Name() string
	CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error)
	VerifyWebhook(ctx context.Context, headers map[string]string, body []byte) (*WebhookEvent, error)
	// Renew 恢复渠道侧自动续费
	Renew(ctx context.Context, providerSubscriptionID string) error
	Cancel(ctx context.Context, providerSubscriptionID string) error
}

// Registry 启动时构建的渠道注册表
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry 创建注册表
func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		r.Register(p)
	}
	return r
}

// Register 注册渠道，同名覆盖
func (r *Registry) Register(p Provider) {
	if p == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[normalizeName(p.Name())] = p
}

// Get 按名称获取渠道
func (r *Registry) Get(name string) (Provider, error) {
	if r == nil {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotFound, name)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[normalizeName(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotFound, name)
	}
	return p, nil
}

// Names 已注册渠道
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// HeaderValue 大小写无关读取请求头
func HeaderValue(headers map[string]string, key string) string {
	for h, value := range headers {
		if strings.EqualFold(strings.TrimSpace(h), key) {
			return strings.TrimSpace(value)
		}
	}
	return ""
}
