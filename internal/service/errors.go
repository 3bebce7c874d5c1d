package service

import "errors"

// KindError 带分类码的业务错误，校验失败统一以此返回
type KindError struct {
	Kind    string
	Message string
}

func (e *KindError) Error() string {
	if e.Message == "" {
		return e.Kind
	}
	return e.Kind + ": " + e.Message
}

func kindError(kind, message string) *KindError {
	return &KindError{Kind: kind, Message: message}
}

// 兑换
var (
	ErrInvalidCode           = kindError("invalid_code", "redemption code not found")
	ErrCodeUsedOrExpired     = kindError("code_used_or_expired", "redemption code is no longer active")
	ErrCodeExpired           = kindError("code_expired", "redemption code has expired")
	ErrCodeUsageLimitReached = kindError("code_usage_limit_reached", "redemption code usage limit reached")
	ErrAlreadyRedeemed       = kindError("already_redeemed", "redemption code already redeemed by user")
	ErrCodeNotDisableable    = kindError("code_not_disableable", "only active codes can be disabled")
)

// 积分与套餐
var (
	ErrInsufficientCredits = kindError("insufficient_credits", "not enough credits")
	ErrInvalidPlan         = kindError("invalid_plan", "plan not found or inactive")
	ErrInvalidInput        = kindError("invalid_input", "invalid input")
	ErrCreditTxnNotFound   = kindError("credit_txn_not_found", "credit transaction not found")
)

// 权限
var ErrPermissionDenied = kindError("permission_denied", "permission denied")

// 支付事件
var (
	// ErrUnrecognizedEventStatus 未知事件状态，调用方必须告警而不是吞掉
	ErrUnrecognizedEventStatus = kindError("unrecognized_event_status", "payment event status not recognized")
	ErrOrderNotFound           = kindError("order_not_found", "order not found")
	ErrProviderUnavailable     = kindError("provider_unavailable", "payment provider not configured")
	ErrWebhookInvalid          = kindError("webhook_invalid", "webhook verification failed")
	ErrCheckoutFailed          = kindError("checkout_failed", "payment provider checkout failed")
	ErrPaymentAmountMismatch   = kindError("payment_amount_mismatch", "payment amount does not match order")
	ErrPaymentCurrencyMismatch = kindError("payment_currency_mismatch", "payment currency does not match order")
)

// 订阅
var (
	ErrSubscriptionNotFound  = kindError("subscription_not_found", "subscription not found")
	ErrSubscriptionNotActive = kindError("subscription_not_active", "subscription is not active")
	ErrInvalidTransition     = kindError("invalid_transition", "subscription transition not allowed")
)

// 佣金与提现
var (
	ErrAffiliateNotFound     = kindError("affiliate_not_found", "affiliate profile not found")
	ErrAffiliateDisabled     = kindError("affiliate_disabled", "affiliate profile disabled")
	ErrReferralExists        = kindError("referral_exists", "user already bound to an affiliate")
	ErrWithdrawInsufficient  = kindError("withdraw_insufficient", "withdraw amount exceeds available balance")
	ErrWithdrawNotFound      = kindError("withdraw_not_found", "withdraw request not found")
	ErrWithdrawStatusInvalid = kindError("withdraw_status_invalid", "withdraw status does not allow this action")
)

// 管理员
var (
	ErrAdminCredentials = kindError("invalid_credentials", "invalid username or password")
	ErrCaptchaInvalid   = kindError("captcha_invalid", "captcha verification failed")
)

// ErrorKind 返回错误分类码，非业务错误返回空串
func ErrorKind(err error) string {
	var kind *KindError
	if errors.As(err, &kind) {
		return kind.Kind
	}
	return ""
}

// IsFatal 是否为需要告警的致命错误
func IsFatal(err error) bool {
	return errors.Is(err, ErrUnrecognizedEventStatus)
}
