package constants

// 兑换码类型
const (
	RedemptionTypeCredits    = "credits"
	RedemptionTypeMembership = "membership"
)

// 兑换码状态
const (
	RedemptionStatusActive   = "active"
	RedemptionStatusUsed     = "used"
	RedemptionStatusDisabled = "disabled"
)

// 订单状态
const (
	OrderStatusPending = "pending"
	OrderStatusPaid    = "paid"
	OrderStatusFailed  = "failed"
)

// 订单来源
const (
	OrderSourceCheckout   = "checkout"
	OrderSourceRedemption = "redemption"
	OrderSourceRenewal    = "renewal"
)

// 订阅状态
const (
	SubscriptionStatusActive   = "active"
	SubscriptionStatusExpired  = "expired"
	SubscriptionStatusCanceled = "canceled"
)

// 套餐周期
const (
	PlanIntervalDay   = "day"
	PlanIntervalWeek  = "week"
	PlanIntervalMonth = "month"
	PlanIntervalYear  = "year"
)

// 积分流水类型
const (
	CreditTxnTypeGrant   = "grant"
	CreditTxnTypeConsume = "consume"
)

// 积分流水场景
const (
	CreditSceneRedemption   = "redemption"
	CreditScenePayment      = "payment"
	CreditSceneSubscription = "subscription"
	CreditSceneRenewal      = "renewal"
	CreditSceneAdmin        = "admin"
	CreditSceneUsage        = "usage"
)

// 积分流水关联对象
const (
	CreditRefOrder          = "order"
	CreditRefRedemptionCode = "redemption_code"
	CreditRefAdmin          = "admin"
)

// 支付事件状态（渠道适配器归一化后的值）
const (
	PaymentEventSuccess    = "SUCCESS"
	PaymentEventFailed     = "FAILED"
	PaymentEventCanceled   = "CANCELED"
	PaymentEventProcessing = "PROCESSING"
)

// 支付渠道
const (
	PaymentProviderStripe    = "stripe"
	PaymentProviderWechatPay = "wechatpay"
	PaymentProviderInternal  = "internal"
)

// 推广账户状态
const (
	AffiliateStatusActive   = "active"
	AffiliateStatusDisabled = "disabled"
)

// 提现申请状态
const (
	WithdrawStatusPending  = "pending"
	WithdrawStatusApproved = "approved"
	WithdrawStatusRejected = "rejected"
	WithdrawStatusPaid     = "paid"
)

// 后台权限
const (
	PermissionRedemptionIssue = "redemption:issue"
	PermissionRedemptionView  = "redemption:view"
	PermissionCreditGrant     = "credit:grant"
	PermissionWithdrawReview  = "withdraw:review"
	PermissionWithdrawPayout  = "withdraw:payout"
)

// 默认币种
const DefaultCurrency = "USD"

// 异步任务
const (
	QueueCritical                = "critical"
	QueueDefault                 = "default"
	TaskCommissionAccrue         = "commission:accrue"
	TaskSubscriptionExpireLapsed = "subscription:expire_lapsed"
)
