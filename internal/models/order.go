package models

import "time"

// Order 订单
type Order struct {
	ID               uint       `gorm:"primarykey" json:"id"`                                       // 主键
	OrderNo          string     `gorm:"type:varchar(48);uniqueIndex;not null" json:"order_no"`      // 订单号
	UserID           uint       `gorm:"not null;index" json:"user_id"`                              // 用户ID
	Status           string     `gorm:"type:varchar(16);not null;index" json:"status"`              // pending / paid / failed
	Source           string     `gorm:"type:varchar(16);not null;default:'checkout'" json:"source"` // 订单来源
	Amount           Money      `gorm:"type:decimal(20,2);not null;default:0" json:"amount"`        // 金额
	Currency         string     `gorm:"type:varchar(16);not null;default:'USD'" json:"currency"`    // 币种
	ProductID        string     `gorm:"type:varchar(64);index" json:"product_id"`                   // 商品（套餐）标识
	Credits          int64      `gorm:"not null;default:0" json:"credits"`                          // 支付成功时发放的积分
	CreditsValidDays int        `gorm:"not null;default:0" json:"credits_valid_days"`               // 积分有效天数
	PaymentProvider  string     `gorm:"type:varchar(32);index" json:"payment_provider"`             // 支付渠道
	ProviderRef      string     `gorm:"type:varchar(128);index" json:"provider_ref"`                // 渠道流水号
	PaymentPayload   Payload    `gorm:"type:text" json:"-"`                                         // 渠道原始回调
	SubscriptionID   *uint      `gorm:"index" json:"subscription_id,omitempty"`                     // 关联订阅
	CreditTxnID      *uint      `gorm:"index" json:"credit_txn_id,omitempty"`                       // 关联积分流水
	PaidAt           *time.Time `gorm:"index" json:"paid_at"`                                       // 支付时间
	FailedAt         *time.Time `json:"failed_at,omitempty"`                                        // 失败时间
	CreatedAt        time.Time  `gorm:"index" json:"created_at"`                                    // 创建时间
	UpdatedAt        time.Time  `json:"updated_at"`                                                 // 更新时间
}

// TableName 指定表名
func (Order) TableName() string {
	return "orders"
}
