package models

import "time"

// Subscription 用户订阅，同一用户同一时刻至多一条 active
type Subscription struct {
	ID                     uint       `gorm:"primarykey" json:"id"`                                                                                                        // 主键
	SubscriptionNo         string     `gorm:"type:varchar(48);uniqueIndex;not null" json:"subscription_no"`                                                                // 订阅号
	UserID                 uint       `gorm:"not null;index:idx_subscription_user_status;uniqueIndex:idx_subscription_user_active,where:status = 'active'" json:"user_id"` // 用户ID，active 状态下唯一
	Status                 string     `gorm:"type:varchar(16);not null;index:idx_subscription_user_status" json:"status"`                                                  // active / expired / canceled
	PlanID                 string     `gorm:"type:varchar(64);not null;index" json:"plan_id"`                                                                              // 套餐
	Provider               string     `gorm:"type:varchar(32)" json:"provider"`                                                                                            // 渠道
	ProviderSubscriptionID string     `gorm:"type:varchar(128);index" json:"provider_subscription_id"`                                                                     // 渠道订阅号
	CurrentPeriodStart     time.Time  `gorm:"not null" json:"current_period_start"`                                                                                        // 当前周期开始
	CurrentPeriodEnd       time.Time  `gorm:"not null;index" json:"current_period_end"`                                                                                    // 当前周期结束
	CreditsAmount          int64      `gorm:"not null;default:0" json:"credits_amount"`                                                                                    // 续费积分模板
	CreditsValidDays       int        `gorm:"not null;default:0" json:"credits_valid_days"`                                                                                // 续费积分有效天数
	CancelAtPeriodEnd      bool       `gorm:"not null;default:false" json:"cancel_at_period_end"`                                                                          // 到期取消
	CanceledAt             *time.Time `json:"canceled_at,omitempty"`                                                                                                       // 取消时间
	ExpiredAt              *time.Time `json:"expired_at,omitempty"`                                                                                                        // 失效时间
	OriginOrderID          *uint      `gorm:"index" json:"origin_order_id,omitempty"`                                                                                      // 首单
	CreatedAt              time.Time  `gorm:"index" json:"created_at"`                                                                                                     // 创建时间
	UpdatedAt              time.Time  `json:"updated_at"`                                                                                                                  // 更新时间
}

// TableName 指定表名
func (Subscription) TableName() string {
	return "subscriptions"
}
