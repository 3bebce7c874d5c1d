package models

import "time"

// RedemptionCodeBatch 兑换码批次
type RedemptionCodeBatch struct {
	ID             uint       `gorm:"primarykey" json:"id"`                                  // 主键
	BatchNo        string     `gorm:"type:varchar(48);uniqueIndex;not null" json:"batch_no"` // 批次号
	Type           string     `gorm:"type:varchar(16);not null;index" json:"type"`           // 兑换码类型
	Credits        int64      `gorm:"not null;default:0" json:"credits"`                     // 单码积分数
	PlanID         string     `gorm:"type:varchar(64);index" json:"plan_id,omitempty"`       // 会员套餐
	MembershipDays int        `gorm:"not null;default:0" json:"membership_days"`             // 会员天数
	Quantity       int        `gorm:"not null;default:0" json:"quantity"`                    // 生成数量
	MaxUses        int        `gorm:"not null;default:1" json:"max_uses"`                    // 单码最大使用次数
	ExpiresAt      *time.Time `gorm:"index" json:"expires_at"`                               // 过期时间
	CreatedBy      *uint      `gorm:"index" json:"created_by,omitempty"`                     // 创建管理员ID
	CreatedAt      time.Time  `gorm:"index" json:"created_at"`                               // 创建时间
}

// TableName 指定表名
func (RedemptionCodeBatch) TableName() string {
	return "redemption_code_batches"
}

// RedemptionCode 兑换码
type RedemptionCode struct {
	ID                 uint       `gorm:"primarykey" json:"id"`                                           // 主键
	BatchID            *uint      `gorm:"index" json:"batch_id,omitempty"`                                // 批次ID
	CodeHash           string     `gorm:"type:char(64);uniqueIndex;not null" json:"-"`                    // 规范化兑换码的 SHA-256
	CodeHint           string     `gorm:"type:varchar(8);not null" json:"code_hint"`                      // 末 4 位，仅用于展示
	Type               string     `gorm:"type:varchar(16);not null;index" json:"type"`                    // credits / membership
	Credits            int64      `gorm:"not null;default:0" json:"credits"`                              // 赠送积分
	PlanID             string     `gorm:"type:varchar(64);index" json:"plan_id,omitempty"`                // 会员套餐
	MembershipDays     int        `gorm:"not null;default:0" json:"membership_days"`                      // 会员天数
	CreditValidityDays int        `gorm:"not null;default:0" json:"credit_validity_days"`                 // 积分有效天数，0 表示永久
	MaxUses            int        `gorm:"not null;default:1" json:"max_uses"`                             // 最大使用次数
	UsedCount          int        `gorm:"not null;default:0" json:"used_count"`                           // 已使用次数
	Status             string     `gorm:"type:varchar(16);not null;index;default:'active'" json:"status"` // 状态
	IssuedAt           time.Time  `gorm:"not null;index" json:"issued_at"`                                // 发放时间
	ExpiresAt          *time.Time `gorm:"index" json:"expires_at"`                                        // 过期时间
	CreatedAt          time.Time  `json:"created_at"`                                                     // 创建时间
	UpdatedAt          time.Time  `json:"updated_at"`                                                     // 更新时间
}

// TableName 指定表名
func (RedemptionCode) TableName() string {
	return "redemption_codes"
}

// RedemptionRecord 用户兑换记录，(code_id, user_id) 唯一
type RedemptionRecord struct {
	ID             uint      `gorm:"primarykey" json:"id"`                                               // 主键
	CodeID         uint      `gorm:"not null;uniqueIndex:idx_redemption_code_user" json:"code_id"`       // 兑换码ID
	UserID         uint      `gorm:"not null;uniqueIndex:idx_redemption_code_user;index" json:"user_id"` // 用户ID
	OrderID        *uint     `gorm:"index" json:"order_id,omitempty"`                                    // 会员订单
	SubscriptionID *uint     `gorm:"index" json:"subscription_id,omitempty"`                             // 会员订阅
	CreditTxnID    *uint     `gorm:"index" json:"credit_txn_id,omitempty"`                               // 积分流水
	RedeemedAt     time.Time `gorm:"not null;index" json:"redeemed_at"`                                  // 兑换时间
}

// TableName 指定表名
func (RedemptionRecord) TableName() string {
	return "redemption_records"
}
