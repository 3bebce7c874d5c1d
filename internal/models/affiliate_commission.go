package models

import "time"

// AffiliateCommission 佣金入账，(affiliate_profile_id, order_id) 唯一
type AffiliateCommission struct {
	ID                 uint      `gorm:"primarykey" json:"id"`                                                                  // 主键
	AffiliateProfileID uint      `gorm:"not null;index;uniqueIndex:idx_affiliate_commission_order" json:"affiliate_profile_id"` // 推广账户
	OrderID            uint      `gorm:"not null;uniqueIndex:idx_affiliate_commission_order" json:"order_id"`                   // 订单ID
	BaseAmount         Money     `gorm:"type:decimal(20,2);not null;default:0" json:"base_amount"`                              // 佣金基数
	RatePercent        Money     `gorm:"type:decimal(10,2);not null;default:0" json:"rate_percent"`                             // 佣金比例
	CommissionAmount   Money     `gorm:"type:decimal(20,2);not null;default:0" json:"commission_amount"`                        // 佣金金额
	CreatedAt          time.Time `gorm:"index" json:"created_at"`                                                               // 入账时间
}

// TableName 指定表名
func (AffiliateCommission) TableName() string {
	return "affiliate_commissions"
}

// WithdrawRequest 提现申请
type WithdrawRequest struct {
	ID                 uint       `gorm:"primarykey" json:"id"`                          // 主键
	AffiliateProfileID uint       `gorm:"not null;index" json:"affiliate_profile_id"`    // 推广账户
	Amount             Money      `gorm:"type:decimal(20,2);not null" json:"amount"`     // 申请金额
	Status             string     `gorm:"type:varchar(16);not null;index" json:"status"` // pending / approved / rejected / paid
	PayoutMethod       Payload    `gorm:"type:text" json:"-"`                            // 申请时的收款方式快照
	RejectReason       string     `gorm:"type:varchar(255)" json:"reject_reason"`        // 驳回原因
	ReviewedBy         *uint      `gorm:"index" json:"reviewed_by,omitempty"`            // 处理管理员
	ApprovedAt         *time.Time `json:"approved_at,omitempty"`                         // 审核通过时间
	PaidAt             *time.Time `json:"paid_at,omitempty"`                             // 打款时间
	RejectedAt         *time.Time `json:"rejected_at,omitempty"`                         // 驳回时间
	CreatedAt          time.Time  `gorm:"index" json:"created_at"`                       // 申请时间
	UpdatedAt          time.Time  `json:"updated_at"`                                    // 更新时间
}

// TableName 指定表名
func (WithdrawRequest) TableName() string {
	return "affiliate_withdraw_requests"
}
