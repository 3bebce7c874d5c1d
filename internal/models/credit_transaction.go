package models

import "time"

// CreditTransaction 积分流水，只追加；仅 grant 的 remaining_credits 单调递减
type CreditTransaction struct {
	ID               uint       `gorm:"primarykey" json:"id"`                                                 // 主键
	TransactionNo    string     `gorm:"type:varchar(48);uniqueIndex;not null" json:"transaction_no"`          // 流水号
	UserID           uint       `gorm:"not null;index:idx_credit_txn_user_type" json:"user_id"`               // 用户ID
	Type             string     `gorm:"type:varchar(16);not null;index:idx_credit_txn_user_type" json:"type"` // grant / consume
	Scene            string     `gorm:"type:varchar(32);not null;index" json:"scene"`                         // 业务场景
	Credits          int64      `gorm:"not null" json:"credits"`                                              // 积分数量（绝对值）
	RemainingCredits int64      `gorm:"not null;default:0" json:"remaining_credits"`                          // 未消耗部分（仅 grant）
	ExpiresAt        *time.Time `gorm:"index" json:"expires_at"`                                              // 过期时间，空表示永久
	ReferenceType    string     `gorm:"type:varchar(32);index:idx_credit_txn_ref" json:"reference_type"`      // 关联对象类型
	ReferenceID      string     `gorm:"type:varchar(64);index:idx_credit_txn_ref" json:"reference_id"`        // 关联对象标识
	Remark           string     `gorm:"type:varchar(255)" json:"remark"`                                      // 备注
	CreatedAt        time.Time  `gorm:"index" json:"created_at"`                                              // 创建时间
	UpdatedAt        time.Time  `json:"updated_at"`                                                           // 更新时间
}

// TableName 指定表名
func (CreditTransaction) TableName() string {
	return "credit_transactions"
}

// ActiveAt grant 在 at 时刻是否仍可用
func (t CreditTransaction) ActiveAt(at time.Time) bool {
	if t.Type != "grant" || t.RemainingCredits <= 0 {
		return false
	}
	return t.ExpiresAt == nil || t.ExpiresAt.After(at)
}

// CreditConsumption 消耗明细：一次 consume 从哪条 grant 扣了多少
type CreditConsumption struct {
	ID           uint      `gorm:"primarykey" json:"id"`                 // 主键
	ConsumeTxnID uint      `gorm:"not null;index" json:"consume_txn_id"` // 消耗流水
	GrantTxnID   uint      `gorm:"not null;index" json:"grant_txn_id"`   // 来源发放流水
	UserID       uint      `gorm:"not null;index" json:"user_id"`        // 用户ID
	Credits      int64     `gorm:"not null" json:"credits"`              // 扣减数量
	CreatedAt    time.Time `json:"created_at"`                           // 创建时间
}

// TableName 指定表名
func (CreditConsumption) TableName() string {
	return "credit_consumptions"
}
