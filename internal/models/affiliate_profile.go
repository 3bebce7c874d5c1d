package models

import "time"

// AffiliateProfile 推广账户
type AffiliateProfile struct {
	ID            uint      `gorm:"primarykey" json:"id"`                                      // 主键
	UserID        uint      `gorm:"not null;uniqueIndex" json:"user_id"`                       // 用户ID
	AffiliateCode string    `gorm:"type:varchar(32);not null;uniqueIndex" json:"code"`         // 推广码
	RatePercent   Money     `gorm:"type:decimal(10,2);not null;default:0" json:"rate_percent"` // 佣金比例，0 走默认配置
	Status        string    `gorm:"type:varchar(20);not null;index" json:"status"`             // 状态
	CreatedAt     time.Time `gorm:"index" json:"created_at"`                                   // 创建时间
	UpdatedAt     time.Time `json:"updated_at"`                                                // 更新时间
}

// TableName 指定表名
func (AffiliateProfile) TableName() string {
	return "affiliate_profiles"
}

// AffiliateReferral 被推广用户绑定关系
type AffiliateReferral struct {
	ID                 uint      `gorm:"primarykey" json:"id"`                       // 主键
	AffiliateProfileID uint      `gorm:"not null;index" json:"affiliate_profile_id"` // 推广账户
	UserID             uint      `gorm:"not null;uniqueIndex" json:"user_id"`        // 被推广用户
	CreatedAt          time.Time `json:"created_at"`                                 // 绑定时间
}

// TableName 指定表名
func (AffiliateReferral) TableName() string {
	return "affiliate_referrals"
}
