package models

import "time"

// Plan 会员套餐
type Plan struct {
	ID               uint      `gorm:"primarykey" json:"id"`                                      // 主键
	PlanID           string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"plan_id"`      // 套餐标识，如 pro-yearly
	Name             string    `gorm:"type:varchar(120);not null" json:"name"`                    // 套餐名称
	Interval         string    `gorm:"type:varchar(16);not null;default:'month'" json:"interval"` // 计费周期单位
	IntervalCount    int       `gorm:"not null;default:1" json:"interval_count"`                  // 周期数量
	Price            Money     `gorm:"type:decimal(20,2);not null;default:0" json:"price"`        // 价格
	Currency         string    `gorm:"type:varchar(16);not null;default:'USD'" json:"currency"`   // 币种
	CreditsAmount    int64     `gorm:"not null;default:0" json:"credits_amount"`                  // 每周期赠送积分
	CreditsValidDays int       `gorm:"not null;default:0" json:"credits_valid_days"`              // 积分有效天数，0 跟随周期
	IsActive         bool      `gorm:"not null;index" json:"is_active"`                           // 是否可售
	CreatedAt        time.Time `gorm:"index" json:"created_at"`                                   // 创建时间
	UpdatedAt        time.Time `json:"updated_at"`                                                // 更新时间
}

// TableName 指定表名
func (Plan) TableName() string {
	return "plans"
}

// PeriodEnd 从 start 起推进 n 个周期
func (p Plan) PeriodEnd(start time.Time, periods int) time.Time {
	count := p.IntervalCount
	if count <= 0 {
		count = 1
	}
	count *= periods
	switch p.Interval {
	case "day":
		return start.AddDate(0, 0, count)
	case "week":
		return start.AddDate(0, 0, 7*count)
	case "year":
		return start.AddDate(count, 0, 0)
	default:
		return start.AddDate(0, count, 0)
	}
}

// PeriodDays 单个周期近似天数
func (p Plan) PeriodDays() int {
	start := time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC)
	return int(p.PeriodEnd(start, 1).Sub(start).Hours() / 24)
}
