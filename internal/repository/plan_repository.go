package repository

import (
	"strings"

	"github.com/credit-ledger/internal/models"

	"gorm.io/gorm"
)

// PlanRepository 套餐数据访问接口
type PlanRepository interface {
	GetByPlanID(planID string) (*models.Plan, error)
	ListActive() ([]models.Plan, error)
	WithTx(tx *gorm.DB) *GormPlanRepository
}

// GormPlanRepository GORM 实现
type GormPlanRepository struct {
	db *gorm.DB
}

// NewPlanRepository 创建套餐仓储
func NewPlanRepository(db *gorm.DB) *GormPlanRepository {
	return &GormPlanRepository{db: db}
}

// WithTx 绑定事务
func (r *GormPlanRepository) WithTx(tx *gorm.DB) *GormPlanRepository {
	if tx == nil {
		return r
	}
	return &GormPlanRepository{db: tx}
}

// GetByPlanID 按套餐标识查询
func (r *GormPlanRepository) GetByPlanID(planID string) (*models.Plan, error) {
	planID = strings.TrimSpace(planID)
	if planID == "" {
		return nil, nil
	}
	return firstOrNil[models.Plan](r.db.Where("plan_id = ?", planID))
}

// ListActive 可售套餐
func (r *GormPlanRepository) ListActive() ([]models.Plan, error) {
	var plans []models.Plan
	if err := r.db.Where("is_active = ?", true).Order("id asc").Find(&plans).Error; err != nil {
		return nil, err
	}
	return plans, nil
}
