package repository

import (
	"strings"

	"github.com/credit-ledger/internal/models"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// WithdrawListFilter 提现申请筛选
type WithdrawListFilter struct {
	AffiliateProfileID uint
	Status             string
	Page               int
	PageSize           int
}

// AffiliateRepository 推广佣金数据访问接口
type AffiliateRepository interface {
	GetProfileByID(id uint) (*models.AffiliateProfile, error)
	GetProfileByUserID(userID uint) (*models.AffiliateProfile, error)
	GetProfileByUserIDForUpdate(userID uint) (*models.AffiliateProfile, error)
	GetProfileByCode(code string) (*models.AffiliateProfile, error)
	CreateProfile(profile *models.AffiliateProfile) error
	GetReferralByUserID(userID uint) (*models.AffiliateReferral, error)
	CreateReferral(referral *models.AffiliateReferral) error
	CreateCommissionIfAbsent(commission *models.AffiliateCommission) (bool, error)
	SumCommission(profileID uint) (decimal.Decimal, error)
	SumWithdraw(profileID uint, statuses []string) (decimal.Decimal, error)
	CreateWithdraw(req *models.WithdrawRequest) error
	UpdateWithdraw(req *models.WithdrawRequest) error
	GetWithdrawByID(id uint) (*models.WithdrawRequest, error)
	GetWithdrawByIDForUpdate(id uint) (*models.WithdrawRequest, error)
	ListWithdraws(filter WithdrawListFilter) ([]models.WithdrawRequest, int64, error)
	WithTx(tx *gorm.DB) *GormAffiliateRepository
}

// GormAffiliateRepository GORM 实现
type GormAffiliateRepository struct {
	db *gorm.DB
}

// NewAffiliateRepository 创建推广仓储
func NewAffiliateRepository(db *gorm.DB) *GormAffiliateRepository {
	return &GormAffiliateRepository{db: db}
}

// WithTx 绑定事务
func (r *GormAffiliateRepository) WithTx(tx *gorm.DB) *GormAffiliateRepository {
	if tx == nil {
		return r
	}
	return &GormAffiliateRepository{db: tx}
}

// GetProfileByID 按 ID 查询推广账户
func (r *GormAffiliateRepository) GetProfileByID(id uint) (*models.AffiliateProfile, error) {
	if id == 0 {
		return nil, nil
	}
	return firstOrNil[models.AffiliateProfile](r.db.Where("id = ?", id))
}

// GetProfileByUserID 按用户查询推广账户
func (r *GormAffiliateRepository) GetProfileByUserID(userID uint) (*models.AffiliateProfile, error) {
	if userID == 0 {
		return nil, nil
	}
	return firstOrNil[models.AffiliateProfile](r.db.Where("user_id = ?", userID))
}

// GetProfileByUserIDForUpdate 加锁查询推广账户，提现申请以此串行化
func (r *GormAffiliateRepository) GetProfileByUserIDForUpdate(userID uint) (*models.AffiliateProfile, error) {
	if userID == 0 {
		return nil, nil
	}
	return firstOrNil[models.AffiliateProfile](forUpdate(r.db).Where("user_id = ?", userID))
}

// GetProfileByCode 按推广码查询
func (r *GormAffiliateRepository) GetProfileByCode(code string) (*models.AffiliateProfile, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, nil
	}
	return firstOrNil[models.AffiliateProfile](r.db.Where("affiliate_code = ?", code))
}

// CreateProfile 创建推广账户
func (r *GormAffiliateRepository) CreateProfile(profile *models.AffiliateProfile) error {
	return r.db.Create(profile).Error
}

// GetReferralByUserID 查询用户的推广归属
func (r *GormAffiliateRepository) GetReferralByUserID(userID uint) (*models.AffiliateReferral, error) {
	if userID == 0 {
		return nil, nil
	}
	return firstOrNil[models.AffiliateReferral](r.db.Where("user_id = ?", userID))
}

// CreateReferral 绑定推广关系
func (r *GormAffiliateRepository) CreateReferral(referral *models.AffiliateReferral) error {
	return r.db.Create(referral).Error
}

// CreateCommissionIfAbsent 写入佣金，同一订单重复写入返回 false
func (r *GormAffiliateRepository) CreateCommissionIfAbsent(commission *models.AffiliateCommission) (bool, error) {
	result := r.db.Clauses(clause.OnConflict{DoNothing: true}).Create(commission)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// SumCommission 累计佣金
func (r *GormAffiliateRepository) SumCommission(profileID uint) (decimal.Decimal, error) {
	return sumDecimal(r.db.Model(&models.AffiliateCommission{}).
		Where("affiliate_profile_id = ?", profileID), "commission_amount")
}

// SumWithdraw 指定状态提现金额合计
func (r *GormAffiliateRepository) SumWithdraw(profileID uint, statuses []string) (decimal.Decimal, error) {
	if len(statuses) == 0 {
		return decimal.Zero, nil
	}
	return sumDecimal(r.db.Model(&models.WithdrawRequest{}).
		Where("affiliate_profile_id = ? AND status IN ?", profileID, statuses), "amount")
}

func sumDecimal(query *gorm.DB, column string) (decimal.Decimal, error) {
	var row struct {
		Total decimal.Decimal `gorm:"column:total"`
	}
	if err := query.Select("COALESCE(SUM(" + column + "), 0) AS total").Scan(&row).Error; err != nil {
		return decimal.Zero, err
	}
	return row.Total.Round(2), nil
}

// CreateWithdraw 创建提现申请
func (r *GormAffiliateRepository) CreateWithdraw(req *models.WithdrawRequest) error {
	return r.db.Create(req).Error
}

// UpdateWithdraw 更新提现申请
func (r *GormAffiliateRepository) UpdateWithdraw(req *models.WithdrawRequest) error {
	return r.db.Save(req).Error
}

// GetWithdrawByID 查询提现申请
func (r *GormAffiliateRepository) GetWithdrawByID(id uint) (*models.WithdrawRequest, error) {
	if id == 0 {
		return nil, nil
	}
	return firstOrNil[models.WithdrawRequest](r.db.Where("id = ?", id))
}

// GetWithdrawByIDForUpdate 加锁查询提现申请
func (r *GormAffiliateRepository) GetWithdrawByIDForUpdate(id uint) (*models.WithdrawRequest, error) {
	if id == 0 {
		return nil, nil
	}
	return firstOrNil[models.WithdrawRequest](forUpdate(r.db).Where("id = ?", id))
}

// ListWithdraws 提现申请分页
func (r *GormAffiliateRepository) ListWithdraws(filter WithdrawListFilter) ([]models.WithdrawRequest, int64, error) {
	query := r.db.Model(&models.WithdrawRequest{})
	if filter.AffiliateProfileID > 0 {
		query = query.Where("affiliate_profile_id = ?", filter.AffiliateProfileID)
	}
	if status := strings.TrimSpace(filter.Status); status != "" {
		query = query.Where("status = ?", status)
	}
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var rows []models.WithdrawRequest
	if err := applyPagination(query.Order("id desc"), filter.Page, filter.PageSize).Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}
