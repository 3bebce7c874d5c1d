package repository

import (
	"time"

	"github.com/credit-ledger/internal/constants"
	"github.com/credit-ledger/internal/models"

	"gorm.io/gorm"
)

// 先到期先扣，永久积分排最后
const grantConsumeOrder = "CASE WHEN expires_at IS NULL THEN 1 ELSE 0 END ASC, expires_at ASC, id ASC"

// CreditTransactionListFilter 积分流水筛选
type CreditTransactionListFilter struct {
	UserID   uint
	Type     string
	Scene    string
	Page     int
	PageSize int
}

// CreditRepository 积分账本数据访问接口
type CreditRepository interface {
	CreateTransaction(txn *models.CreditTransaction) error
	CreateConsumptions(rows []models.CreditConsumption) error
	ListActiveGrantsForUpdate(userID uint, now time.Time) ([]models.CreditTransaction, error)
	ListActiveGrants(userID uint, now time.Time) ([]models.CreditTransaction, error)
	UpdateRemaining(id uint, remaining int64) error
	SumActiveRemaining(userID uint, now time.Time) (int64, error)
	GetTransactionByID(id uint) (*models.CreditTransaction, error)
	ListTransactions(filter CreditTransactionListFilter) ([]models.CreditTransaction, int64, error)
	ListConsumptions(consumeTxnID uint) ([]models.CreditConsumption, error)
	WithTx(tx *gorm.DB) *GormCreditRepository
}

// GormCreditRepository GORM 实现
type GormCreditRepository struct {
	db *gorm.DB
}

// NewCreditRepository 创建积分仓储
func NewCreditRepository(db *gorm.DB) *GormCreditRepository {
	return &GormCreditRepository{db: db}
}

// WithTx 绑定事务
func (r *GormCreditRepository) WithTx(tx *gorm.DB) *GormCreditRepository {
	if tx == nil {
		return r
	}
	return &GormCreditRepository{db: tx}
}

// CreateTransaction 追加流水
func (r *GormCreditRepository) CreateTransaction(txn *models.CreditTransaction) error {
	return r.db.Create(txn).Error
}

// CreateConsumptions 写入消耗明细
func (r *GormCreditRepository) CreateConsumptions(rows []models.CreditConsumption) error {
	if len(rows) == 0 {
		return nil
	}
	return r.db.Create(&rows).Error
}

func (r *GormCreditRepository) activeGrants(db *gorm.DB, userID uint, now time.Time) *gorm.DB {
	return db.Where("user_id = ? AND type = ? AND remaining_credits > 0", userID, constants.CreditTxnTypeGrant).
		Where("expires_at IS NULL OR expires_at > ?", now)
}

// ListActiveGrantsForUpdate 加锁读取可用发放记录，按到期顺序
func (r *GormCreditRepository) ListActiveGrantsForUpdate(userID uint, now time.Time) ([]models.CreditTransaction, error) {
	var grants []models.CreditTransaction
	err := r.activeGrants(forUpdate(r.db), userID, now).Order(grantConsumeOrder).Find(&grants).Error
	return grants, err
}

// ListActiveGrants 可用发放记录
func (r *GormCreditRepository) ListActiveGrants(userID uint, now time.Time) ([]models.CreditTransaction, error) {
	var grants []models.CreditTransaction
	err := r.activeGrants(r.db, userID, now).Order(grantConsumeOrder).Find(&grants).Error
	return grants, err
}

// UpdateRemaining 更新发放记录剩余积分，只允许减少
func (r *GormCreditRepository) UpdateRemaining(id uint, remaining int64) error {
	result := r.db.Model(&models.CreditTransaction{}).
		Where("id = ? AND type = ? AND remaining_credits >= ?", id, constants.CreditTxnTypeGrant, remaining).
		Updates(map[string]interface{}{"remaining_credits": remaining, "updated_at": time.Now()})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// SumActiveRemaining 从流水重新计算余额
func (r *GormCreditRepository) SumActiveRemaining(userID uint, now time.Time) (int64, error) {
	var total int64
	err := r.activeGrants(r.db.Model(&models.CreditTransaction{}), userID, now).
		Select("COALESCE(SUM(remaining_credits), 0)").
		Scan(&total).Error
	return total, err
}

// GetTransactionByID 按ID查询流水
func (r *GormCreditRepository) GetTransactionByID(id uint) (*models.CreditTransaction, error) {
	return firstOrNil[models.CreditTransaction](r.db.Where("id = ?", id))
}

// ListTransactions 流水分页
func (r *GormCreditRepository) ListTransactions(filter CreditTransactionListFilter) ([]models.CreditTransaction, int64, error) {
	query := r.db.Model(&models.CreditTransaction{})
	if filter.UserID > 0 {
		query = query.Where("user_id = ?", filter.UserID)
	}
	if filter.Type != "" {
		query = query.Where("type = ?", filter.Type)
	}
	if filter.Scene != "" {
		query = query.Where("scene = ?", filter.Scene)
	}
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var txns []models.CreditTransaction
	if err := applyPagination(query.Order("id desc"), filter.Page, filter.PageSize).Find(&txns).Error; err != nil {
		return nil, 0, err
	}
	return txns, total, nil
}

// ListConsumptions 一次消耗的明细
func (r *GormCreditRepository) ListConsumptions(consumeTxnID uint) ([]models.CreditConsumption, error) {
	var rows []models.CreditConsumption
	err := r.db.Where("consume_txn_id = ?", consumeTxnID).Order("id asc").Find(&rows).Error
	return rows, err
}
