package repository

import (
	"strings"
	"time"

	"github.com/credit-ledger/internal/constants"
	"github.com/credit-ledger/internal/models"

	"gorm.io/gorm"
)

// SubscriptionRepository 订阅数据访问接口
type SubscriptionRepository interface {
	Create(sub *models.Subscription) error
	Update(sub *models.Subscription) error
	GetActiveByUser(userID uint) (*models.Subscription, error)
	ListActiveByUserForUpdate(userID uint) ([]models.Subscription, error)
	GetBySubscriptionNoForUpdate(no string) (*models.Subscription, error)
	GetByProviderSubscriptionIDForUpdate(provider, providerSubID string) (*models.Subscription, error)
	LockUserSlot(userID uint) error
	ListLapsed(before time.Time, limit int) ([]models.Subscription, error)
	WithTx(tx *gorm.DB) *GormSubscriptionRepository
}

// GormSubscriptionRepository GORM 实现
type GormSubscriptionRepository struct {
	db *gorm.DB
}

// NewSubscriptionRepository 创建订阅仓储
func NewSubscriptionRepository(db *gorm.DB) *GormSubscriptionRepository {
	return &GormSubscriptionRepository{db: db}
}

// WithTx 绑定事务
func (r *GormSubscriptionRepository) WithTx(tx *gorm.DB) *GormSubscriptionRepository {
	if tx == nil {
		return r
	}
	return &GormSubscriptionRepository{db: tx}
}

// Create 创建订阅
func (r *GormSubscriptionRepository) Create(sub *models.Subscription) error {
	return r.db.Create(sub).Error
}

// Update 更新订阅
func (r *GormSubscriptionRepository) Update(sub *models.Subscription) error {
	return r.db.Save(sub).Error
}

// GetActiveByUser 用户当前生效订阅
func (r *GormSubscriptionRepository) GetActiveByUser(userID uint) (*models.Subscription, error) {
	if userID == 0 {
		return nil, nil
	}
	return firstOrNil[models.Subscription](r.db.
		Where("user_id = ? AND status = ?", userID, constants.SubscriptionStatusActive).
		Order("id desc"))
}

// ListActiveByUserForUpdate 加锁读取用户所有 active 订阅
func (r *GormSubscriptionRepository) ListActiveByUserForUpdate(userID uint) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := forUpdate(r.db).
		Where("user_id = ? AND status = ?", userID, constants.SubscriptionStatusActive).
		Order("id asc").
		Find(&subs).Error
	return subs, err
}

// GetBySubscriptionNoForUpdate 按订阅号加锁查询
func (r *GormSubscriptionRepository) GetBySubscriptionNoForUpdate(no string) (*models.Subscription, error) {
	no = strings.TrimSpace(no)
	if no == "" {
		return nil, nil
	}
	return firstOrNil[models.Subscription](forUpdate(r.db).Where("subscription_no = ?", no))
}

// GetByProviderSubscriptionIDForUpdate 按渠道订阅号加锁查询最新一条
func (r *GormSubscriptionRepository) GetByProviderSubscriptionIDForUpdate(provider, providerSubID string) (*models.Subscription, error) {
	providerSubID = strings.TrimSpace(providerSubID)
	if providerSubID == "" {
		return nil, nil
	}
	query := forUpdate(r.db).Where("provider_subscription_id = ?", providerSubID)
	if provider != "" {
		query = query.Where("provider = ?", provider)
	}
	return firstOrNil[models.Subscription](query.Order("id desc"))
}

// 订阅创建的 advisory lock 命名空间，高 32 位
const subscriptionSlotLockNamespace int64 = 0x53554253

// LockUserSlot 串行化同一用户的订阅创建，锁随事务结束释放
// PostgreSQL 使用事务级 advisory lock；SQLite 写事务本身已在库级串行
func (r *GormSubscriptionRepository) LockUserSlot(userID uint) error {
	if r.db.Dialector == nil || r.db.Dialector.Name() != "postgres" {
		return nil
	}
	key := subscriptionSlotLockNamespace<<32 | int64(uint32(userID))
	return r.db.Exec("SELECT pg_advisory_xact_lock(?)", key).Error
}

// ListLapsed 周期结束早于 before 的 active 订阅
func (r *GormSubscriptionRepository) ListLapsed(before time.Time, limit int) ([]models.Subscription, error) {
	if limit <= 0 {
		limit = 100
	}
	var subs []models.Subscription
	err := r.db.Where("status = ? AND current_period_end < ?", constants.SubscriptionStatusActive, before).
		Order("current_period_end asc").
		Limit(limit).
		Find(&subs).Error
	return subs, err
}
