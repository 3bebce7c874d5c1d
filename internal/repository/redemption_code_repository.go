package repository

import (
	"errors"
	"strings"

	"github.com/credit-ledger/internal/models"

	"gorm.io/gorm"
)

// RedemptionCodeListFilter 兑换码列表筛选
type RedemptionCodeListFilter struct {
	BatchID  uint
	Status   string
	Type     string
	Page     int
	PageSize int
}

// RedemptionCodeRepository 兑换码数据访问接口
type RedemptionCodeRepository interface {
	CreateBatch(batch *models.RedemptionCodeBatch, codes []models.RedemptionCode) error
	ExistingHashes(hashes []string) (map[string]struct{}, error)
	GetByID(id uint) (*models.RedemptionCode, error)
	GetByIDForUpdate(id uint) (*models.RedemptionCode, error)
	GetByHashForUpdate(hash string) (*models.RedemptionCode, error)
	Update(code *models.RedemptionCode) error
	List(filter RedemptionCodeListFilter) ([]models.RedemptionCode, int64, error)
	HasRecord(codeID, userID uint) (bool, error)
	CreateRecord(record *models.RedemptionRecord) error
	CountRecords(codeID uint) (int64, error)
	WithTx(tx *gorm.DB) *GormRedemptionCodeRepository
}

// GormRedemptionCodeRepository GORM 实现
type GormRedemptionCodeRepository struct {
	db *gorm.DB
}

// NewRedemptionCodeRepository 创建兑换码仓储
func NewRedemptionCodeRepository(db *gorm.DB) *GormRedemptionCodeRepository {
	return &GormRedemptionCodeRepository{db: db}
}

// WithTx 绑定事务
func (r *GormRedemptionCodeRepository) WithTx(tx *gorm.DB) *GormRedemptionCodeRepository {
	if tx == nil {
		return r
	}
	return &GormRedemptionCodeRepository{db: tx}
}

// CreateBatch 创建批次与兑换码
func (r *GormRedemptionCodeRepository) CreateBatch(batch *models.RedemptionCodeBatch, codes []models.RedemptionCode) error {
	if batch == nil {
		return errors.New("invalid redemption batch")
	}
	if err := r.db.Create(batch).Error; err != nil {
		return err
	}
	if len(codes) == 0 {
		return nil
	}
	for i := range codes {
		codes[i].BatchID = &batch.ID
	}
	return r.db.CreateInBatches(&codes, 200).Error
}

// ExistingHashes 返回库中已存在的哈希集合
func (r *GormRedemptionCodeRepository) ExistingHashes(hashes []string) (map[string]struct{}, error) {
	out := make(map[string]struct{})
	if len(hashes) == 0 {
		return out, nil
	}
	var existing []string
	if err := r.db.Model(&models.RedemptionCode{}).Where("code_hash IN ?", hashes).Pluck("code_hash", &existing).Error; err != nil {
		return nil, err
	}
	for _, hash := range existing {
		out[hash] = struct{}{}
	}
	return out, nil
}

// GetByID 按 ID 查询
func (r *GormRedemptionCodeRepository) GetByID(id uint) (*models.RedemptionCode, error) {
	if id == 0 {
		return nil, nil
	}
	return firstOrNil[models.RedemptionCode](r.db.Where("id = ?", id))
}

// GetByIDForUpdate 按 ID 加锁查询
func (r *GormRedemptionCodeRepository) GetByIDForUpdate(id uint) (*models.RedemptionCode, error) {
	if id == 0 {
		return nil, nil
	}
	return firstOrNil[models.RedemptionCode](forUpdate(r.db).Where("id = ?", id))
}

// GetByHashForUpdate 按兑换码哈希加锁查询
func (r *GormRedemptionCodeRepository) GetByHashForUpdate(hash string) (*models.RedemptionCode, error) {
	hash = strings.TrimSpace(hash)
	if hash == "" {
		return nil, nil
	}
	return firstOrNil[models.RedemptionCode](forUpdate(r.db).Where("code_hash = ?", hash))
}

// Update 更新兑换码
func (r *GormRedemptionCodeRepository) Update(code *models.RedemptionCode) error {
	return r.db.Save(code).Error
}

// List 分页查询
func (r *GormRedemptionCodeRepository) List(filter RedemptionCodeListFilter) ([]models.RedemptionCode, int64, error) {
	query := r.db.Model(&models.RedemptionCode{})
	if filter.BatchID > 0 {
		query = query.Where("batch_id = ?", filter.BatchID)
	}
	if status := strings.TrimSpace(filter.Status); status != "" {
		query = query.Where("status = ?", status)
	}
	if typ := strings.TrimSpace(filter.Type); typ != "" {
		query = query.Where("type = ?", typ)
	}
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var codes []models.RedemptionCode
	if err := applyPagination(query.Order("id desc"), filter.Page, filter.PageSize).Find(&codes).Error; err != nil {
		return nil, 0, err
	}
	return codes, total, nil
}

// HasRecord 用户是否已兑换过该码
func (r *GormRedemptionCodeRepository) HasRecord(codeID, userID uint) (bool, error) {
	var count int64
	if err := r.db.Model(&models.RedemptionRecord{}).
		Where("code_id = ? AND user_id = ?", codeID, userID).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// CreateRecord 写入兑换记录
func (r *GormRedemptionCodeRepository) CreateRecord(record *models.RedemptionRecord) error {
	return r.db.Create(record).Error
}

// CountRecords 兑换码的兑换记录数
func (r *GormRedemptionCodeRepository) CountRecords(codeID uint) (int64, error) {
	var count int64
	err := r.db.Model(&models.RedemptionRecord{}).Where("code_id = ?", codeID).Count(&count).Error
	return count, err
}
