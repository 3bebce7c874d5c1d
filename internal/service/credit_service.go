package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/credit-ledger/internal/constants"
	"github.com/credit-ledger/internal/logger"
	"github.com/credit-ledger/internal/metrics"
	"github.com/credit-ledger/internal/models"
	"github.com/credit-ledger/internal/repository"

	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
)

// BalanceCache 余额读缓存，仅服务展示读取，账本才是事实来源
type BalanceCache interface {
	GetBalance(ctx context.Context, userID uint) (int64, bool, error)
	SetBalance(ctx context.Context, userID uint, balance int64) error
	DeleteBalance(ctx context.Context, userID uint) error
}

// CreditService 积分账本服务
type CreditService struct {
	db          *gorm.DB
	creditRepo  repository.CreditRepository
	cache       BalanceCache
	permissions PermissionChecker
	group       singleflight.Group
	now         func() time.Time
}

// NewCreditService 创建积分账本服务
func NewCreditService(db *gorm.DB, creditRepo repository.CreditRepository, cache BalanceCache, permissions PermissionChecker) *CreditService {
	return &CreditService{
		db:          db,
		creditRepo:  creditRepo,
		cache:       cache,
		permissions: permissions,
		now:         time.Now,
	}
}

// GrantInput 发放积分参数
type GrantInput struct {
	UserID        uint
	Credits       int64
	Scene         string
	ExpiresAt     *time.Time
	ReferenceType string
	ReferenceID   string
	Remark        string
}

// ConsumeInput 消耗积分参数
type ConsumeInput struct {
	UserID        uint
	Credits       int64
	Scene         string
	ReferenceType string
	ReferenceID   string
	Remark        string
}

// ConsumedGrant 单条发放记录被扣减的数量
type ConsumedGrant struct {
	GrantTxnID    uint       `json:"grant_txn_id"`
	TransactionNo string     `json:"transaction_no"`
	Credits       int64      `json:"credits"`
	Remaining     int64      `json:"remaining"`
	ExpiresAt     *time.Time `json:"expires_at"`
}

// ConsumeResult 消耗结果
type ConsumeResult struct {
	Transaction *models.CreditTransaction `json:"transaction"`
	Breakdown   []ConsumedGrant           `json:"breakdown"`
}

// Grant 独立事务发放积分
func (s *CreditService) Grant(ctx context.Context, input GrantInput) (*models.CreditTransaction, error) {
	var txn *models.CreditTransaction
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		created, err := s.GrantTx(tx, input)
		if err != nil {
			return err
		}
		txn = created
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.AfterCommit(ctx, input.UserID)
	return txn, nil
}

// AdminGrant 后台手工发放
func (s *CreditService) AdminGrant(ctx context.Context, adminID uint, input GrantInput) (*models.CreditTransaction, error) {
	if err := requirePermission(ctx, s.permissions, adminID, constants.PermissionCreditGrant); err != nil {
		return nil, err
	}
	input.Scene = constants.CreditSceneAdmin
	if input.ReferenceType == "" {
		input.ReferenceType = constants.CreditRefAdmin
		input.ReferenceID = strconv.FormatUint(uint64(adminID), 10)
	}
	txn, err := s.Grant(ctx, input)
	if err != nil {
		return nil, err
	}
	logger.FromContext(ctx).Infow("admin_credit_granted",
		"admin_id", adminID,
		"user_id", input.UserID,
		"credits", input.Credits,
		"transaction_no", txn.TransactionNo,
	)
	return txn, nil
}

// GrantTx 在调用方事务内发放积分，提交后调用方需执行 AfterCommit
func (s *CreditService) GrantTx(tx *gorm.DB, input GrantInput) (*models.CreditTransaction, error) {
	if input.UserID == 0 || input.Credits <= 0 {
		return nil, fmt.Errorf("%w: grant requires user and positive credits", ErrInvalidInput)
	}
	scene := strings.TrimSpace(input.Scene)
	if scene == "" {
		return nil, fmt.Errorf("%w: grant scene is required", ErrInvalidInput)
	}
	now := s.now()
	txn := &models.CreditTransaction{
		TransactionNo:    generateTransactionNo(now),
		UserID:           input.UserID,
		Type:             constants.CreditTxnTypeGrant,
		Scene:            scene,
		Credits:          input.Credits,
		RemainingCredits: input.Credits,
		ExpiresAt:        input.ExpiresAt,
		ReferenceType:    input.ReferenceType,
		ReferenceID:      input.ReferenceID,
		Remark:           input.Remark,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.creditRepo.WithTx(tx).CreateTransaction(txn); err != nil {
		return nil, err
	}
	metrics.CreditsGranted.WithLabelValues(scene).Add(float64(input.Credits))
	return txn, nil
}

// Consume 先到期先扣，不足时整体失败且不做任何扣减
func (s *CreditService) Consume(ctx context.Context, input ConsumeInput) (*ConsumeResult, error) {
	if input.UserID == 0 || input.Credits <= 0 {
		return nil, fmt.Errorf("%w: consume requires user and positive credits", ErrInvalidInput)
	}
	scene := strings.TrimSpace(input.Scene)
	if scene == "" {
		scene = constants.CreditSceneUsage
	}

	var result *ConsumeResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.creditRepo.WithTx(tx)
		now := s.now()
		grants, err := repo.ListActiveGrantsForUpdate(input.UserID, now)
		if err != nil {
			return err
		}
		var available int64
		for _, grant := range grants {
			available += grant.RemainingCredits
		}
		if available < input.Credits {
			return ErrInsufficientCredits
		}

		txn := &models.CreditTransaction{
			TransactionNo: generateTransactionNo(now),
			UserID:        input.UserID,
			Type:          constants.CreditTxnTypeConsume,
			Scene:         scene,
			Credits:       input.Credits,
			ReferenceType: input.ReferenceType,
			ReferenceID:   input.ReferenceID,
			Remark:        input.Remark,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := repo.CreateTransaction(txn); err != nil {
			return err
		}

		need := input.Credits
		breakdown := make([]ConsumedGrant, 0, len(grants))
		rows := make([]models.CreditConsumption, 0, len(grants))
		for _, grant := range grants {
			if need == 0 {
				break
			}
			take := grant.RemainingCredits
			if take > need {
				take = need
			}
			remaining := grant.RemainingCredits - take
			if err := repo.UpdateRemaining(grant.ID, remaining); err != nil {
				return err
			}
			need -= take
			breakdown = append(breakdown, ConsumedGrant{
				GrantTxnID:    grant.ID,
				TransactionNo: grant.TransactionNo,
				Credits:       take,
				Remaining:     remaining,
				ExpiresAt:     grant.ExpiresAt,
			})
			rows = append(rows, models.CreditConsumption{
				ConsumeTxnID: txn.ID,
				GrantTxnID:   grant.ID,
				UserID:       input.UserID,
				Credits:      take,
				CreatedAt:    now,
			})
		}
		if err := repo.CreateConsumptions(rows); err != nil {
			return err
		}
		result = &ConsumeResult{Transaction: txn, Breakdown: breakdown}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrInsufficientCredits) {
			logger.FromContext(ctx).Infow("credit_consume_insufficient", "user_id", input.UserID, "credits", input.Credits)
		}
		return nil, err
	}
	metrics.CreditsConsumed.WithLabelValues(scene).Add(float64(input.Credits))
	s.AfterCommit(ctx, input.UserID)
	return result, nil
}

// Balance 从账本重新计算余额
func (s *CreditService) Balance(ctx context.Context, userID uint) (int64, error) {
	if userID == 0 {
		return 0, fmt.Errorf("%w: user is required", ErrInvalidInput)
	}
	return s.creditRepo.WithTx(s.db.WithContext(ctx)).SumActiveRemaining(userID, s.now())
}

// CachedBalance 展示用余额，缓存未命中时回源账本并合并并发请求
func (s *CreditService) CachedBalance(ctx context.Context, userID uint) (int64, error) {
	if s.cache == nil {
		return s.Balance(ctx, userID)
	}
	if balance, ok, err := s.cache.GetBalance(ctx, userID); err == nil && ok {
		return balance, nil
	} else if err != nil {
		logger.FromContext(ctx).Warnw("credit_balance_cache_get_failed", "user_id", userID, "error", err)
	}
	key := strconv.FormatUint(uint64(userID), 10)
	value, err, _ := s.group.Do(key, func() (interface{}, error) {
		balance, err := s.Balance(ctx, userID)
		if err != nil {
			return int64(0), err
		}
		if err := s.cache.SetBalance(ctx, userID, balance); err != nil {
			logger.FromContext(ctx).Warnw("credit_balance_cache_set_failed", "user_id", userID, "error", err)
		}
		return balance, nil
	})
	if err != nil {
		return 0, err
	}
	return value.(int64), nil
}

// AfterCommit 账本变更提交后清理缓存
func (s *CreditService) AfterCommit(ctx context.Context, userID uint) {
	if s.cache == nil || userID == 0 {
		return
	}
	if err := s.cache.DeleteBalance(ctx, userID); err != nil {
		logger.FromContext(ctx).Warnw("credit_balance_cache_invalidate_failed", "user_id", userID, "error", err)
	}
}

// ListTransactions 用户积分流水
func (s *CreditService) ListTransactions(ctx context.Context, userID uint, page, pageSize int) ([]models.CreditTransaction, int64, error) {
	return s.creditRepo.WithTx(s.db.WithContext(ctx)).ListTransactions(repository.CreditTransactionListFilter{
		UserID:   userID,
		Page:     page,
		PageSize: pageSize,
	})
}

// ConsumptionDetail 用户查看一次消耗从哪些发放记录扣减
func (s *CreditService) ConsumptionDetail(ctx context.Context, userID, txnID uint) (*models.CreditTransaction, []models.CreditConsumption, error) {
	if userID == 0 || txnID == 0 {
		return nil, nil, fmt.Errorf("%w: user and transaction are required", ErrInvalidInput)
	}
	repo := s.creditRepo.WithTx(s.db.WithContext(ctx))
	txn, err := repo.GetTransactionByID(txnID)
	if err != nil {
		return nil, nil, err
	}
	// 他人流水按不存在处理
	if txn == nil || txn.UserID != userID || txn.Type != constants.CreditTxnTypeConsume {
		return nil, nil, ErrCreditTxnNotFound
	}
	rows, err := repo.ListConsumptions(txn.ID)
	if err != nil {
		return nil, nil, err
	}
	return txn, rows, nil
}
