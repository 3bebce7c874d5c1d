package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/credit-ledger/internal/constants"
	"github.com/credit-ledger/internal/logger"
	"github.com/credit-ledger/internal/models"
	"github.com/credit-ledger/internal/payment"
	"github.com/credit-ledger/internal/repository"

	"gorm.io/gorm"
)

// 订阅状态迁移表：expired / canceled 为终态
var subscriptionTransitions = map[string]map[string]bool{
	constants.SubscriptionStatusActive: {
		constants.SubscriptionStatusActive:   true,
		constants.SubscriptionStatusExpired:  true,
		constants.SubscriptionStatusCanceled: true,
	},
	constants.SubscriptionStatusExpired:  {},
	constants.SubscriptionStatusCanceled: {},
}

// CanTransition 订阅状态是否允许从 from 迁移到 to
func CanTransition(from, to string) bool {
	return subscriptionTransitions[from][to]
}

// SubscriptionService 订阅状态机
type SubscriptionService struct {
	db        *gorm.DB
	subRepo   repository.SubscriptionRepository
	registry  *payment.Registry
	graceTime time.Duration
	now       func() time.Time
}

// NewSubscriptionService 创建订阅服务，registry 用于撤销被顶替的渠道订阅
func NewSubscriptionService(db *gorm.DB, subRepo repository.SubscriptionRepository, registry *payment.Registry, graceHours int) *SubscriptionService {
	if graceHours < 0 {
		graceHours = 0
	}
	return &SubscriptionService{
		db:        db,
		subRepo:   subRepo,
		registry:  registry,
		graceTime: time.Duration(graceHours) * time.Hour,
		now:       time.Now,
	}
}

// SubscriptionCreate 新建订阅参数
type SubscriptionCreate struct {
	UserID                 uint
	PlanID                 string
	Provider               string
	ProviderSubscriptionID string
	PeriodStart            time.Time
	PeriodEnd              time.Time
	CreditsAmount          int64
	CreditsValidDays       int
	OriginOrderID          *uint
}

// SubscriptionUpdate 渠道推送的订阅字段更新
type SubscriptionUpdate struct {
	PeriodStart       *time.Time
	PeriodEnd         *time.Time
	CancelAtPeriodEnd *bool
}

// CreateActiveTx 在调用方事务内新建 active 订阅，并先将该用户原有 active 订阅置为 expired
// 返回新订阅与被顶替的订阅；被顶替的渠道订阅需在提交后交给 ReleaseSuperseded
func (s *SubscriptionService) CreateActiveTx(tx *gorm.DB, input SubscriptionCreate) (*models.Subscription, []models.Subscription, error) {
	if input.UserID == 0 || input.PlanID == "" {
		return nil, nil, fmt.Errorf("%w: subscription requires user and plan", ErrInvalidInput)
	}
	if !input.PeriodEnd.After(input.PeriodStart) {
		return nil, nil, fmt.Errorf("%w: subscription period end must be after start", ErrInvalidInput)
	}
	repo := s.subRepo.WithTx(tx)
	// 行锁挡不住尚不存在的行，先按用户串行化再扫描
	if err := repo.LockUserSlot(input.UserID); err != nil {
		return nil, nil, err
	}
	now := s.now()
	current, err := repo.ListActiveByUserForUpdate(input.UserID)
	if err != nil {
		return nil, nil, err
	}
	for i := range current {
		if err := s.transition(repo, &current[i], constants.SubscriptionStatusExpired, now); err != nil {
			return nil, nil, err
		}
	}
	sub := &models.Subscription{
		SubscriptionNo:         generateSubscriptionNo(now),
		UserID:                 input.UserID,
		Status:                 constants.SubscriptionStatusActive,
		PlanID:                 input.PlanID,
		Provider:               input.Provider,
		ProviderSubscriptionID: input.ProviderSubscriptionID,
		CurrentPeriodStart:     input.PeriodStart,
		CurrentPeriodEnd:       input.PeriodEnd,
		CreditsAmount:          input.CreditsAmount,
		CreditsValidDays:       input.CreditsValidDays,
		OriginOrderID:          input.OriginOrderID,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	if err := repo.Create(sub); err != nil {
		return nil, nil, err
	}
	return sub, current, nil
}

// ReleaseSuperseded 提交后撤销被顶替订阅在渠道侧的自动续费，失败只记录日志
func (s *SubscriptionService) ReleaseSuperseded(ctx context.Context, superseded []models.Subscription) {
	for _, sub := range superseded {
		if sub.ProviderSubscriptionID == "" || sub.Provider == "" || sub.Provider == constants.PaymentProviderInternal {
			continue
		}
		log := logger.FromContext(ctx).With(
			"subscription_no", sub.SubscriptionNo,
			"provider", sub.Provider,
			"provider_subscription_id", sub.ProviderSubscriptionID,
		)
		provider, err := s.registry.Get(sub.Provider)
		if err != nil {
			log.Warnw("subscription_superseded_provider_missing", "error", err)
			continue
		}
		if err := provider.Cancel(ctx, sub.ProviderSubscriptionID); err != nil && !errors.Is(err, payment.ErrNotSupported) {
			log.Warnw("subscription_superseded_cancel_failed", "error", err)
			continue
		}
		log.Infow("subscription_superseded_canceled")
	}
}

// RenewTx active -> active，推进周期
func (s *SubscriptionService) RenewTx(tx *gorm.DB, sub *models.Subscription, periodStart, periodEnd time.Time) error {
	if sub.Status != constants.SubscriptionStatusActive {
		return ErrSubscriptionNotActive
	}
	if !periodEnd.After(periodStart) {
		return fmt.Errorf("%w: renewal period end must be after start", ErrInvalidInput)
	}
	sub.CurrentPeriodStart = periodStart
	sub.CurrentPeriodEnd = periodEnd
	return s.transition(s.subRepo.WithTx(tx), sub, constants.SubscriptionStatusActive, s.now())
}

// CancelTx active -> canceled，保留周期结束时间
func (s *SubscriptionService) CancelTx(tx *gorm.DB, sub *models.Subscription, canceledAt time.Time) error {
	if sub.Status != constants.SubscriptionStatusActive {
		return ErrSubscriptionNotActive
	}
	if canceledAt.IsZero() {
		canceledAt = s.now()
	}
	sub.CanceledAt = &canceledAt
	return s.transition(s.subRepo.WithTx(tx), sub, constants.SubscriptionStatusCanceled, canceledAt)
}

// UpdateTx 仅更新周期字段，不改变状态
func (s *SubscriptionService) UpdateTx(tx *gorm.DB, sub *models.Subscription, update SubscriptionUpdate) error {
	if sub.Status != constants.SubscriptionStatusActive {
		return ErrSubscriptionNotActive
	}
	if update.PeriodStart != nil {
		sub.CurrentPeriodStart = *update.PeriodStart
	}
	if update.PeriodEnd != nil {
		sub.CurrentPeriodEnd = *update.PeriodEnd
	}
	if update.CancelAtPeriodEnd != nil {
		sub.CancelAtPeriodEnd = *update.CancelAtPeriodEnd
	}
	if !sub.CurrentPeriodEnd.After(sub.CurrentPeriodStart) {
		return fmt.Errorf("%w: subscription period end must be after start", ErrInvalidInput)
	}
	sub.UpdatedAt = s.now()
	return s.subRepo.WithTx(tx).Update(sub)
}

func (s *SubscriptionService) transition(repo *repository.GormSubscriptionRepository, sub *models.Subscription, to string, at time.Time) error {
	if !CanTransition(sub.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, sub.Status, to)
	}
	if to == constants.SubscriptionStatusExpired {
		sub.ExpiredAt = &at
	}
	sub.Status = to
	sub.UpdatedAt = at
	return repo.Update(sub)
}

// Current 用户当前 active 订阅，没有返回 nil
func (s *SubscriptionService) Current(ctx context.Context, userID uint) (*models.Subscription, error) {
	return s.subRepo.WithTx(s.db.WithContext(ctx)).GetActiveByUser(userID)
}

// ExpireLapsed 将超出宽限期仍未续费的 active 订阅置为 expired，返回处理条数
func (s *SubscriptionService) ExpireLapsed(ctx context.Context, limit int) (int, error) {
	now := s.now()
	cutoff := now.Add(-s.graceTime)
	lapsed, err := s.subRepo.WithTx(s.db.WithContext(ctx)).ListLapsed(cutoff, limit)
	if err != nil {
		return 0, err
	}
	expired := 0
	for _, candidate := range lapsed {
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			repo := s.subRepo.WithTx(tx)
			sub, err := repo.GetBySubscriptionNoForUpdate(candidate.SubscriptionNo)
			if err != nil || sub == nil {
				return err
			}
			// 加锁后复查，期间可能已续费或取消
			if sub.Status != constants.SubscriptionStatusActive || !sub.CurrentPeriodEnd.Before(cutoff) {
				return nil
			}
			if err := s.transition(repo, sub, constants.SubscriptionStatusExpired, now); err != nil {
				return err
			}
			expired++
			return nil
		})
		if err != nil {
			logger.FromContext(ctx).Warnw("subscription_expire_lapsed_failed",
				"subscription_no", candidate.SubscriptionNo,
				"error", err,
			)
		}
	}
	if expired > 0 {
		logger.FromContext(ctx).Infow("subscription_expire_lapsed_done", "count", expired)
	}
	return expired, nil
}
