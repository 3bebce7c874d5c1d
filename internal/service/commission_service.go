package service

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/credit-ledger/internal/constants"
	"github.com/credit-ledger/internal/logger"
	"github.com/credit-ledger/internal/metrics"
	"github.com/credit-ledger/internal/models"
	"github.com/credit-ledger/internal/repository"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const affiliateCodeLength = 8

// 占用可提现余额的提现状态
var reservedWithdrawStatuses = []string{
	constants.WithdrawStatusPending,
	constants.WithdrawStatusApproved,
}

// CommissionService 推广佣金账本
type CommissionService struct {
	db          *gorm.DB
	repo        repository.AffiliateRepository
	orderRepo   repository.OrderRepository
	permissions PermissionChecker
	defaultRate decimal.Decimal
	now         func() time.Time
}

// NewCommissionService 创建佣金服务，defaultRatePercent 为空或非法时按 0 处理
func NewCommissionService(
	db *gorm.DB,
	repo repository.AffiliateRepository,
	orderRepo repository.OrderRepository,
	permissions PermissionChecker,
	defaultRatePercent string,
) *CommissionService {
	rate, err := decimal.NewFromString(strings.TrimSpace(defaultRatePercent))
	if err != nil || rate.IsNegative() {
		rate = decimal.Zero
	}
	return &CommissionService{
		db:          db,
		repo:        repo,
		orderRepo:   orderRepo,
		permissions: permissions,
		defaultRate: rate,
		now:         time.Now,
	}
}

// Balance 推广账户余额
type Balance struct {
	Accrued   models.Money `json:"accrued"`
	Paid      models.Money `json:"paid"`
	Reserved  models.Money `json:"reserved"`
	Available models.Money `json:"available"`
}

// EnsureProfile 开通推广账户，已存在直接返回
func (s *CommissionService) EnsureProfile(ctx context.Context, userID uint) (*models.AffiliateProfile, error) {
	if userID == 0 {
		return nil, fmt.Errorf("%w: user is required", ErrInvalidInput)
	}
	repo := s.repo.WithTx(s.db.WithContext(ctx))
	existing, err := repo.GetProfileByUserID(userID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	const maxRetry = 8
	for i := 0; i < maxRetry; i++ {
		code, err := generateAffiliateCode()
		if err != nil {
			return nil, err
		}
		now := s.now()
		profile := &models.AffiliateProfile{
			UserID:        userID,
			AffiliateCode: code,
			Status:        constants.AffiliateStatusActive,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := repo.CreateProfile(profile); err != nil {
			if isUniqueViolation(err) {
				// 可能是推广码冲突，也可能是并发开通
				if created, getErr := repo.GetProfileByUserID(userID); getErr == nil && created != nil {
					return created, nil
				}
				continue
			}
			return nil, err
		}
		logger.FromContext(ctx).Infow("affiliate_profile_created", "user_id", userID, "affiliate_profile_id", profile.ID)
		return profile, nil
	}
	return nil, fmt.Errorf("%w: affiliate code generation exhausted", ErrInvalidInput)
}

// BindReferral 将用户绑定到推广码，每个用户只能绑定一次
func (s *CommissionService) BindReferral(ctx context.Context, userID uint, affiliateCode string) (*models.AffiliateReferral, error) {
	code := strings.ToUpper(strings.TrimSpace(affiliateCode))
	if userID == 0 || code == "" {
		return nil, fmt.Errorf("%w: user and affiliate code are required", ErrInvalidInput)
	}
	var referral *models.AffiliateReferral
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		profile, err := repo.GetProfileByCode(code)
		if err != nil {
			return err
		}
		if profile == nil {
			return ErrAffiliateNotFound
		}
		if profile.Status != constants.AffiliateStatusActive {
			return ErrAffiliateDisabled
		}
		if profile.UserID == userID {
			return fmt.Errorf("%w: cannot bind own affiliate code", ErrInvalidInput)
		}
		existing, err := repo.GetReferralByUserID(userID)
		if err != nil {
			return err
		}
		if existing != nil {
			return ErrReferralExists
		}
		referral = &models.AffiliateReferral{
			AffiliateProfileID: profile.ID,
			UserID:             userID,
			CreatedAt:          s.now(),
		}
		if err := repo.CreateReferral(referral); err != nil {
			if isUniqueViolation(err) {
				return ErrReferralExists
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return referral, nil
}

// AccrueForOrder 为已支付订单计提佣金，重复调用返回 created=false
func (s *CommissionService) AccrueForOrder(ctx context.Context, orderID uint) (*models.AffiliateCommission, bool, error) {
	log := logger.FromContext(ctx).With("order_id", orderID)
	db := s.db.WithContext(ctx)
	order, err := s.orderRepo.WithTx(db).GetByID(orderID)
	if err != nil {
		return nil, false, err
	}
	if order == nil {
		return nil, false, ErrOrderNotFound
	}
	if order.Status != constants.OrderStatusPaid || order.Amount.LessThanOrEqual(decimal.Zero) {
		return nil, false, nil
	}
	repo := s.repo.WithTx(db)
	referral, err := repo.GetReferralByUserID(order.UserID)
	if err != nil {
		return nil, false, err
	}
	if referral == nil {
		return nil, false, nil
	}
	profile, err := repo.GetProfileByID(referral.AffiliateProfileID)
	if err != nil {
		return nil, false, err
	}
	if profile == nil || profile.Status != constants.AffiliateStatusActive {
		log.Infow("commission_accrue_skipped_profile_inactive", "affiliate_profile_id", referral.AffiliateProfileID)
		return nil, false, nil
	}

	rate := profile.RatePercent.Decimal
	if rate.LessThanOrEqual(decimal.Zero) {
		rate = s.defaultRate
	}
	amount := order.Amount.Percent(rate)
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, false, nil
	}
	commission := &models.AffiliateCommission{
		AffiliateProfileID: profile.ID,
		OrderID:            order.ID,
		BaseAmount:         order.Amount,
		RatePercent:        models.NewMoney(rate),
		CommissionAmount:   amount,
		CreatedAt:          s.now(),
	}
	created, err := repo.CreateCommissionIfAbsent(commission)
	if err != nil {
		return nil, false, err
	}
	if !created {
		log.Infow("commission_accrue_duplicate", "affiliate_profile_id", profile.ID)
		return nil, false, nil
	}
	log.Infow("commission_accrued",
		"affiliate_profile_id", profile.ID,
		"commission_amount", amount.String(),
	)
	return commission, true, nil
}

// AvailableBalance 可提现 = 累计佣金 - 已打款 - 待处理与已审核占用
func (s *CommissionService) AvailableBalance(ctx context.Context, userID uint) (*Balance, error) {
	profile, err := s.repo.WithTx(s.db.WithContext(ctx)).GetProfileByUserID(userID)
	if err != nil {
		return nil, err
	}
	if profile == nil {
		return nil, ErrAffiliateNotFound
	}
	return s.balanceOf(s.repo.WithTx(s.db.WithContext(ctx)), profile.ID)
}

func (s *CommissionService) balanceOf(repo *repository.GormAffiliateRepository, profileID uint) (*Balance, error) {
	accrued, err := repo.SumCommission(profileID)
	if err != nil {
		return nil, err
	}
	paid, err := repo.SumWithdraw(profileID, []string{constants.WithdrawStatusPaid})
	if err != nil {
		return nil, err
	}
	reserved, err := repo.SumWithdraw(profileID, reservedWithdrawStatuses)
	if err != nil {
		return nil, err
	}
	return &Balance{
		Accrued:   models.NewMoney(accrued),
		Paid:      models.NewMoney(paid),
		Reserved:  models.NewMoney(reserved),
		Available: models.NewMoney(accrued.Sub(paid).Sub(reserved)),
	}, nil
}

// WithdrawInput 提现申请参数
type WithdrawInput struct {
	UserID       uint
	Amount       models.Money
	PayoutMethod map[string]string
}

// RequestWithdrawal 申请提现，锁推广账户后复算余额
func (s *CommissionService) RequestWithdrawal(ctx context.Context, input WithdrawInput) (*models.WithdrawRequest, error) {
	if input.UserID == 0 {
		return nil, fmt.Errorf("%w: user is required", ErrInvalidInput)
	}
	if input.Amount.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("%w: withdraw amount must be positive", ErrInvalidInput)
	}
	if len(input.PayoutMethod) == 0 {
		return nil, fmt.Errorf("%w: payout method is required", ErrInvalidInput)
	}
	payout, err := models.NewPayload(input.PayoutMethod)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	var req *models.WithdrawRequest
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		profile, err := repo.GetProfileByUserIDForUpdate(input.UserID)
		if err != nil {
			return err
		}
		if profile == nil {
			return ErrAffiliateNotFound
		}
		if profile.Status != constants.AffiliateStatusActive {
			return ErrAffiliateDisabled
		}
		balance, err := s.balanceOf(repo, profile.ID)
		if err != nil {
			return err
		}
		if input.Amount.GreaterThan(balance.Available.Decimal) {
			return ErrWithdrawInsufficient
		}
		now := s.now()
		req = &models.WithdrawRequest{
			AffiliateProfileID: profile.ID,
			Amount:             models.NewMoney(input.Amount.Decimal),
			Status:             constants.WithdrawStatusPending,
			PayoutMethod:       payout,
			CreatedAt:          now,
			UpdatedAt:          now,
		}
		return repo.CreateWithdraw(req)
	})
	if err != nil {
		return nil, err
	}
	metrics.Withdrawals.WithLabelValues("request").Inc()
	logger.FromContext(ctx).Infow("withdraw_requested",
		"withdraw_id", req.ID,
		"affiliate_profile_id", req.AffiliateProfileID,
		"amount", req.Amount.String(),
	)
	return req, nil
}

// Approve pending -> approved
func (s *CommissionService) Approve(ctx context.Context, adminID, withdrawID uint) (*models.WithdrawRequest, error) {
	if err := requirePermission(ctx, s.permissions, adminID, constants.PermissionWithdrawReview); err != nil {
		return nil, err
	}
	return s.review(ctx, adminID, withdrawID, "approve", func(req *models.WithdrawRequest, now time.Time) error {
		if req.Status != constants.WithdrawStatusPending {
			return ErrWithdrawStatusInvalid
		}
		req.Status = constants.WithdrawStatusApproved
		req.ApprovedAt = &now
		return nil
	})
}

// ConfirmPayout approved -> paid
func (s *CommissionService) ConfirmPayout(ctx context.Context, adminID, withdrawID uint) (*models.WithdrawRequest, error) {
	if err := requirePermission(ctx, s.permissions, adminID, constants.PermissionWithdrawPayout); err != nil {
		return nil, err
	}
	return s.review(ctx, adminID, withdrawID, "payout", func(req *models.WithdrawRequest, now time.Time) error {
		if req.Status != constants.WithdrawStatusApproved {
			return ErrWithdrawStatusInvalid
		}
		req.Status = constants.WithdrawStatusPaid
		req.PaidAt = &now
		return nil
	})
}

// Reject pending|approved -> rejected，释放占用
func (s *CommissionService) Reject(ctx context.Context, adminID, withdrawID uint, reason string) (*models.WithdrawRequest, error) {
	if err := requirePermission(ctx, s.permissions, adminID, constants.PermissionWithdrawReview); err != nil {
		return nil, err
	}
	reason = strings.TrimSpace(reason)
	return s.review(ctx, adminID, withdrawID, "reject", func(req *models.WithdrawRequest, now time.Time) error {
		if req.Status != constants.WithdrawStatusPending && req.Status != constants.WithdrawStatusApproved {
			return ErrWithdrawStatusInvalid
		}
		req.Status = constants.WithdrawStatusRejected
		req.RejectReason = reason
		req.RejectedAt = &now
		return nil
	})
}

func (s *CommissionService) review(
	ctx context.Context,
	adminID, withdrawID uint,
	action string,
	apply func(req *models.WithdrawRequest, now time.Time) error,
) (*models.WithdrawRequest, error) {
	var req *models.WithdrawRequest
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		row, err := repo.GetWithdrawByIDForUpdate(withdrawID)
		if err != nil {
			return err
		}
		if row == nil {
			return ErrWithdrawNotFound
		}
		now := s.now()
		if err := apply(row, now); err != nil {
			return err
		}
		row.ReviewedBy = &adminID
		row.UpdatedAt = now
		req = row
		return repo.UpdateWithdraw(row)
	})
	if err != nil {
		logger.FromContext(ctx).Warnw("withdraw_review_failed",
			"withdraw_id", withdrawID,
			"action", action,
			"admin_id", adminID,
			"error", err,
		)
		return nil, err
	}
	metrics.Withdrawals.WithLabelValues(action).Inc()
	logger.FromContext(ctx).Infow("withdraw_reviewed",
		"withdraw_id", req.ID,
		"action", action,
		"admin_id", adminID,
		"status", req.Status,
	)
	return req, nil
}

// ListWithdrawals 后台提现记录分页
func (s *CommissionService) ListWithdrawals(ctx context.Context, adminID uint, filter repository.WithdrawListFilter) ([]models.WithdrawRequest, int64, error) {
	if err := requirePermission(ctx, s.permissions, adminID, constants.PermissionWithdrawReview); err != nil {
		return nil, 0, err
	}
	return s.repo.WithTx(s.db.WithContext(ctx)).ListWithdraws(filter)
}

func generateAffiliateCode() (string, error) {
	max := big.NewInt(int64(len(redemptionAlphabet)))
	var b strings.Builder
	b.Grow(affiliateCodeLength)
	for i := 0; i < affiliateCodeLength; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(redemptionAlphabet[n.Int64()])
	}
	return b.String(), nil
}
