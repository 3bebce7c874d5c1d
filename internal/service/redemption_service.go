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

	"gorm.io/gorm"
)

const issueCollisionRetries = 5

// RedemptionOptions 兑换规则配置
type RedemptionOptions struct {
	// CreditValidityDays 发码未指定有效期时的默认值，0 表示永久
	CreditValidityDays int
	MaxIssueQuantity   int
}

// RedemptionService 兑换码服务
type RedemptionService struct {
	db            *gorm.DB
	codeRepo      repository.RedemptionCodeRepository
	planRepo      repository.PlanRepository
	orderRepo     repository.OrderRepository
	subscriptions *SubscriptionService
	credits       *CreditService
	permissions   PermissionChecker
	opts          RedemptionOptions
	now           func() time.Time
}

// NewRedemptionService 创建兑换码服务
func NewRedemptionService(
	db *gorm.DB,
	codeRepo repository.RedemptionCodeRepository,
	planRepo repository.PlanRepository,
	orderRepo repository.OrderRepository,
	subscriptions *SubscriptionService,
	credits *CreditService,
	permissions PermissionChecker,
	opts RedemptionOptions,
) *RedemptionService {
	if opts.MaxIssueQuantity <= 0 {
		opts.MaxIssueQuantity = 1000
	}
	return &RedemptionService{
		db:            db,
		codeRepo:      codeRepo,
		planRepo:      planRepo,
		orderRepo:     orderRepo,
		subscriptions: subscriptions,
		credits:       credits,
		permissions:   permissions,
		opts:          opts,
		now:           time.Now,
	}
}

// RedeemInput 兑换参数
type RedeemInput struct {
	Code   string
	UserID uint
}

// RedeemResult 兑换结果
type RedeemResult struct {
	Credits        int64      `json:"credits"`
	Type           string     `json:"type"`
	PlanID         string     `json:"plan_id,omitempty"`
	ExpiresAt      *time.Time `json:"expires_at"`
	TransactionNo  string     `json:"transaction_no,omitempty"`
	OrderNo        string     `json:"order_no,omitempty"`
	SubscriptionNo string     `json:"subscription_no,omitempty"`
}

// Redeem 单事务完成：锁码 -> 校验 -> 计数 -> 记录 -> 会员订单/订阅 -> 发放积分
func (s *RedemptionService) Redeem(ctx context.Context, input RedeemInput) (*RedeemResult, error) {
	code := normalizeRedemptionCode(input.Code)
	if code == "" {
		return nil, ErrInvalidCode
	}
	if input.UserID == 0 {
		return nil, fmt.Errorf("%w: user is required", ErrInvalidInput)
	}
	log := logger.FromContext(ctx).With("user_id", input.UserID, "code_suffix", codeSuffix(code))

	var (
		result     *RedeemResult
		codeType   string
		superseded []models.Subscription
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		codeRepo := s.codeRepo.WithTx(tx)
		row, err := codeRepo.GetByHashForUpdate(HashRedemptionCode(code))
		if err != nil {
			return err
		}
		now := s.now()
		if err := s.validate(codeRepo, row, input.UserID, now); err != nil {
			return err
		}
		codeType = row.Type

		row.UsedCount++
		if row.UsedCount >= row.MaxUses {
			row.Status = constants.RedemptionStatusUsed
		}
		row.UpdatedAt = now
		if err := codeRepo.Update(row); err != nil {
			return err
		}

		record := &models.RedemptionRecord{CodeID: row.ID, UserID: input.UserID, RedeemedAt: now}
		res := &RedeemResult{Credits: row.Credits, Type: row.Type, PlanID: row.PlanID}

		var expiresAt *time.Time
		if row.Type == constants.RedemptionTypeMembership {
			order, sub, replaced, err := s.applyMembershipTx(tx, row, input.UserID, now)
			if err != nil {
				return err
			}
			superseded = replaced
			record.OrderID = &order.ID
			record.SubscriptionID = &sub.ID
			res.OrderNo = order.OrderNo
			res.SubscriptionNo = sub.SubscriptionNo
			periodEnd := sub.CurrentPeriodEnd
			expiresAt = &periodEnd
		} else if row.CreditValidityDays > 0 {
			expiry := now.AddDate(0, 0, row.CreditValidityDays)
			expiresAt = &expiry
		}
		res.ExpiresAt = expiresAt

		if row.Credits > 0 {
			txn, err := s.credits.GrantTx(tx, GrantInput{
				UserID:        input.UserID,
				Credits:       row.Credits,
				Scene:         constants.CreditSceneRedemption,
				ExpiresAt:     expiresAt,
				ReferenceType: constants.CreditRefRedemptionCode,
				ReferenceID:   strconv.FormatUint(uint64(row.ID), 10),
			})
			if err != nil {
				return err
			}
			record.CreditTxnID = &txn.ID
			res.TransactionNo = txn.TransactionNo
		}

		if err := codeRepo.CreateRecord(record); err != nil {
			if isUniqueViolation(err) {
				return ErrAlreadyRedeemed
			}
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		kind := ErrorKind(err)
		if kind == "" {
			log.Errorw("redemption_failed", "error", err)
			kind = "error"
		} else {
			log.Infow("redemption_rejected", "kind", kind)
		}
		metrics.Redemptions.WithLabelValues(codeType, kind).Inc()
		return nil, err
	}
	metrics.Redemptions.WithLabelValues(result.Type, "ok").Inc()
	s.credits.AfterCommit(ctx, input.UserID)
	s.subscriptions.ReleaseSuperseded(ctx, superseded)
	log.Infow("redemption_succeeded", "type", result.Type, "credits", result.Credits, "order_no", result.OrderNo)
	return result, nil
}

// validate 依次校验，任一失败立即返回且不写库
// 本人已兑换过的码优先返回 already_redeemed，即使码已被用完
func (s *RedemptionService) validate(repo *repository.GormRedemptionCodeRepository, row *models.RedemptionCode, userID uint, now time.Time) error {
	if row == nil {
		return ErrInvalidCode
	}
	redeemed, err := repo.HasRecord(row.ID, userID)
	if err != nil {
		return err
	}
	if redeemed {
		return ErrAlreadyRedeemed
	}
	if row.Status != constants.RedemptionStatusActive {
		return ErrCodeUsedOrExpired
	}
	if row.ExpiresAt != nil && !row.ExpiresAt.After(now) {
		return ErrCodeExpired
	}
	if row.UsedCount >= row.MaxUses {
		return ErrCodeUsageLimitReached
	}
	return nil
}

func (s *RedemptionService) applyMembershipTx(tx *gorm.DB, row *models.RedemptionCode, userID uint, now time.Time) (*models.Order, *models.Subscription, []models.Subscription, error) {
	days := row.MembershipDays
	if days <= 0 {
		return nil, nil, nil, fmt.Errorf("%w: membership code without days", ErrInvalidPlan)
	}
	periodEnd := now.AddDate(0, 0, days)
	paidAt := now
	order := &models.Order{
		OrderNo:         generateOrderNo(now),
		UserID:          userID,
		Status:          constants.OrderStatusPaid,
		Source:          constants.OrderSourceRedemption,
		Amount:          models.Money{},
		Currency:        constants.DefaultCurrency,
		ProductID:       row.PlanID,
		Credits:         row.Credits,
		PaymentProvider: constants.PaymentProviderInternal,
		ProviderRef:     "code:" + strconv.FormatUint(uint64(row.ID), 10),
		PaidAt:          &paidAt,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if plan, err := s.planRepo.WithTx(tx).GetByPlanID(row.PlanID); err != nil {
		return nil, nil, nil, err
	} else if plan != nil {
		order.Currency = plan.Currency
	}
	orderRepo := s.orderRepo.WithTx(tx)
	if err := orderRepo.Create(order); err != nil {
		return nil, nil, nil, err
	}
	sub, superseded, err := s.subscriptions.CreateActiveTx(tx, SubscriptionCreate{
		UserID:        userID,
		PlanID:        row.PlanID,
		Provider:      constants.PaymentProviderInternal,
		PeriodStart:   now,
		PeriodEnd:     periodEnd,
		CreditsAmount: row.Credits,
		OriginOrderID: &order.ID,
	})
	if err != nil {
		return nil, nil, nil, err
	}
	order.SubscriptionID = &sub.ID
	if err := orderRepo.Update(order); err != nil {
		return nil, nil, nil, err
	}
	return order, sub, superseded, nil
}

// IssueCreditsInput 发放积分码参数
type IssueCreditsInput struct {
	AdminID      uint
	Credits      int64
	Quantity     int
	MaxUses      int
	ValidityDays int // 0 走默认配置，负数表示永久
	ExpiresAt    *time.Time
}

// IssueMembershipInput 发放会员码参数
type IssueMembershipInput struct {
	AdminID        uint
	PlanID         string
	Quantity       int
	MembershipDays int   // 0 按套餐周期
	Credits        int64 // 0 按套餐赠送积分
	ExpiresAt      *time.Time
}

// IssueResult 发码结果，明文码仅此一次返回
type IssueResult struct {
	BatchNo string   `json:"batch_no"`
	Codes   []string `json:"codes"`
}

// IssueCredits 批量生成积分兑换码
func (s *RedemptionService) IssueCredits(ctx context.Context, input IssueCreditsInput) (*IssueResult, error) {
	if err := requirePermission(ctx, s.permissions, input.AdminID, constants.PermissionRedemptionIssue); err != nil {
		return nil, err
	}
	if input.Credits <= 0 {
		return nil, fmt.Errorf("%w: credits must be positive", ErrInvalidInput)
	}
	maxUses := input.MaxUses
	if maxUses <= 0 {
		maxUses = 1
	}
	validity := input.ValidityDays
	switch {
	case validity == 0:
		validity = s.opts.CreditValidityDays
	case validity < 0:
		validity = 0
	}
	template := models.RedemptionCode{
		Type:               constants.RedemptionTypeCredits,
		Credits:            input.Credits,
		CreditValidityDays: validity,
		MaxUses:            maxUses,
		ExpiresAt:          input.ExpiresAt,
	}
	return s.issue(ctx, input.AdminID, input.Quantity, template)
}

// IssueMembership 批量生成会员兑换码
func (s *RedemptionService) IssueMembership(ctx context.Context, input IssueMembershipInput) (*IssueResult, error) {
	if err := requirePermission(ctx, s.permissions, input.AdminID, constants.PermissionRedemptionIssue); err != nil {
		return nil, err
	}
	plan, err := s.planRepo.WithTx(s.db.WithContext(ctx)).GetByPlanID(input.PlanID)
	if err != nil {
		return nil, err
	}
	if plan == nil || !plan.IsActive {
		return nil, ErrInvalidPlan
	}
	days := input.MembershipDays
	if days <= 0 {
		days = plan.PeriodDays()
	}
	credits := input.Credits
	if credits <= 0 {
		credits = plan.CreditsAmount
	}
	template := models.RedemptionCode{
		Type:           constants.RedemptionTypeMembership,
		Credits:        credits,
		PlanID:         plan.PlanID,
		MembershipDays: days,
		MaxUses:        1,
		ExpiresAt:      input.ExpiresAt,
	}
	return s.issue(ctx, input.AdminID, input.Quantity, template)
}

func (s *RedemptionService) issue(ctx context.Context, adminID uint, quantity int, template models.RedemptionCode) (*IssueResult, error) {
	if quantity <= 0 || quantity > s.opts.MaxIssueQuantity {
		return nil, fmt.Errorf("%w: quantity must be between 1 and %d", ErrInvalidInput, s.opts.MaxIssueQuantity)
	}
	now := s.now()
	if template.ExpiresAt != nil && !template.ExpiresAt.After(now) {
		return nil, fmt.Errorf("%w: expires_at must be in the future", ErrInvalidInput)
	}

	var result *IssueResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.codeRepo.WithTx(tx)
		plaintext, err := s.uniqueCodes(repo, quantity)
		if err != nil {
			return err
		}
		creator := adminID
		batch := &models.RedemptionCodeBatch{
			BatchNo:        generateBatchNo(now),
			Type:           template.Type,
			Credits:        template.Credits,
			PlanID:         template.PlanID,
			MembershipDays: template.MembershipDays,
			Quantity:       quantity,
			MaxUses:        template.MaxUses,
			ExpiresAt:      template.ExpiresAt,
			CreatedBy:      &creator,
			CreatedAt:      now,
		}
		rows := make([]models.RedemptionCode, 0, quantity)
		for _, code := range plaintext {
			row := template
			row.CodeHash = HashRedemptionCode(code)
			row.CodeHint = codeSuffix(code)
			row.Status = constants.RedemptionStatusActive
			row.IssuedAt = now
			row.CreatedAt = now
			row.UpdatedAt = now
			rows = append(rows, row)
		}
		if err := repo.CreateBatch(batch, rows); err != nil {
			return err
		}
		result = &IssueResult{BatchNo: batch.BatchNo, Codes: plaintext}
		return nil
	})
	if err != nil {
		return nil, err
	}
	logger.FromContext(ctx).Infow("redemption_codes_issued",
		"admin_id", adminID,
		"batch_no", result.BatchNo,
		"type", template.Type,
		"quantity", quantity,
	)
	return result, nil
}

// uniqueCodes 生成批次内与库内均不重复的码
func (s *RedemptionService) uniqueCodes(repo *repository.GormRedemptionCodeRepository, quantity int) ([]string, error) {
	seen := make(map[string]struct{}, quantity)
	out := make([]string, 0, quantity)
	for attempt := 0; len(out) < quantity; attempt++ {
		if attempt > issueCollisionRetries {
			return nil, errors.New("redemption code generation exhausted retries")
		}
		need := quantity - len(out)
		candidates := make([]string, 0, need)
		for len(candidates) < need {
			code, err := generateRedemptionCode()
			if err != nil {
				return nil, err
			}
			if _, dup := seen[code]; dup {
				continue
			}
			seen[code] = struct{}{}
			candidates = append(candidates, code)
		}
		hashes := make([]string, len(candidates))
		for i, code := range candidates {
			hashes[i] = HashRedemptionCode(code)
		}
		existing, err := repo.ExistingHashes(hashes)
		if err != nil {
			return nil, err
		}
		for i, code := range candidates {
			if _, taken := existing[hashes[i]]; !taken {
				out = append(out, code)
			}
		}
	}
	return out, nil
}

// ListCodes 后台分页查询兑换码
func (s *RedemptionService) ListCodes(ctx context.Context, adminID uint, filter repository.RedemptionCodeListFilter) ([]models.RedemptionCode, int64, error) {
	if err := requirePermission(ctx, s.permissions, adminID, constants.PermissionRedemptionView); err != nil {
		return nil, 0, err
	}
	return s.codeRepo.WithTx(s.db.WithContext(ctx)).List(filter)
}

// DisableCode 停用未用完的兑换码
func (s *RedemptionService) DisableCode(ctx context.Context, adminID, codeID uint) (*models.RedemptionCode, error) {
	if err := requirePermission(ctx, s.permissions, adminID, constants.PermissionRedemptionIssue); err != nil {
		return nil, err
	}
	var out *models.RedemptionCode
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.codeRepo.WithTx(tx)
		row, err := repo.GetByIDForUpdate(codeID)
		if err != nil {
			return err
		}
		if row == nil {
			return ErrInvalidCode
		}
		if row.Status != constants.RedemptionStatusActive {
			return ErrCodeNotDisableable
		}
		row.Status = constants.RedemptionStatusDisabled
		row.UpdatedAt = s.now()
		if err := repo.Update(row); err != nil {
			return err
		}
		out = row
		return nil
	})
	if err != nil {
		return nil, err
	}
	logger.FromContext(ctx).Infow("redemption_code_disabled", "admin_id", adminID, "code_id", codeID)
	return out, nil
}

func codeSuffix(code string) string {
	if len(code) <= 4 {
		return code
	}
	return code[len(code)-4:]
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate")
}
