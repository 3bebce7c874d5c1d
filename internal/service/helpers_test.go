package service

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/credit-ledger/internal/constants"
	"github.com/credit-ledger/internal/models"
	"github.com/credit-ledger/internal/payment"
	"github.com/credit-ledger/internal/repository"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// permissionStub 按管理员ID配置权限集合
type permissionStub map[uint][]string

func (p permissionStub) HasPermission(_ context.Context, adminID uint, permission string) (bool, error) {
	for _, granted := range p[adminID] {
		if granted == permission {
			return true, nil
		}
	}
	return false, nil
}

const (
	testIssuerAdmin  uint = 1
	testReviewAdmin  uint = 2
	testFinanceAdmin uint = 3
	testNobodyAdmin  uint = 99
)

func testPermissions() permissionStub {
	return permissionStub{
		testIssuerAdmin: {
			constants.PermissionRedemptionIssue,
			constants.PermissionRedemptionView,
			constants.PermissionCreditGrant,
		},
		testReviewAdmin:  {constants.PermissionWithdrawReview},
		testFinanceAdmin: {constants.PermissionWithdrawReview, constants.PermissionWithdrawPayout},
	}
}

type ledgerFixture struct {
	db         *gorm.DB
	now        time.Time
	registry   *payment.Registry
	credits    *CreditService
	subs       *SubscriptionService
	redemption *RedemptionService
	commission *CommissionService
	events     *PaymentEventService
}

func openServiceTestDB(t *testing.T, maxConns int) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", name, time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite failed: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("get sql db failed: %v", err)
	}
	sqlDB.SetMaxOpenConns(maxConns)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := models.Migrate(db); err != nil {
		t.Fatalf("migrate failed: %v", err)
	}
	return db
}

// openConcurrentTestDB 文件库多连接，写事务走 BEGIN IMMEDIATE，用于并发用例
func openConcurrentTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ledger.db")
	db, err := models.Open("sqlite", path, models.DBPoolConfig{MaxOpenConns: 8, MaxIdleConns: 8}, "silent")
	if err != nil {
		t.Fatalf("open sqlite file failed: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("get sql db failed: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := models.Migrate(db); err != nil {
		t.Fatalf("migrate failed: %v", err)
	}
	return db
}

func newLedgerFixture(t *testing.T, providers ...payment.Provider) *ledgerFixture {
	t.Helper()
	return newLedgerFixtureWithDB(t, openServiceTestDB(t, 1), providers...)
}

func newLedgerFixtureWithDB(t *testing.T, db *gorm.DB, providers ...payment.Provider) *ledgerFixture {
	t.Helper()
	perms := testPermissions()
	orderRepo := repository.NewOrderRepository(db)
	planRepo := repository.NewPlanRepository(db)
	subRepo := repository.NewSubscriptionRepository(db)

	f := &ledgerFixture{
		db:       db,
		now:      time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC),
		registry: payment.NewRegistry(providers...),
	}
	f.credits = NewCreditService(db, repository.NewCreditRepository(db), nil, perms)
	f.subs = NewSubscriptionService(db, subRepo, f.registry, 24)
	f.redemption = NewRedemptionService(db, repository.NewRedemptionCodeRepository(db), planRepo, orderRepo, f.subs, f.credits, perms, RedemptionOptions{
		CreditValidityDays: 30,
		MaxIssueQuantity:   50,
	})
	f.commission = NewCommissionService(db, repository.NewAffiliateRepository(db), orderRepo, perms, "10")
	f.events = NewPaymentEventService(db, orderRepo, planRepo, subRepo, f.subs, f.credits, f.commission, f.registry, nil)
	f.setNow(f.now)
	return f
}

// setNow 统一固定各服务时钟
func (f *ledgerFixture) setNow(now time.Time) {
	f.now = now
	clock := func() time.Time { return f.now }
	f.credits.now = clock
	f.subs.now = clock
	f.redemption.now = clock
	f.commission.now = clock
	f.events.now = clock
}

func (f *ledgerFixture) createPlan(t *testing.T, plan models.Plan) *models.Plan {
	t.Helper()
	if plan.Currency == "" {
		plan.Currency = "USD"
	}
	if plan.IntervalCount == 0 {
		plan.IntervalCount = 1
	}
	plan.IsActive = true
	if err := f.db.Create(&plan).Error; err != nil {
		t.Fatalf("create plan failed: %v", err)
	}
	return &plan
}

func (f *ledgerFixture) createCode(t *testing.T, plaintext string, row models.RedemptionCode) *models.RedemptionCode {
	t.Helper()
	row.CodeHash = HashRedemptionCode(plaintext)
	row.CodeHint = codeSuffix(normalizeRedemptionCode(plaintext))
	if row.Type == "" {
		row.Type = constants.RedemptionTypeCredits
	}
	if row.MaxUses == 0 {
		row.MaxUses = 1
	}
	if row.Status == "" {
		row.Status = constants.RedemptionStatusActive
	}
	row.IssuedAt = f.now
	if err := f.db.Create(&row).Error; err != nil {
		t.Fatalf("create redemption code failed: %v", err)
	}
	return &row
}

func (f *ledgerFixture) createOrder(t *testing.T, order models.Order) *models.Order {
	t.Helper()
	if order.Status == "" {
		order.Status = constants.OrderStatusPending
	}
	if order.Source == "" {
		order.Source = constants.OrderSourceCheckout
	}
	if order.Currency == "" {
		order.Currency = "USD"
	}
	order.CreatedAt = f.now
	order.UpdatedAt = f.now
	if err := f.db.Create(&order).Error; err != nil {
		t.Fatalf("create order failed: %v", err)
	}
	return &order
}

func (f *ledgerFixture) grant(t *testing.T, userID uint, credits int64, expiresAt *time.Time) *models.CreditTransaction {
	t.Helper()
	txn, err := f.credits.Grant(context.Background(), GrantInput{
		UserID:    userID,
		Credits:   credits,
		Scene:     constants.CreditSceneAdmin,
		ExpiresAt: expiresAt,
	})
	if err != nil {
		t.Fatalf("grant failed: %v", err)
	}
	return txn
}

func (f *ledgerFixture) balance(t *testing.T, userID uint) int64 {
	t.Helper()
	balance, err := f.credits.Balance(context.Background(), userID)
	if err != nil {
		t.Fatalf("balance failed: %v", err)
	}
	return balance
}

func (f *ledgerFixture) countActiveSubscriptions(t *testing.T, userID uint) int64 {
	t.Helper()
	var count int64
	err := f.db.Model(&models.Subscription{}).
		Where("user_id = ? AND status = ?", userID, constants.SubscriptionStatusActive).
		Count(&count).Error
	if err != nil {
		t.Fatalf("count subscriptions failed: %v", err)
	}
	return count
}

func money(raw string) models.Money {
	return models.NewMoney(decimal.RequireFromString(raw))
}

func timePtr(t time.Time) *time.Time {
	return &t
}
