package service

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"

	"github.com/credit-ledger/internal/constants"
	"github.com/credit-ledger/internal/models"
)

func TestConsumeEarliestExpiryFirst(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	late := f.grant(t, 1, 100, timePtr(f.now.AddDate(0, 0, 60)))
	early := f.grant(t, 1, 100, timePtr(f.now.AddDate(0, 0, 10)))

	result, err := f.credits.Consume(ctx, ConsumeInput{UserID: 1, Credits: 150, ReferenceType: "job", ReferenceID: "job-1"})
	if err != nil {
		t.Fatalf("consume failed: %v", err)
	}
	if result.Transaction.Type != constants.CreditTxnTypeConsume || result.Transaction.Scene != constants.CreditSceneUsage {
		t.Fatalf("unexpected consume txn: %+v", result.Transaction)
	}
	if len(result.Breakdown) != 2 {
		t.Fatalf("breakdown = %+v", result.Breakdown)
	}
	if result.Breakdown[0].GrantTxnID != early.ID || result.Breakdown[0].Credits != 100 || result.Breakdown[0].Remaining != 0 {
		t.Fatalf("first slice should drain the earliest grant: %+v", result.Breakdown[0])
	}
	if result.Breakdown[1].GrantTxnID != late.ID || result.Breakdown[1].Credits != 50 || result.Breakdown[1].Remaining != 50 {
		t.Fatalf("second slice should take 50 from the later grant: %+v", result.Breakdown[1])
	}
	if got := f.balance(t, 1); got != 50 {
		t.Fatalf("balance = %d, want 50", got)
	}

	var consumptions []models.CreditConsumption
	if err := f.db.Where("consume_txn_id = ?", result.Transaction.ID).Find(&consumptions).Error; err != nil {
		t.Fatalf("load consumptions failed: %v", err)
	}
	if len(consumptions) != 2 {
		t.Fatalf("consumptions = %d, want 2", len(consumptions))
	}

	if _, err := f.credits.Consume(ctx, ConsumeInput{UserID: 1, Credits: 9999}); !errors.Is(err, ErrInsufficientCredits) {
		t.Fatalf("expected insufficient credits, got %v", err)
	}
	if got := f.balance(t, 1); got != 50 {
		t.Fatalf("failed consume must not change balance, got %d", got)
	}
	var reloaded models.CreditTransaction
	f.db.First(&reloaded, late.ID)
	if reloaded.RemainingCredits != 50 {
		t.Fatalf("late grant remaining = %d, want 50", reloaded.RemainingCredits)
	}
	var consumes int64
	f.db.Model(&models.CreditTransaction{}).Where("type = ?", constants.CreditTxnTypeConsume).Count(&consumes)
	if consumes != 1 {
		t.Fatalf("consume txns = %d, want 1", consumes)
	}
}

func TestConsumeSkipsExpiredGrants(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	f.grant(t, 2, 40, timePtr(f.now.AddDate(0, 0, 5)))
	permanent := f.grant(t, 2, 40, nil)

	f.setNow(f.now.AddDate(0, 0, 6))
	if got := f.balance(t, 2); got != 40 {
		t.Fatalf("expired grant must not count, balance = %d", got)
	}

	result, err := f.credits.Consume(ctx, ConsumeInput{UserID: 2, Credits: 30})
	if err != nil {
		t.Fatalf("consume failed: %v", err)
	}
	if len(result.Breakdown) != 1 || result.Breakdown[0].GrantTxnID != permanent.ID {
		t.Fatalf("only the permanent grant is still active: %+v", result.Breakdown)
	}
	if _, err := f.credits.Consume(ctx, ConsumeInput{UserID: 2, Credits: 11}); !errors.Is(err, ErrInsufficientCredits) {
		t.Fatalf("expected insufficient credits, got %v", err)
	}
}

func TestConsumeOrdersExpiringBeforePermanent(t *testing.T) {
	f := newLedgerFixture(t)
	permanent := f.grant(t, 3, 10, nil)
	expiring := f.grant(t, 3, 10, timePtr(f.now.AddDate(0, 1, 0)))

	result, err := f.credits.Consume(context.Background(), ConsumeInput{UserID: 3, Credits: 15})
	if err != nil {
		t.Fatalf("consume failed: %v", err)
	}
	if result.Breakdown[0].GrantTxnID != expiring.ID || result.Breakdown[1].GrantTxnID != permanent.ID {
		t.Fatalf("expiring grant should be consumed before permanent: %+v", result.Breakdown)
	}
}

func TestGrantAndConsumeValidation(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	if _, err := f.credits.Grant(ctx, GrantInput{UserID: 1, Credits: 0, Scene: constants.CreditSceneAdmin}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("zero grant should fail, got %v", err)
	}
	if _, err := f.credits.Grant(ctx, GrantInput{UserID: 1, Credits: 5}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("grant without scene should fail, got %v", err)
	}
	if _, err := f.credits.Consume(ctx, ConsumeInput{UserID: 1, Credits: -1}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("negative consume should fail, got %v", err)
	}
	if _, err := f.credits.Balance(ctx, 0); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("balance without user should fail, got %v", err)
	}
}

func TestAdminGrantRequiresPermission(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	if _, err := f.credits.AdminGrant(ctx, testReviewAdmin, GrantInput{UserID: 4, Credits: 10}); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected permission denied, got %v", err)
	}
	if _, err := f.credits.AdminGrant(ctx, 0, GrantInput{UserID: 4, Credits: 10}); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("anonymous admin should be denied, got %v", err)
	}
	txn, err := f.credits.AdminGrant(ctx, testIssuerAdmin, GrantInput{UserID: 4, Credits: 10, Scene: "ignored"})
	if err != nil {
		t.Fatalf("admin grant failed: %v", err)
	}
	if txn.Scene != constants.CreditSceneAdmin || txn.ReferenceType != constants.CreditRefAdmin || txn.ReferenceID != "1" {
		t.Fatalf("unexpected admin grant: %+v", txn)
	}
	if got := f.balance(t, 4); got != 10 {
		t.Fatalf("balance = %d, want 10", got)
	}
}

func TestListTransactions(t *testing.T) {
	f := newLedgerFixture(t)
	for i := 0; i < 3; i++ {
		f.grant(t, 6, 10, nil)
	}
	f.grant(t, 7, 10, nil)
	rows, total, err := f.credits.ListTransactions(context.Background(), 6, 1, 2)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if total != 3 || len(rows) != 2 {
		t.Fatalf("total = %d rows = %d", total, len(rows))
	}
}

func TestConsumptionDetailScopedToOwner(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	soon := f.grant(t, 9, 30, timePtr(f.now.AddDate(0, 0, 5)))
	permanent := f.grant(t, 9, 100, nil)
	consumed, err := f.credits.Consume(ctx, ConsumeInput{UserID: 9, Credits: 50})
	if err != nil {
		t.Fatalf("consume failed: %v", err)
	}

	txn, rows, err := f.credits.ConsumptionDetail(ctx, 9, consumed.Transaction.ID)
	if err != nil {
		t.Fatalf("detail failed: %v", err)
	}
	if txn.ID != consumed.Transaction.ID || len(rows) != 2 {
		t.Fatalf("unexpected detail: txn=%d rows=%d", txn.ID, len(rows))
	}
	if rows[0].GrantTxnID != soon.ID || rows[0].Credits != 30 {
		t.Fatalf("first row should drain the expiring grant: %+v", rows[0])
	}
	if rows[1].GrantTxnID != permanent.ID || rows[1].Credits != 20 {
		t.Fatalf("second row should take the rest from the permanent grant: %+v", rows[1])
	}

	if _, _, err := f.credits.ConsumptionDetail(ctx, 10, consumed.Transaction.ID); !errors.Is(err, ErrCreditTxnNotFound) {
		t.Fatalf("other user should not see the detail, got %v", err)
	}
	if _, _, err := f.credits.ConsumptionDetail(ctx, 9, soon.ID); !errors.Is(err, ErrCreditTxnNotFound) {
		t.Fatalf("grant has no consumption detail, got %v", err)
	}
	if _, _, err := f.credits.ConsumptionDetail(ctx, 9, 0); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

// memoryBalanceCache 记录缓存读写的内存实现
type memoryBalanceCache struct {
	mu      sync.Mutex
	values  map[uint]int64
	deletes int
}

func (c *memoryBalanceCache) GetBalance(_ context.Context, userID uint) (int64, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.values[userID]
	return v, ok, nil
}

func (c *memoryBalanceCache) SetBalance(_ context.Context, userID uint, balance int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[userID] = balance
	return nil
}

func (c *memoryBalanceCache) DeleteBalance(_ context.Context, userID uint) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.values, userID)
	c.deletes++
	return nil
}

func TestCachedBalanceInvalidatedOnWrite(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	cache := &memoryBalanceCache{values: map[uint]int64{}}
	f.credits.cache = cache

	f.grant(t, 9, 30, nil)
	got, err := f.credits.CachedBalance(ctx, 9)
	if err != nil || got != 30 {
		t.Fatalf("cached balance = %d, %v", got, err)
	}
	if cache.values[9] != 30 {
		t.Fatalf("balance should be cached after a miss")
	}

	if _, err := f.credits.Consume(ctx, ConsumeInput{UserID: 9, Credits: 10}); err != nil {
		t.Fatalf("consume failed: %v", err)
	}
	if _, ok := cache.values[9]; ok {
		t.Fatalf("consume should invalidate the cached balance")
	}
	got, err = f.credits.CachedBalance(ctx, 9)
	if err != nil || got != 20 {
		t.Fatalf("cached balance after consume = %d, %v", got, err)
	}
}

// 随机发放与消耗序列下，余额始终等于发放总额减去成功消耗总额，且从不为负
func TestLedgerRandomSequenceKeepsBalanceConsistent(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(20260301))

	var granted, consumed int64
	for i := 0; i < 80; i++ {
		if rng.Intn(2) == 0 {
			credits := int64(rng.Intn(50) + 1)
			f.grant(t, 11, credits, timePtr(f.now.AddDate(0, 0, rng.Intn(90)+1)))
			granted += credits
			continue
		}
		want := int64(rng.Intn(80) + 1)
		result, err := f.credits.Consume(ctx, ConsumeInput{UserID: 11, Credits: want})
		switch {
		case err == nil:
			var sum int64
			for _, slice := range result.Breakdown {
				if slice.Credits <= 0 || slice.Remaining < 0 {
					t.Fatalf("invalid slice: %+v", slice)
				}
				sum += slice.Credits
			}
			if sum != want {
				t.Fatalf("breakdown sums to %d, want %d", sum, want)
			}
			consumed += want
		case errors.Is(err, ErrInsufficientCredits):
			if granted-consumed >= want {
				t.Fatalf("consume of %d rejected with %d available", want, granted-consumed)
			}
		default:
			t.Fatalf("unexpected error: %v", err)
		}
		balance := f.balance(t, 11)
		if balance < 0 || balance != granted-consumed {
			t.Fatalf("balance = %d, want %d", balance, granted-consumed)
		}
	}
}
