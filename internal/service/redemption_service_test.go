package service

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/credit-ledger/internal/constants"
	"github.com/credit-ledger/internal/models"
	"github.com/credit-ledger/internal/repository"
)

var redemptionCodePattern = regexp.MustCompile(`^[A-HJ-NP-Z2-9]{4}(-[A-HJ-NP-Z2-9]{4}){3}$`)

func TestRedeemCreditCodeSingleUse(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	f.createCode(t, "ABCD-EFGH-1234-5678", models.RedemptionCode{
		Credits:            100,
		CreditValidityDays: 30,
		MaxUses:            1,
	})

	result, err := f.redemption.Redeem(ctx, RedeemInput{Code: "ABCD-EFGH-1234-5678", UserID: 1})
	if err != nil {
		t.Fatalf("first redeem failed: %v", err)
	}
	if result.Credits != 100 || result.Type != constants.RedemptionTypeCredits {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.ExpiresAt == nil || !result.ExpiresAt.Equal(f.now.AddDate(0, 0, 30)) {
		t.Fatalf("credits should expire in 30 days, got %v", result.ExpiresAt)
	}
	if result.TransactionNo == "" {
		t.Fatalf("expected transaction no")
	}
	if got := f.balance(t, 1); got != 100 {
		t.Fatalf("balance = %d, want 100", got)
	}

	if _, err := f.redemption.Redeem(ctx, RedeemInput{Code: "ABCD-EFGH-1234-5678", UserID: 1}); !errors.Is(err, ErrAlreadyRedeemed) {
		t.Fatalf("same user should get already_redeemed, got %v", err)
	}
	if _, err := f.redemption.Redeem(ctx, RedeemInput{Code: "ABCD-EFGH-1234-5678", UserID: 2}); !errors.Is(err, ErrCodeUsedOrExpired) {
		t.Fatalf("other user should get code_used_or_expired, got %v", err)
	}
	if got := f.balance(t, 2); got != 0 {
		t.Fatalf("rejected redeem must not grant credits, got %d", got)
	}

	var row models.RedemptionCode
	if err := f.db.Where("code_hash = ?", HashRedemptionCode("ABCD-EFGH-1234-5678")).First(&row).Error; err != nil {
		t.Fatalf("load code failed: %v", err)
	}
	if row.UsedCount != 1 || row.Status != constants.RedemptionStatusUsed {
		t.Fatalf("unexpected code state: used=%d status=%s", row.UsedCount, row.Status)
	}
	var records int64
	f.db.Model(&models.RedemptionRecord{}).Where("code_id = ?", row.ID).Count(&records)
	if records != 1 {
		t.Fatalf("records = %d, want 1", records)
	}
}

func TestRedeemNormalizesInput(t *testing.T) {
	f := newLedgerFixture(t)
	f.createCode(t, "ABCD-EFGH-2345-6789", models.RedemptionCode{Credits: 5})

	if _, err := f.redemption.Redeem(context.Background(), RedeemInput{Code: "  abcd efgh 2345 6789 ", UserID: 7}); err != nil {
		t.Fatalf("redeem with loose formatting failed: %v", err)
	}
	if got := f.balance(t, 7); got != 5 {
		t.Fatalf("balance = %d, want 5", got)
	}
}

func TestRedeemRejections(t *testing.T) {
	f := newLedgerFixture(t)
	past := f.now.Add(-time.Hour)
	f.createCode(t, "EXPI-REDC-ODE2-2222", models.RedemptionCode{Credits: 10, ExpiresAt: &past})
	f.createCode(t, "DISA-BLED-CODE-3333", models.RedemptionCode{Credits: 10, Status: constants.RedemptionStatusDisabled})

	cases := []struct {
		name string
		code string
		want error
	}{
		{name: "empty", code: "   ", want: ErrInvalidCode},
		{name: "unknown", code: "ZZZZ-ZZZZ-ZZZZ-ZZZZ", want: ErrInvalidCode},
		{name: "expired", code: "EXPI-REDC-ODE2-2222", want: ErrCodeExpired},
		{name: "disabled", code: "DISA-BLED-CODE-3333", want: ErrCodeUsedOrExpired},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.redemption.Redeem(context.Background(), RedeemInput{Code: tc.code, UserID: 1})
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
	if got := f.balance(t, 1); got != 0 {
		t.Fatalf("rejections must not grant, got %d", got)
	}
}

func TestRedeemMembershipCode(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	f.createPlan(t, models.Plan{
		PlanID:        "pro-yearly",
		Name:          "Pro Yearly",
		Interval:      constants.PlanIntervalYear,
		Price:         money("99.00"),
		CreditsAmount: 500,
	})

	issued, err := f.redemption.IssueMembership(ctx, IssueMembershipInput{
		AdminID:  testIssuerAdmin,
		PlanID:   "pro-yearly",
		Quantity: 1,
	})
	if err != nil {
		t.Fatalf("issue membership failed: %v", err)
	}
	var row models.RedemptionCode
	if err := f.db.Where("code_hash = ?", HashRedemptionCode(issued.Codes[0])).First(&row).Error; err != nil {
		t.Fatalf("load code failed: %v", err)
	}
	if row.MembershipDays != 365 || row.Credits != 500 {
		t.Fatalf("membership code should follow plan: days=%d credits=%d", row.MembershipDays, row.Credits)
	}

	result, err := f.redemption.Redeem(ctx, RedeemInput{Code: issued.Codes[0], UserID: 42})
	if err != nil {
		t.Fatalf("redeem membership failed: %v", err)
	}
	if result.Type != constants.RedemptionTypeMembership || result.PlanID != "pro-yearly" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.OrderNo == "" || result.SubscriptionNo == "" {
		t.Fatalf("membership redeem should create order and subscription: %+v", result)
	}

	sub, err := f.subs.Current(ctx, 42)
	if err != nil || sub == nil {
		t.Fatalf("current subscription missing: %v", err)
	}
	if !sub.CurrentPeriodEnd.Equal(f.now.AddDate(0, 0, 365)) {
		t.Fatalf("period end = %v, want %v", sub.CurrentPeriodEnd, f.now.AddDate(0, 0, 365))
	}
	if result.ExpiresAt == nil || !result.ExpiresAt.Equal(sub.CurrentPeriodEnd) {
		t.Fatalf("credits should expire with the membership period")
	}

	var order models.Order
	if err := f.db.Where("order_no = ?", result.OrderNo).First(&order).Error; err != nil {
		t.Fatalf("load order failed: %v", err)
	}
	if order.Status != constants.OrderStatusPaid || order.Source != constants.OrderSourceRedemption {
		t.Fatalf("unexpected order: status=%s source=%s", order.Status, order.Source)
	}
	if order.SubscriptionID == nil || *order.SubscriptionID != sub.ID {
		t.Fatalf("order should link subscription")
	}
	if got := f.balance(t, 42); got != 500 {
		t.Fatalf("balance = %d, want 500", got)
	}
}

func TestRedeemMembershipKeepsSingleActiveSubscription(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	f.createPlan(t, models.Plan{PlanID: "pro-monthly", Name: "Pro", Interval: constants.PlanIntervalMonth})

	issued, err := f.redemption.IssueMembership(ctx, IssueMembershipInput{
		AdminID:        testIssuerAdmin,
		PlanID:         "pro-monthly",
		Quantity:       2,
		MembershipDays: 30,
	})
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	for _, code := range issued.Codes {
		if _, err := f.redemption.Redeem(ctx, RedeemInput{Code: code, UserID: 5}); err != nil {
			t.Fatalf("redeem %s failed: %v", code, err)
		}
	}
	if got := f.countActiveSubscriptions(t, 5); got != 1 {
		t.Fatalf("active subscriptions = %d, want 1", got)
	}
	var expired int64
	f.db.Model(&models.Subscription{}).Where("user_id = ? AND status = ?", 5, constants.SubscriptionStatusExpired).Count(&expired)
	if expired != 1 {
		t.Fatalf("previous subscription should be expired, got %d", expired)
	}
}

func TestIssueCreditCodes(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()

	if _, err := f.redemption.IssueCredits(ctx, IssueCreditsInput{AdminID: testNobodyAdmin, Credits: 10, Quantity: 1}); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected permission denied, got %v", err)
	}
	for _, quantity := range []int{0, 51} {
		if _, err := f.redemption.IssueCredits(ctx, IssueCreditsInput{AdminID: testIssuerAdmin, Credits: 10, Quantity: quantity}); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("quantity %d should be rejected, got %v", quantity, err)
		}
	}
	if _, err := f.redemption.IssueCredits(ctx, IssueCreditsInput{AdminID: testIssuerAdmin, Credits: 10, Quantity: 1, ExpiresAt: timePtr(f.now)}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("past expires_at should be rejected, got %v", err)
	}

	result, err := f.redemption.IssueCredits(ctx, IssueCreditsInput{AdminID: testIssuerAdmin, Credits: 25, Quantity: 5})
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	if result.BatchNo == "" || len(result.Codes) != 5 {
		t.Fatalf("unexpected issue result: %+v", result)
	}
	seen := map[string]bool{}
	for _, code := range result.Codes {
		if !redemptionCodePattern.MatchString(code) {
			t.Fatalf("code %q does not match format", code)
		}
		if seen[code] {
			t.Fatalf("duplicate code %q", code)
		}
		seen[code] = true
	}

	rows, total, err := f.redemption.ListCodes(ctx, testIssuerAdmin, repository.RedemptionCodeListFilter{Page: 1, PageSize: 20})
	if err != nil {
		t.Fatalf("list codes failed: %v", err)
	}
	if total != 5 || len(rows) != 5 {
		t.Fatalf("total = %d rows = %d, want 5", total, len(rows))
	}
	for _, row := range rows {
		if row.CreditValidityDays != 30 {
			t.Fatalf("default validity should apply, got %d", row.CreditValidityDays)
		}
		if row.CodeHash == "" || seen[row.CodeHash] {
			t.Fatalf("code must be stored hashed")
		}
		if row.BatchID == nil {
			t.Fatalf("code should belong to a batch")
		}
	}

	permanent, err := f.redemption.IssueCredits(ctx, IssueCreditsInput{AdminID: testIssuerAdmin, Credits: 1, Quantity: 1, ValidityDays: -1})
	if err != nil {
		t.Fatalf("issue permanent failed: %v", err)
	}
	redeemed, err := f.redemption.Redeem(ctx, RedeemInput{Code: permanent.Codes[0], UserID: 3})
	if err != nil {
		t.Fatalf("redeem permanent failed: %v", err)
	}
	if redeemed.ExpiresAt != nil {
		t.Fatalf("permanent credits should not expire, got %v", redeemed.ExpiresAt)
	}
}

func TestDisableCode(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	row := f.createCode(t, "STOP-STOP-STOP-6666", models.RedemptionCode{Credits: 10})

	if _, err := f.redemption.DisableCode(ctx, testReviewAdmin, row.ID); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected permission denied, got %v", err)
	}
	disabled, err := f.redemption.DisableCode(ctx, testIssuerAdmin, row.ID)
	if err != nil {
		t.Fatalf("disable failed: %v", err)
	}
	if disabled.Status != constants.RedemptionStatusDisabled {
		t.Fatalf("status = %s", disabled.Status)
	}
	if _, err := f.redemption.DisableCode(ctx, testIssuerAdmin, row.ID); !errors.Is(err, ErrCodeNotDisableable) {
		t.Fatalf("second disable should fail, got %v", err)
	}
	if _, err := f.redemption.DisableCode(ctx, testIssuerAdmin, 9999); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("unknown code should fail, got %v", err)
	}
	if _, err := f.redemption.Redeem(ctx, RedeemInput{Code: "STOP-STOP-STOP-6666", UserID: 1}); !errors.Is(err, ErrCodeUsedOrExpired) {
		t.Fatalf("disabled code should not redeem, got %v", err)
	}
}

func TestNormalizeRedemptionCode(t *testing.T) {
	cases := map[string]string{
		"abcd-efgh-2345-6789":   "ABCD-EFGH-2345-6789",
		"ABCDEFGH23456789":      "ABCD-EFGH-2345-6789",
		" ab cd-efgh-2345-6789": "ABCD-EFGH-2345-6789",
		"short":                 "SHORT",
		"":                      "",
	}
	for in, want := range cases {
		if got := normalizeRedemptionCode(in); got != want {
			t.Fatalf("normalize(%q) = %q, want %q", in, got, want)
		}
	}
	if HashRedemptionCode("abcdefgh23456789") != HashRedemptionCode("ABCD-EFGH-2345-6789") {
		t.Fatalf("hash should be computed on the normalized form")
	}
}

func TestGenerateRedemptionCodeFormat(t *testing.T) {
	for i := 0; i < 100; i++ {
		code, err := generateRedemptionCode()
		if err != nil {
			t.Fatalf("generate failed: %v", err)
		}
		if !redemptionCodePattern.MatchString(code) {
			t.Fatalf("code %q does not match format", code)
		}
	}
}
