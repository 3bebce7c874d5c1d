package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/credit-ledger/internal/constants"
	"github.com/credit-ledger/internal/models"
	"github.com/credit-ledger/internal/payment"

	"github.com/shopspring/decimal"
)

// fakeProvider 可编排的支付渠道
type fakeProvider struct {
	name        string
	checkoutErr error
	event       *payment.WebhookEvent
	verifyErr   error
	canceled    []string
	renewed     []string
	renewErr    error
	lastRequest payment.CheckoutRequest
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) CreateCheckout(_ context.Context, req payment.CheckoutRequest) (*payment.CheckoutResult, error) {
	p.lastRequest = req
	if p.checkoutErr != nil {
		return nil, p.checkoutErr
	}
	return &payment.CheckoutResult{
		ProviderRef: "cs_" + req.OrderNo,
		PayURL:      "https://pay.example.com/" + req.OrderNo,
		Raw:         models.MustPayload(map[string]string{"id": "cs_" + req.OrderNo}),
	}, nil
}

func (p *fakeProvider) VerifyWebhook(context.Context, map[string]string, []byte) (*payment.WebhookEvent, error) {
	if p.verifyErr != nil {
		return nil, p.verifyErr
	}
	return p.event, nil
}

func (p *fakeProvider) Renew(_ context.Context, providerSubscriptionID string) error {
	if p.renewErr != nil {
		return p.renewErr
	}
	p.renewed = append(p.renewed, providerSubscriptionID)
	return nil
}

func (p *fakeProvider) Cancel(_ context.Context, providerSubscriptionID string) error {
	p.canceled = append(p.canceled, providerSubscriptionID)
	return nil
}

func countGrantsForOrder(t *testing.T, f *ledgerFixture, orderNo string) int64 {
	t.Helper()
	var count int64
	if err := f.db.Model(&models.CreditTransaction{}).
		Where("type = ? AND reference_type = ? AND reference_id = ?", constants.CreditTxnTypeGrant, constants.CreditRefOrder, orderNo).
		Count(&count).Error; err != nil {
		t.Fatalf("count grants failed: %v", err)
	}
	return count
}

func TestApplyPaymentEventIsIdempotent(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	order := f.createOrder(t, models.Order{
		OrderNo:         "LO-PACK-1",
		UserID:          20,
		Amount:          money("9.90"),
		Credits:         200,
		PaymentProvider: constants.PaymentProviderStripe,
	})

	ev := payment.PaymentEvent{OrderNo: order.OrderNo, Status: "success", Provider: constants.PaymentProviderStripe, ProviderRef: "pi_1"}
	first, err := f.events.ApplyPaymentEvent(ctx, ev)
	if err != nil {
		t.Fatalf("first apply failed: %v", err)
	}
	if !first.Applied || first.Order.Status != constants.OrderStatusPaid {
		t.Fatalf("first apply should mark paid: %+v", first)
	}
	if first.CreditTxn == nil || first.CreditTxn.Scene != constants.CreditScenePayment || first.CreditTxn.ExpiresAt != nil {
		t.Fatalf("one-off pack should grant permanent payment credits: %+v", first.CreditTxn)
	}

	second, err := f.events.ApplyPaymentEvent(ctx, ev)
	if err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	if second.Applied {
		t.Fatalf("replay must be a no-op")
	}
	if got := countGrantsForOrder(t, f, order.OrderNo); got != 1 {
		t.Fatalf("grants = %d, want 1", got)
	}
	if got := f.balance(t, 20); got != 200 {
		t.Fatalf("balance = %d, want 200", got)
	}

	late, err := f.events.ApplyPaymentEvent(ctx, payment.PaymentEvent{OrderNo: order.OrderNo, Status: constants.PaymentEventFailed})
	if err != nil {
		t.Fatalf("late failure event errored: %v", err)
	}
	if late.Applied || late.Order.Status != constants.OrderStatusPaid {
		t.Fatalf("failure after success must not change the order: %+v", late.Order)
	}
}

func TestApplyPaymentEventFailureAndProcessing(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	order := f.createOrder(t, models.Order{OrderNo: "LO-FAIL-1", UserID: 21, Amount: money("5.00"), Credits: 50})

	info := models.MustPayload(map[string]string{"state": "USERPAYING"})
	if _, err := f.events.ApplyPaymentEvent(ctx, payment.PaymentEvent{OrderNo: order.OrderNo, Status: constants.PaymentEventProcessing, PaymentInfo: info}); err != nil {
		t.Fatalf("processing failed: %v", err)
	}
	var reloaded models.Order
	f.db.First(&reloaded, order.ID)
	if reloaded.Status != constants.OrderStatusPending || reloaded.PaymentPayload.IsEmpty() {
		t.Fatalf("processing should keep pending and store payload: %+v", reloaded)
	}

	result, err := f.events.ApplyPaymentEvent(ctx, payment.PaymentEvent{OrderNo: order.OrderNo, Status: constants.PaymentEventCanceled})
	if err != nil {
		t.Fatalf("cancel event failed: %v", err)
	}
	if !result.Applied || result.Order.Status != constants.OrderStatusFailed || result.Order.FailedAt == nil {
		t.Fatalf("cancel should fail the pending order: %+v", result.Order)
	}
	if got := f.balance(t, 21); got != 0 {
		t.Fatalf("failed order must not grant, got %d", got)
	}
}

func TestApplyPaymentEventRejectsUnknownInput(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	f.createOrder(t, models.Order{OrderNo: "LO-UNK-1", UserID: 22, Credits: 10})

	_, err := f.events.ApplyPaymentEvent(ctx, payment.PaymentEvent{OrderNo: "LO-UNK-1", Status: "REFUNDED"})
	if !errors.Is(err, ErrUnrecognizedEventStatus) || !IsFatal(err) {
		t.Fatalf("unknown status must be a fatal error, got %v", err)
	}
	if _, err := f.events.ApplyPaymentEvent(ctx, payment.PaymentEvent{OrderNo: "LO-MISSING", Status: constants.PaymentEventSuccess}); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected order not found, got %v", err)
	}
	if _, err := f.events.ApplyPaymentEvent(ctx, payment.PaymentEvent{Status: constants.PaymentEventSuccess}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	if got := f.balance(t, 22); got != 0 {
		t.Fatalf("rejected events must not grant, got %d", got)
	}
}

func TestApplyPaymentEventWithoutProviderSubscription(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	f.createPlan(t, models.Plan{
		PlanID:        "pro-monthly",
		Name:          "Pro Monthly",
		Interval:      constants.PlanIntervalMonth,
		Price:         money("9.90"),
		Currency:      "CNY",
		CreditsAmount: 100,
	})
	order := f.createOrder(t, models.Order{
		OrderNo:         "LO-WX-1",
		UserID:          30,
		Amount:          money("9.90"),
		Currency:        "CNY",
		ProductID:       "pro-monthly",
		Credits:         100,
		PaymentProvider: constants.PaymentProviderWechatPay,
	})
	paidAt := f.now.Add(-time.Minute)

	result, err := f.events.ApplyPaymentEvent(ctx, payment.PaymentEvent{
		OrderNo:     order.OrderNo,
		Status:      constants.PaymentEventSuccess,
		Provider:    constants.PaymentProviderWechatPay,
		ProviderRef: "4200000001",
		PaidAt:      &paidAt,
	})
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	sub := result.Subscription
	if sub == nil {
		t.Fatalf("plan order should open a subscription")
	}
	if sub.ProviderSubscriptionID != "" || !sub.CancelAtPeriodEnd {
		t.Fatalf("single-period subscription expected: %+v", sub)
	}
	if !sub.CurrentPeriodEnd.Equal(paidAt.AddDate(0, 1, 0)) {
		t.Fatalf("period end = %v, want %v", sub.CurrentPeriodEnd, paidAt.AddDate(0, 1, 0))
	}
	if result.CreditTxn == nil || result.CreditTxn.Scene != constants.CreditSceneSubscription {
		t.Fatalf("subscription credits expected: %+v", result.CreditTxn)
	}
	if result.CreditTxn.ExpiresAt == nil || !result.CreditTxn.ExpiresAt.Equal(sub.CurrentPeriodEnd) {
		t.Fatalf("subscription credits should expire with the period")
	}
	if result.Order.SubscriptionID == nil || *result.Order.SubscriptionID != sub.ID {
		t.Fatalf("order should link the subscription")
	}
}

func TestApplyRenewalGrantsOncePerInvoice(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	f.createPlan(t, models.Plan{
		PlanID:        "pro-monthly",
		Name:          "Pro Monthly",
		Interval:      constants.PlanIntervalMonth,
		Price:         money("9.90"),
		CreditsAmount: 100,
	})
	order := f.createOrder(t, models.Order{
		OrderNo:         "LO-STRIPE-1",
		UserID:          31,
		Amount:          money("9.90"),
		ProductID:       "pro-monthly",
		Credits:         100,
		PaymentProvider: constants.PaymentProviderStripe,
	})
	periodStart := f.now
	periodEnd := f.now.AddDate(0, 1, 0)
	if _, err := f.events.ApplyPaymentEvent(ctx, payment.PaymentEvent{
		OrderNo:  order.OrderNo,
		Status:   constants.PaymentEventSuccess,
		Provider: constants.PaymentProviderStripe,
		Subscription: &payment.SubscriptionInfo{
			ProviderSubscriptionID: "sub_123",
			CurrentPeriodStart:     periodStart,
			CurrentPeriodEnd:       periodEnd,
		},
	}); err != nil {
		t.Fatalf("initial payment failed: %v", err)
	}

	renewal := payment.RenewalEvent{
		Provider:               constants.PaymentProviderStripe,
		ProviderSubscriptionID: "sub_123",
		ProviderRef:            "in_2",
		PeriodStart:            periodEnd,
		PeriodEnd:              periodEnd.AddDate(0, 1, 0),
		Amount:                 money("9.90"),
	}
	f.setNow(periodEnd.Add(time.Hour))
	first, err := f.events.ApplyRenewal(ctx, renewal)
	if err != nil {
		t.Fatalf("renewal failed: %v", err)
	}
	if !first.Applied || first.Order.Source != constants.OrderSourceRenewal {
		t.Fatalf("renewal should create a renewal order: %+v", first)
	}
	if !first.Subscription.CurrentPeriodEnd.Equal(renewal.PeriodEnd) {
		t.Fatalf("period should advance to %v, got %v", renewal.PeriodEnd, first.Subscription.CurrentPeriodEnd)
	}

	second, err := f.events.ApplyRenewal(ctx, renewal)
	if err != nil {
		t.Fatalf("renewal replay failed: %v", err)
	}
	if second.Applied {
		t.Fatalf("renewal replay must be a no-op")
	}
	var renewalGrants int64
	f.db.Model(&models.CreditTransaction{}).Where("user_id = ? AND scene = ?", 31, constants.CreditSceneRenewal).Count(&renewalGrants)
	if renewalGrants != 1 {
		t.Fatalf("renewal grants = %d, want 1", renewalGrants)
	}
	if got := f.countActiveSubscriptions(t, 31); got != 1 {
		t.Fatalf("active subscriptions = %d, want 1", got)
	}

	canceled, err := f.events.ApplyCancel(ctx, payment.CancelEvent{Provider: constants.PaymentProviderStripe, ProviderSubscriptionID: "sub_123"})
	if err != nil || !canceled.Applied {
		t.Fatalf("cancel failed: %v", err)
	}
	if _, err := f.events.ApplyRenewal(ctx, payment.RenewalEvent{
		Provider:               constants.PaymentProviderStripe,
		ProviderSubscriptionID: "sub_123",
		ProviderRef:            "in_3",
		PeriodEnd:              renewal.PeriodEnd.AddDate(0, 1, 0),
	}); !errors.Is(err, ErrSubscriptionNotActive) {
		t.Fatalf("renewal of canceled subscription should fail, got %v", err)
	}
	again, err := f.events.ApplyCancel(ctx, payment.CancelEvent{Provider: constants.PaymentProviderStripe, ProviderSubscriptionID: "sub_123"})
	if err != nil || again.Applied {
		t.Fatalf("second cancel should be a no-op: %v", err)
	}
}

func TestApplyUpdateSyncsPeriod(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	f.createPlan(t, models.Plan{PlanID: "pro-monthly", Name: "Pro", Interval: constants.PlanIntervalMonth, Price: money("9.90")})
	order := f.createOrder(t, models.Order{OrderNo: "LO-UPD-1", UserID: 32, Amount: money("9.90"), ProductID: "pro-monthly", PaymentProvider: constants.PaymentProviderStripe})
	if _, err := f.events.ApplyPaymentEvent(ctx, payment.PaymentEvent{
		OrderNo:      order.OrderNo,
		Status:       constants.PaymentEventSuccess,
		Subscription: &payment.SubscriptionInfo{ProviderSubscriptionID: "sub_upd"},
	}); err != nil {
		t.Fatalf("initial payment failed: %v", err)
	}

	end := f.now.AddDate(0, 2, 0)
	cancelAtEnd := true
	result, err := f.events.ApplyUpdate(ctx, payment.UpdateEvent{
		Provider:               constants.PaymentProviderStripe,
		ProviderSubscriptionID: "sub_upd",
		PeriodEnd:              &end,
		CancelAtPeriodEnd:      &cancelAtEnd,
	})
	if err != nil || !result.Applied {
		t.Fatalf("update failed: %v", err)
	}
	if !result.Subscription.CurrentPeriodEnd.Equal(end) || !result.Subscription.CancelAtPeriodEnd {
		t.Fatalf("update not applied: %+v", result.Subscription)
	}
	if got := f.balance(t, 32); got != 0 {
		t.Fatalf("update must not grant, got %d", got)
	}
	if _, err := f.events.ApplyUpdate(ctx, payment.UpdateEvent{Provider: constants.PaymentProviderStripe, ProviderSubscriptionID: "sub_missing"}); !errors.Is(err, ErrSubscriptionNotFound) {
		t.Fatalf("expected subscription not found, got %v", err)
	}
}

func TestHandleWebhookDispatch(t *testing.T) {
	provider := &fakeProvider{name: constants.PaymentProviderStripe}
	f := newLedgerFixture(t, provider)
	ctx := context.Background()
	order := f.createOrder(t, models.Order{OrderNo: "LO-HOOK-1", UserID: 40, Amount: money("1.00"), Credits: 15})

	if _, err := f.events.HandleWebhook(ctx, "paypal", nil, nil); !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("expected provider unavailable, got %v", err)
	}
	provider.verifyErr = errors.New("bad signature")
	if _, err := f.events.HandleWebhook(ctx, "stripe", nil, []byte("{}")); !errors.Is(err, ErrWebhookInvalid) {
		t.Fatalf("expected webhook invalid, got %v", err)
	}

	provider.verifyErr = nil
	provider.event = &payment.WebhookEvent{Kind: payment.EventKindIgnored, EventID: "evt_0"}
	ignored, err := f.events.HandleWebhook(ctx, "stripe", nil, []byte("{}"))
	if err != nil || ignored.Applied {
		t.Fatalf("ignored event should be acknowledged without changes: %v", err)
	}

	provider.event = &payment.WebhookEvent{
		Kind:    payment.EventKindPayment,
		EventID: "evt_1",
		Payment: &payment.PaymentEvent{OrderNo: order.OrderNo, Status: constants.PaymentEventSuccess, Provider: "stripe"},
	}
	result, err := f.events.HandleWebhook(ctx, "Stripe", nil, []byte("{}"))
	if err != nil || !result.Applied {
		t.Fatalf("payment webhook failed: %v", err)
	}
	if got := f.balance(t, 40); got != 15 {
		t.Fatalf("balance = %d, want 15", got)
	}
}

func TestCreateCheckout(t *testing.T) {
	provider := &fakeProvider{name: constants.PaymentProviderStripe}
	f := newLedgerFixture(t, provider)
	ctx := context.Background()
	f.createPlan(t, models.Plan{
		PlanID:        "pro-monthly",
		Name:          "Pro Monthly",
		Interval:      constants.PlanIntervalMonth,
		Price:         money("9.90"),
		CreditsAmount: 100,
	})
	f.createPlan(t, models.Plan{PlanID: "free", Name: "Free"})

	out, err := f.events.CreateCheckout(ctx, CheckoutInput{UserID: 50, PlanID: "pro-monthly", Provider: "stripe"})
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}
	if out.Order.Status != constants.OrderStatusPending || out.Order.ProviderRef != "cs_"+out.Order.OrderNo {
		t.Fatalf("unexpected order: %+v", out.Order)
	}
	if out.PayURL == "" || out.Order.Credits != 100 {
		t.Fatalf("unexpected checkout output: %+v", out)
	}
	if !provider.lastRequest.Recurring() || !provider.lastRequest.Amount.Equal(decimal.RequireFromString("9.90")) {
		t.Fatalf("unexpected provider request: %+v", provider.lastRequest)
	}

	if _, err := f.events.CreateCheckout(ctx, CheckoutInput{UserID: 50, PlanID: "free", Provider: "stripe"}); !errors.Is(err, ErrInvalidPlan) {
		t.Fatalf("zero-price plan should be rejected, got %v", err)
	}
	if _, err := f.events.CreateCheckout(ctx, CheckoutInput{UserID: 50, PlanID: "missing", Provider: "stripe"}); !errors.Is(err, ErrInvalidPlan) {
		t.Fatalf("unknown plan should be rejected, got %v", err)
	}
	if _, err := f.events.CreateCheckout(ctx, CheckoutInput{UserID: 50, PlanID: "pro-monthly", Provider: "wechatpay"}); !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("unregistered provider should be rejected, got %v", err)
	}

	provider.checkoutErr = errors.New("upstream down")
	if _, err := f.events.CreateCheckout(ctx, CheckoutInput{UserID: 51, PlanID: "pro-monthly", Provider: "stripe"}); !errors.Is(err, ErrCheckoutFailed) {
		t.Fatalf("expected checkout failed, got %v", err)
	}
	var failed models.Order
	if err := f.db.Where("user_id = ?", 51).First(&failed).Error; err != nil {
		t.Fatalf("load failed order: %v", err)
	}
	if failed.Status != constants.OrderStatusFailed {
		t.Fatalf("order should be marked failed, got %s", failed.Status)
	}
}

func TestCancelSubscriptionCallsProvider(t *testing.T) {
	provider := &fakeProvider{name: constants.PaymentProviderStripe}
	f := newLedgerFixture(t, provider)
	ctx := context.Background()
	f.createPlan(t, models.Plan{PlanID: "pro-monthly", Name: "Pro", Interval: constants.PlanIntervalMonth, Price: money("9.90")})
	order := f.createOrder(t, models.Order{OrderNo: "LO-CXL-1", UserID: 60, Amount: money("9.90"), ProductID: "pro-monthly", PaymentProvider: "stripe"})
	if _, err := f.events.ApplyPaymentEvent(ctx, payment.PaymentEvent{
		OrderNo:      order.OrderNo,
		Status:       constants.PaymentEventSuccess,
		Subscription: &payment.SubscriptionInfo{ProviderSubscriptionID: "sub_cxl"},
	}); err != nil {
		t.Fatalf("initial payment failed: %v", err)
	}

	sub, err := f.events.CancelSubscription(ctx, 60)
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if sub.Status != constants.SubscriptionStatusCanceled || sub.CanceledAt == nil {
		t.Fatalf("unexpected subscription: %+v", sub)
	}
	if len(provider.canceled) != 1 || provider.canceled[0] != "sub_cxl" {
		t.Fatalf("provider cancel not called: %v", provider.canceled)
	}
	if _, err := f.events.CancelSubscription(ctx, 60); !errors.Is(err, ErrSubscriptionNotFound) {
		t.Fatalf("no active subscription left, got %v", err)
	}
}

func TestResumeSubscriptionCallsProviderRenew(t *testing.T) {
	provider := &fakeProvider{name: constants.PaymentProviderStripe}
	f := newLedgerFixture(t, provider)
	ctx := context.Background()
	f.createPlan(t, models.Plan{PlanID: "pro-monthly", Name: "Pro", Interval: constants.PlanIntervalMonth, Price: money("9.90")})
	order := f.createOrder(t, models.Order{OrderNo: "LO-RSM-1", UserID: 61, Amount: money("9.90"), ProductID: "pro-monthly", PaymentProvider: "stripe"})
	if _, err := f.events.ApplyPaymentEvent(ctx, payment.PaymentEvent{
		OrderNo:      order.OrderNo,
		Status:       constants.PaymentEventSuccess,
		Subscription: &payment.SubscriptionInfo{ProviderSubscriptionID: "sub_rsm"},
	}); err != nil {
		t.Fatalf("initial payment failed: %v", err)
	}

	unchanged, err := f.events.ResumeSubscription(ctx, 61)
	if err != nil || unchanged.CancelAtPeriodEnd {
		t.Fatalf("resume of a renewing subscription should be a no-op: %v", err)
	}
	if len(provider.renewed) != 0 {
		t.Fatalf("provider renew should not be called: %v", provider.renewed)
	}

	stop := true
	if _, err := f.events.ApplyUpdate(ctx, payment.UpdateEvent{
		Provider:               constants.PaymentProviderStripe,
		ProviderSubscriptionID: "sub_rsm",
		CancelAtPeriodEnd:      &stop,
	}); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	provider.renewErr = errors.New("upstream down")
	if _, err := f.events.ResumeSubscription(ctx, 61); !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("provider failure should surface, got %v", err)
	}
	current, _ := f.subs.Current(ctx, 61)
	if current == nil || !current.CancelAtPeriodEnd {
		t.Fatalf("failed renew must not clear the local flag")
	}

	provider.renewErr = nil
	resumed, err := f.events.ResumeSubscription(ctx, 61)
	if err != nil {
		t.Fatalf("resume failed: %v", err)
	}
	if resumed.CancelAtPeriodEnd || resumed.Status != constants.SubscriptionStatusActive {
		t.Fatalf("unexpected subscription: %+v", resumed)
	}
	if len(provider.renewed) != 1 || provider.renewed[0] != "sub_rsm" {
		t.Fatalf("provider renew not called: %v", provider.renewed)
	}
	if _, err := f.events.ResumeSubscription(ctx, 62); !errors.Is(err, ErrSubscriptionNotFound) {
		t.Fatalf("user without subscription, got %v", err)
	}
}

func TestResumeOneOffSubscriptionRejected(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	f.createPlan(t, models.Plan{PlanID: "pro-monthly", Name: "Pro", Interval: constants.PlanIntervalMonth, Price: money("9.90")})
	order := f.createOrder(t, models.Order{OrderNo: "LO-RSM-2", UserID: 63, Amount: money("9.90"), ProductID: "pro-monthly"})
	if _, err := f.events.ApplyPaymentEvent(ctx, payment.PaymentEvent{OrderNo: order.OrderNo, Status: constants.PaymentEventSuccess}); err != nil {
		t.Fatalf("payment failed: %v", err)
	}
	if _, err := f.events.ResumeSubscription(ctx, 63); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("one-off subscription cannot resume, got %v", err)
	}
}

func TestApplyPaymentEventRejectsMismatchedAmount(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	order := f.createOrder(t, models.Order{OrderNo: "LO-AMT-1", UserID: 64, Amount: money("99.00"), Credits: 1000})

	if _, err := f.events.ApplyPaymentEvent(ctx, payment.PaymentEvent{
		OrderNo: order.OrderNo,
		Status:  constants.PaymentEventSuccess,
		Amount:  money("0.01"),
	}); !errors.Is(err, ErrPaymentAmountMismatch) {
		t.Fatalf("expected amount mismatch, got %v", err)
	}
	if _, err := f.events.ApplyPaymentEvent(ctx, payment.PaymentEvent{
		OrderNo:  order.OrderNo,
		Status:   constants.PaymentEventSuccess,
		Amount:   money("99.00"),
		Currency: "EUR",
	}); !errors.Is(err, ErrPaymentCurrencyMismatch) {
		t.Fatalf("expected currency mismatch, got %v", err)
	}
	var reloaded models.Order
	if err := f.db.First(&reloaded, order.ID).Error; err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if reloaded.Status != constants.OrderStatusPending || reloaded.PaidAt != nil {
		t.Fatalf("rejected event must leave the order pending: %s", reloaded.Status)
	}
	if got := f.balance(t, 64); got != 0 {
		t.Fatalf("rejected event must not grant credits, got %d", got)
	}

	result, err := f.events.ApplyPaymentEvent(ctx, payment.PaymentEvent{
		OrderNo:  order.OrderNo,
		Status:   constants.PaymentEventSuccess,
		Amount:   money("99.0"),
		Currency: "usd",
	})
	if err != nil || !result.Applied {
		t.Fatalf("matching amount should apply: %v", err)
	}
	if got := f.balance(t, 64); got != 1000 {
		t.Fatalf("balance = %d, want 1000", got)
	}
}

func TestMembershipRedeemCancelsSupersededProviderSubscription(t *testing.T) {
	provider := &fakeProvider{name: constants.PaymentProviderStripe}
	f := newLedgerFixture(t, provider)
	ctx := context.Background()
	f.createPlan(t, models.Plan{PlanID: "pro-monthly", Name: "Pro", Interval: constants.PlanIntervalMonth, Price: money("9.90")})
	order := f.createOrder(t, models.Order{OrderNo: "LO-SUP-1", UserID: 65, Amount: money("9.90"), ProductID: "pro-monthly", PaymentProvider: "stripe"})
	if _, err := f.events.ApplyPaymentEvent(ctx, payment.PaymentEvent{
		OrderNo:      order.OrderNo,
		Status:       constants.PaymentEventSuccess,
		Subscription: &payment.SubscriptionInfo{ProviderSubscriptionID: "sub_sup"},
	}); err != nil {
		t.Fatalf("initial payment failed: %v", err)
	}

	issued, err := f.redemption.IssueMembership(ctx, IssueMembershipInput{
		AdminID:        testIssuerAdmin,
		PlanID:         "pro-monthly",
		Quantity:       1,
		MembershipDays: 30,
	})
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	if _, err := f.redemption.Redeem(ctx, RedeemInput{Code: issued.Codes[0], UserID: 65}); err != nil {
		t.Fatalf("redeem failed: %v", err)
	}
	if len(provider.canceled) != 1 || provider.canceled[0] != "sub_sup" {
		t.Fatalf("superseded provider subscription should be canceled: %v", provider.canceled)
	}
	if got := f.countActiveSubscriptions(t, 65); got != 1 {
		t.Fatalf("active subscriptions = %d, want 1", got)
	}
}
