package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/credit-ledger/internal/constants"
	"github.com/credit-ledger/internal/models"
	"github.com/credit-ledger/internal/payment"

	"github.com/shopspring/decimal"
)

var (
	ErrConfigInvalid    = errors.New("stripe config invalid")
	ErrRequestFailed    = errors.New("stripe request failed")
	ErrResponseInvalid  = errors.New("stripe response invalid")
	ErrSignatureInvalid = errors.New("stripe signature invalid")
)

const (
	defaultAPIBaseURL        = "https://api.stripe.com"
	defaultTimeout           = 12 * time.Second
	defaultWebhookToleranceS = 300
)

var zeroDecimalCurrencies = map[string]struct{}{
	"BIF": {},
	"CLP": {},
	"DJF": {},
	"GNF": {},
	"JPY": {},
	"KMF": {},
	"KRW": {},
	"MGA": {},
	"PYG": {},
	"RWF": {},
	"UGX": {},
	"VND": {},
	"VUV": {},
	"XAF": {},
	"XOF": {},
	"XPF": {},
}

// Config Stripe 渠道配置
type Config struct {
	SecretKey               string
	WebhookSecret           string
	SuccessURL              string
	CancelURL               string
	APIBaseURL              string
	WebhookToleranceSeconds int
}

// Provider Stripe Checkout 适配器
type Provider struct {
	cfg    Config
	client *http.Client
	now    func() time.Time
}

var _ payment.Provider = (*Provider)(nil)

// New 校验配置并创建适配器
func New(cfg Config) (*Provider, error) {
	cfg.normalize()
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return &Provider{
		cfg:    cfg,
		client: &http.Client{Timeout: defaultTimeout},
		now:    time.Now,
	}, nil
}

// ValidateConfig 校验配置
func ValidateConfig(cfg Config) error {
	if cfg.SecretKey == "" {
		return fmt.Errorf("%w: secret_key is required", ErrConfigInvalid)
	}
	if cfg.WebhookSecret == "" {
		return fmt.Errorf("%w: webhook_secret is required", ErrConfigInvalid)
	}
	if _, err := url.ParseRequestURI(cfg.APIBaseURL); err != nil {
		return fmt.Errorf("%w: api_base_url is invalid", ErrConfigInvalid)
	}
	if _, err := url.ParseRequestURI(sanitizeURLForValidation(cfg.SuccessURL)); err != nil {
		return fmt.Errorf("%w: success_url is invalid", ErrConfigInvalid)
	}
	if _, err := url.ParseRequestURI(sanitizeURLForValidation(cfg.CancelURL)); err != nil {
		return fmt.Errorf("%w: cancel_url is invalid", ErrConfigInvalid)
	}
	return nil
}

// Name 渠道名
func (p *Provider) Name() string {
	return constants.PaymentProviderStripe
}

// CreateCheckout 创建 Checkout Session，周期套餐使用 subscription 模式
func (p *Provider) CreateCheckout(ctx context.Context, req payment.CheckoutRequest) (*payment.CheckoutResult, error) {
	orderNo := strings.TrimSpace(req.OrderNo)
	if orderNo == "" {
		return nil, fmt.Errorf("%w: order_no is required", ErrConfigInvalid)
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		return nil, fmt.Errorf("%w: currency is required", ErrConfigInvalid)
	}
	minorAmount, err := toMinorAmount(req.Amount.Decimal, currency)
	if err != nil {
		return nil, err
	}
	successURL := firstNonEmpty(req.SuccessURL, p.cfg.SuccessURL)
	cancelURL := firstNonEmpty(req.CancelURL, p.cfg.CancelURL)
	subject := firstNonEmpty(req.Subject, orderNo)

	form := url.Values{}
	form.Set("success_url", successURL)
	form.Set("cancel_url", cancelURL)
	form.Set("client_reference_id", orderNo)
	form.Set("line_items[0][quantity]", "1")
	form.Set("line_items[0][price_data][currency]", strings.ToLower(currency))
	form.Set("line_items[0][price_data][unit_amount]", strconv.FormatInt(minorAmount, 10))
	form.Set("line_items[0][price_data][product_data][name]", subject)
	form.Set("metadata[order_no]", orderNo)
	form.Set("metadata[plan_id]", req.PlanID)
	if req.Recurring() {
		form.Set("mode", "subscription")
		form.Set("line_items[0][price_data][recurring][interval]", req.Interval)
		form.Set("line_items[0][price_data][recurring][interval_count]", strconv.Itoa(req.IntervalCount))
		form.Set("subscription_data[metadata][order_no]", orderNo)
	} else {
		form.Set("mode", "payment")
		form.Set("payment_intent_data[metadata][order_no]", orderNo)
	}

	respBody, statusCode, err := p.doFormRequest(ctx, http.MethodPost, "/v1/checkout/sessions", form)
	if err != nil {
		return nil, err
	}
	if statusCode < 200 || statusCode >= 300 {
		return nil, fmt.Errorf("%w: create checkout session status %d", ErrResponseInvalid, statusCode)
	}
	raw, err := decodeRawMap(respBody)
	if err != nil {
		return nil, err
	}
	sessionID := readString(raw, "id")
	payURL := readString(raw, "url")
	if sessionID == "" || payURL == "" {
		return nil, fmt.Errorf("%w: missing session id or url", ErrResponseInvalid)
	}
	return &payment.CheckoutResult{
		ProviderRef: sessionID,
		PayURL:      payURL,
		Raw:         models.MustPayload(json.RawMessage(respBody)),
	}, nil
}

// Renew 取消“到期取消”标记，恢复自动续费
func (p *Provider) Renew(ctx context.Context, providerSubscriptionID string) error {
	form := url.Values{}
	form.Set("cancel_at_period_end", "false")
	return p.updateSubscription(ctx, providerSubscriptionID, http.MethodPost, form)
}

// Cancel 立即取消渠道订阅
func (p *Provider) Cancel(ctx context.Context, providerSubscriptionID string) error {
	return p.updateSubscription(ctx, providerSubscriptionID, http.MethodDelete, nil)
}

func (p *Provider) updateSubscription(ctx context.Context, providerSubscriptionID, method string, form url.Values) error {
	providerSubscriptionID = strings.TrimSpace(providerSubscriptionID)
	if providerSubscriptionID == "" {
		return fmt.Errorf("%w: subscription id is required", ErrConfigInvalid)
	}
	path := "/v1/subscriptions/" + url.PathEscape(providerSubscriptionID)
	_, statusCode, err := p.doFormRequest(ctx, method, path, form)
	if err != nil {
		return err
	}
	if statusCode < 200 || statusCode >= 300 {
		return fmt.Errorf("%w: subscription %s status %d", ErrResponseInvalid, strings.ToLower(method), statusCode)
	}
	return nil
}

// VerifyWebhook 校验 Stripe-Signature 并归一化事件
func (p *Provider) VerifyWebhook(_ context.Context, headers map[string]string, body []byte) (*payment.WebhookEvent, error) {
	if err := verifySignature(p.cfg.WebhookSecret, p.cfg.WebhookToleranceSeconds, headers, body, p.now()); err != nil {
		return nil, err
	}
	eventRaw, err := decodeRawMap(body)
	if err != nil {
		return nil, err
	}
	eventType := readString(eventRaw, "type")
	if eventType == "" {
		return nil, fmt.Errorf("%w: missing event type", ErrResponseInvalid)
	}
	objectRaw := readMap(readMap(eventRaw, "data"), "object")
	if objectRaw == nil {
		return nil, fmt.Errorf("%w: missing event object", ErrResponseInvalid)
	}
	event := &payment.WebhookEvent{
		Kind:    payment.EventKindIgnored,
		EventID: readString(eventRaw, "id"),
		Type:    eventType,
	}
	info := models.MustPayload(json.RawMessage(body))

	switch eventType {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded",
		"checkout.session.async_payment_failed", "checkout.session.expired":
		ev := parseCheckoutSession(eventType, objectRaw)
		if ev.OrderNo != "" {
			ev.PaymentInfo = info
			event.Kind = payment.EventKindPayment
			event.Payment = ev
		}
	case "payment_intent.succeeded", "payment_intent.payment_failed",
		"payment_intent.canceled", "payment_intent.processing":
		ev := parsePaymentIntent(eventType, objectRaw)
		// 订阅模式的 payment_intent 不带订单号，以 checkout.session 为准
		if ev.OrderNo != "" {
			ev.PaymentInfo = info
			event.Kind = payment.EventKindPayment
			event.Payment = ev
		}
	case "invoice.paid", "invoice.payment_succeeded":
		// 首期由 checkout.session.completed 处理
		if readString(objectRaw, "billing_reason") == "subscription_cycle" {
			renewal, err := parseInvoice(objectRaw)
			if err != nil {
				return nil, err
			}
			renewal.PaymentInfo = info
			event.Kind = payment.EventKindRenewal
			event.Renewal = renewal
		}
	case "customer.subscription.updated":
		event.Kind = payment.EventKindUpdate
		event.Update = parseSubscriptionUpdate(objectRaw)
	case "customer.subscription.deleted":
		event.Kind = payment.EventKindCancel
		event.Cancel = parseSubscriptionCancel(objectRaw, p.now())
	}
	return event, nil
}

func parseCheckoutSession(eventType string, objectRaw map[string]interface{}) *payment.PaymentEvent {
	ev := &payment.PaymentEvent{
		OrderNo:     firstNonEmpty(readString(readMap(objectRaw, "metadata"), "order_no"), readString(objectRaw, "client_reference_id")),
		Provider:    constants.PaymentProviderStripe,
		ProviderRef: readString(objectRaw, "id"),
		Currency:    strings.ToUpper(readString(objectRaw, "currency")),
	}
	if amountMinor := readInt64(objectRaw, "amount_total"); amountMinor > 0 && ev.Currency != "" {
		ev.Amount = fromMinorAmount(amountMinor, ev.Currency)
	}
	if created := readInt64(objectRaw, "created"); created > 0 {
		paidAt := time.Unix(created, 0)
		ev.PaidAt = &paidAt
	}
	switch eventType {
	case "checkout.session.async_payment_failed":
		ev.Status = constants.PaymentEventFailed
	case "checkout.session.expired":
		ev.Status = constants.PaymentEventCanceled
	default:
		ev.Status = mapCheckoutSessionStatus(readString(objectRaw, "payment_status"))
	}
	if subID := readString(objectRaw, "subscription"); subID != "" {
		ev.Subscription = &payment.SubscriptionInfo{
			Status:                 constants.SubscriptionStatusActive,
			ProviderSubscriptionID: subID,
			Amount:                 ev.Amount,
			Currency:               ev.Currency,
		}
	}
	return ev
}

func parsePaymentIntent(eventType string, objectRaw map[string]interface{}) *payment.PaymentEvent {
	ev := &payment.PaymentEvent{
		OrderNo:     readString(readMap(objectRaw, "metadata"), "order_no"),
		Provider:    constants.PaymentProviderStripe,
		ProviderRef: readString(objectRaw, "id"),
		Currency:    strings.ToUpper(readString(objectRaw, "currency")),
	}
	amountMinor := readInt64(objectRaw, "amount_received")
	if amountMinor <= 0 {
		amountMinor = readInt64(objectRaw, "amount")
	}
	if amountMinor > 0 && ev.Currency != "" {
		ev.Amount = fromMinorAmount(amountMinor, ev.Currency)
	}
	switch eventType {
	case "payment_intent.succeeded":
		ev.Status = constants.PaymentEventSuccess
		if created := readInt64(objectRaw, "created"); created > 0 {
			paidAt := time.Unix(created, 0)
			ev.PaidAt = &paidAt
		}
	case "payment_intent.payment_failed":
		ev.Status = constants.PaymentEventFailed
	case "payment_intent.canceled":
		ev.Status = constants.PaymentEventCanceled
	default:
		ev.Status = constants.PaymentEventProcessing
	}
	return ev
}

func parseInvoice(objectRaw map[string]interface{}) (*payment.RenewalEvent, error) {
	renewal := &payment.RenewalEvent{
		Provider:               constants.PaymentProviderStripe,
		ProviderSubscriptionID: readString(objectRaw, "subscription"),
		ProviderRef:            readString(objectRaw, "id"),
		Currency:               strings.ToUpper(readString(objectRaw, "currency")),
	}
	if renewal.ProviderSubscriptionID == "" || renewal.ProviderRef == "" {
		return nil, fmt.Errorf("%w: invoice missing subscription or id", ErrResponseInvalid)
	}
	if amountMinor := readInt64(objectRaw, "amount_paid"); amountMinor > 0 && renewal.Currency != "" {
		renewal.Amount = fromMinorAmount(amountMinor, renewal.Currency)
	}
	// 账期取首个 line item 的 period
	if lines, ok := readMap(objectRaw, "lines")["data"].([]interface{}); ok && len(lines) > 0 {
		if line, ok := lines[0].(map[string]interface{}); ok {
			period := readMap(line, "period")
			renewal.PeriodStart = unixTime(readInt64(period, "start"))
			renewal.PeriodEnd = unixTime(readInt64(period, "end"))
		}
	}
	if renewal.PeriodEnd.IsZero() {
		renewal.PeriodStart = unixTime(readInt64(objectRaw, "period_start"))
		renewal.PeriodEnd = unixTime(readInt64(objectRaw, "period_end"))
	}
	if !renewal.PeriodEnd.After(renewal.PeriodStart) {
		return nil, fmt.Errorf("%w: invoice period is invalid", ErrResponseInvalid)
	}
	return renewal, nil
}

func parseSubscriptionUpdate(objectRaw map[string]interface{}) *payment.UpdateEvent {
	update := &payment.UpdateEvent{
		Provider:               constants.PaymentProviderStripe,
		ProviderSubscriptionID: readString(objectRaw, "id"),
		SubscriptionNo:         readString(readMap(objectRaw, "metadata"), "subscription_no"),
	}
	if start := unixTime(readInt64(objectRaw, "current_period_start")); !start.IsZero() {
		update.PeriodStart = &start
	}
	if end := unixTime(readInt64(objectRaw, "current_period_end")); !end.IsZero() {
		update.PeriodEnd = &end
	}
	if value, ok := objectRaw["cancel_at_period_end"].(bool); ok {
		update.CancelAtPeriodEnd = &value
	}
	return update
}

func parseSubscriptionCancel(objectRaw map[string]interface{}, now time.Time) *payment.CancelEvent {
	canceledAt := unixTime(readInt64(objectRaw, "canceled_at"))
	if canceledAt.IsZero() {
		canceledAt = now
	}
	return &payment.CancelEvent{
		Provider:               constants.PaymentProviderStripe,
		ProviderSubscriptionID: readString(objectRaw, "id"),
		SubscriptionNo:         readString(readMap(objectRaw, "metadata"), "subscription_no"),
		CanceledAt:             canceledAt,
	}
}

func mapCheckoutSessionStatus(paymentStatus string) string {
	switch strings.ToLower(paymentStatus) {
	case "paid", "no_payment_required":
		return constants.PaymentEventSuccess
	case "unpaid":
		return constants.PaymentEventProcessing
	default:
		return strings.ToUpper(paymentStatus)
	}
}

func verifySignature(secret string, toleranceSeconds int, headers map[string]string, body []byte, now time.Time) error {
	if len(body) == 0 {
		return fmt.Errorf("%w: body is empty", ErrResponseInvalid)
	}
	signatureHeader := payment.HeaderValue(headers, "Stripe-Signature")
	if signatureHeader == "" {
		return fmt.Errorf("%w: Stripe-Signature is required", ErrSignatureInvalid)
	}
	timestamp, signatures, err := parseSignatureHeader(signatureHeader)
	if err != nil {
		return err
	}
	if toleranceSeconds > 0 {
		delta := math.Abs(float64(now.Unix() - timestamp))
		if delta > float64(toleranceSeconds) {
			return fmt.Errorf("%w: timestamp outside tolerance", ErrSignatureInvalid)
		}
	}
	expected := computeSignature(secret, timestamp, body)
	for _, sig := range signatures {
		if hmac.Equal([]byte(sig), []byte(expected)) {
			return nil
		}
	}
	return fmt.Errorf("%w: verify failed", ErrSignatureInvalid)
}

func computeSignature(secret string, timestamp int64, body []byte) string {
	payload := strconv.FormatInt(timestamp, 10) + "." + string(body)
	h := hmac.New(sha256.New, []byte(secret))
	_, _ = h.Write([]byte(payload))
	return hex.EncodeToString(h.Sum(nil))
}

func parseSignatureHeader(signatureHeader string) (int64, []string, error) {
	timestamp := int64(0)
	signatures := make([]string, 0)
	for _, part := range strings.Split(signatureHeader, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		value := strings.TrimSpace(kv[1])
		switch strings.TrimSpace(kv[0]) {
		case "t":
			parsed, err := strconv.ParseInt(value, 10, 64)
			if err != nil || parsed <= 0 {
				return 0, nil, fmt.Errorf("%w: invalid timestamp", ErrSignatureInvalid)
			}
			timestamp = parsed
		case "v1":
			if value != "" {
				signatures = append(signatures, strings.ToLower(value))
			}
		}
	}
	if timestamp <= 0 {
		return 0, nil, fmt.Errorf("%w: timestamp is missing", ErrSignatureInvalid)
	}
	if len(signatures) == 0 {
		return 0, nil, fmt.Errorf("%w: v1 signature is missing", ErrSignatureInvalid)
	}
	return timestamp, signatures, nil
}

func (c *Config) normalize() {
	c.SecretKey = strings.TrimSpace(c.SecretKey)
	c.WebhookSecret = strings.TrimSpace(c.WebhookSecret)
	c.SuccessURL = strings.TrimSpace(c.SuccessURL)
	c.CancelURL = strings.TrimSpace(c.CancelURL)
	c.APIBaseURL = strings.TrimRight(strings.TrimSpace(c.APIBaseURL), "/")
	if c.APIBaseURL == "" {
		c.APIBaseURL = defaultAPIBaseURL
	}
	if c.WebhookToleranceSeconds <= 0 {
		c.WebhookToleranceSeconds = defaultWebhookToleranceS
	}
}

func sanitizeURLForValidation(rawURL string) string {
	return strings.ReplaceAll(strings.TrimSpace(rawURL), "{CHECKOUT_SESSION_ID}", "cs_test_placeholder")
}

func toMinorAmount(amount decimal.Decimal, currency string) (int64, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return 0, fmt.Errorf("%w: amount must be greater than zero", ErrConfigInvalid)
	}
	minor := amount.Shift(int32(currencyScale(currency)))
	if !minor.Equal(minor.Truncate(0)) {
		return 0, fmt.Errorf("%w: amount precision is invalid", ErrConfigInvalid)
	}
	return minor.IntPart(), nil
}

func fromMinorAmount(minor int64, currency string) models.Money {
	return models.NewMoney(decimal.NewFromInt(minor).Shift(int32(-currencyScale(currency))))
}

func currencyScale(currency string) int {
	if _, ok := zeroDecimalCurrencies[strings.ToUpper(strings.TrimSpace(currency))]; ok {
		return 0
	}
	return 2
}

func (p *Provider) doFormRequest(ctx context.Context, method, path string, form url.Values) ([]byte, int, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	var reader io.Reader
	if form != nil {
		reader = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, p.cfg.APIBaseURL+path, reader)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: build request failed", ErrRequestFailed)
	}
	req.Header.Set("Authorization", "Bearer "+p.cfg.SecretKey)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("%w: read response failed", ErrResponseInvalid)
	}
	return body, resp.StatusCode, nil
}

func decodeRawMap(body []byte) (map[string]interface{}, error) {
	var raw map[string]interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: decode response failed", ErrResponseInvalid)
	}
	return raw, nil
}

func unixTime(sec int64) time.Time {
	if sec <= 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func readString(raw map[string]interface{}, key string) string {
	if raw == nil {
		return ""
	}
	switch typed := raw[key].(type) {
	case string:
		return strings.TrimSpace(typed)
	case float64:
		return strconv.FormatInt(int64(typed), 10)
	case json.Number:
		return typed.String()
	default:
		return ""
	}
}

func readMap(raw map[string]interface{}, key string) map[string]interface{} {
	if raw == nil {
		return nil
	}
	mapped, _ := raw[key].(map[string]interface{})
	return mapped
}

func readInt64(raw map[string]interface{}, key string) int64 {
	if raw == nil {
		return 0
	}
	switch typed := raw[key].(type) {
	case float64:
		return int64(typed)
	case int64:
		return typed
	case int:
		return int64(typed)
	case json.Number:
		parsed, _ := typed.Int64()
		return parsed
	case string:
		parsed, _ := strconv.ParseInt(strings.TrimSpace(typed), 10, 64)
		return parsed
	default:
		return 0
	}
}
