package paddle

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/waslahq/wasla/internal/config"
	"github.com/waslahq/wasla/internal/gateway/domain"
	"github.com/waslahq/wasla/internal/plan"
)

const defaultBaseURL = "https://api.paddle.com"

// Adapter drives the merchant-of-record processor. Checkout and subscription
// lifecycle run through its REST API; webhook signatures arrive as a
// composite Paddle-Signature header ("ts=...;h1=...") over "ts:rawBody".
type Adapter struct {
	apiKey        string
	webhookSecret string
	baseURL       string
	httpClient    *http.Client
}

func New(cfg config.PaddleConfig) *Adapter {
	return &Adapter{
		apiKey:        cfg.APIKey,
		webhookSecret: cfg.WebhookSecret,
		baseURL:       defaultBaseURL,
		httpClient:    http.DefaultClient,
	}
}

// WithBaseURL points the adapter at a different API origin.
func (a *Adapter) WithBaseURL(base string) *Adapter {
	a.baseURL = strings.TrimRight(base, "/")
	return a
}

// WithHTTPClient swaps the outbound client.
func (a *Adapter) WithHTTPClient(client *http.Client) *Adapter {
	a.httpClient = client
	return a
}

func (a *Adapter) Provider() string { return "paddle" }

func (a *Adapter) IsConfigured() bool {
	return a.apiKey != "" && a.webhookSecret != ""
}

func (a *Adapter) CreateCheckoutSession(ctx context.Context, params domain.CheckoutParams) (*domain.CheckoutResult, error) {
	entry, ok := plan.Lookup(params.Plan)
	if !ok {
		return nil, domain.ErrInvalidConfig
	}
	priceID := entry.PaddlePrices.Monthly
	if params.BillingCycle == domain.CycleYearly {
		priceID = entry.PaddlePrices.Yearly
	}

	body := map[string]any{
		"items": []map[string]any{
			{"price_id": priceID, "quantity": 1},
		},
		"custom_data": map[string]any{
			"order_ref":     params.OrderRef,
			"user_id":       params.UserID.String(),
			"plan_id":       string(params.Plan),
			"billing_cycle": params.BillingCycle,
		},
		"checkout": map[string]any{
			"url": params.SuccessURL,
		},
	}

	var out struct {
		Data struct {
			ID       string `json:"id"`
			Checkout struct {
				URL string `json:"url"`
			} `json:"checkout"`
		} `json:"data"`
	}
	if err := a.do(ctx, http.MethodPost, "/transactions", body, &out); err != nil {
		return nil, err
	}

	return &domain.CheckoutResult{
		Provider:    a.Provider(),
		SessionID:   out.Data.ID,
		CheckoutURL: out.Data.Checkout.URL,
	}, nil
}

func (a *Adapter) CreateSubscription(ctx context.Context, params domain.SubscriptionParams) (*domain.SubscriptionInfo, error) {
	// Subscriptions are created by the processor when the hosted checkout
	// transaction settles; there is no direct create call.
	return nil, domain.ErrUnsupportedOperation
}

func (a *Adapter) GetSubscription(ctx context.Context, providerSubscriptionID string) (*domain.SubscriptionInfo, error) {
	var out struct {
		Data subscription `json:"data"`
	}
	if err := a.do(ctx, http.MethodGet, "/subscriptions/"+url.PathEscape(providerSubscriptionID), nil, &out); err != nil {
		return nil, err
	}
	return out.Data.info(), nil
}

func (a *Adapter) CancelSubscription(ctx context.Context, providerSubscriptionID string, immediate bool) error {
	effectiveFrom := "next_billing_period"
	if immediate {
		effectiveFrom = "immediately"
	}
	return a.do(ctx, http.MethodPost, "/subscriptions/"+url.PathEscape(providerSubscriptionID)+"/cancel",
		map[string]any{"effective_from": effectiveFrom}, nil)
}

func (a *Adapter) ResumeSubscription(ctx context.Context, providerSubscriptionID string) error {
	return a.do(ctx, http.MethodPatch, "/subscriptions/"+url.PathEscape(providerSubscriptionID),
		map[string]any{"scheduled_change": nil}, nil)
}

func (a *Adapter) CreateCustomer(ctx context.Context, params domain.CustomerParams) (string, error) {
	var out struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	err := a.do(ctx, http.MethodPost, "/customers", map[string]any{
		"email":       params.Email,
		"custom_data": map[string]any{"user_id": params.UserID.String()},
	}, &out)
	if err != nil {
		return "", err
	}
	return out.Data.ID, nil
}

func (a *Adapter) CreateRefund(ctx context.Context, params domain.RefundParams) (*domain.RefundResult, error) {
	reason := params.Reason
	if reason == "" {
		reason = "requested_by_customer"
	}

	var out struct {
		Data struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"data"`
	}
	err := a.do(ctx, http.MethodPost, "/adjustments", map[string]any{
		"action":         "refund",
		"transaction_id": params.ProviderPaymentID,
		"reason":         reason,
	}, &out)
	if err != nil {
		return nil, err
	}

	status := domain.PaymentFailed
	switch out.Data.Status {
	case "approved":
		status = domain.PaymentCompleted
	case "pending_approval":
		status = domain.PaymentPending
	}
	return &domain.RefundResult{ProviderRefundID: out.Data.ID, Status: status}, nil
}

func (a *Adapter) VerifyWebhook(ctx context.Context, payload []byte, sig domain.SignatureMaterial) error {
	header := ""
	if sig.Headers != nil {
		header = strings.TrimSpace(sig.Headers.Get("Paddle-Signature"))
	}
	if header == "" {
		return domain.ErrInvalidSignature
	}

	ts, signatures, err := parseSignatureHeader(header)
	if err != nil {
		return domain.ErrInvalidSignature
	}

	mac := hmac.New(sha256.New, []byte(a.webhookSecret))
	_, _ = mac.Write([]byte(ts))
	_, _ = mac.Write([]byte(":"))
	_, _ = mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, signature := range signatures {
		if hmac.Equal([]byte(signature), []byte(expected)) {
			return nil
		}
	}
	return domain.ErrInvalidSignature
}

func (a *Adapter) ParseWebhook(ctx context.Context, payload []byte) (*domain.WebhookEvent, error) {
	var envelope webhookEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	if strings.TrimSpace(envelope.EventID) == "" {
		return nil, domain.ErrInvalidEvent
	}

	switch strings.TrimSpace(envelope.EventType) {
	case "transaction.completed":
		return a.parseTransaction(envelope, payload, domain.EventTypePaymentSucceeded, domain.PaymentCompleted)
	case "transaction.payment_failed":
		return a.parseTransaction(envelope, payload, domain.EventTypePaymentFailed, domain.PaymentFailed)
	case "subscription.created":
		return a.parseSubscription(envelope, payload, domain.EventTypeSubscriptionCreated)
	case "subscription.updated":
		return a.parseSubscription(envelope, payload, domain.EventTypeSubscriptionUpdated)
	case "subscription.canceled":
		return a.parseSubscription(envelope, payload, domain.EventTypeSubscriptionDeleted)
	default:
		return nil, domain.ErrEventIgnored
	}
}

type webhookEnvelope struct {
	EventID    string          `json:"event_id"`
	EventType  string          `json:"event_type"`
	OccurredAt string          `json:"occurred_at"`
	Data       json.RawMessage `json:"data"`
}

type transaction struct {
	ID             string            `json:"id"`
	SubscriptionID string            `json:"subscription_id"`
	CustomerID     string            `json:"customer_id"`
	CurrencyCode   string            `json:"currency_code"`
	CustomData     map[string]string `json:"custom_data"`
	Details        struct {
		Totals struct {
			GrandTotal string `json:"grand_total"`
			Total      string `json:"total"`
		} `json:"totals"`
	} `json:"details"`
}

type subscription struct {
	ID                   string            `json:"id"`
	Status               string            `json:"status"`
	CustomerID           string            `json:"customer_id"`
	CustomData           map[string]string `json:"custom_data"`
	CurrentBillingPeriod struct {
		StartsAt string `json:"starts_at"`
		EndsAt   string `json:"ends_at"`
	} `json:"current_billing_period"`
	ScheduledChange *struct {
		Action string `json:"action"`
	} `json:"scheduled_change"`
}

func (s subscription) info() *domain.SubscriptionInfo {
	info := &domain.SubscriptionInfo{
		ProviderSubscriptionID: s.ID,
		ProviderCustomerID:     s.CustomerID,
		Status:                 mapSubscriptionStatus(s.Status),
		CancelAtPeriodEnd:      s.ScheduledChange != nil && s.ScheduledChange.Action == "cancel",
	}
	if ts, ok := parseRFC3339(s.CurrentBillingPeriod.StartsAt); ok {
		info.PeriodStart = &ts
	}
	if ts, ok := parseRFC3339(s.CurrentBillingPeriod.EndsAt); ok {
		info.PeriodEnd = &ts
	}
	return info
}

func (a *Adapter) parseTransaction(envelope webhookEnvelope, payload []byte, eventType string, status domain.PaymentStatus) (*domain.WebhookEvent, error) {
	var txn transaction
	if err := json.Unmarshal(envelope.Data, &txn); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	if strings.TrimSpace(txn.ID) == "" {
		return nil, domain.ErrInvalidEvent
	}

	// Totals come over the wire as strings already in minor units.
	totalRaw := txn.Details.Totals.GrandTotal
	if totalRaw == "" {
		totalRaw = txn.Details.Totals.Total
	}
	amount, err := strconv.ParseInt(strings.TrimSpace(totalRaw), 10, 64)
	if err != nil {
		return nil, domain.ErrInvalidPayload
	}

	data := domain.EventData{
		OrderRef:               strings.TrimSpace(txn.CustomData["order_ref"]),
		ProviderPaymentID:      txn.ID,
		ProviderOrderID:        txn.ID,
		ProviderSubscriptionID: txn.SubscriptionID,
		ProviderCustomerID:     txn.CustomerID,
		Amount:                 amount,
		Currency:               strings.ToUpper(strings.TrimSpace(txn.CurrencyCode)),
		PaymentStatus:          status,
		PaymentMethod:          "card",
		PlanID:                 strings.TrimSpace(txn.CustomData["plan_id"]),
		BillingCycle:           strings.TrimSpace(txn.CustomData["billing_cycle"]),
		RawPayload:             payload,
	}
	if status == domain.PaymentFailed {
		data.FailureReason = "transaction_payment_failed"
	}

	return &domain.WebhookEvent{
		ID:        envelope.EventID,
		Type:      eventType,
		Provider:  a.Provider(),
		Timestamp: occurredAt(envelope.OccurredAt),
		Data:      data,
	}, nil
}

func (a *Adapter) parseSubscription(envelope webhookEnvelope, payload []byte, eventType string) (*domain.WebhookEvent, error) {
	var sub subscription
	if err := json.Unmarshal(envelope.Data, &sub); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	if strings.TrimSpace(sub.ID) == "" {
		return nil, domain.ErrInvalidEvent
	}

	info := sub.info()
	return &domain.WebhookEvent{
		ID:        envelope.EventID,
		Type:      eventType,
		Provider:  a.Provider(),
		Timestamp: occurredAt(envelope.OccurredAt),
		Data: domain.EventData{
			OrderRef:               strings.TrimSpace(sub.CustomData["order_ref"]),
			ProviderSubscriptionID: sub.ID,
			ProviderCustomerID:     sub.CustomerID,
			SubscriptionStatus:     info.Status,
			CancelAtPeriodEnd:      info.CancelAtPeriodEnd,
			Immediate:              eventType == domain.EventTypeSubscriptionDeleted,
			PlanID:                 strings.TrimSpace(sub.CustomData["plan_id"]),
			BillingCycle:           strings.TrimSpace(sub.CustomData["billing_cycle"]),
			PeriodStart:            info.PeriodStart,
			PeriodEnd:              info.PeriodEnd,
			RawPayload:             payload,
		},
	}, nil
}

func mapSubscriptionStatus(status string) domain.SubscriptionStatus {
	switch strings.TrimSpace(status) {
	case "active":
		return domain.SubscriptionActive
	case "trialing":
		return domain.SubscriptionTrialing
	case "past_due":
		return domain.SubscriptionPastDue
	case "canceled", "paused":
		return domain.SubscriptionCanceled
	default:
		return domain.SubscriptionIncomplete
	}
}

func parseSignatureHeader(header string) (string, []string, error) {
	parts := strings.Split(header, ";")
	var ts string
	signatures := []string{}
	for _, part := range parts {
		piece := strings.TrimSpace(part)
		if piece == "" {
			continue
		}
		keyValue := strings.SplitN(piece, "=", 2)
		if len(keyValue) != 2 {
			continue
		}
		key := strings.TrimSpace(keyValue[0])
		value := strings.TrimSpace(keyValue[1])
		if key == "ts" {
			ts = value
		}
		if key == "h1" {
			signatures = append(signatures, value)
		}
	}
	if ts == "" || len(signatures) == 0 {
		return "", nil, domain.ErrInvalidSignature
	}
	return ts, signatures, nil
}

func parseRFC3339(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	ts, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, false
	}
	return ts.UTC(), true
}

func occurredAt(value string) time.Time {
	if ts, ok := parseRFC3339(value); ok {
		return ts
	}
	return time.Now().UTC()
}

func (a *Adapter) do(ctx context.Context, method, path string, body map[string]any, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+a.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: paddle: %v", domain.ErrProviderAPI, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: paddle: %v", domain.ErrProviderAPI, err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("%w: paddle %s %s: status %d", domain.ErrProviderAPI, method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: paddle: %v", domain.ErrProviderAPI, err)
	}
	return nil
}
