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
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/waslahq/wasla/internal/config"
	"github.com/waslahq/wasla/internal/gateway/domain"
	"github.com/waslahq/wasla/internal/plan"
)

const defaultBaseURL = "https://api.stripe.com"

// Adapter drives the global card processor. Checkout sessions carry the order
// reference as client_reference_id so inbound webhooks can be correlated.
type Adapter struct {
	secretKey     string
	webhookSecret string
	baseURL       string
	httpClient    *http.Client
}

func New(cfg config.StripeConfig) *Adapter {
	return &Adapter{
		secretKey:     strings.TrimSpace(cfg.SecretKey),
		webhookSecret: strings.TrimSpace(cfg.WebhookSecret),
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

func (a *Adapter) Provider() string { return "stripe" }

func (a *Adapter) IsConfigured() bool {
	return a.secretKey != "" && a.webhookSecret != ""
}

func (a *Adapter) CreateCheckoutSession(ctx context.Context, params domain.CheckoutParams) (*domain.CheckoutResult, error) {
	entry, ok := plan.Lookup(params.Plan)
	if !ok {
		return nil, domain.ErrInvalidConfig
	}
	priceID := entry.StripePrices.Monthly
	if params.BillingCycle == domain.CycleYearly {
		priceID = entry.StripePrices.Yearly
	}

	form := url.Values{}
	form.Set("mode", "subscription")
	form.Set("customer_email", params.Email)
	form.Set("client_reference_id", params.OrderRef)
	form.Set("line_items[0][price]", priceID)
	form.Set("line_items[0][quantity]", "1")
	form.Set("success_url", params.SuccessURL)
	form.Set("cancel_url", params.CancelURL)
	form.Set("metadata[order_ref]", params.OrderRef)
	form.Set("subscription_data[metadata][order_ref]", params.OrderRef)
	form.Set("subscription_data[metadata][plan_id]", string(params.Plan))
	form.Set("subscription_data[metadata][billing_cycle]", params.BillingCycle)

	var session struct {
		ID        string `json:"id"`
		URL       string `json:"url"`
		ExpiresAt int64  `json:"expires_at"`
	}
	if err := a.do(ctx, http.MethodPost, "/v1/checkout/sessions", form, &session); err != nil {
		return nil, err
	}

	result := &domain.CheckoutResult{
		Provider:    a.Provider(),
		SessionID:   session.ID,
		CheckoutURL: session.URL,
	}
	if session.ExpiresAt > 0 {
		expires := time.Unix(session.ExpiresAt, 0).UTC()
		result.ExpiresAt = &expires
	}
	return result, nil
}

func (a *Adapter) CreateSubscription(ctx context.Context, params domain.SubscriptionParams) (*domain.SubscriptionInfo, error) {
	entry, ok := plan.Lookup(params.Plan)
	if !ok {
		return nil, domain.ErrInvalidConfig
	}
	priceID := entry.StripePrices.Monthly
	if params.BillingCycle == domain.CycleYearly {
		priceID = entry.StripePrices.Yearly
	}

	form := url.Values{}
	form.Set("customer", params.ProviderCustomerID)
	form.Set("items[0][price]", priceID)
	form.Set("metadata[order_ref]", params.OrderRef)
	form.Set("metadata[plan_id]", string(params.Plan))
	form.Set("metadata[billing_cycle]", params.BillingCycle)

	var sub subscription
	if err := a.do(ctx, http.MethodPost, "/v1/subscriptions", form, &sub); err != nil {
		return nil, err
	}
	return sub.info(), nil
}

func (a *Adapter) GetSubscription(ctx context.Context, providerSubscriptionID string) (*domain.SubscriptionInfo, error) {
	var sub subscription
	if err := a.do(ctx, http.MethodGet, "/v1/subscriptions/"+url.PathEscape(providerSubscriptionID), nil, &sub); err != nil {
		return nil, err
	}
	return sub.info(), nil
}

func (a *Adapter) CancelSubscription(ctx context.Context, providerSubscriptionID string, immediate bool) error {
	path := "/v1/subscriptions/" + url.PathEscape(providerSubscriptionID)
	if immediate {
		return a.do(ctx, http.MethodDelete, path, nil, nil)
	}
	form := url.Values{}
	form.Set("cancel_at_period_end", "true")
	return a.do(ctx, http.MethodPost, path, form, nil)
}

func (a *Adapter) ResumeSubscription(ctx context.Context, providerSubscriptionID string) error {
	form := url.Values{}
	form.Set("cancel_at_period_end", "false")
	return a.do(ctx, http.MethodPost, "/v1/subscriptions/"+url.PathEscape(providerSubscriptionID), form, nil)
}

func (a *Adapter) CreateCustomer(ctx context.Context, params domain.CustomerParams) (string, error) {
	form := url.Values{}
	form.Set("email", params.Email)
	form.Set("metadata[user_id]", params.UserID.String())

	var customer struct {
		ID string `json:"id"`
	}
	if err := a.do(ctx, http.MethodPost, "/v1/customers", form, &customer); err != nil {
		return "", err
	}
	return customer.ID, nil
}

func (a *Adapter) CreateRefund(ctx context.Context, params domain.RefundParams) (*domain.RefundResult, error) {
	form := url.Values{}
	form.Set("payment_intent", params.ProviderPaymentID)
	if params.Amount > 0 {
		form.Set("amount", strconv.FormatInt(params.Amount, 10))
	}
	if params.Reason != "" {
		form.Set("reason", params.Reason)
	}

	var refund struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := a.do(ctx, http.MethodPost, "/v1/refunds", form, &refund); err != nil {
		return nil, err
	}

	status := domain.PaymentFailed
	switch refund.Status {
	case "succeeded":
		status = domain.PaymentCompleted
	case "pending":
		status = domain.PaymentPending
	}
	return &domain.RefundResult{ProviderRefundID: refund.ID, Status: status}, nil
}

func (a *Adapter) VerifyWebhook(ctx context.Context, payload []byte, sig domain.SignatureMaterial) error {
	header := ""
	if sig.Headers != nil {
		header = strings.TrimSpace(sig.Headers.Get("Stripe-Signature"))
	}
	if header == "" {
		return domain.ErrInvalidSignature
	}

	timestamp, signatures, err := parseSignatureHeader(header)
	if err != nil {
		return domain.ErrInvalidSignature
	}

	signedPayload := fmt.Sprintf("%s.%s", timestamp, string(payload))
	mac := hmac.New(sha256.New, []byte(a.webhookSecret))
	_, _ = mac.Write([]byte(signedPayload))
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, signature := range signatures {
		if hmac.Equal([]byte(signature), []byte(expected)) {
			return nil
		}
	}
	return domain.ErrInvalidSignature
}

func (a *Adapter) ParseWebhook(ctx context.Context, payload []byte) (*domain.WebhookEvent, error) {
	var event stripeEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	if strings.TrimSpace(event.ID) == "" {
		return nil, domain.ErrInvalidEvent
	}

	switch strings.TrimSpace(event.Type) {
	case "checkout.session.completed":
		return a.parseCheckoutSession(event, payload)
	case "invoice.payment_succeeded":
		return a.parseInvoice(event, payload, domain.EventTypePaymentSucceeded)
	case "invoice.payment_failed":
		return a.parseInvoice(event, payload, domain.EventTypePaymentFailed)
	case "customer.subscription.created":
		return a.parseSubscription(event, payload, domain.EventTypeSubscriptionCreated)
	case "customer.subscription.updated":
		return a.parseSubscription(event, payload, domain.EventTypeSubscriptionUpdated)
	case "customer.subscription.deleted":
		return a.parseSubscription(event, payload, domain.EventTypeSubscriptionDeleted)
	default:
		return nil, domain.ErrEventIgnored
	}
}

type stripeEvent struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Created int64           `json:"created"`
	Data    stripeEventData `json:"data"`
}

type stripeEventData struct {
	Object json.RawMessage `json:"object"`
}

type checkoutSession struct {
	ID                string            `json:"id"`
	Customer          string            `json:"customer"`
	Subscription      string            `json:"subscription"`
	ClientReferenceID string            `json:"client_reference_id"`
	PaymentStatus     string            `json:"payment_status"`
	AmountTotal       int64             `json:"amount_total"`
	Currency          string            `json:"currency"`
	Metadata          map[string]string `json:"metadata"`
}

type invoice struct {
	ID                  string            `json:"id"`
	Customer            string            `json:"customer"`
	Subscription        string            `json:"subscription"`
	PaymentIntent       string            `json:"payment_intent"`
	AmountPaid          int64             `json:"amount_paid"`
	AmountDue           int64             `json:"amount_due"`
	Currency            string            `json:"currency"`
	Metadata            map[string]string `json:"metadata"`
	SubscriptionDetails struct {
		Metadata map[string]string `json:"metadata"`
	} `json:"subscription_details"`
}

type subscription struct {
	ID                 string            `json:"id"`
	Customer           string            `json:"customer"`
	Status             string            `json:"status"`
	CancelAtPeriodEnd  bool              `json:"cancel_at_period_end"`
	CurrentPeriodStart int64             `json:"current_period_start"`
	CurrentPeriodEnd   int64             `json:"current_period_end"`
	Metadata           map[string]string `json:"metadata"`
}

func (s subscription) info() *domain.SubscriptionInfo {
	info := &domain.SubscriptionInfo{
		ProviderSubscriptionID: s.ID,
		ProviderCustomerID:     s.Customer,
		Status:                 mapSubscriptionStatus(s.Status),
		CancelAtPeriodEnd:      s.CancelAtPeriodEnd,
	}
	if s.CurrentPeriodStart > 0 {
		start := time.Unix(s.CurrentPeriodStart, 0).UTC()
		info.PeriodStart = &start
	}
	if s.CurrentPeriodEnd > 0 {
		end := time.Unix(s.CurrentPeriodEnd, 0).UTC()
		info.PeriodEnd = &end
	}
	return info
}

func (a *Adapter) parseCheckoutSession(event stripeEvent, payload []byte) (*domain.WebhookEvent, error) {
	var session checkoutSession
	if err := json.Unmarshal(event.Data.Object, &session); err != nil {
		return nil, domain.ErrInvalidPayload
	}

	eventType := domain.EventTypePaymentSucceeded
	status := domain.PaymentCompleted
	if session.PaymentStatus != "paid" {
		eventType = domain.EventTypePaymentPending
		status = domain.PaymentPending
	}

	orderRef := strings.TrimSpace(session.ClientReferenceID)
	if orderRef == "" {
		orderRef = strings.TrimSpace(session.Metadata["order_ref"])
	}

	return &domain.WebhookEvent{
		ID:        event.ID,
		Type:      eventType,
		Provider:  a.Provider(),
		Timestamp: timestamp(event.Created),
		Data: domain.EventData{
			OrderRef:               orderRef,
			ProviderPaymentID:      session.ID,
			ProviderOrderID:        session.ID,
			ProviderSubscriptionID: session.Subscription,
			ProviderCustomerID:     session.Customer,
			Amount:                 session.AmountTotal,
			Currency:               strings.ToUpper(strings.TrimSpace(session.Currency)),
			PaymentStatus:          status,
			PaymentMethod:          "card",
			RawPayload:             payload,
		},
	}, nil
}

func (a *Adapter) parseInvoice(event stripeEvent, payload []byte, eventType string) (*domain.WebhookEvent, error) {
	var inv invoice
	if err := json.Unmarshal(event.Data.Object, &inv); err != nil {
		return nil, domain.ErrInvalidPayload
	}

	amount := inv.AmountPaid
	status := domain.PaymentCompleted
	failureReason := ""
	if eventType == domain.EventTypePaymentFailed {
		amount = inv.AmountDue
		status = domain.PaymentFailed
		failureReason = "invoice_payment_failed"
	}

	orderRef := strings.TrimSpace(inv.SubscriptionDetails.Metadata["order_ref"])
	if orderRef == "" {
		orderRef = strings.TrimSpace(inv.Metadata["order_ref"])
	}

	return &domain.WebhookEvent{
		ID:        event.ID,
		Type:      eventType,
		Provider:  a.Provider(),
		Timestamp: timestamp(event.Created),
		Data: domain.EventData{
			OrderRef:               orderRef,
			ProviderPaymentID:      inv.PaymentIntent,
			ProviderOrderID:        inv.ID,
			ProviderSubscriptionID: inv.Subscription,
			ProviderCustomerID:     inv.Customer,
			Amount:                 amount,
			Currency:               strings.ToUpper(strings.TrimSpace(inv.Currency)),
			PaymentStatus:          status,
			PaymentMethod:          "card",
			FailureReason:          failureReason,
			RawPayload:             payload,
		},
	}, nil
}

func (a *Adapter) parseSubscription(event stripeEvent, payload []byte, eventType string) (*domain.WebhookEvent, error) {
	var sub subscription
	if err := json.Unmarshal(event.Data.Object, &sub); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	if strings.TrimSpace(sub.ID) == "" {
		return nil, domain.ErrInvalidEvent
	}

	info := sub.info()
	return &domain.WebhookEvent{
		ID:        event.ID,
		Type:      eventType,
		Provider:  a.Provider(),
		Timestamp: timestamp(event.Created),
		Data: domain.EventData{
			OrderRef:               strings.TrimSpace(sub.Metadata["order_ref"]),
			ProviderSubscriptionID: sub.ID,
			ProviderCustomerID:     sub.Customer,
			SubscriptionStatus:     info.Status,
			CancelAtPeriodEnd:      sub.CancelAtPeriodEnd,
			Immediate:              eventType == domain.EventTypeSubscriptionDeleted,
			PlanID:                 strings.TrimSpace(sub.Metadata["plan_id"]),
			BillingCycle:           strings.TrimSpace(sub.Metadata["billing_cycle"]),
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
	case "past_due", "unpaid":
		return domain.SubscriptionPastDue
	case "canceled":
		return domain.SubscriptionCanceled
	default:
		return domain.SubscriptionIncomplete
	}
}

func parseSignatureHeader(header string) (string, []string, error) {
	parts := strings.Split(header, ",")
	var timestamp string
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
		if key == "t" {
			timestamp = value
		}
		if key == "v1" {
			signatures = append(signatures, value)
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return "", nil, errors.New("invalid_signature")
	}
	return timestamp, signatures, nil
}

func timestamp(unix int64) time.Time {
	if unix == 0 {
		return time.Now().UTC()
	}
	return time.Unix(unix, 0).UTC()
}

func (a *Adapter) do(ctx context.Context, method, path string, form url.Values, out any) error {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+a.secretKey)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: stripe: %v", domain.ErrProviderAPI, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: stripe: %v", domain.ErrProviderAPI, err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("%w: stripe %s %s: status %d", domain.ErrProviderAPI, method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: stripe: %v", domain.ErrProviderAPI, err)
	}
	return nil
}
