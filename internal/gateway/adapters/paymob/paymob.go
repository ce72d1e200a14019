package paymob

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/waslahq/wasla/internal/clock"
	"github.com/waslahq/wasla/internal/config"
	"github.com/waslahq/wasla/internal/currency"
	"github.com/waslahq/wasla/internal/gateway/domain"
	"github.com/waslahq/wasla/internal/plan"
)

const (
	defaultBaseURL = "https://accept.paymob.com"

	// paymentKeyTTL is the validity window the processor gives the hosted
	// payment page token.
	paymentKeyTTL = 3600

	// kioskBillTTL is how long a kiosk bill reference stays payable at a
	// physical location before it lapses.
	kioskBillTTL = 72 * time.Hour
)

// Adapter drives the Egypt processor. Card payments go through the hosted
// iframe; kiosk payments produce a bill reference paid at a physical agent.
// Webhook signatures arrive as an "hmac" query parameter computed with
// HMAC-SHA512 over an ordered field concatenation.
type Adapter struct {
	apiKey             string
	hmacSecret         string
	integrationID      string
	kioskIntegrationID string
	iframeID           string
	baseURL            string
	httpClient         *http.Client
	clock              clock.Clock
}

func New(cfg config.PaymobConfig, clk clock.Clock) *Adapter {
	return &Adapter{
		apiKey:             cfg.APIKey,
		hmacSecret:         cfg.HMACSecret,
		integrationID:      cfg.IntegrationID,
		kioskIntegrationID: cfg.KioskIntegrationID,
		iframeID:           cfg.IframeID,
		baseURL:            defaultBaseURL,
		httpClient:         http.DefaultClient,
		clock:              clk,
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

func (a *Adapter) Provider() string { return "paymob" }

func (a *Adapter) IsConfigured() bool {
	return a.apiKey != "" && a.hmacSecret != "" && a.integrationID != ""
}

func (a *Adapter) CreateCheckoutSession(ctx context.Context, params domain.CheckoutParams) (*domain.CheckoutResult, error) {
	entry, ok := plan.Lookup(params.Plan)
	if !ok {
		return nil, domain.ErrInvalidConfig
	}
	amountUSD := entry.PriceUSD(params.BillingCycle == domain.CycleYearly)
	amountCents, err := currency.ToSmallestUnit(float64(amountUSD), params.Currency)
	if err != nil {
		return nil, err
	}
	if params.Amount > 0 {
		amountCents = params.Amount
	}

	token, err := a.authenticate(ctx)
	if err != nil {
		return nil, err
	}

	orderID, err := a.registerOrder(ctx, token, amountCents, params.Currency, params.OrderRef)
	if err != nil {
		return nil, err
	}

	kiosk := strings.EqualFold(params.PaymentMethod, "kiosk")
	integrationID := a.integrationID
	if kiosk {
		if a.kioskIntegrationID == "" {
			return nil, domain.ErrNotConfigured
		}
		integrationID = a.kioskIntegrationID
	}

	paymentToken, err := a.paymentKey(ctx, token, amountCents, params.Currency, orderID, integrationID, params.Email)
	if err != nil {
		return nil, err
	}

	if kiosk {
		billRef, err := a.kioskPay(ctx, paymentToken)
		if err != nil {
			return nil, err
		}
		expiry := a.clock.Now().UTC().Add(kioskBillTTL)
		return &domain.CheckoutResult{
			Provider:     a.Provider(),
			SessionID:    strconv.FormatInt(orderID, 10),
			KioskBillRef: billRef,
			KioskExpiry:  &expiry,
		}, nil
	}

	expires := a.clock.Now().UTC().Add(paymentKeyTTL * time.Second)
	return &domain.CheckoutResult{
		Provider:    a.Provider(),
		SessionID:   strconv.FormatInt(orderID, 10),
		CheckoutURL: fmt.Sprintf("%s/api/acceptance/iframes/%s?payment_token=%s", a.baseURL, a.iframeID, paymentToken),
		ExpiresAt:   &expires,
	}, nil
}

// The processor has no native subscription objects; renewals are fresh
// charges and cancellations are local state changes.
func (a *Adapter) CreateSubscription(ctx context.Context, params domain.SubscriptionParams) (*domain.SubscriptionInfo, error) {
	return nil, domain.ErrUnsupportedOperation
}

func (a *Adapter) GetSubscription(ctx context.Context, providerSubscriptionID string) (*domain.SubscriptionInfo, error) {
	return nil, domain.ErrUnsupportedOperation
}

func (a *Adapter) CancelSubscription(ctx context.Context, providerSubscriptionID string, immediate bool) error {
	return domain.ErrUnsupportedOperation
}

func (a *Adapter) ResumeSubscription(ctx context.Context, providerSubscriptionID string) error {
	return domain.ErrUnsupportedOperation
}

func (a *Adapter) CreateCustomer(ctx context.Context, params domain.CustomerParams) (string, error) {
	return "", domain.ErrUnsupportedOperation
}

func (a *Adapter) CreateRefund(ctx context.Context, params domain.RefundParams) (*domain.RefundResult, error) {
	token, err := a.authenticate(ctx)
	if err != nil {
		return nil, err
	}

	var out struct {
		ID         int64 `json:"id"`
		Success    bool  `json:"success"`
		Pending    bool  `json:"pending"`
		IsRefunded bool  `json:"is_refunded"`
	}
	err = a.post(ctx, "/api/acceptance/void_refund/refund", map[string]any{
		"auth_token":     token,
		"transaction_id": params.ProviderPaymentID,
		"amount_cents":   params.Amount,
	}, &out)
	if err != nil {
		return nil, err
	}

	status := domain.PaymentFailed
	switch {
	case out.Success || out.IsRefunded:
		status = domain.PaymentCompleted
	case out.Pending:
		status = domain.PaymentPending
	}
	return &domain.RefundResult{
		ProviderRefundID: strconv.FormatInt(out.ID, 10),
		Status:           status,
	}, nil
}

func (a *Adapter) VerifyWebhook(ctx context.Context, payload []byte, sig domain.SignatureMaterial) error {
	received := ""
	if sig.Query != nil {
		received = strings.TrimSpace(sig.Query.Get("hmac"))
	}
	if received == "" {
		return domain.ErrInvalidSignature
	}

	var envelope webhookEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return domain.ErrInvalidPayload
	}

	mac := hmac.New(sha512.New, []byte(a.hmacSecret))
	_, _ = mac.Write([]byte(envelope.Obj.hmacString()))
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(strings.ToLower(received)), []byte(expected)) {
		return domain.ErrInvalidSignature
	}
	return nil
}

func (a *Adapter) ParseWebhook(ctx context.Context, payload []byte) (*domain.WebhookEvent, error) {
	var envelope webhookEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	if !strings.EqualFold(strings.TrimSpace(envelope.Type), "TRANSACTION") {
		return nil, domain.ErrEventIgnored
	}
	txn := envelope.Obj
	if txn.ID == 0 {
		return nil, domain.ErrInvalidEvent
	}

	eventType, status := mapTransaction(txn)

	data := domain.EventData{
		OrderRef:          strings.TrimSpace(txn.Order.MerchantOrderID),
		ProviderPaymentID: strconv.FormatInt(txn.ID, 10),
		ProviderOrderID:   strconv.FormatInt(txn.Order.ID, 10),
		Amount:            txn.AmountCents,
		Currency:          strings.ToUpper(strings.TrimSpace(txn.Currency)),
		PaymentStatus:     status,
		PaymentMethod:     strings.ToLower(strings.TrimSpace(txn.SourceData.Type)),
		RawPayload:        payload,
	}
	if pan := strings.TrimSpace(txn.SourceData.Pan); len(pan) >= 4 {
		data.CardLast4 = pan[len(pan)-4:]
	}
	if txn.Data.BillReference > 0 {
		data.KioskBillRef = strconv.FormatInt(txn.Data.BillReference, 10)
		expiry := a.parsedTimestamp(txn.CreatedAt).Add(kioskBillTTL)
		data.KioskExpiry = &expiry
	}
	if status == domain.PaymentFailed {
		data.FailureReason = strings.TrimSpace(txn.Data.Message)
		if data.FailureReason == "" {
			data.FailureReason = "transaction_declined"
		}
	}

	// Kiosk flows deliver several callbacks for one transaction id (pending
	// at bill creation, then settlement), so the delivery identity carries
	// the reported state as well.
	return &domain.WebhookEvent{
		ID:        fmt.Sprintf("%d:%s", txn.ID, strings.ToLower(string(status))),
		Type:      eventType,
		Provider:  a.Provider(),
		Timestamp: a.parsedTimestamp(txn.CreatedAt),
		Data:      data,
	}, nil
}

func mapTransaction(txn transaction) (string, domain.PaymentStatus) {
	switch {
	case txn.IsRefunded || txn.IsVoided:
		return domain.EventTypePaymentFailed, domain.PaymentCancelled
	case txn.Success && !txn.Pending:
		return domain.EventTypePaymentSucceeded, domain.PaymentCompleted
	case txn.Pending && !txn.ErrorOccured:
		return domain.EventTypePaymentPending, domain.PaymentPending
	default:
		return domain.EventTypePaymentFailed, domain.PaymentFailed
	}
}

type webhookEnvelope struct {
	Type string      `json:"type"`
	Obj  transaction `json:"obj"`
}

type transaction struct {
	ID                   int64           `json:"id"`
	Pending              bool            `json:"pending"`
	AmountCents          int64           `json:"amount_cents"`
	Success              bool            `json:"success"`
	IsAuth               bool            `json:"is_auth"`
	IsCapture            bool            `json:"is_capture"`
	IsStandalonePayment  bool            `json:"is_standalone_payment"`
	IsVoided             bool            `json:"is_voided"`
	IsRefunded           bool            `json:"is_refunded"`
	Is3DSecure           bool            `json:"is_3d_secure"`
	IntegrationID        int64           `json:"integration_id"`
	HasParentTransaction bool            `json:"has_parent_transaction"`
	Order                order           `json:"order"`
	CreatedAt            string          `json:"created_at"`
	Currency             string          `json:"currency"`
	ErrorOccured         bool            `json:"error_occured"`
	Owner                int64           `json:"owner"`
	SourceData           sourceData      `json:"source_data"`
	Data                 transactionData `json:"data"`
}

type order struct {
	ID              int64  `json:"id"`
	MerchantOrderID string `json:"merchant_order_id"`
}

type sourceData struct {
	Pan     string `json:"pan"`
	Type    string `json:"type"`
	SubType string `json:"sub_type"`
}

type transactionData struct {
	BillReference int64  `json:"bill_reference"`
	Message       string `json:"message"`
}

// hmacString concatenates the signed transaction fields in the processor's
// documented lexicographic order. The raw body is never re-serialized; only
// these scalar fields participate.
func (t transaction) hmacString() string {
	var b bytes.Buffer
	b.WriteString(strconv.FormatInt(t.AmountCents, 10))
	b.WriteString(t.CreatedAt)
	b.WriteString(t.Currency)
	b.WriteString(boolString(t.ErrorOccured))
	b.WriteString(boolString(t.HasParentTransaction))
	b.WriteString(strconv.FormatInt(t.ID, 10))
	b.WriteString(strconv.FormatInt(t.IntegrationID, 10))
	b.WriteString(boolString(t.Is3DSecure))
	b.WriteString(boolString(t.IsAuth))
	b.WriteString(boolString(t.IsCapture))
	b.WriteString(boolString(t.IsRefunded))
	b.WriteString(boolString(t.IsStandalonePayment))
	b.WriteString(boolString(t.IsVoided))
	b.WriteString(strconv.FormatInt(t.Order.ID, 10))
	b.WriteString(strconv.FormatInt(t.Owner, 10))
	b.WriteString(boolString(t.Pending))
	b.WriteString(t.SourceData.Pan)
	b.WriteString(t.SourceData.SubType)
	b.WriteString(t.SourceData.Type)
	b.WriteString(boolString(t.Success))
	return b.String()
}

func boolString(v bool) string {
	if v {
		return "true"
	}
	return "false"
}

func (a *Adapter) parsedTimestamp(value string) time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return a.clock.Now().UTC()
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05.999999"} {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts.UTC()
		}
	}
	return a.clock.Now().UTC()
}

func (a *Adapter) authenticate(ctx context.Context) (string, error) {
	var out struct {
		Token string `json:"token"`
	}
	err := a.post(ctx, "/api/auth/tokens", map[string]any{"api_key": a.apiKey}, &out)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(out.Token) == "" {
		return "", fmt.Errorf("%w: paymob: empty auth token", domain.ErrProviderAPI)
	}
	return out.Token, nil
}

func (a *Adapter) registerOrder(ctx context.Context, token string, amountCents int64, currencyCode, orderRef string) (int64, error) {
	var out struct {
		ID int64 `json:"id"`
	}
	err := a.post(ctx, "/api/ecommerce/orders", map[string]any{
		"auth_token":        token,
		"delivery_needed":   false,
		"amount_cents":      amountCents,
		"currency":          currencyCode,
		"merchant_order_id": orderRef,
		"items":             []any{},
	}, &out)
	if err != nil {
		return 0, err
	}
	return out.ID, nil
}

func (a *Adapter) paymentKey(ctx context.Context, token string, amountCents int64, currencyCode string, orderID int64, integrationID, email string) (string, error) {
	var out struct {
		Token string `json:"token"`
	}
	err := a.post(ctx, "/api/acceptance/payment_keys", map[string]any{
		"auth_token":     token,
		"amount_cents":   amountCents,
		"currency":       currencyCode,
		"order_id":       orderID,
		"integration_id": integrationID,
		"expiration":     paymentKeyTTL,
		"billing_data": map[string]any{
			"email":        email,
			"first_name":   "NA",
			"last_name":    "NA",
			"phone_number": "NA",
			"apartment":    "NA",
			"floor":        "NA",
			"street":       "NA",
			"building":     "NA",
			"city":         "NA",
			"country":      "NA",
		},
	}, &out)
	if err != nil {
		return "", err
	}
	return out.Token, nil
}

func (a *Adapter) kioskPay(ctx context.Context, paymentToken string) (string, error) {
	var out struct {
		ID   int64 `json:"id"`
		Data struct {
			BillReference int64 `json:"bill_reference"`
		} `json:"data"`
	}
	err := a.post(ctx, "/api/acceptance/payments/pay", map[string]any{
		"payment_token": paymentToken,
		"source": map[string]any{
			"identifier": "AGGREGATOR",
			"subtype":    "AGGREGATOR",
		},
	}, &out)
	if err != nil {
		return "", err
	}
	if out.Data.BillReference == 0 {
		return "", fmt.Errorf("%w: paymob: missing bill reference", domain.ErrProviderAPI)
	}
	return strconv.FormatInt(out.Data.BillReference, 10), nil
}

func (a *Adapter) post(ctx context.Context, path string, body map[string]any, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: paymob: %v", domain.ErrProviderAPI, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: paymob: %v", domain.ErrProviderAPI, err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("%w: paymob %s: status %d", domain.ErrProviderAPI, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: paymob: %v", domain.ErrProviderAPI, err)
	}
	return nil
}
