package paytabs

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
	"strconv"
	"strings"
	"time"

	"github.com/waslahq/wasla/internal/config"
	"github.com/waslahq/wasla/internal/currency"
	"github.com/waslahq/wasla/internal/gateway/domain"
	"github.com/waslahq/wasla/internal/plan"
)

// Regional API origins. The processor routes merchants to a region-pinned
// endpoint; GCC profiles commonly live on the SAU or ARE instances.
var regionBaseURLs = map[string]string{
	"SAU": "https://secure.paytabs.sa",
	"ARE": "https://secure.paytabs.com",
	"EGY": "https://secure-egypt.paytabs.com",
	"OMN": "https://secure-oman.paytabs.com",
	"JOR": "https://secure-jordan.paytabs.com",
	"GLOBAL": "https://secure-global.paytabs.com",
}

const defaultBaseURL = "https://secure.paytabs.com"

// Adapter drives the GCC processor. Signatures arrive as a hex HMAC-SHA256 of
// the exact raw body in the Signature header. Amounts cross the wire as
// decimal major units and are translated to minor units before leaving the
// adapter.
type Adapter struct {
	profileID  string
	serverKey  string
	baseURL    string
	httpClient *http.Client
}

func New(cfg config.PayTabsConfig) *Adapter {
	base := regionBaseURLs[strings.ToUpper(strings.TrimSpace(cfg.Region))]
	if base == "" {
		base = defaultBaseURL
	}
	return &Adapter{
		profileID:  cfg.ProfileID,
		serverKey:  cfg.ServerKey,
		baseURL:    base,
		httpClient: http.DefaultClient,
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

func (a *Adapter) Provider() string { return "paytabs" }

func (a *Adapter) IsConfigured() bool {
	return a.profileID != "" && a.serverKey != ""
}

func (a *Adapter) CreateCheckoutSession(ctx context.Context, params domain.CheckoutParams) (*domain.CheckoutResult, error) {
	entry, ok := plan.Lookup(params.Plan)
	if !ok {
		return nil, domain.ErrInvalidConfig
	}

	amount := float64(entry.PriceUSD(params.BillingCycle == domain.CycleYearly))
	if params.Amount > 0 {
		major, err := currency.FromSmallestUnit(params.Amount, params.Currency)
		if err != nil {
			return nil, err
		}
		amount = major
	}

	body := map[string]any{
		"profile_id":       a.profileID,
		"tran_type":        "sale",
		"tran_class":       "ecom",
		"cart_id":          params.OrderRef,
		"cart_description": fmt.Sprintf("%s %s subscription", params.Plan, params.BillingCycle),
		"cart_currency":    strings.ToUpper(params.Currency),
		"cart_amount":      amount,
		"callback":         params.SuccessURL,
		"return":           params.CancelURL,
		"hide_shipping":    true,
		"customer_details": map[string]any{
			"email": params.Email,
		},
	}

	var out struct {
		TranRef     string `json:"tran_ref"`
		RedirectURL string `json:"redirect_url"`
	}
	if err := a.post(ctx, "/payment/request", body, &out); err != nil {
		return nil, err
	}
	if out.RedirectURL == "" {
		return nil, fmt.Errorf("%w: paytabs: missing redirect url", domain.ErrProviderAPI)
	}

	return &domain.CheckoutResult{
		Provider:    a.Provider(),
		SessionID:   out.TranRef,
		CheckoutURL: out.RedirectURL,
	}, nil
}

// Hosted-page sales only; there are no processor-side subscription objects.
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
	amount, err := currency.FromSmallestUnit(params.Amount, params.Currency)
	if err != nil {
		return nil, err
	}

	body := map[string]any{
		"profile_id":    a.profileID,
		"tran_type":     "refund",
		"tran_class":    "ecom",
		"tran_ref":      params.ProviderPaymentID,
		"cart_id":       params.ProviderPaymentID,
		"cart_currency": strings.ToUpper(params.Currency),
		"cart_amount":   amount,
		"cart_description": func() string {
			if params.Reason != "" {
				return params.Reason
			}
			return "refund"
		}(),
	}

	var out struct {
		TranRef       string        `json:"tran_ref"`
		PaymentResult paymentResult `json:"payment_result"`
	}
	if err := a.post(ctx, "/payment/request", body, &out); err != nil {
		return nil, err
	}

	return &domain.RefundResult{
		ProviderRefundID: out.TranRef,
		Status:           mapResponseStatus(out.PaymentResult.ResponseStatus),
	}, nil
}

func (a *Adapter) VerifyWebhook(ctx context.Context, payload []byte, sig domain.SignatureMaterial) error {
	received := ""
	if sig.Headers != nil {
		received = strings.TrimSpace(sig.Headers.Get("Signature"))
	}
	if received == "" {
		return domain.ErrInvalidSignature
	}

	mac := hmac.New(sha256.New, []byte(a.serverKey))
	_, _ = mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(strings.ToLower(received)), []byte(expected)) {
		return domain.ErrInvalidSignature
	}
	return nil
}

func (a *Adapter) ParseWebhook(ctx context.Context, payload []byte) (*domain.WebhookEvent, error) {
	var notification webhookNotification
	if err := json.Unmarshal(payload, &notification); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	if strings.TrimSpace(notification.TranRef) == "" {
		return nil, domain.ErrInvalidEvent
	}

	code := strings.ToUpper(strings.TrimSpace(notification.PaymentResult.ResponseStatus))
	status := mapResponseStatus(code)

	eventType := domain.EventTypePaymentFailed
	switch status {
	case domain.PaymentCompleted:
		eventType = domain.EventTypePaymentSucceeded
	case domain.PaymentPending:
		eventType = domain.EventTypePaymentPending
	}

	currencyCode := strings.ToUpper(strings.TrimSpace(notification.CartCurrency))
	amountMajor, err := strconv.ParseFloat(strings.TrimSpace(notification.CartAmount), 64)
	if err != nil {
		return nil, domain.ErrInvalidPayload
	}
	amount, err := currency.ToSmallestUnit(amountMajor, currencyCode)
	if err != nil {
		return nil, domain.ErrInvalidPayload
	}

	data := domain.EventData{
		OrderRef:          strings.TrimSpace(notification.CartID),
		ProviderPaymentID: notification.TranRef,
		ProviderOrderID:   strings.TrimSpace(notification.CartID),
		Amount:            amount,
		Currency:          currencyCode,
		PaymentStatus:     status,
		PaymentMethod:     strings.ToLower(strings.TrimSpace(notification.PaymentInfo.PaymentMethod)),
		CardBrand:         strings.TrimSpace(notification.PaymentInfo.CardType),
		CardLast4:         last4(notification.PaymentInfo.PaymentDescription),
		RawPayload:        payload,
	}
	if status == domain.PaymentFailed || status == domain.PaymentCancelled {
		data.FailureReason = strings.TrimSpace(notification.PaymentResult.ResponseMessage)
		if data.FailureReason == "" {
			data.FailureReason = "response_status_" + code
		}
	}

	// The processor reuses one tran_ref across status callbacks, so the
	// delivery identity carries the mapped state as well.
	return &domain.WebhookEvent{
		ID:        notification.TranRef + ":" + strings.ToLower(string(status)),
		Type:      eventType,
		Provider:  a.Provider(),
		Timestamp: parsedTime(notification.PaymentResult.TransactionTime),
		Data:      data,
	}, nil
}

// mapResponseStatus translates the processor's response_status codes. The
// table is total: A authorized, H held, P pending, V voided, E error,
// D declined; anything unrecognized fails closed.
func mapResponseStatus(code string) domain.PaymentStatus {
	switch strings.ToUpper(strings.TrimSpace(code)) {
	case "A":
		return domain.PaymentCompleted
	case "H", "P":
		return domain.PaymentPending
	case "V":
		return domain.PaymentCancelled
	case "E", "D":
		return domain.PaymentFailed
	default:
		return domain.PaymentFailed
	}
}

type webhookNotification struct {
	TranRef       string        `json:"tran_ref"`
	CartID        string        `json:"cart_id"`
	CartAmount    string        `json:"cart_amount"`
	CartCurrency  string        `json:"cart_currency"`
	PaymentResult paymentResult `json:"payment_result"`
	PaymentInfo   paymentInfo   `json:"payment_info"`
}

type paymentResult struct {
	ResponseStatus  string `json:"response_status"`
	ResponseCode    string `json:"response_code"`
	ResponseMessage string `json:"response_message"`
	TransactionTime string `json:"transaction_time"`
}

type paymentInfo struct {
	PaymentMethod      string `json:"payment_method"`
	CardType           string `json:"card_type"`
	PaymentDescription string `json:"payment_description"`
}

func last4(description string) string {
	digits := make([]byte, 0, len(description))
	for i := 0; i < len(description); i++ {
		if description[i] >= '0' && description[i] <= '9' {
			digits = append(digits, description[i])
		}
	}
	if len(digits) < 4 {
		return ""
	}
	return string(digits[len(digits)-4:])
}

func parsedTime(value string) time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Now().UTC()
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05Z0700", "2006-01-02 15:04:05"} {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts.UTC()
		}
	}
	return time.Now().UTC()
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
	req.Header.Set("Authorization", a.serverKey)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: paytabs: %v", domain.ErrProviderAPI, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: paytabs: %v", domain.ErrProviderAPI, err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("%w: paytabs %s: status %d", domain.ErrProviderAPI, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: paytabs: %v", domain.ErrProviderAPI, err)
	}
	return nil
}
