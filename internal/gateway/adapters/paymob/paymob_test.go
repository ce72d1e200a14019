package paymob

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/waslahq/wasla/internal/clock"
	"github.com/waslahq/wasla/internal/config"
	"github.com/waslahq/wasla/internal/gateway/domain"
	"github.com/waslahq/wasla/internal/plan"
)

func newTestAdapter(secret string) *Adapter {
	return New(config.PaymobConfig{
		APIKey:             "key_test",
		HMACSecret:         secret,
		IntegrationID:      "11",
		KioskIntegrationID: "33",
		IframeID:           "22",
	}, clock.NewFake(time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)))
}

func testTransaction() transaction {
	return transaction{
		ID:                  9001,
		AmountCents:         50000,
		Success:             true,
		IsStandalonePayment: true,
		IntegrationID:       11,
		Order:               order{ID: 7001, MerchantOrderID: "1234567890-1700000000"},
		CreatedAt:           "2026-01-15T10:30:00.000000",
		Currency:            "EGP",
		Owner:               3,
		SourceData:          sourceData{Pan: "2346", Type: "card", SubType: "MasterCard"},
	}
}

func signQuery(secret string, txn transaction) url.Values {
	mac := hmac.New(sha512.New, []byte(secret))
	_, _ = mac.Write([]byte(txn.hmacString()))
	query := url.Values{}
	query.Set("hmac", hex.EncodeToString(mac.Sum(nil)))
	return query
}

func TestVerifyWebhookSignature(t *testing.T) {
	secret := "hmac_test"
	txn := testTransaction()
	payload, err := json.Marshal(webhookEnvelope{Type: "TRANSACTION", Obj: txn})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}

	adapter := newTestAdapter(secret)
	if err := adapter.VerifyWebhook(context.Background(), payload, domain.SignatureMaterial{Query: signQuery(secret, txn)}); err != nil {
		t.Fatalf("expected valid signature, got error: %v", err)
	}

	if err := adapter.VerifyWebhook(context.Background(), payload, domain.SignatureMaterial{Query: signQuery("wrong", txn)}); err == nil {
		t.Fatalf("expected invalid signature error")
	}

	tampered := txn
	tampered.AmountCents = 1
	tamperedPayload, err := json.Marshal(webhookEnvelope{Type: "TRANSACTION", Obj: tampered})
	if err != nil {
		t.Fatalf("marshal tampered payload: %v", err)
	}
	if err := adapter.VerifyWebhook(context.Background(), tamperedPayload, domain.SignatureMaterial{Query: signQuery(secret, txn)}); err == nil {
		t.Fatalf("expected tampered payload to fail verification")
	}

	if err := adapter.VerifyWebhook(context.Background(), payload, domain.SignatureMaterial{}); err == nil {
		t.Fatalf("expected missing hmac to fail verification")
	}
}

func TestParseWebhookSuccessfulCard(t *testing.T) {
	txn := testTransaction()
	payload, err := json.Marshal(webhookEnvelope{Type: "TRANSACTION", Obj: txn})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}

	adapter := newTestAdapter("hmac_test")
	event, err := adapter.ParseWebhook(context.Background(), payload)
	if err != nil {
		t.Fatalf("parse event: %v", err)
	}
	if event.Type != domain.EventTypePaymentSucceeded {
		t.Fatalf("expected payment.success, got %s", event.Type)
	}
	if event.Data.PaymentStatus != domain.PaymentCompleted {
		t.Fatalf("expected COMPLETED, got %s", event.Data.PaymentStatus)
	}
	if event.Data.OrderRef != "1234567890-1700000000" {
		t.Fatalf("expected order ref, got %q", event.Data.OrderRef)
	}
	if event.Data.Amount != 50000 || event.Data.Currency != "EGP" {
		t.Fatalf("expected 50000 EGP, got %d %s", event.Data.Amount, event.Data.Currency)
	}
	if event.Data.CardLast4 != "2346" {
		t.Fatalf("expected last4 2346, got %q", event.Data.CardLast4)
	}
}

func TestParseWebhookKioskPending(t *testing.T) {
	txn := testTransaction()
	txn.Success = false
	txn.Pending = true
	txn.SourceData = sourceData{Type: "aggregator", SubType: "AGGREGATOR"}
	txn.Data.BillReference = 88112233

	payload, err := json.Marshal(webhookEnvelope{Type: "TRANSACTION", Obj: txn})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}

	adapter := newTestAdapter("hmac_test")
	event, err := adapter.ParseWebhook(context.Background(), payload)
	if err != nil {
		t.Fatalf("parse event: %v", err)
	}
	if event.Type != domain.EventTypePaymentPending {
		t.Fatalf("expected payment.pending, got %s", event.Type)
	}
	if event.Data.KioskBillRef != "88112233" {
		t.Fatalf("expected kiosk bill ref, got %q", event.Data.KioskBillRef)
	}
	if event.Data.KioskExpiry == nil {
		t.Fatalf("expected kiosk expiry")
	}
}

func TestMapTransactionFailsClosed(t *testing.T) {
	declined := transaction{ID: 1, ErrorOccured: true}
	eventType, status := mapTransaction(declined)
	if eventType != domain.EventTypePaymentFailed || status != domain.PaymentFailed {
		t.Fatalf("expected failed mapping, got %s %s", eventType, status)
	}

	voided := transaction{ID: 2, Success: true, IsVoided: true}
	eventType, status = mapTransaction(voided)
	if eventType != domain.EventTypePaymentFailed || status != domain.PaymentCancelled {
		t.Fatalf("expected cancelled mapping, got %s %s", eventType, status)
	}
}

func TestParseWebhookEventIDFollowsTransactionState(t *testing.T) {
	adapter := newTestAdapter("hmac_test")

	pending := testTransaction()
	pending.Success = false
	pending.Pending = true
	pending.Data.BillReference = 88112233

	settled := pending
	settled.Success = true
	settled.Pending = false

	ids := map[string]bool{}
	for _, txn := range []transaction{pending, settled} {
		payload, err := json.Marshal(webhookEnvelope{Type: "TRANSACTION", Obj: txn})
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		event, err := adapter.ParseWebhook(context.Background(), payload)
		if err != nil {
			t.Fatalf("parse event: %v", err)
		}
		if ids[event.ID] {
			t.Fatalf("callbacks for the same transaction share event id %q", event.ID)
		}
		ids[event.ID] = true
	}
}

func TestCreateCheckoutKioskExpiryFromClock(t *testing.T) {
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/auth/tokens":
			_, _ = w.Write([]byte(`{"token":"auth_tok"}`))
		case "/api/ecommerce/orders":
			_, _ = w.Write([]byte(`{"id":7001}`))
		case "/api/acceptance/payment_keys":
			_, _ = w.Write([]byte(`{"token":"pay_tok"}`))
		case "/api/acceptance/payments/pay":
			_, _ = w.Write([]byte(`{"id":1,"data":{"bill_reference":88112233}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	adapter := newTestAdapter("hmac_test").WithBaseURL(srv.URL).WithHTTPClient(srv.Client())

	result, err := adapter.CreateCheckoutSession(context.Background(), domain.CheckoutParams{
		Plan:          plan.TierPro,
		BillingCycle:  domain.CycleMonthly,
		Currency:      "EGP",
		OrderRef:      "42-1700000000",
		Email:         "user@example.com",
		PaymentMethod: "kiosk",
	})
	if err != nil {
		t.Fatalf("create checkout: %v", err)
	}
	if result.KioskBillRef != "88112233" {
		t.Fatalf("expected bill ref, got %q", result.KioskBillRef)
	}
	if result.KioskExpiry == nil || !result.KioskExpiry.Equal(now.Add(72*time.Hour)) {
		t.Fatalf("expected expiry %v, got %v", now.Add(72*time.Hour), result.KioskExpiry)
	}
}

func TestParseWebhookIgnoresNonTransaction(t *testing.T) {
	adapter := newTestAdapter("hmac_test")
	if _, err := adapter.ParseWebhook(context.Background(), []byte(`{"type":"TOKEN","obj":{}}`)); err != domain.ErrEventIgnored {
		t.Fatalf("expected ErrEventIgnored, got %v", err)
	}
}
