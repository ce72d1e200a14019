package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/waslahq/wasla/internal/config"
	"github.com/waslahq/wasla/internal/gateway/domain"
)

func newTestAdapter(secret string) *Adapter {
	return New(config.StripeConfig{SecretKey: "sk_test", WebhookSecret: secret})
}

func TestVerifyWebhookSignature(t *testing.T) {
	secret := "whsec_test"
	payload := []byte(`{"id":"evt_123","type":"invoice.payment_succeeded","data":{"object":{}}}`)
	ts := time.Now().Unix()

	adapter := newTestAdapter(secret)

	headers := http.Header{}
	headers.Set("Stripe-Signature", buildSignatureHeader(secret, payload, ts))
	if err := adapter.VerifyWebhook(context.Background(), payload, domain.SignatureMaterial{Headers: headers}); err != nil {
		t.Fatalf("expected valid signature, got error: %v", err)
	}

	headers.Set("Stripe-Signature", buildSignatureHeader("wrong", payload, ts))
	if err := adapter.VerifyWebhook(context.Background(), payload, domain.SignatureMaterial{Headers: headers}); err == nil {
		t.Fatalf("expected invalid signature error")
	}

	tampered := append([]byte{}, payload...)
	tampered[len(tampered)-2] = 'x'
	headers.Set("Stripe-Signature", buildSignatureHeader(secret, payload, ts))
	if err := adapter.VerifyWebhook(context.Background(), tampered, domain.SignatureMaterial{Headers: headers}); err == nil {
		t.Fatalf("expected tampered payload to fail verification")
	}
}

func TestParseWebhookCheckoutCompleted(t *testing.T) {
	created := time.Now().UTC().Unix()
	raw := map[string]any{
		"id":      "evt_checkout",
		"type":    "checkout.session.completed",
		"created": created,
		"data": map[string]any{
			"object": map[string]any{
				"id":                  "cs_1",
				"customer":            "cus_1",
				"subscription":        "sub_1",
				"client_reference_id": "1234567890-1700000000",
				"payment_status":      "paid",
				"amount_total":        1200,
				"currency":            "usd",
			},
		},
	}
	payload, err := json.Marshal(raw)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}

	adapter := newTestAdapter("whsec_test")
	event, err := adapter.ParseWebhook(context.Background(), payload)
	if err != nil {
		t.Fatalf("parse event: %v", err)
	}
	if event.Type != domain.EventTypePaymentSucceeded {
		t.Fatalf("expected type %s, got %s", domain.EventTypePaymentSucceeded, event.Type)
	}
	if event.Data.OrderRef != "1234567890-1700000000" {
		t.Fatalf("expected order ref, got %q", event.Data.OrderRef)
	}
	if event.Data.Amount != 1200 {
		t.Fatalf("expected amount 1200, got %d", event.Data.Amount)
	}
	if event.Data.Currency != "USD" {
		t.Fatalf("expected currency USD, got %s", event.Data.Currency)
	}
	if event.Data.PaymentStatus != domain.PaymentCompleted {
		t.Fatalf("expected COMPLETED, got %s", event.Data.PaymentStatus)
	}
}

func TestParseWebhookSubscriptionUpdated(t *testing.T) {
	raw := map[string]any{
		"id":   "evt_sub",
		"type": "customer.subscription.updated",
		"data": map[string]any{
			"object": map[string]any{
				"id":                   "sub_1",
				"customer":             "cus_1",
				"status":               "past_due",
				"cancel_at_period_end": true,
				"current_period_start": 1700000000,
				"current_period_end":   1702592000,
				"metadata": map[string]any{
					"order_ref":     "42-1700000000",
					"plan_id":       "PRO",
					"billing_cycle": "yearly",
				},
			},
		},
	}
	payload, err := json.Marshal(raw)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}

	adapter := newTestAdapter("whsec_test")
	event, err := adapter.ParseWebhook(context.Background(), payload)
	if err != nil {
		t.Fatalf("parse event: %v", err)
	}
	if event.Type != domain.EventTypeSubscriptionUpdated {
		t.Fatalf("expected subscription.updated, got %s", event.Type)
	}
	if event.Data.SubscriptionStatus != domain.SubscriptionPastDue {
		t.Fatalf("expected PAST_DUE, got %s", event.Data.SubscriptionStatus)
	}
	if !event.Data.CancelAtPeriodEnd {
		t.Fatalf("expected cancel_at_period_end")
	}
	if event.Data.PlanID != "PRO" || event.Data.BillingCycle != "yearly" {
		t.Fatalf("expected plan metadata, got %q %q", event.Data.PlanID, event.Data.BillingCycle)
	}
	if event.Data.PeriodEnd == nil {
		t.Fatalf("expected period end")
	}
}

func TestParseWebhookIgnoresUnknownEvent(t *testing.T) {
	payload := []byte(`{"id":"evt_x","type":"product.created","data":{"object":{}}}`)
	adapter := newTestAdapter("whsec_test")
	if _, err := adapter.ParseWebhook(context.Background(), payload); err != domain.ErrEventIgnored {
		t.Fatalf("expected ErrEventIgnored, got %v", err)
	}
}

func TestSubscriptionStatusFailsClosed(t *testing.T) {
	if got := mapSubscriptionStatus("some_new_status"); got != domain.SubscriptionIncomplete {
		t.Fatalf("expected INCOMPLETE for unknown status, got %s", got)
	}
}

func buildSignatureHeader(secret string, payload []byte, timestamp int64) string {
	signedPayload := fmt.Sprintf("%d.%s", timestamp, string(payload))
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(signedPayload))
	signature := hex.EncodeToString(mac.Sum(nil))
	return fmt.Sprintf("t=%d,v1=%s", timestamp, signature)
}
