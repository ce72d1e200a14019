package paddle

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/waslahq/wasla/internal/config"
	"github.com/waslahq/wasla/internal/gateway/domain"
)

func newTestAdapter(secret string) *Adapter {
	return New(config.PaddleConfig{APIKey: "pdl_test", WebhookSecret: secret})
}

func buildSignatureHeader(secret string, payload []byte, ts int64) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(fmt.Sprintf("%d:", ts)))
	_, _ = mac.Write(payload)
	return fmt.Sprintf("ts=%d;h1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func TestVerifyWebhookSignature(t *testing.T) {
	secret := "pdl_ntfset_test"
	payload := []byte(`{"event_id":"evt_1","event_type":"transaction.completed","data":{"id":"txn_1"}}`)
	ts := time.Now().Unix()

	adapter := newTestAdapter(secret)

	headers := http.Header{}
	headers.Set("Paddle-Signature", buildSignatureHeader(secret, payload, ts))
	if err := adapter.VerifyWebhook(context.Background(), payload, domain.SignatureMaterial{Headers: headers}); err != nil {
		t.Fatalf("expected valid signature, got error: %v", err)
	}

	headers.Set("Paddle-Signature", buildSignatureHeader("wrong", payload, ts))
	if err := adapter.VerifyWebhook(context.Background(), payload, domain.SignatureMaterial{Headers: headers}); err == nil {
		t.Fatalf("expected invalid signature error")
	}

	tampered := append([]byte{}, payload...)
	tampered[len(tampered)-2] = 'x'
	headers.Set("Paddle-Signature", buildSignatureHeader(secret, payload, ts))
	if err := adapter.VerifyWebhook(context.Background(), tampered, domain.SignatureMaterial{Headers: headers}); err == nil {
		t.Fatalf("expected tampered payload to fail verification")
	}
}

func TestParseWebhookTransactionCompleted(t *testing.T) {
	payload := []byte(`{
		"event_id":"evt_txn",
		"event_type":"transaction.completed",
		"occurred_at":"2026-01-15T10:30:00Z",
		"data":{
			"id":"txn_1",
			"subscription_id":"sub_1",
			"customer_id":"ctm_1",
			"currency_code":"eur",
			"custom_data":{"order_ref":"1234567890-1700000000","plan_id":"PRO","billing_cycle":"yearly"},
			"details":{"totals":{"grand_total":"12000"}}
		}
	}`)

	adapter := newTestAdapter("pdl_ntfset_test")
	event, err := adapter.ParseWebhook(context.Background(), payload)
	if err != nil {
		t.Fatalf("parse event: %v", err)
	}
	if event.ID != "evt_txn" {
		t.Fatalf("expected event id evt_txn, got %q", event.ID)
	}
	if event.Type != domain.EventTypePaymentSucceeded {
		t.Fatalf("expected payment.success, got %s", event.Type)
	}
	if event.Data.Amount != 12000 || event.Data.Currency != "EUR" {
		t.Fatalf("expected 12000 EUR, got %d %s", event.Data.Amount, event.Data.Currency)
	}
	if event.Data.OrderRef != "1234567890-1700000000" {
		t.Fatalf("expected order ref, got %q", event.Data.OrderRef)
	}
	if event.Data.PlanID != "PRO" || event.Data.BillingCycle != "yearly" {
		t.Fatalf("expected plan custom data, got %q %q", event.Data.PlanID, event.Data.BillingCycle)
	}
}

func TestParseWebhookTransactionMalformedTotal(t *testing.T) {
	adapter := newTestAdapter("pdl_ntfset_test")

	for _, total := range []string{`"120.00"`, `"abc"`, `""`} {
		payload := []byte(fmt.Sprintf(`{
			"event_id":"evt_bad_total",
			"event_type":"transaction.completed",
			"data":{
				"id":"txn_1",
				"currency_code":"usd",
				"details":{"totals":{"grand_total":%s}}
			}
		}`, total))

		if _, err := adapter.ParseWebhook(context.Background(), payload); err != domain.ErrInvalidPayload {
			t.Fatalf("total %s: expected ErrInvalidPayload, got %v", total, err)
		}
	}
}

func TestParseWebhookSubscriptionCanceled(t *testing.T) {
	payload := []byte(`{
		"event_id":"evt_sub",
		"event_type":"subscription.canceled",
		"occurred_at":"2026-01-15T10:30:00Z",
		"data":{
			"id":"sub_1",
			"status":"canceled",
			"customer_id":"ctm_1",
			"custom_data":{"order_ref":"42-1700000000"},
			"current_billing_period":{"starts_at":"2026-01-01T00:00:00Z","ends_at":"2026-02-01T00:00:00Z"}
		}
	}`)

	adapter := newTestAdapter("pdl_ntfset_test")
	event, err := adapter.ParseWebhook(context.Background(), payload)
	if err != nil {
		t.Fatalf("parse event: %v", err)
	}
	if event.Type != domain.EventTypeSubscriptionDeleted {
		t.Fatalf("expected subscription.deleted, got %s", event.Type)
	}
	if !event.Data.Immediate {
		t.Fatalf("expected immediate cancellation")
	}
	if event.Data.SubscriptionStatus != domain.SubscriptionCanceled {
		t.Fatalf("expected CANCELED, got %s", event.Data.SubscriptionStatus)
	}
	if event.Data.PeriodEnd == nil {
		t.Fatalf("expected period end")
	}
}

func TestParseWebhookScheduledCancel(t *testing.T) {
	payload := []byte(`{
		"event_id":"evt_sched",
		"event_type":"subscription.updated",
		"data":{
			"id":"sub_1",
			"status":"active",
			"customer_id":"ctm_1",
			"scheduled_change":{"action":"cancel"}
		}
	}`)

	adapter := newTestAdapter("pdl_ntfset_test")
	event, err := adapter.ParseWebhook(context.Background(), payload)
	if err != nil {
		t.Fatalf("parse event: %v", err)
	}
	if !event.Data.CancelAtPeriodEnd {
		t.Fatalf("expected cancel_at_period_end")
	}
	if event.Data.Immediate {
		t.Fatalf("expected scheduled, not immediate")
	}
	if event.Data.SubscriptionStatus != domain.SubscriptionActive {
		t.Fatalf("expected ACTIVE, got %s", event.Data.SubscriptionStatus)
	}
}

func TestSubscriptionStatusFailsClosed(t *testing.T) {
	if got := mapSubscriptionStatus("brand_new_status"); got != domain.SubscriptionIncomplete {
		t.Fatalf("expected INCOMPLETE for unknown status, got %s", got)
	}
}
