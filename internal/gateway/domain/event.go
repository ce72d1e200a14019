package domain

import "time"

// Canonical event types produced by the webhook normalizers.
const (
	EventTypePaymentSucceeded    = "payment.success"
	EventTypePaymentFailed       = "payment.failed"
	EventTypePaymentPending      = "payment.pending"
	EventTypeSubscriptionCreated = "subscription.created"
	EventTypeSubscriptionUpdated = "subscription.updated"
	EventTypeSubscriptionDeleted = "subscription.deleted"
)

// WebhookEvent is the canonical event parsed from a verified provider payload.
type WebhookEvent struct {
	ID        string
	Type      string
	Provider  string
	Data      EventData
	Timestamp time.Time
}

// EventData carries the normalized fields of a provider notification. Amount is
// always in the currency's minor unit; adapters translate before handing the
// event over.
type EventData struct {
	OrderRef               string
	ProviderPaymentID      string
	ProviderOrderID        string
	ProviderSubscriptionID string
	ProviderCustomerID     string
	Amount                 int64
	Currency               string
	PaymentStatus          PaymentStatus
	SubscriptionStatus     SubscriptionStatus
	CancelAtPeriodEnd      bool
	Immediate              bool
	PlanID                 string
	BillingCycle           string
	PeriodStart            *time.Time
	PeriodEnd              *time.Time
	PaymentMethod          string
	CardLast4              string
	CardBrand              string
	KioskBillRef           string
	KioskExpiry            *time.Time
	FailureReason          string
	RawPayload             []byte
}
