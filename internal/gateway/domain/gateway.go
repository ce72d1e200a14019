package domain

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/waslahq/wasla/internal/plan"
)

// SignatureMaterial carries the raw signature inputs of an inbound webhook.
// Providers place signatures in a header, a query parameter, or a composite
// header, so both sources travel together.
type SignatureMaterial struct {
	Headers http.Header
	Query   url.Values
}

// CheckoutParams is the provider-agnostic input to a checkout session.
type CheckoutParams struct {
	UserID        snowflake.ID
	Email         string
	Plan          plan.Tier
	BillingCycle  string
	CountryCode   string
	PaymentMethod string
	OrderRef      string
	Amount        int64
	Currency      string
	SuccessURL    string
	CancelURL     string
}

// CheckoutResult is what the orchestrator returns to the caller. Kiosk flows
// carry a bill reference instead of a redirect URL.
type CheckoutResult struct {
	Provider     string
	SessionID    string
	CheckoutURL  string
	ExpiresAt    *time.Time
	KioskBillRef string
	KioskExpiry  *time.Time
}

// SubscriptionParams is the input to a direct provider-side subscription.
type SubscriptionParams struct {
	ProviderCustomerID string
	Plan               plan.Tier
	BillingCycle       string
	OrderRef           string
}

// SubscriptionInfo is the provider's view of a subscription.
type SubscriptionInfo struct {
	ProviderSubscriptionID string
	ProviderCustomerID     string
	Status                 SubscriptionStatus
	CancelAtPeriodEnd      bool
	PeriodStart            *time.Time
	PeriodEnd              *time.Time
}

// CustomerParams identifies a customer on the provider side.
type CustomerParams struct {
	UserID snowflake.ID
	Email  string
}

// RefundParams requests a full or partial refund of a provider payment.
type RefundParams struct {
	ProviderPaymentID string
	Amount            int64
	Currency          string
	Reason            string
}

// RefundResult reports the provider's refund outcome.
type RefundResult struct {
	ProviderRefundID string
	Status           PaymentStatus
}

// PaymentGateway is the contract every provider adapter satisfies. Adapters
// are constructed once at startup and hold no request state.
type PaymentGateway interface {
	Provider() string
	IsConfigured() bool
	CreateCheckoutSession(ctx context.Context, params CheckoutParams) (*CheckoutResult, error)
	CreateSubscription(ctx context.Context, params SubscriptionParams) (*SubscriptionInfo, error)
	GetSubscription(ctx context.Context, providerSubscriptionID string) (*SubscriptionInfo, error)
	CancelSubscription(ctx context.Context, providerSubscriptionID string, immediate bool) error
	ResumeSubscription(ctx context.Context, providerSubscriptionID string) error
	CreateCustomer(ctx context.Context, params CustomerParams) (string, error)
	CreateRefund(ctx context.Context, params RefundParams) (*RefundResult, error)
	VerifyWebhook(ctx context.Context, payload []byte, sig SignatureMaterial) error
	ParseWebhook(ctx context.Context, payload []byte) (*WebhookEvent, error)
}
