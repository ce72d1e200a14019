package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	authdomain "github.com/waslahq/wasla/internal/auth/domain"
	"github.com/waslahq/wasla/internal/auth/session"
	authstore "github.com/waslahq/wasla/internal/auth/store"
	"github.com/waslahq/wasla/internal/checkout"
	"github.com/waslahq/wasla/internal/clock"
	"github.com/waslahq/wasla/internal/config"
	"github.com/waslahq/wasla/internal/gateway"
	gatewaydomain "github.com/waslahq/wasla/internal/gateway/domain"
	paymentrepository "github.com/waslahq/wasla/internal/payment/repository"
	paymentservice "github.com/waslahq/wasla/internal/payment/service"
	subscriptionrepository "github.com/waslahq/wasla/internal/subscription/repository"
	subscriptionservice "github.com/waslahq/wasla/internal/subscription/service"
	userrepository "github.com/waslahq/wasla/internal/user/repository"
	"github.com/waslahq/wasla/internal/webhook"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// stubGateway stands in for a provider adapter so handler tests never leave
// the process.
type stubGateway struct {
	name      string
	verifyErr error
	parsed    *gatewaydomain.WebhookEvent
	parseErr  error
}

func (g *stubGateway) Provider() string   { return g.name }
func (g *stubGateway) IsConfigured() bool { return true }

func (g *stubGateway) CreateCheckoutSession(ctx context.Context, params gatewaydomain.CheckoutParams) (*gatewaydomain.CheckoutResult, error) {
	return &gatewaydomain.CheckoutResult{
		Provider:    g.name,
		SessionID:   "cs_stub_1",
		CheckoutURL: "https://checkout.example.com/cs_stub_1",
	}, nil
}

func (g *stubGateway) CreateSubscription(ctx context.Context, params gatewaydomain.SubscriptionParams) (*gatewaydomain.SubscriptionInfo, error) {
	return nil, gatewaydomain.ErrUnsupportedOperation
}

func (g *stubGateway) GetSubscription(ctx context.Context, providerSubscriptionID string) (*gatewaydomain.SubscriptionInfo, error) {
	return nil, gatewaydomain.ErrUnsupportedOperation
}

func (g *stubGateway) CancelSubscription(ctx context.Context, providerSubscriptionID string, immediate bool) error {
	return nil
}

func (g *stubGateway) ResumeSubscription(ctx context.Context, providerSubscriptionID string) error {
	return nil
}

func (g *stubGateway) CreateCustomer(ctx context.Context, params gatewaydomain.CustomerParams) (string, error) {
	return "", gatewaydomain.ErrUnsupportedOperation
}

func (g *stubGateway) CreateRefund(ctx context.Context, params gatewaydomain.RefundParams) (*gatewaydomain.RefundResult, error) {
	return nil, gatewaydomain.ErrUnsupportedOperation
}

func (g *stubGateway) VerifyWebhook(ctx context.Context, payload []byte, sig gatewaydomain.SignatureMaterial) error {
	return g.verifyErr
}

func (g *stubGateway) ParseWebhook(ctx context.Context, payload []byte) (*gatewaydomain.WebhookEvent, error) {
	if g.parseErr != nil {
		return nil, g.parseErr
	}
	if g.parsed != nil {
		return g.parsed, nil
	}
	return nil, gatewaydomain.ErrEventIgnored
}

type testHarness struct {
	server *Server
	db     *gorm.DB
	store  *authstore.GormStore
	clock  *clock.Fake
	stub   *stubGateway
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()

	dsn := fmt.Sprintf("file:server_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	statements := []string{
		`CREATE TABLE sessions (
			token TEXT PRIMARY KEY,
			user_id INTEGER NOT NULL,
			email TEXT NOT NULL,
			expires_at DATETIME NOT NULL,
			created_at DATETIME NOT NULL
		)`,
		`CREATE TABLE subscriptions (
			id INTEGER PRIMARY KEY,
			user_id INTEGER NOT NULL,
			plan TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			cancel_at_period_end BOOLEAN NOT NULL DEFAULT FALSE,
			current_period_start DATETIME,
			current_period_end DATETIME,
			payment_provider TEXT NOT NULL,
			provider_subscription_id TEXT NOT NULL DEFAULT '',
			provider_customer_id TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE UNIQUE INDEX idx_subscriptions_user_provider
			ON subscriptions (user_id, payment_provider)`,
		`CREATE TABLE payments (
			id INTEGER PRIMARY KEY,
			user_id INTEGER NOT NULL,
			subscription_id INTEGER,
			provider TEXT NOT NULL,
			amount INTEGER NOT NULL,
			currency TEXT NOT NULL,
			status TEXT NOT NULL,
			provider_payment_id TEXT NOT NULL DEFAULT '',
			provider_order_id TEXT NOT NULL DEFAULT '',
			payment_method TEXT NOT NULL DEFAULT '',
			card_last4 TEXT NOT NULL DEFAULT '',
			card_brand TEXT NOT NULL DEFAULT '',
			kiosk_bill_ref TEXT NOT NULL DEFAULT '',
			kiosk_expiry DATETIME,
			failure_reason TEXT NOT NULL DEFAULT '',
			metadata TEXT,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE payment_events (
			id INTEGER PRIMARY KEY,
			provider TEXT NOT NULL,
			provider_event_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			user_id INTEGER,
			payload TEXT NOT NULL,
			received_at DATETIME NOT NULL,
			processed_at DATETIME
		)`,
		`CREATE UNIQUE INDEX idx_payment_events_provider_event
			ON payment_events (provider, provider_event_id)`,
		`CREATE TABLE users (
			id INTEGER PRIMARY KEY,
			email TEXT NOT NULL,
			plan TEXT NOT NULL DEFAULT 'FREE',
			country TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
	}
	for _, stmt := range statements {
		require.NoError(t, db.Exec(stmt).Error)
	}

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	clk := clock.NewFake(time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC))
	log := zap.NewNop()

	stub := &stubGateway{name: "stripe"}
	registry := gateway.NewRegistry(config.NewStaticRoutingHolder(config.DefaultRoutingConfig()), stub)

	cfg := config.Config{
		BaseURL:         "https://app.example.com",
		ProviderTimeout: 5 * time.Second,
	}

	paymentRepo := paymentrepository.Provide()
	subRepo := subscriptionrepository.Provide()

	subSvc := subscriptionservice.NewService(subscriptionservice.Params{
		DB: db, Log: log, GenID: node, Clock: clk, Repo: subRepo,
		UserRepo: userrepository.Provide(), Gateways: registry,
	})
	paySvc := paymentservice.NewService(paymentservice.Params{
		DB: db, Log: log, GenID: node, Clock: clk, Repo: paymentRepo, SubRepo: subRepo,
	})
	webhookSvc := webhook.NewService(webhook.Params{
		DB: db, Log: log, GenID: node, Clock: clk, Gateways: registry,
		PaymentRepo: paymentRepo, SubRepo: subRepo,
		PaymentSvc: paySvc, SubscriptionSvc: subSvc,
	})
	checkoutSvc := checkout.NewService(checkout.Params{
		Log: log, Clock: clk, Config: cfg, Gateways: registry,
	})

	engine := gin.New()
	engine.Use(ErrorHandlingMiddleware())

	store := authstore.NewGormStore(db, clk)
	srv := NewServer(ServerParams{
		Gin:             engine,
		Cfg:             cfg,
		Log:             log,
		Sessions:        session.NewManager("", false),
		SessionStore:    store,
		CheckoutSvc:     checkoutSvc,
		PaymentSvc:      paySvc,
		SubscriptionSvc: subSvc,
		WebhookSvc:      webhookSvc,
	})

	return &testHarness{server: srv, db: db, store: store, clock: clk, stub: stub}
}

func (h *testHarness) login(t *testing.T, userID snowflake.ID) *http.Cookie {
	t.Helper()
	token := fmt.Sprintf("tok_%d", userID)
	err := h.store.Save(context.Background(), &authdomain.Session{
		Token:     token,
		UserID:    userID,
		Email:     "user@example.com",
		ExpiresAt: h.clock.Now().Add(time.Hour),
	})
	require.NoError(t, err)
	return &http.Cookie{Name: session.DefaultCookieName, Value: token}
}

func (h *testHarness) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.server.Engine().ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) errorPayload {
	t.Helper()
	var resp errorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Error
}

func TestSubscriptionRequiresSession(t *testing.T) {
	h := newTestHarness(t)

	w := h.do(httptest.NewRequest(http.MethodGet, "/api/subscription", nil))
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, "unauthorized", decodeError(t, w).Type)
}

func TestCreateCheckout(t *testing.T) {
	h := newTestHarness(t)
	cookie := h.login(t, 42)

	body := bytes.NewBufferString(`{"planId":"PRO","billingCycle":"yearly","countryCode":"US"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/payment/checkout", body)
	req.Header.Set("Content-Type", "application/json")
	req.AddCookie(cookie)

	w := h.do(req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp checkoutResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.True(t, resp.Success)
	require.Equal(t, "stripe", resp.Provider)
	require.Equal(t, "https://checkout.example.com/cs_stub_1", resp.CheckoutURL)
}

func TestSessionWithoutEmailRejected(t *testing.T) {
	h := newTestHarness(t)

	token := "tok_no_email"
	require.NoError(t, h.store.Save(context.Background(), &authdomain.Session{
		Token:     token,
		UserID:    42,
		ExpiresAt: h.clock.Now().Add(time.Hour),
	}))

	body := bytes.NewBufferString(`{"planId":"PRO","billingCycle":"yearly","countryCode":"US"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/payment/checkout", body)
	req.Header.Set("Content-Type", "application/json")
	req.AddCookie(&http.Cookie{Name: session.DefaultCookieName, Value: token})

	w := h.do(req)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, "unauthorized", decodeError(t, w).Type)
}

func TestCreateCheckoutValidationShape(t *testing.T) {
	h := newTestHarness(t)
	cookie := h.login(t, 42)

	body := bytes.NewBufferString(`{"planId":"FREE","billingCycle":"weekly","countryCode":"EGY"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/payment/checkout", body)
	req.Header.Set("Content-Type", "application/json")
	req.AddCookie(cookie)

	w := h.do(req)
	require.Equal(t, http.StatusBadRequest, w.Code)

	payload := decodeError(t, w)
	require.Equal(t, "validation_error", payload.Type)
	require.Len(t, payload.Errors, 3)
	fields := make(map[string]bool)
	for _, fe := range payload.Errors {
		fields[fe.Field] = true
	}
	require.True(t, fields["planId"] && fields["billingCycle"] && fields["countryCode"])
}

func TestListProviders(t *testing.T) {
	h := newTestHarness(t)

	w := h.do(httptest.NewRequest(http.MethodGet, "/api/payment/providers", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Providers []string `json:"providers"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Contains(t, resp.Providers, "stripe")
}

func TestWebhookUnknownCorrelationAcked(t *testing.T) {
	h := newTestHarness(t)
	h.stub.parsed = &gatewaydomain.WebhookEvent{
		ID:       "evt_orphan",
		Type:     gatewaydomain.EventTypePaymentSucceeded,
		Provider: "stripe",
	}

	req := httptest.NewRequest(http.MethodPost, "/api/payment/webhooks/stripe", bytes.NewBufferString(`{"id":"evt_orphan"}`))
	w := h.do(req)

	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"received":true}`, w.Body.String())
}

func TestWebhookInvalidSignature(t *testing.T) {
	h := newTestHarness(t)
	h.stub.verifyErr = gatewaydomain.ErrInvalidSignature

	req := httptest.NewRequest(http.MethodPost, "/api/payment/webhooks/stripe", bytes.NewBufferString(`{"id":"evt_1"}`))
	w := h.do(req)

	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "invalid_signature", decodeError(t, w).Type)
}

func TestWebhookUnknownProvider(t *testing.T) {
	h := newTestHarness(t)

	req := httptest.NewRequest(http.MethodPost, "/api/payment/webhooks/mystery", bytes.NewBufferString(`{}`))
	w := h.do(req)

	require.Equal(t, http.StatusNotFound, w.Code)
	require.Equal(t, "not_found", decodeError(t, w).Type)
}

func TestKioskBillNotFound(t *testing.T) {
	h := newTestHarness(t)

	w := h.do(httptest.NewRequest(http.MethodGet, "/api/payment/kiosk/000000", nil))
	require.Equal(t, http.StatusNotFound, w.Code)
	require.Equal(t, "not_found", decodeError(t, w).Type)
}
