package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/waslahq/wasla/internal/clock"
	"github.com/waslahq/wasla/internal/config"
	"github.com/waslahq/wasla/internal/gateway"
	gatewaydomain "github.com/waslahq/wasla/internal/gateway/domain"
	"github.com/waslahq/wasla/internal/subscription/domain"
	"github.com/waslahq/wasla/internal/subscription/repository"
	userrepository "github.com/waslahq/wasla/internal/user/repository"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type fakeGateway struct {
	provider      string
	cancelCalls   int
	lastImmediate bool
	resumeCalls   int
}

func (f *fakeGateway) Provider() string   { return f.provider }
func (f *fakeGateway) IsConfigured() bool { return true }

func (f *fakeGateway) CreateCheckoutSession(ctx context.Context, params gatewaydomain.CheckoutParams) (*gatewaydomain.CheckoutResult, error) {
	return nil, gatewaydomain.ErrUnsupportedOperation
}

func (f *fakeGateway) CreateSubscription(ctx context.Context, params gatewaydomain.SubscriptionParams) (*gatewaydomain.SubscriptionInfo, error) {
	return nil, gatewaydomain.ErrUnsupportedOperation
}

func (f *fakeGateway) GetSubscription(ctx context.Context, providerSubscriptionID string) (*gatewaydomain.SubscriptionInfo, error) {
	return nil, gatewaydomain.ErrUnsupportedOperation
}

func (f *fakeGateway) CancelSubscription(ctx context.Context, providerSubscriptionID string, immediate bool) error {
	f.cancelCalls++
	f.lastImmediate = immediate
	return nil
}

func (f *fakeGateway) ResumeSubscription(ctx context.Context, providerSubscriptionID string) error {
	f.resumeCalls++
	return nil
}

func (f *fakeGateway) CreateCustomer(ctx context.Context, params gatewaydomain.CustomerParams) (string, error) {
	return "", gatewaydomain.ErrUnsupportedOperation
}

func (f *fakeGateway) CreateRefund(ctx context.Context, params gatewaydomain.RefundParams) (*gatewaydomain.RefundResult, error) {
	return nil, gatewaydomain.ErrUnsupportedOperation
}

func (f *fakeGateway) VerifyWebhook(ctx context.Context, payload []byte, sig gatewaydomain.SignatureMaterial) error {
	return nil
}

func (f *fakeGateway) ParseWebhook(ctx context.Context, payload []byte) (*gatewaydomain.WebhookEvent, error) {
	return nil, gatewaydomain.ErrEventIgnored
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:subscriptions_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	err = db.Exec(`CREATE TABLE subscriptions (
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
	)`).Error
	if err != nil {
		t.Fatalf("create table: %v", err)
	}
	err = db.Exec(`CREATE UNIQUE INDEX idx_subscriptions_user_provider
		ON subscriptions (user_id, payment_provider)`).Error
	if err != nil {
		t.Fatalf("create index: %v", err)
	}
	err = db.Exec(`CREATE TABLE users (
		id INTEGER PRIMARY KEY,
		email TEXT NOT NULL,
		plan TEXT NOT NULL DEFAULT 'FREE',
		country TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`).Error
	if err != nil {
		t.Fatalf("create users table: %v", err)
	}
	return db
}

func newTestService(t *testing.T, db *gorm.DB, gw *fakeGateway) (*Service, *clock.Fake) {
	t.Helper()

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake: %v", err)
	}
	clk := clock.NewFake(time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC))
	registry := gateway.NewRegistry(config.NewStaticRoutingHolder(config.DefaultRoutingConfig()), gw)

	return NewService(Params{
		DB:       db,
		Log:      zap.NewNop(),
		GenID:    node,
		Clock:    clk,
		Repo:     repository.Provide(),
		UserRepo: userrepository.Provide(),
		Gateways: registry,
	}), clk
}

func seedUser(t *testing.T, db *gorm.DB, id snowflake.ID, now time.Time) {
	t.Helper()
	err := db.Exec(
		`INSERT INTO users (id, email, plan, created_at, updated_at)
		 VALUES (?, 'user@example.com', 'FREE', ?, ?)`,
		id, now, now,
	).Error
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
}

func userPlan(t *testing.T, db *gorm.DB, id snowflake.ID) string {
	t.Helper()
	var plan string
	if err := db.Raw(`SELECT plan FROM users WHERE id = ?`, id).Scan(&plan).Error; err != nil {
		t.Fatalf("load user plan: %v", err)
	}
	return plan
}

func countSubscriptions(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var n int64
	if err := db.Raw(`SELECT COUNT(*) FROM subscriptions`).Scan(&n).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

func TestHandleSubscriptionEventUpsertsOneRow(t *testing.T) {
	svcDB := newTestDB(t)
	svc, clk := newTestService(t, svcDB, &fakeGateway{provider: "stripe"})
	ctx := context.Background()
	userID := snowflake.ID(7)
	seedUser(t, svcDB, userID, clk.Now())

	start := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)
	first, err := svc.HandleSubscriptionEvent(ctx, UpsertInput{
		UserID:                 userID,
		Plan:                   "pro",
		Status:                 gatewaydomain.SubscriptionActive,
		PeriodStart:            &start,
		PeriodEnd:              &end,
		Provider:               "stripe",
		ProviderSubscriptionID: "sub_1",
		ProviderCustomerID:     "cus_1",
	})
	if err != nil {
		t.Fatalf("first event: %v", err)
	}
	if first.Plan != "PRO" {
		t.Fatalf("expected plan normalized to PRO, got %s", first.Plan)
	}

	// A later event without plan or period must not blank reconciled state.
	second, err := svc.HandleSubscriptionEvent(ctx, UpsertInput{
		UserID:                 userID,
		Status:                 gatewaydomain.SubscriptionPastDue,
		Provider:               "stripe",
		ProviderSubscriptionID: "sub_1",
	})
	if err != nil {
		t.Fatalf("second event: %v", err)
	}
	if n := countSubscriptions(t, svcDB); n != 1 {
		t.Fatalf("expected 1 row, got %d", n)
	}
	if second.ID != first.ID {
		t.Fatalf("expected same row, got %d vs %d", second.ID, first.ID)
	}
	if second.Status != gatewaydomain.SubscriptionPastDue {
		t.Fatalf("expected PAST_DUE, got %s", second.Status)
	}
	if second.Plan != "PRO" {
		t.Fatalf("expected plan preserved, got %q", second.Plan)
	}
	if second.CurrentPeriodEnd == nil || !second.CurrentPeriodEnd.Equal(end) {
		t.Fatalf("expected period preserved, got %v", second.CurrentPeriodEnd)
	}
	if second.ProviderCustomerID != "cus_1" {
		t.Fatalf("expected customer id preserved, got %q", second.ProviderCustomerID)
	}
	if got := userPlan(t, svcDB, userID); got != "PRO" {
		t.Fatalf("expected user plan mirrored to PRO, got %s", got)
	}
}

func TestHandleSubscriptionEventRejectsUnknownPlan(t *testing.T) {
	svc, _ := newTestService(t, newTestDB(t), &fakeGateway{provider: "stripe"})

	_, err := svc.HandleSubscriptionEvent(context.Background(), UpsertInput{
		UserID:   7,
		Plan:     "DIAMOND",
		Provider: "stripe",
	})
	if !errors.Is(err, gatewaydomain.ErrInvalidEvent) {
		t.Fatalf("expected ErrInvalidEvent, got %v", err)
	}
}

func TestCancelForUserScheduled(t *testing.T) {
	db := newTestDB(t)
	gw := &fakeGateway{provider: "stripe"}
	svc, _ := newTestService(t, db, gw)
	ctx := context.Background()
	userID := snowflake.ID(7)

	if _, err := svc.HandleSubscriptionEvent(ctx, UpsertInput{
		UserID:                 userID,
		Plan:                   "PRO",
		Status:                 gatewaydomain.SubscriptionActive,
		Provider:               "stripe",
		ProviderSubscriptionID: "sub_1",
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	sub, err := svc.CancelForUser(ctx, userID, false)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if !sub.CancelAtPeriodEnd {
		t.Fatalf("expected cancel_at_period_end set")
	}
	if sub.Plan != "PRO" || sub.Status != gatewaydomain.SubscriptionActive {
		t.Fatalf("scheduled cancel must preserve plan and status, got %s %s", sub.Plan, sub.Status)
	}
	if gw.cancelCalls != 1 || gw.lastImmediate {
		t.Fatalf("expected one scheduled provider cancel, got calls=%d immediate=%v", gw.cancelCalls, gw.lastImmediate)
	}
}

func TestCancelForUserImmediateDowngradesToFree(t *testing.T) {
	db := newTestDB(t)
	gw := &fakeGateway{provider: "stripe"}
	svc, clk := newTestService(t, db, gw)
	ctx := context.Background()
	userID := snowflake.ID(7)
	seedUser(t, db, userID, clk.Now())

	if _, err := svc.HandleSubscriptionEvent(ctx, UpsertInput{
		UserID:                 userID,
		Plan:                   "BUSINESS",
		Status:                 gatewaydomain.SubscriptionActive,
		Provider:               "stripe",
		ProviderSubscriptionID: "sub_1",
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	sub, err := svc.CancelForUser(ctx, userID, true)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if sub.Plan != "FREE" || sub.Status != gatewaydomain.SubscriptionCanceled {
		t.Fatalf("expected FREE/CANCELED, got %s/%s", sub.Plan, sub.Status)
	}
	if sub.CancelAtPeriodEnd {
		t.Fatalf("immediate cancel must clear the scheduled flag")
	}
	if !gw.lastImmediate {
		t.Fatalf("expected immediate provider cancel")
	}
	if got := userPlan(t, db, userID); got != "FREE" {
		t.Fatalf("expected user plan mirrored to FREE, got %s", got)
	}
}

func TestResumeForUserClearsScheduledCancel(t *testing.T) {
	db := newTestDB(t)
	gw := &fakeGateway{provider: "stripe"}
	svc, _ := newTestService(t, db, gw)
	ctx := context.Background()
	userID := snowflake.ID(7)

	if _, err := svc.HandleSubscriptionEvent(ctx, UpsertInput{
		UserID:                 userID,
		Plan:                   "PRO",
		Status:                 gatewaydomain.SubscriptionActive,
		Provider:               "stripe",
		ProviderSubscriptionID: "sub_1",
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := svc.CancelForUser(ctx, userID, false); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	sub, err := svc.ResumeForUser(ctx, userID)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if sub.CancelAtPeriodEnd {
		t.Fatalf("expected scheduled cancel cleared")
	}
	if gw.resumeCalls != 1 {
		t.Fatalf("expected one provider resume, got %d", gw.resumeCalls)
	}

	// Resuming an already-active subscription is a no-op.
	again, err := svc.ResumeForUser(ctx, userID)
	if err != nil {
		t.Fatalf("second resume: %v", err)
	}
	if again.CancelAtPeriodEnd || gw.resumeCalls != 1 {
		t.Fatalf("expected no-op resume")
	}
}

func TestHandleSubscriptionCancellationUnknownSubscription(t *testing.T) {
	svc, _ := newTestService(t, newTestDB(t), &fakeGateway{provider: "stripe"})

	err := svc.HandleSubscriptionCancellation(context.Background(), "stripe", "sub_missing", true)
	if !errors.Is(err, domain.ErrSubscriptionNotFound) {
		t.Fatalf("expected ErrSubscriptionNotFound, got %v", err)
	}
}

func TestMarkPastDueWithoutSubscriptionIsNoop(t *testing.T) {
	svc, _ := newTestService(t, newTestDB(t), &fakeGateway{provider: "stripe"})

	if err := svc.MarkPastDue(context.Background(), 7, "stripe"); err != nil {
		t.Fatalf("expected nil for missing row, got %v", err)
	}
}

func TestCurrentForUserMissing(t *testing.T) {
	svc, _ := newTestService(t, newTestDB(t), &fakeGateway{provider: "stripe"})

	if _, err := svc.CurrentForUser(context.Background(), 7); !errors.Is(err, domain.ErrSubscriptionNotFound) {
		t.Fatalf("expected ErrSubscriptionNotFound, got %v", err)
	}
}
