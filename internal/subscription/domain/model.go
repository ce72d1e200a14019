package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	gatewaydomain "github.com/waslahq/wasla/internal/gateway/domain"
	"gorm.io/gorm"
)

// Subscription is the reconciled billing state for one user on one provider.
// The (user_id, payment_provider) pair is unique; reconciliation is a single
// atomic upsert so concurrent deliveries cannot produce duplicate rows.
type Subscription struct {
	ID                     snowflake.ID                     `json:"id" gorm:"primaryKey"`
	UserID                 snowflake.ID                     `json:"user_id" gorm:"not null;uniqueIndex:idx_subscriptions_user_provider"`
	Plan                   string                           `json:"plan" gorm:"type:text;not null"`
	Status                 gatewaydomain.SubscriptionStatus `json:"status" gorm:"type:text;not null"`
	CancelAtPeriodEnd      bool                             `json:"cancel_at_period_end" gorm:"not null"`
	CurrentPeriodStart     *time.Time                       `json:"current_period_start"`
	CurrentPeriodEnd       *time.Time                       `json:"current_period_end"`
	PaymentProvider        string                           `json:"payment_provider" gorm:"type:text;not null;uniqueIndex:idx_subscriptions_user_provider"`
	ProviderSubscriptionID string                           `json:"provider_subscription_id" gorm:"type:text"`
	ProviderCustomerID     string                           `json:"provider_customer_id" gorm:"type:text"`
	CreatedAt              time.Time                        `json:"created_at" gorm:"not null"`
	UpdatedAt              time.Time                        `json:"updated_at" gorm:"not null"`
}

func (Subscription) TableName() string { return "subscriptions" }

var ErrSubscriptionNotFound = errors.New("subscription_not_found")

// Repository is the narrow persistence surface for subscriptions.
type Repository interface {
	Upsert(ctx context.Context, db *gorm.DB, sub *Subscription) error
	FindByUserAndProvider(ctx context.Context, db *gorm.DB, userID snowflake.ID, provider string) (*Subscription, error)
	FindByProviderSubscriptionID(ctx context.Context, db *gorm.DB, provider, providerSubscriptionID string) (*Subscription, error)
	FindLatestByUser(ctx context.Context, db *gorm.DB, userID snowflake.ID) (*Subscription, error)
	SetCancelAtPeriodEnd(ctx context.Context, db *gorm.DB, id snowflake.ID, cancel bool, updatedAt time.Time) error
	UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status gatewaydomain.SubscriptionStatus, updatedAt time.Time) error
	Downgrade(ctx context.Context, db *gorm.DB, id snowflake.ID, plan string, updatedAt time.Time) error
	EndLapsedCancellations(ctx context.Context, db *gorm.DB, plan string, now time.Time) (int64, error)
}
