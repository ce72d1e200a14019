package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	gatewaydomain "github.com/waslahq/wasla/internal/gateway/domain"
	"github.com/waslahq/wasla/internal/subscription/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const subscriptionColumns = `id, user_id, plan, status, cancel_at_period_end,
	current_period_start, current_period_end, payment_provider,
	provider_subscription_id, provider_customer_id, created_at, updated_at`

// Upsert writes the event-carried values atomically. Empty plan, period and
// provider id fields preserve what an earlier event already wrote, so
// out-of-order deliveries do not blank reconciled state.
func (r *repo) Upsert(ctx context.Context, db *gorm.DB, sub *domain.Subscription) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO subscriptions (
			id, user_id, plan, status, cancel_at_period_end,
			current_period_start, current_period_end, payment_provider,
			provider_subscription_id, provider_customer_id, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, payment_provider) DO UPDATE SET
			plan = CASE WHEN excluded.plan = '' THEN subscriptions.plan ELSE excluded.plan END,
			status = excluded.status,
			cancel_at_period_end = excluded.cancel_at_period_end,
			current_period_start = COALESCE(excluded.current_period_start, subscriptions.current_period_start),
			current_period_end = COALESCE(excluded.current_period_end, subscriptions.current_period_end),
			provider_subscription_id = CASE WHEN excluded.provider_subscription_id = ''
				THEN subscriptions.provider_subscription_id ELSE excluded.provider_subscription_id END,
			provider_customer_id = CASE WHEN excluded.provider_customer_id = ''
				THEN subscriptions.provider_customer_id ELSE excluded.provider_customer_id END,
			updated_at = excluded.updated_at`,
		sub.ID,
		sub.UserID,
		sub.Plan,
		sub.Status,
		sub.CancelAtPeriodEnd,
		sub.CurrentPeriodStart,
		sub.CurrentPeriodEnd,
		sub.PaymentProvider,
		sub.ProviderSubscriptionID,
		sub.ProviderCustomerID,
		sub.CreatedAt,
		sub.UpdatedAt,
	).Error
}

func (r *repo) FindByUserAndProvider(ctx context.Context, db *gorm.DB, userID snowflake.ID, provider string) (*domain.Subscription, error) {
	var item domain.Subscription
	err := db.WithContext(ctx).Raw(
		`SELECT `+subscriptionColumns+`
		 FROM subscriptions
		 WHERE user_id = ? AND payment_provider = ?
		 LIMIT 1`,
		userID,
		provider,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) FindByProviderSubscriptionID(ctx context.Context, db *gorm.DB, provider, providerSubscriptionID string) (*domain.Subscription, error) {
	var item domain.Subscription
	err := db.WithContext(ctx).Raw(
		`SELECT `+subscriptionColumns+`
		 FROM subscriptions
		 WHERE payment_provider = ? AND provider_subscription_id = ?
		 LIMIT 1`,
		provider,
		providerSubscriptionID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

// FindLatestByUser returns the most recently reconciled row; a user who
// switched providers may hold stale rows for the old one.
func (r *repo) FindLatestByUser(ctx context.Context, db *gorm.DB, userID snowflake.ID) (*domain.Subscription, error) {
	var item domain.Subscription
	err := db.WithContext(ctx).Raw(
		`SELECT `+subscriptionColumns+`
		 FROM subscriptions
		 WHERE user_id = ?
		 ORDER BY updated_at DESC
		 LIMIT 1`,
		userID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) SetCancelAtPeriodEnd(ctx context.Context, db *gorm.DB, id snowflake.ID, cancel bool, updatedAt time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE subscriptions
		 SET cancel_at_period_end = ?, updated_at = ?
		 WHERE id = ?`,
		cancel,
		updatedAt,
		id,
	).Error
}

func (r *repo) UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status gatewaydomain.SubscriptionStatus, updatedAt time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE subscriptions
		 SET status = ?, updated_at = ?
		 WHERE id = ?`,
		status,
		updatedAt,
		id,
	).Error
}

// EndLapsedCancellations downgrades rows whose scheduled cancellation passed
// its period end. The users mirror is written first, while the lapsed rows
// are still identifiable by their flag.
func (r *repo) EndLapsedCancellations(ctx context.Context, db *gorm.DB, plan string, now time.Time) (int64, error) {
	var affected int64
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(
			`UPDATE users
			 SET plan = ?, updated_at = ?
			 WHERE id IN (
				SELECT user_id FROM subscriptions
				WHERE cancel_at_period_end = ?
				  AND current_period_end IS NOT NULL
				  AND current_period_end <= ?
			 )`,
			plan,
			now,
			true,
			now,
		).Error; err != nil {
			return err
		}

		res := tx.Exec(
			`UPDATE subscriptions
			 SET plan = ?, status = ?, cancel_at_period_end = ?, updated_at = ?
			 WHERE cancel_at_period_end = ?
			   AND current_period_end IS NOT NULL
			   AND current_period_end <= ?`,
			plan,
			gatewaydomain.SubscriptionCanceled,
			false,
			now,
			true,
			now,
		)
		if res.Error != nil {
			return res.Error
		}
		affected = res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, err
	}
	return affected, nil
}

func (r *repo) Downgrade(ctx context.Context, db *gorm.DB, id snowflake.ID, plan string, updatedAt time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE subscriptions
		 SET plan = ?, status = ?, cancel_at_period_end = ?, updated_at = ?
		 WHERE id = ?`,
		plan,
		gatewaydomain.SubscriptionCanceled,
		false,
		updatedAt,
		id,
	).Error
}
