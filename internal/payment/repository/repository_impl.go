package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	gatewaydomain "github.com/waslahq/wasla/internal/gateway/domain"
	"github.com/waslahq/wasla/internal/payment/domain"
	"github.com/waslahq/wasla/pkg/db/pagination"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertEvent(ctx context.Context, db *gorm.DB, event *domain.EventRecord) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO payment_events (
			id, provider, provider_event_id, event_type, user_id,
			payload, received_at, processed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (provider, provider_event_id) DO NOTHING`,
		event.ID,
		event.Provider,
		event.ProviderEventID,
		event.EventType,
		event.UserID,
		event.Payload,
		event.ReceivedAt,
		event.ProcessedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindEvent(ctx context.Context, db *gorm.DB, provider string, providerEventID string) (*domain.EventRecord, error) {
	var item domain.EventRecord
	err := db.WithContext(ctx).Raw(
		`SELECT id, provider, provider_event_id, event_type, user_id,
			payload, received_at, processed_at
		 FROM payment_events
		 WHERE provider = ? AND provider_event_id = ?
		 LIMIT 1`,
		provider,
		providerEventID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, processedAt time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE payment_events
		 SET processed_at = ?
		 WHERE id = ?`,
		processedAt,
		id,
	).Error
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, payment *domain.Payment) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO payments (
			id, user_id, subscription_id, provider, amount, currency, status,
			provider_payment_id, provider_order_id, payment_method,
			card_last4, card_brand, kiosk_bill_ref, kiosk_expiry,
			failure_reason, metadata, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		payment.ID,
		payment.UserID,
		payment.SubscriptionID,
		payment.Provider,
		payment.Amount,
		payment.Currency,
		payment.Status,
		payment.ProviderPaymentID,
		payment.ProviderOrderID,
		payment.PaymentMethod,
		payment.CardLast4,
		payment.CardBrand,
		payment.KioskBillRef,
		payment.KioskExpiry,
		payment.FailureReason,
		payment.Metadata,
		payment.CreatedAt,
		payment.UpdatedAt,
	).Error
}

func (r *repo) UpdateStatusByProviderID(ctx context.Context, db *gorm.DB, providerPaymentID, provider string, status gatewaydomain.PaymentStatus, reason string, updatedAt time.Time) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE payments
		 SET status = ?, failure_reason = ?, updated_at = ?
		 WHERE provider_payment_id = ? AND provider = ?`,
		status,
		reason,
		updatedAt,
		providerPaymentID,
		provider,
	)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (r *repo) FindPendingByKioskRef(ctx context.Context, db *gorm.DB, billRef string, now time.Time) (*domain.Payment, error) {
	var item domain.Payment
	err := db.WithContext(ctx).Raw(
		`SELECT id, user_id, subscription_id, provider, amount, currency, status,
			provider_payment_id, provider_order_id, payment_method,
			card_last4, card_brand, kiosk_bill_ref, kiosk_expiry,
			failure_reason, metadata, created_at, updated_at
		 FROM payments
		 WHERE kiosk_bill_ref = ?
		   AND status = ?
		   AND kiosk_expiry IS NOT NULL
		   AND kiosk_expiry > ?
		 ORDER BY created_at DESC
		 LIMIT 1`,
		billRef,
		gatewaydomain.PaymentPending,
		now,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

// ExpireKioskBills cancels pending kiosk payments whose expiry lapsed.
func (r *repo) ExpireKioskBills(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE payments
		 SET status = ?, failure_reason = ?, updated_at = ?
		 WHERE status = ?
		   AND kiosk_bill_ref <> ''
		   AND kiosk_expiry IS NOT NULL
		   AND kiosk_expiry <= ?`,
		gatewaydomain.PaymentCancelled,
		"kiosk_bill_expired",
		now,
		gatewaydomain.PaymentPending,
		now,
	)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

// ListByUser pages newest first with a (created_at, id) keyset; before is the
// position of the last row already delivered, nil for the first page.
func (r *repo) ListByUser(ctx context.Context, db *gorm.DB, userID snowflake.ID, before *pagination.Cursor, limit int) ([]domain.Payment, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT id, user_id, subscription_id, provider, amount, currency, status,
			provider_payment_id, provider_order_id, payment_method,
			card_last4, card_brand, kiosk_bill_ref, kiosk_expiry,
			failure_reason, metadata, created_at, updated_at
		 FROM payments
		 WHERE user_id = ?`
	args := []any{userID}

	if before != nil {
		createdAt, err := time.Parse(time.RFC3339Nano, before.CreatedAt)
		if err != nil {
			return nil, domain.ErrInvalidCursor
		}
		id, err := snowflake.ParseString(before.ID)
		if err != nil {
			return nil, domain.ErrInvalidCursor
		}
		query += ` AND (created_at < ? OR (created_at = ? AND id < ?))`
		args = append(args, createdAt, createdAt, id)
	}

	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	var items []domain.Payment
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}
