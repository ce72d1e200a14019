package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	gatewaydomain "github.com/waslahq/wasla/internal/gateway/domain"
	"github.com/waslahq/wasla/pkg/db/pagination"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Payment is one provider notification worth of money movement. Amount is an
// integer in the currency's minor unit; float amounts never reach this row.
type Payment struct {
	ID                snowflake.ID                `json:"id" gorm:"primaryKey"`
	UserID            snowflake.ID                `json:"user_id" gorm:"not null;index"`
	SubscriptionID    *snowflake.ID               `json:"subscription_id"`
	Provider          string                      `json:"provider" gorm:"type:text;not null"`
	Amount            int64                       `json:"amount" gorm:"not null"`
	Currency          string                      `json:"currency" gorm:"type:text;not null"`
	Status            gatewaydomain.PaymentStatus `json:"status" gorm:"type:text;not null"`
	ProviderPaymentID string                      `json:"provider_payment_id" gorm:"type:text"`
	ProviderOrderID   string                      `json:"provider_order_id" gorm:"type:text"`
	PaymentMethod     string                      `json:"payment_method" gorm:"type:text"`
	CardLast4         string                      `json:"card_last4" gorm:"type:text"`
	CardBrand         string                      `json:"card_brand" gorm:"type:text"`
	KioskBillRef      string                      `json:"kiosk_bill_ref" gorm:"type:text"`
	KioskExpiry       *time.Time                  `json:"kiosk_expiry"`
	FailureReason     string                      `json:"failure_reason" gorm:"type:text"`
	Metadata          datatypes.JSON              `json:"metadata"`
	CreatedAt         time.Time                   `json:"created_at" gorm:"not null"`
	UpdatedAt         time.Time                   `json:"updated_at" gorm:"not null"`
}

func (Payment) TableName() string { return "payments" }

// EventRecord is the idempotency ledger of processed provider events. The
// (provider, provider_event_id) pair is unique; replayed deliveries hit the
// conflict and are acknowledged without reprocessing.
type EventRecord struct {
	ID              snowflake.ID   `json:"id" gorm:"primaryKey"`
	Provider        string         `json:"provider" gorm:"type:text;not null"`
	ProviderEventID string         `json:"provider_event_id" gorm:"type:text;not null"`
	EventType       string         `json:"event_type" gorm:"type:text;not null"`
	UserID          snowflake.ID   `json:"user_id" gorm:"index"`
	Payload         datatypes.JSON `json:"payload" gorm:"not null"`
	ReceivedAt      time.Time      `json:"received_at" gorm:"not null"`
	ProcessedAt     *time.Time     `json:"processed_at"`
}

func (EventRecord) TableName() string { return "payment_events" }

var (
	ErrInvalidAmount         = errors.New("invalid_amount")
	ErrInvalidCurrency       = errors.New("invalid_currency")
	ErrInvalidUser           = errors.New("invalid_user")
	ErrInvalidCursor         = errors.New("invalid_cursor")
	ErrEventAlreadyProcessed = errors.New("event_already_processed")
	ErrPaymentNotFound       = errors.New("payment_not_found")
)

// Repository is the narrow persistence surface for payments and the event
// idempotency ledger.
type Repository interface {
	InsertEvent(ctx context.Context, db *gorm.DB, event *EventRecord) (bool, error)
	FindEvent(ctx context.Context, db *gorm.DB, provider, providerEventID string) (*EventRecord, error)
	MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, processedAt time.Time) error

	Insert(ctx context.Context, db *gorm.DB, payment *Payment) error
	UpdateStatusByProviderID(ctx context.Context, db *gorm.DB, providerPaymentID, provider string, status gatewaydomain.PaymentStatus, reason string, updatedAt time.Time) (int64, error)
	FindPendingByKioskRef(ctx context.Context, db *gorm.DB, billRef string, now time.Time) (*Payment, error)
	ListByUser(ctx context.Context, db *gorm.DB, userID snowflake.ID, before *pagination.Cursor, limit int) ([]Payment, error)
	ExpireKioskBills(ctx context.Context, db *gorm.DB, now time.Time) (int64, error)
}
