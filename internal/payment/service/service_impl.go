package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/waslahq/wasla/internal/clock"
	"github.com/waslahq/wasla/internal/currency"
	gatewaydomain "github.com/waslahq/wasla/internal/gateway/domain"
	"github.com/waslahq/wasla/internal/payment/domain"
	subscriptiondomain "github.com/waslahq/wasla/internal/subscription/domain"
	"github.com/waslahq/wasla/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Repo    domain.Repository
	SubRepo subscriptiondomain.Repository
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	repo    domain.Repository
	subRepo subscriptiondomain.Repository
}

func NewService(p Params) *Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("payment.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		repo:    p.Repo,
		subRepo: p.SubRepo,
	}
}

// RecordPaymentInput carries the normalized fields of one provider
// notification. Amount is already in the currency's minor unit.
type RecordPaymentInput struct {
	UserID            snowflake.ID
	SubscriptionID    *snowflake.ID
	Provider          string
	Amount            int64
	Currency          string
	Status            gatewaydomain.PaymentStatus
	ProviderPaymentID string
	ProviderOrderID   string
	PaymentMethod     string
	CardLast4         string
	CardBrand         string
	KioskBillRef      string
	KioskExpiry       *time.Time
	FailureReason     string
	RawPayload        []byte
}

// RecordPayment inserts a new payment row, resolving the subscription via
// (user, provider) when the caller did not supply one.
func (s *Service) RecordPayment(ctx context.Context, input RecordPaymentInput) (*domain.Payment, error) {
	if input.UserID == 0 {
		return nil, domain.ErrInvalidUser
	}
	input.Provider = strings.ToLower(strings.TrimSpace(input.Provider))
	if input.Provider == "" {
		return nil, gatewaydomain.ErrInvalidProvider
	}
	code := strings.ToUpper(strings.TrimSpace(input.Currency))
	if _, err := currency.Lookup(code); err != nil {
		return nil, domain.ErrInvalidCurrency
	}
	if input.Amount < 0 {
		return nil, domain.ErrInvalidAmount
	}
	if input.Status == "" {
		return nil, gatewaydomain.ErrInvalidEvent
	}

	subscriptionID := input.SubscriptionID
	if subscriptionID == nil {
		sub, err := s.subRepo.FindByUserAndProvider(ctx, s.db, input.UserID, input.Provider)
		if err != nil {
			return nil, err
		}
		if sub != nil {
			subscriptionID = &sub.ID
		}
	}

	now := s.clock.Now().UTC()
	payment := &domain.Payment{
		ID:                s.genID.Generate(),
		UserID:            input.UserID,
		SubscriptionID:    subscriptionID,
		Provider:          input.Provider,
		Amount:            input.Amount,
		Currency:          code,
		Status:            input.Status,
		ProviderPaymentID: strings.TrimSpace(input.ProviderPaymentID),
		ProviderOrderID:   strings.TrimSpace(input.ProviderOrderID),
		PaymentMethod:     strings.TrimSpace(input.PaymentMethod),
		CardLast4:         strings.TrimSpace(input.CardLast4),
		CardBrand:         strings.TrimSpace(input.CardBrand),
		KioskBillRef:      strings.TrimSpace(input.KioskBillRef),
		KioskExpiry:       input.KioskExpiry,
		FailureReason:     strings.TrimSpace(input.FailureReason),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if len(input.RawPayload) > 0 {
		payment.Metadata = datatypes.JSON(input.RawPayload)
	}

	if err := s.repo.Insert(ctx, s.db, payment); err != nil {
		return nil, err
	}
	return payment, nil
}

// UpdatePaymentStatus transitions rows matched by (providerPaymentID,
// provider). Matching zero rows is not an error; providers deliver status
// notifications in any order and an update may arrive before the row exists.
func (s *Service) UpdatePaymentStatus(ctx context.Context, providerPaymentID, provider string, status gatewaydomain.PaymentStatus, reason string) (int64, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	providerPaymentID = strings.TrimSpace(providerPaymentID)
	if provider == "" || providerPaymentID == "" {
		return 0, gatewaydomain.ErrInvalidEvent
	}

	rows, err := s.repo.UpdateStatusByProviderID(ctx, s.db, providerPaymentID, provider, status, reason, s.clock.Now().UTC())
	if err != nil {
		return 0, err
	}
	if rows == 0 {
		s.log.Debug("payment status update matched no rows",
			zap.String("provider", provider),
			zap.String("provider_payment_id", providerPaymentID),
			zap.String("status", string(status)),
		)
	}
	return rows, nil
}

// LookupKioskBill returns the payable kiosk record for a bill reference.
// Expired and already-settled bills are not visible.
func (s *Service) LookupKioskBill(ctx context.Context, billRef string) (*domain.Payment, error) {
	billRef = strings.TrimSpace(billRef)
	if billRef == "" {
		return nil, domain.ErrPaymentNotFound
	}
	payment, err := s.repo.FindPendingByKioskRef(ctx, s.db, billRef, s.clock.Now().UTC())
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, domain.ErrPaymentNotFound
	}
	return payment, nil
}

// History lists the user's payments newest first, one cursor page at a time.
func (s *Service) History(ctx context.Context, userID snowflake.ID, pageToken string, pageSize int) ([]domain.Payment, *pagination.PageInfo, error) {
	if userID == 0 {
		return nil, nil, domain.ErrInvalidUser
	}

	size := pagination.Pagination{PageSize: pageSize}.Limit(50, 100)

	var cursor *pagination.Cursor
	if pageToken != "" {
		decoded, err := pagination.DecodeCursor(pageToken)
		if err != nil {
			return nil, nil, domain.ErrInvalidCursor
		}
		cursor = decoded
	}

	// Fetch one extra row to learn whether a next page exists.
	items, err := s.repo.ListByUser(ctx, s.db, userID, cursor, size+1)
	if err != nil {
		return nil, nil, err
	}
	return pagination.TrimPage(items, size, func(p domain.Payment) pagination.Cursor {
		return pagination.Cursor{
			ID:        p.ID.String(),
			CreatedAt: p.CreatedAt.UTC().Format(time.RFC3339Nano),
		}
	})
}
