package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/waslahq/wasla/internal/clock"
	"github.com/waslahq/wasla/internal/gateway"
	gatewaydomain "github.com/waslahq/wasla/internal/gateway/domain"
	"github.com/waslahq/wasla/internal/plan"
	"github.com/waslahq/wasla/internal/subscription/domain"
	userdomain "github.com/waslahq/wasla/internal/user/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Repo     domain.Repository
	UserRepo userdomain.Repository
	Gateways *gateway.Registry
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	repo     domain.Repository
	userRepo userdomain.Repository
	gateways *gateway.Registry
}

func NewService(p Params) *Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("subscription.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		repo:     p.Repo,
		userRepo: p.UserRepo,
		gateways: p.Gateways,
	}
}

// UpsertInput is the event-carried subscription state.
type UpsertInput struct {
	UserID                 snowflake.ID
	Plan                   string
	Status                 gatewaydomain.SubscriptionStatus
	CancelAtPeriodEnd      bool
	PeriodStart            *time.Time
	PeriodEnd              *time.Time
	Provider               string
	ProviderSubscriptionID string
	ProviderCustomerID     string
}

// HandleSubscriptionEvent reconciles one event into the (user, provider) row
// with a single atomic upsert. Values are set to what the event carries;
// last writer wins across wall-clock-adjacent deliveries.
func (s *Service) HandleSubscriptionEvent(ctx context.Context, input UpsertInput) (*domain.Subscription, error) {
	if input.UserID == 0 {
		return nil, gatewaydomain.ErrInvalidEvent
	}
	input.Provider = strings.ToLower(strings.TrimSpace(input.Provider))
	if input.Provider == "" {
		return nil, gatewaydomain.ErrInvalidProvider
	}
	if input.Status == "" {
		input.Status = gatewaydomain.SubscriptionActive
	}
	if input.Plan != "" {
		tier, ok := plan.Parse(input.Plan)
		if !ok {
			return nil, gatewaydomain.ErrInvalidEvent
		}
		input.Plan = string(tier)
	}

	now := s.clock.Now().UTC()
	sub := &domain.Subscription{
		ID:                     s.genID.Generate(),
		UserID:                 input.UserID,
		Plan:                   input.Plan,
		Status:                 input.Status,
		CancelAtPeriodEnd:      input.CancelAtPeriodEnd,
		CurrentPeriodStart:     input.PeriodStart,
		CurrentPeriodEnd:       input.PeriodEnd,
		PaymentProvider:        input.Provider,
		ProviderSubscriptionID: strings.TrimSpace(input.ProviderSubscriptionID),
		ProviderCustomerID:     strings.TrimSpace(input.ProviderCustomerID),
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	if err := s.repo.Upsert(ctx, s.db, sub); err != nil {
		return nil, err
	}
	stored, err := s.repo.FindByUserAndProvider(ctx, s.db, input.UserID, input.Provider)
	if err != nil {
		return nil, err
	}
	if stored != nil {
		s.mirrorUserPlan(ctx, stored.UserID, stored.Plan)
	}
	return stored, nil
}

// HandleSubscriptionCancellation applies a provider-side cancellation.
// Immediate cancellations downgrade to FREE and clear the scheduled-cancel
// flag; scheduled ones only set the flag, preserving plan and period until
// natural expiry.
func (s *Service) HandleSubscriptionCancellation(ctx context.Context, provider, providerSubscriptionID string, immediate bool) error {
	provider = strings.ToLower(strings.TrimSpace(provider))
	providerSubscriptionID = strings.TrimSpace(providerSubscriptionID)
	if provider == "" || providerSubscriptionID == "" {
		return gatewaydomain.ErrInvalidEvent
	}

	sub, err := s.repo.FindByProviderSubscriptionID(ctx, s.db, provider, providerSubscriptionID)
	if err != nil {
		return err
	}
	if sub == nil {
		return domain.ErrSubscriptionNotFound
	}

	now := s.clock.Now().UTC()
	if immediate {
		if err := s.repo.Downgrade(ctx, s.db, sub.ID, string(plan.TierFree), now); err != nil {
			return err
		}
		s.mirrorUserPlan(ctx, sub.UserID, string(plan.TierFree))
		return nil
	}
	return s.repo.SetCancelAtPeriodEnd(ctx, s.db, sub.ID, true, now)
}

// MarkPastDue flags the (user, provider) row after a failed renewal. Missing
// rows are left alone; a failure for an unknown subscription is not an error.
func (s *Service) MarkPastDue(ctx context.Context, userID snowflake.ID, provider string) error {
	sub, err := s.repo.FindByUserAndProvider(ctx, s.db, userID, strings.ToLower(strings.TrimSpace(provider)))
	if err != nil {
		return err
	}
	if sub == nil {
		return nil
	}
	return s.repo.UpdateStatus(ctx, s.db, sub.ID, gatewaydomain.SubscriptionPastDue, s.clock.Now().UTC())
}

// CurrentForUser returns the most recently reconciled subscription.
func (s *Service) CurrentForUser(ctx context.Context, userID snowflake.ID) (*domain.Subscription, error) {
	if userID == 0 {
		return nil, gatewaydomain.ErrInvalidEvent
	}
	sub, err := s.repo.FindLatestByUser(ctx, s.db, userID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, domain.ErrSubscriptionNotFound
	}
	return sub, nil
}

// CancelForUser proxies the cancellation to the provider when it supports
// subscription objects, then applies the same change locally so the dashboard
// reflects it before the confirming webhook lands.
func (s *Service) CancelForUser(ctx context.Context, userID snowflake.ID, immediate bool) (*domain.Subscription, error) {
	sub, err := s.CurrentForUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	if sub.ProviderSubscriptionID != "" {
		if err := s.providerCancel(ctx, sub, immediate); err != nil {
			return nil, err
		}
	}

	now := s.clock.Now().UTC()
	if immediate {
		if err := s.repo.Downgrade(ctx, s.db, sub.ID, string(plan.TierFree), now); err != nil {
			return nil, err
		}
		s.mirrorUserPlan(ctx, sub.UserID, string(plan.TierFree))
	} else {
		if err := s.repo.SetCancelAtPeriodEnd(ctx, s.db, sub.ID, true, now); err != nil {
			return nil, err
		}
	}
	return s.repo.FindLatestByUser(ctx, s.db, userID)
}

// ResumeForUser clears a scheduled cancellation.
func (s *Service) ResumeForUser(ctx context.Context, userID snowflake.ID) (*domain.Subscription, error) {
	sub, err := s.CurrentForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !sub.CancelAtPeriodEnd {
		return sub, nil
	}

	if sub.ProviderSubscriptionID != "" {
		gw, err := s.gateways.Get(sub.PaymentProvider)
		if err == nil {
			if err := gw.ResumeSubscription(ctx, sub.ProviderSubscriptionID); err != nil && !errors.Is(err, gatewaydomain.ErrUnsupportedOperation) {
				return nil, err
			}
		}
	}

	if err := s.repo.SetCancelAtPeriodEnd(ctx, s.db, sub.ID, false, s.clock.Now().UTC()); err != nil {
		return nil, err
	}
	return s.repo.FindLatestByUser(ctx, s.db, userID)
}

// mirrorUserPlan keeps the user's plan column in step with the reconciled
// subscription so dashboard reads skip the join. Mirror failures are logged,
// never surfaced; the subscription row is the source of truth.
func (s *Service) mirrorUserPlan(ctx context.Context, userID snowflake.ID, planID string) {
	if planID == "" || s.userRepo == nil {
		return
	}
	if err := s.userRepo.UpdatePlan(ctx, s.db, userID, planID, s.clock.Now().UTC()); err != nil {
		s.log.Warn("user plan mirror failed",
			zap.Int64("user_id", int64(userID)),
			zap.String("plan", planID),
			zap.Error(err),
		)
	}
}

func (s *Service) providerCancel(ctx context.Context, sub *domain.Subscription, immediate bool) error {
	gw, err := s.gateways.Get(sub.PaymentProvider)
	if err != nil {
		s.log.Warn("cancel requested for unknown provider", zap.String("provider", sub.PaymentProvider))
		return nil
	}
	if err := gw.CancelSubscription(ctx, sub.ProviderSubscriptionID, immediate); err != nil {
		if errors.Is(err, gatewaydomain.ErrUnsupportedOperation) {
			return nil
		}
		return err
	}
	return nil
}
