package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/waslahq/wasla/internal/clock"
	"github.com/waslahq/wasla/internal/currency"
	"github.com/waslahq/wasla/internal/gateway"
	gatewaydomain "github.com/waslahq/wasla/internal/gateway/domain"
	obsmetrics "github.com/waslahq/wasla/internal/observability/metrics"
	paymentdomain "github.com/waslahq/wasla/internal/payment/domain"
	paymentservice "github.com/waslahq/wasla/internal/payment/service"
	"github.com/waslahq/wasla/internal/plan"
	subscriptiondomain "github.com/waslahq/wasla/internal/subscription/domain"
	subscriptionservice "github.com/waslahq/wasla/internal/subscription/service"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ErrUnknownCorrelation marks a verified event that cannot be tied to a
// user. The HTTP layer acknowledges these with 200 so the provider stops
// retrying; the drop is visible only in logs.
var ErrUnknownCorrelation = errors.New("unknown_correlation")

type Params struct {
	fx.In

	DB              *gorm.DB
	Log             *zap.Logger
	GenID           *snowflake.Node
	Clock           clock.Clock
	Gateways        *gateway.Registry
	PaymentRepo     paymentdomain.Repository
	SubRepo         subscriptiondomain.Repository
	PaymentSvc      *paymentservice.Service
	SubscriptionSvc *subscriptionservice.Service
	ObsMetrics      *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db              *gorm.DB
	log             *zap.Logger
	genID           *snowflake.Node
	clock           clock.Clock
	gateways        *gateway.Registry
	paymentRepo     paymentdomain.Repository
	subRepo         subscriptiondomain.Repository
	paymentSvc      *paymentservice.Service
	subscriptionSvc *subscriptionservice.Service
	obsMetrics      *obsmetrics.Metrics
}

func NewService(p Params) *Service {
	return &Service{
		db:              p.DB,
		log:             p.Log.Named("webhook.service"),
		genID:           p.GenID,
		clock:           p.Clock,
		gateways:        p.Gateways,
		paymentRepo:     p.PaymentRepo,
		subRepo:         p.SubRepo,
		paymentSvc:      p.PaymentSvc,
		subscriptionSvc: p.SubscriptionSvc,
		obsMetrics:      p.ObsMetrics,
	}
}

// IngestWebhook runs the inbound pipeline: verify the signature over the raw
// body, normalize the payload, deduplicate on (provider, provider_event_id),
// then reconcile payment and subscription state. No mutation happens before
// verification succeeds.
func (s *Service) IngestWebhook(ctx context.Context, provider string, payload []byte, sig gatewaydomain.SignatureMaterial) error {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		return gatewaydomain.ErrInvalidProvider
	}

	gw, err := s.gateways.Get(provider)
	if err != nil {
		return err
	}
	if !gw.IsConfigured() {
		return gatewaydomain.ErrNotConfigured
	}
	if !json.Valid(payload) {
		return gatewaydomain.ErrInvalidPayload
	}

	if err := gw.VerifyWebhook(ctx, payload, sig); err != nil {
		s.recordRejection(ctx, provider, "invalid_signature")
		return err
	}

	event, err := gw.ParseWebhook(ctx, payload)
	if err != nil {
		if errors.Is(err, gatewaydomain.ErrEventIgnored) {
			return nil
		}
		s.recordRejection(ctx, provider, "invalid_payload")
		return err
	}

	userID, err := s.resolveUser(ctx, provider, event)
	if err != nil {
		s.log.Warn("webhook event dropped: no user correlation",
			zap.String("provider", provider),
			zap.String("event_id", event.ID),
			zap.String("event_type", event.Type),
			zap.String("order_ref", event.Data.OrderRef),
		)
		s.recordRejection(ctx, provider, "unknown_correlation")
		return ErrUnknownCorrelation
	}

	now := s.clock.Now().UTC()
	record := paymentdomain.EventRecord{
		ID:              s.genID.Generate(),
		Provider:        provider,
		ProviderEventID: event.ID,
		EventType:       event.Type,
		UserID:          userID,
		Payload:         datatypes.JSON(payload),
		ReceivedAt:      now,
	}

	inserted, err := s.paymentRepo.InsertEvent(ctx, s.db, &record)
	if err != nil {
		return err
	}
	stored := &record
	if !inserted {
		stored, err = s.paymentRepo.FindEvent(ctx, s.db, provider, event.ID)
		if err != nil {
			return err
		}
		if stored == nil {
			return gatewaydomain.ErrInvalidEvent
		}
		if stored.ProcessedAt != nil {
			return paymentdomain.ErrEventAlreadyProcessed
		}
	}

	if err := s.dispatch(ctx, userID, event); err != nil {
		return err
	}

	if err := s.paymentRepo.MarkProcessed(ctx, s.db, stored.ID, now); err != nil {
		return err
	}

	if inserted && s.obsMetrics != nil {
		s.obsMetrics.RecordPaymentEvent(ctx, provider, event.Type)
	}
	return nil
}

// resolveUser recovers the internal user id. The order reference embeds it
// as "{userId}-{timestamp}"; events without one (renewals, provider-side
// cancellations) fall back to the subscription the event points at.
func (s *Service) resolveUser(ctx context.Context, provider string, event *gatewaydomain.WebhookEvent) (snowflake.ID, error) {
	if ref := strings.TrimSpace(event.Data.OrderRef); ref != "" {
		idPart, _, found := strings.Cut(ref, "-")
		if found {
			if userID, err := snowflake.ParseString(idPart); err == nil && userID != 0 {
				return userID, nil
			}
		}
	}

	if subID := strings.TrimSpace(event.Data.ProviderSubscriptionID); subID != "" {
		sub, err := s.subRepo.FindByProviderSubscriptionID(ctx, s.db, provider, subID)
		if err != nil {
			return 0, err
		}
		if sub != nil {
			return sub.UserID, nil
		}
	}

	return 0, ErrUnknownCorrelation
}

func (s *Service) dispatch(ctx context.Context, userID snowflake.ID, event *gatewaydomain.WebhookEvent) error {
	switch event.Type {
	case gatewaydomain.EventTypePaymentSucceeded:
		return s.handlePaymentSucceeded(ctx, userID, event)
	case gatewaydomain.EventTypePaymentPending:
		return s.handlePaymentPending(ctx, userID, event)
	case gatewaydomain.EventTypePaymentFailed:
		return s.handlePaymentFailed(ctx, userID, event)
	case gatewaydomain.EventTypeSubscriptionCreated, gatewaydomain.EventTypeSubscriptionUpdated:
		return s.handleSubscriptionEvent(ctx, userID, event)
	case gatewaydomain.EventTypeSubscriptionDeleted:
		return s.handleSubscriptionDeleted(ctx, event)
	default:
		return nil
	}
}

func (s *Service) handlePaymentSucceeded(ctx context.Context, userID snowflake.ID, event *gatewaydomain.WebhookEvent) error {
	planID, cycle := s.resolvePlan(event)

	var subscriptionID *snowflake.ID
	sub, err := s.activateSubscription(ctx, userID, planID, cycle, event)
	if err != nil {
		return err
	}
	if sub != nil {
		subscriptionID = &sub.ID
	}

	status := event.Data.PaymentStatus
	if status == "" {
		status = gatewaydomain.PaymentCompleted
	}

	// Kiosk settlements follow an earlier pending callback carrying the same
	// provider payment id; transition that row instead of inserting a second.
	if id := strings.TrimSpace(event.Data.ProviderPaymentID); id != "" {
		rows, err := s.paymentSvc.UpdatePaymentStatus(ctx, id, event.Provider, status, "")
		if err != nil {
			return err
		}
		if rows > 0 {
			return nil
		}
	}

	_, err = s.paymentSvc.RecordPayment(ctx, recordInput(userID, subscriptionID, event, status))
	return err
}

func (s *Service) handlePaymentPending(ctx context.Context, userID snowflake.ID, event *gatewaydomain.WebhookEvent) error {
	status := event.Data.PaymentStatus
	if status == "" {
		status = gatewaydomain.PaymentPending
	}
	_, err := s.paymentSvc.RecordPayment(ctx, recordInput(userID, nil, event, status))
	return err
}

// handlePaymentFailed transitions the matching payment row; when no row
// exists yet the failure is recorded as a fresh row so it stays visible.
func (s *Service) handlePaymentFailed(ctx context.Context, userID snowflake.ID, event *gatewaydomain.WebhookEvent) error {
	status := event.Data.PaymentStatus
	if status == "" {
		status = gatewaydomain.PaymentFailed
	}

	rows, err := s.paymentSvc.UpdatePaymentStatus(ctx, event.Data.ProviderPaymentID, event.Provider, status, event.Data.FailureReason)
	if err != nil {
		return err
	}
	if rows == 0 {
		if _, err := s.paymentSvc.RecordPayment(ctx, recordInput(userID, nil, event, status)); err != nil {
			return err
		}
	}

	if status == gatewaydomain.PaymentFailed {
		return s.subscriptionSvc.MarkPastDue(ctx, userID, event.Provider)
	}
	return nil
}

func (s *Service) handleSubscriptionEvent(ctx context.Context, userID snowflake.ID, event *gatewaydomain.WebhookEvent) error {
	_, err := s.subscriptionSvc.HandleSubscriptionEvent(ctx, subscriptionservice.UpsertInput{
		UserID:                 userID,
		Plan:                   event.Data.PlanID,
		Status:                 event.Data.SubscriptionStatus,
		CancelAtPeriodEnd:      event.Data.CancelAtPeriodEnd,
		PeriodStart:            event.Data.PeriodStart,
		PeriodEnd:              event.Data.PeriodEnd,
		Provider:               event.Provider,
		ProviderSubscriptionID: event.Data.ProviderSubscriptionID,
		ProviderCustomerID:     event.Data.ProviderCustomerID,
	})
	return err
}

func (s *Service) handleSubscriptionDeleted(ctx context.Context, event *gatewaydomain.WebhookEvent) error {
	immediate := event.Data.Immediate || !event.Data.CancelAtPeriodEnd
	err := s.subscriptionSvc.HandleSubscriptionCancellation(ctx, event.Provider, event.Data.ProviderSubscriptionID, immediate)
	if errors.Is(err, subscriptiondomain.ErrSubscriptionNotFound) {
		s.log.Warn("cancellation for unknown subscription",
			zap.String("provider", event.Provider),
			zap.String("provider_subscription_id", event.Data.ProviderSubscriptionID),
		)
		return nil
	}
	return err
}

// activateSubscription upserts the ACTIVE row for a settled payment. One-shot
// processors carry no plan metadata; their plan is inferred from the USD
// amount, and when neither source yields a plan an existing row keeps its
// plan while a missing one is skipped with a warning.
func (s *Service) activateSubscription(ctx context.Context, userID snowflake.ID, planID, cycle string, event *gatewaydomain.WebhookEvent) (*subscriptiondomain.Subscription, error) {
	if planID == "" {
		existing, err := s.subRepo.FindByUserAndProvider(ctx, s.db, userID, event.Provider)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			s.log.Warn("settled payment without plan information; subscription not activated",
				zap.String("provider", event.Provider),
				zap.String("event_id", event.ID),
			)
			return nil, nil
		}
	}

	periodStart, periodEnd := event.Data.PeriodStart, event.Data.PeriodEnd
	if periodStart == nil && cycle != "" {
		start := event.Timestamp
		end := addCycle(start, cycle)
		periodStart, periodEnd = &start, &end
	}

	return s.subscriptionSvc.HandleSubscriptionEvent(ctx, subscriptionservice.UpsertInput{
		UserID:                 userID,
		Plan:                   planID,
		Status:                 gatewaydomain.SubscriptionActive,
		PeriodStart:            periodStart,
		PeriodEnd:              periodEnd,
		Provider:               event.Provider,
		ProviderSubscriptionID: event.Data.ProviderSubscriptionID,
		ProviderCustomerID:     event.Data.ProviderCustomerID,
	})
}

// resolvePlan prefers event metadata and falls back to matching the USD
// amount against the catalog.
func (s *Service) resolvePlan(event *gatewaydomain.WebhookEvent) (string, string) {
	if event.Data.PlanID != "" {
		if tier, ok := plan.Parse(event.Data.PlanID); ok {
			return string(tier), event.Data.BillingCycle
		}
	}
	if !strings.EqualFold(event.Data.Currency, "USD") || event.Data.Amount <= 0 {
		return "", ""
	}
	for _, tier := range []plan.Tier{plan.TierStarter, plan.TierPro, plan.TierBusiness, plan.TierEnterprise} {
		entry, ok := plan.Lookup(tier)
		if !ok {
			continue
		}
		monthly, err := currency.ToSmallestUnit(float64(entry.MonthlyUSD), "USD")
		if err == nil && monthly == event.Data.Amount {
			return string(tier), gatewaydomain.CycleMonthly
		}
		yearly, err := currency.ToSmallestUnit(float64(entry.YearlyUSD), "USD")
		if err == nil && yearly == event.Data.Amount {
			return string(tier), gatewaydomain.CycleYearly
		}
	}
	return "", ""
}

func addCycle(start time.Time, cycle string) time.Time {
	if cycle == gatewaydomain.CycleYearly {
		return start.AddDate(1, 0, 0)
	}
	return start.AddDate(0, 1, 0)
}

func recordInput(userID snowflake.ID, subscriptionID *snowflake.ID, event *gatewaydomain.WebhookEvent, status gatewaydomain.PaymentStatus) paymentservice.RecordPaymentInput {
	return paymentservice.RecordPaymentInput{
		UserID:            userID,
		SubscriptionID:    subscriptionID,
		Provider:          event.Provider,
		Amount:            event.Data.Amount,
		Currency:          event.Data.Currency,
		Status:            status,
		ProviderPaymentID: event.Data.ProviderPaymentID,
		ProviderOrderID:   event.Data.ProviderOrderID,
		PaymentMethod:     event.Data.PaymentMethod,
		CardLast4:         event.Data.CardLast4,
		CardBrand:         event.Data.CardBrand,
		KioskBillRef:      event.Data.KioskBillRef,
		KioskExpiry:       event.Data.KioskExpiry,
		FailureReason:     event.Data.FailureReason,
		RawPayload:        event.Data.RawPayload,
	}
}

func (s *Service) recordRejection(ctx context.Context, provider, reason string) {
	if s.obsMetrics != nil {
		s.obsMetrics.RecordWebhookRejected(ctx, provider, reason)
	}
}
