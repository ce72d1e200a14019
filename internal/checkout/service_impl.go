package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/waslahq/wasla/internal/clock"
	"github.com/waslahq/wasla/internal/config"
	"github.com/waslahq/wasla/internal/currency"
	"github.com/waslahq/wasla/internal/gateway"
	gatewaydomain "github.com/waslahq/wasla/internal/gateway/domain"
	obsmetrics "github.com/waslahq/wasla/internal/observability/metrics"
	"github.com/waslahq/wasla/internal/plan"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Request is the checkout payload after authentication. Provider,
// countryCode and paymentMethod are optional hints.
type Request struct {
	PlanID        string `json:"planId"`
	BillingCycle  string `json:"billingCycle"`
	CountryCode   string `json:"countryCode"`
	Provider      string `json:"provider"`
	PaymentMethod string `json:"paymentMethod"`
}

var knownProviders = map[string]bool{
	"stripe":  true,
	"paymob":  true,
	"paytabs": true,
	"paddle":  true,
}

type Params struct {
	fx.In

	Log      *zap.Logger
	Clock    clock.Clock
	Config   config.Config
	Gateways *gateway.Registry
	Metrics  *obsmetrics.Metrics `optional:"true"`
}

// Service orchestrates checkout session creation against the resolved
// provider.
type Service struct {
	log      *zap.Logger
	clock    clock.Clock
	cfg      config.Config
	gateways *gateway.Registry
	metrics  *obsmetrics.Metrics
}

func NewService(p Params) *Service {
	return &Service{
		log:      p.Log.Named("checkout"),
		clock:    p.Clock,
		cfg:      p.Config,
		gateways: p.Gateways,
		metrics:  p.Metrics,
	}
}

// CreateSession validates the request, resolves a gateway and opens a
// provider checkout session. The order reference ties the eventual webhook
// back to the user.
func (s *Service) CreateSession(ctx context.Context, userID snowflake.ID, email string, req Request) (*gatewaydomain.CheckoutResult, error) {
	tier, cycle, country, verrs := s.validate(req)
	if len(verrs) > 0 {
		return nil, verrs
	}

	gw, err := s.gateways.Resolve(req.Provider, country)
	if err != nil {
		return nil, err
	}
	if !gw.IsConfigured() {
		return nil, NotConfiguredError{Provider: gw.Provider()}
	}

	catalogPlan, ok := plan.Lookup(tier)
	if !ok {
		return nil, ValidationErrors{{Field: "planId", Message: "unknown plan"}}
	}
	amount, err := currency.ToSmallestUnit(float64(catalogPlan.PriceUSD(cycle == gatewaydomain.CycleYearly)), "USD")
	if err != nil {
		return nil, err
	}

	orderRef := fmt.Sprintf("%s-%d", userID.String(), s.clock.Now().Unix())

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.ProviderTimeout)
	defer cancel()

	result, err := gw.CreateCheckoutSession(callCtx, gatewaydomain.CheckoutParams{
		UserID:        userID,
		Email:         email,
		Plan:          tier,
		BillingCycle:  cycle,
		CountryCode:   country,
		PaymentMethod: strings.ToLower(strings.TrimSpace(req.PaymentMethod)),
		OrderRef:      orderRef,
		Amount:        amount,
		Currency:      "USD",
		SuccessURL:    fmt.Sprintf("%s/billing/success?provider=%s", s.cfg.BaseURL, gw.Provider()),
		CancelURL:     fmt.Sprintf("%s/billing/cancel?provider=%s", s.cfg.BaseURL, gw.Provider()),
	})
	if err != nil {
		if errors.Is(err, gatewaydomain.ErrNotConfigured) {
			return nil, NotConfiguredError{Provider: gw.Provider()}
		}
		s.log.Error("checkout session failed",
			zap.String("provider", gw.Provider()),
			zap.String("plan", string(tier)),
			zap.Error(err),
		)
		return nil, err
	}

	s.metrics.RecordCheckoutSession(ctx, gw.Provider(), string(tier))
	s.log.Info("checkout session created",
		zap.String("provider", gw.Provider()),
		zap.String("plan", string(tier)),
		zap.String("billing_cycle", cycle),
		zap.String("order_ref", orderRef),
	)
	return result, nil
}

// Providers lists the providers currently available for checkout.
func (s *Service) Providers() []string {
	return s.gateways.Configured()
}

func (s *Service) validate(req Request) (plan.Tier, string, string, ValidationErrors) {
	var verrs ValidationErrors

	tier, ok := plan.Parse(req.PlanID)
	if !ok {
		verrs = append(verrs, FieldError{Field: "planId", Message: "unknown plan"})
	} else if !tier.Paid() {
		verrs = append(verrs, FieldError{Field: "planId", Message: "plan is not purchasable"})
	}

	cycle := strings.ToLower(strings.TrimSpace(req.BillingCycle))
	switch cycle {
	case "":
		cycle = gatewaydomain.CycleMonthly
	case gatewaydomain.CycleMonthly, gatewaydomain.CycleYearly:
	default:
		verrs = append(verrs, FieldError{Field: "billingCycle", Message: "must be monthly or yearly"})
	}

	country := strings.ToUpper(strings.TrimSpace(req.CountryCode))
	if country != "" && !isAlpha2(country) {
		verrs = append(verrs, FieldError{Field: "countryCode", Message: "must be an ISO 3166-1 alpha-2 code"})
	}

	if provider := strings.ToLower(strings.TrimSpace(req.Provider)); provider != "" && !knownProviders[provider] {
		verrs = append(verrs, FieldError{Field: "provider", Message: "unknown provider"})
	}

	return tier, cycle, country, verrs
}

func isAlpha2(code string) bool {
	if len(code) != 2 {
		return false
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}
