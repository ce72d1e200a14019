package gateway

import (
	"sort"
	"strings"

	"github.com/waslahq/wasla/internal/config"
	"github.com/waslahq/wasla/internal/gateway/domain"
)

const defaultProvider = "stripe"

// Registry holds one adapter per provider, constructed once at startup, and
// resolves the adapter for a checkout from an explicit choice or the region
// routing table.
type Registry struct {
	gateways map[string]domain.PaymentGateway
	routing  *config.RoutingHolder
}

func NewRegistry(routing *config.RoutingHolder, gateways ...domain.PaymentGateway) *Registry {
	registry := &Registry{
		gateways: map[string]domain.PaymentGateway{},
		routing:  routing,
	}
	for _, gw := range gateways {
		if gw == nil {
			continue
		}
		provider := strings.ToLower(strings.TrimSpace(gw.Provider()))
		if provider == "" {
			continue
		}
		registry.gateways[provider] = gw
	}
	return registry
}

// Get returns the adapter for a provider name.
func (r *Registry) Get(provider string) (domain.PaymentGateway, error) {
	if r == nil {
		return nil, domain.ErrProviderNotFound
	}
	gw, ok := r.gateways[strings.ToLower(strings.TrimSpace(provider))]
	if !ok {
		return nil, domain.ErrProviderNotFound
	}
	return gw, nil
}

// Resolve picks the adapter for a checkout. An explicit provider wins even
// when unconfigured so the caller can report the misconfiguration; otherwise
// the country's preference list is walked and the first configured adapter
// wins, falling through to the default list.
func (r *Registry) Resolve(explicitProvider, countryCode string) (domain.PaymentGateway, error) {
	if r == nil {
		return nil, domain.ErrProviderNotFound
	}

	if explicit := strings.ToLower(strings.TrimSpace(explicitProvider)); explicit != "" {
		return r.Get(explicit)
	}

	var preference []string
	if r.routing != nil {
		preference = r.routing.PreferenceFor(countryCode)
	}
	for _, provider := range preference {
		if gw, ok := r.gateways[provider]; ok && gw.IsConfigured() {
			return gw, nil
		}
	}

	return r.Get(defaultProvider)
}

// Configured lists providers whose credentials are present, sorted for
// stable output.
func (r *Registry) Configured() []string {
	if r == nil {
		return nil
	}
	out := make([]string, 0, len(r.gateways))
	for provider, gw := range r.gateways {
		if gw.IsConfigured() {
			out = append(out, provider)
		}
	}
	sort.Strings(out)
	return out
}
