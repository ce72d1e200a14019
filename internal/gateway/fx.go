package gateway

import (
	"github.com/waslahq/wasla/internal/clock"
	"github.com/waslahq/wasla/internal/config"
	"github.com/waslahq/wasla/internal/gateway/adapters/paddle"
	"github.com/waslahq/wasla/internal/gateway/adapters/paymob"
	"github.com/waslahq/wasla/internal/gateway/adapters/paytabs"
	"github.com/waslahq/wasla/internal/gateway/adapters/stripe"
	"go.uber.org/fx"
)

var Module = fx.Module("gateway",
	fx.Provide(func(cfg config.Config, routing *config.RoutingHolder, clk clock.Clock) *Registry {
		return NewRegistry(routing,
			stripe.New(cfg.Stripe),
			paymob.New(cfg.Paymob, clk),
			paytabs.New(cfg.PayTabs),
			paddle.New(cfg.Paddle),
		)
	}),
)
