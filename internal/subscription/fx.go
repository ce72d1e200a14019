package subscription

import (
	"github.com/waslahq/wasla/internal/subscription/repository"
	subscriptionservice "github.com/waslahq/wasla/internal/subscription/service"
	"go.uber.org/fx"
)

var Module = fx.Module("subscription",
	fx.Provide(repository.Provide),
	fx.Provide(subscriptionservice.NewService),
)
