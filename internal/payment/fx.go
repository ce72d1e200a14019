package payment

import (
	"github.com/waslahq/wasla/internal/payment/repository"
	paymentservice "github.com/waslahq/wasla/internal/payment/service"
	"go.uber.org/fx"
)

var Module = fx.Module("payment",
	fx.Provide(repository.Provide),
	fx.Provide(paymentservice.NewService),
)
