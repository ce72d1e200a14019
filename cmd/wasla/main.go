package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/waslahq/wasla/internal/auth"
	"github.com/waslahq/wasla/internal/checkout"
	"github.com/waslahq/wasla/internal/clock"
	"github.com/waslahq/wasla/internal/config"
	"github.com/waslahq/wasla/internal/gateway"
	"github.com/waslahq/wasla/internal/migration"
	"github.com/waslahq/wasla/internal/observability"
	"github.com/waslahq/wasla/internal/payment"
	"github.com/waslahq/wasla/internal/ratelimit"
	"github.com/waslahq/wasla/internal/scheduler"
	"github.com/waslahq/wasla/internal/server"
	"github.com/waslahq/wasla/internal/subscription"
	"github.com/waslahq/wasla/internal/user"
	"github.com/waslahq/wasla/internal/webhook"
	"github.com/waslahq/wasla/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		// Payment pipeline
		gateway.Module,
		payment.Module,
		subscription.Module,
		webhook.Module,
		checkout.Module,

		// Identity
		user.Module,
		auth.Module,

		ratelimit.Module,
		scheduler.Module,
		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
