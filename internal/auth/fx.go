package auth

import (
	redis "github.com/redis/go-redis/v9"
	"github.com/waslahq/wasla/internal/auth/domain"
	"github.com/waslahq/wasla/internal/auth/session"
	"github.com/waslahq/wasla/internal/auth/store"
	"github.com/waslahq/wasla/internal/clock"
	"github.com/waslahq/wasla/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type storeParams struct {
	fx.In

	Config config.Config
	DB     *gorm.DB
	Clock  clock.Clock
	Log    *zap.Logger
}

func newStore(p storeParams) domain.Store {
	log := p.Log.Named("auth")
	switch p.Config.SessionStore {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     p.Config.RedisAddr,
			Password: p.Config.RedisPassword,
			DB:       p.Config.RedisDB,
		})
		log.Info("session store", zap.String("backend", "redis"), zap.String("addr", p.Config.RedisAddr))
		return store.NewRedisStore(client, p.Clock)
	default:
		log.Info("session store", zap.String("backend", "db"))
		return store.NewGormStore(p.DB, p.Clock)
	}
}

func newManager(cfg config.Config) *session.Manager {
	return session.NewManager(session.DefaultCookieName, cfg.AuthCookieSecure)
}

var Module = fx.Module("auth",
	fx.Provide(
		newStore,
		newManager,
	),
)
