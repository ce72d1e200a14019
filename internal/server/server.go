package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/waslahq/wasla/internal/auth"
	authdomain "github.com/waslahq/wasla/internal/auth/domain"
	"github.com/waslahq/wasla/internal/auth/session"
	"github.com/waslahq/wasla/internal/checkout"
	"github.com/waslahq/wasla/internal/config"
	"github.com/waslahq/wasla/internal/observability"
	obsmiddleware "github.com/waslahq/wasla/internal/observability/logger"
	obsmetrics "github.com/waslahq/wasla/internal/observability/metrics"
	obstracing "github.com/waslahq/wasla/internal/observability/tracing"
	paymentservice "github.com/waslahq/wasla/internal/payment/service"
	"github.com/waslahq/wasla/internal/ratelimit"
	subscriptionservice "github.com/waslahq/wasla/internal/subscription/service"
	"github.com/waslahq/wasla/internal/webhook"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine          *gin.Engine
	cfg             config.Config
	log             *zap.Logger
	sessions        *session.Manager
	sessionStore    authdomain.Store
	checkoutSvc     *checkout.Service
	paymentSvc      *paymentservice.Service
	subscriptionSvc *subscriptionservice.Service
	webhookSvc      *webhook.Service
	kioskLimiter    *ratelimit.PublicLookupLimiter
}

type ServerParams struct {
	fx.In

	Gin             *gin.Engine
	Cfg             config.Config
	Log             *zap.Logger
	Sessions        *session.Manager
	SessionStore    authdomain.Store
	CheckoutSvc     *checkout.Service
	PaymentSvc      *paymentservice.Service
	SubscriptionSvc *subscriptionservice.Service
	WebhookSvc      *webhook.Service
	KioskLimiter    *ratelimit.PublicLookupLimiter `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:          p.Gin,
		cfg:             p.Cfg,
		log:             p.Log.Named("server"),
		sessions:        p.Sessions,
		sessionStore:    p.SessionStore,
		checkoutSvc:     p.CheckoutSvc,
		paymentSvc:      p.PaymentSvc,
		subscriptionSvc: p.SubscriptionSvc,
		webhookSvc:      p.WebhookSvc,
		kioskLimiter:    p.KioskLimiter,
	}

	svc.registerAPIRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api")

	authRequired := auth.Required(s.sessions, s.sessionStore)

	// -------- Payments --------
	payment := api.Group("/payment")
	payment.POST("/checkout", authRequired, s.CreateCheckout)
	payment.GET("/history", authRequired, s.ListPaymentHistory)
	payment.GET("/providers", s.ListProviders)
	payment.GET("/kiosk/:ref", s.KioskLookupRateLimit(), s.GetKioskBill)
	payment.POST("/webhooks/:provider", s.HandleWebhook)

	// -------- Subscription --------
	subscription := api.Group("/subscription", authRequired)
	subscription.GET("", s.GetSubscription)
	subscription.POST("/cancel", s.CancelSubscription)
	subscription.POST("/resume", s.ResumeSubscription)
}
