package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	authdomain "github.com/waslahq/wasla/internal/auth/domain"
	"github.com/waslahq/wasla/internal/clock"
	paymentdomain "github.com/waslahq/wasla/internal/payment/domain"
	"github.com/waslahq/wasla/internal/plan"
	subscriptiondomain "github.com/waslahq/wasla/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	Clock        clock.Clock
	PaymentRepo  paymentdomain.Repository
	SubRepo      subscriptiondomain.Repository
	SessionStore authdomain.Store
	Config       Config `optional:"true"`
}

// Scheduler runs the periodic maintenance jobs: expiring unpaid kiosk bills,
// ending subscriptions whose scheduled cancellation lapsed, and purging dead
// sessions.
type Scheduler struct {
	db           *gorm.DB
	log          *zap.Logger
	cfg          Config
	clock        clock.Clock
	paymentRepo  paymentdomain.Repository
	subRepo      subscriptiondomain.Repository
	sessionStore authdomain.Store
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.Clock == nil || p.PaymentRepo == nil || p.SubRepo == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		db:           p.DB,
		log:          p.Log.Named("scheduler"),
		cfg:          p.Config.withDefaults(),
		clock:        p.Clock,
		paymentRepo:  p.PaymentRepo,
		subRepo:      p.SubRepo,
		sessionStore: p.SessionStore,
	}, nil
}

func (s *Scheduler) runJob(parent context.Context, name string, fn func(ctx context.Context) error) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, s.cfg.JobTimeout)
	defer cancel()

	err := fn(ctx)
	log := s.log.With(
		zap.String("job", name),
		zap.Duration("duration", time.Since(start)),
	)

	if err == nil {
		log.Debug("job completed")
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		log.Warn("job timed out", zap.Error(err))
		return nil
	}
	log.Error("job failed", zap.Error(err))
	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error
	err = errors.Join(err, s.runJob(parent, "expire_kiosk_bills", s.ExpireKioskBillsJob))
	err = errors.Join(err, s.runJob(parent, "end_canceled_subs", s.EndCanceledSubscriptionsJob))
	err = errors.Join(err, s.runJob(parent, "purge_sessions", s.PurgeSessionsJob))
	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = s.RunOnce(ctx)
		}
	}
}

// ExpireKioskBillsJob cancels PENDING kiosk payments past their 72h window so
// the public lookup stops quoting them.
func (s *Scheduler) ExpireKioskBillsJob(ctx context.Context) error {
	rows, err := s.paymentRepo.ExpireKioskBills(ctx, s.db, s.clock.Now().UTC())
	if err != nil {
		return err
	}
	if rows > 0 {
		s.log.Info("expired kiosk bills", zap.Int64("count", rows))
	}
	return nil
}

// EndCanceledSubscriptionsJob downgrades subscriptions whose scheduled
// cancellation reached its period end.
func (s *Scheduler) EndCanceledSubscriptionsJob(ctx context.Context) error {
	rows, err := s.subRepo.EndLapsedCancellations(ctx, s.db, string(plan.TierFree), s.clock.Now().UTC())
	if err != nil {
		return err
	}
	if rows > 0 {
		s.log.Info("ended canceled subscriptions", zap.Int64("count", rows))
	}
	return nil
}

// PurgeSessionsJob removes lapsed session rows. Redis-backed stores expire
// keys natively and expose no purge hook.
func (s *Scheduler) PurgeSessionsJob(ctx context.Context) error {
	purger, ok := s.sessionStore.(interface {
		PurgeExpired(ctx context.Context, before time.Time) error
	})
	if !ok {
		return nil
	}
	return purger.PurgeExpired(ctx, s.clock.Now().UTC())
}
