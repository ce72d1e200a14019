package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/waslahq/wasla/internal/config"
)

const keyPublicLookup = "payment:kiosk:lookup:%s"

// PublicLookupLimiter throttles the unauthenticated kiosk bill lookup per
// client address. Disabled deployments pass everything through.
type PublicLookupLimiter struct {
	enabled bool
	bucket  *TokenBucket
	rate    float64
	burst   int
}

func NewPublicLookupLimiter(cfg config.Config) (*PublicLookupLimiter, error) {
	if !cfg.RateLimitEnabled {
		return nil, nil
	}

	addr := strings.TrimSpace(cfg.RedisAddr)
	if addr == "" {
		return nil, errors.New("rate limit redis addr is required")
	}
	if cfg.KioskLookupRate <= 0 || cfg.KioskLookupBurst <= 0 {
		return nil, errors.New("kiosk lookup rate limit must be positive")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	return &PublicLookupLimiter{
		enabled: true,
		bucket:  NewTokenBucket(client),
		rate:    cfg.KioskLookupRate,
		burst:   cfg.KioskLookupBurst,
	}, nil
}

func (l *PublicLookupLimiter) Enabled() bool {
	return l != nil && l.enabled
}

func (l *PublicLookupLimiter) Allow(ctx context.Context, clientKey string) (bool, error) {
	if !l.Enabled() {
		return true, nil
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyPublicLookup, strings.TrimSpace(clientKey)), l.rate, l.burst)
}
