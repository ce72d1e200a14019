package store

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/waslahq/wasla/internal/auth/domain"
	"github.com/waslahq/wasla/internal/clock"
)

const redisKeyPrefix = "session:"

// RedisStore keeps sessions in redis with a TTL matching their expiry.
type RedisStore struct {
	client *redis.Client
	clock  clock.Clock
}

func NewRedisStore(client *redis.Client, clk clock.Clock) *RedisStore {
	return &RedisStore{client: client, clock: clk}
}

func (s *RedisStore) Get(ctx context.Context, token string) (*domain.Session, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, domain.ErrSessionNotFound
	}

	raw, err := s.client.Get(ctx, redisKeyPrefix+token).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrSessionNotFound
		}
		return nil, err
	}

	var session domain.Session
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, domain.ErrSessionNotFound
	}
	if !session.ExpiresAt.After(s.clock.Now().UTC()) {
		return nil, domain.ErrSessionNotFound
	}
	return &session, nil
}

func (s *RedisStore) Save(ctx context.Context, session *domain.Session) error {
	if session.CreatedAt.IsZero() {
		session.CreatedAt = s.clock.Now().UTC()
	}
	ttl := time.Until(session.ExpiresAt)
	if ttl <= 0 {
		return domain.ErrSessionNotFound
	}

	raw, err := json.Marshal(session)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, redisKeyPrefix+session.Token, raw, ttl).Err()
}

func (s *RedisStore) Delete(ctx context.Context, token string) error {
	return s.client.Del(ctx, redisKeyPrefix+token).Err()
}
