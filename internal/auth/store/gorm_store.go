package store

import (
	"context"
	"strings"
	"time"

	"github.com/waslahq/wasla/internal/auth/domain"
	"github.com/waslahq/wasla/internal/clock"
	"gorm.io/gorm"
)

// GormStore keeps sessions in the relational database.
type GormStore struct {
	db    *gorm.DB
	clock clock.Clock
}

func NewGormStore(db *gorm.DB, clk clock.Clock) *GormStore {
	return &GormStore{db: db, clock: clk}
}

func (s *GormStore) Get(ctx context.Context, token string) (*domain.Session, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, domain.ErrSessionNotFound
	}

	var item domain.Session
	err := s.db.WithContext(ctx).Raw(
		`SELECT token, user_id, email, expires_at, created_at
		 FROM sessions
		 WHERE token = ?
		 LIMIT 1`,
		token,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.Token == "" {
		return nil, domain.ErrSessionNotFound
	}
	if !item.ExpiresAt.After(s.clock.Now().UTC()) {
		return nil, domain.ErrSessionNotFound
	}
	return &item, nil
}

func (s *GormStore) Save(ctx context.Context, session *domain.Session) error {
	if session.CreatedAt.IsZero() {
		session.CreatedAt = s.clock.Now().UTC()
	}
	return s.db.WithContext(ctx).Exec(
		`INSERT INTO sessions (token, user_id, email, expires_at, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (token) DO UPDATE SET
			user_id = excluded.user_id,
			email = excluded.email,
			expires_at = excluded.expires_at`,
		session.Token,
		session.UserID,
		session.Email,
		session.ExpiresAt,
		session.CreatedAt,
	).Error
}

func (s *GormStore) Delete(ctx context.Context, token string) error {
	return s.db.WithContext(ctx).Exec(
		`DELETE FROM sessions WHERE token = ?`,
		token,
	).Error
}

// PurgeExpired removes lapsed rows; callers run it opportunistically.
func (s *GormStore) PurgeExpired(ctx context.Context, before time.Time) error {
	return s.db.WithContext(ctx).Exec(
		`DELETE FROM sessions WHERE expires_at <= ?`,
		before,
	).Error
}
