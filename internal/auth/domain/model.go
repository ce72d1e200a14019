package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Session ties an opaque cookie token to a user identity.
type Session struct {
	Token     string       `json:"token" gorm:"primaryKey;type:text"`
	UserID    snowflake.ID `json:"user_id" gorm:"not null;index"`
	Email     string       `json:"email" gorm:"type:text;not null"`
	ExpiresAt time.Time    `json:"expires_at" gorm:"not null"`
	CreatedAt time.Time    `json:"created_at" gorm:"not null"`
}

func (Session) TableName() string { return "sessions" }

var (
	ErrUnauthorized    = errors.New("unauthorized")
	ErrSessionNotFound = errors.New("session_not_found")
)

// Store is the session backend strategy. Two implementations exist, one on
// the relational database and one on redis; configuration picks one at
// startup.
type Store interface {
	Get(ctx context.Context, token string) (*Session, error)
	Save(ctx context.Context, session *Session) error
	Delete(ctx context.Context, token string) error
}
