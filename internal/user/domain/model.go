package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// User is the identity surface this subsystem consumes. Plan mirrors the
// most recently reconciled subscription tier for quick dashboard reads.
type User struct {
	ID        snowflake.ID `json:"id" gorm:"primaryKey"`
	Email     string       `json:"email" gorm:"type:text;not null;uniqueIndex"`
	Plan      string       `json:"plan" gorm:"type:text;not null"`
	Country   string       `json:"country" gorm:"type:text"`
	CreatedAt time.Time    `json:"created_at" gorm:"not null"`
	UpdatedAt time.Time    `json:"updated_at" gorm:"not null"`
}

func (User) TableName() string { return "users" }

var ErrUserNotFound = errors.New("user_not_found")

type Repository interface {
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*User, error)
	FindByEmail(ctx context.Context, db *gorm.DB, email string) (*User, error)
	UpdatePlan(ctx context.Context, db *gorm.DB, id snowflake.ID, plan string, updatedAt time.Time) error
}
