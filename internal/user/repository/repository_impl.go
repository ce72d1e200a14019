package repository

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/waslahq/wasla/internal/user/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.User, error) {
	var item domain.User
	err := db.WithContext(ctx).Raw(
		`SELECT id, email, plan, country, created_at, updated_at
		 FROM users
		 WHERE id = ?
		 LIMIT 1`,
		id,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) FindByEmail(ctx context.Context, db *gorm.DB, email string) (*domain.User, error) {
	var item domain.User
	err := db.WithContext(ctx).Raw(
		`SELECT id, email, plan, country, created_at, updated_at
		 FROM users
		 WHERE email = ?
		 LIMIT 1`,
		strings.ToLower(strings.TrimSpace(email)),
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) UpdatePlan(ctx context.Context, db *gorm.DB, id snowflake.ID, plan string, updatedAt time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE users
		 SET plan = ?, updated_at = ?
		 WHERE id = ?`,
		plan,
		updatedAt,
		id,
	).Error
}
