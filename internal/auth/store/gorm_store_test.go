package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/waslahq/wasla/internal/auth/domain"
	"github.com/waslahq/wasla/internal/clock"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:sessions_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	err = db.Exec(`CREATE TABLE sessions (
		token TEXT PRIMARY KEY,
		user_id INTEGER NOT NULL,
		email TEXT NOT NULL,
		expires_at DATETIME NOT NULL,
		created_at DATETIME NOT NULL
	)`).Error
	if err != nil {
		t.Fatalf("create table: %v", err)
	}
	return db
}

func TestGormStoreRoundTrip(t *testing.T) {
	db := newTestDB(t)
	clk := clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	store := NewGormStore(db, clk)
	ctx := context.Background()

	sess := &domain.Session{
		Token:     "tok_abc",
		UserID:    42,
		Email:     "owner@example.com",
		ExpiresAt: clk.Now().Add(time.Hour),
	}
	if err := store.Save(ctx, sess); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := store.Get(ctx, "tok_abc")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.UserID != 42 || got.Email != "owner@example.com" {
		t.Fatalf("unexpected session: %+v", got)
	}
}

func TestGormStoreExpiredSession(t *testing.T) {
	db := newTestDB(t)
	clk := clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	store := NewGormStore(db, clk)
	ctx := context.Background()

	sess := &domain.Session{
		Token:     "tok_old",
		UserID:    7,
		Email:     "old@example.com",
		ExpiresAt: clk.Now().Add(time.Minute),
	}
	if err := store.Save(ctx, sess); err != nil {
		t.Fatalf("save: %v", err)
	}

	clk.Advance(2 * time.Minute)

	_, err := store.Get(ctx, "tok_old")
	if !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestGormStoreDelete(t *testing.T) {
	db := newTestDB(t)
	clk := clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	store := NewGormStore(db, clk)
	ctx := context.Background()

	sess := &domain.Session{
		Token:     "tok_del",
		UserID:    9,
		Email:     "del@example.com",
		ExpiresAt: clk.Now().Add(time.Hour),
	}
	if err := store.Save(ctx, sess); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.Delete(ctx, "tok_del"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	_, err := store.Get(ctx, "tok_del")
	if !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestGormStoreUnknownToken(t *testing.T) {
	db := newTestDB(t)
	clk := clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	store := NewGormStore(db, clk)

	_, err := store.Get(context.Background(), "missing")
	if !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}
