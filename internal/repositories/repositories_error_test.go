package repositories

import (
	"context"
	"errors"
	"testing"

	"github.com/desertthunder/spotauth/internal/shared"
)

// TestSessionStoreStorageErrors runs every operation against a closed handle.
func TestSessionStoreStorageErrors(t *testing.T) {
	ctx := context.Background()

	db, err := shared.NewDatabase(":memory:")
	if err != nil {
		t.Fatalf("failed to create database: %v", err)
	}
	if err := shared.RunMigrations(db); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}
	store := NewSessionStore(db)
	db.Close()

	tc := []struct {
		name string
		call func() error
	}{
		{"GetOrCreateUser", func() error {
			_, err := store.GetOrCreateUser(ctx, "spotify-1", "Ada", "ada@example.com")
			return err
		}},
		{"SaveSession", func() error {
			_, err := store.SaveSession(ctx, 1, "sid", "access", "refresh", 3600)
			return err
		}},
		{"GetSession", func() error {
			_, err := store.GetSession(ctx, "sid")
			return err
		}},
		{"UpdateAccessToken", func() error {
			_, err := store.UpdateAccessToken(ctx, "sid", "access", 3600)
			return err
		}},
		{"ApplyRefresh", func() error {
			_, err := store.ApplyRefresh(ctx, "sid", "access", "refresh", 3600)
			return err
		}},
		{"DeleteSession", func() error {
			_, err := store.DeleteSession(ctx, "sid")
			return err
		}},
		{"CleanupExpiredSessions", func() error {
			_, err := store.CleanupExpiredSessions(ctx)
			return err
		}},
		{"Stats", func() error {
			_, err := store.Stats(ctx)
			return err
		}},
	}

	for _, tt := range tc {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			if !errors.Is(err, shared.ErrStorage) {
				t.Errorf("expected ErrStorage, got %v", err)
			}
		})
	}
}

func TestSessionStoreCanceledContext(t *testing.T) {
	store := NewSessionStore(setupTestDB(t))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.GetSession(ctx, "sid")
	if !errors.Is(err, shared.ErrStorage) {
		t.Errorf("expected ErrStorage, got %v", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected wrapped context.Canceled, got %v", err)
	}
}
