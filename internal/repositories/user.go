package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/desertthunder/spotauth/internal/models"
	"github.com/desertthunder/spotauth/internal/shared"
)

// GetOrCreateUser returns the user for providerID, creating it on first sight.
//
// An existing user gets displayName and email overwritten in place. The upsert is a single
// statement on the provider_id unique key, so concurrent logins for the same identity converge
// on one row with the last writer's attributes.
func (s *SessionStore) GetOrCreateUser(ctx context.Context, providerID, displayName, email string) (*models.User, error) {
	user := &models.User{ProviderID: providerID, DisplayName: displayName, Email: email}
	if err := user.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrInvalidInput, err)
	}

	now := s.now().UTC()
	query := `
		INSERT INTO users (provider_id, display_name, email, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(provider_id) DO UPDATE SET
			display_name = excluded.display_name,
			email = excluded.email,
			updated_at = excluded.updated_at
	`

	if _, err := s.db.ExecContext(ctx, query, providerID, displayName, email, now, now); err != nil {
		return nil, storageErr("failed to upsert user", err)
	}

	return s.userByProviderID(ctx, providerID)
}

// GetUser retrieves a user by store ID.
func (s *SessionStore) GetUser(ctx context.Context, id int64) (*models.User, error) {
	query := `
		SELECT id, provider_id, display_name, email, created_at, updated_at
		FROM users
		WHERE id = ?
	`
	return s.scanUser(s.db.QueryRowContext(ctx, query, id))
}

func (s *SessionStore) userByProviderID(ctx context.Context, providerID string) (*models.User, error) {
	query := `
		SELECT id, provider_id, display_name, email, created_at, updated_at
		FROM users
		WHERE provider_id = ?
	`
	return s.scanUser(s.db.QueryRowContext(ctx, query, providerID))
}

func (s *SessionStore) scanUser(row *sql.Row) (*models.User, error) {
	var user models.User
	err := row.Scan(&user.ID, &user.ProviderID, &user.DisplayName, &user.Email, &user.CreatedAt, &user.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, shared.ErrUserNotFound
	}
	if err != nil {
		return nil, storageErr("failed to query user", err)
	}
	return &user, nil
}
