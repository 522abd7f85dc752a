package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/spotauth/internal/models"
	"github.com/desertthunder/spotauth/internal/shared"
)

// SessionStore persists [models.User] and [models.Session] rows.
//
// It holds an injected *sql.DB and never owns its lifecycle; the process closes the handle on shutdown.
type SessionStore struct {
	db  *sql.DB
	now Clock
}

// NewSessionStore creates a new [SessionStore] with the given database connection
func NewSessionStore(db *sql.DB) *SessionStore {
	return &SessionStore{db: db, now: time.Now}
}

// WithClock replaces the store's time source and returns the store.
func (s *SessionStore) WithClock(now Clock) *SessionStore {
	s.now = now
	return s
}

// SaveSession stores token state for sessionID with expiresAt = now + expiresIn seconds.
//
// An existing row with the same session id is updated in place (its row id is kept).
// An empty refreshToken is stored as NULL.
func (s *SessionStore) SaveSession(ctx context.Context, userID int64, sessionID, accessToken, refreshToken string, expiresIn int64) (*models.Session, error) {
	now := s.now()
	session := &models.Session{
		UserID:       userID,
		SessionID:    sessionID,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    expiryFromNow(now, expiresIn),
	}
	if err := session.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrInvalidInput, err)
	}

	query := `
		INSERT INTO sessions (user_id, session_id, access_token, refresh_token, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			user_id = excluded.user_id,
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			expires_at = excluded.expires_at
	`

	_, err := s.db.ExecContext(ctx, query,
		userID, sessionID, accessToken, nullable(refreshToken), session.ExpiresAt.UnixMilli(), now.UTC(),
	)
	if err != nil {
		return nil, storageErr("failed to save session", err)
	}

	return s.GetSession(ctx, sessionID)
}

// GetSession returns the session joined with its owner's provider identity.
//
// Returns [shared.ErrSessionNotFound] when no row exists. Expiry is not checked here.
func (s *SessionStore) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	query := `
		SELECT s.id, s.user_id, s.session_id, s.access_token, s.refresh_token, s.expires_at, s.created_at,
			u.provider_id, u.display_name, u.email
		FROM sessions s
		JOIN users u ON s.user_id = u.id
		WHERE s.session_id = ?
	`

	var (
		session      models.Session
		refreshToken sql.NullString
		expiresAt    int64
	)

	err := s.db.QueryRowContext(ctx, query, sessionID).Scan(
		&session.ID, &session.UserID, &session.SessionID, &session.AccessToken, &refreshToken, &expiresAt, &session.CreatedAt,
		&session.ProviderID, &session.DisplayName, &session.Email,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, shared.ErrSessionNotFound
	}
	if err != nil {
		return nil, storageErr("failed to query session", err)
	}

	session.RefreshToken = refreshToken.String
	session.ExpiresAt = time.UnixMilli(expiresAt)

	return &session, nil
}

// UpdateAccessToken replaces the access token and its expiry in place.
//
// The refresh token and owner are left untouched. Returns the number of rows affected.
func (s *SessionStore) UpdateAccessToken(ctx context.Context, sessionID, accessToken string, expiresIn int64) (int64, error) {
	return s.ApplyRefresh(ctx, sessionID, accessToken, "", expiresIn)
}

// ApplyRefresh stores the result of a refresh grant in one statement: the access token, its
// expiry and, when refreshToken is non-empty, the rotated refresh token. An empty refreshToken
// keeps the stored one. Returns the number of rows affected.
func (s *SessionStore) ApplyRefresh(ctx context.Context, sessionID, accessToken, refreshToken string, expiresIn int64) (int64, error) {
	if accessToken == "" {
		return 0, fmt.Errorf("%w: access token is required", shared.ErrInvalidInput)
	}

	expiresAt := expiryFromNow(s.now(), expiresIn)
	query := `
		UPDATE sessions
		SET access_token = ?, expires_at = ?, refresh_token = COALESCE(?, refresh_token)
		WHERE session_id = ?
	`

	return s.exec(ctx, "failed to apply refresh", query, accessToken, expiresAt.UnixMilli(), nullable(refreshToken), sessionID)
}

// DeleteSession removes the session row. Deleting an absent session affects zero rows and is not an error.
func (s *SessionStore) DeleteSession(ctx context.Context, sessionID string) (int64, error) {
	return s.exec(ctx, "failed to delete session", `DELETE FROM sessions WHERE session_id = ?`, sessionID)
}

// CleanupExpiredSessions deletes every session whose expiry is strictly before now.
// Sessions expiring exactly now are kept.
func (s *SessionStore) CleanupExpiredSessions(ctx context.Context) (int64, error) {
	cutoff := s.now().UnixMilli()
	return s.exec(ctx, "failed to cleanup expired sessions", `DELETE FROM sessions WHERE expires_at < ?`, cutoff)
}

// Stats counts users, sessions and sessions already past expiry.
func (s *SessionStore) Stats(ctx context.Context) (*models.StoreStats, error) {
	query := `
		SELECT
			(SELECT COUNT(*) FROM users),
			(SELECT COUNT(*) FROM sessions),
			(SELECT COUNT(*) FROM sessions WHERE expires_at < ?)
	`

	var stats models.StoreStats
	err := s.db.QueryRowContext(ctx, query, s.now().UnixMilli()).Scan(&stats.Users, &stats.Sessions, &stats.ExpiredSessions)
	if err != nil {
		return nil, storageErr("failed to collect stats", err)
	}

	return &stats, nil
}

func (s *SessionStore) exec(ctx context.Context, op, query string, args ...any) (int64, error) {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, storageErr(op, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, storageErr("failed to get affected rows", err)
	}

	return rows, nil
}

func nullable(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}
