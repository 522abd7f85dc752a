package tasks

import (
	"context"
	"time"

	"github.com/desertthunder/spotauth/internal/models"
)

// RefreshStore is the slice of the session store the [RefreshCoordinator] needs.
type RefreshStore interface {
	GetSession(ctx context.Context, sessionID string) (*models.Session, error)
	ApplyRefresh(ctx context.Context, sessionID, accessToken, refreshToken string, expiresIn int64) (int64, error)
	DeleteSession(ctx context.Context, sessionID string) (int64, error)
}

// LoginStore is the slice of the session store the [LoginFlow] needs.
type LoginStore interface {
	GetOrCreateUser(ctx context.Context, providerID, displayName, email string) (*models.User, error)
	SaveSession(ctx context.Context, userID int64, sessionID, accessToken, refreshToken string, expiresIn int64) (*models.Session, error)
}

// ExpiredSessionCleaner deletes sessions past their expiry.
type ExpiredSessionCleaner interface {
	CleanupExpiredSessions(ctx context.Context) (int64, error)
}

// AccessToken is a usable access token and its lifetime.
type AccessToken struct {
	Token     string
	ExpiresAt time.Time
	ExpiresIn int64 // seconds left when handed out; the granted lifetime for a fresh refresh
	Outcome   Outcome
}

func accessTokenFor(session *models.Session, now time.Time, outcome Outcome) *AccessToken {
	return &AccessToken{
		Token:     session.AccessToken,
		ExpiresAt: session.ExpiresAt,
		ExpiresIn: session.ExpiresIn(now),
		Outcome:   outcome,
	}
}
