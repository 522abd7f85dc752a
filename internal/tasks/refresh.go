package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/spotauth/internal/services"
	"github.com/desertthunder/spotauth/internal/shared"
	"golang.org/x/sync/singleflight"
)

// DefaultRefreshTimeout bounds one shared refresh, store reads and writes included.
const DefaultRefreshTimeout = 15 * time.Second

// RefreshCoordinator hands out valid access tokens for a session, refreshing them upstream when
// they have expired.
type RefreshCoordinator struct {
	store     RefreshStore
	exchanger services.TokenExchanger
	logger    *log.Logger
	group     singleflight.Group
	timeout   time.Duration
	now       func() time.Time
}

// NewRefreshCoordinator creates a coordinator over store and exchanger.
func NewRefreshCoordinator(store RefreshStore, exchanger services.TokenExchanger, logger *log.Logger) *RefreshCoordinator {
	if logger == nil {
		logger = log.Default()
	}
	return &RefreshCoordinator{
		store:     store,
		exchanger: exchanger,
		logger:    shared.WithLogger(logger, "component", "refresh"),
		timeout:   DefaultRefreshTimeout,
		now:       time.Now,
	}
}

// WithClock replaces the coordinator's time source and returns the coordinator.
func (c *RefreshCoordinator) WithClock(now func() time.Time) *RefreshCoordinator {
	c.now = now
	return c
}

// WithTimeout sets the bound on a shared refresh. Non-positive values are ignored.
func (c *RefreshCoordinator) WithTimeout(d time.Duration) *RefreshCoordinator {
	if d > 0 {
		c.timeout = d
	}
	return c
}

// Refresh returns a usable access token for sessionID.
//
// Errors:
//   - [shared.ErrSessionNotFound] when no session exists
//   - [shared.ErrReauthenticationRequired] when the token expired and cannot be renewed, or the
//     provider rejected the refresh token (the session is deleted in that case)
//   - [shared.ErrUpstreamUnavailable] when the provider could not be reached; the session is kept
//   - [shared.ErrStorage] on store failures
//
// Concurrent calls for the same session share one in-flight operation. The caller stops waiting
// when ctx ends; the shared operation keeps running for the others.
func (c *RefreshCoordinator) Refresh(ctx context.Context, sessionID string) (*AccessToken, error) {
	if sessionID == "" {
		return nil, shared.ErrSessionNotFound
	}

	flight := c.group.DoChan(sessionID, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()
		return c.refresh(fctx, sessionID)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-flight:
		if res.Err != nil {
			return nil, res.Err
		}
		token := *res.Val.(*AccessToken)
		return &token, nil
	}
}

func (c *RefreshCoordinator) refresh(ctx context.Context, sessionID string) (*AccessToken, error) {
	logger := c.logger.With("session", shared.RedactToken(sessionID))

	session, err := c.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	now := c.now()
	if !session.Expired(now) {
		return accessTokenFor(session, now, Cached), nil
	}

	if !session.CanRefresh() {
		logger.Debug("session expired without refresh token", "outcome", Unrefreshable)
		return nil, fmt.Errorf("%w: session expired and has no refresh token", shared.ErrReauthenticationRequired)
	}

	grant, err := c.exchanger.ExchangeRefreshToken(ctx, session.RefreshToken)
	if errors.Is(err, shared.ErrUpstreamRejected) {
		logger.Warn("refresh token rejected, dropping session", "outcome", Revoked, "error", err)
		if _, delErr := c.store.DeleteSession(ctx, sessionID); delErr != nil {
			logger.Error("failed to delete revoked session", "error", delErr)
		}
		return nil, fmt.Errorf("%w: %w", shared.ErrReauthenticationRequired, err)
	}
	if err != nil {
		logger.Error("refresh failed", "outcome", Failed, "error", err)
		return nil, err
	}

	rotated := ""
	if grant.RefreshToken != "" && grant.RefreshToken != session.RefreshToken {
		rotated = grant.RefreshToken
	}

	rows, err := c.store.ApplyRefresh(ctx, sessionID, grant.AccessToken, rotated, grant.ExpiresIn)
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		// Logged out while the refresh was in flight.
		return nil, shared.ErrSessionNotFound
	}
	if rotated != "" {
		logger.Debug("stored rotated refresh token")
	}

	updated, err := c.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	logger.Info("access token refreshed", "outcome", Refreshed, "expires_in", grant.ExpiresIn)

	token := accessTokenFor(updated, c.now(), Refreshed)
	token.ExpiresIn = grant.ExpiresIn
	return token, nil
}
