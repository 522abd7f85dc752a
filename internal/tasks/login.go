package tasks

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/spotauth/internal/models"
	"github.com/desertthunder/spotauth/internal/services"
	"github.com/desertthunder/spotauth/internal/shared"
)

// LoginResult is the state created by a successful login.
type LoginResult struct {
	User      *models.User
	Session   *models.Session
	ExpiresIn int64 // as granted by the provider
}

// LoginFlow turns an authorization code into a stored session.
type LoginFlow struct {
	store     LoginStore
	exchanger services.TokenExchanger
	profiles  services.ProfileFetcher
	logger    *log.Logger
}

// NewLoginFlow creates a login flow. The Spotify service usually serves as both exchanger and
// profile fetcher.
func NewLoginFlow(store LoginStore, exchanger services.TokenExchanger, profiles services.ProfileFetcher, logger *log.Logger) *LoginFlow {
	if logger == nil {
		logger = log.Default()
	}
	return &LoginFlow{
		store:     store,
		exchanger: exchanger,
		profiles:  profiles,
		logger:    shared.WithLogger(logger, "component", "login"),
	}
}

// Login exchanges code, resolves the profile, upserts the user and saves the session under
// sessionID, replacing any tokens the session held before.
//
// The code is spent on the first exchange attempt whether or not later steps succeed.
func (f *LoginFlow) Login(ctx context.Context, sessionID, code string) (*LoginResult, error) {
	if code == "" {
		return nil, fmt.Errorf("%w: authorization code", shared.ErrMissingArgument)
	}
	if sessionID == "" {
		return nil, fmt.Errorf("%w: session id", shared.ErrMissingArgument)
	}

	grant, err := f.exchanger.ExchangeCode(ctx, code)
	if err != nil {
		return nil, err
	}

	profile, err := f.profiles.UserProfile(ctx, grant.AccessToken)
	if err != nil {
		return nil, err
	}

	user, err := f.store.GetOrCreateUser(ctx, profile.ID, profile.DisplayName, profile.Email)
	if err != nil {
		return nil, err
	}

	session, err := f.store.SaveSession(ctx, user.ID, sessionID, grant.AccessToken, grant.RefreshToken, grant.ExpiresIn)
	if err != nil {
		return nil, err
	}

	f.logger.Info("user logged in",
		"user", user.ProviderID,
		"session", shared.RedactToken(sessionID),
		"refreshable", session.CanRefresh(),
	)

	return &LoginResult{User: user, Session: session, ExpiresIn: grant.ExpiresIn}, nil
}
