// Spotify implementation of [TokenExchanger] and [ProfileFetcher]
//
// Spotify API response types based on https://developer.spotify.com/documentation/web-api/reference/
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/desertthunder/spotauth/internal/shared"
	"golang.org/x/oauth2"
)

const (
	spotifyAuthURL  = "https://accounts.spotify.com/authorize"
	spotifyTokenURL = "https://accounts.spotify.com/api/token"
	spotifyBaseURL  = "https://api.spotify.com/v1"

	defaultTimeout = 10 * time.Second
	// Spotify access tokens live for an hour; used when the token response omits expires_in.
	defaultExpiresIn = 3600
	maxDetailBytes   = 4096
)

var defaultScopes = []string{
	"user-read-private",
	"user-read-email",
	"user-read-playback-state",
	"user-top-read",
}

// SpotifyUser is the part of the /me profile the broker stores.
type SpotifyUser struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
}

// UpstreamError describes a failed call to the provider.
//
// Kind is [shared.ErrUpstreamRejected] or [shared.ErrUpstreamUnavailable]; errors.Is matches both
// Kind and the underlying cause.
type UpstreamError struct {
	Kind       error
	Op         string
	StatusCode int
	Detail     string
	Err        error
}

func (e *UpstreamError) Error() string {
	msg := fmt.Sprintf("%s: %v", e.Op, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *UpstreamError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// SpotifyService exchanges codes and refresh tokens with Spotify's accounts service and reads
// the current user's profile from the Web API.
type SpotifyService struct {
	config     *oauth2.Config
	httpClient *http.Client
	baseURL    string
	timeout    time.Duration
	now        func() time.Time
}

// NewSpotifyService creates a new Spotify service from the configured OAuth client.
//
// Endpoints and timeout fall back to Spotify's production values when unset. A nil client
// uses a fresh [http.Client] bounded by the timeout.
func NewSpotifyService(cfg shared.SpotifyConfig, client *http.Client) (*SpotifyService, error) {
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("%w: missing client_id", shared.ErrMissingCredentials)
	}
	if cfg.ClientSecret == "" {
		return nil, fmt.Errorf("%w: missing client_secret", shared.ErrMissingCredentials)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = defaultScopes
	}

	config := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURI,
		Scopes:       scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   orDefault(cfg.AuthURL, spotifyAuthURL),
			TokenURL:  orDefault(cfg.TokenURL, spotifyTokenURL),
			AuthStyle: oauth2.AuthStyleInHeader,
		},
	}

	return &SpotifyService{
		config:     config,
		httpClient: client,
		baseURL:    strings.TrimSuffix(orDefault(cfg.APIBaseURL, spotifyBaseURL), "/"),
		timeout:    timeout,
		now:        time.Now,
	}, nil
}

// AuthURL returns the authorization URL the browser is sent to, always showing the consent dialog.
func (s *SpotifyService) AuthURL(state string) string {
	return s.config.AuthCodeURL(state, oauth2.SetAuthURLParam("show_dialog", "true"))
}

// ExchangeCode trades an authorization code for tokens.
//
// Codes are single-use upstream; a replayed code comes back as [shared.ErrUpstreamRejected].
func (s *SpotifyService) ExchangeCode(ctx context.Context, code string) (*TokenGrant, error) {
	if code == "" {
		return nil, fmt.Errorf("%w: authorization code", shared.ErrMissingArgument)
	}

	ctx, cancel := s.upstreamContext(ctx)
	defer cancel()

	token, err := s.config.Exchange(ctx, code)
	if err != nil {
		return nil, classify("exchange authorization code", err)
	}

	return s.grant(token), nil
}

// ExchangeRefreshToken mints a new access token from refreshToken.
func (s *SpotifyService) ExchangeRefreshToken(ctx context.Context, refreshToken string) (*TokenGrant, error) {
	if refreshToken == "" {
		return nil, fmt.Errorf("%w: refresh token", shared.ErrMissingArgument)
	}

	ctx, cancel := s.upstreamContext(ctx)
	defer cancel()

	source := s.config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	token, err := source.Token()
	if err != nil {
		return nil, classify("refresh access token", err)
	}

	grant := s.grant(token)
	if grant.RefreshToken == "" {
		grant.RefreshToken = refreshToken
	}
	return grant, nil
}

// UserProfile retrieves the profile of the user who owns accessToken.
func (s *SpotifyService) UserProfile(ctx context.Context, accessToken string) (*SpotifyUser, error) {
	ctx, cancel := s.upstreamContext(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/me", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, &UpstreamError{Kind: shared.ErrUpstreamUnavailable, Op: "fetch user profile", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxDetailBytes))
		return nil, &UpstreamError{
			Kind:       kindForStatus(resp.StatusCode),
			Op:         "fetch user profile",
			StatusCode: resp.StatusCode,
			Detail:     string(body),
		}
	}

	var user SpotifyUser
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, &UpstreamError{Kind: shared.ErrUpstreamUnavailable, Op: "decode user profile", Err: err}
	}
	if user.ID == "" {
		return nil, &UpstreamError{Kind: shared.ErrUpstreamUnavailable, Op: "decode user profile", Detail: "profile has no id"}
	}

	return &user, nil
}

// upstreamContext bounds a call by the service timeout and routes oauth2 through our client.
func (s *SpotifyService) upstreamContext(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, s.httpClient)
	return context.WithTimeout(ctx, s.timeout)
}

// grant converts an oauth2 token, preferring the wire expires_in over the derived expiry.
func (s *SpotifyService) grant(token *oauth2.Token) *TokenGrant {
	grant := &TokenGrant{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresIn:    defaultExpiresIn,
	}

	if v, ok := expiresInExtra(token.Extra("expires_in")); ok {
		grant.ExpiresIn = v
	} else if !token.Expiry.IsZero() {
		grant.ExpiresIn = int64(token.Expiry.Sub(s.now()).Round(time.Second) / time.Second)
	}

	return grant
}

func expiresInExtra(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), n > 0
	case int64:
		return n, n > 0
	case json.Number:
		i, err := n.Int64()
		return i, err == nil && i > 0
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		return i, err == nil && i > 0
	}
	return 0, false
}

// classify maps an oauth2 failure onto the upstream taxonomy.
func classify(op string, err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
		detail := string(retrieveErr.Body)
		if len(detail) > maxDetailBytes {
			detail = detail[:maxDetailBytes]
		}
		return &UpstreamError{
			Kind:       kindForStatus(retrieveErr.Response.StatusCode),
			Op:         op,
			StatusCode: retrieveErr.Response.StatusCode,
			Detail:     detail,
			Err:        err,
		}
	}

	return &UpstreamError{Kind: shared.ErrUpstreamUnavailable, Op: op, Err: err}
}

func kindForStatus(code int) error {
	if code >= 400 && code < 500 && code != http.StatusTooManyRequests {
		return shared.ErrUpstreamRejected
	}
	return shared.ErrUpstreamUnavailable
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
