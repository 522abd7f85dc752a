// package client is a Go client for the broker's HTTP surface.
//
// [TokenCache] mirrors what the browser does: it keeps the session cookie, caches the access
// token with its absolute expiry, asks the broker for a fresh one when it lapses, and retries an
// upstream call once after a 401.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/spotauth/internal/shared"
)

const stateMismatchMessage = "State mismatch"

// APIError is a non-2xx answer from the broker.
type APIError struct {
	StatusCode int
	Message    string
	Details    json.RawMessage
}

func (e *APIError) Error() string {
	if len(e.Details) > 0 {
		return fmt.Sprintf("broker returned %d: %s: %s", e.StatusCode, e.Message, e.Details)
	}
	return fmt.Sprintf("broker returned %d: %s", e.StatusCode, e.Message)
}

// User is the profile attached to the current session.
type User struct {
	SpotifyID   string `json:"spotify_id"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
}

type tokenResponse struct {
	Success     bool   `json:"success"`
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

type errorResponse struct {
	Error   string          `json:"error"`
	Details json.RawMessage `json:"details"`
}

// TokenCache holds the access token for one broker session.
type TokenCache struct {
	baseURL string
	http    *http.Client
	logger  *log.Logger
	now     func() time.Time

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// NewTokenCache creates a cache talking to the broker at baseURL.
//
// A nil client, or one without a cookie jar, gets a fresh [cookiejar.Jar] so the session cookie
// survives between calls.
func NewTokenCache(baseURL string, client *http.Client, logger *log.Logger) (*TokenCache, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("%w: broker base URL", shared.ErrMissingArgument)
	}
	if logger == nil {
		logger = log.Default()
	}

	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if client.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create cookie jar: %w", err)
		}
		copied := *client
		copied.Jar = jar
		client = &copied
	}

	return &TokenCache{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    client,
		logger:  shared.WithLogger(logger, "component", "client"),
		now:     time.Now,
	}, nil
}

// WithClock replaces the cache's time source and returns the cache.
func (c *TokenCache) WithClock(now func() time.Time) *TokenCache {
	c.now = now
	return c
}

// Expiry returns the cached token's absolute expiry, zero when nothing is cached.
func (c *TokenCache) Expiry() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.expiresAt
}

// Login posts an authorization code to the broker and caches the resulting token.
func (c *TokenCache) Login(ctx context.Context, code string) (string, error) {
	return c.LoginWithState(ctx, code, "")
}

// LoginWithState is [TokenCache.Login] for codes obtained through the broker's /login redirect.
func (c *TokenCache) LoginWithState(ctx context.Context, code, state string) (string, error) {
	if code == "" {
		return "", fmt.Errorf("%w: authorization code", shared.ErrMissingArgument)
	}

	body, err := json.Marshal(map[string]string{"code": code, "state": state})
	if err != nil {
		return "", err
	}

	var resp tokenResponse
	if err := c.call(ctx, http.MethodPost, "/api/auth/token", body, &resp); err != nil {
		return "", err
	}

	c.store(resp)
	return resp.AccessToken, nil
}

// Token returns the cached access token while it is valid, otherwise asks the broker for one.
func (c *TokenCache) Token(ctx context.Context) (string, error) {
	c.mu.Lock()
	token, expiresAt := c.token, c.expiresAt
	c.mu.Unlock()

	if token != "" && c.now().Before(expiresAt) {
		return token, nil
	}
	return c.Refresh(ctx)
}

// Refresh asks the broker for a valid access token regardless of the cached one.
//
// A 401 from the broker clears the cache and returns [shared.ErrNotAuthenticated].
func (c *TokenCache) Refresh(ctx context.Context) (string, error) {
	var resp tokenResponse
	if err := c.call(ctx, http.MethodPost, "/api/auth/refresh", nil, &resp); err != nil {
		if errors.Is(err, shared.ErrNotAuthenticated) {
			c.Invalidate()
		}
		return "", err
	}

	c.store(resp)
	return resp.AccessToken, nil
}

// Invalidate drops the cached token.
func (c *TokenCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token, c.expiresAt = "", time.Time{}
}

// User returns the profile attached to the session.
func (c *TokenCache) User(ctx context.Context) (*User, error) {
	var user User
	if err := c.call(ctx, http.MethodGet, "/api/user", nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// Logout ends the broker session and clears the cache.
func (c *TokenCache) Logout(ctx context.Context) error {
	defer c.Invalidate()
	return c.call(ctx, http.MethodPost, "/api/auth/logout", nil, nil)
}

// Do calls an upstream API with the cached bearer token.
//
// On a 401 the token is invalidated, refreshed once and the call retried once. A second 401
// returns [shared.ErrNotAuthenticated]. Any other response is handed back to the caller, who
// must close its body.
func (c *TokenCache) Do(ctx context.Context, method, url string, body []byte) (*http.Response, error) {
	token, err := c.Token(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := c.send(ctx, method, url, body, token)
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}
	resp.Body.Close()

	c.logger.Debug("upstream rejected token, refreshing", "url", url)
	c.Invalidate()

	token, err = c.Refresh(ctx)
	if err != nil {
		return nil, err
	}

	resp, err = c.send(ctx, method, url, body, token)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		resp.Body.Close()
		c.Invalidate()
		return nil, fmt.Errorf("%w: upstream rejected refreshed token", shared.ErrNotAuthenticated)
	}
	return resp, nil
}

func (c *TokenCache) send(ctx context.Context, method, url string, body []byte, token string) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.http.Do(req)
}

func (c *TokenCache) store(resp tokenResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = resp.AccessToken
	c.expiresAt = c.now().Add(time.Duration(resp.ExpiresIn) * time.Second)
}

// call performs a broker request and decodes a 2xx JSON body into out.
func (c *TokenCache) call(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeError(resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	var body errorResponse
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err := json.Unmarshal(raw, &body); err != nil || body.Error == "" {
		body.Error = strings.TrimSpace(string(raw))
	}

	apiErr := &APIError{StatusCode: resp.StatusCode, Message: body.Error, Details: body.Details}
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return fmt.Errorf("%w: %w", shared.ErrNotAuthenticated, apiErr)
	case resp.StatusCode == http.StatusBadRequest && body.Error == stateMismatchMessage:
		return fmt.Errorf("%w: %w", shared.ErrStateMismatch, apiErr)
	case resp.StatusCode == http.StatusBadRequest:
		return fmt.Errorf("%w: %w", shared.ErrInvalidInput, apiErr)
	default:
		return apiErr
	}
}
