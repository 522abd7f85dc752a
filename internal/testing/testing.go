// package testing contains shared testing utilities
package testing

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/desertthunder/spotauth/internal/shared"
)

const (
	FakeClientID     = "test_client_id"
	FakeClientSecret = "test_client_secret"
)

// Grant is a canned token endpoint response.
type Grant struct {
	AccessToken  string
	RefreshToken string // omitted from the response when empty
	ExpiresIn    int64
}

// Profile is a canned /me response.
type Profile struct {
	ID          string
	DisplayName string
	Email       string
}

// FakeSpotify is an httptest server standing in for accounts.spotify.com and api.spotify.com.
//
// Codes are single-use. Refresh tokens map to the grant returned for them. Status overrides
// force the token or profile endpoint to fail with the given code.
type FakeSpotify struct {
	Server *httptest.Server

	mu            sync.Mutex
	codes         map[string]Grant
	refreshTokens map[string]Grant
	profiles      map[string]Profile
	tokenStatus   int
	profileStatus int
	refreshDelay  time.Duration

	CodeCalls    atomic.Int64
	RefreshCalls atomic.Int64
	ProfileCalls atomic.Int64
}

// NewFakeSpotify starts a fake provider closed at test cleanup.
func NewFakeSpotify(t *testing.T) *FakeSpotify {
	t.Helper()

	f := &FakeSpotify{
		codes:         make(map[string]Grant),
		refreshTokens: make(map[string]Grant),
		profiles:      make(map[string]Profile),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/token", f.handleToken)
	mux.HandleFunc("/v1/me", f.handleProfile)
	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Server.Close)

	return f
}

// Config returns Spotify settings pointing at the fake server.
func (f *FakeSpotify) Config() shared.SpotifyConfig {
	return shared.SpotifyConfig{
		ClientID:     FakeClientID,
		ClientSecret: FakeClientSecret,
		RedirectURI:  "http://127.0.0.1:8888/logged",
		AuthURL:      f.Server.URL + "/authorize",
		TokenURL:     f.Server.URL + "/api/token",
		APIBaseURL:   f.Server.URL + "/v1",
		Timeout:      2 * time.Second,
	}
}

// AddCode registers a single-use authorization code.
func (f *FakeSpotify) AddCode(code string, grant Grant) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.codes[code] = grant
}

// AddRefreshToken registers the grant minted for refreshToken.
func (f *FakeSpotify) AddRefreshToken(refreshToken string, grant Grant) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshTokens[refreshToken] = grant
}

// AddProfile registers the profile returned for accessToken.
func (f *FakeSpotify) AddProfile(accessToken string, profile Profile) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.profiles[accessToken] = profile
}

// FailToken forces the token endpoint to answer with status (0 clears it).
func (f *FakeSpotify) FailToken(status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokenStatus = status
}

// FailProfile forces the profile endpoint to answer with status (0 clears it).
func (f *FakeSpotify) FailProfile(status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.profileStatus = status
}

// SlowRefresh delays every refresh_token grant by d.
func (f *FakeSpotify) SlowRefresh(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshDelay = d
}

func (f *FakeSpotify) handleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id, secret, ok := r.BasicAuth()
	if !ok || id != FakeClientID || secret != FakeClientSecret {
		writeOAuthError(w, http.StatusUnauthorized, "invalid_client")
		return
	}

	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	f.mu.Lock()
	status, delay := f.tokenStatus, f.refreshDelay
	f.mu.Unlock()

	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		f.CodeCalls.Add(1)
		if status != 0 {
			writeOAuthError(w, status, "server_error")
			return
		}

		f.mu.Lock()
		grant, found := f.codes[r.PostForm.Get("code")]
		delete(f.codes, r.PostForm.Get("code"))
		f.mu.Unlock()

		if !found {
			writeOAuthError(w, http.StatusBadRequest, "invalid_grant")
			return
		}
		writeGrant(w, grant)

	case "refresh_token":
		f.RefreshCalls.Add(1)
		if delay > 0 {
			time.Sleep(delay)
		}
		if status != 0 {
			writeOAuthError(w, status, "server_error")
			return
		}

		f.mu.Lock()
		grant, found := f.refreshTokens[r.PostForm.Get("refresh_token")]
		f.mu.Unlock()

		if !found {
			writeOAuthError(w, http.StatusBadRequest, "invalid_grant")
			return
		}
		writeGrant(w, grant)

	default:
		writeOAuthError(w, http.StatusBadRequest, "unsupported_grant_type")
	}
}

func (f *FakeSpotify) handleProfile(w http.ResponseWriter, r *http.Request) {
	f.ProfileCalls.Add(1)

	f.mu.Lock()
	status := f.profileStatus
	profile, found := f.profiles[strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")]
	f.mu.Unlock()

	if status != 0 {
		http.Error(w, `{"error":{"status":500,"message":"forced"}}`, status)
		return
	}
	if !found {
		http.Error(w, `{"error":{"status":401,"message":"Invalid access token"}}`, http.StatusUnauthorized)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"id":           profile.ID,
		"display_name": profile.DisplayName,
		"email":        profile.Email,
	})
}

func writeGrant(w http.ResponseWriter, grant Grant) {
	body := map[string]any{
		"access_token": grant.AccessToken,
		"token_type":   "Bearer",
		"expires_in":   grant.ExpiresIn,
		"scope":        "user-read-private user-read-email",
	}
	if grant.RefreshToken != "" {
		body["refresh_token"] = grant.RefreshToken
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(body)
}

func writeOAuthError(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": code, "error_description": code})
}

// FWriter always returns an error on Write
type FWriter struct{}

func (f *FWriter) Write(p []byte) (n int, err error) {
	return 0, errors.New("write failed")
}

// LimitedWriter fails after a certain number of writes
type LimitedWriter struct {
	maxWrites int
	written   int
	target    io.Writer
}

func (l *LimitedWriter) Write(p []byte) (n int, err error) {
	if l.written >= l.maxWrites {
		return 0, errors.New("write limit exceeded")
	}
	l.written++
	return l.target.Write(p)
}

func NewLimitedWriter(maxWrites int, target io.Writer) *LimitedWriter {
	return &LimitedWriter{maxWrites: maxWrites, target: target}
}

// MockRoundTripper allows custom HTTP responses for testing
type MockRoundTripper struct {
	response *http.Response
	err      error
}

func NewMockRoundTripper(r *http.Response, e error) *MockRoundTripper {
	return &MockRoundTripper{response: r, err: e}
}

func (m *MockRoundTripper) RoundTrip(*http.Request) (*http.Response, error) {
	return m.response, m.err
}
