package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/spotauth/internal/services"
	"github.com/desertthunder/spotauth/internal/shared"
)

const maxBodyBytes = 1 << 16

// AuthHandler serves the token lifecycle endpoints under /api/auth.
type AuthHandler struct {
	logins    Loginer
	refresher Refresher
	sessions  SessionReader
	cookies   *sessionCookies
	logger    *log.Logger
}

// newAuthHandler creates an [AuthHandler] writing through cookies.
func newAuthHandler(logins Loginer, refresher Refresher, sessions SessionReader, cookies *sessionCookies, logger *log.Logger) *AuthHandler {
	return &AuthHandler{
		logins:    logins,
		refresher: refresher,
		sessions:  sessions,
		cookies:   cookies,
		logger:    logger,
	}
}

func (h *AuthHandler) Routes() []string {
	return []string{
		"POST /api/auth/token",
		"POST /api/auth/refresh",
		"POST /api/auth/logout",
	}
}

func (h *AuthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/api/auth/token":
		h.token(w, r)
	case "/api/auth/refresh":
		h.refresh(w, r)
	case "/api/auth/logout":
		h.logout(w, r)
	default:
		http.NotFound(w, r)
	}
}

type tokenRequest struct {
	Code  string `json:"code"`
	State string `json:"state"`
}

// token exchanges an authorization code and binds the result to the caller's session.
//
// A state value in the body must match the one stored by /login.
func (h *AuthHandler) token(w http.ResponseWriter, r *http.Request) {
	req, err := decodeTokenRequest(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Code == "" {
		writeError(w, http.StatusBadRequest, "Authorization code is required")
		return
	}

	if req.State != "" && req.State != storedState(r) {
		h.logger.Warn("state mismatch on token exchange")
		writeError(w, http.StatusBadRequest, "State mismatch")
		return
	}

	// Every login binds a fresh id; the one the request arrived with is dropped.
	previous := SessionID(r.Context())
	sid := shared.GenerateID()

	result, err := h.logins.Login(r.Context(), sid, req.Code)
	if err != nil {
		h.logger.Error("token exchange failed", "error", err)
		writeErrorDetails(w, http.StatusInternalServerError, "Failed to exchange authorization code", errorDetails(err))
		return
	}

	err = h.cookies.save(w, r, func(values map[any]any) {
		delete(values, stateKey)
		values[sessionIDKey] = sid
	})
	if err != nil {
		h.logger.Error("failed to write session cookie", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to save session")
		return
	}

	if previous != "" {
		if _, err := h.sessions.DeleteSession(r.Context(), previous); err != nil {
			h.logger.Warn("failed to drop previous session", "error", err)
		}
	}

	writeJSON(w, http.StatusOK, tokenResponse{
		Success:     true,
		AccessToken: result.Session.AccessToken,
		ExpiresIn:   result.ExpiresIn,
	})
}

// refresh returns a valid access token for the caller's session, refreshing it when expired.
func (h *AuthHandler) refresh(w http.ResponseWriter, r *http.Request) {
	token, err := h.refresher.Refresh(r.Context(), SessionID(r.Context()))
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, tokenResponse{
			Success:     true,
			AccessToken: token.Token,
			ExpiresIn:   token.ExpiresIn,
		})
	case errors.Is(err, shared.ErrSessionNotFound), errors.Is(err, shared.ErrReauthenticationRequired):
		writeError(w, http.StatusUnauthorized, "No valid session found")
	case errors.Is(err, context.Canceled):
		h.logger.Debug("client went away during refresh")
	default:
		h.logger.Error("token refresh failed", "error", err)
		writeErrorDetails(w, http.StatusInternalServerError, "Failed to refresh token", errorDetails(err))
	}
}

// logout deletes the stored session and expires the cookie. Logging out without a session succeeds.
func (h *AuthHandler) logout(w http.ResponseWriter, r *http.Request) {
	if _, err := h.sessions.DeleteSession(r.Context(), SessionID(r.Context())); err != nil {
		h.logger.Error("logout failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to logout")
		return
	}

	if err := h.cookies.destroy(w, r); err != nil {
		h.logger.Warn("failed to expire session cookie", "error", err)
	}

	writeJSON(w, http.StatusOK, messageResponse{Success: true, Message: "Logged out successfully"})
}

// UserHandler serves the profile attached to the caller's session.
type UserHandler struct {
	sessions SessionReader
	logger   *log.Logger
}

// NewUserHandler creates a [UserHandler].
func NewUserHandler(sessions SessionReader, logger *log.Logger) *UserHandler {
	return &UserHandler{sessions: sessions, logger: logger}
}

func (h *UserHandler) Routes() []string {
	return []string{"GET /api/user"}
}

func (h *UserHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	session, err := h.sessions.GetSession(r.Context(), SessionID(r.Context()))
	if errors.Is(err, shared.ErrSessionNotFound) {
		writeError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}
	if err != nil {
		h.logger.Error("failed to load user", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to get user info")
		return
	}

	writeJSON(w, http.StatusOK, userResponse{
		SpotifyID:   session.ProviderID,
		DisplayName: session.DisplayName,
		Email:       session.Email,
	})
}

// decodeTokenRequest accepts JSON and form-encoded bodies.
func decodeTokenRequest(w http.ResponseWriter, r *http.Request) (*tokenRequest, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/x-www-form-urlencoded", "multipart/form-data":
		if err := r.ParseForm(); err != nil {
			return nil, err
		}
		return &tokenRequest{Code: r.PostFormValue("code"), State: r.PostFormValue("state")}, nil
	}

	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return &req, nil
}

func storedState(r *http.Request) string {
	session := sessionFrom(r.Context())
	if session == nil {
		return ""
	}
	state, _ := session.Values[stateKey].(string)
	return state
}

// errorDetails picks what callers may see about a failure. Storage errors stay generic.
func errorDetails(err error) any {
	var upstream *services.UpstreamError
	switch {
	case errors.As(err, &upstream):
		if upstream.Detail != "" {
			if json.Valid([]byte(upstream.Detail)) {
				return json.RawMessage(upstream.Detail)
			}
			return upstream.Detail
		}
		return upstream.Kind.Error()
	case errors.Is(err, shared.ErrStorage):
		return "storage failure"
	default:
		return err.Error()
	}
}
