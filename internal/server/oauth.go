package server

import (
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/spotauth/internal/shared"
)

// LoginHandler starts the authorization code flow.
//
// It stores a random state in the cookie session and redirects to the provider. The browser
// comes back to the configured redirect URI, which posts code and state to /api/auth/token.
type LoginHandler struct {
	authorizer Authorizer
	cookies    *sessionCookies
	logger     *log.Logger
}

// newLoginHandler creates a [LoginHandler] writing through cookies.
func newLoginHandler(authorizer Authorizer, cookies *sessionCookies, logger *log.Logger) *LoginHandler {
	return &LoginHandler{authorizer: authorizer, cookies: cookies, logger: logger}
}

func (h *LoginHandler) Routes() []string {
	return []string{"GET /login"}
}

func (h *LoginHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	state := shared.GenerateID()

	err := h.cookies.save(w, r, func(values map[any]any) {
		values[stateKey] = state
	})
	if err != nil {
		h.logger.Error("failed to store oauth state", "error", err)
		http.Error(w, "Failed to start login", http.StatusInternalServerError)
		return
	}

	http.Redirect(w, r, h.authorizer.AuthURL(state), http.StatusFound)
}
