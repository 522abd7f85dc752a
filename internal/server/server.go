// package server contains the HTTP surface of the session broker
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/spotauth/internal/models"
	"github.com/desertthunder/spotauth/internal/tasks"
	"github.com/gorilla/sessions"
)

// Middleware wraps an http.Handler and returns a new http.Handler with additional behavior.
type Middleware func(http.Handler) http.Handler

// Handler is an [http.Handler] that knows its own route patterns.
//
// Patterns use [http.ServeMux] syntax and may carry a method, e.g. "POST /api/auth/token".
type Handler interface {
	http.Handler
	Routes() []string
}

// Router registers handlers behind a shared middleware stack.
type Router interface {
	Use(middleware ...Middleware)
	Handle(method, path string, handler http.Handler, middleware ...Middleware)
	Handler(handler Handler, middleware ...Middleware)
	ServeHTTP(w http.ResponseWriter, r *http.Request)
}

// Loginer turns an authorization code into a stored session.
type Loginer interface {
	Login(ctx context.Context, sessionID, code string) (*tasks.LoginResult, error)
}

// Refresher hands out a valid access token for a session.
type Refresher interface {
	Refresh(ctx context.Context, sessionID string) (*tasks.AccessToken, error)
}

// SessionReader reads and removes stored sessions.
type SessionReader interface {
	GetSession(ctx context.Context, sessionID string) (*models.Session, error)
	DeleteSession(ctx context.Context, sessionID string) (int64, error)
}

// Authorizer builds the provider authorization URL for a state value.
type Authorizer interface {
	AuthURL(state string) string
}

// Options wires the handlers to their collaborators.
type Options struct {
	Logins     Loginer
	Refresher  Refresher
	Sessions   SessionReader
	Authorizer Authorizer

	Cookies      sessions.Store
	CookieName   string
	CookieMaxAge time.Duration

	RateLimit float64 // requests per second per client on /api/auth/*; zero disables limiting
	RateBurst int

	Logger *log.Logger
}

// New builds the broker's router.
func New(opts Options) *BasicRouter {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	cookies := &sessionCookies{maxAge: opts.CookieMaxAge}

	router := NewBasicRouter()
	router.Use(RequestLogger(logger), SessionMiddleware(opts.Cookies, opts.CookieName, logger))

	router.Handle(http.MethodGet, "/health", http.HandlerFunc(health))
	router.Handler(newLoginHandler(opts.Authorizer, cookies, logger))
	router.Handler(NewUserHandler(opts.Sessions, logger))
	router.Handler(
		newAuthHandler(opts.Logins, opts.Refresher, opts.Sessions, cookies, logger),
		RateLimit(opts.RateLimit, opts.RateBurst, logger),
	)

	return router
}

func health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
