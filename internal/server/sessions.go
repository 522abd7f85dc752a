package server

import (
	"context"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/spotauth/internal/shared"
	"github.com/gorilla/sessions"
)

const (
	sessionIDKey = "sid"
	stateKey     = "state"
)

type sessionContextKey struct{}

// NewCookieStore creates the signed cookie store that carries the session id.
//
// Cookies are HttpOnly, SameSite=Lax and scoped to "/".
func NewCookieStore(secret []byte, maxAge time.Duration, secure bool) *sessions.CookieStore {
	store := sessions.NewCookieStore(secret)
	store.MaxAge(int(maxAge / time.Second))
	store.Options.Path = "/"
	store.Options.HttpOnly = true
	store.Options.Secure = secure
	store.Options.SameSite = http.SameSiteLaxMode
	return store
}

// SessionMiddleware loads the cookie session and makes sure it carries a session id.
//
// A fresh id is generated for requests without one, but the cookie is only written once a
// handler saves the session. Unreadable cookies are replaced by a new session.
func SessionMiddleware(store sessions.Store, name string, logger *log.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			session, err := store.Get(r, name)
			if err != nil {
				logger.Debug("discarding unreadable session cookie", "error", err)
			}
			if session == nil {
				session = sessions.NewSession(store, name)
			}

			if sid, _ := session.Values[sessionIDKey].(string); sid == "" {
				session.Values[sessionIDKey] = shared.GenerateID()
			}

			ctx := context.WithValue(r.Context(), sessionContextKey{}, session)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// SessionID returns the session id injected by [SessionMiddleware], or "" outside of it.
func SessionID(ctx context.Context) string {
	session := sessionFrom(ctx)
	if session == nil {
		return ""
	}
	sid, _ := session.Values[sessionIDKey].(string)
	return sid
}

func sessionFrom(ctx context.Context) *sessions.Session {
	session, _ := ctx.Value(sessionContextKey{}).(*sessions.Session)
	return session
}

// sessionCookies writes the cookie session on behalf of handlers.
type sessionCookies struct {
	maxAge time.Duration
}

// save applies set to the request's session and writes the cookie.
func (c *sessionCookies) save(w http.ResponseWriter, r *http.Request, set func(values map[any]any)) error {
	session := sessionFrom(r.Context())
	if session == nil {
		return shared.ErrSessionNotFound
	}

	if set != nil {
		set(session.Values)
	}
	if c.maxAge > 0 {
		session.Options.MaxAge = int(c.maxAge / time.Second)
	}
	return session.Save(r, w)
}

// destroy expires the cookie.
func (c *sessionCookies) destroy(w http.ResponseWriter, r *http.Request) error {
	session := sessionFrom(r.Context())
	if session == nil {
		return nil
	}

	session.Options.MaxAge = -1
	return session.Save(r, w)
}
