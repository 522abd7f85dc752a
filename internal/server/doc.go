// Package server provides the broker's HTTP surface: routing, middleware and the auth handlers.
//
// # Router Infrastructure
//
// The [Router] interface defines HTTP routing with middleware support. [BasicRouter] uses
// [http.ServeMux] with method-qualified patterns. Shared middleware wraps every route; route-level
// middleware (rate limiting on /api/auth/*) runs inside it.
//
// # Sessions
//
// [SessionMiddleware] loads a gorilla/sessions cookie session and guarantees it carries a session
// id. Handlers read it with [SessionID] and pass it explicitly to the login flow, the refresh
// coordinator and the store. The cookie is written only when a handler saves the session.
//
// # Endpoints
//
//	GET  /login             → redirect to the provider with a fresh state
//	POST /api/auth/token    → exchange a code, bind tokens to the session
//	POST /api/auth/refresh  → valid access token for the session
//	GET  /api/user          → profile attached to the session
//	POST /api/auth/logout   → delete the session
//	GET  /health            → liveness
//
// Error bodies are JSON objects with an "error" message and, for upstream failures, "details".
package server
