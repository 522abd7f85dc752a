package server

import (
	"net/http"
	"strings"
)

// BasicRouter is a [Router] backed by [http.ServeMux].
//
// Method-qualified patterns get the mux's own 405 handling.
type BasicRouter struct {
	mux         *http.ServeMux
	middlewares []Middleware
}

// NewBasicRouter creates a new [BasicRouter] instance.
func NewBasicRouter() *BasicRouter {
	return &BasicRouter{
		mux:         http.NewServeMux(),
		middlewares: []Middleware{},
	}
}

// Use adds [Middleware] to the shared stack, applied in the order it's added.
//
// Only routes registered after the call are wrapped.
func (r *BasicRouter) Use(middleware ...Middleware) {
	r.middlewares = append(r.middlewares, middleware...)
}

// Handle registers handler for method and path. Route-level middleware runs inside the shared stack.
func (r *BasicRouter) Handle(method, path string, handler http.Handler, middleware ...Middleware) {
	r.mux.Handle(pattern(method, path), r.Apply(handler, middleware...))
}

// Handler registers every route returned by [Handler.Routes].
func (r *BasicRouter) Handler(handler Handler, middleware ...Middleware) {
	wrapped := r.Apply(handler, middleware...)

	for _, route := range handler.Routes() {
		r.mux.Handle(route, wrapped)
	}
}

// ServeHTTP implements [http.Handler] for the entire router.
func (r *BasicRouter) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Apply wraps a handler with the route middleware and then the shared stack.
//
// The first middleware added is the outermost.
func (r *BasicRouter) Apply(handler http.Handler, route ...Middleware) http.Handler {
	wrapped := handler

	for i := len(route) - 1; i >= 0; i-- {
		wrapped = route[i](wrapped)
	}
	for i := len(r.middlewares) - 1; i >= 0; i-- {
		wrapped = r.middlewares[i](wrapped)
	}

	return wrapped
}

func pattern(method, path string) string {
	if method == "" {
		return path
	}
	return strings.ToUpper(method) + " " + path
}
