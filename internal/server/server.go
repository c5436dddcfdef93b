// Package server provides the HTTP handler assembly for webgate. It
// accepts all dependencies as parameters so that both main() and tests
// can build the same handler chain without route drift.
package server

import (
	"net/http"

	"github.com/webgate-io/webgate/internal/authcore"
	"github.com/webgate-io/webgate/internal/config"
	"github.com/webgate-io/webgate/internal/diagnostics"
	"github.com/webgate-io/webgate/internal/gateway"
	"github.com/webgate-io/webgate/internal/middleware"
)

// App holds all dependencies needed to build the HTTP handler.
type App struct {
	Manager       *authcore.Manager
	Gateway       *gateway.Handler
	DiagCollector *diagnostics.Collector
	Config        *config.Config
}

// Handler builds and returns the complete HTTP handler with all routes
// registered and middleware applied.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()

	h := &handlers{app: a}

	// Observability endpoints (public, no auth required).
	mux.HandleFunc("/healthz", h.handleHealthz)
	mux.HandleFunc("/readyz", h.handleReadyz)
	mux.HandleFunc("/api/load", h.handleLoad)

	// Login is, by definition, unauthenticated; the browser presents an
	// Authorization header or an X-Login-Reply resume token instead of a
	// session cookie.
	mux.HandleFunc("/login", h.handleLogin)

	// Admin support endpoint (cookie-gated, not role-gated — this gateway
	// has no RBAC layer of its own).
	session := middleware.SessionMiddleware(a.Manager)
	mux.Handle("/api/admin/diagnostics", session(http.HandlerFunc(h.handleDiagnosticsBundle)))

	// Session introspection and the WebSocket bridge both require a live
	// cookie-backed session.
	mux.Handle("/session", session(http.HandlerFunc(h.handleSession)))
	if a.Gateway != nil {
		mux.Handle("/ws/session", session(a.Gateway))
	}

	return middleware.SecurityHeaders(middleware.RequestID(mux))
}
