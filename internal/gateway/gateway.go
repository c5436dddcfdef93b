package gateway

import (
	"log/slog"
	"net/http"

	"github.com/webgate-io/webgate/internal/middleware"
	"github.com/webgate-io/webgate/internal/websocket"
)

// Handler is the gateway entry point for WebSocket bridge connections. It
// enforces per-IP rate limits, resolves the caller's authenticated session
// (placed in the request context by SessionMiddleware), and hands the
// connection to the WebSocket bridge bound to that session's backend
// transport.
type Handler struct {
	limiter   *RateLimiter
	wsHandler *websocket.Handler
}

// Config holds configuration for the gateway handler.
type Config struct {
	RateLimiter *RateLimiter
}

// NewHandler creates a new gateway handler.
func NewHandler(cfg Config) *Handler {
	return &Handler{
		limiter:   cfg.RateLimiter,
		wsHandler: websocket.NewHandler(),
	}
}

// ServeHTTP routes an incoming WebSocket request through rate limiting and
// session validation before delegating to the stream bridge.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// --- Rate limiting ---
	if h.limiter != nil && !h.limiter.Allow(ClientIP(r)) {
		http.Error(w, "Too many requests", http.StatusTooManyRequests)
		return
	}

	// --- Session validation ---
	svc := middleware.GetServiceFromContext(r.Context())
	if svc == nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	slog.Debug("gateway: bridging session", "remote", r.RemoteAddr)

	// --- Delegate to the bridge ---
	h.wsHandler.ServeHTTP(w, r)
}

// Allow reports whether a request passes the gateway's per-IP rate limit.
// The login endpoint consults this before the global admission throttle so
// a single abusive peer is turned away before it can consume a startup
// slot.
func (h *Handler) Allow(r *http.Request) bool {
	if h.limiter == nil {
		return true
	}
	return h.limiter.Allow(ClientIP(r))
}

// Penalize burns extra rate-limit tokens for r's client after a failed
// authentication, so a brute-force run exhausts its budget much faster
// than well-behaved retries.
func (h *Handler) Penalize(r *http.Request) {
	if h.limiter != nil {
		h.limiter.Penalize(ClientIP(r))
	}
}
