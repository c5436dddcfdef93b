package websocket

import (
	"log/slog"
	"net/http"

	"github.com/webgate-io/webgate/internal/middleware"
)

// Handler upgrades a cookie-authenticated request to a WebSocket
// connection and bridges it to the session's backend transport.
type Handler struct{}

// NewHandler creates a new WebSocket session handler.
func NewHandler() *Handler {
	return &Handler{}
}

// ServeHTTP upgrades the connection and bridges it to the transport bound
// to the request's session, which SessionMiddleware has already resolved.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	svc := middleware.GetServiceFromContext(r.Context())
	if svc == nil {
		http.Error(w, "Authentication required", http.StatusUnauthorized)
		return
	}

	tp := svc.Transport()
	if tp == nil {
		http.Error(w, "Session has no backend transport", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket: upgrade failed", "error", err)
		return
	}

	svc.MarkActive()
	Bridge(conn, tp)
	svc.MarkIdle()
}
