package middleware

import (
	"context"
	"net/http"

	"github.com/webgate-io/webgate/internal/authcore"
	"github.com/webgate-io/webgate/internal/webservice"
)

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

const (
	// ServiceContextKey is the key used to store the session's web
	// service in the request context once its cookie has checked out.
	ServiceContextKey contextKey = "service"
)

// SessionMiddleware validates the application cookie against the
// authentication manager's SessionTable and rejects the request with 401
// if no live session backs it, mirroring check_cookie's role as the
// gatekeeper in front of every non-login route.
func SessionMiddleware(manager *authcore.Manager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			svc, ok := manager.CheckCookie(r.URL.Path, r.Header)
			if !ok {
				http.Error(w, "Authentication required", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), ServiceContextKey, svc)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetServiceFromContext retrieves the session's web service from the
// request context, set by SessionMiddleware.
func GetServiceFromContext(ctx context.Context) *webservice.Service {
	svc, ok := ctx.Value(ServiceContextKey).(*webservice.Service)
	if !ok {
		return nil
	}
	return svc
}
