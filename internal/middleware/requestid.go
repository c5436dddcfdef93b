package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

const (
	// RequestIDKey is the context key for the request ID.
	RequestIDKey contextKey = "request_id"

	// RequestIDHeader is the HTTP header name for request IDs.
	RequestIDHeader = "X-Request-ID"
)

// RequestID tags every request with a fresh correlation id, echoed in the
// response header and carried in the context so the audit events a login
// attempt emits (outcome, session removal) can be tied back to the request
// that caused them.
//
// An inbound X-Request-ID header is deliberately ignored: on an
// authentication surface a client-chosen id would let an attacker stamp
// its probes with ids of its choosing and muddy the audit trail.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.New().String()

		w.Header().Set(RequestIDHeader, reqID)

		ctx := context.WithValue(r.Context(), RequestIDKey, reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetRequestID returns the request's correlation id, or "" outside the
// RequestID middleware. Handlers include it in their audit log events.
func GetRequestID(ctx context.Context) string {
	id, ok := ctx.Value(RequestIDKey).(string)
	if !ok {
		return ""
	}
	return id
}
