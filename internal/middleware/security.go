// Package middleware provides HTTP middleware for the webgate server.
package middleware

import (
	"net/http"
)

// SecurityHeaders adds the response headers an authentication gateway
// should always emit. This service serves JSON and WebSocket upgrades,
// never HTML, which allows a much stricter posture than a web app: the
// Content-Security-Policy permits nothing at all, and every response is
// marked uncacheable because login responses carry credentials, CSRF
// tokens, and Set-Cookie headers.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// No response from this service is ever a document worth framing
		// or sniffing into one.
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")

		// Never leak the request URL: paths carry the application name
		// and login endpoints attract referrer-borne tokens.
		w.Header().Set("Referrer-Policy", "no-referrer")

		// Credential-bearing responses must not land in any cache,
		// shared or private.
		w.Header().Set("Cache-Control", "no-store")

		next.ServeHTTP(w, r)
	})
}
