// Package gateway fronts the WebSocket bridge to a session's backend
// transport with per-IP rate limiting on top of the cookie check.
package gateway

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// failurePenalty is how many extra tokens a failed login burns on top of
// the one its request already consumed. A peer guessing passwords drains
// its bucket several times faster than one retrying a prompt, without any
// shared lockout state that a distributed attacker could abuse against a
// legitimate user.
const failurePenalty = 4

// RateLimiter tracks per-IP token buckets for login attempts and
// WebSocket bridge connections. It is the narrow first line of defense in
// front of the process-wide MaxStartups throttle: the bucket turns away
// one abusive peer, MaxStartups protects the helper-spawning capacity of
// the process as a whole. Limiting is per-replica; with N replicas behind
// a load balancer the effective per-IP limit is N * rate, which still
// bounds the brute-force rate any single peer can sustain.
type RateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	rate     rate.Limit
	burst    int
	cleanup  time.Duration
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a rate limiter that allows r requests per second
// with a maximum burst of b. Stale entries are cleaned up periodically.
func NewRateLimiter(r rate.Limit, b int) *RateLimiter {
	rl := &RateLimiter{
		visitors: make(map[string]*visitor),
		rate:     r,
		burst:    b,
		cleanup:  3 * time.Minute,
	}
	go rl.cleanupLoop()
	return rl
}

// Allow checks whether a request from the given IP is allowed.
func (rl *RateLimiter) Allow(ip string) bool {
	return rl.visitorFor(ip).limiter.Allow()
}

// Penalize burns failurePenalty extra tokens for ip after a failed
// authentication. The reservation is consumed even when the bucket runs
// dry, so repeated failures push the next Allow further into the future.
func (rl *RateLimiter) Penalize(ip string) {
	rl.visitorFor(ip).limiter.ReserveN(time.Now(), failurePenalty)
}

// visitorFor returns the bucket for ip, creating it on first contact.
func (rl *RateLimiter) visitorFor(ip string) *visitor {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	v, ok := rl.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.visitors[ip] = v
	}
	v.lastSeen = time.Now()
	return v
}

// cleanupLoop removes visitors that haven't been seen recently.
func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.cleanup)
	defer ticker.Stop()
	for range ticker.C {
		rl.mu.Lock()
		for ip, v := range rl.visitors {
			if time.Since(v.lastSeen) > rl.cleanup {
				delete(rl.visitors, ip)
			}
		}
		rl.mu.Unlock()
	}
}

// ClientIP extracts the client IP from a request, respecting X-Forwarded-For
// when present (common behind load balancers).
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// Take the first IP in the chain (the original client)
		for i := 0; i < len(xff); i++ {
			if xff[i] == ',' {
				return xff[:i]
			}
		}
		return xff
	}
	if xri := r.Header.Get("X-Real-Ip"); xri != "" {
		return xri
	}
	// Strip port from RemoteAddr
	addr := r.RemoteAddr
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == ':' {
			return addr[:i]
		}
	}
	return addr
}
