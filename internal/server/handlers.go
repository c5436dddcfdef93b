package server

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/webgate-io/webgate/internal/authcore"
	"github.com/webgate-io/webgate/internal/middleware"
)

// handlers binds HTTP handler methods to an App's dependencies.
type handlers struct {
	app *App
}

// --- Health endpoints ---

func (h *handlers) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (h *handlers) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
}

func (h *handlers) handleLoad(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	limits := h.app.Manager.StartupLimits()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"sessions":     h.app.Manager.SessionCount(),
		"pending":      h.app.Manager.PendingCount(),
		"startups":     h.app.Manager.Startups(),
		"max_startups": limits.Max,
	})
}

// --- Auth endpoint ---

// handleLogin drives one round of login_begin/login_finish (or, for an
// X-Login-Reply Authorization header, a resumption round) and writes the
// JSON creds object, the prompt object, or the mapped error.
func (h *handlers) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Per-IP rate limit first, then the global MaxStartups admission gate
	// inside LoginBegin: the former turns away one abusive peer, the
	// latter protects the process as a whole.
	if h.app.Gateway != nil && !h.app.Gateway.Allow(r) {
		http.Error(w, "Too many requests", http.StatusTooManyRequests)
		return
	}

	authType := authcore.ParseAuthType(r.Header)

	var (
		result *authcore.LoginResult
		prompt *authcore.PromptResponse
		err    error
	)

	if authType == authcore.MethodResume {
		result, prompt, err = h.app.Manager.LoginResume(r.Context(), r.Header)
	} else {
		result, prompt, err = h.app.Manager.LoginBegin(r.Context(), r.URL.Path, r.Header, r.RemoteAddr)
	}

	if prompt != nil {
		if prompt.GSSAPIOutput != nil {
			w.Header().Add("WWW-Authenticate", negotiateChallenge(prompt.GSSAPIOutput))
		}
		w.Header().Add("WWW-Authenticate", "X-Login-Reply "+prompt.ID+" "+base64.StdEncoding.EncodeToString([]byte(prompt.Prompt.Prompt)))
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]any{"prompt": prompt.Prompt.Prompt})
		return
	}

	if err != nil {
		// Failed credentials cost the peer extra rate-limit budget, so a
		// guessing run starves itself long before the admission gate has
		// to care.
		if h.app.Gateway != nil &&
			(errors.Is(err, authcore.ErrAuthenticationFailed) || errors.Is(err, authcore.ErrPermissionDenied)) {
			h.app.Gateway.Penalize(r)
		}
		writeAuthError(w, r, err)
		return
	}

	slog.Info("authcore: login succeeded",
		"request_id", middleware.GetRequestID(r.Context()),
		"user", result.Creds.User,
		"application", result.Creds.Application,
		"remote", r.RemoteAddr)

	if result.GSSAPIOutput != nil {
		w.Header().Add("WWW-Authenticate", negotiateChallenge(result.GSSAPIOutput))
	}
	if result.SetCookie != "" {
		w.Header().Add("Set-Cookie", result.SetCookie)
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"user":       result.Creds.User,
		"csrf-token": result.Creds.CSRFToken,
		"login-data": result.Creds.LoginData,
	})
}

// negotiateChallenge renders the GSSAPI WWW-Authenticate challenge:
// "Negotiate <base64(raw_gssapi_output)>", or a bare "Negotiate"
// when the helper's decoded output was empty.
func negotiateChallenge(raw []byte) string {
	if len(raw) == 0 {
		return "Negotiate"
	}
	return "Negotiate " + base64.StdEncoding.EncodeToString(raw)
}

func writeAuthError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, authcore.ErrAuthenticationRequired):
		status = http.StatusUnauthorized
		w.Header().Set("WWW-Authenticate", "Negotiate")
	case errors.Is(err, authcore.ErrAuthenticationFailed):
		status = http.StatusUnauthorized
	case errors.Is(err, authcore.ErrPermissionDenied):
		status = http.StatusForbidden
	case errors.Is(err, authcore.ErrInvalidData):
		status = http.StatusBadRequest
	case errors.Is(err, authcore.ErrFailed):
		status = http.StatusServiceUnavailable
	}
	slog.Warn("authcore: login failed",
		"request_id", middleware.GetRequestID(r.Context()),
		"status", status,
		"remote", r.RemoteAddr,
		"error", err)
	http.Error(w, err.Error(), status)
}

// --- Session introspection ---

func (h *handlers) handleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	svc := middleware.GetServiceFromContext(r.Context())
	if svc == nil {
		http.Error(w, "Authentication required", http.StatusUnauthorized)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"idling": svc.IsIdling()})
}

// --- Diagnostics ---

func (h *handlers) handleDiagnosticsBundle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.app.DiagCollector == nil {
		http.Error(w, "Diagnostics not configured", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/gzip")
	w.Header().Set("Content-Disposition", `attachment; filename="webgate-diagnostics.tar.gz"`)
	if err := h.app.DiagCollector.WriteBundle(r.Context(), w); err != nil {
		slog.Error("diagnostics: failed to write bundle", "error", err)
	}
}
