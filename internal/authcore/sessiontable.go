package authcore

import (
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/webgate-io/webgate/internal/transport"
	"github.com/webgate-io/webgate/internal/webservice"
)

const cookiePrefix = "v=2;k="

// Session is one SessionTable entry: the cookie it was inserted under and
// the web service it fronts.
type Session struct {
	Cookie  string
	Service *webservice.Service
	timer   *time.Timer
}

// SessionTable maps decoded cookie strings to live sessions.
type SessionTable struct {
	mu       sync.Mutex
	sessions map[string]*Session

	serviceIdle time.Duration
	processIdle time.Duration

	processIdleTimer *time.Timer
	onProcessIdle    func()
}

// NewSessionTable builds an empty table.
func NewSessionTable(serviceIdle, processIdle time.Duration, onProcessIdle func()) *SessionTable {
	return &SessionTable{
		sessions:      map[string]*Session{},
		serviceIdle:   serviceIdle,
		processIdle:   processIdle,
		onProcessIdle: onProcessIdle,
	}
}

// Len reports the number of live sessions.
func (t *SessionTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

// CheckCookie parses the
// application from path, read its cookie from headers, decode and look it
// up.
func (t *SessionTable) CheckCookie(path string, headers http.Header) (*webservice.Service, bool) {
	application := ParseApplication(path)

	raw, err := cookieFromHeader(headers, application)
	if err != nil {
		return nil, false
	}

	decoded, err := base64.StdEncoding.DecodeString(raw)
	if err != nil || !strings.HasPrefix(string(decoded), cookiePrefix) {
		return nil, false
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[string(decoded)]
	if !ok {
		return nil, false
	}
	return s.Service, true
}

func cookieFromHeader(headers http.Header, application string) (string, error) {
	for _, line := range headers.Values("Cookie") {
		for _, part := range strings.Split(line, ";") {
			part = strings.TrimSpace(part)
			k, v, found := strings.Cut(part, "=")
			if found && k == application {
				return v, nil
			}
		}
	}
	return "", fmt.Errorf("no cookie for application %s", application)
}

// Insert materialises a successful login into a live session. It builds
// the web service, wires idling/destroyed handlers, starts
// the initial idle timer, inserts into the table, and returns the
// Set-Cookie header value to emit.
func (t *SessionTable) Insert(nonces *NonceSource, application string, creds *Creds, tp transport.Transport, secureCookie bool) string {
	cookie := cookiePrefix + nonces.Next()
	service := webservice.New(creds, tp)

	session := &Session{Cookie: cookie, Service: service}

	service.OnIdling(func() { t.onIdling(session) })
	service.OnDestroyed(func() { t.onDestroyed(session) })

	t.onIdling(session)

	t.mu.Lock()
	t.sessions[cookie] = session
	t.mu.Unlock()

	encoded := base64.StdEncoding.EncodeToString([]byte(cookie))
	attrs := "Path=/; HttpOnly"
	if secureCookie {
		attrs = "Path=/; Secure; HttpOnly"
	}
	return fmt.Sprintf("%s=%s; %s", application, encoded, attrs)
}

func (t *SessionTable) onIdling(s *Session) {
	t.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(t.serviceIdle, func() { t.onTimeout(s) })
	t.mu.Unlock()

	t.resetProcessIdleTimer()
}

func (t *SessionTable) onDestroyed(s *Session) {
	t.onIdling(s)
	t.remove(s.Cookie, "destroyed")
}

func (t *SessionTable) onTimeout(s *Session) {
	if !s.Service.IsIdling() {
		return
	}
	slog.Info("authcore: session idle timeout")
	t.remove(s.Cookie, "idle-timeout")
}

func (t *SessionTable) remove(cookie, reason string) {
	t.mu.Lock()
	s, ok := t.sessions[cookie]
	if ok {
		delete(t.sessions, cookie)
	}
	empty := len(t.sessions) == 0
	t.mu.Unlock()

	if !ok {
		return
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	s.Service.Dispose()
	slog.Debug("authcore: session removed", "reason", reason)

	if empty {
		t.resetProcessIdleTimer()
	}
}

func (t *SessionTable) resetProcessIdleTimer() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.processIdleTimer != nil {
		t.processIdleTimer.Stop()
	}
	if t.onProcessIdle == nil {
		return
	}
	t.processIdleTimer = time.AfterFunc(t.processIdle, t.onProcessIdle)
}
