// Package authcore implements the authentication manager described atop
// the gateway's front door: method selection, challenge/response
// dialogues with an out-of-process helper or a loopback SSH bridge,
// session materialisation into the SessionTable, and admission control.
package authcore

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"

	"github.com/webgate-io/webgate/internal/config"
	"github.com/webgate-io/webgate/internal/transport"
	"github.com/webgate-io/webgate/internal/webservice"
)

// LoginResult is what a successful login (or its resumed follow-up)
// returns to the HTTP layer.
type LoginResult struct {
	SetCookie string
	Creds     *Creds

	// GSSAPIOutput is the helper's raw (hex-decoded) gssapi-output, if any,
	// to be emitted as WWW-Authenticate: Negotiate <base64(...)>.
	// Nil means no GSSAPI output was produced; non-nil-but-empty
	// means emit a bare "Negotiate" challenge.
	GSSAPIOutput []byte
}

// PromptResponse is what the HTTP layer turns into a
// WWW-Authenticate: X-Login-Reply header plus a JSON body.
type PromptResponse struct {
	ID           string
	Prompt       Prompt
	GSSAPIOutput []byte
}

// Manager is the authentication facade: LoginBegin and LoginResume drive
// one dialogue round each as a synchronous round trip (the HTTP handler
// goroutine simply blocks for the helper's reply), CheckCookie resolves a
// session cookie, and the idling signal fires once both tables are empty
// and the process idle timer elapses.
type Manager struct {
	cfg *config.Config

	nonces    *NonceSource
	sessions  *SessionTable
	pending   *PendingTable
	admission *Admission

	gssapiNotAvail atomic.Bool

	secureCookies bool
}

// NewManager builds a Manager from configuration. onIdling fires once both
// tables are empty and the process idle timer elapses.
func NewManager(cfg *config.Config, secureCookies bool, onIdling func()) (*Manager, error) {
	nonces, err := NewNonceSource()
	if err != nil {
		return nil, err
	}

	m := &Manager{
		cfg:           cfg,
		nonces:        nonces,
		pending:       NewPendingTable(),
		admission:     NewAdmission(cfg.MaxStartups),
		secureCookies: secureCookies,
	}
	m.sessions = NewSessionTable(cfg.ServiceIdle, cfg.ProcessIdle, func() {
		if m.sessions.Len() == 0 && m.pending.Len() == 0 && onIdling != nil {
			onIdling()
		}
	})
	return m, nil
}

// CheckCookie implements check_cookie.
func (m *Manager) CheckCookie(path string, headers http.Header) (*webservice.Service, bool) {
	return m.sessions.CheckCookie(path, headers)
}

// SessionCount reports the number of live sessions, used by the load
// reporting endpoint.
func (m *Manager) SessionCount() int { return m.sessions.Len() }

// PendingCount reports the number of dialogues parked awaiting an
// X-Login-Reply resume.
func (m *Manager) PendingCount() int { return m.pending.Len() }

// Startups reports the number of in-flight login attempts.
func (m *Manager) Startups() int64 { return m.admission.Startups() }

// StartupLimits returns the configured MaxStartups throttle parameters.
func (m *Manager) StartupLimits() config.MaxStartups { return m.admission.Limits() }

// GSSAPINotAvail reports whether a prior SpawnMethod helper has already
// told us the negotiate mechanism is unavailable on this host.
func (m *Manager) GSSAPINotAvail() bool { return m.gssapiNotAvail.Load() }

// LoginBegin dispatches a fresh login attempt. It returns either a
// LoginResult, a PromptResponse (with the dialogue id to resume against),
// or an error.
func (m *Manager) LoginBegin(ctx context.Context, path string, headers http.Header, remotePeer string) (*LoginResult, *PromptResponse, error) {
	m.admission.Begin()
	defer m.admission.Finish()

	if !m.admission.CanStart() {
		return nil, nil, wrapf(ErrFailed, connectionClosedByHost)
	}

	authType := ParseAuthType(headers)
	action := ChooseMethod(authType, m.cfg.LoginLoopback, m.cfg.Types[authType].Action)

	switch action {
	case MethodResume:
		return nil, nil, wrapf(ErrAuthenticationFailed, "Invalid resume token")
	case MethodNone:
		return nil, nil, (NoneMethod{}).Begin()
	case MethodRemoteSSH:
		return m.beginRemote(ctx, path, headers, remotePeer)
	default:
		return m.beginSpawn(ctx, path, headers, remotePeer, action == MethodSpawnWithDecoded, authType)
	}
}

// LoginResume implements the second half of a prompt dialogue: the
// browser's X-Login-Reply resumes the parked PendingDialogue and the
// originating method's captured Finish closure runs again.
func (m *Manager) LoginResume(ctx context.Context, headers http.Header) (*LoginResult, *PromptResponse, error) {
	// A resume round is still one in-flight attempt: it counts against the
	// startup throttle exactly like a fresh begin. A dropped resume leaves
	// the dialogue parked, so the client may retry.
	m.admission.Begin()
	defer m.admission.Finish()

	if !m.admission.CanStart() {
		return nil, nil, wrapf(ErrFailed, connectionClosedByHost)
	}

	raw := headers.Get("Authorization")

	id, payload, err := ParseResumeReply(raw)
	if err != nil {
		return nil, nil, err
	}

	entry := m.pending.Remove(id)
	if entry == nil {
		return nil, nil, ErrResumeUnknownID
	}

	resultCh := make(chan error, 1)
	entry.dialogue.AddCompletion(func(err error) { resultCh <- err })

	if !entry.resume(payload) {
		return nil, nil, ErrResumeUnknownID
	}

	completionErr := <-resultCh
	return entry.finish(completionErr)
}

func (m *Manager) beginSpawn(ctx context.Context, path string, headers http.Header, remotePeer string, decode bool, authType string) (*LoginResult, *PromptResponse, error) {
	// The helper and its pipe must outlive this HTTP request: a prompt
	// dialogue is resumed by a later request, and on success the child's
	// stdio becomes the session transport. The pipe's timeouts bound the
	// helper's lifetime instead of request cancelation.
	ctx = context.WithoutCancel(ctx)

	id := m.nonces.Next()
	d := NewPendingDialogue(id)

	tc := m.cfg.TypeConfig(authType)
	method := &SpawnMethod{
		Command:         m.typeCommand(authType),
		DecodeBase64:    decode,
		ProcessTimeout:  tc.Timeout,
		ResponseTimeout: tc.ResponseTimeout,
		Nonces:          m.nonces,
		GSSAPINotAvail:  &m.gssapiNotAvail,
	}

	resultCh := make(chan error, 1)
	d.AddCompletion(func(err error) { resultCh <- err })

	state, err := method.Begin(ctx, path, headers, remotePeer, d)
	if err != nil {
		return nil, nil, err
	}

	completionErr := <-resultCh
	return m.finishSpawn(method, state, d, completionErr)
}

func (m *Manager) beginRemote(ctx context.Context, path string, headers http.Header, remotePeer string) (*LoginResult, *PromptResponse, error) {
	// As with beginSpawn, the SSH dial and its session must survive the
	// HTTP request that started them: a keyboard-interactive prompt parks
	// the dial until the client's follow-up request resumes it.
	ctx = context.WithoutCancel(ctx)

	id := m.nonces.Next()
	d := NewPendingDialogue(id)

	method := &RemoteMethod{
		Host:    m.cfg.SSHHost,
		Port:    m.cfg.SSHPort,
		Command: config.DefaultBridgeProgram,
		Nonces:  m.nonces,
	}

	resultCh := make(chan error, 1)
	d.AddCompletion(func(err error) { resultCh <- err })

	state, err := method.Begin(ctx, path, headers, remotePeer, d)
	if err != nil {
		return nil, nil, err
	}

	completionErr := <-resultCh
	return m.finishRemote(method, state, d, completionErr)
}

func (m *Manager) finishSpawn(method *SpawnMethod, state *SpawnState, d *PendingDialogue, completionErr error) (*LoginResult, *PromptResponse, error) {
	state.pipe.DisarmResponseTimeout()

	if completionErr != nil {
		return nil, nil, wrapf(ErrFailed, completionErr.Error())
	}

	creds, tp, prompt, gssapiOutput, err := method.Finish(state, d, true)
	if prompt != nil {
		d.AwaitClient()
		if method.ResponseTimeout > 0 {
			state.pipe.ArmResponseTimeout(method.ResponseTimeout, func() { state.pipe.Close() })
		}
		m.pending.Add(d, func(payload ScrubBytes) bool {
			return method.Resume(state, d, payload)
		}, func(nextErr error) (*LoginResult, *PromptResponse, error) {
			return m.finishSpawn(method, state, d, nextErr)
		})
		return nil, &PromptResponse{ID: d.ID(), Prompt: *prompt, GSSAPIOutput: gssapiOutput}, nil
	}
	if err != nil {
		return nil, nil, err
	}
	return m.finishSuccess(creds, tp, gssapiOutput)
}

func (m *Manager) finishRemote(method *RemoteMethod, state *RemoteState, d *PendingDialogue, completionErr error) (*LoginResult, *PromptResponse, error) {
	if id, promptFields, ok := PromptFrom(completionErr); ok {
		m.pending.Add(d, d.Resume, func(nextErr error) (*LoginResult, *PromptResponse, error) {
			return m.finishRemote(method, state, d, nextErr)
		})
		return nil, &PromptResponse{ID: id, Prompt: Prompt{Prompt: fmt.Sprint(promptFields["prompt"])}}, nil
	}
	if completionErr != nil {
		return nil, nil, completionErr
	}

	creds, tp, err := method.Finish(state)
	if err != nil {
		return nil, nil, err
	}
	return m.finishSuccess(creds, tp, nil)
}

func (m *Manager) finishSuccess(creds *Creds, tp transport.Transport, gssapiOutput []byte) (*LoginResult, *PromptResponse, error) {
	setCookie := m.sessions.Insert(m.nonces, creds.Application, creds, tp, m.secureCookies)
	return &LoginResult{SetCookie: setCookie, Creds: creds, GSSAPIOutput: gssapiOutput}, nil, nil
}

func (m *Manager) typeCommand(authType string) string {
	tc := m.cfg.TypeConfig(authType)
	if tc.Command != "" {
		return tc.Command
	}
	return config.DefaultSessionProgram
}
