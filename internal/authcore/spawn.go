package authcore

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/webgate-io/webgate/internal/transport"
)

// SpawnMethod implements spawn-login-with-header and
// spawn-login-with-decoded. The two variants differ only in DecodeBase64.
type SpawnMethod struct {
	Command         string
	DecodeBase64    bool
	ProcessTimeout  time.Duration
	ResponseTimeout time.Duration
	Nonces          *NonceSource
	GSSAPINotAvail  *atomic.Bool
}

// SpawnState holds everything Begin produces that Finish needs, and that
// teardown needs to reap the child: fd and pid ownership lives here.
type SpawnState struct {
	mu sync.Mutex

	cmd         *exec.Cmd
	pipe        *AuthPipe
	rawAuth     ScrubBytes
	authType    string
	application string

	responseBytes []byte
	closeErr      error

	stdin  *os.File
	stdout *os.File
	pid    int
}

func (s *SpawnState) isGSSAPINegotiate() bool { return s.authType == "negotiate" }

// Begin extracts the Authorization payload, spawns the helper with the
// auth pipe on fd 3, and sends the payload as the dialogue's first message.
func (m *SpawnMethod) Begin(ctx context.Context, path string, headers http.Header, remotePeer string, d *PendingDialogue) (*SpawnState, error) {
	authType := ParseAuthType(headers)

	payload, err := ExtractPayload(headers, m.DecodeBase64)
	if err != nil {
		if authType == "negotiate" && !m.GSSAPINotAvail.Load() {
			payload = ScrubBytes{}
		} else {
			return nil, ErrAuthenticationRequired
		}
	}

	application := ParseApplication(path)

	pipe, err := NewAuthPipe()
	if err != nil {
		return nil, wrapf(ErrFailed, fmt.Sprintf("internal error starting %s", m.Command))
	}

	state := &SpawnState{
		pipe:        pipe,
		rawAuth:     payload,
		authType:    authType,
		application: application,
	}

	// A pipe pair the helper inherits as stdin/stdout, separate from the
	// fd-3 AuthPipe used for the JSON conversation. On success this
	// becomes the post-authentication transport; the JSON channel is
	// torn down once the dialogue completes.
	childStdin, parentStdin, err := os.Pipe()
	if err != nil {
		pipe.ChildFile().Close()
		pipe.Close()
		return nil, wrapf(ErrFailed, fmt.Sprintf("internal error starting %s: %v", m.Command, err))
	}
	parentStdout, childStdout, err := os.Pipe()
	if err != nil {
		childStdin.Close()
		parentStdin.Close()
		pipe.ChildFile().Close()
		pipe.Close()
		return nil, wrapf(ErrFailed, fmt.Sprintf("internal error starting %s: %v", m.Command, err))
	}

	cmd := exec.CommandContext(ctx, m.Command, authType, remotePeer)
	cmd.ExtraFiles = []*os.File{pipe.ChildFile()}
	cmd.Stdin = childStdin
	cmd.Stdout = childStdout
	cmd.Stderr = os.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{}

	if err := cmd.Start(); err != nil {
		childStdin.Close()
		childStdout.Close()
		parentStdin.Close()
		parentStdout.Close()
		pipe.ChildFile().Close()
		pipe.Close()
		return nil, wrapf(ErrFailed, fmt.Sprintf("internal error starting %s: %v", m.Command, err))
	}
	pipe.ChildFile().Close()
	childStdin.Close()
	childStdout.Close()

	state.cmd = cmd
	state.pid = cmd.Process.Pid
	state.stdin = parentStdin
	state.stdout = parentStdout

	pipe.OnMessage(func(msg map[string]any) {
		raw, _ := json.Marshal(msg)
		state.mu.Lock()
		state.responseBytes = raw
		state.mu.Unlock()
		d.Complete(nil)
	})
	pipe.OnClose(func(closeErr error) {
		state.mu.Lock()
		state.closeErr = closeErr
		state.mu.Unlock()
		d.Complete(closeErr)
	})

	go pipe.Run(ctx)

	if m.ProcessTimeout > 0 {
		pipe.ArmProcessTimeout(m.ProcessTimeout, func() {
			pipe.Close()
		})
	}

	if err := pipe.Send(map[string]any{"payload": string(payload)}); err != nil {
		return nil, wrapf(ErrFailed, fmt.Sprintf("internal error starting %s: %v", m.Command, err))
	}

	return state, nil
}

// Finish parses the helper's reply into creds, a prompt, or an error.
// wantTransport indicates whether the caller wants the still-live child's
// stdio materialised as a local transport on success.
func (m *SpawnMethod) Finish(state *SpawnState, d *PendingDialogue, wantTransport bool) (*Creds, transport.Transport, *Prompt, []byte, error) {
	state.mu.Lock()
	raw := state.responseBytes
	closeErr := state.closeErr
	state.mu.Unlock()

	if raw == nil {
		m.reap(state)
		if closeErr != nil {
			return nil, nil, nil, nil, wrapf(ErrFailed, closeErr.Error())
		}
		return nil, nil, nil, nil, ErrInvalidData
	}

	var result map[string]any
	if err := json.Unmarshal(raw, &result); err != nil {
		m.reap(state)
		return nil, nil, nil, nil, ErrInvalidData
	}

	gssapiOutput := decodeGSSAPIOutput(result)

	if promptMsg, ok := result["prompt"].(string); ok {
		delete(result, "prompt")
		return nil, nil, &Prompt{Message: promptMsg, Prompt: promptMsg}, gssapiOutput, &promptError{id: d.ID(), prompt: result}
	}

	if errKind, ok := result["error"].(string); ok {
		message, _ := result["message"].(string)
		m.reap(state)
		if errKind == "authentication-unavailable" && state.isGSSAPINegotiate() {
			m.GSSAPINotAvail.Store(true)
		}
		return nil, nil, nil, gssapiOutput, classifyHelperError(errKind, message)
	}

	user, ok := result["user"].(string)
	if !ok || user == "" {
		m.reap(state)
		return nil, nil, nil, gssapiOutput, ErrInvalidData
	}

	var password ScrubBytes
	if state.authType == "basic" {
		if idx := indexByte(state.rawAuth, ':'); idx >= 0 {
			password = append(ScrubBytes{}, state.rawAuth[idx+1:]...)
		}
	}

	var gssapiCreds ScrubBytes
	if hexCreds, ok := result["gssapi-creds"].(string); ok {
		if decoded, err := hex.DecodeString(hexCreds); err == nil {
			gssapiCreds = decoded
		}
	}

	creds := NewCreds(user, state.application, "", password, gssapiCreds)
	creds.CSRFToken = m.Nonces.Next()
	creds.LoginData = result

	var tp transport.Transport
	if wantTransport && state.cmd != nil && state.cmd.Process != nil {
		tp = transport.NewLocalTransport(state.stdin, state.stdout)
		state.pid = 0
		state.cmd = nil
	} else {
		state.stdin.Close()
		state.stdout.Close()
	}

	return creds, tp, nil, gssapiOutput, nil
}

// Resume feeds a client's X-Login-Reply payload into the helper's pipe as
// the next message of the dialogue, clearing the previous round's reply so
// Finish parses the fresh one. Returns false if the dialogue was not
// parked awaiting a client reply.
func (m *SpawnMethod) Resume(state *SpawnState, d *PendingDialogue, payload ScrubBytes) bool {
	defer payload.Scrub()

	if !d.claimResume() {
		return false
	}

	state.pipe.DisarmResponseTimeout()

	state.mu.Lock()
	state.responseBytes = nil
	state.closeErr = nil
	state.mu.Unlock()

	if err := state.pipe.Send(map[string]any{"payload": string(payload)}); err != nil {
		d.Complete(wrapf(ErrFailed, err.Error()))
	}
	return true
}

// decodeGSSAPIOutput extracts and hex-decodes the helper's optional
// gssapi-output field, returned regardless of outcome so the caller can
// emit WWW-Authenticate: Negotiate <base64(...)> even on failure.
// A present-but-empty decoded value still yields a non-nil
// zero-length slice, distinguishing "emit bare Negotiate" from "no GSSAPI
// output at all".
func decodeGSSAPIOutput(result map[string]any) []byte {
	hexOut, ok := result["gssapi-output"].(string)
	if !ok {
		return nil
	}
	decoded, err := hex.DecodeString(hexOut)
	if err != nil {
		return nil
	}
	if decoded == nil {
		decoded = []byte{}
	}
	return decoded
}

// reap sends SIGTERM to a still-live helper once no creds and no prompt
// came out of it.
func (m *SpawnMethod) reap(state *SpawnState) {
	if state.stdin != nil {
		state.stdin.Close()
	}
	if state.stdout != nil {
		state.stdout.Close()
	}
	if state.cmd == nil || state.cmd.Process == nil || state.pid == 0 {
		return
	}
	_ = state.cmd.Process.Signal(syscall.SIGTERM)
	go state.cmd.Wait()
}

func classifyHelperError(kind, message string) error {
	switch kind {
	case "authentication-failed", "authentication-unavailable":
		if message != "" {
			return wrapf(ErrAuthenticationFailed, message)
		}
		return ErrAuthenticationFailed
	case "permission-denied":
		return ErrPermissionDenied
	default:
		slog.Warn("authcore: helper reported unrecognized error", "kind", kind, "message", message)
		return wrapf(ErrAuthenticationFailed, message)
	}
}

func indexByte(b ScrubBytes, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}
