package authcore

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/webgate-io/webgate/internal/transport"
)

// RemoteMethod implements remote-login-ssh: basic
// credentials are handed to a loopback sshd instead of a local helper.
// Only basic auth is supported.
type RemoteMethod struct {
	Host    string
	Port    int
	Command string
	Nonces  *NonceSource
}

// RemoteState holds what Begin produces for Finish and teardown to use.
type RemoteState struct {
	mu sync.Mutex

	creds       *Creds
	application string

	transport *transport.SSHTransport

	hasResult     bool
	resultErr     error
	responseBytes []byte
}

// Begin splits the basic credentials, builds Creds, and opens the SSH
// transport. The SSH dial runs in its own
// goroutine since golang.org/x/crypto/ssh's handshake (including any
// keyboard-interactive round trip relayed through d) is synchronous.
func (m *RemoteMethod) Begin(ctx context.Context, path string, headers http.Header, remotePeer string, d *PendingDialogue) (*RemoteState, error) {
	authType := ParseAuthType(headers)
	if authType != "basic" {
		return nil, ErrAuthenticationRequired
	}

	payload, err := ExtractPayload(headers, true)
	if err != nil {
		return nil, ErrAuthenticationRequired
	}

	idx := indexByte(payload, ':')
	if idx < 0 {
		payload.Scrub()
		return nil, ErrAuthenticationRequired
	}
	user := string(payload[:idx])
	password := append(ScrubBytes{}, payload[idx+1:]...)
	payload.Scrub()

	application := ParseApplication(path)
	creds := NewCreds(user, application, remotePeer, password, nil)
	creds.CSRFToken = m.Nonces.Next()

	state := &RemoteState{creds: creds, application: application}

	promptFunc := func(name, instruction string, questions []string, echos []bool) ([]string, error) {
		if len(questions) == 0 {
			return nil, nil
		}
		prompt := &Prompt{
			Message: instruction,
			Prompt:  strings.Join(questions, "\n"),
			Echo:    len(echos) > 0 && echos[0],
		}
		state.mu.Lock()
		state.responseBytes = nil
		state.mu.Unlock()
		d.AwaitClient()
		d.Complete(&promptError{id: d.ID(), prompt: map[string]any{"prompt": prompt.Prompt}})

		reply, ok := <-d.ResponseChan()
		if !ok {
			return nil, fmt.Errorf("dialogue closed")
		}
		defer reply.Scrub()
		return []string{string(reply)}, nil
	}

	go func() {
		tp, err := transport.Dial(ctx, transport.DialConfig{
			Host:       m.Host,
			Port:       m.Port,
			User:       user,
			Password:   string(password),
			Command:    m.Command,
			PromptFunc: promptFunc,
		})

		state.mu.Lock()
		state.hasResult = true
		state.mu.Unlock()

		if err != nil {
			classified := classifySSHError(err)
			state.mu.Lock()
			state.resultErr = classified
			state.mu.Unlock()
			d.Complete(classified)
			return
		}

		state.mu.Lock()
		state.transport = tp
		state.mu.Unlock()
		d.Complete(nil)
	}()

	return state, nil
}

// Finish: on a transport result, return the
// creds and live SSH transport; a pending prompt error is already
// surfaced through the dialogue's completion in Begin's promptFunc, so
// Finish only needs to recognize the success/terminal-error path.
func (m *RemoteMethod) Finish(state *RemoteState) (*Creds, transport.Transport, error) {
	state.mu.Lock()
	defer state.mu.Unlock()

	if !state.hasResult {
		return nil, nil, ErrFailed
	}
	if state.resultErr != nil {
		return nil, nil, state.resultErr
	}
	return state.creds, state.transport, nil
}

// classifySSHError maps a dial/handshake error to the error kinds the
// HTTP layer understands. golang.org/x/crypto/ssh does not
// expose a structured per-method result map, so the classification here
// is a best-effort string match on the handshake error, noted as a
// simplification relative to the original's per-method result map.
func classifySSHError(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "unable to authenticate"):
		if strings.Contains(msg, "no supported methods remain") && strings.Contains(msg, "password") {
			return wrapf(ErrAuthenticationFailed, "authentication-not-supported")
		}
		return ErrAuthenticationFailed
	case strings.Contains(msg, "EOF"), strings.Contains(msg, "connection reset"):
		return wrapf(ErrAuthenticationFailed, "terminated")
	default:
		return wrapf(ErrFailed, fmt.Sprintf("Couldn't connect or authenticate: %v", err))
	}
}
