// Package authcore implements the authentication manager: method selection,
// challenge/response dialogues with an out-of-process helper, session
// materialisation, and admission control for a web-facing remote
// administration gateway.
package authcore

import "errors"

// Sentinel error kinds surfaced to the HTTP layer. Wrap these with fmt.Errorf
// and %w so callers can still errors.Is against the kind.
var (
	// ErrAuthenticationRequired means no usable Authorization header was present.
	ErrAuthenticationRequired = errors.New("authentication required")

	// ErrAuthenticationFailed means the helper reported failure, credentials
	// did not verify, a resume token was invalid, or a multi-step prompt is
	// pending (see PromptFrom to recover the prompt payload).
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrPermissionDenied means the helper reported permission-denied.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrInvalidData means the helper's reply was malformed or non-UTF-8.
	ErrInvalidData = errors.New("invalid data")

	// ErrFailed is an internal error: spawn failed, the SSH transport
	// errored, or admission dropped the request.
	ErrFailed = errors.New("failed")
)

// connectionClosedByHost is the fixed message used for admission drops,
// matching what sshd tells a throttled client.
const connectionClosedByHost = "Connection closed by host"

// promptError wraps ErrAuthenticationFailed with the prompt object that must
// be echoed back to the client as part of the X-Login-Reply challenge. This
// is the concrete Outcome::Prompt(p) variant recommended by the design notes,
// rather than an error plus an out-parameter.
type promptError struct {
	id     string
	prompt map[string]any
}

func (e *promptError) Error() string { return "X-Login-Reply needed" }

func (e *promptError) Unwrap() error { return ErrAuthenticationFailed }

// PromptFrom extracts the pending-dialogue id and prompt object from an
// error returned by login_begin/login_finish, if it is a prompt outcome.
func PromptFrom(err error) (id string, prompt map[string]any, ok bool) {
	var pe *promptError
	if errors.As(err, &pe) {
		return pe.id, pe.prompt, true
	}
	return "", nil, false
}

// wrappedError pairs a sentinel kind with a human-readable message, the way
// the helper's { "error": ..., "message": ... } reply is rendered.
type wrappedError struct {
	kind error
	msg  string
}

func (e *wrappedError) Error() string { return e.msg }
func (e *wrappedError) Unwrap() error { return e.kind }

func wrapf(kind error, msg string) error {
	return &wrappedError{kind: kind, msg: msg}
}
