// Package transport defines the backend connection a successfully
// authenticated session is bound to: either a spawned helper's stdio
// (LocalTransport) or a live SSH session (SSHTransport). The authentication
// manager produces a Transport on success; the gateway's WebSocket bridge
// consumes it.
package transport

import "io"

// Transport is a bidirectional byte stream to a session's backend, the
// single live connection rather than a whole orchestration backend.
type Transport interface {
	io.ReadWriteCloser

	// Name identifies the transport kind, for logging ("local", "ssh").
	Name() string
}
