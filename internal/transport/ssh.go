package transport

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"golang.org/x/crypto/ssh"
)

// PromptFunc answers an SSH keyboard-interactive challenge. It is invoked
// synchronously on the dialing goroutine; implementations forward the
// question to the client's pending dialogue and block for the resumed
// reply, which is how multi-factor prompts are surfaced.
type PromptFunc func(name, instruction string, questions []string, echos []bool) ([]string, error)

// DialConfig configures an SSH bridge connection. Host defaults to
// 127.0.0.1 and the connection always ignores host keys: this is a
// loopback bridge to a trusted local sshd, not an arbitrary remote host.
type DialConfig struct {
	Host       string
	Port       int
	User       string
	Password   string
	Command    string
	PromptFunc PromptFunc
	Timeout    time.Duration
}

// SSHTransport wraps a live SSH session running the configured bridge
// command, exposing its stdin/stdout as a Transport.
type SSHTransport struct {
	client  *ssh.Client
	session *ssh.Session
	stdin   io.WriteCloser
	stdout  io.Reader

	done    chan struct{}
	waitErr error
}

// Dial opens the SSH connection, authenticates, and starts the configured
// command. The returned error, if any, is the raw dial/auth/session error;
// the caller is responsible for classifying it.
func Dial(ctx context.Context, cfg DialConfig) (*SSHTransport, error) {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	auth := []ssh.AuthMethod{ssh.Password(cfg.Password)}
	if cfg.PromptFunc != nil {
		auth = append(auth, ssh.KeyboardInteractive(ssh.KeyboardInteractiveChallenge(cfg.PromptFunc)))
	}

	clientCfg := &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         cfg.Timeout,
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	dialer := &net.Dialer{Timeout: cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("ssh: dial %s: %w", addr, err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, clientCfg)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh: handshake: %w", err)
	}
	client := ssh.NewClient(sshConn, chans, reqs)

	session, err := client.NewSession()
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("ssh: new session: %w", err)
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		client.Close()
		return nil, fmt.Errorf("ssh: stdin pipe: %w", err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		client.Close()
		return nil, fmt.Errorf("ssh: stdout pipe: %w", err)
	}

	command := cfg.Command
	if command == "" {
		command = "cockpit-bridge"
	}
	if err := session.Start(command); err != nil {
		session.Close()
		client.Close()
		return nil, fmt.Errorf("ssh: start %s: %w", command, err)
	}

	t := &SSHTransport{
		client:  client,
		session: session,
		stdin:   stdin,
		stdout:  stdout,
		done:    make(chan struct{}),
	}
	go func() {
		t.waitErr = session.Wait()
		close(t.done)
	}()
	return t, nil
}

func (t *SSHTransport) Read(p []byte) (int, error)  { return t.stdout.Read(p) }
func (t *SSHTransport) Write(p []byte) (int, error) { return t.stdin.Write(p) }

func (t *SSHTransport) Close() error {
	errSession := t.session.Close()
	errClient := t.client.Close()
	if errSession != nil && errSession != io.EOF {
		return errSession
	}
	return errClient
}

func (t *SSHTransport) Name() string { return "ssh" }

// Done reports when the bridge command has exited.
func (t *SSHTransport) Done() <-chan struct{} { return t.done }

// Err returns the bridge command's exit error. Only valid after Done closes.
func (t *SSHTransport) Err() error { return t.waitErr }
