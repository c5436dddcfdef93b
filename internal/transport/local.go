package transport

import "os"

// LocalTransport wraps a spawned helper's stdin/stdout pipes after it has
// produced credentials. Ownership of the fds transfers from the spawning
// state to this transport, so teardown of the login attempt neither closes
// them nor kills the now-detached child.
type LocalTransport struct {
	stdin  *os.File
	stdout *os.File
}

// NewLocalTransport takes ownership of the given stdin/stdout files.
func NewLocalTransport(stdin, stdout *os.File) *LocalTransport {
	return &LocalTransport{stdin: stdin, stdout: stdout}
}

func (t *LocalTransport) Read(p []byte) (int, error)  { return t.stdout.Read(p) }
func (t *LocalTransport) Write(p []byte) (int, error) { return t.stdin.Write(p) }

func (t *LocalTransport) Close() error {
	errIn := t.stdin.Close()
	errOut := t.stdout.Close()
	if errIn != nil {
		return errIn
	}
	return errOut
}

func (t *LocalTransport) Name() string { return "local" }
