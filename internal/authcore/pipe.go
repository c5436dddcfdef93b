package authcore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"syscall"
	"time"
)

// maxFrameSize bounds a single helper message. A login payload or prompt
// reply is at most a few kilobytes; anything near this limit is a broken
// or hostile helper.
const maxFrameSize = 1 << 20

// AuthPipe is a length-framed JSON channel to a spawned helper process:
// each message is a 4-byte big-endian length followed by that many bytes
// of UTF-8 JSON. One end is handed to the child as an inherited fd (via
// exec.Cmd's ExtraFiles); the other end stays in this process as a
// net.Conn wrapping a stream-socket pair.
type AuthPipe struct {
	conn     net.Conn
	childEnd *os.File

	onMessage func(map[string]any)
	onClose   func(error)

	mu     sync.Mutex
	closed bool

	processTimer  *time.Timer
	responseTimer *time.Timer
}

// NewAuthPipe creates a connected pair of stream-socket fds and returns the
// parent-side AuthPipe. ChildFile returns the fd to pass to the spawned
// process's ExtraFiles.
func NewAuthPipe() (*AuthPipe, error) {
	fds, err := syscall.Socketpair(syscall.AF_UNIX, syscall.SOCK_STREAM, 0)
	if err != nil {
		return nil, fmt.Errorf("authcore: socketpair: %w", err)
	}

	parentFile := os.NewFile(uintptr(fds[0]), "auth-pipe-parent")
	childFile := os.NewFile(uintptr(fds[1]), "auth-pipe-child")

	conn, err := net.FileConn(parentFile)
	if err != nil {
		parentFile.Close()
		childFile.Close()
		return nil, fmt.Errorf("authcore: fileconn: %w", err)
	}
	// FileConn dup'd the fd; the originals can be released independently.
	parentFile.Close()

	return &AuthPipe{
		conn:     conn,
		childEnd: childFile,
	}, nil
}

// ChildFile returns the fd meant for the spawned process's ExtraFiles[0]
// (fd 3 in the child). The caller must close it after the process has been
// started; the child holds its own reference via dup on exec.
func (p *AuthPipe) ChildFile() *os.File { return p.childEnd }

// OnMessage registers the callback invoked for every JSON object received
// from the helper. OnClose registers the callback invoked once the pipe's
// read loop ends, carrying the terminal error (nil on a clean EOF).
func (p *AuthPipe) OnMessage(f func(map[string]any)) { p.onMessage = f }
func (p *AuthPipe) OnClose(f func(error))            { p.onClose = f }

// Run starts the read loop and blocks until the pipe closes or ctx is
// done. It is meant to run in its own goroutine.
func (p *AuthPipe) Run(ctx context.Context) {
	done := make(chan struct{})
	var loopErr error
	go func() {
		defer close(done)
		for {
			frame, err := readFrame(p.conn)
			if err != nil {
				if !errors.Is(err, io.EOF) {
					loopErr = err
				}
				return
			}
			var msg map[string]any
			if err := json.Unmarshal(frame, &msg); err != nil {
				continue
			}
			if p.onMessage != nil {
				p.onMessage(msg)
			}
		}
	}()

	var closeErr error
	select {
	case <-done:
		closeErr = loopErr
	case <-ctx.Done():
		closeErr = ctx.Err()
		p.conn.Close()
		<-done
	}

	p.stopTimers()
	if p.onClose != nil {
		p.onClose(closeErr)
	}
}

// Send writes one JSON object to the helper as a length-prefixed frame.
func (p *AuthPipe) Send(msg map[string]any) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return writeFrame(p.conn, payload)
}

// writeFrame emits a 4-byte big-endian length followed by the payload.
func writeFrame(w io.Writer, payload []byte) error {
	if len(payload) > maxFrameSize {
		return fmt.Errorf("authcore: frame of %d bytes exceeds limit", len(payload))
	}
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// readFrame reads one length-prefixed frame. A clean EOF before the first
// header byte is io.EOF; an EOF mid-frame is a truncation error.
func readFrame(r io.Reader) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n > maxFrameSize {
		return nil, fmt.Errorf("authcore: frame of %d bytes exceeds limit", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return buf, nil
}

// ArmProcessTimeout fires f once after d unless the pipe's read loop has
// ended first, bounding the total lifetime of the helper process.
func (p *AuthPipe) ArmProcessTimeout(d time.Duration, f func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.processTimer = time.AfterFunc(d, f)
}

// ArmResponseTimeout fires f once if no X-Login-Reply resumes the dialogue
// within d, bounding how long a human may sit on a prompt.
func (p *AuthPipe) ArmResponseTimeout(d time.Duration, f func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.responseTimer = time.AfterFunc(d, f)
}

// DisarmResponseTimeout cancels a previously armed response timeout, used
// once the client's reply has actually arrived.
func (p *AuthPipe) DisarmResponseTimeout() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.responseTimer != nil {
		p.responseTimer.Stop()
	}
}

func (p *AuthPipe) stopTimers() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.processTimer != nil {
		p.processTimer.Stop()
	}
	if p.responseTimer != nil {
		p.responseTimer.Stop()
	}
}

// Close closes the parent-side connection, ending Run's read loop.
func (p *AuthPipe) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()
	return p.conn.Close()
}
