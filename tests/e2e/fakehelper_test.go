package e2e

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"io"
	"os"
	"time"
)

// runFakeHelper is the helper half of the suite: the gateway under test
// execs a thin wrapper script that re-execs this test binary with
// WEBGATE_FAKE_HELPER set, and this function then plays the out-of-process
// login helper, speaking the length-framed JSON protocol on fd 3 — a
// 4-byte big-endian length followed by one JSON object per message — just
// as a real session helper would.
func runFakeHelper(mode string) {
	pipe := os.NewFile(3, "auth-pipe")
	defer pipe.Close()

	recv := func() []byte {
		frame, err := readHelperFrame(pipe)
		if err != nil {
			os.Exit(1)
		}
		return frame
	}
	send := func(v map[string]any) {
		payload, _ := json.Marshal(v)
		if err := writeHelperFrame(pipe, payload); err != nil {
			os.Exit(1)
		}
	}

	recv()
	switch mode {
	case "success":
		send(map[string]any{"user": "user", "login-data": map[string]any{"method": "fake"}})
		io.Copy(os.Stdout, os.Stdin)
	case "fail":
		send(map[string]any{"error": "authentication-failed", "message": "bad"})
	case "prompt":
		send(map[string]any{"prompt": "Token?"})
		reply := recv()
		if bytes.Contains(reply, []byte("123456")) {
			send(map[string]any{"user": "user"})
		} else {
			send(map[string]any{"error": "authentication-failed", "message": "wrong token"})
		}
		io.Copy(os.Stdout, os.Stdin)
	case "slow":
		time.Sleep(2 * time.Second)
		send(map[string]any{"user": "user"})
		io.Copy(os.Stdout, os.Stdin)
	case "unavailable":
		if countFile := os.Getenv("WEBGATE_FAKE_HELPER_COUNT"); countFile != "" {
			f, err := os.OpenFile(countFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
			if err == nil {
				f.WriteString("run\n")
				f.Close()
			}
		}
		send(map[string]any{"error": "authentication-unavailable", "message": "no mechanism"})
	default:
		os.Exit(1)
	}
}

// writeHelperFrame and readHelperFrame are the helper program's own
// implementation of the wire framing, independent of the gateway's.
func writeHelperFrame(w io.Writer, payload []byte) error {
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

func readHelperFrame(r io.Reader) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	buf := make([]byte, binary.BigEndian.Uint32(hdr[:]))
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
