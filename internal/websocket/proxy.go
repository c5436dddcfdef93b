// Package websocket bridges a browser's WebSocket connection to a
// session's backend byte-stream transport (a spawned helper's stdio, or a
// loopback SSH session).
package websocket

import (
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/webgate-io/webgate/internal/transport"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Bridge pumps bytes bidirectionally between a WebSocket connection and a
// session transport until either side closes or errors. It blocks until
// the bridge ends.
func Bridge(conn *websocket.Conn, tp transport.Transport) {
	defer conn.Close()
	defer tp.Close()

	var wg sync.WaitGroup
	errCh := make(chan error, 2)

	wg.Add(2)
	go func() {
		defer wg.Done()
		errCh <- pumpFromWebSocket(conn, tp)
	}()
	go func() {
		defer wg.Done()
		errCh <- pumpToWebSocket(tp, conn)
	}()

	go func() {
		wg.Wait()
		close(errCh)
	}()

	if err := <-errCh; err != nil && !isCloseError(err) {
		slog.Warn("websocket: bridge ended", "error", err)
	}
}

// pumpFromWebSocket reads binary and text WebSocket frames from conn and
// writes their payload to tp; other frame types are skipped.
func pumpFromWebSocket(conn *websocket.Conn, tp transport.Transport) error {
	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if messageType != websocket.BinaryMessage && messageType != websocket.TextMessage {
			continue
		}
		if _, err := tp.Write(message); err != nil {
			return err
		}
	}
}

// pumpToWebSocket reads raw bytes from tp and forwards each read as a
// binary WebSocket frame.
func pumpToWebSocket(tp transport.Transport, conn *websocket.Conn) error {
	buf := make([]byte, 4096)
	for {
		n, err := tp.Read(buf)
		if n > 0 {
			if werr := conn.WriteMessage(websocket.BinaryMessage, buf[:n]); werr != nil {
				return werr
			}
		}
		if err != nil {
			return err
		}
	}
}

func isCloseError(err error) bool {
	if err == nil {
		return false
	}
	if err == io.EOF {
		return true
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return true
	}
	return false
}
