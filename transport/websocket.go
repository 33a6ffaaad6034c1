package transport

import (
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/gorilla/websocket"
	"golang.org/x/sys/unix"
)

// wsSocket is the additive RFC 7395 "XMPP over WebSocket" transport:
// every inbound WS message carries a chunk of the client's framed XML
// stream, and every outbound write is sent as one text message. It
// satisfies the same Socket contract as the raw TCP transport so the
// rest of the pipeline (parser, connection state machine, router)
// never has to know which one it is talking to.
//
// gorilla/websocket's Conn has no non-blocking mode, but the reactor
// requires a pollable fd. A dedicated goroutine does the one blocking
// call the transport fundamentally needs (ReadMessage) and hands each
// message to the reactor thread through a self-pipe: it queues the
// bytes and writes one wake-up byte to pipeW. The reactor never reads
// the pipe's payload directly, only its readability; onReadable drains
// the queue through Recv exactly like it would a raw socket, so the
// single-threaded router/state-machine invariants are preserved —
// gorilla's own contract (one concurrent reader, one concurrent
// writer) is what makes this safe without any lock around the conn.
type wsSocket struct {
	conn  *websocket.Conn
	pipeR int
	pipeW int

	mu      sync.Mutex
	pending [][]byte
	closed  bool
}

// NewWebSocket wraps an already-upgraded *websocket.Conn, starts its
// read pump, and returns a Socket whose Fd is the read end of a pipe
// the reactor should register for readability.
func NewWebSocket(conn *websocket.Conn) (Socket, error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return nil, fmt.Errorf("transport: pipe2: %w", err)
	}
	w := &wsSocket{conn: conn, pipeR: fds[0], pipeW: fds[1]}
	go w.readPump()
	return w, nil
}

func (w *wsSocket) readPump() {
	for {
		_, data, err := w.conn.ReadMessage()
		if err != nil {
			w.mu.Lock()
			w.closed = true
			w.mu.Unlock()
			unix.Write(w.pipeW, []byte{0})
			return
		}
		w.mu.Lock()
		w.pending = append(w.pending, data)
		w.mu.Unlock()
		unix.Write(w.pipeW, []byte{0})
	}
}

func (w *wsSocket) Fd() int { return w.pipeR }

func (w *wsSocket) Secured() bool {
	_, ok := w.conn.UnderlyingConn().(*tls.Conn)
	return ok
}

// Recv drains one wake-up byte per queued message (or per close
// notification) and returns that message's bytes, keeping the pipe's
// readability in sync with the queue.
func (w *wsSocket) Recv(buf []byte) (int, error) {
	w.mu.Lock()
	if len(w.pending) == 0 {
		closed := w.closed
		w.mu.Unlock()
		if closed {
			w.drainWake()
			return 0, io.EOF
		}
		return 0, ErrWouldBlock
	}
	data := w.pending[0]
	w.pending = w.pending[1:]
	w.mu.Unlock()
	w.drainWake()
	return copy(buf, data), nil
}

func (w *wsSocket) drainWake() {
	var b [1]byte
	unix.Read(w.pipeR, b[:])
}

func (w *wsSocket) Send(buf []byte) (int, error) {
	if err := w.conn.WriteMessage(websocket.TextMessage, buf); err != nil {
		return 0, err
	}
	return len(buf), nil
}

func (w *wsSocket) Close() error {
	unix.Close(w.pipeR)
	unix.Close(w.pipeW)
	return w.conn.Close()
}

// StartTLS always returns an error: WebSocket security is negotiated at
// the HTTP layer (wss://) before the connection ever reaches this socket.
func (w *wsSocket) StartTLS(cfg *tls.Config) error {
	return errors.New("transport: STARTTLS not applicable to a WebSocket transport")
}
