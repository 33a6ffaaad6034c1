package server

import (
	"fmt"
	"net"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/xmp3io/xmp3/log"
)

var upgrader = websocket.Upgrader{
	Subprotocols: []string{"xmpp"},
	CheckOrigin:  func(r *http.Request) bool { return true },
}

// ServeWebSocket starts the additive RFC 7395 transport on its own
// listener. Accepting the HTTP upgrade handshake is the one place this
// transport needs a goroutine-per-connection model distinct from the
// core's single reactor thread (net/http's own contract); the upgrade
// handler itself does nothing but hand the finished *websocket.Conn to
// enqueueWebSocket, which bridges back onto the reactor thread — see
// DESIGN.md.
func (s *Server) ServeWebSocket(addr string, port int) error {
	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", addr, port))
	if err != nil {
		return fmt.Errorf("server: websocket listen: %w", err)
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/xmpp-websocket", s.handleWebSocketUpgrade)
	go func() {
		if err := http.Serve(ln, mux); err != nil {
			log.Errorf("server: websocket listener stopped: %v", err)
		}
	}()
	return nil
}

func (s *Server) handleWebSocketUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Errorf("server: websocket upgrade: %v", err)
		return
	}
	s.enqueueWebSocket(conn)
}
