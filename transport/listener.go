package transport

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// Listener is a bound, listening, non-blocking IPv4 TCP socket.
type Listener struct {
	fd int
}

// Listen creates, binds and listens on addr:port with SO_REUSEADDR, as
// init_socket does in the original xmpp_server.c.
func Listen(addr string, port int, backlog int) (*Listener, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("transport: socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("transport: setsockopt SO_REUSEADDR: %w", err)
	}
	ip, err := parseIPv4(addr)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}
	sa := &unix.SockaddrInet4{Port: port, Addr: ip}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("transport: bind: %w", err)
	}
	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("transport: listen: %w", err)
	}
	return &Listener{fd: fd}, nil
}

func (l *Listener) Fd() int { return l.fd }

func (l *Listener) Close() error { return unix.Close(l.fd) }

// PeerAddr identifies the remote end of an accepted connection.
type PeerAddr struct {
	IP   [4]byte
	Port int
}

func (p PeerAddr) String() string {
	return fmt.Sprintf("%d.%d.%d.%d:%d", p.IP[0], p.IP[1], p.IP[2], p.IP[3], p.Port)
}

// Accept accepts one pending connection, returning a non-blocking
// client fd. ErrWouldBlock when nothing is pending (the reactor only
// calls this on readiness, but accept can still race under edge
// triggering or multiple pending connections).
func (l *Listener) Accept() (int, PeerAddr, error) {
	fd, sa, err := unix.Accept4(l.fd, unix.SOCK_NONBLOCK)
	if err != nil {
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) {
			return -1, PeerAddr{}, ErrWouldBlock
		}
		return -1, PeerAddr{}, err
	}
	var peer PeerAddr
	if in4, ok := sa.(*unix.SockaddrInet4); ok {
		peer = PeerAddr{IP: in4.Addr, Port: in4.Port}
	}
	return fd, peer, nil
}

func parseIPv4(addr string) ([4]byte, error) {
	var out [4]byte
	if addr == "" || addr == "0.0.0.0" {
		return out, nil
	}
	var a, b, c, d int
	n, err := fmt.Sscanf(addr, "%d.%d.%d.%d", &a, &b, &c, &d)
	if err != nil || n != 4 {
		return out, fmt.Errorf("transport: invalid bind address %q", addr)
	}
	out[0], out[1], out[2], out[3] = byte(a), byte(b), byte(c), byte(d)
	return out, nil
}
