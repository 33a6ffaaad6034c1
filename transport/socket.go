// Package transport provides the uniform, non-blocking read/write/close
// socket abstraction of spec §4.2: a plain TCP variant and a TLS
// variant constructed by wrapping a plain socket in place during
// STARTTLS, on the same file descriptor, so reactor registration
// survives the upgrade.
package transport

import (
	"crypto/tls"
	"errors"
	"io"
	"net"
	"time"

	"golang.org/x/sys/unix"
)

// ErrWouldBlock is returned by Recv/Send when the operation could not
// complete without blocking; the reactor should simply wait for the
// next readiness notification.
var ErrWouldBlock = errors.New("transport: would block")

// Kind distinguishes the concrete transport in use.
type Kind int

const (
	KindSocket Kind = iota
	KindWebSocket
)

// Socket is the uniform operation set over a plain or TLS-wrapped
// descriptor.
type Socket interface {
	// Fd returns the underlying file descriptor, stable across an
	// in-place TLS upgrade.
	Fd() int
	// Recv reads into buf. It returns (0, io.EOF) on peer close,
	// (0, ErrWouldBlock) if no data is currently available, or a
	// fatal error otherwise.
	Recv(buf []byte) (int, error)
	// Send writes buf, returning the number of bytes actually
	// written. A partial write (n < len(buf)) with a nil error means
	// the kernel send buffer is full; per spec §5 the simplest valid
	// response is to treat that as fatal to the connection.
	Send(buf []byte) (int, error)
	Close() error
	// StartTLS upgrades the connection in place using cfg, blocking
	// only for the duration of the handshake itself (a one-time
	// negotiation step, not steady-state traffic — see DESIGN.md).
	StartTLS(cfg *tls.Config) error
	// Secured reports whether TLS has been negotiated.
	Secured() bool
}

// socket is the plain/TLS implementation backed directly by a raw,
// non-blocking file descriptor (no net.Conn/runtime-netpoller
// involved, so the same fd can be driven by our own epoll reactor).
type socket struct {
	fd      int
	tlsConn *tls.Conn
}

// NewSocket wraps an already-connected, non-blocking file descriptor.
func NewSocket(fd int) Socket {
	return &socket{fd: fd}
}

func (s *socket) Fd() int { return s.fd }

func (s *socket) Secured() bool { return s.tlsConn != nil }

func (s *socket) Recv(buf []byte) (int, error) {
	if s.tlsConn != nil {
		n, err := s.tlsConn.Read(buf)
		return n, translateTLSErr(err)
	}
	n, err := unix.Read(s.fd, buf)
	return translateRaw(n, err)
}

func (s *socket) Send(buf []byte) (int, error) {
	if s.tlsConn != nil {
		n, err := s.tlsConn.Write(buf)
		return n, translateTLSErr(err)
	}
	n, err := unix.Write(s.fd, buf)
	return translateRaw(n, err)
}

func (s *socket) Close() error {
	return unix.Close(s.fd)
}

// StartTLS performs the handshake synchronously, polling the raw fd
// for readiness between non-blocking handshake attempts so the
// reactor's own goroutine remains the only one touching this socket.
func (s *socket) StartTLS(cfg *tls.Config) error {
	adapter := &fdConn{fd: s.fd}
	conn := tls.Server(adapter, cfg)
	for {
		err := conn.Handshake()
		if err == nil {
			s.tlsConn = conn
			return nil
		}
		if errors.Is(err, ErrWouldBlock) {
			if perr := pollReadable(s.fd); perr != nil {
				return perr
			}
			continue
		}
		return err
	}
}

func translateRaw(n int, err error) (int, error) {
	if err == nil {
		if n == 0 {
			return 0, io.EOF
		}
		return n, nil
	}
	if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) {
		return 0, ErrWouldBlock
	}
	return 0, err
}

func translateTLSErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrWouldBlock) {
		return ErrWouldBlock
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrWouldBlock
	}
	return err
}

func pollReadable(fd int) error {
	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	for {
		n, err := unix.Poll(fds, 1000)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return err
		}
		if n > 0 {
			return nil
		}
	}
}

// fdConn adapts a raw non-blocking fd to net.Conn so crypto/tls can
// drive the handshake over it. Reads/writes are single non-blocking
// syscalls: on EAGAIN they return ErrWouldBlock, which StartTLS's loop
// turns into a poll-and-retry — this is the only place the fd is
// driven to blocking completion, and only for the handshake.
type fdConn struct {
	fd int
}

func (c *fdConn) Read(b []byte) (int, error) {
	n, err := unix.Read(c.fd, b)
	return translateRaw(n, err)
}

func (c *fdConn) Write(b []byte) (int, error) {
	n, err := unix.Write(c.fd, b)
	if err != nil {
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) {
			return 0, ErrWouldBlock
		}
		return 0, err
	}
	return n, nil
}

func (c *fdConn) Close() error                       { return nil } // socket owns lifecycle
func (c *fdConn) LocalAddr() net.Addr                { return nil }
func (c *fdConn) RemoteAddr() net.Addr               { return nil }
func (c *fdConn) SetDeadline(t time.Time) error      { return nil }
func (c *fdConn) SetReadDeadline(t time.Time) error  { return nil }
func (c *fdConn) SetWriteDeadline(t time.Time) error { return nil }
