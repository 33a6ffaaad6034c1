// Package reactor implements the single-threaded I/O multiplexer of
// spec §4.1: register(fd, callback), run() blocks forever dispatching
// readiness, deregister(fd) defers actual removal until any in-flight
// callback for that fd returns. Built directly on epoll via
// golang.org/x/sys/unix — no pack example ships a readiness
// multiplexer, so this is ecosystem enrichment (the idiomatic way to
// hand-roll one in Go), not a stdlib fallback; see DESIGN.md.
package reactor

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/xmp3io/xmp3/log"
)

// ErrAlreadyRegistered is returned by Register when fd already has a
// callback installed; replacing a registration is an error, not an
// implicit update.
var ErrAlreadyRegistered = errors.New("reactor: fd already registered")

// OnReadable is invoked once per readiness notification for its fd.
// Callbacks run to completion before the next one begins and must not
// themselves block.
type OnReadable func()

// Reactor is a single-threaded epoll-based readiness loop.
type Reactor struct {
	epfd      int
	callbacks map[int]OnReadable
	// current is the fd whose callback is presently executing, or -1.
	current int
	// pendingRemoval holds fds whose Deregister arrived reentrantly
	// while their own callback was still running.
	pendingRemoval map[int]bool
	stop           chan struct{}
}

// New creates a Reactor backed by a fresh epoll instance.
func New() (*Reactor, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("reactor: epoll_create1: %w", err)
	}
	return &Reactor{
		epfd:           epfd,
		callbacks:      make(map[int]OnReadable),
		current:        -1,
		pendingRemoval: make(map[int]bool),
		stop:           make(chan struct{}),
	}, nil
}

// Register installs cb for fd. Idempotent in the sense that calling it
// twice for the same never-deregistered fd is an error — replacing a
// registration silently is disallowed.
func (r *Reactor) Register(fd int, cb OnReadable) error {
	if _, exists := r.callbacks[fd]; exists {
		return ErrAlreadyRegistered
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return fmt.Errorf("reactor: epoll_ctl add fd %d: %w", fd, err)
	}
	r.callbacks[fd] = cb
	return nil
}

// Deregister removes fd's registration. If called from within that
// fd's own callback (reentrantly), the removal is deferred until the
// callback returns, per spec §4.1.
func (r *Reactor) Deregister(fd int) {
	if fd == r.current {
		r.pendingRemoval[fd] = true
		return
	}
	r.removeNow(fd)
}

func (r *Reactor) removeNow(fd int) {
	if _, exists := r.callbacks[fd]; !exists {
		return
	}
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		log.Errorf("reactor: epoll_ctl del fd %d: %v", fd, err)
	}
	delete(r.callbacks, fd)
}

// Stop causes a blocked Run to return. Intended for tests and graceful
// shutdown; the core protocol never calls it (disconnect is the only
// per-connection termination, per spec §5).
func (r *Reactor) Stop() {
	close(r.stop)
}

// Run blocks, dispatching one OnReadable callback at a time for every
// ready fd in each batch, with no ordering guarantee between fds
// within one readiness batch. It returns only after Stop is called or
// an unrecoverable epoll_wait error occurs.
func (r *Reactor) Run() error {
	events := make([]unix.EpollEvent, 128)
	for {
		select {
		case <-r.stop:
			return nil
		default:
		}
		n, err := unix.EpollWait(r.epfd, events, 1000)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return fmt.Errorf("reactor: epoll_wait: %w", err)
		}
		for i := 0; i < n; i++ {
			fd := int(events[i].Fd)
			cb, ok := r.callbacks[fd]
			if !ok {
				continue // deregistered between epoll_wait returning and now
			}
			r.current = fd
			cb()
			r.current = -1
			if r.pendingRemoval[fd] {
				delete(r.pendingRemoval, fd)
				r.removeNow(fd)
			}
		}
	}
}

// Close releases the epoll instance.
func (r *Reactor) Close() error {
	return unix.Close(r.epfd)
}
