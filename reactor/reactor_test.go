package reactor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func socketpair(t *testing.T) (int, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
	require.NoError(t, err)
	t.Cleanup(func() {
		unix.Close(fds[0])
		unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func TestRegisterDispatchesOnWrite(t *testing.T) {
	r, err := New()
	require.NoError(t, err)
	defer r.Close()

	a, b := socketpair(t)

	done := make(chan struct{}, 1)
	require.NoError(t, r.Register(a, func() {
		buf := make([]byte, 16)
		n, _ := unix.Read(a, buf)
		require.Equal(t, "hi", string(buf[:n]))
		done <- struct{}{}
		r.Stop()
	}))

	go func() {
		_, _ = unix.Write(b, []byte("hi"))
	}()

	require.NoError(t, r.Run())
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("callback never fired")
	}
}

func TestRegisterTwiceIsError(t *testing.T) {
	r, err := New()
	require.NoError(t, err)
	defer r.Close()

	a, _ := socketpair(t)
	require.NoError(t, r.Register(a, func() {}))
	require.ErrorIs(t, r.Register(a, func() {}), ErrAlreadyRegistered)
}

func TestDeregisterDeferredDuringOwnCallback(t *testing.T) {
	r, err := New()
	require.NoError(t, err)
	defer r.Close()

	a, b := socketpair(t)

	var sawDuringCallback bool
	require.NoError(t, r.Register(a, func() {
		buf := make([]byte, 16)
		unix.Read(a, buf)
		r.Deregister(a) // reentrant: must be deferred
		_, sawDuringCallback = r.callbacks[a]
		r.Stop()
	}))

	go func() { _, _ = unix.Write(b, []byte("x")) }()
	require.NoError(t, r.Run())

	require.True(t, sawDuringCallback, "fd must still be registered while its own callback runs")
	_, stillThere := r.callbacks[a]
	require.False(t, stillThere, "deferred removal must take effect once the callback returns")
}
