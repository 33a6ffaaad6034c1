package c2s

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sys/unix"

	"github.com/xmp3io/xmp3/auth"
	"github.com/xmp3io/xmp3/reactor"
	"github.com/xmp3io/xmp3/router"
	"github.com/xmp3io/xmp3/storage/model"
	"github.com/xmp3io/xmp3/transport"
)

type fakeRepo struct{ users map[string]*model.User }

func (f *fakeRepo) FetchUser(username string) (*model.User, error) { return f.users[username], nil }
func (f *fakeRepo) UpsertUser(u *model.User) error                 { f.users[u.Username] = u; return nil }
func (f *fakeRepo) FetchRoster(string) ([]model.RosterItem, error) { return nil, nil }

func newFakeRepo(username, password string) *fakeRepo {
	hash, _ := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	return &fakeRepo{users: map[string]*model.User{
		username: {Username: username, PasswordHash: string(hash)},
	}}
}

func socketpair(t *testing.T) (int, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
	require.NoError(t, err)
	t.Cleanup(func() { unix.Close(fds[0]); unix.Close(fds[1]) })
	return fds[0], fds[1]
}

func recvAll(t *testing.T, fd int) string {
	t.Helper()
	buf := make([]byte, 8192)
	n, err := unix.Read(fd, buf)
	if err != nil {
		if err == unix.EAGAIN {
			return ""
		}
		require.NoError(t, err)
	}
	return string(buf[:n])
}

func newTestClient(t *testing.T) (*Client, int, *router.StanzaRouter) {
	t.Helper()
	r, err := reactor.New()
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })

	a, b := socketpair(t)
	sock := transport.NewSocket(a)
	sr := router.NewStanzaRouter()
	authr := auth.NewPlain(newFakeRepo("alice", "secret"))
	cfg := &Config{Domain: "localhost"}

	c, err := New("stream-1", sock, r, cfg, sr, []auth.Authenticator{authr}, false, nil)
	require.NoError(t, err)
	return c, b, sr
}

func TestPlaintextAuthAndBind(t *testing.T) {
	c, b, sr := newTestClient(t)

	_, err := unix.Write(b, []byte(`<?xml version="1.0"?><stream:stream xmlns="jabber:client" xmlns:stream="http://etherx.jabber.org/streams" to="localhost" version="1.0">`))
	require.NoError(t, err)
	c.onReadable()
	out := recvAll(t, b)
	require.Contains(t, out, "stream:stream")
	require.Contains(t, out, "mechanism")
	require.Contains(t, out, "PLAIN")

	creds := base64.StdEncoding.EncodeToString([]byte("\x00alice\x00secret"))
	_, err = unix.Write(b, []byte(`<auth xmlns="urn:ietf:params:xml:ns:xmpp-sasl" mechanism="PLAIN">`+creds+`</auth>`))
	require.NoError(t, err)
	c.onReadable()
	out = recvAll(t, b)
	require.Contains(t, out, "success")
	require.Equal(t, "alice", c.username)

	_, err = unix.Write(b, []byte(`<?xml version="1.0"?><stream:stream xmlns="jabber:client" xmlns:stream="http://etherx.jabber.org/streams" to="localhost" version="1.0">`))
	require.NoError(t, err)
	c.onReadable()
	out = recvAll(t, b)
	require.Contains(t, out, "bind")

	_, err = unix.Write(b, []byte(`<iq type="set" id="bind1"><bind xmlns="urn:ietf:params:xml:ns:xmpp-bind"><resource>home</resource></bind></iq>`))
	require.NoError(t, err)
	c.onReadable()
	out = recvAll(t, b)
	require.Contains(t, out, `id="bind1"`)
	require.Contains(t, out, "alice@localhost/home")

	require.Equal(t, stateBound, c.state)
	require.True(t, sr.HasRoute(c.jid))
}

func TestUnauthorizedStanzaBeforeSessionActive(t *testing.T) {
	c, b, _ := newTestClient(t)

	_, err := unix.Write(b, []byte(`<?xml version="1.0"?><stream:stream xmlns="jabber:client" xmlns:stream="http://etherx.jabber.org/streams" to="localhost" version="1.0">`))
	require.NoError(t, err)
	c.onReadable()
	recvAll(t, b)

	_, err = unix.Write(b, []byte(`<message to="bob@localhost"><body>hi</body></message>`))
	require.NoError(t, err)
	c.onReadable()
	out := recvAll(t, b)
	require.True(t, strings.Contains(out, "not-authorized"))
	require.Equal(t, stateClosed, c.state)
}

func TestUnknownHostClosesStream(t *testing.T) {
	c, b, _ := newTestClient(t)

	_, err := unix.Write(b, []byte(`<?xml version="1.0"?><stream:stream xmlns="jabber:client" xmlns:stream="http://etherx.jabber.org/streams" to="other.example" version="1.0">`))
	require.NoError(t, err)
	c.onReadable()
	out := recvAll(t, b)
	require.Contains(t, out, "host-unknown")
	require.Equal(t, stateClosed, c.state)
}
