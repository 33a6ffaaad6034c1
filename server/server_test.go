package server

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/xmp3io/xmp3/c2s"
	"github.com/xmp3io/xmp3/jid"
	"github.com/xmp3io/xmp3/reactor"
	"github.com/xmp3io/xmp3/storage/model"
	"github.com/xmp3io/xmp3/transport"
	xmlpkg "github.com/xmp3io/xmp3/xml"
)

type fakeRepo struct{}

func (fakeRepo) FetchUser(string) (*model.User, error)            { return nil, nil }
func (fakeRepo) UpsertUser(*model.User) error                      { return nil }
func (fakeRepo) FetchRoster(string) ([]model.RosterItem, error)    { return nil, nil }

func newTestServer(t *testing.T, mucSubdomain string) *Server {
	t.Helper()
	rct, err := reactor.New()
	require.NoError(t, err)
	t.Cleanup(func() { rct.Close() })

	cfg := Config{
		BindAddress:  "127.0.0.1",
		Port:         0,
		Domain:       "localhost",
		MUCSubdomain: mucSubdomain,
	}
	s, err := New(cfg, rct, fakeRepo{}, nil)
	require.NoError(t, err)
	t.Cleanup(s.Shutdown)
	return s
}

func newAttachedClient(t *testing.T, s *Server, id string) *c2s.Client {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
	require.NoError(t, err)
	t.Cleanup(func() { unix.Close(fds[1]) })

	sock := transport.NewSocket(fds[0])
	cfg := &c2s.Config{Domain: s.cfg.Domain}
	c, err := c2s.New(id, sock, s.rct, cfg, s.StanzaRouter, nil, false, s.onClientClose)
	require.NoError(t, err)
	s.clients[id] = c
	return c
}

func newIQ(to string) *xmlpkg.Stanza {
	elem := xmlpkg.NewElement("jabber:client", "iq")
	elem.SetAttr("type", "get")
	query := xmlpkg.NewElement("jabber:iq:roster", "query")
	elem.AppendChild(query)
	s, _ := xmlpkg.NewStanza(elem, xmlpkg.KindIQ, jid.MustParse("alice@localhost/home"), jid.MustParse(to))
	return s
}

func TestNewRejectsMUCSubdomainNotUnderDomain(t *testing.T) {
	rct, err := reactor.New()
	require.NoError(t, err)
	defer rct.Close()

	cfg := Config{BindAddress: "127.0.0.1", Port: 0, Domain: "localhost", MUCSubdomain: "evil.com"}
	_, err = New(cfg, rct, fakeRepo{}, nil)
	require.Error(t, err)
}

func TestCoreRouteAnswersBareDomainIQ(t *testing.T) {
	s := newTestServer(t, "conference.localhost")

	ok := s.StanzaRouter.Route(newIQ("localhost"))
	require.True(t, ok)
}

func TestCoreRouteDoesNotSwallowFullJIDTarget(t *testing.T) {
	s := newTestServer(t, "conference.localhost")

	var delivered bool
	full := jid.MustParse("bob@localhost/work")
	s.StanzaRouter.Add(full, func(*xmlpkg.Stanza, interface{}) bool {
		delivered = true
		return true
	}, nil)

	elem := xmlpkg.NewElement("jabber:client", "message")
	stanza, err := xmlpkg.NewStanza(elem, xmlpkg.KindMessage, jid.MustParse("alice@localhost/home"), full)
	require.NoError(t, err)

	s.StanzaRouter.Route(stanza)
	require.True(t, delivered)
}

func TestClientListenerFiresOnDisconnectThenIsConsumed(t *testing.T) {
	s := newTestServer(t, "")
	c := newAttachedClient(t, s, "client-1")

	var calls int
	var gotClient *c2s.Client
	var gotData interface{}
	cb := func(cl *c2s.Client, data interface{}) {
		calls++
		gotClient = cl
		gotData = data
	}
	s.AddClientListener(c, cb, "payload")

	c.Disconnect(nil)
	require.Equal(t, 1, calls)
	require.Same(t, c, gotClient)
	require.Equal(t, "payload", gotData)

	// teardown is a no-op on an already-closed client, so a second
	// Disconnect must not fire the (already-consumed) listener again.
	c.Disconnect(nil)
	require.Equal(t, 1, calls)
}

func TestClientListenerDuplicateAddIsIgnored(t *testing.T) {
	s := newTestServer(t, "")
	c := newAttachedClient(t, s, "client-2")

	var calls int
	cb := func(*c2s.Client, interface{}) { calls++ }
	s.AddClientListener(c, cb, nil)
	s.AddClientListener(c, cb, nil)

	c.Disconnect(nil)
	require.Equal(t, 1, calls)
}

func TestRemoveClientListenerStopsNotification(t *testing.T) {
	s := newTestServer(t, "")
	c := newAttachedClient(t, s, "client-3")

	var calls int
	cb := func(*c2s.Client, interface{}) { calls++ }
	s.AddClientListener(c, cb, nil)
	s.RemoveClientListener(c, cb, nil)

	c.Disconnect(nil)
	require.Equal(t, 0, calls)
}

func TestMUCRouteReachesRoomUnderSubdomain(t *testing.T) {
	s := newTestServer(t, "conference.localhost")

	elem := xmlpkg.NewElement("jabber:client", "presence")
	target := jid.MustParse("lobby@conference.localhost/alice")
	stanza, err := xmlpkg.NewStanza(elem, xmlpkg.KindPresence, jid.MustParse("alice@localhost/home"), target)
	require.NoError(t, err)

	ok := s.StanzaRouter.Route(stanza)
	require.True(t, ok)
}
