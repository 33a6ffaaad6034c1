package muc

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xmp3io/xmp3/jid"
	"github.com/xmp3io/xmp3/router"
	xmlpkg "github.com/xmp3io/xmp3/xml"
)

func newPresence(t *testing.T, from, to, typ string) *xmlpkg.Stanza {
	t.Helper()
	elem := xmlpkg.NewElement("jabber:client", "presence")
	if typ != "" {
		elem.SetAttr("type", typ)
	}
	s, err := xmlpkg.NewStanza(elem, xmlpkg.KindPresence, jid.MustParse(from), jid.MustParse(to))
	require.NoError(t, err)
	return s
}

func newMessage(t *testing.T, from, to, body string) *xmlpkg.Stanza {
	t.Helper()
	elem := xmlpkg.NewElement("jabber:client", "message")
	bodyEl := xmlpkg.NewElement("", "body")
	bodyEl.Text = body
	elem.AppendChild(bodyEl)
	s, err := xmlpkg.NewStanza(elem, xmlpkg.KindMessage, jid.MustParse(from), jid.MustParse(to))
	require.NoError(t, err)
	return s
}

func TestPresenceJoinRelaysToOccupant(t *testing.T) {
	out := router.NewStanzaRouter()
	var delivered []*xmlpkg.Stanza
	full := jid.MustParse("alice@localhost/phone")
	out.Add(full, func(s *xmlpkg.Stanza, _ interface{}) bool {
		delivered = append(delivered, s)
		return true
	}, nil)

	svc := NewService(out)
	handler := svc.Handler()
	require.True(t, handler(newPresence(t, "alice@localhost/phone", "lobby@conference.localhost/alice", ""), nil))

	require.Len(t, delivered, 1)
	require.Equal(t, "alice@localhost/phone", delivered[0].To.String())
}

func TestMessageRelaysToEveryOccupant(t *testing.T) {
	out := router.NewStanzaRouter()
	var toAlice, toBob []*xmlpkg.Stanza
	out.Add(jid.MustParse("alice@localhost/phone"), func(s *xmlpkg.Stanza, _ interface{}) bool {
		toAlice = append(toAlice, s)
		return true
	}, nil)
	out.Add(jid.MustParse("bob@localhost/desk"), func(s *xmlpkg.Stanza, _ interface{}) bool {
		toBob = append(toBob, s)
		return true
	}, nil)

	svc := NewService(out)
	handler := svc.Handler()
	handler(newPresence(t, "alice@localhost/phone", "lobby@conference.localhost/alice", ""), nil)
	handler(newPresence(t, "bob@localhost/desk", "lobby@conference.localhost/bob", ""), nil)

	handler(newMessage(t, "alice@localhost/phone", "lobby@conference.localhost", "hi"), nil)

	require.Len(t, toAlice, 3) // her own join echo, bob's join echo, the message
	require.Len(t, toBob, 2)   // his own join echo, the message
	require.Equal(t, "hi", toBob[len(toBob)-1].Children[0].Text)
	require.NotSame(t, toAlice[len(toAlice)-1], toBob[len(toBob)-1])
}

func TestPresenceUnavailableRemovesOccupant(t *testing.T) {
	out := router.NewStanzaRouter()
	var count int
	out.Add(jid.MustParse("alice@localhost/phone"), func(s *xmlpkg.Stanza, _ interface{}) bool {
		count++
		return true
	}, nil)

	svc := NewService(out)
	handler := svc.Handler()
	handler(newPresence(t, "alice@localhost/phone", "lobby@conference.localhost/alice", ""), nil)
	handler(newPresence(t, "alice@localhost/phone", "lobby@conference.localhost/alice", "unavailable"), nil)

	room := svc.room("lobby")
	require.Empty(t, room.occupants)
	require.Equal(t, 1, count) // only the join echo, not a second one after leaving
}

func TestMessageToEmptyRoomIsDropped(t *testing.T) {
	out := router.NewStanzaRouter()
	svc := NewService(out)
	handler := svc.Handler()
	ok := handler(newMessage(t, "alice@localhost/phone", "empty@conference.localhost", "hi"), nil)
	require.True(t, ok)
}

func TestIsSubDomain(t *testing.T) {
	require.True(t, IsSubDomain("localhost", "conference.localhost"))
	require.False(t, IsSubDomain("localhost", "localhost"))
	require.False(t, IsSubDomain("localhost", "evil.com"))
}
