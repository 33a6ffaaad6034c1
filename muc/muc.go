// Package muc hosts Multi-User Chat traffic behind the same stanza
// route contract every other handler uses (spec §4.6/§6): it is
// reached only because the server registers its sub-domain JID in the
// ordinary StanzaRouter, the same way the server JID reaches the core
// handler. Per spec's Non-goals, full XEP-0045 room semantics are out
// of scope; this implements the minimal subset that makes the
// dispatch contract observable — joining via presence, and relaying
// messages to a room's current occupants.
package muc

import (
	"strings"
	"sync"

	"github.com/xmp3io/xmp3/jid"
	"github.com/xmp3io/xmp3/log"
	"github.com/xmp3io/xmp3/router"
	xmlpkg "github.com/xmp3io/xmp3/xml"
)

// occupant is one connected member of a room: the full JID their own
// c2s connection is bound to (the only address the core router can
// actually deliver to) and the nickname they joined the room under.
type occupant struct {
	full *jid.JID
	nick string
}

// Room is one chatroom, keyed by its local part (e.g. "lobby" in
// lobby@conference.localhost). occupants is keyed by the occupant's
// bare account JID, since a join/leave pair always shares one account
// even if the resource differs between them.
type Room struct {
	occupants map[string]occupant
}

// Service is the MUC component: a registry of rooms plus the single
// StanzaHandler installed at the server's MUC sub-domain JID.
type Service struct {
	mu    sync.Mutex // modules may be driven off the reactor thread in tests; the core itself never calls concurrently
	rooms map[string]*Room
	out   *router.StanzaRouter
}

// NewService creates an empty MUC component that routes replies
// through out (the same StanzaRouter the core uses).
func NewService(out *router.StanzaRouter) *Service {
	return &Service{rooms: make(map[string]*Room), out: out}
}

// Handler returns the StanzaHandler to register at the MUC sub-domain
// pattern (domain=<muc sub-domain>, local=jid.Wildcard, so it matches
// any room under that domain; see server.registerBuiltins).
func (s *Service) Handler() router.StanzaHandler {
	return func(stanza *xmlpkg.Stanza, _ interface{}) bool {
		roomName := stanza.To.Local()
		if roomName == "" {
			return true // traffic to the bare MUC domain itself: nothing to do
		}
		switch stanza.Kind {
		case xmlpkg.KindPresence:
			s.handlePresence(roomName, stanza)
		case xmlpkg.KindMessage:
			s.handleMessage(roomName, stanza)
		case xmlpkg.KindIQ:
			if typ := stanza.Type(); typ == "get" || typ == "set" {
				s.out.Route(xmlpkg.NewIQError(stanza, "cancel", "service-unavailable"))
			}
		}
		return true
	}
}

func (s *Service) room(name string) *Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[name]
	if !ok {
		r = &Room{occupants: make(map[string]occupant)}
		s.rooms[name] = r
	}
	return r
}

func (s *Service) handlePresence(roomName string, stanza *xmlpkg.Stanza) {
	room := s.room(roomName)
	bare := stanza.From.Bare().String()
	nick := stanza.To.Resource()

	s.mu.Lock()
	if stanza.Type() == "unavailable" {
		delete(room.occupants, bare)
	} else {
		room.occupants[bare] = occupant{full: stanza.From, nick: nick}
	}
	occupants := make([]*jid.JID, 0, len(room.occupants))
	for _, occ := range room.occupants {
		occupants = append(occupants, occ.full)
	}
	s.mu.Unlock()

	for _, occJID := range occupants {
		echoed := relayTo(stanza, xmlpkg.KindPresence, occJID)
		if echoed != nil {
			s.out.Route(echoed)
		}
	}
}

func (s *Service) handleMessage(roomName string, stanza *xmlpkg.Stanza) {
	room := s.room(roomName)

	s.mu.Lock()
	occupants := make([]*jid.JID, 0, len(room.occupants))
	for _, occ := range room.occupants {
		occupants = append(occupants, occ.full)
	}
	s.mu.Unlock()

	if len(occupants) == 0 {
		log.Infof("muc: message to empty room %s dropped", roomName)
		return
	}
	for _, occJID := range occupants {
		relayed := relayTo(stanza, xmlpkg.KindMessage, occJID)
		if relayed != nil {
			s.out.Route(relayed)
		}
	}
}

// relayTo clones stanza's element and rewraps it as a new Stanza
// addressed to occJID (the occupant's own bound full JID), so
// concurrent recipients never share the same mutable Element tree.
func relayTo(stanza *xmlpkg.Stanza, kind xmlpkg.Kind, occJID *jid.JID) *xmlpkg.Stanza {
	clone := stanza.Element.Clone()
	clone.SetAttr("from", stanza.From.String())
	clone.SetAttr("to", occJID.String())
	relayed, err := xmlpkg.NewStanza(clone, kind, stanza.From, occJID)
	if err != nil {
		return nil
	}
	return relayed
}

// IsSubDomain reports whether domain is a sub-domain of base, e.g.
// "conference.localhost" relative to "localhost". Server uses this to
// reject a misconfigured MUC sub-domain before registering its route.
func IsSubDomain(base, domain string) bool {
	return strings.HasSuffix(domain, "."+base)
}
