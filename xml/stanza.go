package xml

import (
	"errors"

	"github.com/xmp3io/xmp3/jid"
)

// Kind identifies which of the three top-level stanza types an Element
// represents.
type Kind int

const (
	KindMessage Kind = iota
	KindPresence
	KindIQ
)

// ErrMultiplePayloads is returned when an IQ of type get/set does not
// carry exactly one payload child, violating the invariant in spec §3.
var ErrMultiplePayloads = errors.New("xml: iq must have exactly one payload child")

// Stanza is one of {message, presence, iq}, assembled by the connection
// state machine from parser events. from/to are resolved JIDs derived
// from the element's from/to attributes; per spec, from is always
// overwritten with the authenticated JID of the sending connection
// before a stanza is routed.
type Stanza struct {
	*Element
	Kind Kind
	From *jid.JID
	To   *jid.JID
}

// NewStanza wraps root as a stanza of the given kind, with From/To set
// to the given JIDs; an IQ of type get/set must carry exactly one
// payload child. root must be one of message/presence/iq (by local
// name); any other name is rejected by the caller before NewStanza is
// reached.
func NewStanza(root *Element, kind Kind, from, to *jid.JID) (*Stanza, error) {
	if kind == KindIQ {
		typ := root.Attr("type")
		if typ == "get" || typ == "set" {
			if len(root.Children) != 1 {
				return nil, ErrMultiplePayloads
			}
		}
	}
	return &Stanza{Element: root, Kind: kind, From: from, To: to}, nil
}

// ID returns the stanza's id attribute.
func (s *Stanza) ID() string { return s.Attr("id") }

// Type returns the stanza's type attribute.
func (s *Stanza) Type() string { return s.Attr("type") }

// IQPayload returns the IQ's unique payload child, or nil.
func (s *Stanza) IQPayload() *Element {
	if s.Kind != KindIQ || len(s.Children) == 0 {
		return nil
	}
	return s.Children[0]
}

// IQPayloadName returns the fully-qualified name of the IQ's payload
// child, used as the IQ router's lookup key. Empty if there is none.
func (s *Stanza) IQPayloadName() string {
	p := s.IQPayload()
	if p == nil {
		return ""
	}
	return p.Name.String()
}

// SetFrom overwrites the stanza's from address and attribute, enforcing
// the invariant that `from` on delivery is always the authenticated
// JID of the originating client.
func (s *Stanza) SetFrom(j *jid.JID) {
	s.From = j
	s.SetAttr("from", j.String())
}

// reply builds the envelope (name/id/from/to swapped) shared by every
// IQ response constructor below.
func (s *Stanza) reply(typ string) *Stanza {
	root := NewElement("", "iq")
	root.SetAttr("id", s.ID())
	root.SetAttr("type", typ)
	root.SetAttr("from", s.To.String())
	root.SetAttr("to", s.From.String())
	return &Stanza{Element: root, Kind: KindIQ, From: s.To, To: s.From}
}

// NewIQResult builds an `iq type="result"` reply to s, with payload (if
// any) as its single child.
func NewIQResult(s *Stanza, payload *Element) *Stanza {
	r := s.reply("result")
	if payload != nil {
		r.AppendChild(payload)
	}
	return r
}

// NewIQError builds an `iq type="error"` reply to s carrying a single
// RFC 6120 §8.3.3 defined-condition child in the stanzas namespace,
// inside an <error> wrapper whose type attribute is errType (e.g.
// "cancel", "modify").
func NewIQError(s *Stanza, errType, condition string) *Stanza {
	r := s.reply("error")
	for _, child := range s.Children {
		r.AppendChild(child)
	}
	errEl := NewElement("", "error")
	errEl.SetAttr("type", errType)
	cond := NewElement("", condition)
	cond.SetAttr("xmlns", "urn:ietf:params:xml:ns:xmpp-stanzas")
	errEl.AppendChild(cond)
	r.AppendChild(errEl)
	return r
}
