package c2s

import (
	"encoding/base64"
	"errors"
	"io"
	"strings"

	"github.com/google/uuid"

	"github.com/xmp3io/xmp3/auth"
	"github.com/xmp3io/xmp3/jid"
	"github.com/xmp3io/xmp3/log"
	"github.com/xmp3io/xmp3/reactor"
	"github.com/xmp3io/xmp3/router"
	"github.com/xmp3io/xmp3/streamerror"
	"github.com/xmp3io/xmp3/transport"
	xmlpkg "github.com/xmp3io/xmp3/xml"
)

const (
	nsStream   = "http://etherx.jabber.org/streams"
	nsClient   = "jabber:client"
	nsFraming  = "urn:ietf:params:xml:ns:xmpp-framing"
	nsTLS      = "urn:ietf:params:xml:ns:xmpp-tls"
	nsSASL     = "urn:ietf:params:xml:ns:xmpp-sasl"
	nsBind     = "urn:ietf:params:xml:ns:xmpp-bind"
	nsSession  = "urn:ietf:params:xml:ns:xmpp-session"
	nsStanzas  = "urn:ietf:params:xml:ns:xmpp-stanzas"
)

// state is the connection's position in the NEW → STREAM_OPENED →
// AUTHENTICATED → BOUND → SESSION_ACTIVE → CLOSED progression of spec
// §4.5. TLS_NEGOTIATING is not a stored value: the handshake is the
// one synchronous exception the reactor model allows (see
// transport.Socket.StartTLS) and never outlives a single onReadable
// call, so there is nothing to persist between reactor dispatches.
type state uint8

const (
	stateNew state = iota
	stateStreamOpened
	stateAuthenticated
	stateBound
	stateSessionActive
	stateClosed
)

// Client is one accepted connection's state machine. It owns the
// parser sink swap described in spec §4.4 and registers/removes its
// own stanza route as it binds and disconnects.
type Client struct {
	ID     string
	sock   transport.Socket
	rct    *reactor.Reactor
	cfg    *Config
	router *router.StanzaRouter
	authrs []auth.Authenticator
	framed bool
	onClose func(*Client)

	parser       *xmlpkg.Parser
	state        state
	domain       string
	username     string
	resource     string
	jid          *jid.JID
	authFailures int
}

// New creates a Client over sock, registers it with rct for read
// readiness, and installs the stream-open sink (the first of the
// three handler sets from spec §4.4). framed selects RFC 7395 WebSocket
// framing (<open>/<close>) over the plain <stream:stream> wrapper.
func New(id string, sock transport.Socket, rct *reactor.Reactor, cfg *Config, stanzaRouter *router.StanzaRouter, authrs []auth.Authenticator, framed bool, onClose func(*Client)) (*Client, error) {
	c := &Client{
		ID: id, sock: sock, rct: rct, cfg: cfg, router: stanzaRouter,
		authrs: authrs, framed: framed, onClose: onClose, state: stateNew,
	}
	c.parser = xmlpkg.NewParser(streamOpenSink{c}, cfg.MaxStanzaSize)
	if err := rct.Register(sock.Fd(), c.onReadable); err != nil {
		return nil, err
	}
	return c, nil
}

// JID returns the client's bound full JID, or nil before BOUND.
func (c *Client) JID() *jid.JID { return c.jid }

// Disconnect tears the connection down, optionally announcing a
// stream error first.
func (c *Client) Disconnect(err *streamerror.Error) { c.teardown(err) }

// streamOpenSink captures only the root <stream:stream>/<open> element;
// it is swapped out for a TreeBuilder the instant that element is seen,
// so it never observes anything else.
type streamOpenSink struct{ c *Client }

func (s streamOpenSink) OnElementStart(name xmlpkg.Name, attrs []xmlpkg.Attr) {
	s.c.onStreamOpen(name, attrs)
}
func (streamOpenSink) OnElementEnd(xmlpkg.Name) {}
func (streamOpenSink) OnCharData(string)        {}

func (c *Client) onReadable() {
	if c.state == stateClosed {
		return
	}
	buf := make([]byte, c.cfg.recvBufferSize())
	for {
		n, err := c.sock.Recv(buf)
		if err != nil {
			if errors.Is(err, transport.ErrWouldBlock) {
				return
			}
			if errors.Is(err, io.EOF) {
				c.teardown(nil)
				return
			}
			log.Errorf("c2s: recv on %s: %v", c.ID, err)
			c.teardown(streamerror.ErrInvalidXML)
			return
		}
		if ferr := c.parser.Feed(buf[:n]); ferr != nil {
			log.Errorf("c2s: parse error on %s: %v", c.ID, ferr)
			c.teardown(streamerror.ErrInvalidXML)
			return
		}
		if c.state == stateClosed {
			return // a handler invoked during Feed already tore this down
		}
	}
}

// send writes data and tears the connection down on any error or
// short write; per spec §5 a send that doesn't fit the kernel buffer
// is treated as fatal rather than queued.
func (c *Client) send(data string) {
	if c.state == stateClosed {
		return
	}
	log.Debugf("c2s: send %s: %s", c.ID, data)
	n, err := c.sock.Send([]byte(data))
	if err != nil || n != len(data) {
		log.Errorf("c2s: send on %s failed (%d/%d): %v", c.ID, n, len(data), err)
		c.teardown(nil)
	}
}

func (c *Client) teardown(strmErr *streamerror.Error) {
	if c.state == stateClosed {
		return
	}
	if strmErr != nil {
		c.sock.Send([]byte(strmErr.XML()))
	}
	if c.state >= stateStreamOpened {
		c.sock.Send([]byte(c.closingTag()))
	}
	if c.state == stateBound || c.state == stateSessionActive {
		c.router.Remove(c.jid, c.deliver, nil)
	}
	c.rct.Deregister(c.sock.Fd())
	c.sock.Close()
	c.state = stateClosed
	if c.onClose != nil {
		c.onClose(c)
	}
}

func (c *Client) closingTag() string {
	if c.framed {
		return `<close xmlns="` + nsFraming + `"/>`
	}
	return "</stream:stream>"
}

func (c *Client) restart() {
	c.parser.Reset()
	c.parser.SetSink(streamOpenSink{c})
}

func (c *Client) onStreamOpen(name xmlpkg.Name, attrs []xmlpkg.Attr) {
	wantLocal, wantSpace := "stream", nsStream
	if c.framed {
		wantLocal, wantSpace = "open", nsFraming
	}
	if name.Local != wantLocal || name.Space != wantSpace {
		c.teardown(streamerror.ErrUnsupportedStanzaType)
		return
	}
	if attrVal(attrs, "version") != "1.0" {
		c.teardown(streamerror.ErrUnsupportedVersion)
		return
	}
	if to := attrVal(attrs, "to"); to != "" && to != c.cfg.Domain {
		c.teardown(streamerror.ErrHostUnknown)
		return
	}
	c.domain = c.cfg.Domain
	if c.username != "" {
		c.state = stateAuthenticated
	} else {
		c.state = stateStreamOpened
	}
	c.parser.SetSink(xmlpkg.NewTreeBuilder(c.onElement))
	c.openStream()
	if c.state == stateClosed {
		return
	}
	c.send(c.featuresElement().ToXML())
}

func attrVal(attrs []xmlpkg.Attr, name string) string {
	for _, a := range attrs {
		if a.Name == name {
			return a.Value
		}
	}
	return ""
}

func (c *Client) openStream() {
	var b strings.Builder
	if c.framed {
		b.WriteString(`<open xmlns="`)
		b.WriteString(nsFraming)
		b.WriteString(`" id="`)
		b.WriteString(c.ID)
		b.WriteString(`" from="`)
		b.WriteString(c.domain)
		b.WriteString(`" version="1.0"/>`)
	} else {
		b.WriteString(`<?xml version="1.0"?>`)
		b.WriteString(`<stream:stream xmlns="`)
		b.WriteString(nsClient)
		b.WriteString(`" xmlns:stream="`)
		b.WriteString(nsStream)
		b.WriteString(`" id="`)
		b.WriteString(c.ID)
		b.WriteString(`" from="`)
		b.WriteString(c.domain)
		b.WriteString(`" version="1.0">`)
	}
	c.send(b.String())
}

func (c *Client) featuresElement() *xmlpkg.Element {
	feat := xmlpkg.NewElement("", "stream:features")
	switch c.state {
	case stateStreamOpened:
		if c.cfg.TLS != nil && !c.sock.Secured() {
			starttls := xmlpkg.NewElement("", "starttls")
			starttls.SetAttr("xmlns", nsTLS)
			starttls.AppendChild(xmlpkg.NewElement("", "required"))
			feat.AppendChild(starttls)
		}
		if (c.cfg.TLS == nil || c.sock.Secured()) && len(c.authrs) > 0 {
			mechanisms := xmlpkg.NewElement("", "mechanisms")
			mechanisms.SetAttr("xmlns", nsSASL)
			for _, a := range c.authrs {
				m := xmlpkg.NewElement("", "mechanism")
				m.Text = a.Mechanism()
				mechanisms.AppendChild(m)
			}
			feat.AppendChild(mechanisms)
		}
	case stateAuthenticated:
		bind := xmlpkg.NewElement("", "bind")
		bind.SetAttr("xmlns", nsBind)
		bind.AppendChild(xmlpkg.NewElement("", "required"))
		feat.AppendChild(bind)
		session := xmlpkg.NewElement("", "session")
		session.SetAttr("xmlns", nsSession)
		feat.AppendChild(session)
	}
	return feat
}

// onElement dispatches one complete depth-1 element (everything after
// the stream header) to the handler for the current state. This is
// the "auth" and "stanza" handler sets of spec §4.4; which behavior
// applies is purely a function of c.state.
func (c *Client) onElement(elem *xmlpkg.Element) {
	log.Debugf("c2s: recv %s: %s", c.ID, elem.ToXML())
	switch c.state {
	case stateStreamOpened:
		c.handleStreamOpened(elem)
	case stateAuthenticated:
		c.handleAuthenticated(elem)
	case stateBound:
		c.handleBound(elem)
	case stateSessionActive:
		c.handleStanza(elem)
	}
}

func (c *Client) handleStreamOpened(elem *xmlpkg.Element) {
	if c.framed && elem.Name.Local == "close" && elem.Name.Space == nsFraming {
		c.teardown(nil)
		return
	}
	switch elem.Name.Local {
	case "starttls":
		if elem.Name.Space != "" && elem.Name.Space != nsTLS {
			c.teardown(streamerror.ErrInvalidNamespace)
			return
		}
		c.handleStartTLS()
	case "auth":
		if elem.Name.Space != nsSASL {
			c.teardown(streamerror.ErrInvalidNamespace)
			return
		}
		c.handleAuthStart(elem)
	case "iq", "message", "presence":
		c.teardown(streamerror.ErrNotAuthorized)
	default:
		c.teardown(streamerror.ErrUnsupportedStanzaType)
	}
}

func (c *Client) handleStartTLS() {
	if c.cfg.TLS == nil || c.sock.Secured() {
		c.teardown(streamerror.ErrNotAuthorized)
		return
	}
	proceed := xmlpkg.NewElement("", "proceed")
	proceed.SetAttr("xmlns", nsTLS)
	c.send(proceed.ToXML())
	if c.state == stateClosed {
		return
	}
	if err := c.sock.StartTLS(c.cfg.TLS); err != nil {
		log.Errorf("c2s: tls handshake on %s: %v", c.ID, err)
		c.teardown(nil)
		return
	}
	log.Infof("c2s: %s secured", c.ID)
	c.restart()
}

func (c *Client) handleAuthStart(elem *xmlpkg.Element) {
	mechanism := elem.Attr("mechanism")
	for _, a := range c.authrs {
		if a.Mechanism() != mechanism {
			continue
		}
		response, err := base64.StdEncoding.DecodeString(elem.Text)
		if err != nil {
			c.failAuth("incorrect-encoding")
			return
		}
		username, authErr := a.Authenticate(response)
		if authErr != nil {
			c.failAuth(authFailureCondition(authErr))
			return
		}
		c.username = username
		c.authFailures = 0
		success := xmlpkg.NewElement("", "success")
		success.SetAttr("xmlns", nsSASL)
		c.send(success.ToXML())
		if c.state == stateClosed {
			return
		}
		log.Infof("c2s: %s authenticated as %s", c.ID, username)
		c.restart()
		return
	}
	failure := xmlpkg.NewElement("", "failure")
	failure.SetAttr("xmlns", nsSASL)
	failure.AppendChild(xmlpkg.NewElement("", "invalid-mechanism"))
	c.send(failure.ToXML())
}

func authFailureCondition(err error) string {
	var invalid *auth.ErrInvalidResponse
	if errors.As(err, &invalid) {
		return "incorrect-encoding"
	}
	return "not-authorized"
}

func (c *Client) failAuth(condition string) {
	c.authFailures++
	failure := xmlpkg.NewElement("", "failure")
	failure.SetAttr("xmlns", nsSASL)
	failure.AppendChild(xmlpkg.NewElement("", condition))
	c.send(failure.ToXML())
	if c.state == stateClosed {
		return
	}
	if c.authFailures >= c.cfg.maxAuthFailures() {
		c.teardown(streamerror.ErrPolicyViolation)
	}
}

func (c *Client) handleAuthenticated(elem *xmlpkg.Element) {
	if elem.Name.Local != "iq" || elem.Attr("type") != "set" {
		c.teardown(streamerror.ErrNotAuthorized)
		return
	}
	bind := elem.ChildNamespace("bind", nsBind)
	if bind == nil {
		c.teardown(streamerror.ErrNotAuthorized)
		return
	}
	c.bindResource(elem.Attr("id"), bind)
}

func (c *Client) bindResource(iqID string, bind *xmlpkg.Element) {
	resource := ""
	if resEl := bind.Child("resource"); resEl != nil {
		resource = resEl.Text
	}
	if resource == "" {
		for {
			candidate := uuid.New().String()
			j, err := jid.New(c.username, c.domain, candidate)
			if err == nil && !c.router.HasRoute(j) {
				resource = candidate
				break
			}
		}
	}
	full, err := jid.New(c.username, c.domain, resource)
	if err != nil {
		c.send(errorIQ(iqID, "modify", "bad-request"))
		return
	}
	if c.router.HasRoute(full) {
		c.send(errorIQ(iqID, "cancel", "conflict"))
		return
	}
	c.resource = resource
	c.jid = full
	c.router.Add(full, c.deliver, nil)

	result := xmlpkg.NewElement("", "iq")
	result.SetAttr("id", iqID)
	result.SetAttr("type", "result")
	bindResult := xmlpkg.NewElement("", "bind")
	bindResult.SetAttr("xmlns", nsBind)
	jidEl := xmlpkg.NewElement("", "jid")
	jidEl.Text = full.String()
	bindResult.AppendChild(jidEl)
	result.AppendChild(bindResult)
	c.send(result.ToXML())
	if c.state == stateClosed {
		return
	}
	log.Infof("c2s: %s bound %s", c.ID, full)
	c.state = stateBound
}

func (c *Client) handleBound(elem *xmlpkg.Element) {
	if elem.Name.Local != "iq" || elem.Attr("type") != "set" {
		c.teardown(streamerror.ErrNotAuthorized)
		return
	}
	if elem.ChildNamespace("session", nsSession) == nil {
		c.teardown(streamerror.ErrNotAuthorized)
		return
	}
	result := xmlpkg.NewElement("", "iq")
	result.SetAttr("id", elem.Attr("id"))
	result.SetAttr("type", "result")
	c.send(result.ToXML())
	if c.state == stateClosed {
		return
	}
	log.Infof("c2s: %s session started", c.ID)
	c.state = stateSessionActive
}

func (c *Client) handleStanza(elem *xmlpkg.Element) {
	var kind xmlpkg.Kind
	switch elem.Name.Local {
	case "iq":
		kind = xmlpkg.KindIQ
	case "message":
		kind = xmlpkg.KindMessage
	case "presence":
		kind = xmlpkg.KindPresence
	default:
		c.teardown(streamerror.ErrUnsupportedStanzaType)
		return
	}
	// No 'to' attribute means the stanza is implicitly addressed to the
	// sender's own server (RFC 6120 §10.3), not the sender's bare JID.
	// That keeps it routed to the bare-domain core handler instead of
	// the sender's own full-JID route.
	to, err := jid.New("", c.cfg.Domain, "")
	if err != nil {
		c.teardown(streamerror.ErrInternalServerError)
		return
	}
	if toAttr := elem.Attr("to"); toAttr != "" {
		parsed, err := jid.Parse(toAttr)
		if err != nil {
			c.replyStanzaError(elem, kind, "modify", "jid-malformed")
			return
		}
		to = parsed
	}
	stanza, err := xmlpkg.NewStanza(elem, kind, c.jid, to)
	if err != nil {
		c.replyStanzaError(elem, kind, "modify", "bad-request")
		return
	}
	stanza.SetFrom(c.jid)
	c.router.Route(stanza)
}

func (c *Client) replyStanzaError(elem *xmlpkg.Element, kind xmlpkg.Kind, errType, condition string) {
	if kind != xmlpkg.KindIQ {
		return
	}
	typ := elem.Attr("type")
	if typ != "get" && typ != "set" {
		return
	}
	c.send(errorIQ(elem.Attr("id"), errType, condition))
}

// deliver is the StanzaHandler registered against the client's full
// JID at BOUND time (spec §4.5): it is invoked by the router whenever
// something is addressed to this connection.
func (c *Client) deliver(stanza *xmlpkg.Stanza, _ interface{}) bool {
	c.send(stanza.ToXML())
	return true
}

func errorIQ(id, errType, condition string) string {
	result := xmlpkg.NewElement("", "iq")
	result.SetAttr("id", id)
	result.SetAttr("type", "error")
	errEl := xmlpkg.NewElement("", "error")
	errEl.SetAttr("type", errType)
	cond := xmlpkg.NewElement("", condition)
	cond.SetAttr("xmlns", nsStanzas)
	errEl.AppendChild(cond)
	result.AppendChild(errEl)
	return result.ToXML()
}
