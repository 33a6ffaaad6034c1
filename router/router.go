// Package router implements the two dispatch registries described in
// spec §4.6: an ordered, JID-pattern stanza router and a namespace-keyed
// IQ router. Both are mutated only from the reactor goroutine (per
// spec §5), so neither needs locking.
package router

import (
	"reflect"

	"github.com/xmp3io/xmp3/jid"
	"github.com/xmp3io/xmp3/log"
	xmlpkg "github.com/xmp3io/xmp3/xml"
)

// StanzaHandler delivers a stanza addressed (directly or via wildcard)
// to a registered route. It returns whether it handled the stanza.
type StanzaHandler func(stanza *xmlpkg.Stanza, data interface{}) bool

type stanzaRoute struct {
	pattern *jid.JID
	handler StanzaHandler
	data    interface{}
}

// StanzaRouter is the ordered (pattern JID, handler, opaque data) list
// from spec §3/§4.6. Insertion order is match order: Route invokes the
// first registered pattern that matches, so an earlier route wins over
// any later route it also matches. Full-JID routes added at BOUND time
// are still reached because the routes registered at startup (the
// server's bare-domain JID, the MUC sub-domain) do not match account
// JIDs under the server's domain; see jid.Match.
type StanzaRouter struct {
	routes []stanzaRoute
}

// NewStanzaRouter creates an empty router.
func NewStanzaRouter() *StanzaRouter {
	return &StanzaRouter{}
}

// Add appends (pattern, handler, data) to the route list. A tuple that
// is field-by-field identical (including wildcards) to an existing
// entry — same pattern, same handler, same data — is a duplicate:
// logged and ignored, never replacing the existing entry, mirroring
// stanza_route_cmp/ADD_CALLBACK in xmpp_server.c.
func (r *StanzaRouter) Add(pattern *jid.JID, handler StanzaHandler, data interface{}) {
	for _, existing := range r.routes {
		if sameJIDFields(existing.pattern, pattern) && sameHandler(existing.handler, handler) && existing.data == data {
			log.Warnf("router: duplicate stanza route for %s, ignoring", pattern)
			return
		}
	}
	r.routes = append(r.routes, stanzaRoute{pattern: pattern, handler: handler, data: data})
}

// Remove deletes the first entry whose tuple equals the given one.
func (r *StanzaRouter) Remove(pattern *jid.JID, handler StanzaHandler, data interface{}) {
	for i, existing := range r.routes {
		if sameJIDFields(existing.pattern, pattern) && sameHandler(existing.handler, handler) && existing.data == data {
			r.routes = append(r.routes[:i], r.routes[i+1:]...)
			return
		}
	}
	log.Warnf("router: attempted to remove non-existent stanza route for %s", pattern)
}

// Route finds the first route whose pattern matches the stanza's
// destination JID, in insertion order, and invokes its handler.
func (r *StanzaRouter) Route(stanza *xmlpkg.Stanza) bool {
	target := stanza.To
	if target == nil || target.Domain() == "" {
		log.Warnf("router: stanza has no destination domain")
		return false
	}
	for _, route := range r.routes {
		if jid.Match(route.pattern, target) {
			return route.handler(stanza, route.data)
		}
	}
	log.Infof("router: no route for destination %s", target)
	return false
}

// HasRoute reports whether an exact-match route (no wildcard
// interpretation) already exists for target. Resource binding uses
// this as the witness for "this full JID is already a bound client",
// per spec §8's invariant tying router membership to client presence.
func (r *StanzaRouter) HasRoute(target *jid.JID) bool {
	for _, existing := range r.routes {
		if sameJIDFields(existing.pattern, target) {
			return true
		}
	}
	return false
}

// CoreHandler returns the StanzaHandler installed at the server's bare
// domain JID (spec §4.7): IQs are forwarded to iqRouter; anything it
// can't handle gets a service-unavailable error routed back through r.
// Non-IQ traffic addressed to the bare server is dropped.
func (r *StanzaRouter) CoreHandler(iqRouter *IQRouter) StanzaHandler {
	return func(stanza *xmlpkg.Stanza, _ interface{}) bool {
		if stanza.Kind != xmlpkg.KindIQ {
			return true
		}
		if iqRouter.Route(stanza) {
			return true
		}
		if typ := stanza.Type(); typ == "get" || typ == "set" {
			r.Route(xmlpkg.NewIQError(stanza, "cancel", "service-unavailable"))
		}
		return false
	}
}

func sameJIDFields(a, b *jid.JID) bool {
	return a.Local() == b.Local() && a.Domain() == b.Domain() && a.Resource() == b.Resource()
}

// sameHandler compares the underlying code pointers of two func values.
// Go forbids == on funcs directly; reflect is the idiomatic escape
// hatch when callback identity (not behavior) is what must be compared.
func sameHandler(a, b StanzaHandler) bool {
	return reflect.ValueOf(a).Pointer() == reflect.ValueOf(b).Pointer()
}
