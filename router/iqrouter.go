package router

import (
	"github.com/xmp3io/xmp3/log"
	xmlpkg "github.com/xmp3io/xmp3/xml"
)

type iqRoute struct {
	handler StanzaHandler
	data    interface{}
}

// IQRouter is the associative table keyed by the fully-qualified name
// of an IQ's unique payload child (spec §3/§4.6), replacing the
// original's hash-table-keyed-by-string-pointer (xmpp.c's iq_routes).
type IQRouter struct {
	routes map[string]iqRoute
}

// NewIQRouter creates an empty router.
func NewIQRouter() *IQRouter {
	return &IQRouter{routes: make(map[string]iqRoute)}
}

// Add registers a handler for the given fully-qualified payload name.
// A duplicate namespace is a warning, not a replacement.
func (r *IQRouter) Add(fqName string, handler StanzaHandler, data interface{}) {
	if _, exists := r.routes[fqName]; exists {
		log.Warnf("router: duplicate iq route for %s, ignoring", fqName)
		return
	}
	r.routes[fqName] = iqRoute{handler: handler, data: data}
}

// Remove deregisters the handler for the given fully-qualified name.
func (r *IQRouter) Remove(fqName string) {
	if _, exists := r.routes[fqName]; !exists {
		log.Warnf("router: attempted to remove non-existent iq route for %s", fqName)
		return
	}
	delete(r.routes, fqName)
}

// Route looks up the IQ's payload fully-qualified name and invokes its
// handler, returning false if none is registered.
func (r *IQRouter) Route(stanza *xmlpkg.Stanza) bool {
	name := stanza.IQPayloadName()
	route, ok := r.routes[name]
	if !ok {
		log.Infof("router: no iq route for %s", name)
		return false
	}
	return route.handler(stanza, route.data)
}
