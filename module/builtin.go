// Package module implements the four built-in IQ namespace handlers of
// spec §4.7/§6 and the shared-object plugin ABI of spec §4.8. The
// built-ins are plain closures over the two routers, not shared-object
// modules themselves — they are part of the core, always present,
// while Registry is how external modules reach the same surface.
package module

import (
	"github.com/xmp3io/xmp3/router"
	"github.com/xmp3io/xmp3/storage"
	xmlpkg "github.com/xmp3io/xmp3/xml"
)

const (
	NamespaceSession   = "urn:ietf:params:xml:ns:xmpp-session"
	NamespaceRoster    = "jabber:iq:roster"
	NamespaceDiscoInfo = "http://jabber.org/protocol/disco#info"
	NamespaceDiscoItems = "http://jabber.org/protocol/disco#items"
)

// The IQ router is keyed by the fully-qualified name of the IQ's
// unique payload child (spec §4.6); these helpers give the four
// built-in handlers' registration keys one place to live so Server
// never has to spell out xmlpkg.FQ itself.
func SessionRouteKey() string     { return xmlpkg.FQ(NamespaceSession, "session") }
func RosterRouteKey() string      { return xmlpkg.FQ(NamespaceRoster, "query") }
func DiscoInfoRouteKey() string   { return xmlpkg.FQ(NamespaceDiscoInfo, "query") }
func DiscoItemsRouteKey() string  { return xmlpkg.FQ(NamespaceDiscoItems, "query") }

// SessionHandler answers the legacy session-establishment IQ with an
// empty result; BOUND→SESSION_ACTIVE itself is driven by package c2s,
// so this only covers a session IQ arriving out of band afterward
// (e.g. a client that repeats it, or one proxied by something other
// than the core stanza handler's own BOUND-state check).
func SessionHandler(out *router.StanzaRouter) router.StanzaHandler {
	return func(stanza *xmlpkg.Stanza, _ interface{}) bool {
		out.Route(xmlpkg.NewIQResult(stanza, nil))
		return true
	}
}

// RosterHandler answers jabber:iq:roster queries from storage. It only
// implements the read path (`type='get'`); roster pushes and presence
// subscription management are out of scope for the core (spec
// Non-goals: S2S/federation, and this module never crosses a server
// boundary either).
func RosterHandler(out *router.StanzaRouter, repo storage.Repository) router.StanzaHandler {
	return func(stanza *xmlpkg.Stanza, _ interface{}) bool {
		if stanza.Type() != "get" {
			out.Route(xmlpkg.NewIQError(stanza, "cancel", "bad-request"))
			return true
		}
		items, err := repo.FetchRoster(stanza.From.Local())
		if err != nil {
			out.Route(xmlpkg.NewIQError(stanza, "wait", "internal-server-error"))
			return true
		}
		query := xmlpkg.NewElement("", "query")
		query.SetAttr("xmlns", NamespaceRoster)
		for _, it := range items {
			item := xmlpkg.NewElement("", "item")
			item.SetAttr("jid", it.ContactJID)
			if it.Name != "" {
				item.SetAttr("name", it.Name)
			}
			item.SetAttr("subscription", it.Subscription)
			query.AppendChild(item)
		}
		out.Route(xmlpkg.NewIQResult(stanza, query))
		return true
	}
}

// DiscoInfo is the static identity/feature set the disco#info handler
// advertises for the server JID.
type DiscoInfo struct {
	Category string
	Type     string
	Name     string
	Features []string
}

// DiscoInfoHandler answers disco#info queries with a fixed identity and
// feature list; per-node discovery (XEP-0030's optional node attribute)
// is not implemented, matching the spec's minimal disco scope.
func DiscoInfoHandler(out *router.StanzaRouter, info DiscoInfo) router.StanzaHandler {
	return func(stanza *xmlpkg.Stanza, _ interface{}) bool {
		if stanza.Type() != "get" {
			out.Route(xmlpkg.NewIQError(stanza, "cancel", "bad-request"))
			return true
		}
		query := xmlpkg.NewElement("", "query")
		query.SetAttr("xmlns", NamespaceDiscoInfo)
		identity := xmlpkg.NewElement("", "identity")
		identity.SetAttr("category", info.Category)
		identity.SetAttr("type", info.Type)
		identity.SetAttr("name", info.Name)
		query.AppendChild(identity)
		for _, f := range info.Features {
			feat := xmlpkg.NewElement("", "feature")
			feat.SetAttr("var", f)
			query.AppendChild(feat)
		}
		out.Route(xmlpkg.NewIQResult(stanza, query))
		return true
	}
}

// DiscoItemsHandler answers disco#items with a caller-supplied static
// item list (e.g. the configured MUC sub-domain).
func DiscoItemsHandler(out *router.StanzaRouter, items []DiscoItem) router.StanzaHandler {
	return func(stanza *xmlpkg.Stanza, _ interface{}) bool {
		if stanza.Type() != "get" {
			out.Route(xmlpkg.NewIQError(stanza, "cancel", "bad-request"))
			return true
		}
		query := xmlpkg.NewElement("", "query")
		query.SetAttr("xmlns", NamespaceDiscoItems)
		for _, it := range items {
			el := xmlpkg.NewElement("", "item")
			el.SetAttr("jid", it.JID)
			if it.Name != "" {
				el.SetAttr("name", it.Name)
			}
			query.AppendChild(el)
		}
		out.Route(xmlpkg.NewIQResult(stanza, query))
		return true
	}
}

// DiscoItem is one entry returned by DiscoItemsHandler.
type DiscoItem struct {
	JID  string
	Name string
}
