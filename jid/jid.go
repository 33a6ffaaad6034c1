// Package jid implements the XMPP address type and its wildcard-aware
// route-matching semantics.
package jid

import (
	"errors"
	"strings"

	"golang.org/x/net/idna"
	"golang.org/x/text/unicode/norm"
)

// Wildcard is the literal value a route-pattern JID field may carry to
// mean "match any value present in that field".
const Wildcard = "*"

// JID is the tuple (local?, domain, resource?). domain is always
// present; local and resource are optional and represented by "".
type JID struct {
	local    string
	domain   string
	resource string
}

// ErrNoDomain is returned by Parse when the input has no domain part.
var ErrNoDomain = errors.New("jid: missing domain")

// New builds a JID directly from its parts, normalizing the domain.
func New(local, domain, resource string) (*JID, error) {
	if domain == "" {
		return nil, ErrNoDomain
	}
	return &JID{
		local:    norm.NFC.String(local),
		domain:   normalizeDomain(domain),
		resource: norm.NFC.String(resource),
	}, nil
}

// Parse splits str on the last '@' occurring before the domain (so the
// remainder is domain[/resource]), and then splits that remainder on the
// first '/' to separate domain from resource.
func Parse(str string) (*JID, error) {
	local := ""
	rest := str
	if idx := strings.LastIndex(str, "@"); idx >= 0 {
		local = str[:idx]
		rest = str[idx+1:]
	}
	domain := rest
	resource := ""
	if idx := strings.Index(rest, "/"); idx >= 0 {
		domain = rest[:idx]
		resource = rest[idx+1:]
	}
	if domain == "" {
		return nil, ErrNoDomain
	}
	return New(local, domain, resource)
}

// MustParse is Parse but panics on error; intended for constants/tests.
func MustParse(str string) *JID {
	j, err := Parse(str)
	if err != nil {
		panic(err)
	}
	return j
}

// normalizeDomain applies IDNA so internationalized domains compare
// equal regardless of their original Unicode/ASCII spelling. On any
// normalization failure the original string is kept verbatim — a
// server JID configured as a bare "localhost" must still parse.
func normalizeDomain(domain string) string {
	ascii, err := idna.Lookup.ToASCII(domain)
	if err != nil {
		return domain
	}
	return ascii
}

func (j *JID) Local() string    { return j.local }
func (j *JID) Domain() string   { return j.domain }
func (j *JID) Resource() string { return j.resource }

// IsFull reports whether all three fields are present.
func (j *JID) IsFull() bool { return j.local != "" && j.resource != "" }

// IsBare reports whether resource is absent.
func (j *JID) IsBare() bool { return j.resource == "" }

// Bare returns a copy of j with the resource stripped.
func (j *JID) Bare() *JID {
	return &JID{local: j.local, domain: j.domain}
}

// String is the inverse of Parse: format(parse(s)) == s.
func (j *JID) String() string {
	var b strings.Builder
	if j.local != "" {
		b.WriteString(j.local)
		b.WriteByte('@')
	}
	b.WriteString(j.domain)
	if j.resource != "" {
		b.WriteByte('/')
		b.WriteString(j.resource)
	}
	return b.String()
}

// Equal is per-field exact comparison, case-sensitive.
func (j *JID) Equal(o *JID) bool {
	if j == nil || o == nil {
		return j == o
	}
	return j.local == o.local && j.domain == o.domain && j.resource == o.resource
}

// Compare orders JIDs lexicographically over (domain, local, resource),
// with an absent field ordering before a present one (the empty string
// used to represent "absent" already sorts first under strings.Compare).
func Compare(a, b *JID) int {
	if c := strings.Compare(a.domain, b.domain); c != 0 {
		return c
	}
	if c := strings.Compare(a.local, b.local); c != 0 {
		return c
	}
	return strings.Compare(a.resource, b.resource)
}

// Match implements route-pattern matching, in the order domain, then
// local, then resource, matching the short-circuit order of the
// original find_stanza_route in xmpp.c.
//
// A bare-resource pattern (e.g. alice@localhost) matches any resource
// of that account, since a resource is a sub-address of a JID that
// already names a local part. An absent local part carries the
// opposite meaning: it denotes the domain itself (the server, or a
// hosted sub-domain component), a distinct address from every local
// part under that domain, so it must not also match them - unless the
// domain itself is Wildcard, in which case there is no local part to
// denote and the pattern is a universal catch-all.
func Match(pattern, target *JID) bool {
	if pattern.domain != Wildcard && pattern.domain != target.domain {
		return false
	}
	switch pattern.local {
	case "":
		if pattern.domain != Wildcard && target.local != "" {
			return false
		}
	case Wildcard:
		if target.local == "" {
			return false
		}
	default:
		if target.local != pattern.local {
			return false
		}
	}
	if pattern.resource != "" {
		if target.resource == "" {
			return false
		}
		if pattern.resource != Wildcard && pattern.resource != target.resource {
			return false
		}
	}
	return true
}
