package xml

// Name is the fully-qualified name of an XML element: its namespace URI
// plus its local name. The zero value has no namespace.
type Name struct {
	Space string
	Local string
}

// FQ renders the fully-qualified name using a fixed separator, mirroring
// the "namespace URI concatenated with local name" idiom used by the
// original Expat-based pipeline (each handler was keyed by this exact
// concatenation). The separator is a control character that can never
// appear in a parsed namespace URI or local name, so it is unambiguous.
const fqSeparator = "\x1f"

// FQ returns the fully-qualified name string for a given namespace and
// local name, used as the IQ router's map key.
func FQ(space, local string) string {
	if space == "" {
		return local
	}
	return space + fqSeparator + local
}

// String returns the fully-qualified name of n.
func (n Name) String() string {
	return FQ(n.Space, n.Local)
}
