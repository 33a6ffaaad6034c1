package xml

import "strings"

// Attr is a single XML attribute, kept as raw name/value (attribute
// values are not namespace-resolved; the core only needs fully
// qualified element names, per spec).
type Attr struct {
	Name  string
	Value string
}

// Element is an in-memory XML element: a name, its attributes, child
// elements in document order, and any character data found directly
// inside it. A Stanza is built from one of these trees.
type Element struct {
	Name     Name
	Attrs    []Attr
	Children []*Element
	Text     string
}

// NewElement creates a detached element with the given name.
func NewElement(space, local string) *Element {
	return &Element{Name: Name{Space: space, Local: local}}
}

// Attr returns the value of the named attribute, or "" if absent.
func (e *Element) Attr(name string) string {
	for _, a := range e.Attrs {
		if a.Name == name {
			return a.Value
		}
	}
	return ""
}

// SetAttr sets (or replaces) an attribute.
func (e *Element) SetAttr(name, value string) {
	for i := range e.Attrs {
		if e.Attrs[i].Name == name {
			e.Attrs[i].Value = value
			return
		}
	}
	e.Attrs = append(e.Attrs, Attr{Name: name, Value: value})
}

// AppendChild appends a child element in document order.
func (e *Element) AppendChild(child *Element) {
	e.Children = append(e.Children, child)
}

// Child returns the first child with the given local name, regardless
// of namespace, or nil.
func (e *Element) Child(local string) *Element {
	for _, c := range e.Children {
		if c.Name.Local == local {
			return c
		}
	}
	return nil
}

// ChildNamespace returns the first child matching both local name and
// namespace, or nil.
func (e *Element) ChildNamespace(local, space string) *Element {
	for _, c := range e.Children {
		if c.Name.Local == local && c.Name.Space == space {
			return c
		}
	}
	return nil
}

// Clone returns a deep copy of the element tree, used whenever the same
// source element must be relayed to more than one recipient (each
// relayed copy gets its own from/to attributes set independently).
func (e *Element) Clone() *Element {
	clone := &Element{
		Name:  e.Name,
		Attrs: append([]Attr(nil), e.Attrs...),
		Text:  e.Text,
	}
	for _, c := range e.Children {
		clone.Children = append(clone.Children, c.Clone())
	}
	return clone
}

// ToXML serializes the element tree back to wire format.
func (e *Element) ToXML() string {
	var b strings.Builder
	e.writeXML(&b)
	return b.String()
}

func (e *Element) writeXML(b *strings.Builder) {
	b.WriteByte('<')
	b.WriteString(e.Name.Local)
	for _, a := range e.Attrs {
		b.WriteByte(' ')
		b.WriteString(a.Name)
		b.WriteString(`="`)
		b.WriteString(escapeAttr(a.Value))
		b.WriteByte('"')
	}
	if len(e.Children) == 0 && e.Text == "" {
		b.WriteString("/>")
		return
	}
	b.WriteByte('>')
	b.WriteString(escapeText(e.Text))
	for _, c := range e.Children {
		c.writeXML(b)
	}
	b.WriteString("</")
	b.WriteString(e.Name.Local)
	b.WriteByte('>')
}

func escapeText(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	return r.Replace(s)
}

func escapeAttr(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;")
	return r.Replace(s)
}
