package xml

// TreeBuilder is a Sink that assembles complete element trees from a
// Parser's flat event stream and delivers each one rooted immediately
// below the open stream element (depth 1) to OnStanza. This is the
// handler installed by package c2s once the stream header itself has
// been consumed; everything it sees afterward is one full stanza (or
// handshake element, e.g. <auth>, <starttls>) per callback.
type TreeBuilder struct {
	OnStanza func(*Element)

	stack []*Element
}

// NewTreeBuilder creates a TreeBuilder that reports each depth-1
// element to onStanza as soon as its closing tag is seen.
func NewTreeBuilder(onStanza func(*Element)) *TreeBuilder {
	return &TreeBuilder{OnStanza: onStanza}
}

func (b *TreeBuilder) OnElementStart(name Name, attrs []Attr) {
	el := &Element{Name: name, Attrs: append([]Attr(nil), attrs...)}
	if len(b.stack) > 0 {
		parent := b.stack[len(b.stack)-1]
		parent.AppendChild(el)
	}
	b.stack = append(b.stack, el)
}

func (b *TreeBuilder) OnElementEnd(name Name) {
	n := len(b.stack)
	el := b.stack[n-1]
	b.stack = b.stack[:n-1]
	if len(b.stack) == 0 && b.OnStanza != nil {
		b.OnStanza(el)
	}
}

func (b *TreeBuilder) OnCharData(data string) {
	if len(b.stack) == 0 {
		return
	}
	top := b.stack[len(b.stack)-1]
	top.Text += data
}
