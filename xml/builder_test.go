package xml

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTreeBuilderOneStanzaPerDepthOneElement(t *testing.T) {
	var got []*Element
	tb := NewTreeBuilder(func(e *Element) { got = append(got, e) })
	p := NewParser(tb, 0)

	require.NoError(t, p.Feed([]byte(`<message to="bob@example.com"><body>hi</body></message>`)))
	require.NoError(t, p.Feed([]byte(`<presence/>`)))

	require.Len(t, got, 2)
	require.Equal(t, "message", got[0].Name.Local)
	require.Equal(t, "bob@example.com", got[0].Attr("to"))
	require.Equal(t, "hi", got[0].Child("body").Text)
	require.Equal(t, "presence", got[1].Name.Local)
}

func TestTreeBuilderNestedChildren(t *testing.T) {
	var got *Element
	tb := NewTreeBuilder(func(e *Element) { got = e })
	p := NewParser(tb, 0)
	require.NoError(t, p.Feed([]byte(`<iq type="get" id="1"><query xmlns="jabber:iq:roster"/></iq>`)))

	require.NotNil(t, got)
	require.Len(t, got.Children, 1)
	require.Equal(t, "jabber:iq:roster", got.Children[0].Name.Space)
}
