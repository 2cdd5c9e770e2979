package dom

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"
)

func mustParse(t *testing.T, href, body string) *Document {
	t.Helper()
	doc, err := Parse(href, body)
	require.NoError(t, err)
	return doc
}

func mustQuery(t *testing.T, doc *Document, selector string) *html.Node {
	t.Helper()
	n, err := doc.QuerySelector(selector)
	require.NoError(t, err)
	require.NotNil(t, n, "no match for %q", selector)
	return n
}

// layeredFixture builds a page with one shadow root, one same-origin
// iframe and one cross-origin iframe, each holding a .item element.
func layeredFixture(t *testing.T) (top, shadow, frame *Document) {
	t.Helper()
	top = mustParse(t, "https://app.example.com/", `<html><body>
		<div id="a" class="item">alpha</div>
		<div id="widget-host"></div>
		<iframe id="embedded" src="https://app.example.com/embedded"></iframe>
		<iframe id="ads" src="https://ads.example.net/frame"></iframe>
		<div id="b" class="item">beta</div>
	</body></html>`)

	shadow = mustParse(t, "https://app.example.com/", `<div id="shadow-item" class="item">gamma</div>`)
	top.AttachShadow(mustQuery(t, top, "#widget-host"), shadow)

	frame = mustParse(t, "https://app.example.com/embedded", `<div id="frame-item" class="item">delta</div>`)
	top.AttachFrame(mustQuery(t, top, "#embedded"), frame, false)

	ads := mustParse(t, "https://ads.example.net/frame", `<div id="ad" class="item">omega</div>`)
	top.AttachFrame(mustQuery(t, top, "#ads"), ads, true)

	return top, shadow, frame
}

func ids(nodes []*html.Node) []string {
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, Attr(n, "id"))
	}
	return out
}

func TestDeepQueryLayeredOrder(t *testing.T) {
	top, _, _ := layeredFixture(t)

	nodes, err := DeepQuerySelectorAll(top, ".item", DeepQueryOptions{IncludeIFrames: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "shadow-item", "frame-item"}, ids(nodes))
}

func TestDeepQueryOmitShadows(t *testing.T) {
	top, _, _ := layeredFixture(t)

	nodes, err := DeepQuerySelectorAll(top, ".item", DeepQueryOptions{OmitShadows: true, IncludeIFrames: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "frame-item"}, ids(nodes))
}

func TestDeepQueryWithoutIFrames(t *testing.T) {
	top, _, _ := layeredFixture(t)

	nodes, err := DeepQuerySelectorAll(top, ".item", DeepQueryOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "shadow-item"}, ids(nodes))
}

func TestDeepQueryCrossOriginFrameIsEmpty(t *testing.T) {
	top, _, _ := layeredFixture(t)

	nodes, err := DeepQuerySelectorAll(top, "#ad", DeepQueryOptions{IncludeIFrames: true})
	require.NoError(t, err)
	assert.Empty(t, nodes)
}

func TestDeepQuerySelectorFirstMatch(t *testing.T) {
	top, _, _ := layeredFixture(t)

	n, err := DeepQuerySelector(top, ".item", DeepQueryOptions{IncludeIFrames: true})
	require.NoError(t, err)
	require.NotNil(t, n)
	assert.Equal(t, "a", Attr(n, "id"))

	n, err = DeepQuerySelector(top, ".missing", DeepQueryOptions{})
	require.NoError(t, err)
	assert.Nil(t, n)
}

func TestDeepQueryInvalidSelector(t *testing.T) {
	top, _, _ := layeredFixture(t)

	_, err := DeepQuerySelectorAll(top, "[[", DeepQueryOptions{})
	assert.Error(t, err)
}

func TestDeepQueryNilDocument(t *testing.T) {
	nodes, err := DeepQuerySelectorAll(nil, ".item", DeepQueryOptions{})
	require.NoError(t, err)
	assert.Empty(t, nodes)
}

func TestWalkQueryDocumentOrder(t *testing.T) {
	top, _, _ := layeredFixture(t)

	// The walker emits shadow and frame content where their hosts sit
	// in the tree, unlike the layered query.
	nodes, err := WalkQuerySelectorAll(top, ".item", DeepQueryOptions{IncludeIFrames: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "shadow-item", "frame-item", "b"}, ids(nodes))
}

func TestWalkQueryRespectsOptions(t *testing.T) {
	top, _, _ := layeredFixture(t)

	nodes, err := WalkQuerySelectorAll(top, ".item", DeepQueryOptions{OmitShadows: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids(nodes))
}

func TestOwnerDocument(t *testing.T) {
	top, shadow, frame := layeredFixture(t)

	assert.Same(t, top, OwnerDocument(top, mustQuery(t, top, "#a")))
	assert.Same(t, shadow, OwnerDocument(top, mustQuery(t, shadow, "#shadow-item")))
	assert.Same(t, frame, OwnerDocument(top, mustQuery(t, frame, "#frame-item")))

	orphan := mustParse(t, "https://other.example.com/", `<div id="x"></div>`)
	assert.Nil(t, OwnerDocument(top, mustQuery(t, orphan, "#x")))
}

func TestContentDocumentCrossOrigin(t *testing.T) {
	top, _, _ := layeredFixture(t)

	_, err := top.ContentDocument(mustQuery(t, top, "#ads"))
	assert.ErrorIs(t, err, ErrCrossOrigin)

	content, err := top.ContentDocument(mustQuery(t, top, "#embedded"))
	require.NoError(t, err)
	assert.NotNil(t, content)

	// an iframe with nothing attached reads as empty, not as an error
	unattached := mustParse(t, "https://app.example.com/", `<iframe id="later"></iframe>`)
	content, err = unattached.ContentDocument(mustQuery(t, unattached, "#later"))
	require.NoError(t, err)
	assert.Nil(t, content)
}
