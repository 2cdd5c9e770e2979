package dom

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
)

// ErrCrossOrigin is returned when a frame's content document belongs to
// another origin and may not be touched from this document.
var ErrCrossOrigin = errors.New("cross-origin frame content is not accessible")

// Rect is an element bounding box in page coordinates.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Contains reports whether r fully encloses other.
func (r Rect) Contains(other Rect) bool {
	return other.X >= r.X && other.Y >= r.Y &&
		other.X+other.Width <= r.X+r.Width &&
		other.Y+other.Height <= r.Y+r.Height
}

// Geometry supplies element bounding boxes when a layout source (a live
// browser backend) is attached. Without one, layout-based checks fall
// back to tree containment.
type Geometry func(n *html.Node) (Rect, bool)

type frameRef struct {
	doc         *Document
	crossOrigin bool
}

// Document models one browsing context's DOM: a parsed HTML tree plus
// the shadow roots and iframe sub-documents attached to host elements.
// Shadow roots and frames are separate Documents so a plain selector
// query never crosses a boundary by accident.
type Document struct {
	Href   string
	Origin string

	root   *html.Node
	shadows map[*html.Node]*Document
	frames  map[*html.Node]*frameRef
	// encounter order of attachment, so layered queries are stable
	shadowHosts []*html.Node
	frameHosts  []*html.Node

	geometry Geometry
	active   *html.Node

	lmu       sync.Mutex
	listeners map[int]*listenerEntry
	nextLID   int
}

// Parse builds a Document from serialized HTML.
func Parse(href, htmlText string) (*Document, error) {
	root, err := html.Parse(strings.NewReader(htmlText))
	if err != nil {
		return nil, fmt.Errorf("failed to parse document %s: %w", href, err)
	}
	return &Document{
		Href:      href,
		Origin:    originOf(href),
		root:      root,
		shadows:   make(map[*html.Node]*Document),
		frames:    make(map[*html.Node]*frameRef),
		listeners: make(map[int]*listenerEntry),
	}, nil
}

func originOf(href string) string {
	rest := href
	if i := strings.Index(rest, "://"); i >= 0 {
		scheme := rest[:i]
		rest = rest[i+3:]
		if j := strings.IndexByte(rest, '/'); j >= 0 {
			rest = rest[:j]
		}
		return scheme + "://" + rest
	}
	return href
}

// Root returns the document's root node.
func (d *Document) Root() *html.Node { return d.root }

// Body returns the <body> element, or nil for a body-less tree.
func (d *Document) Body() *html.Node {
	return d.findTag("body")
}

func (d *Document) findTag(tag string) *html.Node {
	var found *html.Node
	walkNodes(d.root, func(n *html.Node) bool {
		if n.Type == html.ElementNode && n.Data == tag {
			found = n
			return false
		}
		return true
	})
	return found
}

// ActiveElement returns the focused element, defaulting to <body>.
func (d *Document) ActiveElement() *html.Node {
	if d.active != nil {
		return d.active
	}
	return d.Body()
}

// FocusedElement returns the explicitly focused element, nil when
// nothing was ever focused.
func (d *Document) FocusedElement() *html.Node { return d.active }

// Focus marks n as the document's focused element.
func (d *Document) Focus(n *html.Node) { d.active = n }

// SetGeometry attaches a layout source for bounding-box lookups.
func (d *Document) SetGeometry(g Geometry) { d.geometry = g }

// BoundingBox returns n's box from the attached layout source.
func (d *Document) BoundingBox(n *html.Node) (Rect, bool) {
	if d.geometry == nil {
		return Rect{}, false
	}
	return d.geometry(n)
}

// AttachShadow mounts shadow as the shadow root of host. Open and
// closed shadow roots are not distinguished: the deep query descends
// into both, as the recording side sees both.
func (d *Document) AttachShadow(host *html.Node, shadow *Document) {
	if _, ok := d.shadows[host]; !ok {
		d.shadowHosts = append(d.shadowHosts, host)
	}
	d.shadows[host] = shadow
}

// AttachFrame mounts sub as the content document of the given <iframe>
// element. A cross-origin frame is attached opaque: any attempt to read
// its content yields ErrCrossOrigin.
func (d *Document) AttachFrame(iframe *html.Node, sub *Document, crossOrigin bool) {
	if _, ok := d.frames[iframe]; !ok {
		d.frameHosts = append(d.frameHosts, iframe)
	}
	d.frames[iframe] = &frameRef{doc: sub, crossOrigin: crossOrigin}
}

// ShadowRoot returns the shadow document attached to host, if any.
func (d *Document) ShadowRoot(host *html.Node) (*Document, bool) {
	sd, ok := d.shadows[host]
	return sd, ok
}

// ContentDocument returns the content document of an <iframe> element.
func (d *Document) ContentDocument(iframe *html.Node) (*Document, error) {
	ref, ok := d.frames[iframe]
	if !ok {
		return nil, nil
	}
	if ref.crossOrigin {
		return nil, ErrCrossOrigin
	}
	return ref.doc, nil
}

// QuerySelectorAll matches selector against this document's own tree
// only; shadow roots and frames are never entered.
func (d *Document) QuerySelectorAll(selector string) ([]*html.Node, error) {
	sel, err := cascadia.ParseGroup(selector)
	if err != nil {
		return nil, fmt.Errorf("invalid selector %q: %w", selector, err)
	}
	return cascadia.QueryAll(d.root, sel), nil
}

// QuerySelector returns the first match of selector in this document.
func (d *Document) QuerySelector(selector string) (*html.Node, error) {
	nodes, err := d.QuerySelectorAll(selector)
	if err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return nil, nil
	}
	return nodes[0], nil
}

// Contains reports whether n belongs to this document's own tree.
func (d *Document) Contains(n *html.Node) bool {
	for p := n; p != nil; p = p.Parent {
		if p == d.root {
			return true
		}
	}
	return false
}

// walkNodes runs fn over the subtree rooted at n in document order,
// stopping when fn returns false.
func walkNodes(n *html.Node, fn func(*html.Node) bool) bool {
	if !fn(n) {
		return false
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if !walkNodes(c, fn) {
			return false
		}
	}
	return true
}

// Attr returns the value of the named attribute on n.
func Attr(n *html.Node, key string) string {
	if n == nil {
		return ""
	}
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Val
		}
	}
	return ""
}

// HasAttr reports whether n carries the named attribute.
func HasAttr(n *html.Node, key string) bool {
	if n == nil {
		return false
	}
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return true
		}
	}
	return false
}

// SetAttr sets (or replaces) an attribute on n.
func SetAttr(n *html.Node, key, val string) {
	for i, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

// RemoveAttr deletes an attribute from n.
func RemoveAttr(n *html.Node, key string) {
	for i, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			n.Attr = append(n.Attr[:i], n.Attr[i+1:]...)
			return
		}
	}
}

// TextContent returns the concatenated text of the subtree at n.
func TextContent(n *html.Node) string {
	var b strings.Builder
	walkNodes(n, func(node *html.Node) bool {
		if node.Type == html.TextNode {
			b.WriteString(node.Data)
		}
		return true
	})
	return b.String()
}

// TagName returns the lower-case tag of an element node.
func TagName(n *html.Node) string {
	if n == nil || n.Type != html.ElementNode {
		return ""
	}
	return strings.ToLower(n.Data)
}

// AddClass appends a class token to n's class attribute.
func AddClass(n *html.Node, class string) {
	existing := Attr(n, "class")
	for _, c := range strings.Fields(existing) {
		if c == class {
			return
		}
	}
	if existing == "" {
		SetAttr(n, "class", class)
		return
	}
	SetAttr(n, "class", existing+" "+class)
}

// RemoveClass strips a class token from n's class attribute.
func RemoveClass(n *html.Node, class string) {
	fields := strings.Fields(Attr(n, "class"))
	kept := fields[:0]
	for _, c := range fields {
		if c != class {
			kept = append(kept, c)
		}
	}
	SetAttr(n, "class", strings.Join(kept, " "))
}

// HasClass reports whether n's class list contains class.
func HasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(Attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}
