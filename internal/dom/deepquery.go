package dom

import (
	"errors"

	"golang.org/x/net/html"
)

// DeepQueryOptions controls how far a deep query descends.
type DeepQueryOptions struct {
	// OmitShadows skips shadow roots entirely.
	OmitShadows bool
	// IncludeIFrames descends into same-origin iframe documents.
	// Cross-origin frames are always treated as empty.
	IncludeIFrames bool
}

// DeepQuerySelectorAll resolves selector against doc and, per opts,
// every reachable shadow root and same-origin iframe document.
//
// Results are layered, not document-ordered: the whole light DOM of a
// document is matched before any of its shadow roots, and all shadow
// roots before any iframe. Callers that need document order walk the
// tree with NewTreeWalker instead.
func DeepQuerySelectorAll(doc *Document, selector string, opts DeepQueryOptions) ([]*html.Node, error) {
	if doc == nil {
		return nil, nil
	}
	out, err := doc.QuerySelectorAll(selector)
	if err != nil {
		return nil, err
	}

	if !opts.OmitShadows {
		for _, host := range doc.shadowHosts {
			shadow := doc.shadows[host]
			sub, err := DeepQuerySelectorAll(shadow, selector, opts)
			if err != nil {
				return nil, err
			}
			out = append(out, sub...)
		}
	}

	if opts.IncludeIFrames {
		for _, iframe := range doc.frameHosts {
			content, err := doc.ContentDocument(iframe)
			if errors.Is(err, ErrCrossOrigin) {
				// inaccessible frame counts as empty
				continue
			}
			if err != nil || content == nil {
				continue
			}
			sub, err := DeepQuerySelectorAll(content, selector, opts)
			if err != nil {
				return nil, err
			}
			out = append(out, sub...)
		}
	}

	return out, nil
}

// DeepQuerySelector returns the first deep match of selector, or nil.
func DeepQuerySelector(doc *Document, selector string, opts DeepQueryOptions) (*html.Node, error) {
	nodes, err := DeepQuerySelectorAll(doc, selector, opts)
	if err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return nil, nil
	}
	return nodes[0], nil
}

// OwnerDocument finds the document (doc itself, one of its shadow
// roots, or a same-origin frame document) whose tree contains n.
func OwnerDocument(doc *Document, n *html.Node) *Document {
	if doc == nil {
		return nil
	}
	if doc.Contains(n) {
		return doc
	}
	for _, host := range doc.shadowHosts {
		if owner := OwnerDocument(doc.shadows[host], n); owner != nil {
			return owner
		}
	}
	for _, iframe := range doc.frameHosts {
		content, err := doc.ContentDocument(iframe)
		if err != nil || content == nil {
			continue
		}
		if owner := OwnerDocument(content, n); owner != nil {
			return owner
		}
	}
	return nil
}

type walkFrame struct {
	node *html.Node
	doc  *Document
}

// TreeWalker yields every node reachable from a document in strict
// depth-first document order, descending into shadow roots and
// same-origin iframe documents at the element where they are mounted.
// The sequence is lazy, finite and not restartable.
type TreeWalker struct {
	opts  DeepQueryOptions
	stack []walkFrame
}

// NewTreeWalker starts a walk at doc's root.
func NewTreeWalker(doc *Document, opts DeepQueryOptions) *TreeWalker {
	w := &TreeWalker{opts: opts}
	if doc != nil && doc.root != nil {
		w.stack = []walkFrame{{node: doc.root, doc: doc}}
	}
	return w
}

// Next returns the next node in the walk, or nil once exhausted.
func (w *TreeWalker) Next() *html.Node {
	for len(w.stack) > 0 {
		top := w.stack[len(w.stack)-1]
		w.stack = w.stack[:len(w.stack)-1]

		n, doc := top.node, top.doc

		// Light-DOM children are pushed first (visited last), so that
		// a shadow root or frame content mounted on this element is
		// emitted at the point of encounter.
		var next []walkFrame
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			next = append(next, walkFrame{node: c, doc: doc})
		}

		if n.Type == html.ElementNode {
			if w.opts.IncludeIFrames && TagName(n) == "iframe" {
				if content, err := doc.ContentDocument(n); err == nil && content != nil {
					next = append([]walkFrame{{node: content.root, doc: content}}, next...)
				}
			}
			if !w.opts.OmitShadows {
				if shadow, ok := doc.ShadowRoot(n); ok && shadow != nil {
					next = append([]walkFrame{{node: shadow.root, doc: shadow}}, next...)
				}
			}
		}

		for i := len(next) - 1; i >= 0; i-- {
			w.stack = append(w.stack, next[i])
		}
		return n
	}
	return nil
}

// WalkQuerySelectorAll is the order-preserving deep query: matches are
// returned in the order NewTreeWalker visits them.
func WalkQuerySelectorAll(doc *Document, selector string, opts DeepQueryOptions) ([]*html.Node, error) {
	matcher, err := compileMatcher(selector)
	if err != nil {
		return nil, err
	}
	var out []*html.Node
	w := NewTreeWalker(doc, opts)
	for n := w.Next(); n != nil; n = w.Next() {
		if n.Type == html.ElementNode && matcher(n) {
			out = append(out, n)
		}
	}
	return out, nil
}
