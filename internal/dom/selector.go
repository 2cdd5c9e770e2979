package dom

import (
	"fmt"
	"strings"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
)

// Heuristic attribute sets carried over from the recording heuristics.
// They are deliberate constants: replay fidelity depends on deriving
// the same selector the recorder derived.
var (
	interactiveTags = map[string]bool{
		"a": true, "button": true, "input": true, "select": true, "textarea": true,
	}
	interactiveRoles = map[string]bool{
		"button": true, "link": true, "checkbox": true, "radio": true,
		"tab": true, "menuitem": true, "option": true, "switch": true,
		"textbox": true, "combobox": true, "searchbox": true, "slider": true,
	}
	interactiveStateAttrs = []string{
		"aria-pressed", "aria-checked", "aria-expanded", "aria-selected",
	}
	identifyingAttrs = []string{
		"id", "name", "href", "aria-label", "aria-labelledby",
	}
)

// IsInteractive reports whether n matches the fixed interactive
// predicate: an interactive tag, an interactive ARIA role, or an ARIA
// state attribute.
func IsInteractive(n *html.Node) bool {
	if n == nil || n.Type != html.ElementNode {
		return false
	}
	if interactiveTags[TagName(n)] {
		return true
	}
	if interactiveRoles[strings.ToLower(Attr(n, "role"))] {
		return true
	}
	for _, attr := range interactiveStateAttrs {
		if HasAttr(n, attr) {
			return true
		}
	}
	return false
}

func identifyingAttr(n *html.Node) (key, val string) {
	for _, attr := range identifyingAttrs {
		if v := Attr(n, attr); v != "" {
			return attr, v
		}
	}
	return "", ""
}

// DeriveSelector computes a re-lookup selector for el plus the
// zero-based index of the chosen element within the selector's result
// set over doc. The index is a structural fallback for replay-time
// disambiguation; primary disambiguation there is by text content.
//
// Best-effort by design: the derived selector is stable, not unique.
func DeriveSelector(doc *Document, el *html.Node) (string, int) {
	if el == nil || el.Type != html.ElementNode {
		return "", 0
	}

	interactive := interactiveCandidate(doc, el)
	identifying, relation := identifyingCandidate(interactive)

	selector := synthesizeSelector(doc, identifying)
	if relation == relationAncestor {
		selector = selector + " " + singularSelector(interactive)
	}

	ref := identifying
	if relation == relationAncestor {
		ref = interactive
	}

	index := 0
	if owner := OwnerDocument(doc, ref); owner != nil {
		if nodes, err := owner.QuerySelectorAll(selector); err == nil {
			for i, n := range nodes {
				if n == ref {
					index = i
					break
				}
			}
		}
	}
	return selector, index
}

// interactiveCandidate prefers the nearest interactive ancestor whose
// bounding box still contains the target, then a contained interactive
// descendant, then the raw target itself.
func interactiveCandidate(doc *Document, el *html.Node) *html.Node {
	targetBox, hasBox := doc.BoundingBox(el)
	for p := el; p != nil; p = p.Parent {
		if p.Type != html.ElementNode {
			continue
		}
		if !IsInteractive(p) {
			continue
		}
		if p == el {
			return p
		}
		if !hasBox {
			// no layout source: a DOM ancestor is assumed to enclose
			// its descendant
			return p
		}
		if box, ok := doc.BoundingBox(p); !ok || box.Contains(targetBox) {
			return p
		}
	}
	var descendant *html.Node
	walkNodes(el, func(n *html.Node) bool {
		if n != el && IsInteractive(n) {
			descendant = n
			return false
		}
		return true
	})
	if descendant != nil {
		return descendant
	}
	return el
}

type candidateRelation int

const (
	relationSelf candidateRelation = iota
	relationAncestor
	relationChild
)

// identifyingCandidate scans from the interactive candidate for the
// nearest element carrying an identifying attribute: self first, then
// ancestors, then descendants.
func identifyingCandidate(el *html.Node) (*html.Node, candidateRelation) {
	if _, v := identifyingAttr(el); v != "" {
		return el, relationSelf
	}
	for p := el.Parent; p != nil; p = p.Parent {
		if p.Type != html.ElementNode {
			continue
		}
		if _, v := identifyingAttr(p); v != "" {
			return p, relationAncestor
		}
	}
	var child *html.Node
	walkNodes(el, func(n *html.Node) bool {
		if n == el || n.Type != html.ElementNode {
			return true
		}
		if _, v := identifyingAttr(n); v != "" {
			child = n
			return false
		}
		return true
	})
	if child != nil {
		return child, relationChild
	}
	return el, relationSelf
}

// synthesizeSelector builds the identifying selector in fixed priority
// order: id, form-scoped name, other identifying attribute, class
// list, tag name.
func synthesizeSelector(doc *Document, el *html.Node) string {
	if id := Attr(el, "id"); id != "" {
		return "#" + EscapeCSS(id)
	}
	if name := Attr(el, "name"); name != "" {
		nameSel := `[name="` + escapeAttrValue(name) + `"]`
		if form := enclosingForm(el); form != nil {
			if action := Attr(form, "action"); action != "" {
				return `form[action="` + escapeAttrValue(action) + `"] ` + nameSel
			}
			return "form " + nameSel
		}
		return nameSel
	}
	if key, val := identifyingAttr(el); key != "" {
		return TagName(el) + "[" + key + `="` + escapeAttrValue(val) + `"]`
	}
	if sel := classSelector(el); sel != "" {
		return sel
	}
	return TagName(el)
}

// singularSelector is the element's own simple selector, used as the
// descendant part of an ancestor-scoped selector.
func singularSelector(el *html.Node) string {
	if sel := classSelector(el); sel != "" {
		return sel
	}
	return TagName(el)
}

func classSelector(el *html.Node) string {
	classes := strings.Fields(Attr(el, "class"))
	if len(classes) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(TagName(el))
	for _, c := range classes {
		b.WriteByte('.')
		b.WriteString(EscapeCSS(c))
	}
	return b.String()
}

func enclosingForm(el *html.Node) *html.Node {
	for p := el.Parent; p != nil; p = p.Parent {
		if TagName(p) == "form" {
			return p
		}
	}
	return nil
}

// EscapeCSS escapes a value for embedding in a selector, following the
// CSS.escape serialization rules.
func EscapeCSS(s string) string {
	var b strings.Builder
	for i, r := range s {
		switch {
		case r == 0:
			b.WriteRune('�')
		case r >= '0' && r <= '9' && i == 0:
			fmt.Fprintf(&b, "\\%x ", r)
		case r >= '0' && r <= '9' && i == 1 && s[0] == '-':
			fmt.Fprintf(&b, "\\%x ", r)
		case r == '-' && i == 0 && len(s) == 1:
			b.WriteByte('\\')
			b.WriteRune(r)
		case r >= 0x80 || r == '-' || r == '_' ||
			(r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'):
			b.WriteRune(r)
		case r < 0x20 || r == 0x7f:
			fmt.Fprintf(&b, "\\%x ", r)
		default:
			b.WriteByte('\\')
			b.WriteRune(r)
		}
	}
	return b.String()
}

// escapeAttrValue escapes a value for a double-quoted attribute
// selector.
func escapeAttrValue(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `"`, `\"`)
}

func compileMatcher(selector string) (func(*html.Node) bool, error) {
	sel, err := cascadia.ParseGroup(selector)
	if err != nil {
		return nil, fmt.Errorf("invalid selector %q: %w", selector, err)
	}
	return sel.Match, nil
}
