package chrome

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"automator/internal/actions"
)

// Dispatcher replays actions against the live page by evaluating
// synthetic-event dispatch in the page itself, where shadow roots and
// same-origin iframes are reachable.
type Dispatcher struct {
	browser *Browser
}

func NewDispatcher(b *Browser) *Dispatcher {
	return &Dispatcher{browser: b}
}

// DispatchMouse resolves the selector in-page (light DOM, then open
// shadow roots, then same-origin iframes), disambiguates by trimmed
// text content or title and falls back to the recorded index, then
// fires the recorded mouse event.
func (d *Dispatcher) DispatchMouse(ctx context.Context, selector string, index int, a actions.Action) error {
	payload, err := json.Marshal(map[string]interface{}{
		"selector": selector,
		"index":    index,
		"text":     a.TextContent,
		"type":     a.EventType,
		"mods": map[string]bool{
			"shift": a.Modifiers.Shift,
			"ctrl":  a.Modifiers.Ctrl,
			"alt":   a.Modifiers.Alt,
			"meta":  a.Modifiers.Meta,
		},
		"clientX": a.Coordinates.ClientX,
		"clientY": a.Coordinates.ClientY,
	})
	if err != nil {
		return err
	}

	var outcome string
	err = chromedp.Run(d.browser.Context(),
		chromedp.Evaluate(fmt.Sprintf(mouseDispatchScript, payload), &outcome),
	)
	if err != nil {
		return fmt.Errorf("mouse dispatch failed: %w", err)
	}
	if outcome == "not-found" {
		// vanished target, skip and keep replaying
		log.Printf("chrome: no target for %q, skipping", selector)
		return nil
	}
	if outcome != "ok" {
		return fmt.Errorf("mouse dispatch on %q: %s", selector, outcome)
	}
	return nil
}

// DispatchKey fires the key event at the page's active element,
// falling back to body.
func (d *Dispatcher) DispatchKey(ctx context.Context, a actions.Action) error {
	payload, err := json.Marshal(map[string]interface{}{
		"type": a.EventType,
		"key":  a.Key,
		"mods": map[string]bool{
			"shift": a.Modifiers.Shift,
			"ctrl":  a.Modifiers.Ctrl,
			"alt":   a.Modifiers.Alt,
			"meta":  a.Modifiers.Meta,
		},
	})
	if err != nil {
		return err
	}
	if err := chromedp.Run(d.browser.Context(),
		chromedp.Evaluate(fmt.Sprintf(keyDispatchScript, payload), nil),
	); err != nil {
		return fmt.Errorf("key dispatch failed: %w", err)
	}
	return nil
}

const mouseDispatchScript = `
(function(req) {
	function deepQueryAll(root, selector, acc) {
		acc.push.apply(acc, root.querySelectorAll(selector));
		var walker = (root.ownerDocument || root).createTreeWalker(root.body || root, NodeFilter.SHOW_ELEMENT);
		var node;
		while ((node = walker.nextNode())) {
			if (node.shadowRoot) deepQueryAll(node.shadowRoot, selector, acc);
			if (node.tagName === 'IFRAME') {
				try {
					if (node.contentDocument) deepQueryAll(node.contentDocument, selector, acc);
				} catch (e) {}
			}
		}
		return acc;
	}

	var matches;
	try {
		matches = deepQueryAll(document, req.selector, []);
	} catch (e) {
		return 'bad selector: ' + e.message;
	}
	if (matches.length === 0) return 'not-found';

	var target = null;
	if (matches.length === 1) {
		target = matches[0];
	} else if (req.text) {
		for (var i = 0; i < matches.length; i++) {
			var el = matches[i];
			if ((el.textContent || '').trim() === req.text || el.getAttribute('title') === req.text) {
				target = el;
				break;
			}
		}
	}
	if (!target && req.index >= 0 && req.index < matches.length) target = matches[req.index];
	if (!target) return 'not-found';

	target.dispatchEvent(new MouseEvent(req.type, {
		bubbles: true, cancelable: true, view: window,
		clientX: req.clientX, clientY: req.clientY,
		shiftKey: req.mods.shift, ctrlKey: req.mods.ctrl,
		altKey: req.mods.alt, metaKey: req.mods.meta
	}));
	if (req.type === 'click' && typeof target.click === 'function') target.click();
	return 'ok';
})(%s)
`

const keyDispatchScript = `
(function(req) {
	var target = document.activeElement || document.body;
	target.dispatchEvent(new KeyboardEvent(req.type, {
		bubbles: true, cancelable: true, key: req.key,
		shiftKey: req.mods.shift, ctrlKey: req.mods.ctrl,
		altKey: req.mods.alt, metaKey: req.mods.meta
	}));
})(%s)
`

// ScriptHost manages persistent user-script bindings: each script is
// installed via AddScriptToEvaluateOnNewDocument so it survives
// navigations, and is also evaluated immediately in the current page.
// Scripts run in the page's main world, so they can touch page
// globals.
type ScriptHost struct {
	browser *Browser

	mu        sync.Mutex
	installed map[string]page.ScriptIdentifier
}

func NewScriptHost(b *Browser) *ScriptHost {
	return &ScriptHost{browser: b, installed: make(map[string]page.ScriptIdentifier)}
}

// Register installs a named script. Registering an already-known name
// behaves like Update.
func (h *ScriptHost) Register(ctx context.Context, name, code, originPattern string) error {
	return h.install(name, code, originPattern)
}

// Update replaces the binding for name: the previous injected script
// is removed before the new one is installed.
func (h *ScriptHost) Update(ctx context.Context, name, code, originPattern string) error {
	h.mu.Lock()
	prev, ok := h.installed[name]
	h.mu.Unlock()
	if ok {
		if err := chromedp.Run(h.browser.Context(),
			page.RemoveScriptToEvaluateOnNewDocument(prev),
		); err != nil {
			log.Printf("chrome: failed to remove previous script %q: %v", name, err)
		}
	}
	return h.install(name, code, originPattern)
}

func (h *ScriptHost) install(name, code, originPattern string) error {
	// scope the script to its recorded origin
	guarded := fmt.Sprintf(
		`(function() { if (!%s) return; %s })();`,
		originGuard(originPattern), code,
	)

	var id page.ScriptIdentifier
	err := chromedp.Run(h.browser.Context(),
		chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			id, err = page.AddScriptToEvaluateOnNewDocument(guarded).Do(ctx)
			return err
		}),
		chromedp.Evaluate(guarded, nil),
	)
	if err != nil {
		return fmt.Errorf("installing script %q: %w", name, err)
	}

	h.mu.Lock()
	h.installed[name] = id
	h.mu.Unlock()
	log.Printf("chrome: script %q installed for %s", name, originPattern)
	return nil
}

// originGuard builds the in-page predicate that limits a script to its
// origin pattern ("https://example.com/*" style).
func originGuard(pattern string) string {
	if pattern == "" || pattern == "*" {
		return "true"
	}
	prefix := pattern
	if n := len(prefix); n > 0 && prefix[n-1] == '*' {
		prefix = prefix[:n-1]
	}
	quoted, _ := json.Marshal(prefix)
	return fmt.Sprintf("window.location.href.indexOf(%s) === 0", quoted)
}
