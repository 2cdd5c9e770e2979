package chrome

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/chromedp/chromedp"

	"automator/internal/actions"
	"automator/internal/relay"
)

// CaptureSession records raw DOM events from a live page. The injected
// script hooks the top document and every reachable same-origin frame;
// the poll loop drains the staged events and feeds them into the
// action parser. Top-frame events go straight to the top parser, each
// embedded frame's events pass through its own child parser and the
// in-tab relay, so live capture exercises the same commit pipeline as
// the in-memory recorder.
type CaptureSession struct {
	browser *Browser
	parser  *actions.Parser
	gesture actions.StopGesture
	poll    time.Duration
	onStop  func()

	mu        sync.Mutex
	recording bool
	cancel    context.CancelFunc
	children  map[string]*childFeed
}

// childFeed is one embedded frame's staging path: a forwarding parser
// wired over a dedicated relay pipe whose top end accepts into the top
// parser.
type childFeed struct {
	parser *actions.Parser
	top    *relay.Port
	child  *relay.Port
}

// NewCaptureSession wires a capture session to a browser and the
// top-frame parser. onStop fires once when the in-page stop gesture is
// seen; it may be nil.
func NewCaptureSession(b *Browser, p *actions.Parser, gesture actions.StopGesture, poll time.Duration, onStop func()) *CaptureSession {
	if poll <= 0 {
		poll = 100 * time.Millisecond
	}
	return &CaptureSession{
		browser:  b,
		parser:   p,
		gesture:  gesture,
		poll:     poll,
		onStop:   onStop,
		children: make(map[string]*childFeed),
	}
}

// Start navigates to targetURL, injects the capture script and begins
// draining events.
func (s *CaptureSession) Start(targetURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.recording {
		return fmt.Errorf("capture already in progress")
	}

	if err := s.browser.Navigate(targetURL); err != nil {
		return err
	}
	if err := chromedp.Run(s.browser.Context(),
		chromedp.Evaluate(captureScript(s.gesture), nil),
	); err != nil {
		return fmt.Errorf("failed to inject capture script: %w", err)
	}

	loopCtx, cancel := context.WithCancel(s.browser.Context())
	s.cancel = cancel
	s.recording = true
	go s.drainLoop(loopCtx)
	log.Printf("chrome: capture started on %s", targetURL)
	return nil
}

// Stop ends the capture. The staged stream stays with the parser; the
// caller commits it.
func (s *CaptureSession) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.recording {
		return
	}
	s.recording = false
	s.cancel()
	s.closeChildrenLocked()
	// best effort, the page may already be gone
	_ = chromedp.Run(s.browser.Context(),
		chromedp.Evaluate(`window.__automatorCapture && (window.__automatorCapture.recording = false)`, nil),
	)
	log.Printf("chrome: capture stopped")
}

// IsRecording reports whether the session is live.
func (s *CaptureSession) IsRecording() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recording
}

func (s *CaptureSession) closeChildrenLocked() {
	for href, feed := range s.children {
		feed.child.Close()
		feed.top.Close()
		delete(s.children, href)
	}
}

func (s *CaptureSession) drainLoop(ctx context.Context) {
	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var batch struct {
				TopHref string           `json:"topHref"`
				Events  []actions.Action `json:"events"`
				Stopped bool             `json:"stopped"`
			}
			err := chromedp.Run(ctx,
				chromedp.Evaluate(`window.__automatorCapture ? window.__automatorCapture.drain() : {topHref: '', events: [], stopped: false}`, &batch),
			)
			if err != nil {
				log.Printf("chrome: failed to drain capture events: %v", err)
				continue
			}
			for _, a := range batch.Events {
				if err := s.stage(ctx, batch.TopHref, a); err != nil {
					log.Printf("chrome: failed to stage captured %s/%s: %v", a.ActionType, a.EventType, err)
				}
			}
			if batch.Stopped {
				s.Stop()
				if s.onStop != nil {
					s.onStop()
				}
				return
			}
		}
	}
}

// stage routes one drained event into the pipeline. A top-frame event
// is staged directly; an embedded frame's event goes through that
// frame's forwarding parser and arrives at the top parser over the
// relay.
func (s *CaptureSession) stage(ctx context.Context, topHref string, a actions.Action) error {
	if a.FrameHref == "" || a.FrameHref == topHref {
		return s.parser.Stage(ctx, a)
	}
	return s.childFor(a.FrameHref).parser.Stage(ctx, a)
}

// childFor returns the staging path of an embedded frame, building the
// relay pipe and forwarding parser on first sight of the frame.
func (s *CaptureSession) childFor(frameHref string) *childFeed {
	s.mu.Lock()
	defer s.mu.Unlock()
	if feed, ok := s.children[frameHref]; ok {
		return feed
	}

	top, child := relay.Pipe()
	top.Handle(actions.RouteStageAction, func(ctx context.Context, payload json.RawMessage) (interface{}, error) {
		var a actions.Action
		if err := json.Unmarshal(payload, &a); err != nil {
			return nil, fmt.Errorf("bad stageAction payload: %w", err)
		}
		return nil, s.parser.Accept(a)
	})

	// the child side never commits, so its compression delta is unused
	feed := &childFeed{
		top:   top,
		child: child,
		parser: actions.NewChildParser(func(ctx context.Context, a actions.Action) error {
			_, err := child.Request(ctx, actions.RouteStageAction, a)
			return err
		}, 0),
	}
	s.children[frameHref] = feed
	log.Printf("chrome: capturing embedded frame %s", frameHref)
	return feed
}

// captureScript builds the in-page recorder. It hooks the top document
// and, rescanning on every drain, each reachable same-origin frame;
// cross-origin frames throw on access and are left alone. Selector
// derivation mirrors the server side in miniature (id, name,
// identifying attribute, class chain). The stop keystroke is flagged
// instead of acted on, so the server decides what a stop means.
func captureScript(gesture actions.StopGesture) string {
	return fmt.Sprintf(`
(function() {
	if (window.__automatorCapture) return;

	var stopModifier = %q;
	var stopKey = %q;

	var cap = window.__automatorCapture = {
		events: [],
		stopped: false,
		recording: true,

		drain: function() {
			this.scan(document);
			var out = { topHref: window.location.href, events: this.events, stopped: this.stopped };
			this.events = [];
			return out;
		},

		selectorOf: function(el) {
			if (el.id) return '#' + CSS.escape(el.id);
			if (el.getAttribute && el.getAttribute('name')) {
				return el.tagName.toLowerCase() + '[name="' + el.getAttribute('name') + '"]';
			}
			var attrs = ['href', 'aria-label', 'aria-labelledby'];
			for (var i = 0; i < attrs.length; i++) {
				var v = el.getAttribute && el.getAttribute(attrs[i]);
				if (v) return el.tagName.toLowerCase() + '[' + attrs[i] + '="' + v + '"]';
			}
			if (el.classList && el.classList.length) {
				return el.tagName.toLowerCase() + '.' + Array.from(el.classList).map(function(c) { return CSS.escape(c); }).join('.');
			}
			return el.tagName ? el.tagName.toLowerCase() : '*';
		},

		indexOf: function(doc, el, selector) {
			try {
				var all = doc.querySelectorAll(selector);
				for (var i = 0; i < all.length; i++) {
					if (all[i] === el) return i;
				}
			} catch (e) {}
			return 0;
		},

		base: function(event, actionType, href) {
			return {
				actionType: actionType,
				frameHref: href,
				tabHref: href === window.location.href ? window.location.href : '',
				timestamp: Date.now(),
				modifierKeys: {
					shift: event.shiftKey,
					ctrl: event.ctrlKey,
					alt: event.altKey,
					meta: event.metaKey
				}
			};
		},

		push: function(a) {
			if (this.recording) this.events.push(a);
		},

		scan: function(doc) {
			var frames = doc.querySelectorAll('iframe');
			for (var i = 0; i < frames.length; i++) {
				var cd, href = '';
				try {
					cd = frames[i].contentDocument;
					if (cd) href = frames[i].contentWindow.location.href;
				} catch (e) {
					continue;
				}
				if (!cd || cd.__automatorCaptureHooked) continue;
				cd.__automatorCaptureHooked = true;
				this.hook(cd, href, false);
				this.scan(cd);
			}
		},

		hook: function(doc, href, isTop) {
			var self = this;

			['click', 'dblclick', 'contextmenu', 'mousedown', 'mouseup'].forEach(function(type) {
				doc.addEventListener(type, function(event) {
					if (!event.isTrusted || !event.target) return;
					var a = self.base(event, 'mouse', href);
					a.eventType = type;
					var sel = self.selectorOf(event.target);
					a.selector = sel;
					a.queryIndex = self.indexOf(doc, event.target, sel);
					a.textContent = (event.target.textContent || '').trim();
					a.coordinates = {
						pageX: event.pageX, pageY: event.pageY,
						clientX: event.clientX, clientY: event.clientY
					};
					self.push(a);
				}, true);
			});

			['keydown', 'keyup'].forEach(function(type) {
				doc.addEventListener(type, function(event) {
					if (!event.isTrusted) return;
					var a = self.base(event, 'keyboard', href);
					a.eventType = type;
					a.key = event.key;
					var target = doc.activeElement || doc.body;
					var sel = self.selectorOf(target);
					a.selector = sel;
					a.queryIndex = self.indexOf(doc, target, sel);
					a.textContent = (target.textContent || '').trim();
					self.push(a);

					if (isTop && type === 'keydown' && event.ctrlKey && event.key === stopKey &&
						(stopModifier === '' ||
							(stopModifier === 'Shift' && event.shiftKey) ||
							(stopModifier === 'Alt' && event.altKey) ||
							(stopModifier === 'Meta' && event.metaKey))) {
						self.stopped = true;
						self.recording = false;
					}
				}, true);
			});
		}
	};

	cap.hook(document, window.location.href, true);
	cap.scan(document);
})();
`, gesture.Modifier, gesture.Key)
}
