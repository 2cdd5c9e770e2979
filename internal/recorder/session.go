// Package recorder runs live recording sessions: it binds and unbinds
// the DOM listeners that capture raw events, keeps the hover highlight
// on exactly one element, watches for the stop keystroke and hands the
// captured stream to the action parser. Every frame runs its own
// session; only the top window's session commits.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/html"

	"automator/internal/actions"
	"automator/internal/dom"
)

// HighlightClass marks the element the pointer is currently over so
// the user can see what a deliberate interaction would record.
const HighlightClass = "automator-recording-target"

// State of a recording session.
type State int

const (
	Idle State = iota
	Active
)

func (s State) String() string {
	if s == Active {
		return "active"
	}
	return "idle"
}

// ErrAlreadyRecording is returned by Start while a session is Active.
var ErrAlreadyRecording = errors.New("recording already in progress")

// Panel is the visible recording indicator mounted in the top window.
// It shows the stop keystroke and exposes a mount/unmount lifecycle.
type Panel interface {
	Mount(gesture actions.StopGesture)
	Unmount()
}

// CommitSink receives the committed action list when the top window's
// session stops with a non-empty result. It routes the list into
// record configuration and save.
type CommitSink func(ctx context.Context, committed []actions.Action) error

// Config wires one per-frame session.
type Config struct {
	Doc       *dom.Document
	FrameHref string
	TabHref   string
	IsTop     bool
	Parser    *actions.Parser
	Gesture   actions.StopGesture
	Panel     Panel
	Sink      CommitSink
	QueryOpts dom.DeepQueryOptions
}

// mouseEvents an element-bound listener set captures. Listeners sit on
// the hovered element, not the document, so only deliberate
// interaction with a highlighted element is staged.
var mouseEvents = []dom.EventType{
	dom.EventClick,
	dom.EventMouseDown,
	dom.EventMouseUp,
	dom.EventContextMenu,
	dom.EventDblClick,
}

// Session is one frame's recording context. Start and Stop form a
// strict Idle/Active state machine; every listener bound by Start is
// recorded in the unbind tables so Stop leaves the document exactly as
// it found it.
type Session struct {
	cfg Config

	mu          sync.Mutex
	state       State
	docHandles  []dom.ListenerHandle
	elemHandles []dom.ListenerHandle
	hovered     *html.Node
}

// NewSession builds an idle session.
func NewSession(cfg Config) *Session {
	return &Session{cfg: cfg}
}

// State reports the current phase.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start enters Active: binds the hover tracker, the document-level
// capturing key listeners, and in the top window mounts the indicator
// panel and makes sure something holds focus so key events are
// observable. Starting an active session is an error.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Active {
		return ErrAlreadyRecording
	}

	doc := s.cfg.Doc
	s.docHandles = append(s.docHandles,
		doc.AddListener(nil, dom.EventMouseOver, false, func(ev *dom.Event) { s.hoverIn(ctx, ev) }),
		doc.AddListener(nil, dom.EventMouseOut, false, func(ev *dom.Event) { s.hoverOut(ev) }),
		doc.AddListener(nil, dom.EventKeyDown, true, func(ev *dom.Event) { s.stageKey(ctx, ev) }),
		doc.AddListener(nil, dom.EventKeyUp, true, func(ev *dom.Event) { s.stageKey(ctx, ev) }),
	)

	if s.cfg.IsTop {
		if s.cfg.Panel != nil {
			s.cfg.Panel.Mount(s.cfg.Gesture)
		}
		if doc.FocusedElement() == nil {
			doc.Focus(doc.Body())
		}
	}

	s.state = Active
	log.Printf("recorder: started (frame %s, top=%v)", s.cfg.FrameHref, s.cfg.IsTop)
	return nil
}

// Stop exits Active: unbinds every listener, clears the highlight,
// unmounts the panel and, in the top window only, commits the staged
// stream and hands the result to the sink. An empty commit produces no
// record. Stopping an idle session is a no-op.
func (s *Session) Stop(ctx context.Context) ([]actions.Action, error) {
	s.mu.Lock()
	if s.state == Idle {
		s.mu.Unlock()
		return nil, nil
	}
	doc := s.cfg.Doc
	for _, h := range s.docHandles {
		doc.RemoveListener(h)
	}
	s.docHandles = nil
	s.clearHoverLocked()
	s.state = Idle
	s.mu.Unlock()

	if s.cfg.IsTop && s.cfg.Panel != nil {
		s.cfg.Panel.Unmount()
	}
	log.Printf("recorder: stopped (frame %s)", s.cfg.FrameHref)

	if !s.cfg.IsTop {
		return nil, nil
	}
	committed, err := s.cfg.Parser.Commit(s.cfg.Gesture)
	if err != nil {
		return nil, fmt.Errorf("commit after stop: %w", err)
	}
	if len(committed) == 0 {
		log.Printf("recorder: nothing captured, no record to configure")
		return nil, nil
	}
	if s.cfg.Sink != nil {
		if err := s.cfg.Sink(ctx, committed); err != nil {
			return committed, fmt.Errorf("routing committed actions: %w", err)
		}
	}
	return committed, nil
}

// hoverIn moves the highlight to the newly hovered element and rebinds
// the element-level mouse listeners there. At most one element is
// highlighted at a time.
func (s *Session) hoverIn(ctx context.Context, ev *dom.Event) {
	if ev.Target == nil || ev.Target.Type != html.ElementNode {
		return
	}
	s.mu.Lock()
	if s.state != Active || ev.Target == s.hovered {
		s.mu.Unlock()
		return
	}
	s.clearHoverLocked()
	s.hovered = ev.Target
	dom.AddClass(ev.Target, HighlightClass)
	target := ev.Target
	for _, typ := range mouseEvents {
		s.elemHandles = append(s.elemHandles,
			s.cfg.Doc.AddListener(target, typ, false, func(mev *dom.Event) {
				s.stageMouse(ctx, mev)
			}),
		)
	}
	s.mu.Unlock()
}

func (s *Session) hoverOut(ev *dom.Event) {
	s.mu.Lock()
	if s.hovered != nil && ev.Target == s.hovered {
		s.clearHoverLocked()
	}
	s.mu.Unlock()
}

// clearHoverLocked removes the highlight and the element-bound
// listeners. Caller holds s.mu.
func (s *Session) clearHoverLocked() {
	if s.hovered != nil {
		dom.RemoveClass(s.hovered, HighlightClass)
		s.hovered = nil
	}
	for _, h := range s.elemHandles {
		s.cfg.Doc.RemoveListener(h)
	}
	s.elemHandles = nil
}

// stageMouse derives the target's selector and stages one raw mouse
// action. Staging failures are logged, never thrown into the page.
func (s *Session) stageMouse(ctx context.Context, ev *dom.Event) {
	selector, index := dom.DeriveSelector(s.cfg.Doc, ev.Target)
	a := actions.Action{
		ActionType:  actions.TypeMouse,
		FrameHref:   s.cfg.FrameHref,
		TabHref:     s.cfg.TabHref,
		Timestamp:   s.eventTime(ev),
		EventType:   string(ev.Type),
		Modifiers:   modifiersOf(ev),
		Selector:    selector,
		TextContent: strings.TrimSpace(dom.TextContent(ev.Target)),
		QueryIndex:  index,
		Coordinates: actions.Coordinates{
			PageX:   ev.PageX,
			PageY:   ev.PageY,
			ClientX: ev.ClientX,
			ClientY: ev.ClientY,
		},
	}
	if err := s.cfg.Parser.Stage(ctx, a); err != nil {
		log.Printf("recorder: failed to stage %s on %q: %v", ev.Type, selector, err)
	}
}

// stageKey stages one raw keyboard action and, on the stop keystroke,
// ends the session. The stop keystroke itself is staged too; the
// commit pass strips it from the tail.
func (s *Session) stageKey(ctx context.Context, ev *dom.Event) {
	target := s.cfg.Doc.ActiveElement()
	if target == nil {
		target = s.cfg.Doc.Body()
	}
	var selector string
	var index int
	var text string
	if target != nil {
		selector, index = dom.DeriveSelector(s.cfg.Doc, target)
		text = strings.TrimSpace(dom.TextContent(target))
	}
	a := actions.Action{
		ActionType:  actions.TypeKeyboard,
		FrameHref:   s.cfg.FrameHref,
		TabHref:     s.cfg.TabHref,
		Timestamp:   s.eventTime(ev),
		EventType:   string(ev.Type),
		Key:         ev.Key,
		Modifiers:   modifiersOf(ev),
		Selector:    selector,
		TextContent: text,
		QueryIndex:  index,
	}
	if err := s.cfg.Parser.Stage(ctx, a); err != nil {
		log.Printf("recorder: failed to stage %s of %q: %v", ev.Type, ev.Key, err)
	}

	if ev.Type == dom.EventKeyDown && s.cfg.Gesture.Matches(a) {
		if _, err := s.Stop(ctx); err != nil {
			log.Printf("recorder: stop gesture handling failed: %v", err)
		}
	}
}

func (s *Session) eventTime(ev *dom.Event) int64 {
	if ev.Timestamp != 0 {
		return ev.Timestamp
	}
	return time.Now().UnixMilli()
}

func modifiersOf(ev *dom.Event) actions.ModifierKeys {
	return actions.ModifierKeys{
		Shift: ev.ShiftKey,
		Ctrl:  ev.CtrlKey,
		Alt:   ev.AltKey,
		Meta:  ev.MetaKey,
	}
}
