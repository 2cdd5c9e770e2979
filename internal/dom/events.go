package dom

import (
	"golang.org/x/net/html"
)

// EventType names a DOM event.
type EventType string

const (
	EventClick       EventType = "click"
	EventDblClick    EventType = "dblclick"
	EventContextMenu EventType = "contextmenu"
	EventMouseDown   EventType = "mousedown"
	EventMouseUp     EventType = "mouseup"
	EventMouseOver   EventType = "mouseover"
	EventMouseOut    EventType = "mouseout"
	EventKeyDown     EventType = "keydown"
	EventKeyUp       EventType = "keyup"
)

// Event is one dispatched DOM event. Coordinates are page-relative
// (PageX/PageY) and viewport-relative (ClientX/ClientY).
type Event struct {
	Type   EventType
	Target *html.Node

	Key      string
	ShiftKey bool
	CtrlKey  bool
	AltKey   bool
	MetaKey  bool

	PageX, PageY     float64
	ClientX, ClientY float64

	// capture instant, ms since epoch
	Timestamp int64

	stopped bool
}

// StopPropagation halts further listener invocation for this event.
func (e *Event) StopPropagation() { e.stopped = true }

// Listener handles a dispatched event.
type Listener func(*Event)

// ListenerHandle identifies one registered listener for removal.
type ListenerHandle int

type listenerEntry struct {
	node    *html.Node // nil binds at the document level
	typ     EventType
	capture bool
	fn      Listener
}

// AddListener registers fn for events of type typ at node (nil for the
// document itself). Capturing listeners run root-to-target before
// bubbling listeners run target-to-root, mirroring DOM dispatch.
func (d *Document) AddListener(node *html.Node, typ EventType, capture bool, fn Listener) ListenerHandle {
	d.lmu.Lock()
	defer d.lmu.Unlock()
	d.nextLID++
	id := d.nextLID
	d.listeners[id] = &listenerEntry{node: node, typ: typ, capture: capture, fn: fn}
	return ListenerHandle(id)
}

// RemoveListener unregisters a listener. Removing an unknown handle is
// a no-op, so unbind tables stay idempotent.
func (d *Document) RemoveListener(h ListenerHandle) {
	d.lmu.Lock()
	defer d.lmu.Unlock()
	delete(d.listeners, int(h))
}

// ListenerCount reports the number of registered listeners. Tests use
// it to assert that start/stop cycles do not leak bindings.
func (d *Document) ListenerCount() int {
	d.lmu.Lock()
	defer d.lmu.Unlock()
	return len(d.listeners)
}

// Dispatch delivers ev through the capture phase (document down to the
// target) and then the bubble phase (target back up to the document).
func (d *Document) Dispatch(ev *Event) {
	if ev == nil {
		return
	}
	var path []*html.Node // target first, root last
	for n := ev.Target; n != nil; n = n.Parent {
		path = append(path, n)
	}

	for i := len(path) - 1; i >= 0; i-- {
		if ev.stopped {
			return
		}
		d.invoke(path[i], ev, true)
	}
	for i := 0; i < len(path); i++ {
		if ev.stopped {
			return
		}
		d.invoke(path[i], ev, false)
	}
}

func (d *Document) invoke(node *html.Node, ev *Event, capture bool) {
	d.lmu.Lock()
	var fns []Listener
	for _, entry := range d.listeners {
		if entry.typ != ev.Type {
			continue
		}
		if entry.capture != capture {
			continue
		}
		if entry.node == nil {
			// document-level listener participates only at the
			// document endpoints of the path
			if node != d.root {
				continue
			}
		} else if entry.node != node {
			continue
		}
		fns = append(fns, entry.fn)
	}
	d.lmu.Unlock()

	for _, fn := range fns {
		if ev.stopped {
			return
		}
		fn(ev)
	}
}
