package dom

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatchCaptureThenBubble(t *testing.T) {
	doc := mustParse(t, "https://app.example.com/", `<html><body>
		<div id="outer"><button id="inner">x</button></div>
	</body></html>`)
	outer := mustQuery(t, doc, "#outer")
	inner := mustQuery(t, doc, "#inner")

	var order []string
	doc.AddListener(nil, EventClick, true, func(*Event) { order = append(order, "doc-capture") })
	doc.AddListener(outer, EventClick, true, func(*Event) { order = append(order, "outer-capture") })
	doc.AddListener(inner, EventClick, false, func(*Event) { order = append(order, "inner-bubble") })
	doc.AddListener(outer, EventClick, false, func(*Event) { order = append(order, "outer-bubble") })
	doc.AddListener(nil, EventClick, false, func(*Event) { order = append(order, "doc-bubble") })

	doc.Dispatch(&Event{Type: EventClick, Target: inner})

	assert.Equal(t, []string{
		"doc-capture", "outer-capture", "inner-bubble", "outer-bubble", "doc-bubble",
	}, order)
}

func TestDispatchStopPropagation(t *testing.T) {
	doc := mustParse(t, "https://app.example.com/", `<html><body>
		<div id="outer"><button id="inner">x</button></div>
	</body></html>`)
	outer := mustQuery(t, doc, "#outer")
	inner := mustQuery(t, doc, "#inner")

	var seen []string
	doc.AddListener(inner, EventClick, false, func(ev *Event) {
		seen = append(seen, "inner")
		ev.StopPropagation()
	})
	doc.AddListener(outer, EventClick, false, func(*Event) { seen = append(seen, "outer") })

	doc.Dispatch(&Event{Type: EventClick, Target: inner})
	assert.Equal(t, []string{"inner"}, seen)
}

func TestDispatchFiltersByType(t *testing.T) {
	doc := mustParse(t, "https://app.example.com/", `<html><body><button id="b">x</button></body></html>`)
	btn := mustQuery(t, doc, "#b")

	clicks, keys := 0, 0
	doc.AddListener(btn, EventClick, false, func(*Event) { clicks++ })
	doc.AddListener(btn, EventKeyDown, false, func(*Event) { keys++ })

	doc.Dispatch(&Event{Type: EventClick, Target: btn})
	doc.Dispatch(&Event{Type: EventClick, Target: btn})
	doc.Dispatch(&Event{Type: EventKeyDown, Target: btn, Key: "a"})

	assert.Equal(t, 2, clicks)
	assert.Equal(t, 1, keys)
}

func TestDocumentListenerFiresOncePerDispatch(t *testing.T) {
	doc := mustParse(t, "https://app.example.com/", `<html><body>
		<div><div><button id="deep">x</button></div></div>
	</body></html>`)
	deep := mustQuery(t, doc, "#deep")

	fired := 0
	doc.AddListener(nil, EventMouseOver, false, func(*Event) { fired++ })

	doc.Dispatch(&Event{Type: EventMouseOver, Target: deep})
	assert.Equal(t, 1, fired)
}

func TestRemoveListener(t *testing.T) {
	doc := mustParse(t, "https://app.example.com/", `<html><body><button id="b">x</button></body></html>`)
	btn := mustQuery(t, doc, "#b")

	fired := 0
	h := doc.AddListener(btn, EventClick, false, func(*Event) { fired++ })
	require.Equal(t, 1, doc.ListenerCount())

	doc.Dispatch(&Event{Type: EventClick, Target: btn})
	doc.RemoveListener(h)
	doc.Dispatch(&Event{Type: EventClick, Target: btn})

	assert.Equal(t, 1, fired)
	assert.Equal(t, 0, doc.ListenerCount())

	// removing twice is harmless
	doc.RemoveListener(h)
	assert.Equal(t, 0, doc.ListenerCount())
}

func TestDispatchNilEvent(t *testing.T) {
	doc := mustParse(t, "https://app.example.com/", `<html><body></body></html>`)
	assert.NotPanics(t, func() { doc.Dispatch(nil) })
}
