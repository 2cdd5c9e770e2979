package executor

import (
	"context"
	"fmt"
	"time"

	"automator/internal/actions"
	"automator/internal/dom"
)

// DocumentDispatcher replays actions against an in-memory document
// model. It is the backend the tests and the recording preview use;
// live replay swaps in the browser-backed dispatcher.
type DocumentDispatcher struct {
	Doc  *dom.Document
	Opts dom.DeepQueryOptions
}

func (d *DocumentDispatcher) DispatchMouse(ctx context.Context, selector string, index int, a actions.Action) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	nodes, err := dom.DeepQuerySelectorAll(d.Doc, selector, d.Opts)
	if err != nil {
		return fmt.Errorf("resolving %q: %w", selector, err)
	}
	if index < 0 || index >= len(nodes) {
		return fmt.Errorf("selector %q has %d matches, want index %d", selector, len(nodes), index)
	}
	target := nodes[index]

	owner := dom.OwnerDocument(d.Doc, target)
	if owner == nil {
		owner = d.Doc
	}
	// clicking focuses, like a real pointer interaction would
	if a.EventType == actions.MouseClick || a.EventType == actions.MouseDown {
		owner.Focus(target)
	}
	owner.Dispatch(&dom.Event{
		Type:      dom.EventType(a.EventType),
		Target:    target,
		ShiftKey:  a.Modifiers.Shift,
		CtrlKey:   a.Modifiers.Ctrl,
		AltKey:    a.Modifiers.Alt,
		MetaKey:   a.Modifiers.Meta,
		PageX:     a.Coordinates.PageX,
		PageY:     a.Coordinates.PageY,
		ClientX:   a.Coordinates.ClientX,
		ClientY:   a.Coordinates.ClientY,
		Timestamp: time.Now().UnixMilli(),
	})
	return nil
}

// DispatchKey delivers the key event to the document's active element,
// falling back to the body when nothing holds focus.
func (d *DocumentDispatcher) DispatchKey(ctx context.Context, a actions.Action) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	target := d.Doc.ActiveElement()
	if target == nil {
		target = d.Doc.Body()
	}
	if target == nil {
		return fmt.Errorf("no active element to receive key %q", a.Key)
	}
	d.Doc.Dispatch(&dom.Event{
		Type:      dom.EventType(a.EventType),
		Target:    target,
		Key:       a.Key,
		ShiftKey:  a.Modifiers.Shift,
		CtrlKey:   a.Modifiers.Ctrl,
		AltKey:    a.Modifiers.Alt,
		MetaKey:   a.Modifiers.Meta,
		Timestamp: time.Now().UnixMilli(),
	})
	return nil
}
