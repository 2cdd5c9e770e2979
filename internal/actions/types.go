package actions

import (
	"errors"
	"fmt"
)

// ErrUnsupportedAction marks an action or event type the commit and
// execution paths do not know. It is a schema mismatch, never silently
// skipped.
var ErrUnsupportedAction = errors.New("unsupported action type")

// Type tags the action union.
type Type string

const (
	TypeMouse    Type = "mouse"
	TypeKeyboard Type = "keyboard"
	TypeScript   Type = "script"
)

// Mouse event types an action may carry.
const (
	MouseClick       = "click"
	MouseDblClick    = "dblclick"
	MouseContextMenu = "contextmenu"
	MouseDown        = "mousedown"
	MouseUp          = "mouseup"
)

// Keyboard event types an action may carry.
const (
	KeyDown = "keydown"
	KeyUp   = "keyup"
)

// ModifierKeys is the modifier state captured with an event.
type ModifierKeys struct {
	Shift bool `json:"shift"`
	Ctrl  bool `json:"ctrl"`
	Alt   bool `json:"alt"`
	Meta  bool `json:"meta"`
}

// Any reports whether at least one modifier flag is set.
func (m ModifierKeys) Any() bool {
	return m.Shift || m.Ctrl || m.Alt || m.Meta
}

// Modifier key values as they appear in the DOM `key` field.
const (
	ModAlt     = "Alt"
	ModControl = "Control"
	ModMeta    = "Meta"
	ModShift   = "Shift"
)

// IsModifierKey reports whether key names a modifier key.
func IsModifierKey(key string) bool {
	switch key {
	case ModAlt, ModControl, ModMeta, ModShift:
		return true
	}
	return false
}

// Has reports whether the flag belonging to the named modifier key is
// set.
func (m ModifierKeys) Has(key string) bool {
	switch key {
	case ModAlt:
		return m.Alt
	case ModControl:
		return m.Ctrl
	case ModMeta:
		return m.Meta
	case ModShift:
		return m.Shift
	}
	return false
}

// Coordinates carries the pointer position of a mouse action, both
// page-relative and viewport-relative.
type Coordinates struct {
	PageX   float64 `json:"pageX"`
	PageY   float64 `json:"pageY"`
	ClientX float64 `json:"clientX"`
	ClientY float64 `json:"clientY"`
}

// Action is one semantic unit of recorded interaction, persisted as
// plain versionless JSON inside a record. The populated fields depend
// on ActionType; dispatch is a switch over the tag with an
// ErrUnsupportedAction default, so an unknown tag always surfaces.
type Action struct {
	ActionType Type   `json:"actionType"`
	FrameHref  string `json:"frameHref"`
	TabHref    string `json:"tabHref"`
	Timestamp  int64  `json:"timestamp"`

	// mouse and keyboard
	EventType   string       `json:"eventType,omitempty"`
	Modifiers   ModifierKeys `json:"modifierKeys"`
	Selector    string       `json:"selector,omitempty"`
	TextContent string       `json:"textContent,omitempty"`

	// mouse only
	Coordinates Coordinates `json:"coordinates"`
	// QueryIndex is the element's position among the selector's deep
	// matches at record time, the replay fallback when the selector
	// stops being unique.
	QueryIndex int `json:"queryIndex"`
	// reserved for shadow-piercing lookup, currently always empty
	ShadowAncestors []string `json:"shadowAncestors,omitempty"`

	// keyboard only
	Key string `json:"key,omitempty"`

	// script only
	Code         string `json:"code,omitempty"`
	CompiledCode string `json:"compiledCode,omitempty"`
	Name         string `json:"name,omitempty"`
}

func (a Action) isMouse(eventType string) bool {
	return a.ActionType == TypeMouse && a.EventType == eventType
}

func (a Action) isKeyboard(eventType string) bool {
	return a.ActionType == TypeKeyboard && a.EventType == eventType
}

// sameTarget reports whether two mouse actions addressed the same
// element, by selector plus text-content fallback.
func (a Action) sameTarget(b Action) bool {
	return a.Selector == b.Selector && a.TextContent == b.TextContent
}

// Validate checks the tag and per-tag event type.
func (a Action) Validate() error {
	switch a.ActionType {
	case TypeMouse:
		switch a.EventType {
		case MouseClick, MouseDblClick, MouseContextMenu, MouseDown, MouseUp:
			return nil
		}
		return fmt.Errorf("%w: mouse event %q", ErrUnsupportedAction, a.EventType)
	case TypeKeyboard:
		switch a.EventType {
		case KeyDown, KeyUp:
			return nil
		}
		return fmt.Errorf("%w: keyboard event %q", ErrUnsupportedAction, a.EventType)
	case TypeScript:
		return nil
	}
	return fmt.Errorf("%w: %q", ErrUnsupportedAction, a.ActionType)
}
