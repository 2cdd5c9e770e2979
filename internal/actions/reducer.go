package actions

import (
	"fmt"
	"time"
)

// DefaultClickDelta is the widest mousedown→mouseup gap that still
// counts as a click during compression. Wider gaps indicate a drag or
// a cross-element release, so the pair is kept. The value is a
// recording heuristic carried over as-is, not a derived constant.
const DefaultClickDelta = 200 * time.Millisecond

// StopGesture is the key combination that ends a recording session:
// Ctrl plus a configurable modifier plus a configurable key.
type StopGesture struct {
	Modifier string
	Key      string
}

// Matches reports whether a staged keyboard action is the stop
// keystroke.
func (g StopGesture) Matches(a Action) bool {
	return a.ActionType == TypeKeyboard &&
		a.Key == g.Key &&
		a.Modifiers.Ctrl &&
		(g.Modifier == "" || a.Modifiers.Has(g.Modifier))
}

// Reduce compresses a staged event sequence into the minimal committed
// action list. It is a pure function over its input: the staged slice
// is never mutated, so the compression rules are testable without
// replaying DOM event streams.
//
// Rules, applied in staging order:
//
//   - mousedown/mouseup are pushed verbatim.
//   - click absorbs an immediately preceding matching down/up pair
//     when the pair hit the same target and the up-down gap is within
//     clickDelta; otherwise the pair was a drag and all three survive.
//   - dblclick absorbs two trailing clicks (browsers fire all three).
//   - contextmenu pops the trailing down/up the native right-click
//     fired, plus a mousedown two back when present.
//   - a keyup of a bare modifier is dropped when the previous committed
//     action is a keyup that already carried that modifier's flag: the
//     release already participated in a finished chord.
//   - an event carrying active modifiers absorbs the bare modifier
//     keydowns committed immediately before it.
//   - script actions pass through verbatim.
//
// An unknown action or event type aborts the whole reduction.
func Reduce(staged []Action, clickDelta time.Duration) ([]Action, error) {
	if clickDelta <= 0 {
		clickDelta = DefaultClickDelta
	}
	var out []Action
	for _, a := range staged {
		switch a.ActionType {
		case TypeMouse:
			var err error
			out, err = reduceMouse(out, a, clickDelta)
			if err != nil {
				return nil, err
			}
		case TypeKeyboard:
			var err error
			out, err = reduceKeyboard(out, a)
			if err != nil {
				return nil, err
			}
		case TypeScript:
			out = append(out, a)
		default:
			return nil, fmt.Errorf("%w: %q", ErrUnsupportedAction, a.ActionType)
		}
	}
	return out, nil
}

func reduceMouse(out []Action, a Action, clickDelta time.Duration) ([]Action, error) {
	switch a.EventType {
	case MouseDown, MouseUp:
		return append(out, a), nil

	case MouseClick:
		if n := len(out); n >= 2 {
			down, up := out[n-2], out[n-1]
			if down.isMouse(MouseDown) && up.isMouse(MouseUp) &&
				down.sameTarget(a) && up.sameTarget(a) &&
				withinDelta(down.Timestamp, up.Timestamp, clickDelta) {
				out = out[:n-2]
			}
		}
		return append(out, a), nil

	case MouseDblClick:
		if n := len(out); n >= 2 && out[n-1].isMouse(MouseClick) && out[n-2].isMouse(MouseClick) {
			out = out[:n-2]
		}
		return append(out, a), nil

	case MouseContextMenu:
		if n := len(out); n >= 1 &&
			(out[n-1].isMouse(MouseDown) || out[n-1].isMouse(MouseUp)) {
			out = out[:n-1]
		}
		if n := len(out); n >= 1 && out[n-1].isMouse(MouseDown) {
			out = out[:n-1]
		}
		return append(out, a), nil
	}
	return nil, fmt.Errorf("%w: mouse event %q", ErrUnsupportedAction, a.EventType)
}

func reduceKeyboard(out []Action, a Action) ([]Action, error) {
	switch a.EventType {
	case KeyDown, KeyUp:
	default:
		return nil, fmt.Errorf("%w: keyboard event %q", ErrUnsupportedAction, a.EventType)
	}

	// Trailing release of a modifier that already closed a chord:
	// the preceding keyup carried this modifier's flag, so this keyup
	// adds nothing.
	if a.EventType == KeyUp && IsModifierKey(a.Key) {
		if n := len(out); n >= 1 {
			prev := out[n-1]
			if prev.isKeyboard(KeyUp) && prev.Modifiers.Has(a.Key) {
				return out, nil
			}
		}
	}

	// A chorded event absorbs the bare modifier keydowns before it.
	if a.Modifiers.Any() {
		for len(out) > 0 {
			prev := out[len(out)-1]
			if prev.isKeyboard(KeyDown) && IsModifierKey(prev.Key) && a.Modifiers.Has(prev.Key) {
				out = out[:len(out)-1]
				continue
			}
			break
		}
	}
	return append(out, a), nil
}

func withinDelta(downTS, upTS int64, delta time.Duration) bool {
	gap := upTS - downTS
	if gap < 0 {
		gap = -gap
	}
	return time.Duration(gap)*time.Millisecond <= delta
}

// StripStopGesture removes the trailing stop keystroke from a
// committed list: the combination that ended the recording is not part
// of the recorded interaction.
func StripStopGesture(committed []Action, gesture StopGesture) []Action {
	for len(committed) > 0 {
		last := committed[len(committed)-1]
		if !gesture.Matches(last) {
			break
		}
		committed = committed[:len(committed)-1]
	}
	return committed
}
